// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package session

import "github.com/rapidaai/callengine/pkg/commons"

// emitSummary logs the teardown Summary as a single structured event,
// its only destination.
func emitSummary(logger commons.Logger, s Summary) {
	logger.Infow("call summary",
		"channel_id", s.ChannelID,
		"caller_name", s.CallerName,
		"caller_number", s.CallerNumber,
		"context", s.Context,
		"provider", s.Provider,
		"started_at", s.StartedAt,
		"ended_at", s.EndedAt,
		"duration_seconds", s.EndedAt.Sub(s.StartedAt).Seconds(),
		"turn_count", s.TurnCount,
		"tool_invocations", s.ToolInvocations,
		"terminal_reason", s.TerminalReason,
	)
}
