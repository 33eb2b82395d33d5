// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package tool

import (
	"context"
	"time"

	engineerrors "github.com/rapidaai/callengine/internal/errors"
)

// CancelTransferHandler implements the `cancel_transfer` tool: the
// caller changed their mind mid-BRIEFING and the LLM asks to abort the
// attended transfer that is currently blocking the dispatcher's single
// non-concurrent slot. It is itself declared Concurrent so the LLM can
// invoke it while attended_transfer still occupies that slot.
type CancelTransferHandler struct {
	Attended        *AttendedTransferHandler
	TimeoutDuration time.Duration
}

func (h *CancelTransferHandler) Name() string     { return "cancel_transfer" }
func (h *CancelTransferHandler) Concurrent() bool { return true }
func (h *CancelTransferHandler) Terminal() bool   { return false }
func (h *CancelTransferHandler) Timeout() time.Duration {
	if h.TimeoutDuration <= 0 {
		return 5 * time.Second
	}
	return h.TimeoutDuration
}

func (h *CancelTransferHandler) Execute(ctx context.Context, args map[string]any) (any, error) {
	if h.Attended == nil || !h.Attended.CancelInFlight() {
		return nil, engineerrors.Tool(engineerrors.ToolInvalidArgs, "cancel_transfer: no attended transfer is in flight", nil)
	}
	return map[string]any{"cancelled": true}, nil
}
