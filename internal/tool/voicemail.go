// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package tool

import (
	"context"
	"time"

	"github.com/rapidaai/callengine/internal/ari"
	engineerrors "github.com/rapidaai/callengine/internal/errors"
)

// VoicemailHandler implements the `leave_voicemail` tool: redirect
// the caller into the configured voicemail extension.
type VoicemailHandler struct {
	ARI             *ari.Client
	ChannelID       string
	Context         string // dialplan context the voicemail extension lives in
	Extension       string
	TimeoutDuration time.Duration
}

func (h *VoicemailHandler) Name() string     { return "leave_voicemail" }
func (h *VoicemailHandler) Concurrent() bool { return false }
func (h *VoicemailHandler) Terminal() bool   { return true }
func (h *VoicemailHandler) Timeout() time.Duration {
	if h.TimeoutDuration <= 0 {
		return 10 * time.Second
	}
	return h.TimeoutDuration
}

func (h *VoicemailHandler) Execute(ctx context.Context, args map[string]any) (any, error) {
	if h.Extension == "" {
		return nil, engineerrors.Tool(engineerrors.ToolInvalidArgs, "leave_voicemail is not configured with an extension", nil)
	}
	if err := h.ARI.ContinueInDialplan(ctx, h.ChannelID, h.Context, h.Extension, 1); err != nil {
		return nil, ariErrorToToolError("leave_voicemail", err)
	}
	return map[string]any{"extension": h.Extension}, nil
}
