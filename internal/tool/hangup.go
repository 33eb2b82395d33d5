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
)

// Speaker is the narrow hook tool handlers use to play a short phrase to
// the caller before acting, satisfied by the call coordinator's greeting/
// fallback-phrase playback path (file playback or direct TTS, depending on
// the active pipeline).
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// HangupHandler implements the `hangup_call` tool: play an optional
// farewell, then hang up after farewell_hangup_delay_sec. On barge-in
// during the farewell the coordinator cuts the phrase itself; this
// handler only drives the delay and the terminal ARI verb.
type HangupHandler struct {
	ARI             *ari.Client
	ChannelID       string
	Speaker         Speaker // nil disables farewell playback
	DefaultDelay    time.Duration
	TimeoutDuration time.Duration
}

func (h *HangupHandler) Name() string     { return "hangup_call" }
func (h *HangupHandler) Concurrent() bool { return false }
func (h *HangupHandler) Terminal() bool   { return true }
func (h *HangupHandler) Timeout() time.Duration {
	if h.TimeoutDuration <= 0 {
		return 30 * time.Second
	}
	return h.TimeoutDuration
}

func (h *HangupHandler) Execute(ctx context.Context, args map[string]any) (any, error) {
	farewell, _ := args["farewell_message"].(string)
	if farewell != "" && h.Speaker != nil {
		if err := h.Speaker.Speak(ctx, farewell); err != nil {
			return nil, err
		}
	}

	delay := h.DefaultDelay
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err := h.ARI.Hangup(ctx, h.ChannelID); err != nil {
		return nil, ariErrorToToolError("hangup_call", err)
	}
	return map[string]any{"hung_up": true}, nil
}
