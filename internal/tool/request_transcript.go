// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package tool

import (
	"context"
	"fmt"
	"net/mail"
	"net"
	"strings"
	"sync"
	"time"

	engineerrors "github.com/rapidaai/callengine/internal/errors"
)

// RequestTranscriptHandler implements the `request_transcript` tool
//: parse an email address the LLM extracted from the caller's
// speech, validate it, read it back for confirmation, and send the
// transcript — deduplicated so a chatty caller cannot trigger the email
// twice in one call.
//
// The tool is invoked twice per successful request: once with only
// `email` set, which reads the address back and asks for confirmation
// without sending anything; and once more with `confirmed: true`, which
// performs the send. This mirrors how a human agent would read an email
// back before acting on it, and keeps the handler's single Execute call
// non-blocking on caller speech (the confirmation itself arrives as an
// ordinary LLM turn, not as a suspended tool call).
type RequestTranscriptHandler struct {
	ValidateMX      bool
	ConfirmRequired bool
	Speaker         Speaker
	Send            func(ctx context.Context, email string) error
	TimeoutDuration time.Duration

	mu   sync.Mutex
	sent bool
}

func (h *RequestTranscriptHandler) Name() string     { return "request_transcript" }
func (h *RequestTranscriptHandler) Concurrent() bool { return false }
func (h *RequestTranscriptHandler) Terminal() bool   { return false }
func (h *RequestTranscriptHandler) Timeout() time.Duration {
	if h.TimeoutDuration <= 0 {
		return 15 * time.Second
	}
	return h.TimeoutDuration
}

func (h *RequestTranscriptHandler) Execute(ctx context.Context, args map[string]any) (any, error) {
	email, _ := args["email"].(string)
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, engineerrors.Tool(engineerrors.ToolInvalidArgs, "request_transcript requires an \"email\" argument", nil)
	}
	if err := validateEmail(email, h.ValidateMX); err != nil {
		return nil, err
	}

	confirmed, _ := args["confirmed"].(bool)
	if h.ConfirmRequired && !confirmed {
		if h.Speaker != nil {
			if err := h.Speaker.Speak(ctx, fmt.Sprintf("I have your email as %s, spelled out. Shall I send the transcript there?", email)); err != nil {
				return nil, err
			}
		}
		return map[string]any{"email": email, "awaiting_confirmation": true}, nil
	}

	h.mu.Lock()
	alreadySent := h.sent
	h.mu.Unlock()
	if alreadySent {
		return map[string]any{"email": email, "already_sent": true}, nil
	}

	if h.Send != nil {
		if err := h.Send(ctx, email); err != nil {
			return nil, engineerrors.Tool(engineerrors.ToolDestinationUnreachable, "request_transcript: send failed", err)
		}
	}
	h.mu.Lock()
	h.sent = true
	h.mu.Unlock()
	return map[string]any{"email": email, "sent": true}, nil
}

func validateEmail(email string, validateMX bool) error {
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return engineerrors.Tool(engineerrors.ToolInvalidArgs, fmt.Sprintf("%q is not a valid email address", email), err)
	}
	if !validateMX {
		return nil
	}
	at := strings.LastIndex(addr.Address, "@")
	if at < 0 {
		return engineerrors.Tool(engineerrors.ToolInvalidArgs, fmt.Sprintf("%q is not a valid email address", email), nil)
	}
	domain := addr.Address[at+1:]
	if _, err := net.LookupMX(domain); err != nil {
		return engineerrors.Tool(engineerrors.ToolInvalidArgs, fmt.Sprintf("domain %q does not accept mail", domain), err)
	}
	return nil
}
