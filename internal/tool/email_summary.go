// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package tool

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	engineerrors "github.com/rapidaai/callengine/internal/errors"
)

// TranscriptEntry is one line of the call transcript attached to an email
// summary, grounded on the Call Session "transcript log" field.
type TranscriptEntry struct {
	Speaker string // "caller" | "agent"
	Text    string
}

// CallMetadata is the subset of Call Session state an email summary
// reports alongside the transcript.
type CallMetadata struct {
	ChannelID    string
	CallerName   string
	CallerNumber string
	Context      string
	StartedAt    time.Time
	EndedAt      time.Time
}

// EmailSummaryHandler implements the `send_email_summary` tool: an
// opaque HTTP POST to the configured outbound email service — the service
// itself is out of scope.
type EmailSummaryHandler struct {
	HTTP            *resty.Client
	ServiceURL      string
	RecipientTo     string
	Transcript      func() []TranscriptEntry
	Metadata        func() CallMetadata
	TimeoutDuration time.Duration
}

func (h *EmailSummaryHandler) Name() string     { return "send_email_summary" }
func (h *EmailSummaryHandler) Concurrent() bool { return true } // post-call bookkeeping, never blocks agent speech
func (h *EmailSummaryHandler) Terminal() bool   { return false }
func (h *EmailSummaryHandler) Timeout() time.Duration {
	if h.TimeoutDuration <= 0 {
		return 10 * time.Second
	}
	return h.TimeoutDuration
}

func (h *EmailSummaryHandler) Execute(ctx context.Context, args map[string]any) (any, error) {
	if h.ServiceURL == "" || h.RecipientTo == "" {
		return nil, engineerrors.Tool(engineerrors.ToolInvalidArgs, "send_email_summary is not configured with a service_url/recipient_to", nil)
	}

	meta := h.Metadata()
	body := map[string]any{
		"to":            h.RecipientTo,
		"channel_id":    meta.ChannelID,
		"caller_name":   meta.CallerName,
		"caller_number": meta.CallerNumber,
		"context":       meta.Context,
		"started_at":    meta.StartedAt,
		"ended_at":      meta.EndedAt,
		"transcript":    h.Transcript(),
	}

	resp, err := h.HTTP.R().SetContext(ctx).SetBody(body).Post(h.ServiceURL)
	if err != nil {
		return nil, engineerrors.Tool(engineerrors.ToolDestinationUnreachable, "send_email_summary: transport failure", err)
	}
	if resp.StatusCode() >= 300 {
		return nil, engineerrors.Tool(engineerrors.ToolDestinationUnreachable, fmt.Sprintf("send_email_summary: service returned %d", resp.StatusCode()), nil)
	}
	return map[string]any{"sent": true}, nil
}
