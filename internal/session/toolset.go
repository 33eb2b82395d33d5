// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	engineerrors "github.com/rapidaai/callengine/internal/errors"
	"github.com/rapidaai/callengine/internal/provider/llmclient"
	"github.com/rapidaai/callengine/internal/tool"
)

// buildDispatcher assembles the tool handlers this call may invoke:
// every tool enabled in config, further narrowed by the resolved
// context's allowlist inside the Dispatcher itself.
func (c *Coordinator) buildDispatcher() {
	t := c.doc.Tools
	toolTimeout := msdur(c.doc.LLM.ToolTimeoutMs)
	var handlers []tool.Handler

	if t.Transfer.Enabled {
		handlers = append(handlers, &tool.TransferHandler{
			ARI:              c.deps.ARI,
			ChannelID:        c.channelID,
			Destinations:     t.Transfer.Destinations,
			ExtensionContext: t.Transfer.ExtensionContext,
			GroupContext:     t.Transfer.GroupContext,
			TimeoutDuration:  toolTimeout,
		})
	}
	if t.AttendedTransfer.Enabled {
		att := &tool.AttendedTransferHandler{
			ARI:            c.deps.ARI,
			ChannelID:      c.channelID,
			Destinations:   t.AttendedTransfer.Destinations,
			EndpointPrefix: t.AttendedTransfer.EndpointPrefix,
			DeclinedPrompt: t.AttendedTransfer.DeclinedPrompt,
			SpeakTo:        c.SpeakTo,
			DialTimeout:    secdur(t.AttendedTransfer.DialTimeoutSeconds),
			AcceptTimeout:  secdur(t.AttendedTransfer.AcceptTimeoutSeconds),
			OnOriginated:   c.registerSecondary,
			OnTornDown:     c.unregisterSecondary,
		}
		handlers = append(handlers, att, &tool.CancelTransferHandler{Attended: att})
	}
	if t.Hangup.Enabled {
		handlers = append(handlers, &tool.HangupHandler{
			ARI:          c.deps.ARI,
			ChannelID:    c.channelID,
			Speaker:      c,
			DefaultDelay: secdur(t.Hangup.FarewellHangupDelaySec),
		})
	}
	if t.Voicemail.Enabled {
		handlers = append(handlers, &tool.VoicemailHandler{
			ARI:       c.deps.ARI,
			ChannelID: c.channelID,
			Context:   t.Transfer.ExtensionContext,
			Extension: t.Voicemail.Extension,
		})
	}
	if t.EmailSummary.Enabled {
		handlers = append(handlers, &tool.EmailSummaryHandler{
			HTTP:        c.deps.HTTP,
			ServiceURL:  t.EmailSummary.ServiceURL,
			RecipientTo: t.EmailSummary.RecipientTo,
			Transcript:  c.transcriptEntries,
			Metadata:    c.callMetadata,
		})
	}
	if t.RequestTranscript.Enabled {
		handlers = append(handlers, &tool.RequestTranscriptHandler{
			ValidateMX:      t.RequestTranscript.ValidateMX,
			ConfirmRequired: t.RequestTranscript.ConfirmRequired,
			Speaker:         c,
			Send:            c.sendTranscriptEmail,
		})
	}

	c.dispatcher = tool.NewDispatcher(handlers, c.resolved.Context.ToolAllow, c.logger)
}

func secdur(s int) time.Duration { return time.Duration(s) * time.Second }

// sendTranscriptEmail posts the call transcript to the configured email
// service addressed to the caller-supplied address. Shares the
// send_email_summary service endpoint.
func (c *Coordinator) sendTranscriptEmail(ctx context.Context, email string) error {
	cfg := c.doc.Tools.EmailSummary
	if cfg.ServiceURL == "" {
		return engineerrors.Tool(engineerrors.ToolInvalidArgs, "no email service is configured", nil)
	}
	meta := c.callMetadata()
	resp, err := c.deps.HTTP.R().SetContext(ctx).
		SetBody(map[string]any{
			"to":            email,
			"channel_id":    meta.ChannelID,
			"caller_name":   meta.CallerName,
			"caller_number": meta.CallerNumber,
			"context":       meta.Context,
			"started_at":    meta.StartedAt,
			"transcript":    c.transcriptEntries(),
		}).
		Post(cfg.ServiceURL)
	if err != nil {
		return engineerrors.Tool(engineerrors.ToolTimeout, "email service unreachable", err)
	}
	if resp.IsError() {
		return engineerrors.Tool(engineerrors.ToolDestinationUnreachable, "email service rejected the request: "+resp.Status(), nil)
	}
	return nil
}

// llmToolSchemas converts the dispatcher's MCP-shaped declarations to the
// function-calling shape the LLM client submits.
func llmToolSchemas(tools []mcp.Tool) []llmclient.ToolSchema {
	out := make([]llmclient.ToolSchema, 0, len(tools))
	for _, t := range tools {
		params := map[string]any{"type": "object"}
		if raw, err := json.Marshal(t.InputSchema); err == nil {
			_ = json.Unmarshal(raw, &params)
		}
		out = append(out, llmclient.ToolSchema{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  params,
		})
	}
	return out
}
