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

	"github.com/rapidaai/callengine/internal/ari"
	"github.com/rapidaai/callengine/internal/config"
	engineerrors "github.com/rapidaai/callengine/internal/errors"
)

// TransferHandler implements the `transfer` tool: a cold transfer
// that routes the caller straight to a named destination. Extensions are
// redirected in the dialplan; queues and ring groups continue into the
// configured ring-group dialplan context.
type TransferHandler struct {
	ARI              *ari.Client
	ChannelID        string
	Destinations     map[string]config.Destination
	ExtensionContext string // dialplan context Redirect targets for kind=extension
	GroupContext     string // dialplan context ContinueInDialplan targets for kind=queue|ring_group
	TimeoutDuration  time.Duration
}

func (h *TransferHandler) Name() string         { return "transfer" }
func (h *TransferHandler) Concurrent() bool     { return false }
func (h *TransferHandler) Terminal() bool       { return true }
func (h *TransferHandler) Timeout() time.Duration {
	if h.TimeoutDuration <= 0 {
		return 10 * time.Second
	}
	return h.TimeoutDuration
}

func (h *TransferHandler) Execute(ctx context.Context, args map[string]any) (any, error) {
	name, _ := args["destination"].(string)
	if name == "" {
		return nil, engineerrors.Tool(engineerrors.ToolInvalidArgs, "transfer requires a \"destination\" argument", nil)
	}
	dest, err := lookupDestination(h.Destinations, name)
	if err != nil {
		return nil, err
	}

	switch dest.Kind {
	case "extension":
		if err := h.ARI.Redirect(ctx, h.ChannelID, h.ExtensionContext, dest.Target, 1); err != nil {
			return nil, ariErrorToToolError("transfer: redirect", err)
		}
	case "queue", "ring_group":
		if err := h.ARI.ContinueInDialplan(ctx, h.ChannelID, h.GroupContext, dest.Target, 1); err != nil {
			return nil, ariErrorToToolError("transfer: continue_in_dialplan", err)
		}
	default:
		return nil, engineerrors.Tool(engineerrors.ToolInvalidArgs, fmt.Sprintf("destination %q has unsupported kind %q", name, dest.Kind), nil)
	}

	return map[string]any{"destination": name, "kind": dest.Kind}, nil
}
