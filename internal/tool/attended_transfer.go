// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package tool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rapidaai/callengine/internal/ari"
	engineerrors "github.com/rapidaai/callengine/internal/errors"

	"github.com/rapidaai/callengine/internal/config"
)

// attendedStage names the sub-states of an in-flight attended transfer
//: BRIEFING (caller on MOH, destination dialing) -> DEST_ANSWERED
// (destination picked up, briefing the human) -> AWAITING_DTMF (destination
// deciding) -> BRIDGED | DECLINED.
type attendedStage string

const (
	stageBriefing     attendedStage = "briefing"
	stageDestAnswered attendedStage = "dest_answered"
	stageAwaitingDTMF attendedStage = "awaiting_dtmf"
	stageBridged      attendedStage = "bridged"
	stageDeclined     attendedStage = "declined"
)

// AttendedTransferHandler implements the `attended_transfer` tool: it
// originates a second channel to a human destination, plays a briefing
// prompt once the destination answers, waits for a DTMF accept/decline
// digit, and either bridges the caller into the destination channel or
// returns the caller to the agent. Unlike the cold `transfer` tool this
// handler is long-running and exposes CancelInFlight so the sibling
// `cancel_transfer` tool can abort it mid-dial.
//
// ARI delivers the destination channel's answer and DTMF as asynchronous
// events tagged with the destination's own channel id, not the caller's —
// the handler registers itself with the dispatcher (RouteEvent) so the
// coordinator's single event-routing path can wake a blocked Execute call
// without bespoke per-tool plumbing.
type AttendedTransferHandler struct {
	ARI             *ari.Client
	ChannelID       string // the caller's channel
	Destinations    map[string]config.Destination
	EndpointPrefix  string
	DeclinedPrompt  string
	// SpeakTo plays a synthesized phrase on an arbitrary channel: the
	// briefing goes to the destination channel (the caller is on MOH),
	// the declined prompt back to the caller. Optional.
	SpeakTo         func(ctx context.Context, channelID, text string) error
	DialTimeout     time.Duration
	AcceptTimeout   time.Duration
	TimeoutDuration time.Duration

	// OnOriginated/OnTornDown let the coordinator track the destination
	// channel id for cross-channel ARI event routing (RouteEvent) without
	// this package depending on the coordinator. Both are optional.
	OnOriginated func(channelID string)
	OnTornDown   func(channelID string)

	mu          sync.Mutex
	stage       attendedStage
	destChannel string
	bridgeID    string
	digitCh     chan string
	answeredCh  chan struct{}
	destroyedCh chan struct{}
	cancel      context.CancelFunc
}

func (h *AttendedTransferHandler) Name() string     { return "attended_transfer" }
func (h *AttendedTransferHandler) Concurrent() bool { return false }
func (h *AttendedTransferHandler) Terminal() bool   { return false } // only DECLINED/failure returns to the agent; BRIDGED hands the call off
func (h *AttendedTransferHandler) Timeout() time.Duration {
	if h.TimeoutDuration <= 0 {
		return 90 * time.Second
	}
	return h.TimeoutDuration
}

func (h *AttendedTransferHandler) dialTimeout() time.Duration {
	if h.DialTimeout <= 0 {
		return 20 * time.Second
	}
	return h.DialTimeout
}

func (h *AttendedTransferHandler) acceptTimeout() time.Duration {
	if h.AcceptTimeout <= 0 {
		return 15 * time.Second
	}
	return h.AcceptTimeout
}

func (h *AttendedTransferHandler) Execute(ctx context.Context, args map[string]any) (any, error) {
	name, _ := args["destination"].(string)
	if name == "" {
		return nil, engineerrors.Tool(engineerrors.ToolInvalidArgs, "attended_transfer requires a \"destination\" argument", nil)
	}
	dest, err := lookupDestination(h.Destinations, name)
	if err != nil {
		return nil, err
	}
	if !dest.AttendedAllowed {
		return nil, engineerrors.Tool(engineerrors.ToolInvalidArgs, fmt.Sprintf("destination %q does not allow attended transfer", name), nil)
	}

	runCtx, cancel := context.WithCancel(ctx)
	h.mu.Lock()
	h.stage = stageBriefing
	h.digitCh = make(chan string, 4)
	h.answeredCh = make(chan struct{}, 1)
	h.destroyedCh = make(chan struct{}, 1)
	h.cancel = cancel
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		h.cancel = nil
		h.mu.Unlock()
		cancel()
	}()

	if err := h.ARI.StartMusicOnHold(runCtx, h.ChannelID); err != nil {
		return nil, ariErrorToToolError("attended_transfer: moh", err)
	}
	defer h.ARI.StopMusicOnHold(context.Background(), h.ChannelID)

	endpoint := fmt.Sprintf("%s/%s", h.EndpointPrefix, dest.Target)
	destChannel, err := h.ARI.OriginateChannel(runCtx, endpoint, map[string]string{
		"AI_ATTENDED_TRANSFER_SOURCE": h.ChannelID,
	})
	if err != nil {
		return nil, ariErrorToToolError("attended_transfer: originate", err)
	}
	h.mu.Lock()
	h.destChannel = destChannel
	h.mu.Unlock()
	if h.OnOriginated != nil {
		h.OnOriginated(destChannel)
	}
	defer h.teardownDest(dest.Target)

	if declined, err := h.awaitAnswer(runCtx); err != nil || declined {
		if err != nil {
			return nil, err
		}
		return h.declineResult(runCtx, name, "no_answer")
	}

	h.setStage(stageDestAnswered)
	if h.SpeakTo != nil {
		if err := h.SpeakTo(runCtx, destChannel, fmt.Sprintf("Transfer request: connecting you with a caller regarding %q. Press 1 to accept, 2 to decline.", name)); err != nil {
			return nil, err
		}
	}

	h.setStage(stageAwaitingDTMF)
	digit, err := h.awaitDigit(runCtx)
	if err != nil {
		return nil, err
	}

	switch digit {
	case "1":
		return h.bridgeResult(runCtx, name)
	default:
		// Any digit other than the accept digit, or a timeout surfacing as
		// "", is treated as a decline.
		return h.declineResult(runCtx, name, "declined")
	}
}

func (h *AttendedTransferHandler) awaitAnswer(ctx context.Context) (declined bool, err error) {
	timer := time.NewTimer(h.dialTimeout())
	defer timer.Stop()
	select {
	case <-h.answeredCh:
		return false, nil
	case <-h.destroyedCh:
		return true, nil
	case <-timer.C:
		return true, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (h *AttendedTransferHandler) awaitDigit(ctx context.Context) (string, error) {
	timer := time.NewTimer(h.acceptTimeout())
	defer timer.Stop()
	select {
	case d := <-h.digitCh:
		return d, nil
	case <-h.destroyedCh:
		return "", nil
	case <-timer.C:
		return "", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (h *AttendedTransferHandler) bridgeResult(ctx context.Context, name string) (any, error) {
	h.mu.Lock()
	destChannel := h.destChannel
	h.mu.Unlock()

	bridgeID, err := h.ARI.CreateBridge(ctx, "mixing")
	if err != nil {
		return nil, ariErrorToToolError("attended_transfer: create_bridge", err)
	}
	h.mu.Lock()
	h.bridgeID = bridgeID
	h.mu.Unlock()

	if err := h.ARI.StopMusicOnHold(ctx, h.ChannelID); err != nil {
		return nil, ariErrorToToolError("attended_transfer: stop_moh", err)
	}
	if err := h.ARI.AddToBridge(ctx, bridgeID, h.ChannelID); err != nil {
		return nil, ariErrorToToolError("attended_transfer: add_caller", err)
	}
	if err := h.ARI.AddToBridge(ctx, bridgeID, destChannel); err != nil {
		return nil, ariErrorToToolError("attended_transfer: add_dest", err)
	}

	h.setStage(stageBridged)
	// bridged=true signals the coordinator to relinquish ownership of the
	// caller channel.
	return map[string]any{"destination": name, "bridged": true}, nil
}

func (h *AttendedTransferHandler) declineResult(ctx context.Context, name, reason string) (any, error) {
	h.setStage(stageDeclined)
	if err := h.ARI.StopMusicOnHold(ctx, h.ChannelID); err != nil {
		return nil, ariErrorToToolError("attended_transfer: stop_moh", err)
	}
	if h.SpeakTo != nil && h.DeclinedPrompt != "" {
		if err := h.SpeakTo(ctx, h.ChannelID, h.DeclinedPrompt); err != nil {
			return nil, err
		}
	}
	return map[string]any{"destination": name, "bridged": false, "reason": reason}, nil
}

func (h *AttendedTransferHandler) teardownDest(_ string) {
	h.mu.Lock()
	destChannel := h.destChannel
	bridged := h.stage == stageBridged
	h.mu.Unlock()
	if destChannel == "" {
		return
	}
	if h.OnTornDown != nil {
		h.OnTornDown(destChannel)
	}
	if bridged {
		return
	}
	h.ARI.Hangup(context.Background(), destChannel)
}

func (h *AttendedTransferHandler) setStage(s attendedStage) {
	h.mu.Lock()
	h.stage = s
	h.mu.Unlock()
}

// CancelInFlight aborts a running attended transfer, invoked by the
// `cancel_transfer` tool. Returns false if no transfer is running.
func (h *AttendedTransferHandler) CancelInFlight() bool {
	h.mu.Lock()
	cancel := h.cancel
	h.mu.Unlock()
	if cancel == nil {
		return false
	}
	cancel()
	return true
}

// OnRoutedEvent implements EventRoutable: the coordinator forwards ARI
// events for channelID to every registered handler, and this handler only
// reacts to events tagged with the destination channel it originated.
func (h *AttendedTransferHandler) OnRoutedEvent(channelID string, kind RouteEventKind, payload string) {
	h.mu.Lock()
	destChannel := h.destChannel
	answeredCh := h.answeredCh
	destroyedCh := h.destroyedCh
	digitCh := h.digitCh
	h.mu.Unlock()
	if destChannel == "" || channelID != destChannel {
		return
	}

	switch kind {
	case RouteEventChannelAnswered:
		select {
		case answeredCh <- struct{}{}:
		default:
		}
	case RouteEventChannelDestroyed:
		select {
		case destroyedCh <- struct{}{}:
		default:
		}
	case RouteEventDTMF:
		select {
		case digitCh <- payload:
		default:
		}
	}
}
