// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package tool is the AI-initiated action dispatcher. Every tool
// declares its argument contract, whether it terminates the call, whether
// it may run concurrently with agent speech, and its own timeout; the
// dispatcher enforces the at-most-one-non-concurrent-tool invariant and
// always returns a structured result so the provider's LLM can verbalize
// an outcome.
package tool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rapidaai/callengine/internal/ari"
	engineerrors "github.com/rapidaai/callengine/internal/errors"
	"github.com/rapidaai/callengine/pkg/commons"
)

// Invocation is the atomic record of one tool call.
type Invocation struct {
	ID     string
	Name   string
	Args   map[string]any
	Status Status
	Result any
	Err    error
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Handler implements one callable tool. Name must be unique within a
// Dispatcher. Concurrent tools may run alongside agent speech and other
// concurrent tools; at most one non-concurrent tool may run at a time.
type Handler interface {
	Name() string
	Concurrent() bool
	Terminal() bool
	Timeout() time.Duration
	Execute(ctx context.Context, args map[string]any) (result any, err error)
}

// RouteEventKind names the asynchronous, cross-channel events the
// coordinator forwards into the dispatcher on behalf of handlers like
// attended_transfer that originate a second channel and must react to
// events tagged with that channel's id rather than the call's own.
type RouteEventKind string

const (
	RouteEventDTMF             RouteEventKind = "dtmf"
	RouteEventChannelAnswered  RouteEventKind = "channel_answered"
	RouteEventChannelDestroyed RouteEventKind = "channel_destroyed"
)

// EventRoutable is implemented by handlers that need out-of-band event
// delivery while a synchronous Execute call is in flight. RouteEvent
// fans every routed event out to every registered handler implementing
// this interface; a handler decides for itself whether channelID is one
// it is tracking.
type EventRoutable interface {
	OnRoutedEvent(channelID string, kind RouteEventKind, payload string)
}

// Dispatcher owns the tool handlers available to one call and enforces
// the at-most-one-non-concurrent-tool invariant.
type Dispatcher struct {
	handlers  map[string]Handler
	allowlist map[string]bool
	logger    commons.Logger

	mu      sync.Mutex
	running *Invocation // the single non-concurrent tool in flight, if any
}

// NewDispatcher builds a Dispatcher restricted to allowlist (the context's
// tool_allowlist). A nil/empty
// allowlist permits every registered handler.
func NewDispatcher(handlers []Handler, allowlist []string, logger commons.Logger) *Dispatcher {
	d := &Dispatcher{handlers: make(map[string]Handler, len(handlers)), logger: logger}
	for _, h := range handlers {
		d.handlers[h.Name()] = h
	}
	if len(allowlist) > 0 {
		d.allowlist = make(map[string]bool, len(allowlist))
		for _, name := range allowlist {
			d.allowlist[name] = true
		}
	}
	return d
}

func (d *Dispatcher) allowed(name string) bool {
	if d.allowlist == nil {
		return true
	}
	return d.allowlist[name]
}

// Dispatch executes the named tool synchronously up to its declared
// timeout and returns a structured Invocation — the dispatcher never
// returns a bare error to the caller; a failure is reported as a failed
// Invocation so the provider can submit_tool_result and let the LLM
// verbalize it.
func (d *Dispatcher) Dispatch(ctx context.Context, id, name string, args map[string]any) *Invocation {
	inv := &Invocation{ID: id, Name: name, Args: args, Status: StatusPending}

	h, ok := d.handlers[name]
	if !ok || !d.allowed(name) {
		inv.Status = StatusFailed
		inv.Err = engineerrors.Tool(engineerrors.ToolInvalidArgs, fmt.Sprintf("tool %q is not available in this context", name), nil)
		return inv
	}

	if !h.Concurrent() {
		d.mu.Lock()
		if d.running != nil {
			d.mu.Unlock()
			inv.Status = StatusFailed
			inv.Err = engineerrors.Tool(engineerrors.ToolInvalidArgs, fmt.Sprintf("tool %q already running: %s", d.running.Name, d.running.ID), nil)
			return inv
		}
		inv.Status = StatusRunning
		d.running = inv
		d.mu.Unlock()
		defer func() {
			d.mu.Lock()
			if d.running == inv {
				d.running = nil
			}
			d.mu.Unlock()
		}()
	} else {
		inv.Status = StatusRunning
	}

	timeout := h.Timeout()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := h.Execute(runCtx, args)
	if err != nil {
		inv.Status = StatusFailed
		if runCtx.Err() != nil {
			inv.Err = engineerrors.Tool(engineerrors.ToolTimeout, fmt.Sprintf("tool %q exceeded %s", name, timeout), err)
		} else {
			inv.Err = err
		}
		d.logger.Warnw("tool: execution failed", "tool", name, "id", id, "error", inv.Err)
		return inv
	}

	inv.Status = StatusSucceeded
	inv.Result = result
	return inv
}

// Terminal reports whether the named tool ends the engine's ownership of
// the call when it succeeds. Unknown names report false.
func (d *Dispatcher) Terminal(name string) bool {
	h, ok := d.handlers[name]
	return ok && h.Terminal()
}

// IsRunning reports whether a non-concurrent tool currently occupies the
// dispatcher's single slot.
func (d *Dispatcher) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running != nil
}

// RouteEvent forwards an asynchronous ARI event tagged with channelID to
// every registered handler implementing EventRoutable. Used by the
// coordinator to deliver destination-channel answer/DTMF/destroy events to
// a blocked attended_transfer Execute call.
func (d *Dispatcher) RouteEvent(channelID string, kind RouteEventKind, payload string) {
	for _, h := range d.handlers {
		if r, ok := h.(EventRoutable); ok {
			r.OnRoutedEvent(channelID, kind, payload)
		}
	}
}

// ariErrorToToolError classifies an ARI command failure into the
// ToolError sub-kinds transfer/hangup/voicemail handlers report.
func ariErrorToToolError(verb string, err error) error {
	switch ari.ErrorKind(err) {
	case "NotFound":
		return engineerrors.Tool(engineerrors.ToolDestinationNotFound, verb, err)
	case "StateConflict", "Transport":
		return engineerrors.Tool(engineerrors.ToolDestinationUnreachable, verb, err)
	default:
		return engineerrors.Tool(engineerrors.ToolDestinationUnreachable, verb, err)
	}
}
