// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package session

import (
	"context"
	"sync"
	"time"

	"github.com/rapidaai/callengine/internal/ari"
	"github.com/rapidaai/callengine/internal/config"
)

// Engine consumes the global ARI event stream, spawns one Coordinator per
// arriving call, and routes every subsequent event to its owner. It is
// the only place new calls are born.
type Engine struct {
	snapshot *config.Snapshot
	deps     Deps
	registry *Registry

	wg sync.WaitGroup
}

func NewEngine(snapshot *config.Snapshot, deps Deps) *Engine {
	if deps.Registry == nil {
		deps.Registry = NewRegistry()
	}
	return &Engine{snapshot: snapshot, deps: deps, registry: deps.Registry}
}

// Registry exposes the channel-id routing table, shared with the
// AudioSocket listener (as its Binder) and the admin API.
func (e *Engine) Registry() *Registry { return e.registry }

// ActiveCalls reports the number of live call sessions.
func (e *Engine) ActiveCalls() int { return e.registry.Count() }

// HangupCall forces teardown of the identified call.
func (e *Engine) HangupCall(channelID string) bool {
	c, ok := e.registry.Lookup(channelID)
	if !ok {
		return false
	}
	c.RequestHangup()
	return true
}

// Run consumes events until ctx is cancelled, then waits for in-flight
// calls to finish tearing down.
func (e *Engine) Run(ctx context.Context, events <-chan ari.Event) {
	for {
		select {
		case <-ctx.Done():
			e.wg.Wait()
			return
		case ev, ok := <-events:
			if !ok {
				e.wg.Wait()
				return
			}
			e.handleEvent(ctx, ev)
		}
	}
}

func (e *Engine) handleEvent(ctx context.Context, ev ari.Event) {
	channelID := ev.ChannelID()
	if channelID == "" {
		return
	}
	if _, known := e.registry.Lookup(channelID); known {
		e.registry.RouteARIEvent(ev)
		return
	}
	if ev.Type != ari.EventStasisStart {
		return
	}
	if e.isEngineOriginated(ctx, channelID) {
		// A channel we originated (media leg or transfer destination)
		// entered the application before its originate response was
		// registered; re-deliver once the registration has landed.
		go e.redeliverWhenRegistered(ev)
		return
	}
	e.startCall(ctx, ev)
}

// isEngineOriginated distinguishes channels this engine dialed (media
// legs, attended-transfer destinations) from genuine caller arrivals, by
// the variables stamped on every origination.
func (e *Engine) isEngineOriginated(ctx context.Context, channelID string) bool {
	for _, name := range []string{"CALLENGINE_ROLE", "AI_ATTENDED_TRANSFER_SOURCE"} {
		if v, err := e.deps.ARI.GetChannelVar(ctx, channelID, name); err == nil && v != "" {
			return true
		}
	}
	return false
}

func (e *Engine) redeliverWhenRegistered(ev ari.Event) {
	channelID := ev.ChannelID()
	for i := 0; i < 20; i++ {
		if _, ok := e.registry.Lookup(channelID); ok {
			e.registry.RouteARIEvent(ev)
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	e.deps.Logger.Warnw("engine-originated channel never registered", "channel_id", channelID)
}

func (e *Engine) startCall(ctx context.Context, ev ari.Event) {
	channelID := ev.ChannelID()
	doc := e.snapshot.Current() // pinned for the call's whole life

	vars := InitialVars{}
	if ev.Channel != nil {
		vars.CallerName = ev.Channel.Caller.Name
		vars.CallerNumber = ev.Channel.Caller.Number
	}
	vars.Provider = e.channelVar(ctx, channelID, "AI_PROVIDER")
	vars.Context = e.channelVar(ctx, channelID, "AI_CONTEXT")
	vars.AudioProfile = e.channelVar(ctx, channelID, "AI_AUDIO_PROFILE")
	vars.Greeting = e.channelVar(ctx, channelID, "AI_GREETING")
	vars.Persona = e.channelVar(ctx, channelID, "AI_PERSONA")

	c := NewCoordinator(channelID, vars, doc, e.deps)
	e.registry.Add(channelID, c)
	e.deps.Metrics.ActiveCalls.Add(ctx, 1)
	e.deps.Logger.Infow("call arrived",
		"channel_id", channelID,
		"caller_number", vars.CallerNumber,
		"context", vars.Context,
		"provider", vars.Provider,
	)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.registry.Remove(channelID)
		defer e.deps.Metrics.ActiveCalls.Add(context.Background(), -1)
		if err := c.HandleCall(ctx); err != nil {
			e.deps.Logger.Warnw("call ended with error", "channel_id", channelID, "error", err)
		}
	}()
}

// channelVar reads one channel variable, treating an unset variable (an
// ARI 404) the same as empty so resolution falls through to config.
func (e *Engine) channelVar(ctx context.Context, channelID, name string) string {
	v, err := e.deps.ARI.GetChannelVar(ctx, channelID, name)
	if err != nil {
		return ""
	}
	return v
}
