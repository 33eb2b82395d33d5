// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package session

import (
	"fmt"
	"sync"

	"github.com/rapidaai/callengine/internal/ari"
	"github.com/rapidaai/callengine/internal/transport/audiosocket"
)

// Registry maps PBX channel ids to the Coordinator that owns them. It
// implements audiosocket.Binder for the AudioSocket listener and is the
// single point the global ARI event loop consults to route an incoming
// event to its owning call.
//
// A channel id may be registered as either the call's primary channel or
// a secondary one (an attended-transfer destination channel originated
// mid-call); both route to the same Coordinator, which tells them apart
// in its own event-handling path.
type Registry struct {
	mu  sync.RWMutex
	ids map[string]*Coordinator
}

func NewRegistry() *Registry {
	return &Registry{ids: make(map[string]*Coordinator)}
}

// Add registers channelID against c. Safe to call for both the primary
// channel (at StasisStart) and secondary channels (attended-transfer
// destinations, via Coordinator's tool hooks).
func (r *Registry) Add(channelID string, c *Coordinator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids[channelID] = c
}

// Remove unregisters channelID. Called on teardown for the primary channel
// and on attended-transfer completion/abort for secondary ones.
func (r *Registry) Remove(channelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.ids, channelID)
}

func (r *Registry) get(channelID string) (*Coordinator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.ids[channelID]
	return c, ok
}

// Count reports the number of distinct Coordinators currently tracked,
// used by the admin API's active_calls gauge. Secondary channel ids for
// the same call are not double-counted.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[*Coordinator]bool, len(r.ids))
	for _, c := range r.ids {
		seen[c] = true
	}
	return len(seen)
}

// Lookup resolves channelID to its owning Coordinator, used by the admin
// API's `POST /calls/{id}/hangup`.
func (r *Registry) Lookup(channelID string) (*Coordinator, bool) {
	return r.get(channelID)
}

// Bind implements audiosocket.Binder: it decodes the 16-byte ID frame
// payload back into the channel id string the coordinator was registered
// under.
func (r *Registry) Bind(id [audiosocket.IDPayloadLen]byte) (audiosocket.Sink, error) {
	channelID := decodeChannelID(id)
	c, ok := r.get(channelID)
	if !ok {
		return nil, fmt.Errorf("session: no coordinator registered for channel %q", channelID)
	}
	return c, nil
}

// RouteARIEvent forwards a decoded ARI event to its owning Coordinator's
// in-queue. Events with no channel id (bridge-only events) are dropped;
// nothing in this engine's scope needs them outside a channel context.
func (r *Registry) RouteARIEvent(ev ari.Event) {
	channelID := ev.ChannelID()
	if channelID == "" {
		return
	}
	if c, ok := r.get(channelID); ok {
		c.enqueueARIEvent(ev)
	}
}

// encodeChannelID packs a channel id string into the fixed 16-byte
// AudioSocket ID payload, the inverse of decodeChannelID. Ids longer than
// 16 bytes are truncated; shorter ones are zero-padded.
func encodeChannelID(channelID string) [audiosocket.IDPayloadLen]byte {
	var out [audiosocket.IDPayloadLen]byte
	copy(out[:], channelID)
	return out
}

func decodeChannelID(id [audiosocket.IDPayloadLen]byte) string {
	n := len(id)
	for n > 0 && id[n-1] == 0 {
		n--
	}
	return string(id[:n])
}
