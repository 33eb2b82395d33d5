// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package ari

import (
	"encoding/json"
	"strings"
)

// EventType discriminates the decoded ARI WebSocket events the engine consumes.
type EventType string

const (
	EventStasisStart        EventType = "StasisStart"
	EventStasisEnd          EventType = "StasisEnd"
	EventChannelHangup      EventType = "ChannelHangupRequest"
	EventChannelDtmf        EventType = "ChannelDtmfReceived"
	EventChannelVarset      EventType = "ChannelVarset"
	EventPlaybackFinished   EventType = "PlaybackFinished"
	EventBridgeMerged       EventType = "BridgeMerged"
	EventBridgeDestroyed    EventType = "BridgeDestroyed"
	EventChannelDestroyed   EventType = "ChannelDestroyed"
)

// Channel is the subset of ARI's Channel object the engine consumes.
type Channel struct {
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	State   string            `json:"state"`
	Caller  CallerID          `json:"caller"`
	Dialplan map[string]any   `json:"dialplan,omitempty"`
}

type CallerID struct {
	Name   string `json:"name"`
	Number string `json:"number"`
}

// Event is the decoded envelope every ARI WebSocket message is unmarshaled
// into before being routed to the owning call's coordinator by channel id.
type Event struct {
	Type      EventType       `json:"type"`
	Channel   *Channel        `json:"channel,omitempty"`
	Args      []string        `json:"args,omitempty"` // StasisStart app args
	Digit     string          `json:"digit,omitempty"`
	Variable  string          `json:"variable,omitempty"`
	Value     string          `json:"value,omitempty"`
	Playback  *PlaybackRef    `json:"playback,omitempty"`
	Bridge    *BridgeRef      `json:"bridge,omitempty"`
	Raw       json.RawMessage `json:"-"`
}

type PlaybackRef struct {
	ID        string `json:"id"`
	TargetURI string `json:"target_uri"`
}

type BridgeRef struct {
	ID string `json:"id"`
}

// ChannelID returns the channel id an event should be routed against, or
// "" if the event carries none (e.g. a bridge-only event). Playback events
// carry their channel inside the playback target URI ("channel:<id>")
// rather than a Channel object.
func (e Event) ChannelID() string {
	if e.Channel != nil {
		return e.Channel.ID
	}
	if e.Playback != nil {
		if id, ok := strings.CutPrefix(e.Playback.TargetURI, "channel:"); ok {
			return id
		}
	}
	return ""
}

func decodeEvent(raw []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Event{}, err
	}
	ev.Raw = raw
	return ev, nil
}
