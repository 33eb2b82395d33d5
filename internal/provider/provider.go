// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package provider defines the capability interface shared by monolithic
// and modular-pipeline provider sessions.
package provider

import "context"

// EventKind discriminates the observable events a Session emits.
type EventKind string

const (
	EventPartialTranscript EventKind = "partial_transcript"
	EventFinalTranscript   EventKind = "final_transcript"
	EventAgentAudioChunk   EventKind = "agent_audio_chunk"
	EventAgentTextChunk    EventKind = "agent_text_chunk"
	EventResponseStarted   EventKind = "response_started"
	EventResponseEnded     EventKind = "response_ended"
	EventToolCallRequest   EventKind = "tool_call_request"
	EventError             EventKind = "error"
)

// ToolCallRequest is the payload of an EventToolCallRequest.
type ToolCallRequest struct {
	ID   string
	Name string
	Args map[string]any
}

// Event is the single envelope carried on a Session's event channel. Only
// the field matching Kind is populated.
type Event struct {
	Kind EventKind

	PartialTranscript string
	FinalTranscript   string
	AgentAudioChunk   []byte // PCM16LE at the provider's output rate
	AgentTextChunk    string
	ToolCall          ToolCallRequest
	Err               error
}

// Session is the capability set every provider realization exposes.
// Both the monolithic peer and the modular
// composition implement it identically from the coordinator's point of
// view; only construction differs.
type Session interface {
	// Start begins the session (dialing/authenticating the underlying
	// peer(s)). Events observed from Start onward arrive on Events().
	Start(ctx context.Context) error

	// PushCallerAudio forwards one frame of caller audio (PCM16LE at the
	// caller-to-provider rate) to the session.
	PushCallerAudio(frame []byte)

	// EndUtterance signals that the engine has finalized the caller's
	// turn (used by the modular pipeline; monolithic providers with
	// provider-owned VAD may ignore it).
	EndUtterance()

	// CancelCurrentResponse cancels in-flight generation following a
	// barge-in.
	CancelCurrentResponse()

	// SubmitToolResult returns a tool's outcome to the provider so the
	// model can verbalize it.
	SubmitToolResult(id string, value any) error

	// Close tears down the session and all underlying peers.
	Close() error

	// Events returns the channel of observable Session events.
	Events() <-chan Event
}

// Greeter is implemented by sessions that let the engine drive the
// initial greeting (and short scripted phrases) through the agent-audio
// path: the text is synthesized and surfaced as an ordinary response via
// Events(). Monolithic peers forward the text to the remote service;
// modular sessions pipe it straight to their TTS leg.
type Greeter interface {
	SpeakGreeting(text string)
}

// Kind discriminates the two Session realizations.
type Kind string

const (
	KindMonolithic Kind = "monolithic"
	KindModular    Kind = "modular"
)
