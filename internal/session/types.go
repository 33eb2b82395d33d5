// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package session implements the call session coordinator: the
// single per-call state machine that drives the ARI adapter, audio
// transport, provider session, playback scheduler, endpointer, and tool
// dispatcher as cooperating subordinates.
package session

import "time"

// State is one node of the call lifecycle diagram.
type State string

const (
	StateInit           State = "init"
	StateResolving       State = "resolving"
	StateMediaAttaching State = "media_attaching"
	StateGreeting        State = "greeting"
	StateListening        State = "listening"
	StateEndpointed      State = "endpointed"
	StateThinking         State = "thinking"
	StateResponding      State = "responding"
	StateBargedIn        State = "barged_in"
	StateToolRunning     State = "tool_running"
	StateTearingDown    State = "tearing_down"
	StateDone            State = "done"
)

// InitialVars is the bag of per-call PBX variables read at StasisStart.
type InitialVars struct {
	Provider     string // AI_PROVIDER
	Context      string // AI_CONTEXT
	AudioProfile string // AI_AUDIO_PROFILE
	Greeting     string // AI_GREETING
	Persona      string // AI_PERSONA
	CallerName   string // CALLERID(name)
	CallerNumber string // CALLERID(num)
}

// TranscriptTurn is one line of the call's transcript, accumulated for
// the `send_email_summary` / `request_transcript` tools and the teardown
// summary.
type TranscriptTurn struct {
	Speaker string // "caller" | "agent"
	Text    string
	At      time.Time
}

// Summary is the structured teardown record emitted once per call as a
// single log event; there is no separate telemetry sink.
type Summary struct {
	ChannelID       string
	CallerName      string
	CallerNumber    string
	Context         string
	Provider        string
	StartedAt       time.Time
	EndedAt         time.Time
	TurnCount       int
	ToolInvocations []string
	TerminalReason  string
}
