// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package wsclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rapidaai/callengine/internal/provider"
	"github.com/rapidaai/callengine/pkg/commons"
)

// MonolithicSession is the reference monolithic provider.Session
// realization: one duplex WebSocket peer producing agent
// audio, transcripts, and tool-call requests directly from caller audio.
type MonolithicSession struct {
	peer   *Peer
	logger commons.Logger
	events chan provider.Event
}

// NewMonolithicSession builds a monolithic session bound to url (already
// resolved from the provider config's URL with auth embedded in header).
func NewMonolithicSession(url string, header http.Header, logger commons.Logger) *MonolithicSession {
	return &MonolithicSession{
		peer:   NewPeer(url, header, logger),
		logger: logger,
		events: make(chan provider.Event, 128),
	}
}

func (s *MonolithicSession) Start(ctx context.Context) error {
	if err := s.peer.Dial(ctx, 5*time.Second); err != nil {
		return err
	}
	go s.pump()
	return nil
}

func (s *MonolithicSession) pump() {
	defer close(s.events)
	for env := range s.peer.Incoming() {
		ev, ok := translate(env, s.logger)
		if ok {
			s.events <- ev
		}
	}
	// Incoming() closed: the peer disconnected, which is terminal for
	// the call; surface it as a Disconnect provider error.
	s.events <- provider.Event{Kind: provider.EventError, Err: fmt.Errorf("wsclient: monolithic peer disconnected")}
}

func translate(env Envelope, logger commons.Logger) (provider.Event, bool) {
	switch env.Type {
	case TypePartialTranscript:
		var d TranscriptData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return provider.Event{}, false
		}
		return provider.Event{Kind: provider.EventPartialTranscript, PartialTranscript: d.Text}, true
	case TypeFinalTranscript:
		var d TranscriptData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return provider.Event{}, false
		}
		return provider.Event{Kind: provider.EventFinalTranscript, FinalTranscript: d.Text}, true
	case TypeAgentAudio:
		var d AudioChunkData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return provider.Event{}, false
		}
		return provider.Event{Kind: provider.EventAgentAudioChunk, AgentAudioChunk: d.Audio}, true
	case TypeAgentText:
		var d TextData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return provider.Event{}, false
		}
		return provider.Event{Kind: provider.EventAgentTextChunk, AgentTextChunk: d.Text}, true
	case TypeResponseStarted:
		return provider.Event{Kind: provider.EventResponseStarted}, true
	case TypeResponseEnded:
		return provider.Event{Kind: provider.EventResponseEnded}, true
	case TypeToolCallRequest:
		var d ToolCallData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return provider.Event{}, false
		}
		return provider.Event{Kind: provider.EventToolCallRequest, ToolCall: provider.ToolCallRequest{ID: d.ID, Name: d.Name, Args: d.Args}}, true
	case TypeError:
		var d ErrorData
		_ = json.Unmarshal(env.Data, &d)
		return provider.Event{Kind: provider.EventError, Err: fmt.Errorf("provider error: %s", d.Message)}, true
	case TypePing, TypePong:
		return provider.Event{}, false
	default:
		logger.Warnw("wsclient: unrecognized envelope type", "type", env.Type)
		return provider.Event{}, false
	}
}

// SpeakGreeting asks the remote service to speak text verbatim. The
// service answers with the usual response_started/agent_audio/
// response_ended envelope sequence, so no local special-casing is needed.
func (s *MonolithicSession) SpeakGreeting(text string) {
	if err := s.peer.Send(TypeSpeak, TextData{Text: text}); err != nil {
		s.logger.Warnw("wsclient: failed to request greeting", "error", err)
	}
}

func (s *MonolithicSession) PushCallerAudio(frame []byte) {
	if err := s.peer.Send(TypeAudioChunk, AudioChunkData{Audio: frame}); err != nil {
		s.logger.Warnw("wsclient: failed to push caller audio", "error", err)
	}
}

func (s *MonolithicSession) EndUtterance() {
	_ = s.peer.Send(TypeEndUtterance, struct{}{})
}

func (s *MonolithicSession) CancelCurrentResponse() {
	_ = s.peer.Send(TypeCancel, struct{}{})
}

func (s *MonolithicSession) SubmitToolResult(id string, value any) error {
	return s.peer.Send(TypeToolResult, ToolResultData{ID: id, Value: value})
}

func (s *MonolithicSession) Close() error {
	return s.peer.Close()
}

func (s *MonolithicSession) Events() <-chan provider.Event {
	return s.events
}
