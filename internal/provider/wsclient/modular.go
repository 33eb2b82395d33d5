// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package wsclient

import (
	"context"
	"fmt"
	"sync"

	"github.com/rapidaai/callengine/internal/provider"
	"github.com/rapidaai/callengine/internal/provider/llmclient"
	"github.com/rapidaai/callengine/pkg/commons"
)

// llmTurnStreamer is the subset of llmclient.Client the modular session
// depends on, narrowed to an interface so tests can substitute a fake
// without a network-backed *llmclient.Client.
type llmTurnStreamer interface {
	StreamTurn(ctx context.Context, systemPrompt string, history []llmclient.Turn, utterance string, tools []llmclient.ToolSchema, emit func(llmclient.Delta)) error
}

// sttSource is the subset of STTPeer the modular session depends on,
// narrowed to an interface so tests can substitute a fake transcript feed.
type sttSource interface {
	Start(ctx context.Context) error
	PushAudio(frame []byte) error
	EndUtterance() error
	Transcripts() <-chan STTTranscript
	Close() error
}

// ttsSink is the subset of TTSPeer the modular session depends on.
type ttsSink interface {
	Start(ctx context.Context) error
	Synthesize(text string) error
	Cancel() error
	Chunks() <-chan TTSChunk
	Close() error
}

// ModularSession composes independent STT, LLM, and TTS peers into one
// provider.Session. On a final transcript it builds an
// LLM request from the system prompt, rolling history, and the new
// utterance, streams the reply, forwards text chunks to TTS, and
// surfaces tool calls exactly like the monolithic case.
type ModularSession struct {
	stt sttSource
	tts ttsSink
	llm llmTurnStreamer

	systemPrompt string
	tools        []llmclient.ToolSchema
	historyLimit int // max retained turns; 0 keeps everything

	logger commons.Logger
	events chan provider.Event

	mu      sync.Mutex
	history []llmclient.Turn
	genMu   sync.Mutex
	gen     uint64 // bumped on CancelCurrentResponse to stop a stale LLM stream from emitting

	ctx context.Context
}

// ModularConfig bundles everything needed to start a modular session.
type ModularConfig struct {
	STTPeer      sttSource
	TTSPeer      ttsSink
	LLM          llmTurnStreamer
	SystemPrompt string
	Tools        []llmclient.ToolSchema
	HistoryTurns int // rolling history cap in turns; 0 means unbounded
}

func NewModularSession(cfg ModularConfig, logger commons.Logger) *ModularSession {
	return &ModularSession{
		stt:          cfg.STTPeer,
		tts:          cfg.TTSPeer,
		llm:          cfg.LLM,
		systemPrompt: cfg.SystemPrompt,
		tools:        cfg.Tools,
		historyLimit: cfg.HistoryTurns,
		logger:       logger,
		events:       make(chan provider.Event, 128),
	}
}

func (s *ModularSession) Start(ctx context.Context) error {
	s.ctx = ctx
	if err := s.stt.Start(ctx); err != nil {
		return fmt.Errorf("modular: stt start: %w", err)
	}
	if err := s.tts.Start(ctx); err != nil {
		return fmt.Errorf("modular: tts start: %w", err)
	}
	go s.pumpTranscripts(ctx)
	go s.pumpTTS()
	return nil
}

func (s *ModularSession) pumpTranscripts(ctx context.Context) {
	for t := range s.stt.Transcripts() {
		if !t.Final {
			s.events <- provider.Event{Kind: provider.EventPartialTranscript, PartialTranscript: t.Text}
			continue
		}
		s.events <- provider.Event{Kind: provider.EventFinalTranscript, FinalTranscript: t.Text}
		s.runTurn(ctx, t.Text)
	}
	s.events <- provider.Event{Kind: provider.EventError, Err: fmt.Errorf("wsclient: modular stt peer disconnected")}
}

// runTurn builds and streams one LLM turn. It captures the
// generation at entry so a barge-in (CancelCurrentResponse) during
// streaming silently drops the remainder instead of racing new output
// into the scheduler.
func (s *ModularSession) runTurn(ctx context.Context, utterance string) {
	s.genMu.Lock()
	myGen := s.gen
	s.genMu.Unlock()

	s.events <- provider.Event{Kind: provider.EventResponseStarted}

	var assistantText string
	err := s.llm.StreamTurn(ctx, s.systemPrompt, s.snapshotHistory(), utterance, s.tools, func(d llmclient.Delta) {
		if s.stale(myGen) {
			return
		}
		switch {
		case d.ToolCall != nil:
			s.events <- provider.Event{Kind: provider.EventToolCallRequest, ToolCall: provider.ToolCallRequest{
				ID: d.ToolCall.ID, Name: d.ToolCall.Name, Args: d.ToolCall.Args,
			}}
		case d.TextChunk != "":
			assistantText += d.TextChunk
			s.events <- provider.Event{Kind: provider.EventAgentTextChunk, AgentTextChunk: d.TextChunk}
			if err := s.tts.Synthesize(d.TextChunk); err != nil {
				s.logger.Warnw("modular: tts synthesize failed", "error", err)
			}
		case d.Done:
		}
	})
	if err != nil {
		s.events <- provider.Event{Kind: provider.EventError, Err: fmt.Errorf("modular: llm turn failed: %w", err)}
		return
	}
	if s.stale(myGen) {
		return
	}

	if utterance != "" {
		s.appendHistory(llmclient.Turn{Role: "user", Content: utterance})
	}
	if assistantText != "" {
		s.appendHistory(llmclient.Turn{Role: "assistant", Content: assistantText})
	}
	s.events <- provider.Event{Kind: provider.EventResponseEnded}
}

func (s *ModularSession) pumpTTS() {
	for chunk := range s.tts.Chunks() {
		if chunk.Done {
			continue // response end is signaled by the LLM leg, not TTS
		}
		s.events <- provider.Event{Kind: provider.EventAgentAudioChunk, AgentAudioChunk: chunk.Audio}
	}
}

func (s *ModularSession) stale(gen uint64) bool {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	return gen != s.gen
}

func (s *ModularSession) snapshotHistory() []llmclient.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]llmclient.Turn, len(s.history))
	copy(out, s.history)
	return out
}

func (s *ModularSession) appendHistory(t llmclient.Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, t)
	// A turn is a user/assistant pair; trim from the front once the
	// rolling window is exceeded so long calls keep a bounded prompt.
	if limit := s.historyLimit * 2; limit > 0 && len(s.history) > limit {
		s.history = s.history[len(s.history)-limit:]
	}
}

// SpeakGreeting synthesizes text directly through the TTS leg without an
// LLM round-trip, surfacing it as an ordinary response so the playback
// and endpointing paths treat the greeting like any other agent turn.
// The greeting is recorded in history so the model knows it already
// introduced itself.
func (s *ModularSession) SpeakGreeting(text string) {
	s.events <- provider.Event{Kind: provider.EventResponseStarted}
	s.events <- provider.Event{Kind: provider.EventAgentTextChunk, AgentTextChunk: text}
	if err := s.tts.Synthesize(text); err != nil {
		s.logger.Warnw("modular: greeting synthesize failed", "error", err)
	}
	s.appendHistory(llmclient.Turn{Role: "assistant", Content: text})
	s.events <- provider.Event{Kind: provider.EventResponseEnded}
}

func (s *ModularSession) PushCallerAudio(frame []byte) {
	if err := s.stt.PushAudio(frame); err != nil {
		s.logger.Warnw("modular: failed to push caller audio to stt", "error", err)
	}
}

func (s *ModularSession) EndUtterance() {
	if err := s.stt.EndUtterance(); err != nil {
		s.logger.Warnw("modular: end utterance failed", "error", err)
	}
}

// CancelCurrentResponse stops forwarding the in-flight LLM/TTS output
// following a barge-in. Bumping gen makes any already-queued
// StreamTurn callback a no-op.
func (s *ModularSession) CancelCurrentResponse() {
	s.genMu.Lock()
	s.gen++
	s.genMu.Unlock()
	if err := s.tts.Cancel(); err != nil {
		s.logger.Warnw("modular: tts cancel failed", "error", err)
	}
}

// SubmitToolResult appends the tool's outcome to history and re-invokes the
// LLM with no new user utterance so it can verbalize the result.
func (s *ModularSession) SubmitToolResult(id string, value any) error {
	s.appendHistory(llmclient.Turn{Role: "tool", ToolCallID: id, Content: fmt.Sprint(value)})
	go s.runTurn(s.ctx, "")
	return nil
}

func (s *ModularSession) Close() error {
	sttErr := s.stt.Close()
	ttsErr := s.tts.Close()
	if sttErr != nil {
		return sttErr
	}
	return ttsErr
}

func (s *ModularSession) Events() <-chan provider.Event {
	return s.events
}
