// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package wsclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/callengine/internal/provider"
	"github.com/rapidaai/callengine/internal/provider/llmclient"
	"github.com/rapidaai/callengine/pkg/commons"
)

type fakeSTT struct {
	transcripts chan STTTranscript
	pushed      [][]byte
}

func newFakeSTT() *fakeSTT { return &fakeSTT{transcripts: make(chan STTTranscript, 8)} }

func (f *fakeSTT) Start(ctx context.Context) error                { return nil }
func (f *fakeSTT) PushAudio(frame []byte) error                    { f.pushed = append(f.pushed, frame); return nil }
func (f *fakeSTT) EndUtterance() error                             { return nil }
func (f *fakeSTT) Transcripts() <-chan STTTranscript               { return f.transcripts }
func (f *fakeSTT) Close() error                                    { close(f.transcripts); return nil }

type fakeTTS struct {
	chunks     chan TTSChunk
	synthesized []string
	cancelled   bool
}

func newFakeTTS() *fakeTTS { return &fakeTTS{chunks: make(chan TTSChunk, 8)} }

func (f *fakeTTS) Start(ctx context.Context) error { return nil }
func (f *fakeTTS) Synthesize(text string) error    { f.synthesized = append(f.synthesized, text); return nil }
func (f *fakeTTS) Cancel() error                   { f.cancelled = true; return nil }
func (f *fakeTTS) Chunks() <-chan TTSChunk         { return f.chunks }
func (f *fakeTTS) Close() error                    { close(f.chunks); return nil }

type fakeLLM struct {
	deltas   []llmclient.Delta
	calls    int
	onStream func() // runs after the turn has started, before any delta is emitted
}

func (f *fakeLLM) StreamTurn(ctx context.Context, systemPrompt string, history []llmclient.Turn, utterance string, tools []llmclient.ToolSchema, emit func(llmclient.Delta)) error {
	f.calls++
	if f.onStream != nil {
		f.onStream()
	}
	for _, d := range f.deltas {
		emit(d)
	}
	return nil
}

func testLogger(t *testing.T) commons.Logger {
	l, err := commons.NewApplicationLogger()
	require.NoError(t, err)
	return l
}

func drainEvent(t *testing.T, events <-chan provider.Event) provider.Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return provider.Event{}
	}
}

func TestModularSession_RunTurn_StreamsTextAndSynthesizes(t *testing.T) {
	llm := &fakeLLM{deltas: []llmclient.Delta{
		{TextChunk: "hello "},
		{TextChunk: "there"},
		{Done: true},
	}}
	tts := newFakeTTS()
	s := NewModularSession(ModularConfig{
		STTPeer:      newFakeSTT(),
		TTSPeer:      tts,
		LLM:          llm,
		SystemPrompt: "be helpful",
	}, testLogger(t))
	s.ctx = context.Background()

	s.runTurn(context.Background(), "hi there")

	assert.Equal(t, provider.EventResponseStarted, drainEvent(t, s.events).Kind)
	assert.Equal(t, "hello ", drainEvent(t, s.events).AgentTextChunk)
	assert.Equal(t, "there", drainEvent(t, s.events).AgentTextChunk)
	assert.Equal(t, provider.EventResponseEnded, drainEvent(t, s.events).Kind)

	require.Equal(t, []string{"hello ", "there"}, tts.synthesized)
	require.Len(t, s.history, 2)
	assert.Equal(t, "user", s.history[0].Role)
	assert.Equal(t, "hi there", s.history[0].Content)
	assert.Equal(t, "assistant", s.history[1].Role)
	assert.Equal(t, "hello there", s.history[1].Content)
}

func TestModularSession_RunTurn_ToolCallSurfaced(t *testing.T) {
	llm := &fakeLLM{deltas: []llmclient.Delta{
		{ToolCall: &llmclient.ToolCall{ID: "1", Name: "transfer", Args: map[string]any{"destination": "sales"}}},
		{Done: true},
	}}
	s := NewModularSession(ModularConfig{
		STTPeer: newFakeSTT(),
		TTSPeer: newFakeTTS(),
		LLM:     llm,
	}, testLogger(t))
	s.ctx = context.Background()

	s.runTurn(context.Background(), "transfer me")

	assert.Equal(t, provider.EventResponseStarted, drainEvent(t, s.events).Kind)
	ev := drainEvent(t, s.events)
	require.Equal(t, provider.EventToolCallRequest, ev.Kind)
	assert.Equal(t, "transfer", ev.ToolCall.Name)
	assert.Equal(t, "sales", ev.ToolCall.Args["destination"])
}

func TestModularSession_CancelCurrentResponse_DropsStaleDeltas(t *testing.T) {
	llm := &fakeLLM{deltas: []llmclient.Delta{{TextChunk: "late chunk"}, {Done: true}}}
	tts := newFakeTTS()
	s := NewModularSession(ModularConfig{
		STTPeer: newFakeSTT(),
		TTSPeer: tts,
		LLM:     llm,
	}, testLogger(t))
	s.ctx = context.Background()

	// Simulate a barge-in that lands while this turn is streaming: the turn
	// has started, but none of its deltas have been emitted yet.
	llm.onStream = s.CancelCurrentResponse
	s.runTurn(context.Background(), "ignored")

	// Only ResponseStarted should have been emitted before the delta callback
	// observed staleness; the text chunk and ResponseEnded must not appear.
	assert.Equal(t, provider.EventResponseStarted, drainEvent(t, s.events).Kind)
	select {
	case ev := <-s.events:
		t.Fatalf("expected no further events after cancellation, got %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Empty(t, tts.synthesized)
	assert.True(t, tts.cancelled)
}

func TestModularSession_SubmitToolResult_ContinuesTurn(t *testing.T) {
	llm := &fakeLLM{deltas: []llmclient.Delta{{TextChunk: "all set"}, {Done: true}}}
	s := NewModularSession(ModularConfig{
		STTPeer: newFakeSTT(),
		TTSPeer: newFakeTTS(),
		LLM:     llm,
	}, testLogger(t))
	s.ctx = context.Background()

	require.NoError(t, s.SubmitToolResult("call-1", "transferred"))

	assert.Equal(t, provider.EventResponseStarted, drainEvent(t, s.events).Kind)
	assert.Equal(t, "all set", drainEvent(t, s.events).AgentTextChunk)
	assert.Equal(t, provider.EventResponseEnded, drainEvent(t, s.events).Kind)

	require.GreaterOrEqual(t, len(s.history), 1)
	assert.Equal(t, "tool", s.history[0].Role)
	assert.Equal(t, "call-1", s.history[0].ToolCallID)
}

func TestModularSession_PushCallerAudio_ForwardsToSTT(t *testing.T) {
	stt := newFakeSTT()
	s := NewModularSession(ModularConfig{
		STTPeer: stt,
		TTSPeer: newFakeTTS(),
		LLM:     &fakeLLM{},
	}, testLogger(t))

	s.PushCallerAudio([]byte{1, 2, 3})
	require.Len(t, stt.pushed, 1)
	assert.Equal(t, []byte{1, 2, 3}, stt.pushed[0])
}
