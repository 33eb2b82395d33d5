// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/callengine/internal/audioprofile"
	"github.com/rapidaai/callengine/internal/config"
	engineerrors "github.com/rapidaai/callengine/internal/errors"
	"github.com/rapidaai/callengine/internal/metrics"
	"github.com/rapidaai/callengine/internal/playback"
	"github.com/rapidaai/callengine/internal/provider"
	"github.com/rapidaai/callengine/internal/tool"
	"github.com/rapidaai/callengine/pkg/commons"
)

func testLogger(t *testing.T) commons.Logger {
	l, err := commons.NewApplicationLogger()
	require.NoError(t, err)
	return l
}

func testDoc() *config.Document {
	return &config.Document{
		AudioTransport:  "audiosocket",
		DefaultProvider: "openai_realtime",
		ActivePipeline:  "local_hybrid",
		Providers: map[string]config.ProviderConfig{
			"openai_realtime": {Kind: "monolithic", Enabled: true, URL: "wss://example.test/rt"},
			"local_stt":       {Kind: "stt", Enabled: true, URL: "ws://stt.test"},
			"local_llm":       {Kind: "llm", Enabled: true, URL: "http://llm.test"},
			"local_tts":       {Kind: "tts", Enabled: true, URL: "ws://tts.test"},
			"modular_agent":   {Kind: "modular", Enabled: true},
			"disabled_one":    {Kind: "monolithic", Enabled: false},
		},
		Pipelines: map[string]config.PipelineConfig{
			"local_hybrid": {STT: "local_stt", LLM: "local_llm", TTS: "local_tts"},
		},
		Contexts: map[string]config.ContextConfig{
			"default":     {Greeting: "Hello!", Prompt: "Be helpful."},
			"sales_queue": {Prompt: "Sell.", Provider: "modular_agent", AudioProfile: "telephony_responsive"},
		},
		VAD: config.VADConfig{
			EnergyThreshold: 0.015, WebrtcStartFrames: 3,
			WebrtcEndSilenceFrames: 5, MinMs: 40,
		},
		BargeIn: config.BargeInConfig{
			InitialProtectionMs: 200, GreetingProtectionMs: 400,
			PostTTSEndProtectionMs: 300, CooldownMs: 1000,
			ProviderOutputSuppressMs: 600, ProviderOutputSuppressExtendMs: 300,
			ChunkExtendMs: 100,
		},
		Streaming: config.StreamingConfig{EmptyBackoffTicksMax: 2},
	}
}

func TestResolve_PerCallVariableWinsOverContextAndDefault(t *testing.T) {
	doc := testDoc()
	r, err := Resolve(doc, InitialVars{Context: "sales_queue", Provider: "openai_realtime"}, audioprofile.NewRegistry())
	require.NoError(t, err)
	assert.Equal(t, "openai_realtime", r.ProviderName, "per-call variable must beat the context's declared provider")
	assert.Equal(t, "telephony_responsive", r.Profile.Name)
}

func TestResolve_FallsBackToContextThenDefault(t *testing.T) {
	doc := testDoc()

	r, err := Resolve(doc, InitialVars{Context: "sales_queue"}, audioprofile.NewRegistry())
	require.NoError(t, err)
	assert.Equal(t, "modular_agent", r.ProviderName)

	r, err = Resolve(doc, InitialVars{}, audioprofile.NewRegistry())
	require.NoError(t, err)
	assert.Equal(t, "openai_realtime", r.ProviderName)
	assert.Equal(t, "telephony_ulaw_8k", r.Profile.Name)
}

func TestResolve_DisabledProviderFailsBeforeAudio(t *testing.T) {
	doc := testDoc()
	_, err := Resolve(doc, InitialVars{Provider: "disabled_one"}, audioprofile.NewRegistry())
	require.Error(t, err)
	assert.Equal(t, engineerrors.KindConfig, engineerrors.KindOf(err))
}

func TestRegistry_BindDecodesChannelID(t *testing.T) {
	reg := NewRegistry()
	c := &Coordinator{channelID: "1700000001.1"}
	reg.Add("1700000001.1", c)

	sink, err := reg.Bind(encodeChannelID("1700000001.1"))
	require.NoError(t, err)
	assert.Same(t, c, sink)

	_, err = reg.Bind(encodeChannelID("unknown.42"))
	assert.Error(t, err)
}

func TestRegistry_CountDeduplicatesSecondaryChannels(t *testing.T) {
	reg := NewRegistry()
	c := &Coordinator{channelID: "a.1"}
	reg.Add("a.1", c)
	reg.Add("a.media", c)
	assert.Equal(t, 1, reg.Count())
}

// fakeProviderSession records the capability calls the coordinator makes.
type fakeProviderSession struct {
	events      chan provider.Event
	pushed      [][]byte
	ended       int
	cancelled   int
	toolResults map[string]any
	closed      bool
}

func newFakeProviderSession() *fakeProviderSession {
	return &fakeProviderSession{
		events:      make(chan provider.Event, 16),
		toolResults: make(map[string]any),
	}
}

func (f *fakeProviderSession) Start(ctx context.Context) error { return nil }
func (f *fakeProviderSession) PushCallerAudio(frame []byte) {
	cp := make([]byte, len(frame))
	copy(cp, frame)
	f.pushed = append(f.pushed, cp)
}
func (f *fakeProviderSession) EndUtterance()          { f.ended++ }
func (f *fakeProviderSession) CancelCurrentResponse() { f.cancelled++ }
func (f *fakeProviderSession) SubmitToolResult(id string, value any) error {
	f.toolResults[id] = value
	return nil
}
func (f *fakeProviderSession) Close() error                   { f.closed = true; return nil }
func (f *fakeProviderSession) Events() <-chan provider.Event  { return f.events }

type nullWriter struct{ frames int }

func (w *nullWriter) PushAudio(payload []byte, isPadding bool) { w.frames++ }

// testCoordinator builds a coordinator far enough along to drive the
// in-loop handlers directly, without any network or PBX.
func testCoordinator(t *testing.T, providerKind string) (*Coordinator, *fakeProviderSession, *nullWriter) {
	doc := testDoc()
	profiles := audioprofile.NewRegistry()
	profile, err := profiles.Resolve("telephony_ulaw_8k")
	require.NoError(t, err)

	c := NewCoordinator("chan.1", InitialVars{}, doc, Deps{
		Registry: NewRegistry(),
		Profiles: profiles,
		Metrics:  metrics.Nop(),
		Timeouts: config.DefaultTimeouts(),
		Logger:   testLogger(t),
	})
	c.resolved = Resolved{
		ContextName:  "default",
		Context:      doc.Contexts["default"],
		ProviderName: "test",
		Provider:     config.ProviderConfig{Kind: providerKind, Enabled: true},
		Profile:      profile,
	}
	c.mediaCtx, c.mediaCancel = context.WithCancel(context.Background())
	t.Cleanup(c.mediaCancel)
	c.toolCtx, c.toolCancel = context.WithCancel(c.mediaCtx)
	c.buildAudioPath()
	c.buildEndpointer()
	c.buildDispatcher()

	fake := newFakeProviderSession()
	c.session = fake
	c.provEvents = fake.events

	w := &nullWriter{}
	c.writer = w
	c.startPlayback()
	return c, fake, w
}

func TestCoordinator_UtteranceEndForwardsToProvider(t *testing.T) {
	c, fake, _ := testCoordinator(t, "modular")
	c.state = StateListening

	c.onUtteranceFinalized()

	assert.Equal(t, 1, fake.ended)
	assert.Equal(t, StateThinking, c.state)
	assert.NotZero(t, c.turnPendingNanos.Load(), "turn latency must be armed at utterance end")
}

func TestCoordinator_AgentAudioIsFramedOntoScheduler(t *testing.T) {
	c, _, _ := testCoordinator(t, "monolithic")
	c.state = StateListening

	c.handleProviderEvent(provider.Event{Kind: provider.EventResponseStarted})
	assert.Equal(t, StateResponding, c.state)

	// The 200ms min_start gate needs 10 frames of 8kHz PCM16; push 12
	// frames' worth in one chunk.
	chunk := make([]byte, 12*320)
	c.handleProviderEvent(provider.Event{Kind: provider.EventAgentAudioChunk, AgentAudioChunk: chunk})

	emitted := 0
	for i := 0; i < 12; i++ {
		if c.sched.Pump() {
			emitted++
		}
	}
	assert.Greater(t, emitted, 0, "frames must flow once the start gate opens")
}

func TestCoordinator_BargeInCancelsAndSuppresses(t *testing.T) {
	c, fake, _ := testCoordinator(t, "monolithic")
	c.state = StateResponding
	c.handleProviderEvent(provider.Event{Kind: provider.EventResponseStarted})
	genBefore := c.sched.Generation()

	c.onBargeIn()

	assert.Equal(t, 1, fake.cancelled)
	assert.Equal(t, StateListening, c.state)
	assert.Equal(t, genBefore+1, c.sched.Generation(), "playback generation must bump on barge-in")
	assert.True(t, c.endpointer.SuppressingProviderOutput())

	// Late chunks from the cancelled response are discarded at egress.
	c.handleProviderEvent(provider.Event{Kind: provider.EventAgentAudioChunk, AgentAudioChunk: make([]byte, 320)})
	assert.Empty(t, c.egressPending)
}

func TestCoordinator_ToolOutcomeNonTerminalReturnsResultToProvider(t *testing.T) {
	c, fake, _ := testCoordinator(t, "monolithic")
	c.state = StateToolRunning

	inv := &tool.Invocation{
		ID:     "call-1",
		Name:   "request_transcript",
		Status: tool.StatusFailed,
		Err:    engineerrors.Tool(engineerrors.ToolInvalidArgs, "missing email", nil),
	}
	c.handleToolOutcome(inv)

	require.Contains(t, fake.toolResults, "call-1")
	result, ok := fake.toolResults["call-1"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, result["error"], "missing email")
	assert.Equal(t, StateThinking, c.state)
}

func TestCoordinator_TerminalToolTriggersTeardownWithoutHangup(t *testing.T) {
	c, fake, _ := testCoordinator(t, "monolithic")
	c.state = StateToolRunning
	c.doc.Tools.Transfer.Enabled = true
	c.buildDispatcher()

	inv := &tool.Invocation{
		ID:     "call-2",
		Name:   "transfer",
		Status: tool.StatusSucceeded,
		Result: map[string]any{"destination": "sales_team", "kind": "ring_group"},
	}
	c.handleToolOutcome(inv)

	assert.True(t, c.transferActive)
	assert.Empty(t, fake.toolResults, "no result goes back to the provider after a completed transfer")
	select {
	case ev := <-c.ctlQ:
		assert.Equal(t, ctlToolTerminal, ev.kind)
		assert.Equal(t, "tool:transfer", ev.reason)
	default:
		t.Fatal("expected a terminal control event")
	}
}

func TestCoordinator_FinalTranscriptRecordsCallerTurn(t *testing.T) {
	c, _, _ := testCoordinator(t, "monolithic")
	c.state = StateListening

	c.handleProviderEvent(provider.Event{Kind: provider.EventFinalTranscript, FinalTranscript: "what are your hours?"})

	entries := c.transcriptEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, "caller", entries[0].Speaker)
	assert.Equal(t, "what are your hours?", entries[0].Text)
}

func TestCoordinator_TeardownIsIdempotent(t *testing.T) {
	c, fake, _ := testCoordinator(t, "monolithic")

	// Calling teardown twice must not panic or double-release; the second
	// call is a no-op.
	c.transferActive = true // skip the caller hangup (no ARI client in this test)
	c.mediaChannelID = ""
	c.bridgeID = ""
	c.teardown()
	c.teardown()
	assert.Equal(t, StateDone, c.state)
	assert.True(t, fake.closed)
}

func TestPlaybackWaiters_DoneBeforeWait(t *testing.T) {
	w := newPlaybackWaiters()
	w.Done("pb-1")
	assert.True(t, w.Wait("pb-1", time.Millisecond), "a finish observed before Wait must not block")
	assert.False(t, w.Wait("pb-2", 10*time.Millisecond))
}

func TestLLMToolSchemas_CarriesNameAndParameters(t *testing.T) {
	doc := testDoc()
	doc.Tools.Transfer.Enabled = true
	c := &Coordinator{channelID: "x", doc: doc, deps: Deps{Logger: testLogger(t)}, logger: testLogger(t)}
	c.resolved.Context = doc.Contexts["default"]
	c.buildDispatcher()

	schemas := llmToolSchemas(c.dispatcher.MCPTools())
	require.Len(t, schemas, 1)
	assert.Equal(t, "transfer", schemas[0].Name)
	assert.NotEmpty(t, schemas[0].Description)
	assert.Equal(t, "object", schemas[0].Parameters["type"])
}

func TestFileModePairing(t *testing.T) {
	c := &Coordinator{doc: testDoc()}
	c.resolved.Provider = config.ProviderConfig{Kind: "modular"}
	assert.False(t, c.fileMode(), "audiosocket always streams")

	c.doc.AudioTransport = "externalmedia"
	assert.True(t, c.fileMode(), "externalmedia with a modular pipeline renders files")

	c.resolved.Provider.Kind = "monolithic"
	assert.False(t, c.fileMode())
	c.doc.DownstreamMode = "file_playback"
	assert.True(t, c.fileMode())
}

func TestSchedulerDrainDrivesListening(t *testing.T) {
	c, _, _ := testCoordinator(t, "monolithic")
	c.state = StateResponding
	c.handleProviderEvent(provider.Event{Kind: provider.EventResponseStarted})
	c.handleProviderEvent(provider.Event{Kind: provider.EventResponseEnded})

	c.handleDrained(c.sched.Generation())
	assert.Equal(t, StateListening, c.state)
}

var _ playback.Writer = (*nullWriter)(nil)
