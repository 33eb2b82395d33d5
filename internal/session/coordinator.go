// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package session

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/rapidaai/callengine/internal/ari"
	"github.com/rapidaai/callengine/internal/audioprofile"
	"github.com/rapidaai/callengine/internal/config"
	engineerrors "github.com/rapidaai/callengine/internal/errors"
	"github.com/rapidaai/callengine/internal/metrics"
	"github.com/rapidaai/callengine/internal/playback"
	"github.com/rapidaai/callengine/internal/provider"
	"github.com/rapidaai/callengine/internal/tool"
	"github.com/rapidaai/callengine/internal/transport/codec"
	"github.com/rapidaai/callengine/internal/transport/rtp"
	"github.com/rapidaai/callengine/internal/vad"
	"github.com/rapidaai/callengine/pkg/commons"
)

// Deps bundles the process-wide collaborators a Coordinator drives. All
// of them are safe for concurrent use across calls.
type Deps struct {
	ARI       *ari.Client
	Registry  *Registry
	Profiles  *audioprofile.Registry
	RTP       *rtp.Manager // nil unless audio_transport is "externalmedia"
	HTTP      *resty.Client
	Metrics   *metrics.Metrics
	Timeouts  config.Timeouts
	MediaAddr string // host[:port] the PBX reaches this engine's media listeners on
	Logger    commons.Logger
}

// ctlKind classifies control-queue events. Any of them ends the call.
type ctlKind int

const (
	ctlHangup ctlKind = iota
	ctlTransportError
	ctlProviderError
	ctlToolTerminal
	ctlAdminHangup
	ctlShutdown
)

type ctlEvent struct {
	kind   ctlKind
	reason string
	err    error
}

// Coordinator owns one call end to end. All per-call state below is
// mutated exclusively by the goroutine running HandleCall; the exported
// callbacks (transport sinks, admin hangup) only enqueue onto the typed
// in-queues.
type Coordinator struct {
	channelID string
	vars      InitialVars
	doc       *config.Document // snapshot pinned at call start
	deps      Deps
	logger    commons.Logger

	state    State
	resolved Resolved

	// typed in-queues, merged by runLoop with a deterministic priority
	ctlQ   chan ctlEvent
	ariQ   chan ari.Event
	toolQ  chan *tool.Invocation
	drainQ chan uint64
	audioQ chan []byte

	provEvents <-chan provider.Event

	session    provider.Session
	sched      *playback.Scheduler
	fileFB     *playback.FileFallbackScheduler
	endpointer *vad.Endpointer
	dispatcher *tool.Dispatcher

	// transport
	attachedCh     chan struct{}
	attachOnce     sync.Once
	writer         frameSink
	mediaChannelID string
	bridgeID       string
	rtpSession     *rtp.Session
	rtpRelease     func()
	mediaCtx       context.Context
	mediaCancel    context.CancelFunc
	toolCtx        context.Context
	toolCancel     context.CancelFunc

	// codec scratch, reused every frame
	inSamples     []int16
	forwardBuf    []byte
	egressSamples []int16
	egressPending []int16
	upResampler   *codec.Resampler
	downResampler *codec.Resampler

	// turn bookkeeping
	turnPendingNanos atomic.Int64
	silenceFrames    atomic.Int64
	utteranceEndAt   time.Time
	finalAt          time.Time
	firstTextAt      time.Time
	firstAudioAt     time.Time
	lastProviderAt   time.Time
	responseEnded    bool

	transcriptMu sync.Mutex
	transcript   []TranscriptTurn
	agentText    strings.Builder

	// file-playback fallback state
	fileBuf   []byte
	filePaths map[string]string // playback id -> rendered path

	waiters *playbackWaiters

	secondaryMu sync.Mutex
	secondaries []string

	toolInvocations []string
	turnCount       int
	transferActive  bool
	terminalReason  string
	startedAt       time.Time

	teardownOnce sync.Once
}

// NewCoordinator builds a Coordinator for channelID against the config
// snapshot current at call arrival. Heavy resolution work happens inside
// HandleCall so that failures surface through its error return.
func NewCoordinator(channelID string, vars InitialVars, doc *config.Document, deps Deps) *Coordinator {
	return &Coordinator{
		channelID:  channelID,
		vars:       vars,
		doc:        doc,
		deps:       deps,
		logger:     deps.Logger.With("channel_id", channelID),
		state:      StateInit,
		ctlQ:       make(chan ctlEvent, 8),
		ariQ:       make(chan ari.Event, 32),
		toolQ:      make(chan *tool.Invocation, 4),
		drainQ:     make(chan uint64, 4),
		audioQ:     make(chan []byte, 50),
		attachedCh: make(chan struct{}),
		filePaths:  make(map[string]string),
		waiters:    newPlaybackWaiters(),
	}
}

func (c *Coordinator) setState(s State) {
	if c.state == s {
		return
	}
	c.logger.Debugw("state transition", "from", string(c.state), "to", string(s))
	c.state = s
}

// enqueueARIEvent delivers a decoded ARI event to this call. Called from
// the global event loop goroutine; never blocks it.
func (c *Coordinator) enqueueARIEvent(ev ari.Event) {
	select {
	case c.ariQ <- ev:
	default:
		c.logger.Warnw("ari event queue full, dropping event", "type", string(ev.Type))
	}
}

func (c *Coordinator) pushCtl(ev ctlEvent) {
	select {
	case c.ctlQ <- ev:
	default:
	}
}

// RequestHangup forces teardown of this call, used by the admin API.
func (c *Coordinator) RequestHangup() {
	c.pushCtl(ctlEvent{kind: ctlAdminHangup, reason: "admin_hangup"})
}

// HandleCall owns the call from arrival to teardown and returns only once
// every resource has been released.
func (c *Coordinator) HandleCall(ctx context.Context) error {
	c.startedAt = time.Now()
	c.mediaCtx, c.mediaCancel = context.WithCancel(context.WithoutCancel(ctx))
	c.toolCtx, c.toolCancel = context.WithCancel(c.mediaCtx)
	defer c.teardown()

	c.setState(StateResolving)
	resolved, err := Resolve(c.doc, c.vars, c.deps.Profiles)
	if err != nil {
		// Nothing beyond the control channel has been committed yet; hang
		// up without a fallback phrase.
		c.terminalReason = "config_error"
		_ = c.deps.ARI.Hangup(ctx, c.channelID)
		return err
	}
	c.resolved = resolved
	c.buildAudioPath()
	c.buildEndpointer()
	c.buildDispatcher()

	c.session, err = BuildProviderSession(c.doc, resolved, c.systemPrompt(), llmToolSchemas(c.dispatcher.MCPTools()), c.logger)
	if err != nil {
		c.terminalReason = "config_error"
		_ = c.deps.ARI.Hangup(ctx, c.channelID)
		return err
	}

	if err := c.deps.ARI.Answer(ctx, c.channelID); err != nil {
		c.terminalReason = "answer_failed"
		return err
	}

	c.setState(StateMediaAttaching)
	if err := c.attachMedia(ctx); err != nil {
		c.terminalReason = "media_attach_failed"
		return err
	}
	if err := c.session.Start(c.mediaCtx); err != nil {
		c.terminalReason = "provider_start_failed"
		c.playFallbackPhrase()
		return engineerrors.Provider(engineerrors.ProviderDisconnect, "provider session failed to start", err)
	}
	c.provEvents = c.session.Events()
	c.startPlayback()

	if greeting := c.greetingText(); greeting != "" {
		if g, ok := c.session.(provider.Greeter); ok {
			c.setState(StateGreeting)
			g.SpeakGreeting(greeting)
		} else {
			c.setState(StateListening)
		}
	} else {
		c.setState(StateListening)
	}

	final := c.runLoop(ctx)
	c.terminalReason = finalReason(final)
	if final.err != nil {
		c.logger.Warnw("call ending on error", "reason", c.terminalReason, "error", final.err)
		c.playFallbackPhrase()
	}
	return final.err
}

func finalReason(ev ctlEvent) string {
	if ev.reason != "" {
		return ev.reason
	}
	switch ev.kind {
	case ctlHangup:
		return "caller_hangup"
	case ctlTransportError:
		return "transport_error"
	case ctlProviderError:
		return "provider_error"
	case ctlShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// runLoop merges the per-source queues. Sources are consumed in arrival
// order per source. The control queue is checked first on every pass, so a
// pending control event wins over everything else; among the other ready
// sources (ARI events, tool results, provider events, drain notices,
// caller audio) select picks one at random, so no order between them is
// defined.
func (c *Coordinator) runLoop(ctx context.Context) ctlEvent {
	for {
		select {
		case ev := <-c.ctlQ:
			return ev
		default:
		}
		select {
		case ev := <-c.ctlQ:
			return ev
		case ev := <-c.ariQ:
			c.handleARI(ev)
		case inv := <-c.toolQ:
			c.handleToolOutcome(inv)
		case ev, ok := <-c.provEvents:
			if !ok {
				c.provEvents = nil
				continue
			}
			c.handleProviderEvent(ev)
		case gen := <-c.drainQ:
			c.handleDrained(gen)
		case pcm := <-c.audioQ:
			c.handleCallerFrame(pcm)
		case <-ctx.Done():
			return ctlEvent{kind: ctlShutdown}
		}
	}
}

// --- construction helpers --------------------------------------------------

func (c *Coordinator) buildAudioPath() {
	p := c.resolved.Profile
	c.inSamples = make([]int16, 0, audioprofile.FrameSamples(p.CallerRate))
	c.forwardBuf = make([]byte, 0, audioprofile.FrameSamples(p.CallerToProviderRate)*2)
	c.egressSamples = make([]int16, 0, 4096)
	c.egressPending = make([]int16, 0, 8192)
	if p.CallerRate != p.CallerToProviderRate {
		c.upResampler, _ = codec.NewResampler(p.CallerRate, p.CallerToProviderRate)
	}
	if p.ProviderOutputRate != p.WireOutRate {
		c.downResampler, _ = codec.NewResampler(p.ProviderOutputRate, p.WireOutRate)
	}
}

func (c *Coordinator) buildEndpointer() {
	v, b := c.doc.VAD, c.doc.BargeIn
	energy := vad.NewEnergyDetector(v.EnergyThreshold, v.AdaptiveThresholdEnabled, v.NoiseAdaptationRate)
	classifier := vad.NewFrameClassifier(v.Aggressiveness)
	c.endpointer = vad.NewEndpointer(vad.Config{
		WebrtcStartFrames:              v.WebrtcStartFrames,
		WebrtcEndSilenceFrames:         v.WebrtcEndSilenceFrames,
		MinMs:                          v.MinMs,
		FrameDurationMs:                frameMs,
		InitialProtectionMs:            msdur(b.InitialProtectionMs),
		GreetingProtectionMs:           msdur(b.GreetingProtectionMs),
		PostTTSEndProtectionMs:         msdur(b.PostTTSEndProtectionMs),
		CooldownMs:                     msdur(b.CooldownMs),
		ProviderOutputSuppressMs:       msdur(b.ProviderOutputSuppressMs),
		ProviderOutputSuppressExtendMs: msdur(b.ProviderOutputSuppressExtendMs),
		ChunkExtendMs:                  msdur(b.ChunkExtendMs),
		UseProviderVAD:                 c.useProviderVAD(),
		FallbackEnabled:                v.FallbackEnabled,
		FallbackIntervalMs:             msdur(v.FallbackIntervalMs),
	}, energy, classifier)
}

func msdur(ms int) time.Duration { return time.Duration(ms) * time.Millisecond }

func (c *Coordinator) useProviderVAD() bool {
	return c.doc.VAD.UseProviderVAD || c.resolved.Provider.UseProviderVAD
}

// fileMode reports whether agent audio goes out via the file-playback
// fallback instead of paced frames. AudioSocket always streams; the RTP
// transport streams for monolithic providers and renders files for
// modular pipelines or when configured explicitly.
func (c *Coordinator) fileMode() bool {
	if c.doc.AudioTransport != "externalmedia" {
		return false
	}
	if c.resolved.Provider.Kind == "modular" {
		return true
	}
	return c.doc.DownstreamMode == "file_playback"
}

func (c *Coordinator) startPlayback() {
	if c.fileMode() {
		c.fileFB = playback.NewFileFallbackScheduler(c.doc.Streaming.MediaDir, c.deps.ARI, c.channelID, c.resolved.Profile.ProviderOutputRate)
		return
	}
	var agc *playback.AGC
	if c.doc.Streaming.NormalizeLoudness {
		agc = playback.NewAGC(c.doc.Streaming.TargetRMS, c.doc.Streaming.MaxGainDB)
	}
	p := c.resolved.Profile
	c.sched = playback.NewScheduler(playback.Config{
		MinStartMs:           p.MinStartMs,
		GreetingMinStartMs:   p.GreetingMinStartMs,
		LowWatermarkMs:       p.LowWatermarkMs,
		EmptyBackoffTicksMax: c.doc.Streaming.EmptyBackoffTicksMax,
		FrameMs:              frameMs,
		SilenceFrame:         c.silenceFrame(),
	}, meteredWriter{c: c, inner: c.writer}, agc)
	c.sched.OnResponseDrained(func(gen uint64) {
		select {
		case c.drainQ <- gen:
		default:
		}
	})
	go c.sched.Run(c.mediaCtx)
}

func (c *Coordinator) systemPrompt() string {
	var b strings.Builder
	if prefix := c.doc.LLM.SystemPromptPrefix; prefix != "" {
		b.WriteString(prefix)
		b.WriteString("\n\n")
	}
	b.WriteString(c.resolved.Context.Prompt)
	if c.vars.Persona != "" {
		b.WriteString("\n\nAdopt this persona: ")
		b.WriteString(c.vars.Persona)
	}
	return b.String()
}

func (c *Coordinator) greetingText() string {
	if c.vars.Greeting != "" {
		return c.vars.Greeting
	}
	return c.resolved.Context.Greeting
}

// --- caller audio ----------------------------------------------------------

func (c *Coordinator) handleCallerFrame(pcm []byte) {
	c.inSamples = codec.PCM16LEToSamples(pcm, c.inSamples)
	state, finalized := c.endpointer.ObserveFrame(c.inSamples)

	if state == vad.SpeechConfirmed && c.endpointer.SuppressingProviderOutput() {
		c.endpointer.ExtendSuppression(msdur(c.doc.BargeIn.ProviderOutputSuppressExtendMs))
	}
	if (c.state == StateResponding || c.state == StateGreeting) && c.endpointer.ShouldBargeIn() {
		c.onBargeIn()
	}

	c.forwardCallerAudio(c.inSamples)

	if finalized {
		c.onUtteranceFinalized()
	}
}

func (c *Coordinator) onUtteranceFinalized() {
	if c.useProviderVAD() {
		// Provider-owned endpointing: engine VAD acts only as a watchdog
		// that nudges the provider during very long silence.
		cfg := c.doc.VAD
		if cfg.FallbackEnabled && time.Since(c.lastProviderAt) > msdur(cfg.FallbackIntervalMs) {
			c.logger.Debugw("provider silent past fallback interval, forcing end of utterance")
			c.session.EndUtterance()
		}
		return
	}
	if c.state != StateListening {
		return
	}
	c.setState(StateEndpointed)
	c.utteranceEndAt = time.Now()
	c.armTurnLatency()
	c.session.EndUtterance()
	if c.resolved.Provider.Kind == "modular" {
		c.setState(StateThinking)
	} else {
		c.setState(StateResponding)
	}
}

func (c *Coordinator) armTurnLatency() {
	c.turnPendingNanos.Store(time.Now().UnixNano())
}

func (c *Coordinator) onBargeIn() {
	c.logger.Infow("barge-in: cancelling agent response")
	c.setState(StateBargedIn)
	c.session.CancelCurrentResponse()
	if c.sched != nil {
		c.sched.Cancel()
	}
	c.stopFilePlayback()
	c.endpointer.OnBargeIn()
	c.turnPendingNanos.Store(0)
	c.responseEnded = false
	c.egressPending = c.egressPending[:0]
	c.setState(StateListening)
}

// --- provider events -------------------------------------------------------

func (c *Coordinator) handleProviderEvent(ev provider.Event) {
	c.lastProviderAt = time.Now()
	switch ev.Kind {
	case provider.EventResponseStarted:
		isGreeting := c.state == StateGreeting
		if c.sched != nil {
			c.sched.BeginResponse(isGreeting)
		}
		c.endpointer.OnResponseStart(isGreeting)
		c.responseEnded = false
		c.agentText.Reset()
		c.fileBuf = c.fileBuf[:0]
		c.firstTextAt, c.firstAudioAt = time.Time{}, time.Time{}
		if !isGreeting {
			c.setState(StateResponding)
		}

	case provider.EventPartialTranscript:
		c.logger.Debugw("partial transcript", "text", ev.PartialTranscript)

	case provider.EventFinalTranscript:
		c.appendTranscript("caller", ev.FinalTranscript)
		now := time.Now()
		if !c.utteranceEndAt.IsZero() {
			c.deps.Metrics.STTLatency.Record(context.Background(), now.Sub(c.utteranceEndAt).Seconds())
		}
		c.finalAt = now
		if c.useProviderVAD() {
			// The provider's turn-end signal is authoritative here.
			c.armTurnLatency()
			if c.state == StateListening {
				c.setState(StateEndpointed)
			}
		}

	case provider.EventAgentTextChunk:
		if c.firstTextAt.IsZero() {
			c.firstTextAt = time.Now()
			if !c.finalAt.IsZero() {
				c.deps.Metrics.LLMLatency.Record(context.Background(), c.firstTextAt.Sub(c.finalAt).Seconds())
			}
		}
		c.agentText.WriteString(ev.AgentTextChunk)

	case provider.EventAgentAudioChunk:
		if c.endpointer.SuppressingProviderOutput() {
			c.endpointer.ExtendSuppression(msdur(c.doc.BargeIn.ChunkExtendMs))
			c.deps.Metrics.TransportFramesDropped.Add(context.Background(), 1)
			return
		}
		if c.firstAudioAt.IsZero() {
			c.firstAudioAt = time.Now()
			if !c.firstTextAt.IsZero() {
				c.deps.Metrics.TTSLatency.Record(context.Background(), c.firstAudioAt.Sub(c.firstTextAt).Seconds())
			}
		}
		if c.fileFB != nil {
			c.fileBuf = append(c.fileBuf, ev.AgentAudioChunk...)
			return
		}
		c.handleAgentAudio(ev.AgentAudioChunk)

	case provider.EventResponseEnded:
		c.responseEnded = true
		if text := c.agentText.String(); text != "" {
			c.appendTranscript("agent", text)
		}
		c.turnCount++
		if c.fileFB != nil {
			c.startFilePlayback()
			return
		}
		c.flushEgress()
		c.sched.MarkResponseEnded()

	case provider.EventToolCallRequest:
		c.startTool(ev.ToolCall)

	case provider.EventError:
		c.pushCtl(ctlEvent{kind: ctlProviderError, err: engineerrors.Provider(engineerrors.ProviderDisconnect, "provider session failed", ev.Err)})
	}
}

func (c *Coordinator) handleDrained(gen uint64) {
	if c.sched != nil && gen != c.sched.Generation() {
		return // a cancellation superseded this response
	}
	c.finishAgentPlayback()
}

// finishAgentPlayback marks the end of agent audio on the wire: post-TTS
// protection starts counting from here, not from the provider's
// response_ended, which can precede the last frame by seconds.
func (c *Coordinator) finishAgentPlayback() {
	c.endpointer.OnResponseEnd()
	if c.state == StateResponding || c.state == StateGreeting {
		c.setState(StateListening)
	}
}

// --- file-playback fallback ------------------------------------------------

func (c *Coordinator) startFilePlayback() {
	if len(c.fileBuf) == 0 {
		c.finishAgentPlayback()
		return
	}
	id, path, err := c.fileFB.Play(c.fileBuf)
	c.fileBuf = c.fileBuf[:0]
	if err != nil {
		c.logger.Errorw("file playback failed", "error", err)
		c.finishAgentPlayback()
		return
	}
	if at := c.turnPendingNanos.Swap(0); at != 0 {
		c.deps.Metrics.TurnLatency.Record(context.Background(), time.Duration(time.Now().UnixNano()-at).Seconds())
	}
	c.filePaths[id] = path
}

func (c *Coordinator) stopFilePlayback() {
	for id, path := range c.filePaths {
		_ = c.deps.ARI.StopPlayback(context.Background(), id)
		c.fileFB.Cleanup(path)
		delete(c.filePaths, id)
	}
}

// --- ARI events ------------------------------------------------------------

func (c *Coordinator) handleARI(ev ari.Event) {
	if ev.Type == ari.EventPlaybackFinished && ev.Playback != nil {
		c.waiters.Done(ev.Playback.ID)
		if path, ok := c.filePaths[ev.Playback.ID]; ok {
			c.fileFB.Cleanup(path)
			delete(c.filePaths, ev.Playback.ID)
			c.finishAgentPlayback()
		}
		return
	}

	chID := ev.ChannelID()
	switch {
	case chID == c.channelID:
		c.handlePrimaryARI(ev)
	case chID == c.mediaChannelID:
		c.handleMediaARI(ev)
	default:
		c.routeSecondaryARI(chID, ev)
	}
}

func (c *Coordinator) handlePrimaryARI(ev ari.Event) {
	switch ev.Type {
	case ari.EventStasisEnd, ari.EventChannelHangup, ari.EventChannelDestroyed:
		reason := "caller_hangup"
		if c.transferActive || ev.Type == ari.EventStasisEnd && c.dispatcher.IsRunning() {
			// The channel left our application because a transfer moved it;
			// that is a success, not a hangup.
			reason = "transferred"
			c.transferActive = true
		}
		c.pushCtl(ctlEvent{kind: ctlHangup, reason: reason})
	case ari.EventChannelDtmf:
		c.logger.Debugw("caller dtmf", "digit", ev.Digit)
	}
}

func (c *Coordinator) handleMediaARI(ev ari.Event) {
	switch ev.Type {
	case ari.EventStasisEnd, ari.EventChannelHangup, ari.EventChannelDestroyed:
		if c.state == StateTearingDown || c.state == StateDone {
			return
		}
		// The caller's own StasisEnd usually follows within the grace
		// window; give it that chance so the summary records a hangup
		// rather than a transport fault. A late push into a torn-down
		// session is discarded by the closed run loop.
		err := engineerrors.Transport("media channel left mid-call", nil)
		time.AfterFunc(c.deps.Timeouts.ProviderGrace, func() {
			c.pushCtl(ctlEvent{kind: ctlTransportError, err: err})
		})
	}
}

func (c *Coordinator) routeSecondaryARI(chID string, ev ari.Event) {
	switch ev.Type {
	case ari.EventStasisStart:
		c.dispatcher.RouteEvent(chID, tool.RouteEventChannelAnswered, "")
	case ari.EventStasisEnd, ari.EventChannelDestroyed, ari.EventChannelHangup:
		c.dispatcher.RouteEvent(chID, tool.RouteEventChannelDestroyed, "")
	case ari.EventChannelDtmf:
		c.dispatcher.RouteEvent(chID, tool.RouteEventDTMF, ev.Digit)
	}
}

// registerSecondary routes a tool-originated channel's events to this
// coordinator for the lifetime of the tool call.
func (c *Coordinator) registerSecondary(channelID string) {
	c.secondaryMu.Lock()
	c.secondaries = append(c.secondaries, channelID)
	c.secondaryMu.Unlock()
	c.deps.Registry.Add(channelID, c)
}

func (c *Coordinator) unregisterSecondary(channelID string) {
	c.deps.Registry.Remove(channelID)
}

// --- tools -----------------------------------------------------------------

func (c *Coordinator) startTool(tc provider.ToolCallRequest) {
	c.setState(StateToolRunning)
	c.toolInvocations = append(c.toolInvocations, tc.Name)
	go func() {
		inv := c.dispatcher.Dispatch(c.toolCtx, tc.ID, tc.Name, tc.Args)
		select {
		case c.toolQ <- inv:
		case <-c.mediaCtx.Done():
		}
	}()
}

func (c *Coordinator) handleToolOutcome(inv *tool.Invocation) {
	status := "succeeded"
	if inv.Status != tool.StatusSucceeded {
		status = "failed"
	}
	c.deps.Metrics.ToolInvocations.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("tool", inv.Name), attribute.String("status", status)))

	bridged := false
	if m, ok := inv.Result.(map[string]any); ok {
		bridged, _ = m["bridged"].(bool)
	}

	if inv.Status == tool.StatusSucceeded && (c.dispatcher.Terminal(inv.Name) || bridged) {
		// The caller has been routed elsewhere (or hung up); no further
		// agent output belongs on this channel.
		c.transferActive = inv.Name != "hangup_call"
		c.pushCtl(ctlEvent{kind: ctlToolTerminal, reason: "tool:" + inv.Name})
		return
	}

	value := inv.Result
	if inv.Err != nil {
		value = map[string]any{"error": inv.Err.Error()}
	}
	if err := c.session.SubmitToolResult(inv.ID, value); err != nil {
		c.logger.Warnw("failed to submit tool result", "tool", inv.Name, "error", err)
	}
	c.setState(StateThinking)
}

// --- transcript / summary --------------------------------------------------

func (c *Coordinator) appendTranscript(speaker, text string) {
	c.transcriptMu.Lock()
	defer c.transcriptMu.Unlock()
	c.transcript = append(c.transcript, TranscriptTurn{Speaker: speaker, Text: text, At: time.Now()})
}

func (c *Coordinator) transcriptEntries() []tool.TranscriptEntry {
	c.transcriptMu.Lock()
	defer c.transcriptMu.Unlock()
	out := make([]tool.TranscriptEntry, len(c.transcript))
	for i, t := range c.transcript {
		out[i] = tool.TranscriptEntry{Speaker: t.Speaker, Text: t.Text}
	}
	return out
}

func (c *Coordinator) callMetadata() tool.CallMetadata {
	return tool.CallMetadata{
		ChannelID:    c.channelID,
		CallerName:   c.vars.CallerName,
		CallerNumber: c.vars.CallerNumber,
		Context:      c.resolved.ContextName,
		StartedAt:    c.startedAt,
		EndedAt:      time.Now(),
	}
}

// --- error fallback / teardown ---------------------------------------------

// playFallbackPhrase plays the configured short phrase so the caller is
// not left in silence before the error hangup. Bounded by the fallback
// timeout; failures are only logged, the teardown proceeds regardless.
func (c *Coordinator) playFallbackPhrase() {
	uri := c.doc.Streaming.FallbackMediaURI
	if uri == "" {
		uri = "sound:an-error-has-occurred"
	}
	id, err := c.deps.ARI.PlayMedia(c.channelID, uri)
	if err != nil {
		c.logger.Warnw("failed to play fallback phrase", "error", err)
		return
	}
	c.waiters.Wait(id, c.deps.Timeouts.FallbackTimeout)
}

// teardown releases every resource in a fixed order: provider session,
// playback, transport, bridge membership, tool task. Idempotent; bounded
// by the teardown deadline, past which remaining cleanup is abandoned
// with a warning.
func (c *Coordinator) teardown() {
	c.teardownOnce.Do(func() {
		c.setState(StateTearingDown)
		done := make(chan struct{})
		go func() {
			defer close(done)

			if c.session != nil {
				_ = c.session.Close()
			}
			if c.sched != nil {
				c.sched.Cancel()
			}
			c.stopFilePlayback()
			c.mediaCancel() // stops the playback pump and RTP loops

			ctx, cancel := context.WithTimeout(context.Background(), c.deps.Timeouts.TeardownDeadline)
			defer cancel()
			if c.mediaChannelID != "" {
				_ = c.deps.ARI.Hangup(ctx, c.mediaChannelID)
				c.deps.Registry.Remove(c.mediaChannelID)
			}
			if c.rtpRelease != nil {
				c.rtpRelease()
			}
			if c.bridgeID != "" {
				_ = c.deps.ARI.DestroyBridge(ctx, c.bridgeID)
			}
			c.toolCancel()

			c.secondaryMu.Lock()
			secondaries := c.secondaries
			c.secondaries = nil
			c.secondaryMu.Unlock()
			for _, id := range secondaries {
				c.deps.Registry.Remove(id)
			}

			if !c.transferActive {
				_ = c.deps.ARI.Hangup(ctx, c.channelID)
			}
		}()

		select {
		case <-done:
		case <-time.After(c.deps.Timeouts.TeardownDeadline):
			c.logger.Warnw("teardown exceeded deadline, forcing close",
				"error", engineerrors.TeardownTimeout("session teardown overran its deadline", nil))
		}

		c.setState(StateDone)
		emitSummary(c.logger, Summary{
			ChannelID:       c.channelID,
			CallerName:      c.vars.CallerName,
			CallerNumber:    c.vars.CallerNumber,
			Context:         c.resolved.ContextName,
			Provider:        c.resolved.ProviderName,
			StartedAt:       c.startedAt,
			EndedAt:         time.Now(),
			TurnCount:       c.turnCount,
			ToolInvocations: c.toolInvocations,
			TerminalReason:  c.terminalReason,
		})
	})
}
