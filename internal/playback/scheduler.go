// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package playback implements the downstream playback scheduler:
// a bounded ordered queue of agent-audio chunks, a start gate, a
// watermark pause, generation-tagged discard of stale chunks, and the
// file-playback fallback for non-streaming TTS.
package playback

import (
	"context"
	"sync"
	"time"
)

const frameCadence = 20 * time.Millisecond

// Writer is the transport-facing sink the scheduler paces frames into
// (satisfied directly by audiosocket.conn, and by rtp.Session only through
// the session package's rtpPlaybackWriter adapter).
type Writer interface {
	PushAudio(payload []byte, isPadding bool)
}

type taggedFrame struct {
	payload    []byte
	generation uint64
}

// Config mirrors the `streaming` and profile-level pacing tunables.
type Config struct {
	MinStartMs           int
	GreetingMinStartMs   int
	LowWatermarkMs       int
	EmptyBackoffTicksMax int
	FrameMs              int // nominal frame duration, 20ms
	SilenceFrame         []byte
}

// Scheduler turns a bursty stream of agent-audio chunks into steady
// frameCadence pacing on the wire. One Scheduler per call; owned
// exclusively by that call's coordinator.
type Scheduler struct {
	cfg Config
	out Writer
	agc *AGC // nil when loudness normalization is disabled

	mu                sync.Mutex
	frames            []taggedFrame
	generation        uint64
	gateOpen          bool
	isGreeting        bool
	emptyBackoffCount int

	onResponseDrained func(generation uint64) // fires once per response when its queue empties after the provider finished
	drainArmed        bool
	respEnded         bool
}

func NewScheduler(cfg Config, out Writer, agc *AGC) *Scheduler {
	return &Scheduler{cfg: cfg, out: out, agc: agc}
}

// OnResponseDrained registers a callback invoked exactly once per response
// when its last chunk has left the queue (used to detect GREETING-
// >LISTENING transition).
func (s *Scheduler) OnResponseDrained(fn func(generation uint64)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onResponseDrained = fn
}

// BeginResponse arms the scheduler for a new response. isGreeting selects
// the lower greeting_min_start_ms threshold for the start gate.
func (s *Scheduler) BeginResponse(isGreeting bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isGreeting = isGreeting
	s.gateOpen = false
	s.drainArmed = true
	s.respEnded = false
	s.emptyBackoffCount = 0
}

// MarkResponseEnded records that the provider has delivered the last
// chunk of the current response; the drained callback fires only once the
// queue empties after this, so a mid-response buffer underrun is not
// mistaken for the response finishing.
func (s *Scheduler) MarkResponseEnded() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.respEnded = true
}

// Generation returns the current playback generation.
func (s *Scheduler) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// Enqueue tags payload with the current generation and appends it to the
// jitter buffer. payload must already be one frame's worth of wire-
// encoded audio.
func (s *Scheduler) Enqueue(payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.agc != nil {
		payload = s.agc.Apply(payload)
	}
	s.frames = append(s.frames, taggedFrame{payload: payload, generation: s.generation})
}

// Cancel bumps the generation (discarding all buffered chunks and marking
// any already-enqueued-but-not-yet-sent chunk stale) and closes the start
// gate. Called on barge-in.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.frames = s.frames[:0]
	s.gateOpen = false
	s.drainArmed = false
	s.respEnded = false
	s.emptyBackoffCount = 0
}

// Flush opens the start gate regardless of the buffered threshold. Called
// when a response ends with less audio buffered than min_start_ms, so a
// short final utterance is not held hostage by the gate.
func (s *Scheduler) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) > 0 {
		s.gateOpen = true
	}
}

func (s *Scheduler) bufferedMs() int {
	return len(s.frames) * s.cfg.FrameMs
}

// Pump runs one scheduling decision for the current tick: drop stale
// chunks, evaluate the start gate and watermark pause, and emit at most
// one frame. Returns true if a frame (real or silence padding) was
// emitted this tick.
func (s *Scheduler) Pump() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.frames) > 0 && s.frames[0].generation != s.generation {
		s.frames = s.frames[1:]
	}

	threshold := s.cfg.MinStartMs
	if s.isGreeting {
		threshold = s.cfg.GreetingMinStartMs
	}
	if !s.gateOpen {
		// A finished response never accumulates more audio, so the gate
		// has nothing left to wait for.
		if !s.respEnded && s.bufferedMs() < threshold {
			return false
		}
		s.gateOpen = true
	}

	if len(s.frames) == 0 {
		if s.drainArmed && s.respEnded && s.onResponseDrained != nil {
			s.drainArmed = false
			gen := s.generation
			go s.onResponseDrained(gen)
		}
		return false
	}

	// The watermark pause only makes sense while more chunks may still
	// arrive; once the provider has ended the response the remaining tail
	// drains unconditionally so the queue can empty and drained can fire.
	if !s.respEnded && s.bufferedMs() < s.cfg.LowWatermarkMs {
		if s.emptyBackoffCount < s.cfg.EmptyBackoffTicksMax {
			s.emptyBackoffCount++
			s.out.PushAudio(s.cfg.SilenceFrame, true)
			return true
		}
		return false // paused: wait for refill
	}
	s.emptyBackoffCount = 0

	f := s.frames[0]
	s.frames = s.frames[1:]
	s.out.PushAudio(f.payload, false)
	return true
}

// Run drives Pump on frameCadence until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(frameCadence)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Pump()
		}
	}
}
