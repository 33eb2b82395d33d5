// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package vad

import "time"

// SpeechState is the derived caller-speaking signal.
type SpeechState int

const (
	SpeechNone SpeechState = iota
	SpeechProvisional
	SpeechConfirmed
)

// Config bundles the tunables of the `vad` and `barge_in` config groups.
type Config struct {
	WebrtcStartFrames      int
	WebrtcEndSilenceFrames int
	MinMs                  int
	FrameDurationMs        int

	InitialProtectionMs            time.Duration
	GreetingProtectionMs           time.Duration
	PostTTSEndProtectionMs         time.Duration
	CooldownMs                     time.Duration
	ProviderOutputSuppressMs       time.Duration
	ProviderOutputSuppressExtendMs time.Duration
	ChunkExtendMs                  time.Duration

	UseProviderVAD     bool
	FallbackEnabled    bool
	FallbackIntervalMs time.Duration
}

// Endpointer is the per-call endpointing/barge-in state machine. It is
// owned exclusively by the call coordinator;
// all methods are called from that single goroutine, so no internal
// locking is needed.
type Endpointer struct {
	cfg Config
	now func() time.Time

	energy     *EnergyDetector
	classifier *FrameClassifier

	state              SpeechState
	consecutiveVoiced   int
	consecutiveUnvoiced int
	voicedMsAccum       int
	confirmedAt         time.Time

	responding       bool
	isGreeting       bool
	responseStartAt  time.Time
	lastResponseEnd  time.Time
	lastBargeInAt    time.Time

	suppressUntil time.Time
}

func NewEndpointer(cfg Config, energy *EnergyDetector, classifier *FrameClassifier) *Endpointer {
	return &Endpointer{cfg: cfg, energy: energy, classifier: classifier, now: time.Now}
}

// WithClock overrides the time source, used by tests to drive deterministic
// sequences without sleeping.
func (e *Endpointer) WithClock(now func() time.Time) *Endpointer {
	e.now = now
	return e
}

// OnResponseStart records that agent playback has begun, arming the
// initial/greeting protection windows.
func (e *Endpointer) OnResponseStart(isGreeting bool) {
	e.responding = true
	e.isGreeting = isGreeting
	e.responseStartAt = e.now()
}

// OnResponseEnd records the end of agent playback, arming post-TTS
// protection.
func (e *Endpointer) OnResponseEnd() {
	e.responding = false
	e.lastResponseEnd = e.now()
}

// ObserveFrame feeds one caller-audio frame and returns the updated
// speech state plus whether this call finalized an utterance (N
// consecutive unvoiced frames after a confirmed start).
func (e *Endpointer) ObserveFrame(samples []int16) (state SpeechState, utteranceFinalized bool) {
	voicedEnergy := e.energy.Observe(samples, float64(e.cfg.FrameDurationMs))
	voicedClass := e.classifier.Classify(samples)
	voicedNow := voicedEnergy && voicedClass

	if voicedNow {
		e.consecutiveVoiced++
		e.consecutiveUnvoiced = 0
		e.voicedMsAccum += e.cfg.FrameDurationMs
	} else {
		e.consecutiveUnvoiced++
	}

	switch e.state {
	case SpeechNone, SpeechProvisional:
		if voicedNow {
			e.state = SpeechProvisional
			if e.consecutiveVoiced >= e.cfg.WebrtcStartFrames && e.voicedMsAccum >= e.cfg.MinMs {
				e.state = SpeechConfirmed
				e.confirmedAt = e.now()
			}
		} else {
			e.state = SpeechNone
			e.consecutiveVoiced = 0
			e.voicedMsAccum = 0
		}
	case SpeechConfirmed:
		if !voicedNow && e.consecutiveUnvoiced >= e.cfg.WebrtcEndSilenceFrames {
			e.state = SpeechNone
			e.consecutiveVoiced = 0
			e.voicedMsAccum = 0
			return SpeechNone, true
		}
	}
	return e.state, false
}

// ShouldBargeIn evaluates the barge-in rule against the current
// speech state and the three suppression windows (initial/greeting
// protection, post-TTS protection, cooldown). Call after ObserveFrame
// transitions state to SpeechConfirmed while e.responding is true.
func (e *Endpointer) ShouldBargeIn() bool {
	if !e.responding || e.state != SpeechConfirmed {
		return false
	}
	now := e.now()

	protection := e.cfg.InitialProtectionMs
	if e.isGreeting && e.cfg.GreetingProtectionMs > protection {
		protection = e.cfg.GreetingProtectionMs
	}
	if now.Before(e.responseStartAt.Add(protection)) {
		return false
	}
	if now.Before(e.lastResponseEnd.Add(e.cfg.PostTTSEndProtectionMs)) {
		return false
	}
	if now.Before(e.lastBargeInAt.Add(e.cfg.CooldownMs)) {
		return false
	}
	return true
}

// OnBargeIn records a barge-in event and arms the provider-output
// suppression window (the caller of ShouldBargeIn is responsible for
// cancelling the provider response and bumping the playback generation;
// this only tracks the timing state).
func (e *Endpointer) OnBargeIn() {
	e.lastBargeInAt = e.now()
	e.responding = false
	e.suppressUntil = e.lastBargeInAt.Add(e.cfg.ProviderOutputSuppressMs)
}

// ExtendSuppression pushes the suppression deadline out by extendBy, used
// while the caller keeps speaking (provider_output_suppress_extend_ms) or
// while stale chunks keep arriving (chunk_extend_ms).
func (e *Endpointer) ExtendSuppression(extendBy time.Duration) {
	candidate := e.now().Add(extendBy)
	if candidate.After(e.suppressUntil) {
		e.suppressUntil = candidate
	}
}

// SuppressingProviderOutput reports whether provider-originated audio
// chunks should currently be discarded at egress following a barge-in.
func (e *Endpointer) SuppressingProviderOutput() bool {
	return e.now().Before(e.suppressUntil)
}

// State returns the current caller-speaking signal.
func (e *Endpointer) State() SpeechState { return e.state }
