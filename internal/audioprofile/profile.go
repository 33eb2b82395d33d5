// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package audioprofile holds the negotiated-format bundles and the
// registry used to resolve a context's configured profile name to its
// concrete parameters.
package audioprofile

import (
	"fmt"
	"sync"
)

// Encoding enumerates the wire/codec encodings the engine understands.
type Encoding string

const (
	EncodingULaw Encoding = "ulaw"
	EncodingALaw Encoding = "alaw"
	EncodingSLin Encoding = "slin"   // linear PCM16 8k
	EncodingSLin16 Encoding = "slin16" // linear PCM16 16k
	EncodingPCM16 Encoding = "pcm16"  // generic linear PCM16 at Rate
)

// Profile is the bag of formats negotiated for the two ends of the
// media path.
type Profile struct {
	Name                     string
	InternalSampleRate       int
	CallerEncoding           Encoding
	CallerRate               int
	CallerToProviderEncoding Encoding
	CallerToProviderRate     int
	ProviderOutputEncoding   Encoding
	ProviderOutputRate       int
	WireOutEncoding          Encoding
	WireOutRate              int

	MinStartMs         int
	GreetingMinStartMs int
	LowWatermarkMs     int
}

// FrameSamples returns the number of samples in one 20ms frame at rate.
func FrameSamples(rate int) int {
	return rate * 20 / 1000
}

// Registry resolves profile names to their parameters. It starts with the
// built-in defaults; custom profiles from config.Document.Profiles are
// registered into it when a call resolves its profile. Safe for concurrent
// use.
type Registry struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

func NewRegistry() *Registry {
	return &Registry{profiles: map[string]Profile{
		"telephony_ulaw_8k": {
			Name: "telephony_ulaw_8k", InternalSampleRate: 8000,
			CallerEncoding: EncodingULaw, CallerRate: 8000,
			CallerToProviderEncoding: EncodingPCM16, CallerToProviderRate: 8000,
			ProviderOutputEncoding: EncodingPCM16, ProviderOutputRate: 8000,
			WireOutEncoding: EncodingULaw, WireOutRate: 8000,
			MinStartMs: 200, GreetingMinStartMs: 100, LowWatermarkMs: 60,
		},
		"telephony_responsive": {
			Name: "telephony_responsive", InternalSampleRate: 8000,
			CallerEncoding: EncodingULaw, CallerRate: 8000,
			CallerToProviderEncoding: EncodingPCM16, CallerToProviderRate: 8000,
			ProviderOutputEncoding: EncodingPCM16, ProviderOutputRate: 8000,
			WireOutEncoding: EncodingULaw, WireOutRate: 8000,
			MinStartMs: 80, GreetingMinStartMs: 40, LowWatermarkMs: 40,
		},
		"wideband_pcm_16k": {
			Name: "wideband_pcm_16k", InternalSampleRate: 16000,
			CallerEncoding: EncodingSLin16, CallerRate: 16000,
			CallerToProviderEncoding: EncodingPCM16, CallerToProviderRate: 16000,
			ProviderOutputEncoding: EncodingPCM16, ProviderOutputRate: 16000,
			WireOutEncoding: EncodingSLin16, WireOutRate: 16000,
			MinStartMs: 200, GreetingMinStartMs: 100, LowWatermarkMs: 60,
		},
		"openai_realtime_24k": {
			Name: "openai_realtime_24k", InternalSampleRate: 24000,
			CallerEncoding: EncodingULaw, CallerRate: 8000,
			CallerToProviderEncoding: EncodingPCM16, CallerToProviderRate: 24000,
			ProviderOutputEncoding: EncodingPCM16, ProviderOutputRate: 24000,
			WireOutEncoding: EncodingULaw, WireOutRate: 8000,
			MinStartMs: 200, GreetingMinStartMs: 100, LowWatermarkMs: 60,
		},
	}}
}

// Register installs or overrides a profile, used when config.Document
// declares custom profiles beyond the built-in defaults.
func (r *Registry) Register(p Profile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[p.Name] = p
}

func (r *Registry) Resolve(name string) (Profile, error) {
	r.mu.RLock()
	p, ok := r.profiles[name]
	r.mu.RUnlock()
	if !ok {
		return Profile{}, fmt.Errorf("unknown audio profile %q", name)
	}
	return p, nil
}
