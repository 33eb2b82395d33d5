// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package codec

import (
	"fmt"

	resampler "github.com/tphakala/go-audio-resampler"
)

// Resampler converts mono PCM16 between two sample rates, wrapping the
// polyphase converter so the per-frame call sites stay allocation-free:
// int16 <-> float32 conversion reuses internal buffers, and identical
// rates bypass filtering entirely (which also keeps same-rate conversion
// bit-exact). The underlying converter is stateful, so streamed
// frame-by-frame input resamples the same as one large buffer.
type Resampler struct {
	fromRate int
	toRate   int

	rs      resampler.Resampler
	fin     []float32
	scratch []int16
}

func newResamplerConfig(fromRate, toRate int) *resampler.Config {
	return &resampler.Config{
		InputRate:  float64(fromRate),
		OutputRate: float64(toRate),
		Channels:   1,
		Quality:    resampler.QualitySpec{Preset: resampler.QualityHigh},
	}
}

func NewResampler(fromRate, toRate int) (*Resampler, error) {
	if fromRate <= 0 || toRate <= 0 {
		return nil, fmt.Errorf("resampler rates must be positive, got %d -> %d", fromRate, toRate)
	}
	r := &Resampler{fromRate: fromRate, toRate: toRate}
	if fromRate == toRate {
		return r, nil
	}
	rs, err := resampler.New(newResamplerConfig(fromRate, toRate))
	if err != nil {
		return nil, fmt.Errorf("resampler %d -> %d: %w", fromRate, toRate, err)
	}
	r.rs = rs
	return r, nil
}

// Process resamples in (PCM16 at fromRate) and returns PCM16 at toRate,
// backed by r's internal scratch buffer (valid until the next call).
func (r *Resampler) Process(in []int16) []int16 {
	if r.rs == nil {
		if cap(r.scratch) < len(in) {
			r.scratch = make([]int16, len(in))
		}
		r.scratch = r.scratch[:len(in)]
		copy(r.scratch, in)
		return r.scratch
	}
	if len(in) == 0 {
		return r.scratch[:0]
	}

	if cap(r.fin) < len(in) {
		r.fin = make([]float32, len(in))
	}
	r.fin = r.fin[:len(in)]
	for i, s := range in {
		r.fin[i] = float32(s) / 32768
	}

	fout, err := r.rs.ProcessFloat32(r.fin)
	if err != nil {
		// A conversion failure mid-stream has no recovery short of
		// dropping the frame; the pacing layer absorbs the gap.
		return r.scratch[:0]
	}

	if cap(r.scratch) < len(fout) {
		r.scratch = make([]int16, len(fout))
	}
	r.scratch = r.scratch[:len(fout)]
	for i, f := range fout {
		v := f * 32768
		switch {
		case v > 32767:
			v = 32767
		case v < -32768:
			v = -32768
		}
		r.scratch[i] = int16(v)
	}
	return r.scratch
}

// Reset clears filter state; call when a stream's generation changes or a
// new utterance begins to avoid filtering across a discontinuity.
func (r *Resampler) Reset() {
	if r.rs == nil {
		return
	}
	if rs, err := resampler.New(newResamplerConfig(r.fromRate, r.toRate)); err == nil {
		r.rs = rs
	}
}
