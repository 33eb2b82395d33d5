// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package playback

import (
	"math"

	"github.com/rapidaai/callengine/internal/transport/codec"
)

// AGC is a single-pole automatic-gain-control normalizer operating on
// PCM16 in place. It tracks a smoothed short-term RMS and applies a
// gain that pulls it toward targetRMS, clipped to maxGainDB.
type AGC struct {
	targetRMS float64
	maxGain   float64 // linear, derived from maxGainDB
	smoothed  float64
	alpha     float64 // smoothing factor for the RMS tracker

	samplesBuf []int16
	bytesBuf   []byte
}

func NewAGC(targetRMS, maxGainDB float64) *AGC {
	return &AGC{
		targetRMS: targetRMS,
		maxGain:   math.Pow(10, maxGainDB/20),
		alpha:     0.2,
	}
}

// Apply normalizes one frame of little-endian PCM16 in place and returns
// the same backing slice.
func (a *AGC) Apply(pcm16LE []byte) []byte {
	a.samplesBuf = codec.PCM16LEToSamples(pcm16LE, a.samplesBuf)
	samples := a.samplesBuf

	frameRMS := rms(samples)
	a.smoothed = a.smoothed + a.alpha*(frameRMS-a.smoothed)
	if a.smoothed < 1e-6 {
		return pcm16LE // silence; nothing to normalize
	}

	gain := a.targetRMS / a.smoothed
	if gain > a.maxGain {
		gain = a.maxGain
	}
	if gain < 1/a.maxGain {
		gain = 1 / a.maxGain
	}

	for i, s := range samples {
		v := float64(s) * gain
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		samples[i] = int16(v)
	}

	a.bytesBuf = codec.SamplesToPCM16LE(samples, a.bytesBuf)
	copy(pcm16LE, a.bytesBuf)
	return pcm16LE
}

func rms(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sumSq float64
	for _, s := range samples {
		v := float64(s) / 32768.0
		sumSq += v * v
	}
	return math.Sqrt(sumSq / float64(len(samples)))
}
