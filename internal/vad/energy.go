// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package vad implements the two cooperating speech detectors (energy
// threshold, WebRTC-style voiced-frame classifier) and the endpointing /
// barge-in state machine that combines them.
package vad

import "math"

// EnergyDetector tracks windowed RMS energy over PCM16 caller audio and an
// optional adaptive noise floor.
type EnergyDetector struct {
	threshold        float64
	adaptiveEnabled  bool
	adaptationRate   float64 // per second
	noiseFloor       float64
}

func NewEnergyDetector(threshold float64, adaptiveEnabled bool, adaptationRatePerSecond float64) *EnergyDetector {
	return &EnergyDetector{
		threshold:       threshold,
		adaptiveEnabled: adaptiveEnabled,
		adaptationRate:  adaptationRatePerSecond,
		noiseFloor:       0,
	}
}

// RMS computes the root-mean-square energy of one PCM16 frame, normalized
// to [0, 1] against full scale.
func RMS(samples []int16) float64 {
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

// Observe feeds one frame's RMS energy at frameDurationMs cadence and
// returns voiced_now: whether energy exceeds the (possibly adaptive)
// threshold.
func (d *EnergyDetector) Observe(samples []int16, frameDurationMs float64) bool {
	energy := RMS(samples)

	effectiveThreshold := d.threshold
	if d.adaptiveEnabled {
		effectiveThreshold = d.threshold + d.noiseFloor
	}
	voiced := energy >= effectiveThreshold

	if d.adaptiveEnabled && !voiced {
		// Low-pass the noise floor toward the observed energy during
		// non-voiced frames only, so a sustained talker never drags the
		// floor upward.
		alpha := d.adaptationRate * (frameDurationMs / 1000.0)
		if alpha > 1 {
			alpha = 1
		}
		d.noiseFloor += alpha * (energy - d.noiseFloor)
	}
	return voiced
}

func (d *EnergyDetector) NoiseFloor() float64 { return d.noiseFloor }
