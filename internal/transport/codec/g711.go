// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package codec implements the media-path sample-rate and companding
// conversions: G.711 µ-law/A-law via zaf/g711's table codec and sample
// rate conversion via tphakala/go-audio-resampler. These are the only
// CPU-hot paths in the engine and must not allocate per frame, so the
// G.711 and PCM functions append into a caller-owned buffer and the
// Resampler reuses its own internal buffers.
package codec

import "github.com/zaf/g711"

// ULawDecode writes len(in) decoded PCM16 samples into out (out must have
// capacity >= len(in)); returns the PCM16 slice.
func ULawDecode(in []byte, out []int16) []int16 {
	out = out[:0]
	for _, b := range in {
		out = append(out, g711.DecodeUlawFrame(b))
	}
	return out
}

// ULawEncode writes len(in) encoded µ-law bytes into out.
func ULawEncode(in []int16, out []byte) []byte {
	out = out[:0]
	for _, s := range in {
		out = append(out, g711.EncodeUlawFrame(s))
	}
	return out
}

// ALawDecode writes len(in) decoded PCM16 samples into out (out must have
// capacity >= len(in)); returns the PCM16 slice.
func ALawDecode(in []byte, out []int16) []int16 {
	out = out[:0]
	for _, b := range in {
		out = append(out, g711.DecodeAlawFrame(b))
	}
	return out
}

// ALawEncode writes len(in) encoded A-law bytes into out.
func ALawEncode(in []int16, out []byte) []byte {
	out = out[:0]
	for _, s := range in {
		out = append(out, g711.EncodeAlawFrame(s))
	}
	return out
}
