// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package codec

// PCM16LEToSamples decodes little-endian PCM16 bytes into out.
func PCM16LEToSamples(in []byte, out []int16) []int16 {
	out = out[:0]
	for i := 0; i+1 < len(in); i += 2 {
		out = append(out, int16(uint16(in[i])|uint16(in[i+1])<<8))
	}
	return out
}

// SamplesToPCM16LE encodes samples into little-endian PCM16 bytes in out.
func SamplesToPCM16LE(in []int16, out []byte) []byte {
	out = out[:0]
	for _, s := range in {
		u := uint16(s)
		out = append(out, byte(u), byte(u>>8))
	}
	return out
}
