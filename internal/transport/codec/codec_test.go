package codec

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestULaw_RoundTrip_BitExact verifies the companding law: every µ-law
// byte decodes to a 13-bit linear value that encodes back to the same
// byte. The one exception is the negative-zero alias (0x7F), which
// decodes to the same linear value as 0xFF.
func TestULaw_RoundTrip_BitExact(t *testing.T) {
	for b := 0; b < 256; b++ {
		dec := ULawDecode([]byte{byte(b)}, nil)
		require.Len(t, dec, 1)
		enc := ULawEncode(dec, nil)
		if enc[0] != byte(b) {
			assert.Equal(t, byte(0xFF), enc[0], "byte 0x%02x re-encoded to 0x%02x", b, enc[0])
			assert.Equal(t, byte(0x7F), byte(b), "only the negative-zero alias may re-encode differently")
		}
	}
}

// TestALaw_RoundTrip_BitExact is the A-law sibling; A-law has no
// zero alias, so every byte must survive the round trip exactly.
func TestALaw_RoundTrip_BitExact(t *testing.T) {
	for b := 0; b < 256; b++ {
		dec := ALawDecode([]byte{byte(b)}, nil)
		require.Len(t, dec, 1)
		enc := ALawEncode(dec, nil)
		assert.Equal(t, byte(b), enc[0], "byte 0x%02x re-encoded to 0x%02x", b, enc[0])
	}
}

// TestULaw_EncodeDecode_WithinQuantizationStep bounds the sample-domain
// error: µ-law's step size grows with amplitude (one sixteenth of the
// biased magnitude), so the tolerance is proportional rather than flat.
func TestULaw_EncodeDecode_WithinQuantizationStep(t *testing.T) {
	const thirteenBitMax = 1 << 12 // +/- 4096
	in := make([]int16, 0, 2*thirteenBitMax/4)
	for s := -thirteenBitMax; s < thirteenBitMax; s += 4 {
		in = append(in, int16(s))
	}

	enc := ULawEncode(in, nil)
	dec := ULawDecode(enc, nil)
	require.Len(t, dec, len(in))

	for i, orig := range in {
		step := float64(abs(int(orig))+132)/16 + 2
		assert.InDelta(t, orig, dec[i], step, "sample %d: %d -> %d", i, orig, dec[i])
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func TestULaw_Decode_KnownSilence(t *testing.T) {
	// 0xFF is the canonical µ-law encoding of (near) zero.
	dec := ULawDecode([]byte{0xFF}, nil)
	assert.InDelta(t, 0, dec[0], 8)
}

func TestPCM16LE_RoundTrip(t *testing.T) {
	in := []int16{0, 1, -1, 32767, -32768, 12345, -12345}
	var bytesBuf []byte
	var samplesBuf []int16

	enc := SamplesToPCM16LE(in, bytesBuf)
	require.Len(t, enc, len(in)*2)

	dec := PCM16LEToSamples(enc, samplesBuf)
	assert.Equal(t, in, dec)
}

// TestResample_Idempotent_SameRate verifies that resampling at identical
// rates is bit-exact: the filter is bypassed entirely.
func TestResample_Idempotent_SameRate(t *testing.T) {
	r, err := NewResampler(8000, 8000)
	require.NoError(t, err)

	in := makeSineSamples(8000, 440, 160)
	out := r.Process(in)
	assert.Equal(t, in, out)
}

// TestResample_UpThenDown_ReturnsWithinNoiseThreshold exercises the
// round-trip law: up-then-down at an integer ratio returns the input
// within quantization noise. The polyphase filter has group delay, so
// the comparison first finds the best alignment between input and round
// trip rather than assuming sample i maps to sample i.
func TestResample_UpThenDown_ReturnsWithinNoiseThreshold(t *testing.T) {
	up, err := NewResampler(8000, 16000)
	require.NoError(t, err)
	down, err := NewResampler(16000, 8000)
	require.NoError(t, err)

	in := makeSineSamples(8000, 300, 1600) // 200ms at 8kHz
	upSamples := append([]int16(nil), up.Process(in)...)
	roundTripped := append([]int16(nil), down.Process(upSamples)...)
	require.Greater(t, len(roundTripped), len(in)/2, "round trip lost too much audio")

	shift, residual := bestAlignment(in, roundTripped, 128)
	t.Logf("alignment shift=%d residual=%.1f", shift, residual)
	assert.Less(t, residual, 500.0, "round-tripped audio diverged beyond quantization noise")
}

// bestAlignment slides b against a within +/-maxShift and returns the
// shift minimizing the mean absolute difference over the overlap, along
// with that residual. Edges are skipped to stay clear of filter priming.
func bestAlignment(a, b []int16, maxShift int) (bestShift int, bestResidual float64) {
	const margin = 64
	bestResidual = math.MaxFloat64
	for shift := -maxShift; shift <= maxShift; shift++ {
		var sum float64
		var n int
		for i := margin; i < len(a)-margin; i++ {
			j := i + shift
			if j < 0 || j >= len(b) {
				continue
			}
			sum += math.Abs(float64(a[i]) - float64(b[j]))
			n++
		}
		if n == 0 {
			continue
		}
		if residual := sum / float64(n); residual < bestResidual {
			bestResidual = residual
			bestShift = shift
		}
	}
	return bestShift, bestResidual
}

func makeSineSamples(rate, freqHz, n int) []int16 {
	samples := make([]int16, n)
	for i := 0; i < n; i++ {
		t := float64(i) / float64(rate)
		samples[i] = int16(8000 * math.Sin(2*math.Pi*float64(freqHz)*t))
	}
	return samples
}
