package rtp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDejitterWindow_InOrder(t *testing.T) {
	w := newDejitterWindow(3)
	p, ok := w.accept(100, []byte{1})
	assert.True(t, ok)
	assert.Equal(t, []byte{1}, p)

	p, ok = w.accept(101, []byte{2})
	assert.True(t, ok)
	assert.Equal(t, []byte{2}, p)
}

func TestDejitterWindow_SmallReorderBuffered(t *testing.T) {
	w := newDejitterWindow(3)
	w.accept(100, []byte{1})

	// Packet 102 arrives before 101: must be buffered, not delivered yet.
	_, ok := w.accept(102, []byte{3})
	assert.False(t, ok)

	// 101 arrives late: delivered immediately since it is next-expected.
	p, ok := w.accept(101, []byte{2})
	assert.True(t, ok)
	assert.Equal(t, []byte{2}, p)
}

func TestDejitterWindow_TooLateDropped(t *testing.T) {
	w := newDejitterWindow(3)
	w.accept(100, []byte{1})
	w.accept(101, []byte{2})

	_, ok := w.accept(100, []byte{1}) // duplicate/late
	assert.False(t, ok)
}

func TestDejitterWindow_LargeGapSkipsAhead(t *testing.T) {
	w := newDejitterWindow(3)
	w.accept(100, []byte{1})

	// A gap larger than the window must not stall forever; accept and
	// resynchronize rather than waiting indefinitely.
	p, ok := w.accept(200, []byte{9})
	assert.True(t, ok)
	assert.Equal(t, []byte{9}, p)
}

func TestPayloadTypeNumbers_KnownCodecs(t *testing.T) {
	assert.Equal(t, uint8(0), payloadTypeNumbers[PayloadULaw])
	assert.Equal(t, uint8(8), payloadTypeNumbers[PayloadALaw])
}

func TestSamplesPerFrame(t *testing.T) {
	assert.Equal(t, 160, samplesPerFrame(PayloadULaw))
	assert.Equal(t, 320, samplesPerFrame(PayloadSLin16))
}
