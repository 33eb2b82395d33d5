package audiosocket

import (
	"bytes"
	"testing"

	"github.com/rapidaai/callengine/pkg/commons"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrame_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte{1, 2, 3, 4}
	require.NoError(t, WriteFrame(&buf, FrameAudio, payload))

	f, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, FrameAudio, f.Type)
	assert.Equal(t, payload, f.Payload)
}

func TestFrame_EmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, FrameHangup, nil))

	f, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, FrameHangup, f.Type)
	assert.Empty(t, f.Payload)
}

func newTestConn() *conn {
	logger, _ := commons.NewApplicationLogger()
	return &conn{logger: logger, closed: make(chan struct{})}
}

// TestPushAudio_EvictsPaddingBeforeRealAudio exercises the back-
// pressure rule: under a full queue, silence padding is dropped
// before any real agent-speech frame.
func TestPushAudio_EvictsPaddingBeforeRealAudio(t *testing.T) {
	c := newTestConn()

	for i := 0; i < outboundQueueCap; i++ {
		c.PushAudio([]byte{byte(i)}, true) // all padding
	}
	// Queue full of padding; push one real frame -- must not drop it, must
	// evict a padding frame instead.
	real := []byte{0xAA}
	c.PushAudio(real, false)

	assert.Len(t, c.queue, outboundQueueCap)
	foundReal := false
	for _, e := range c.queue {
		if !e.isPadding {
			foundReal = true
			assert.Equal(t, real, e.payload)
		}
	}
	assert.True(t, foundReal, "real audio frame must survive eviction")
}

func TestPushAudio_PopFIFO(t *testing.T) {
	c := newTestConn()
	c.PushAudio([]byte{1}, false)
	c.PushAudio([]byte{2}, false)

	p, ok := c.popFrame()
	require.True(t, ok)
	assert.Equal(t, []byte{1}, p)

	p, ok = c.popFrame()
	require.True(t, ok)
	assert.Equal(t, []byte{2}, p)

	_, ok = c.popFrame()
	assert.False(t, ok)
}
