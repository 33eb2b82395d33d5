package playback

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	pushed  [][]byte
	padding []bool
}

func (w *fakeWriter) PushAudio(payload []byte, isPadding bool) {
	w.pushed = append(w.pushed, payload)
	w.padding = append(w.padding, isPadding)
}

func testSchedulerConfig() Config {
	return Config{
		MinStartMs:           60,  // 3 frames at 20ms
		GreetingMinStartMs:   20,  // 1 frame
		LowWatermarkMs:       40,  // 2 frames
		EmptyBackoffTicksMax: 2,
		FrameMs:              20,
		SilenceFrame:         make([]byte, 320),
	}
}

func TestScheduler_StartGate_HoldsUntilThreshold(t *testing.T) {
	w := &fakeWriter{}
	s := NewScheduler(testSchedulerConfig(), w, nil)
	s.BeginResponse(false)

	s.Enqueue([]byte{1})
	assert.False(t, s.Pump(), "below min_start_ms, gate must stay closed")
	assert.Empty(t, w.pushed)

	s.Enqueue([]byte{2})
	s.Enqueue([]byte{3}) // now 3 frames buffered = 60ms threshold
	assert.True(t, s.Pump())
	require.Len(t, w.pushed, 1)
	assert.Equal(t, []byte{1}, w.pushed[0])
	assert.False(t, w.padding[0])
}

func TestScheduler_GreetingUsesLowerThreshold(t *testing.T) {
	w := &fakeWriter{}
	s := NewScheduler(testSchedulerConfig(), w, nil)
	s.BeginResponse(true) // greeting: 20ms threshold = 1 frame

	s.Enqueue([]byte{1})
	assert.True(t, s.Pump(), "greeting threshold should open after just one frame")
}

func TestScheduler_DiscardsStaleGenerationOnCancel(t *testing.T) {
	w := &fakeWriter{}
	s := NewScheduler(testSchedulerConfig(), w, nil)
	s.BeginResponse(false)
	s.Enqueue([]byte{1})
	s.Enqueue([]byte{2})
	s.Enqueue([]byte{3})

	s.Cancel() // bumps generation, clears queue

	genAfterCancel := s.Generation()
	assert.Equal(t, uint64(1), genAfterCancel)

	// Nothing from the cancelled response should ever be emitted.
	s.BeginResponse(false)
	assert.False(t, s.Pump())
	assert.Empty(t, w.pushed)
}

func TestScheduler_WatermarkPauseEmitsBoundedSilence(t *testing.T) {
	w := &fakeWriter{}
	cfg := testSchedulerConfig()
	s := NewScheduler(cfg, w, nil)
	s.BeginResponse(false)

	// Open the gate with exactly enough to cross min_start but immediately
	// drop below low_watermark after the first real frame is consumed.
	s.Enqueue([]byte{1})
	s.Enqueue([]byte{2})
	s.Enqueue([]byte{3})
	require.True(t, s.Pump()) // consumes frame 1, 2 frames (40ms) remain == low watermark, not below

	require.True(t, s.Pump()) // consumes frame 2; 1 frame (20ms) remains, below the 40ms low watermark

	// The next tick sees bufferedMs (20) < low_watermark_ms (40) and must
	// emit silence padding instead of draining the last real frame early.
	require.True(t, s.Pump())
	assert.True(t, w.padding[len(w.padding)-1])

	// Padding is bounded by EmptyBackoffTicksMax.
	padCount := 0
	for i := 0; i < cfg.EmptyBackoffTicksMax+2; i++ {
		emitted := s.Pump()
		if !emitted {
			break
		}
		if w.padding[len(w.padding)-1] {
			padCount++
		}
	}
	assert.LessOrEqual(t, padCount, cfg.EmptyBackoffTicksMax)

	// Once the provider ends the response, nothing more will refill the
	// buffer: the watermark no longer applies and the tail real frame
	// must drain rather than strand below it.
	s.MarkResponseEnded()
	require.True(t, s.Pump())
	assert.Equal(t, []byte{3}, w.pushed[len(w.pushed)-1])
	assert.False(t, w.padding[len(w.padding)-1])
	assert.False(t, s.Pump(), "queue is empty after the tail drains")
}

func TestScheduler_ResponseEndDrainsTailBelowWatermark(t *testing.T) {
	w := &fakeWriter{}
	s := NewScheduler(testSchedulerConfig(), w, nil)

	done := make(chan uint64, 1)
	s.OnResponseDrained(func(gen uint64) { done <- gen })

	s.BeginResponse(true) // greeting threshold: one frame opens the gate
	s.Enqueue([]byte{1})
	s.Enqueue([]byte{2}) // 40ms buffered, never above the 40ms low watermark for long
	s.MarkResponseEnded()

	require.True(t, s.Pump())
	require.True(t, s.Pump(), "the below-watermark tail must still drain after response end")
	require.False(t, s.Pump())
	for _, isPadding := range w.padding {
		assert.False(t, isPadding, "no silence padding belongs in a finished response's tail")
	}
	select {
	case gen := <-done:
		assert.Equal(t, uint64(0), gen)
	case <-time.After(time.Second):
		t.Fatal("drained must fire once the tail empties")
	}
}

func TestScheduler_FiresOnResponseDrainedOnce(t *testing.T) {
	w := &fakeWriter{}
	cfg := testSchedulerConfig()
	cfg.LowWatermarkMs = 0 // no watermark padding: the lone frame drains on the first tick
	s := NewScheduler(cfg, w, nil)

	done := make(chan uint64, 1)
	s.OnResponseDrained(func(gen uint64) { done <- gen })

	s.BeginResponse(true) // greeting: opens immediately
	s.Enqueue([]byte{1})
	require.True(t, s.Pump()) // emits the only frame

	require.False(t, s.Pump(), "empty queue before MarkResponseEnded must not fire drained")
	select {
	case <-done:
		t.Fatal("drained fired before the response ended")
	default:
	}

	s.MarkResponseEnded()
	require.False(t, s.Pump())
	select {
	case gen := <-done:
		assert.Equal(t, uint64(0), gen)
	case <-time.After(time.Second):
		t.Fatal("expected onResponseDrained to fire")
	}
}
