package vad

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time   { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

// loudFrame is a square wave that flips sign every 10 samples: RMS ~0.37
// and a zero-crossing rate of 15/159 ~0.09, inside the classifier's voiced
// band.
func loudFrame() []int16 {
	s := make([]int16, 160)
	for i := range s {
		if (i/10)%2 == 0 {
			s[i] = 12000
		} else {
			s[i] = -12000
		}
	}
	return s
}

func silentFrame() []int16 {
	return make([]int16, 160)
}

func testConfig() Config {
	return Config{
		WebrtcStartFrames:      3,
		WebrtcEndSilenceFrames: 3,
		MinMs:                  40,
		FrameDurationMs:        20,

		InitialProtectionMs:     300 * time.Millisecond,
		GreetingProtectionMs:    500 * time.Millisecond,
		PostTTSEndProtectionMs:  200 * time.Millisecond,
		CooldownMs:              200 * time.Millisecond,
		ProviderOutputSuppressMs: 600 * time.Millisecond,
	}
}

func newTestEndpointer() (*Endpointer, *fakeClock) {
	return newTestEndpointerWithConfig(testConfig())
}

func newTestEndpointerWithConfig(cfg Config) (*Endpointer, *fakeClock) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	e := NewEndpointer(cfg, NewEnergyDetector(0.05, false, 0), NewFrameClassifier(0)).WithClock(clock.now)
	return e, clock
}

func TestEndpointer_ConfirmsSpeechAfterStartFrames(t *testing.T) {
	e, _ := newTestEndpointer()

	var state SpeechState
	for i := 0; i < 3; i++ {
		state, _ = e.ObserveFrame(loudFrame())
	}
	assert.Equal(t, SpeechConfirmed, state)
}

func TestEndpointer_FinalizesUtteranceAfterEndSilenceFrames(t *testing.T) {
	e, _ := newTestEndpointer()
	for i := 0; i < 3; i++ {
		e.ObserveFrame(loudFrame())
	}
	require.Equal(t, SpeechConfirmed, e.State())

	var finalized bool
	for i := 0; i < 3; i++ {
		_, finalized = e.ObserveFrame(silentFrame())
	}
	assert.True(t, finalized)
}

func TestEndpointer_NoBargeInDuringInitialProtection(t *testing.T) {
	e, clock := newTestEndpointer()
	e.OnResponseStart(false)
	clock.advance(100 * time.Millisecond) // inside 300ms initial protection

	for i := 0; i < 3; i++ {
		e.ObserveFrame(loudFrame())
	}
	assert.False(t, e.ShouldBargeIn())
}

func TestEndpointer_BargeInAfterProtectionExpires(t *testing.T) {
	e, clock := newTestEndpointer()
	e.OnResponseStart(false)
	clock.advance(400 * time.Millisecond) // past 300ms initial protection

	for i := 0; i < 3; i++ {
		e.ObserveFrame(loudFrame())
	}
	assert.True(t, e.ShouldBargeIn())
}

func TestEndpointer_NoBargeInDuringGreetingProtection(t *testing.T) {
	e, clock := newTestEndpointer()
	e.OnResponseStart(true) // greeting
	clock.advance(400 * time.Millisecond) // past initial (300) but inside greeting (500)

	for i := 0; i < 3; i++ {
		e.ObserveFrame(loudFrame())
	}
	assert.False(t, e.ShouldBargeIn())
}

func TestEndpointer_NoBargeInDuringPostTTSProtection(t *testing.T) {
	cfg := testConfig()
	cfg.PostTTSEndProtectionMs = time.Second // longer than initial protection, so post-TTS protection alone decides
	e, clock := newTestEndpointerWithConfig(cfg)
	e.OnResponseEnd()
	clock.advance(50 * time.Millisecond) // inside the 1s post-TTS protection
	e.OnResponseStart(false)
	clock.advance(400 * time.Millisecond) // past initial protection, still inside post-TTS protection

	for i := 0; i < 3; i++ {
		e.ObserveFrame(loudFrame())
	}
	assert.False(t, e.ShouldBargeIn())
}

func TestEndpointer_NoBargeInDuringCooldown(t *testing.T) {
	cfg := testConfig()
	cfg.CooldownMs = time.Second // longer than initial protection, so the cooldown alone decides
	e, clock := newTestEndpointerWithConfig(cfg)
	e.OnResponseStart(false)
	clock.advance(400 * time.Millisecond)
	for i := 0; i < 3; i++ {
		e.ObserveFrame(loudFrame())
	}
	require.True(t, e.ShouldBargeIn())
	e.OnBargeIn()

	// Simulate a second response starting right after, within cooldown.
	e.OnResponseStart(false)
	clock.advance(400 * time.Millisecond) // past initial protection again, but only 400ms into the 1s cooldown
	for i := 0; i < 3; i++ {
		e.ObserveFrame(loudFrame())
	}
	assert.False(t, e.ShouldBargeIn())
}

func TestEndpointer_SuppressesProviderOutputAfterBargeIn(t *testing.T) {
	e, clock := newTestEndpointer()
	e.OnResponseStart(false)
	clock.advance(400 * time.Millisecond)
	for i := 0; i < 3; i++ {
		e.ObserveFrame(loudFrame())
	}
	require.True(t, e.ShouldBargeIn())
	e.OnBargeIn()

	assert.True(t, e.SuppressingProviderOutput())
	clock.advance(700 * time.Millisecond) // past 600ms suppression window
	assert.False(t, e.SuppressingProviderOutput())
}

func TestEndpointer_ExtendSuppressionPushesDeadlineOut(t *testing.T) {
	e, clock := newTestEndpointer()
	e.OnResponseStart(false)
	clock.advance(400 * time.Millisecond)
	for i := 0; i < 3; i++ {
		e.ObserveFrame(loudFrame())
	}
	e.OnBargeIn()

	clock.advance(500 * time.Millisecond) // still within original 600ms window
	e.ExtendSuppression(600 * time.Millisecond)
	clock.advance(500 * time.Millisecond) // would have expired under original window
	assert.True(t, e.SuppressingProviderOutput())
}
