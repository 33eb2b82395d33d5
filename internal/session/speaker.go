// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package session

import (
	"context"
	"sync"
	"time"

	engineerrors "github.com/rapidaai/callengine/internal/errors"
	"github.com/rapidaai/callengine/internal/playback"
	"github.com/rapidaai/callengine/internal/provider/wsclient"
)

// Speak plays a short synthesized phrase to the caller and blocks until
// playback finishes or times out. Satisfies tool.Speaker for the
// hangup_call farewell and request_transcript read-back.
func (c *Coordinator) Speak(ctx context.Context, text string) error {
	return c.SpeakTo(ctx, c.channelID, text)
}

// SpeakTo plays a synthesized phrase on an arbitrary channel: the
// attended-transfer briefing goes to the destination channel while the
// caller sits on hold. The phrase is rendered to a file and played via
// the PBX so it works regardless of which channel owns the engine's
// media path. Without a TTS leg configured (a monolithic-only install) a
// plain tone prompt is played instead so the listener is never left
// guessing.
func (c *Coordinator) SpeakTo(ctx context.Context, channelID, text string) error {
	timeout := secdur(c.doc.Tools.AttendedTransfer.TTSTimeoutSeconds)
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var playbackID, path string
	var fb *playback.FileFallbackScheduler

	pcm, rate, err := c.renderTTS(ctx, text, timeout)
	if err == nil && len(pcm) > 0 {
		fb = playback.NewFileFallbackScheduler(c.doc.Streaming.MediaDir, c.deps.ARI, channelID, rate)
		playbackID, path, err = fb.Play(pcm)
	}
	if playbackID == "" {
		if err != nil {
			c.logger.Warnw("phrase synthesis unavailable, falling back to tone prompt", "error", err)
		}
		playbackID, err = c.deps.ARI.PlayMedia(channelID, "sound:beep")
		if err != nil {
			return engineerrors.Tool(engineerrors.ToolDestinationUnreachable, "failed to play prompt", err)
		}
	}

	finished := c.waiters.Wait(playbackID, timeout)
	if fb != nil && path != "" {
		fb.Cleanup(path)
	}
	if !finished {
		c.logger.Warnw("prompt playback did not finish within its deadline", "playback_id", playbackID)
	}
	return nil
}

// renderTTS synthesizes text to PCM16LE using the active pipeline's TTS
// provider over a dedicated short-lived peer, so scripted phrases never
// interleave with the call's streaming TTS traffic.
func (c *Coordinator) renderTTS(ctx context.Context, text string, timeout time.Duration) (pcm []byte, sampleRate int, err error) {
	pipeline, ok := c.doc.Pipelines[c.doc.ActivePipeline]
	if !ok {
		return nil, 0, engineerrors.Config("no active pipeline to synthesize with", nil)
	}
	ttsCfg, ok := c.doc.Providers[pipeline.TTS]
	if !ok || !ttsCfg.Enabled {
		return nil, 0, engineerrors.Config("active pipeline has no enabled tts provider", nil)
	}

	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	peer := wsclient.NewTTSPeer(ttsCfg.URL, authHeader(ttsCfg.APIKey), c.logger)
	if err := peer.Start(rctx); err != nil {
		return nil, 0, err
	}
	defer peer.Close()
	if err := peer.Synthesize(text); err != nil {
		return nil, 0, err
	}

	rate := c.resolved.Profile.ProviderOutputRate
	for {
		select {
		case chunk, ok := <-peer.Chunks():
			if !ok || chunk.Done {
				return pcm, rate, nil
			}
			pcm = append(pcm, chunk.Audio...)
		case <-rctx.Done():
			return nil, 0, engineerrors.Provider(engineerrors.ProviderTimeout, "tts render timed out", rctx.Err())
		}
	}
}

// playbackWaiters correlates PlayMedia calls with their PlaybackFinished
// events across goroutines. Done may arrive before Wait registers (the
// event loop races the HTTP response), so finished ids are remembered.
type playbackWaiters struct {
	mu       sync.Mutex
	waiting  map[string]chan struct{}
	finished map[string]bool
}

func newPlaybackWaiters() *playbackWaiters {
	return &playbackWaiters{
		waiting:  make(map[string]chan struct{}),
		finished: make(map[string]bool),
	}
}

// Done records that playback id finished and wakes any waiter.
func (w *playbackWaiters) Done(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if ch, ok := w.waiting[id]; ok {
		close(ch)
		delete(w.waiting, id)
		return
	}
	w.finished[id] = true
}

// Wait blocks until playback id finishes or timeout elapses. Returns
// whether the finish was observed.
func (w *playbackWaiters) Wait(id string, timeout time.Duration) bool {
	w.mu.Lock()
	if w.finished[id] {
		delete(w.finished, id)
		w.mu.Unlock()
		return true
	}
	ch := make(chan struct{})
	w.waiting[id] = ch
	w.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		return true
	case <-timer.C:
		w.mu.Lock()
		delete(w.waiting, id)
		w.mu.Unlock()
		return false
	}
}
