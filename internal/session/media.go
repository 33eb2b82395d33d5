// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package session

import (
	"context"
	"time"

	"github.com/rapidaai/callengine/internal/audioprofile"
	engineerrors "github.com/rapidaai/callengine/internal/errors"
	"github.com/rapidaai/callengine/internal/transport/audiosocket"
	"github.com/rapidaai/callengine/internal/transport/codec"
	"github.com/rapidaai/callengine/internal/transport/rtp"
)

const frameMs = 20

// frameSink is the transport-facing egress shape shared by the
// AudioSocket connection writer and the RTP playback adapter.
type frameSink interface {
	PushAudio(payload []byte, isPadding bool)
}

// --- AudioSocket ingress (audiosocket.Sink) -------------------------------

// Attach hands the coordinator the paced writer of its bound AudioSocket
// connection. Called exactly once by the listener after a successful ID
// bind; signals the MEDIA_ATTACHING wait.
func (c *Coordinator) Attach(w audiosocket.Writer) {
	c.attachOnce.Do(func() {
		c.writer = w
		close(c.attachedCh)
	})
}

// OnAudio receives one caller frame (PCM16LE at the caller rate). Never
// blocks: if the coordinator's in-queue is full the frame is dropped and
// counted rather than stalling the transport reader.
func (c *Coordinator) OnAudio(pcm16LE []byte) {
	c.enqueueCallerAudio(pcm16LE)
}

// OnSilence notes a SILENCE frame. Counted as a timing hint only.
func (c *Coordinator) OnSilence() {
	c.silenceFrames.Add(1)
}

// OnHangup treats a transport HANGUP frame as caller hangup.
func (c *Coordinator) OnHangup() {
	c.pushCtl(ctlEvent{kind: ctlHangup})
}

// OnError tears the session down on any transport error.
func (c *Coordinator) OnError(err error) {
	c.pushCtl(ctlEvent{kind: ctlTransportError, err: engineerrors.Transport("audiosocket connection failed", err)})
}

func (c *Coordinator) enqueueCallerAudio(pcm16LE []byte) {
	select {
	case c.audioQ <- pcm16LE:
	default:
		c.deps.Metrics.TransportFramesDropped.Add(context.Background(), 1)
	}
}

// --- ExternalMedia ingress (rtp.Sink) -------------------------------------

// rtpSink adapts inbound RTP payloads to the coordinator's caller-audio
// queue, decoding the negotiated wire encoding to PCM16LE first. Owned by
// the single RunInbound goroutine, so the scratch buffers are safe.
type rtpSink struct {
	c        *Coordinator
	encoding audioprofile.Encoding
	samples  []int16
}

func newRTPSink(c *Coordinator, encoding audioprofile.Encoding) *rtpSink {
	return &rtpSink{c: c, encoding: encoding, samples: make([]int16, 0, 640)}
}

func (s *rtpSink) OnPayload(payload []byte) {
	switch s.encoding {
	case audioprofile.EncodingULaw:
		s.samples = codec.ULawDecode(payload, s.samples)
	case audioprofile.EncodingALaw:
		s.samples = codec.ALawDecode(payload, s.samples)
	default:
		s.samples = codec.PCM16LEToSamples(payload, s.samples)
	}
	// The inbound read buffer is reused by the transport; the queue needs
	// its own copy.
	pcm := codec.SamplesToPCM16LE(s.samples, make([]byte, 0, len(s.samples)*2))
	s.c.enqueueCallerAudio(pcm)
}

func (s *rtpSink) OnError(err error) {
	s.c.pushCtl(ctlEvent{kind: ctlTransportError, err: engineerrors.Transport("rtp session failed", err)})
}

// --- Media channel origination --------------------------------------------

// attachMedia originates the media leg for the resolved transport, bridges
// it with the caller, and blocks until audio is bound (AudioSocket) or the
// RTP socket is up, bounded by the connection timeout.
func (c *Coordinator) attachMedia(ctx context.Context) error {
	bridgeID, err := c.deps.ARI.CreateBridge(ctx, "mixing")
	if err != nil {
		return engineerrors.Transport("failed to create media bridge", err)
	}
	c.bridgeID = bridgeID
	if err := c.deps.ARI.AddToBridge(ctx, bridgeID, c.channelID); err != nil {
		return engineerrors.Transport("failed to bridge caller", err)
	}

	switch c.doc.AudioTransport {
	case "externalmedia":
		return c.attachExternalMedia(ctx, bridgeID)
	default:
		return c.attachAudioSocket(ctx, bridgeID)
	}
}

func (c *Coordinator) attachAudioSocket(ctx context.Context, bridgeID string) error {
	endpoint := "AudioSocket/" + c.deps.MediaAddr + "/" + c.channelID
	mediaID, err := c.deps.ARI.OriginateChannel(ctx, endpoint, map[string]string{
		"CALLENGINE_ROLE": "media",
	})
	if err != nil {
		return engineerrors.Transport("failed to originate audiosocket channel", err)
	}
	c.mediaChannelID = mediaID
	c.deps.Registry.Add(mediaID, c)
	if err := c.deps.ARI.AddToBridge(ctx, bridgeID, mediaID); err != nil {
		return engineerrors.Transport("failed to bridge media channel", err)
	}

	select {
	case <-c.attachedCh:
		return nil
	case <-time.After(c.deps.Timeouts.ConnectionTimeout):
		return engineerrors.Transport("audiosocket connection was never bound", nil)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) attachExternalMedia(ctx context.Context, bridgeID string) error {
	pt := rtp.PayloadType(c.resolved.Profile.CallerEncoding)
	sess, release, err := c.deps.RTP.OpenSession(pt, newRTPSink(c, c.resolved.Profile.CallerEncoding))
	if err != nil {
		return engineerrors.Transport("failed to open rtp session", err)
	}
	c.rtpSession = sess
	c.rtpRelease = release

	mediaID, err := c.deps.ARI.CreateExternalMedia(ctx, c.deps.MediaAddr, sess.LocalPort(), string(pt))
	if err != nil {
		release()
		c.rtpSession, c.rtpRelease = nil, nil
		return engineerrors.Transport("failed to create externalmedia channel", err)
	}
	c.mediaChannelID = mediaID
	c.deps.Registry.Add(mediaID, c)
	if err := c.deps.ARI.AddToBridge(ctx, bridgeID, mediaID); err != nil {
		return engineerrors.Transport("failed to bridge externalmedia channel", err)
	}

	go c.deps.RTP.Run(c.mediaCtx, sess)
	c.writer = rtpPlaybackWriter{session: sess}
	c.attachOnce.Do(func() { close(c.attachedCh) })
	return nil
}

// --- Codec paths -----------------------------------------------------------

// forwardCallerAudio resamples one caller frame (PCM16LE samples at the
// caller rate) to the caller-to-provider rate and pushes it to the
// provider session. Runs on the coordinator goroutine; all buffers are
// reused across frames.
func (c *Coordinator) forwardCallerAudio(samples []int16) {
	out := samples
	if c.upResampler != nil {
		out = c.upResampler.Process(samples)
	}
	c.forwardBuf = codec.SamplesToPCM16LE(out, c.forwardBuf)
	c.session.PushCallerAudio(c.forwardBuf)
}

// handleAgentAudio converts one provider audio chunk (PCM16LE at the
// provider output rate) to the wire format and enqueues complete 20ms
// frames on the playback scheduler, holding any partial-frame remainder
// until the next chunk.
func (c *Coordinator) handleAgentAudio(chunk []byte) {
	c.egressSamples = codec.PCM16LEToSamples(chunk, c.egressSamples)
	out := c.egressSamples
	if c.downResampler != nil {
		out = c.downResampler.Process(c.egressSamples)
	}
	c.egressPending = append(c.egressPending, out...)

	n := audioprofile.FrameSamples(c.wireRate())
	for len(c.egressPending) >= n {
		c.sched.Enqueue(c.encodeWireFrame(c.egressPending[:n]))
		c.egressPending = c.egressPending[:copy(c.egressPending, c.egressPending[n:])]
	}
}

// flushEgress pads the final partial frame of a response with silence and
// enqueues it, then opens the start gate for short responses.
func (c *Coordinator) flushEgress() {
	n := audioprofile.FrameSamples(c.wireRate())
	if len(c.egressPending) > 0 {
		frame := make([]int16, n)
		copy(frame, c.egressPending)
		c.sched.Enqueue(c.encodeWireFrame(frame))
		c.egressPending = c.egressPending[:0]
	}
	c.sched.Flush()
}

func (c *Coordinator) wireRate() int {
	return c.resolved.Profile.WireOutRate
}

// wireEncoding returns the egress encoding actually put on the wire.
// AudioSocket carries PCM16 only; the profile's wire encoding applies to
// the RTP path.
func (c *Coordinator) wireEncoding() audioprofile.Encoding {
	if c.doc.AudioTransport != "externalmedia" {
		return audioprofile.EncodingPCM16
	}
	return c.resolved.Profile.WireOutEncoding
}

func (c *Coordinator) encodeWireFrame(samples []int16) []byte {
	switch c.wireEncoding() {
	case audioprofile.EncodingULaw:
		return codec.ULawEncode(samples, make([]byte, 0, len(samples)))
	case audioprofile.EncodingALaw:
		return codec.ALawEncode(samples, make([]byte, 0, len(samples)))
	default:
		return codec.SamplesToPCM16LE(samples, make([]byte, 0, len(samples)*2))
	}
}

// silenceFrame builds one 20ms frame of digital silence in the wire
// encoding, used by the scheduler's watermark backoff.
func (c *Coordinator) silenceFrame() []byte {
	n := audioprofile.FrameSamples(c.wireRate())
	switch c.wireEncoding() {
	case audioprofile.EncodingULaw:
		f := make([]byte, n)
		for i := range f {
			f[i] = 0xFF
		}
		return f
	case audioprofile.EncodingALaw:
		f := make([]byte, n)
		for i := range f {
			f[i] = 0xD5
		}
		return f
	default:
		return make([]byte, n*2)
	}
}

// meteredWriter wraps the transport writer to observe the first real
// frame of each agent turn leaving for the wire, which is the turn
// latency measurement point.
type meteredWriter struct {
	c     *Coordinator
	inner frameSink
}

func (w meteredWriter) PushAudio(payload []byte, isPadding bool) {
	if !isPadding {
		if at := w.c.turnPendingNanos.Swap(0); at != 0 {
			elapsed := time.Duration(time.Now().UnixNano() - at)
			w.c.deps.Metrics.TurnLatency.Record(context.Background(), elapsed.Seconds())
		}
	}
	w.inner.PushAudio(payload, isPadding)
}
