// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package audiosocket

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/rapidaai/callengine/pkg/commons"
)

// frameCadence is the nominal outbound pacing tick.
const frameCadence = 20 * time.Millisecond

const outboundQueueCap = 256 // several seconds of buffered audio at 20ms/frame

type outboundEntry struct {
	payload    []byte
	isPadding  bool // true for the scheduler's low-watermark silence padding, evicted first
}

// conn owns one accepted AudioSocket connection: a reader goroutine
// decoding inbound frames into Sink callbacks, and a writer goroutine
// that paces outbound PCM16 frames at frameCadence using a monotonic
// ticker (never wall-clock sleeps, so drift does not accumulate).
type conn struct {
	ctx    context.Context
	nc     net.Conn
	sink   Sink
	logger commons.Logger

	mu    sync.Mutex
	queue []outboundEntry

	closeOnce sync.Once
	closed    chan struct{}
}

func newConn(ctx context.Context, nc net.Conn, sink Sink, logger commons.Logger) *conn {
	return &conn{
		ctx:    ctx,
		nc:     nc,
		sink:   sink,
		logger: logger,
		closed: make(chan struct{}),
	}
}

// run drives both the reader and the writer until either the connection
// closes or ctx is cancelled. It returns once both have exited.
func (c *conn) run() {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); c.readLoop() }()
	go func() { defer wg.Done(); c.writeLoop() }()
	wg.Wait()
}

func (c *conn) readLoop() {
	defer c.stop()
	for {
		f, err := ReadFrame(c.nc)
		if err != nil {
			select {
			case <-c.ctx.Done():
			default:
				c.sink.OnError(err)
			}
			return
		}
		switch f.Type {
		case FrameAudio:
			c.sink.OnAudio(f.Payload)
		case FrameSilence:
			c.sink.OnSilence()
		case FrameHangup:
			c.sink.OnHangup()
			return
		case FrameError:
			c.sink.OnError(&frameErrorSignal{payload: f.Payload})
			return
		default:
			c.logger.Warnw("audiosocket: unknown frame type", "type", f.Type)
		}
	}
}

type frameErrorSignal struct{ payload []byte }

func (e *frameErrorSignal) Error() string { return "audiosocket: peer sent ERROR frame" }

// PushAudio enqueues one PCM16LE frame for pacing out at frameCadence.
// isPadding marks the silence the playback scheduler inserts while its
// buffer sits below the low watermark. Under pressure the oldest padding
// frame is evicted first; only when no padding is queued is the oldest
// real frame dropped.
// Never blocks: the coordinator and playback scheduler must not stall on
// a slow or stuck transport.
func (c *conn) PushAudio(payload []byte, isPadding bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.queue) >= outboundQueueCap {
		if evicted := c.evictOldestPaddingLocked(); !evicted {
			// No padding left to evict and the queue is still full: drop the
			// oldest frame. This only happens under sustained transport
			// stall, not ordinary jitter.
			c.queue = c.queue[1:]
		}
	}
	c.queue = append(c.queue, outboundEntry{payload: payload, isPadding: isPadding})
}

func (c *conn) evictOldestPaddingLocked() bool {
	for i, e := range c.queue {
		if e.isPadding {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			return true
		}
	}
	return false
}

func (c *conn) popFrame() ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return nil, false
	}
	e := c.queue[0]
	c.queue = c.queue[1:]
	return e.payload, true
}

func (c *conn) writeLoop() {
	defer c.stop()
	ticker := time.NewTicker(frameCadence)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.closed:
			return
		case <-ticker.C:
			payload, ok := c.popFrame()
			if !ok {
				continue // paused: nothing buffered, emit nothing this tick
			}
			if err := WriteFrame(c.nc, FrameAudio, payload); err != nil {
				select {
				case <-c.ctx.Done():
				default:
					c.sink.OnError(err)
				}
				return
			}
		}
	}
}

func (c *conn) stop() {
	c.closeOnce.Do(func() { close(c.closed) })
}
