// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package audiosocket

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/rapidaai/callengine/pkg/commons"
)

// Writer is the outbound half of a bound connection: the playback
// scheduler pushes paced PCM16LE frames through it. PushAudio never
// blocks.
type Writer interface {
	PushAudio(payload []byte, isPadding bool)
}

// Sink receives decoded events from one accepted connection. The
// call coordinator (or a thin adapter in front of it) implements this.
type Sink interface {
	// Attach is called once, synchronously, right after a successful Bind,
	// handing the coordinator the Writer it uses for outbound audio.
	Attach(w Writer)
	OnAudio(pcm16LE []byte)
	OnSilence()
	OnHangup()
	OnError(err error)
}

// Binder resolves the 16-byte channel id carried by the mandatory first ID
// frame to the Sink that owns that call.
type Binder interface {
	Bind(channelID [IDPayloadLen]byte) (Sink, error)
}

// Listener is the TCP acceptor the PBX dials into. One goroutine per
// accepted connection; the acceptor socket itself is owned solely by this
// goroutine; no other task ever touches the accept socket.
type Listener struct {
	addr   string
	binder Binder
	logger commons.Logger

	ln    net.Listener
	bound atomic.Bool
}

func NewListener(addr string, binder Binder, logger commons.Logger) *Listener {
	return &Listener{addr: addr, binder: binder, logger: logger}
}

// Bound reports whether the accept socket is currently listening, used by
// the admin API's readiness check.
func (l *Listener) Bound() bool { return l.bound.Load() }

// Serve binds the accept socket and loops accepting connections until ctx
// is cancelled. Each connection is handled on its own goroutine and any
// per-connection error is isolated to that call.
func (l *Listener) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return fmt.Errorf("audiosocket: bind %s: %w", l.addr, err)
	}
	l.ln = ln
	l.bound.Store(true)
	defer l.bound.Store(false)
	l.logger.Infow("audiosocket listener bound", "addr", l.addr)

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("audiosocket: accept: %w", err)
			}
		}
		go l.handle(ctx, conn)
	}
}

func (l *Listener) handle(ctx context.Context, netConn net.Conn) {
	defer netConn.Close()

	id, err := expectIDFrame(netConn)
	if err != nil {
		l.logger.Warnw("audiosocket connection rejected: missing/invalid ID frame", "error", err)
		return
	}

	sink, err := l.binder.Bind(id)
	if err != nil {
		l.logger.Warnw("audiosocket connection has no matching session", "channel_id", id, "error", err)
		return
	}

	c := newConn(ctx, netConn, sink, l.logger.With("channel_id", id))
	sink.Attach(c)
	c.run()
}

func expectIDFrame(r net.Conn) ([IDPayloadLen]byte, error) {
	var id [IDPayloadLen]byte
	f, err := ReadFrame(r)
	if err != nil {
		return id, err
	}
	if f.Type != FrameID {
		return id, fmt.Errorf("expected ID frame, got type 0x%02x", byte(f.Type))
	}
	if len(f.Payload) != IDPayloadLen {
		return id, fmt.Errorf("ID frame payload len %d != %d", len(f.Payload), IDPayloadLen)
	}
	copy(id[:], f.Payload)
	return id, nil
}
