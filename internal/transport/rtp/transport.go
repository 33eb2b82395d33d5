// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package rtp

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/pion/rtp"

	"github.com/rapidaai/callengine/pkg/commons"
)

const frameCadence = 20 * time.Millisecond

// PayloadType is the negotiated RTP payload type name.
type PayloadType string

const (
	PayloadULaw  PayloadType = "ulaw"
	PayloadALaw  PayloadType = "alaw"
	PayloadSLin  PayloadType = "slin"
	PayloadSLin16 PayloadType = "slin16"
)

// payloadTypeNumbers are the static RTP payload type numbers for the
// codecs negotiated by ExternalMedia; slin/slin16 use the dynamic range
// per Asterisk convention.
var payloadTypeNumbers = map[PayloadType]uint8{
	PayloadULaw:   0,
	PayloadALaw:   8,
	PayloadSLin:   110,
	PayloadSLin16: 111,
}

func samplesPerFrame(pt PayloadType) int {
	switch pt {
	case PayloadSLin16:
		return 320 // 16kHz * 20ms
	default:
		return 160 // 8kHz * 20ms
	}
}

// Session is one call's ExternalMedia RTP transport: a bound UDP socket,
// a fixed peer address learned from the first inbound packet (or
// pre-negotiated), and paced outbound send on a monotonic tick.
type Session struct {
	conn        *net.UDPConn
	peer        *net.UDPAddr
	peerMu      sync.RWMutex
	payloadType PayloadType
	ptNumber    uint8
	ssrc        uint32
	seq         uint16
	timestamp   uint32
	logger      commons.Logger

	mu    sync.Mutex
	queue [][]byte

	sink Sink
}

// Sink receives decoded inbound RTP payloads (already de-jittered).
type Sink interface {
	OnPayload(payload []byte)
	OnError(err error)
}

// NewSession binds a UDP socket on the given port and returns a Session
// ready to send/receive. SSRC is randomized once per call.
func NewSession(host string, port int, pt PayloadType, sink Sink, logger commons.Logger) (*Session, error) {
	addr := &net.UDPAddr{IP: net.ParseIP(host), Port: port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("rtp: bind %s:%d: %w", host, port, err)
	}
	ptNumber, ok := payloadTypeNumbers[pt]
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("rtp: unrecognized payload type %q", pt)
	}
	return &Session{
		conn:        conn,
		payloadType: pt,
		ptNumber:    ptNumber,
		ssrc:        rand.Uint32(),
		seq:         uint16(rand.Intn(1 << 16)),
		sink:        sink,
		logger:      logger,
	}, nil
}

// LocalPort returns the bound local UDP port, for SDP negotiation.
func (s *Session) LocalPort() int {
	return s.conn.LocalAddr().(*net.UDPAddr).Port
}

// SetPeer pins the remote endpoint that outbound RTP is sent to. Updated
// automatically on first inbound packet if not set via SDP negotiation.
func (s *Session) SetPeer(addr *net.UDPAddr) {
	s.peerMu.Lock()
	s.peer = addr
	s.peerMu.Unlock()
}

func (s *Session) getPeer() *net.UDPAddr {
	s.peerMu.RLock()
	defer s.peerMu.RUnlock()
	return s.peer
}

// RunInbound reads inbound RTP packets, de-jitters by sequence number
// with a small reorder window, and forwards payloads to the Sink. It
// also learns the peer address symmetrically from the first packet if
// SetPeer was never called.
func (s *Session) RunInbound(ctx context.Context) {
	dejit := newDejitterWindow(3)
	buf := make([]byte, 1500)
	for {
		if err := s.conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond)); err != nil {
			s.sink.OnError(err)
			return
		}
		n, peer, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			s.sink.OnError(fmt.Errorf("rtp: read: %w", err))
			return
		}
		if s.getPeer() == nil {
			s.SetPeer(peer)
		}

		var pkt rtp.Packet
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			s.logger.Warnw("rtp: failed to unmarshal packet", "error", err)
			continue
		}
		if ordered, ok := dejit.accept(pkt.SequenceNumber, pkt.Payload); ok {
			s.sink.OnPayload(ordered)
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// PushAudio enqueues one frame of raw codec payload (already at
// WireOutEncoding/Rate) for paced outbound transmission.
func (s *Session) PushAudio(payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	const cap = 256
	if len(s.queue) >= cap {
		s.queue = s.queue[1:]
	}
	s.queue = append(s.queue, payload)
}

// RunOutbound paces packet emission at frameCadence using a monotonic
// ticker, incrementing sequence number per packet and timestamp by the
// sample count per frame.
func (s *Session) RunOutbound(ctx context.Context) {
	ticker := time.NewTicker(frameCadence)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			payload, ok := s.popFrame()
			if !ok {
				continue
			}
			s.sendFrame(payload)
		}
	}
}

func (s *Session) popFrame() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil, false
	}
	p := s.queue[0]
	s.queue = s.queue[1:]
	return p, true
}

func (s *Session) sendFrame(payload []byte) {
	peer := s.getPeer()
	if peer == nil {
		return // no peer learned yet; drop rather than block
	}
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    s.ptNumber,
			SequenceNumber: s.seq,
			Timestamp:      s.timestamp,
			SSRC:           s.ssrc,
		},
		Payload: payload,
	}
	s.seq++
	s.timestamp += uint32(samplesPerFrame(s.payloadType))

	raw, err := pkt.Marshal()
	if err != nil {
		s.sink.OnError(fmt.Errorf("rtp: marshal: %w", err))
		return
	}
	if _, err := s.conn.WriteToUDP(raw, peer); err != nil {
		s.sink.OnError(fmt.Errorf("rtp: write: %w", err))
	}
}

func (s *Session) Close() error {
	return s.conn.Close()
}

// dejitterWindow reorders a small window of out-of-order RTP packets by
// sequence number.
type dejitterWindow struct {
	size    int
	nextSeq uint16
	primed  bool
	pending map[uint16][]byte
}

func newDejitterWindow(size int) *dejitterWindow {
	return &dejitterWindow{size: size, pending: make(map[uint16][]byte)}
}

// accept returns (payload, true) when seq is the next-expected packet (or
// becomes deliverable after reordering); returns (nil, false) when the
// packet is buffered awaiting an earlier one, or has been dropped as too
// late/duplicate. Only the first packet delivered by accept matters for
// priming nextSeq.
func (w *dejitterWindow) accept(seq uint16, payload []byte) ([]byte, bool) {
	if !w.primed {
		w.primed = true
		w.nextSeq = seq
	}
	if seq == w.nextSeq {
		w.nextSeq++
		return payload, true
	}
	delta := int16(seq - w.nextSeq)
	if delta < 0 {
		return nil, false // too late, drop
	}
	if int(delta) > w.size {
		// Gap too large to wait for; skip ahead and accept this packet.
		w.nextSeq = seq + 1
		return payload, true
	}
	w.pending[seq] = payload
	return nil, false
}
