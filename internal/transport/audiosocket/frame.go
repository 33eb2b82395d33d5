// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package audiosocket implements the framed TCP AudioSocket transport:
// one accepted connection per call, length-
// prefixed frames carrying an ID handshake, PCM16 audio, silence hints,
// hangup, and error signals.
package audiosocket

import (
	"encoding/binary"
	"fmt"
	"io"
)

// FrameType is the single leading byte of every AudioSocket frame.
type FrameType byte

const (
	FrameHangup  FrameType = 0x00
	FrameID      FrameType = 0x01
	FrameSilence FrameType = 0x02
	FrameAudio   FrameType = 0x10
	FrameError   FrameType = 0xff
)

// IDPayloadLen is the fixed size of an ID frame's payload: the 16 raw
// bytes of the PBX channel identifier.
const IDPayloadLen = 16

// maxFramePayload guards against a misbehaving peer from ever causing an
// unbounded allocation while reading the length-prefixed header.
const maxFramePayload = 64 * 1024

// Frame is one decoded AudioSocket frame: `[type:1][length:2 BE][payload]`.
type Frame struct {
	Type    FrameType
	Payload []byte
}

// ReadFrame decodes exactly one frame from r. The returned Payload slice
// is freshly allocated per frame (audio frames are small — 160/320 bytes
// — so this does not sit on the resampling hot path, which operates on
// decoded samples instead).
func ReadFrame(r io.Reader) (Frame, error) {
	var header [3]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Frame{}, err
	}
	typ := FrameType(header[0])
	length := binary.BigEndian.Uint16(header[1:3])
	if int(length) > maxFramePayload {
		return Frame{}, fmt.Errorf("audiosocket: frame payload %d exceeds max %d", length, maxFramePayload)
	}
	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, err
		}
	}
	return Frame{Type: typ, Payload: payload}, nil
}

// WriteFrame encodes and writes one frame to w.
func WriteFrame(w io.Writer, typ FrameType, payload []byte) error {
	var header [3]byte
	header[0] = byte(typ)
	binary.BigEndian.PutUint16(header[1:3], uint16(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return err
		}
	}
	return nil
}
