// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package wsclient is the generic WebSocket streaming peer shared by the
// monolithic provider adapter and the modular STT/TTS adapters. One
// JSON envelope with a typed `type` discriminator serves all three peer
// roles.
package wsclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rapidaai/callengine/pkg/commons"
)

// MessageType discriminates the envelope's payload shape.
type MessageType string

const (
	TypeConfiguration MessageType = "configuration"
	TypeAudioChunk    MessageType = "audio_chunk"
	TypeEndUtterance  MessageType = "end_utterance"
	TypeCancel        MessageType = "cancel"
	TypeToolResult    MessageType = "tool_result"
	TypeSpeak         MessageType = "speak"

	TypePartialTranscript MessageType = "partial_transcript"
	TypeFinalTranscript   MessageType = "final_transcript"
	TypeAgentAudio        MessageType = "agent_audio"
	TypeAgentText         MessageType = "agent_text"
	TypeResponseStarted   MessageType = "response_started"
	TypeResponseEnded     MessageType = "response_ended"
	TypeToolCallRequest   MessageType = "tool_call_request"
	TypeError             MessageType = "error"

	TypePing MessageType = "ping"
	TypePong MessageType = "pong"
)

// Envelope is the single JSON message shape exchanged in both directions;
// one type serves both since this engine's peers are symmetric.
type Envelope struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"timestamp,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// AudioChunkData is the payload of TypeAudioChunk / TypeAgentAudio.
type AudioChunkData struct {
	Audio []byte `json:"audio"`
}

// TranscriptData is the payload of TypePartialTranscript/TypeFinalTranscript.
type TranscriptData struct {
	Text string `json:"text"`
}

// TextData is the payload of TypeAgentText.
type TextData struct {
	Text string `json:"text"`
}

// ToolCallData is the payload of TypeToolCallRequest.
type ToolCallData struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// ToolResultData is the payload of TypeToolResult.
type ToolResultData struct {
	ID    string `json:"id"`
	Value any    `json:"value"`
}

// ErrorData is the payload of TypeError.
type ErrorData struct {
	Message string `json:"message"`
}

// Peer is one WebSocket connection to an opaque streaming AI service. It
// is a thin transport: the adapter that owns it (monolithic.go, stt.go,
// tts.go) interprets Envelope payloads into provider.Event values.
type Peer struct {
	url    string
	header http.Header
	logger commons.Logger

	conn    *websocket.Conn
	writeMu sync.Mutex

	incoming chan Envelope
	closed   chan struct{}
	closeOnce sync.Once
}

func NewPeer(url string, header http.Header, logger commons.Logger) *Peer {
	return &Peer{url: url, header: header, logger: logger, incoming: make(chan Envelope, 64), closed: make(chan struct{})}
}

// Dial establishes the connection within the given deadline. A
// disconnect afterward is terminal for the call.
func (p *Peer) Dial(ctx context.Context, connectTimeout time.Duration) error {
	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: connectTimeout}
	conn, _, err := dialer.DialContext(dialCtx, p.url, p.header)
	if err != nil {
		return fmt.Errorf("wsclient: dial %s: %w", p.url, err)
	}
	p.conn = conn
	go p.readLoop()
	return nil
}

func (p *Peer) readLoop() {
	defer p.stop()
	defer close(p.incoming)
	for {
		_, raw, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			p.logger.Warnw("wsclient: malformed envelope", "error", err)
			continue
		}
		select {
		case p.incoming <- env:
		case <-p.closed:
			return
		}
	}
}

// Incoming returns the channel of decoded envelopes from the peer.
// Closed when the connection drops.
func (p *Peer) Incoming() <-chan Envelope { return p.incoming }

// Send writes one envelope to the peer. Safe for concurrent use.
func (p *Peer) Send(typ MessageType, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	env := Envelope{Type: typ, Timestamp: time.Now().UnixMilli(), Data: raw}
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.conn.WriteMessage(websocket.TextMessage, payload)
}

func (p *Peer) stop() {
	p.closeOnce.Do(func() { close(p.closed) })
}

// Close closes the underlying connection.
func (p *Peer) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Close()
}
