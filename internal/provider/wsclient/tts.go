// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package wsclient

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rapidaai/callengine/pkg/commons"
)

// TTSChunk is one observation from a TTSPeer: either a streamed audio chunk
// or the terminal "render complete" marker. Streaming-capable TTS vendors
// emit many chunks; file-mode vendors emit
// a single chunk followed immediately by Done.
type TTSChunk struct {
	Audio []byte
	Done  bool
}

// TTSPeer is the streaming text-to-speech leg of a modular pipeline.
// Text goes in (typically one LLM turn's worth, possibly in
// smaller increments for low-latency streaming synthesis), audio comes out.
type TTSPeer struct {
	peer   *Peer
	logger commons.Logger
	chunks chan TTSChunk
}

func NewTTSPeer(url string, header http.Header, logger commons.Logger) *TTSPeer {
	return &TTSPeer{
		peer:   NewPeer(url, header, logger),
		logger: logger,
		chunks: make(chan TTSChunk, 64),
	}
}

func (p *TTSPeer) Start(ctx context.Context) error {
	if err := p.peer.Dial(ctx, 5*time.Second); err != nil {
		return err
	}
	go p.pump()
	return nil
}

func (p *TTSPeer) pump() {
	defer close(p.chunks)
	for env := range p.peer.Incoming() {
		switch env.Type {
		case TypeAgentAudio:
			var d AudioChunkData
			if err := json.Unmarshal(env.Data, &d); err != nil {
				continue
			}
			p.chunks <- TTSChunk{Audio: d.Audio}
		case TypeResponseEnded:
			p.chunks <- TTSChunk{Done: true}
		default:
			p.logger.Warnw("wsclient: tts peer ignoring envelope", "type", env.Type)
		}
	}
}

// Synthesize submits one text increment for rendering. Call with the full
// turn text at once for file-mode vendors, or in smaller increments as the
// LLM streams for vendors that support incremental synthesis.
func (p *TTSPeer) Synthesize(text string) error {
	return p.peer.Send(TypeAgentText, TextData{Text: text})
}

// Cancel aborts in-flight synthesis following a barge-in.
func (p *TTSPeer) Cancel() error {
	return p.peer.Send(TypeCancel, struct{}{})
}

// Chunks returns the channel of rendered audio chunks. Closed when the
// underlying peer disconnects.
func (p *TTSPeer) Chunks() <-chan TTSChunk { return p.chunks }

func (p *TTSPeer) Close() error { return p.peer.Close() }
