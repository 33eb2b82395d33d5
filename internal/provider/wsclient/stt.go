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

// STTTranscript is one observation yielded by an STTPeer: either a partial
// hypothesis or a finalized utterance.
type STTTranscript struct {
	Text  string
	Final bool
}

// STTPeer is the streaming speech-to-text leg of a modular pipeline.
// It is a thin specialization of Peer: audio in,
// partial/final transcripts out, with no text or tool-call vocabulary.
type STTPeer struct {
	peer        *Peer
	logger      commons.Logger
	transcripts chan STTTranscript
}

func NewSTTPeer(url string, header http.Header, logger commons.Logger) *STTPeer {
	return &STTPeer{
		peer:        NewPeer(url, header, logger),
		logger:      logger,
		transcripts: make(chan STTTranscript, 64),
	}
}

func (p *STTPeer) Start(ctx context.Context) error {
	if err := p.peer.Dial(ctx, 5*time.Second); err != nil {
		return err
	}
	go p.pump()
	return nil
}

func (p *STTPeer) pump() {
	defer close(p.transcripts)
	for env := range p.peer.Incoming() {
		var d TranscriptData
		switch env.Type {
		case TypePartialTranscript:
			if err := json.Unmarshal(env.Data, &d); err != nil {
				continue
			}
			p.transcripts <- STTTranscript{Text: d.Text, Final: false}
		case TypeFinalTranscript:
			if err := json.Unmarshal(env.Data, &d); err != nil {
				continue
			}
			p.transcripts <- STTTranscript{Text: d.Text, Final: true}
		default:
			p.logger.Warnw("wsclient: stt peer ignoring envelope", "type", env.Type)
		}
	}
}

// PushAudio forwards one caller-audio frame to the recognizer.
func (p *STTPeer) PushAudio(frame []byte) error {
	return p.peer.Send(TypeAudioChunk, AudioChunkData{Audio: frame})
}

// EndUtterance tells the recognizer the engine has detected endpointing, so
// it should flush and finalize any pending partial.
func (p *STTPeer) EndUtterance() error {
	return p.peer.Send(TypeEndUtterance, struct{}{})
}

// Transcripts returns the channel of partial/final transcript observations.
// Closed when the underlying peer disconnects.
func (p *STTPeer) Transcripts() <-chan STTTranscript { return p.transcripts }

func (p *STTPeer) Close() error { return p.peer.Close() }
