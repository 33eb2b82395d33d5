// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package ari

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEvent_StasisStart(t *testing.T) {
	raw := []byte(`{"type":"StasisStart","args":["incoming"],"channel":{"id":"chan-1","name":"PJSIP/abc","state":"Ring","caller":{"name":"Jane","number":"+15551234567"}}}`)
	ev, err := decodeEvent(raw)
	require.NoError(t, err)
	assert.Equal(t, EventStasisStart, ev.Type)
	require.NotNil(t, ev.Channel)
	assert.Equal(t, "chan-1", ev.ChannelID())
	assert.Equal(t, "+15551234567", ev.Channel.Caller.Number)
	assert.Equal(t, []string{"incoming"}, ev.Args)
}

func TestDecodeEvent_PlaybackFinished(t *testing.T) {
	raw := []byte(`{"type":"PlaybackFinished","playback":{"id":"pb-1","target_uri":"channel:chan-1"}}`)
	ev, err := decodeEvent(raw)
	require.NoError(t, err)
	assert.Equal(t, EventPlaybackFinished, ev.Type)
	require.NotNil(t, ev.Playback)
	assert.Equal(t, "pb-1", ev.Playback.ID)
	assert.Equal(t, "chan-1", ev.ChannelID(), "playback events route by their target channel")
}

func TestDecodeEvent_ChannelDtmfReceived(t *testing.T) {
	raw := []byte(`{"type":"ChannelDtmfReceived","digit":"1","channel":{"id":"chan-2"}}`)
	ev, err := decodeEvent(raw)
	require.NoError(t, err)
	assert.Equal(t, EventChannelDtmf, ev.Type)
	assert.Equal(t, "1", ev.Digit)
	assert.Equal(t, "chan-2", ev.ChannelID())
}

func TestDecodeEvent_MalformedJSON(t *testing.T) {
	_, err := decodeEvent([]byte(`{not json`))
	assert.Error(t, err)
}

func TestErrorKind_ClassifiesWrappedAriError(t *testing.T) {
	inner := ariError{kind: "NotFound", status: 404, body: "channel not found"}
	wrapped := fmt.Errorf("ari: answer: %w", inner)
	assert.Equal(t, "NotFound", ErrorKind(wrapped))
	assert.Equal(t, "", ErrorKind(nil))
}
