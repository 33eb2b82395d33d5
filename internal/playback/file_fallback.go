// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package playback

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// FilePlayer implements the file-playback fallback: for modular
// pipelines whose TTS only yields a complete render (no streaming), audio
// is written to a shared media directory as a WAV file and played back
// via the ARI `play_media` verb; the scheduler then waits on
// `PlaybackFinished` instead of emitting frames itself. Transport and
// mode are paired: externalmedia + modular pipelines => file
// playback.
type FilePlayer interface {
	// PlayMedia asks the PBX to play uri on channelID and returns the
	// playback id the caller correlates against the PlaybackFinished event.
	PlayMedia(channelID, uri string) (string, error)
}

// FileFallbackScheduler renders a complete agent response to a WAV file
// in mediaDir and hands it to the PBX via FilePlayer, instead of pacing
// frames on the wire itself.
type FileFallbackScheduler struct {
	mediaDir string
	player   FilePlayer
	channelID string
	sampleRate int
}

func NewFileFallbackScheduler(mediaDir string, player FilePlayer, channelID string, sampleRate int) *FileFallbackScheduler {
	return &FileFallbackScheduler{mediaDir: mediaDir, player: player, channelID: channelID, sampleRate: sampleRate}
}

// Play writes pcm (little-endian PCM16 at sampleRate) to a uniquely-named
// WAV file under mediaDir and triggers playback. The filename is unique
// per playback to avoid collisions with concurrent calls.
func (s *FileFallbackScheduler) Play(pcm []byte) (playbackID, path string, err error) {
	name := fmt.Sprintf("%s.wav", uuid.NewString())
	path = filepath.Join(s.mediaDir, name)

	if err := writeWAV(path, pcm, s.sampleRate); err != nil {
		return "", "", fmt.Errorf("playback: failed to render WAV: %w", err)
	}

	// ARI's sound: URI scheme expects the basename without extension,
	// resolved against its configured sound search path (which must
	// include mediaDir).
	uri := "sound:" + name[:len(name)-len(".wav")]
	id, err := s.player.PlayMedia(s.channelID, uri)
	if err != nil {
		os.Remove(path)
		return "", "", fmt.Errorf("playback: play_media failed: %w", err)
	}
	return id, path, nil
}

// Cleanup removes the rendered file once PlaybackFinished has been
// observed for it.
func (s *FileFallbackScheduler) Cleanup(path string) {
	_ = os.Remove(path)
}

func writeWAV(path string, pcm []byte, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	const (
		numChannels   = 1
		bitsPerSample = 16
	)
	byteRate := sampleRate * numChannels * bitsPerSample / 8
	blockAlign := numChannels * bitsPerSample / 8
	dataLen := uint32(len(pcm))

	if _, err := f.WriteString("RIFF"); err != nil {
		return err
	}
	if err := writeU32(f, 36+dataLen); err != nil {
		return err
	}
	if _, err := f.WriteString("WAVEfmt "); err != nil {
		return err
	}
	if err := writeU32(f, 16); err != nil { // fmt chunk size
		return err
	}
	if err := writeU16(f, 1); err != nil { // PCM
		return err
	}
	if err := writeU16(f, numChannels); err != nil {
		return err
	}
	if err := writeU32(f, uint32(sampleRate)); err != nil {
		return err
	}
	if err := writeU32(f, uint32(byteRate)); err != nil {
		return err
	}
	if err := writeU16(f, blockAlign); err != nil {
		return err
	}
	if err := writeU16(f, bitsPerSample); err != nil {
		return err
	}
	if _, err := f.WriteString("data"); err != nil {
		return err
	}
	if err := writeU32(f, dataLen); err != nil {
		return err
	}
	_, err = f.Write(pcm)
	return err
}

func writeU32(f *os.File, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	_, err := f.Write(b[:])
	return err
}

func writeU16(f *os.File, v int) error {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], uint16(v))
	_, err := f.Write(b[:])
	return err
}
