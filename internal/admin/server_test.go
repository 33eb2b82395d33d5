// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/callengine/internal/config"
	"github.com/rapidaai/callengine/internal/health"
	"github.com/rapidaai/callengine/pkg/commons"
)

func testLogger(t *testing.T) commons.Logger {
	l, err := commons.NewApplicationLogger()
	require.NoError(t, err)
	return l
}

type fakeCalls struct {
	active   int
	hungUp   []string
	knownIDs map[string]bool
}

func (f *fakeCalls) ActiveCalls() int { return f.active }
func (f *fakeCalls) HangupCall(id string) bool {
	if !f.knownIDs[id] {
		return false
	}
	f.hungUp = append(f.hungUp, id)
	return true
}

const testConfigYAML = `
asterisk:
  ari_url: http://localhost:8088/ari
  ari_user: engine
  ari_password: secret
  app: callengine
audio_transport: audiosocket
default_provider: rt
providers:
  rt:
    kind: monolithic
    enabled: true
    url: wss://rt.test
contexts:
  support:
    prompt: "Old prompt."
`

func testServer(t *testing.T, ariUp bool, providerReady bool) (*Server, string) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfigYAML), 0o644))

	doc, err := config.Load(path)
	require.NoError(t, err)
	snapshot := config.NewSnapshot(doc)

	sup := health.NewSupervisor(time.Second, testLogger(t))
	if providerReady {
		probed := sup.WithProber(func(ctx context.Context, url string, timeout time.Duration) error { return nil })
		probed.Run(cancelledContext(), snapshot)
	}

	s := NewServer(Deps{
		Snapshot:       snapshot,
		ConfigPath:     path,
		ARIConnected:   func() bool { return ariUp },
		TransportBound: func() bool { return true },
		TransportName:  "audiosocket",
		Calls:          &fakeCalls{active: 2, knownIDs: map[string]bool{"chan.1": true}},
		Health:         sup,
		Logger:         testLogger(t),
	})
	return s, path
}

// cancelledContext makes Supervisor.Run perform its initial sweep and
// return immediately.
func cancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

func TestReady_503WhileARIDisconnected(t *testing.T) {
	s, _ := testServer(t, false, true)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestReady_200WhenSubscribedAndProviderReachable(t *testing.T) {
	s, _ := testServer(t, true, true)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealth_ReportsTransportAndActiveCalls(t *testing.T) {
	s, _ := testServer(t, true, true)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		ARIConnected bool                             `json:"ari_connected"`
		Transport    string                           `json:"transport"`
		ActiveCalls  int                              `json:"active_calls"`
		Providers    map[string]health.ProviderStatus `json:"providers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.ARIConnected)
	assert.Equal(t, "audiosocket", body.Transport)
	assert.Equal(t, 2, body.ActiveCalls)
	assert.True(t, body.Providers["rt"].Ready)
}

func TestReload_HotChangeAppliesWithoutRestart(t *testing.T) {
	s, path := testServer(t, true, true)

	updated := strings.Replace(testConfigYAML, "Old prompt.", "New prompt.", 1)
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/config/reload", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Applied         bool     `json:"applied"`
		RestartRequired []string `json:"restart_required"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Applied)
	assert.Empty(t, body.RestartRequired)
	assert.Equal(t, "New prompt.", s.deps.Snapshot.Current().Contexts["support"].Prompt)
}

func TestReload_TransportChangeReportsRestartRequired(t *testing.T) {
	s, path := testServer(t, true, true)

	updated := strings.Replace(testConfigYAML, "audio_transport: audiosocket", "audio_transport: externalmedia", 1)
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/config/reload", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Applied         bool     `json:"applied"`
		RestartRequired []string `json:"restart_required"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Applied)
	assert.Contains(t, body.RestartRequired, "audio_transport")
}

func TestReload_MalformedDocumentRejected(t *testing.T) {
	s, path := testServer(t, true, true)
	require.NoError(t, os.WriteFile(path, []byte("::: not yaml :::"), 0o644))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/config/reload", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHangup_UnknownCallIs404(t *testing.T) {
	s, _ := testServer(t, true, true)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/calls/chan.1/hangup", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/calls/ghost.9/hangup", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
