package tool

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/callengine/internal/ari"
	"github.com/rapidaai/callengine/internal/config"
)

// fakeARIServer answers just enough of the ARI HTTP surface for the
// attended_transfer flow: originate, moh, bridge create/add, hangup.
func fakeARIServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/channels", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"id": "dest-1"})
	})
	mux.HandleFunc("/bridges", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"id": "bridge-1"})
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return httptest.NewServer(mux)
}

func testDestinations() map[string]config.Destination {
	return map[string]config.Destination{
		"sales": {Kind: "extension", Target: "700", AttendedAllowed: true},
	}
}

func TestAttendedTransfer_AcceptDigit_Bridges(t *testing.T) {
	srv := fakeARIServer(t)
	defer srv.Close()
	client := ari.NewClient(srv.URL, "u", "p", "callengine", testLogger(t))

	h := &AttendedTransferHandler{
		ARI:            client,
		ChannelID:      "caller-1",
		Destinations:   testDestinations(),
		EndpointPrefix: "PJSIP",
		DialTimeout:    time.Second,
		AcceptTimeout:  time.Second,
	}

	resultCh := make(chan any, 1)
	errCh := make(chan error, 1)
	go func() {
		r, err := h.Execute(context.Background(), map[string]any{"destination": "sales"})
		resultCh <- r
		errCh <- err
	}()

	waitUntil(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.destChannel != ""
	})
	h.OnRoutedEvent("dest-1", RouteEventChannelAnswered, "")
	waitUntil(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.stage == stageAwaitingDTMF
	})
	h.OnRoutedEvent("dest-1", RouteEventDTMF, "1")

	require.NoError(t, <-errCh)
	result := (<-resultCh).(map[string]any)
	assert.Equal(t, true, result["bridged"])
	assert.Equal(t, "sales", result["destination"])
}

func TestAttendedTransfer_DeclineDigit_ReturnsToAgent(t *testing.T) {
	srv := fakeARIServer(t)
	defer srv.Close()
	client := ari.NewClient(srv.URL, "u", "p", "callengine", testLogger(t))

	h := &AttendedTransferHandler{
		ARI:            client,
		ChannelID:      "caller-1",
		Destinations:   testDestinations(),
		EndpointPrefix: "PJSIP",
		DeclinedPrompt: "The agent is unavailable.",
		DialTimeout:    time.Second,
		AcceptTimeout:  time.Second,
	}

	resultCh := make(chan any, 1)
	go func() {
		r, _ := h.Execute(context.Background(), map[string]any{"destination": "sales"})
		resultCh <- r
	}()

	waitUntil(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.destChannel != ""
	})
	h.OnRoutedEvent("dest-1", RouteEventChannelAnswered, "")
	waitUntil(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.stage == stageAwaitingDTMF
	})
	h.OnRoutedEvent("dest-1", RouteEventDTMF, "9")

	result := (<-resultCh).(map[string]any)
	assert.Equal(t, false, result["bridged"])
	assert.Equal(t, "declined", result["reason"])
}

func TestAttendedTransfer_UnknownDestination_Fails(t *testing.T) {
	h := &AttendedTransferHandler{Destinations: testDestinations()}
	_, err := h.Execute(context.Background(), map[string]any{"destination": "nope"})
	require.Error(t, err)
}

func TestAttendedTransfer_NotAttendedAllowed_Fails(t *testing.T) {
	h := &AttendedTransferHandler{Destinations: map[string]config.Destination{
		"sales": {Kind: "extension", Target: "700", AttendedAllowed: false},
	}}
	_, err := h.Execute(context.Background(), map[string]any{"destination": "sales"})
	require.Error(t, err)
}

func TestAttendedTransfer_CancelInFlight_AbortsDial(t *testing.T) {
	srv := fakeARIServer(t)
	defer srv.Close()
	client := ari.NewClient(srv.URL, "u", "p", "callengine", testLogger(t))

	h := &AttendedTransferHandler{
		ARI:            client,
		ChannelID:      "caller-1",
		Destinations:   testDestinations(),
		EndpointPrefix: "PJSIP",
		DialTimeout:    5 * time.Second,
		AcceptTimeout:  5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := h.Execute(context.Background(), map[string]any{"destination": "sales"})
		errCh <- err
	}()

	waitUntil(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.cancel != nil
	})
	assert.True(t, h.CancelInFlight())
	require.Error(t, <-errCh)
}

func TestCancelTransfer_NoTransferRunning_Fails(t *testing.T) {
	h := &AttendedTransferHandler{}
	c := &CancelTransferHandler{Attended: h}
	_, err := c.Execute(context.Background(), nil)
	require.Error(t, err)
}
