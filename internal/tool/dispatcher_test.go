package tool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/callengine/pkg/commons"
)

func testLogger(t *testing.T) commons.Logger {
	l, err := commons.NewApplicationLogger()
	require.NoError(t, err)
	return l
}

type fakeHandler struct {
	name       string
	concurrent bool
	block      chan struct{}
	err        error
}

func (f *fakeHandler) Name() string         { return f.name }
func (f *fakeHandler) Concurrent() bool     { return f.concurrent }
func (f *fakeHandler) Terminal() bool       { return false }
func (f *fakeHandler) Timeout() time.Duration { return time.Second }
func (f *fakeHandler) Execute(ctx context.Context, args map[string]any) (any, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return map[string]any{"ok": true}, nil
}

func TestDispatch_UnknownTool_Fails(t *testing.T) {
	d := NewDispatcher(nil, nil, testLogger(t))
	inv := d.Dispatch(context.Background(), "1", "nope", nil)
	assert.Equal(t, StatusFailed, inv.Status)
}

func TestDispatch_AllowlistRejectsOutOfScopeTool(t *testing.T) {
	h := &fakeHandler{name: "transfer"}
	d := NewDispatcher([]Handler{h}, []string{"hangup_call"}, testLogger(t))
	inv := d.Dispatch(context.Background(), "1", "transfer", nil)
	assert.Equal(t, StatusFailed, inv.Status)
}

func TestDispatch_NonConcurrentTool_RejectsSecondWhileFirstRunning(t *testing.T) {
	block := make(chan struct{})
	h1 := &fakeHandler{name: "transfer", block: block}
	h2 := &fakeHandler{name: "hangup_call"}
	d := NewDispatcher([]Handler{h1, h2}, nil, testLogger(t))

	done := make(chan *Invocation, 1)
	go func() { done <- d.Dispatch(context.Background(), "1", "transfer", nil) }()
	waitUntil(t, func() bool { return d.IsRunning() })

	second := d.Dispatch(context.Background(), "2", "hangup_call", nil)
	assert.Equal(t, StatusFailed, second.Status)

	close(block)
	first := <-done
	assert.Equal(t, StatusSucceeded, first.Status)
	assert.False(t, d.IsRunning())
}

func TestDispatch_ConcurrentTool_RunsAlongsideNonConcurrent(t *testing.T) {
	block := make(chan struct{})
	h1 := &fakeHandler{name: "transfer", block: block}
	h2 := &fakeHandler{name: "cancel_transfer", concurrent: true}
	d := NewDispatcher([]Handler{h1, h2}, nil, testLogger(t))

	go d.Dispatch(context.Background(), "1", "transfer", nil)
	waitUntil(t, func() bool { return d.IsRunning() })

	second := d.Dispatch(context.Background(), "2", "cancel_transfer", nil)
	assert.Equal(t, StatusSucceeded, second.Status)
	close(block)
}

func TestDispatch_Timeout_FailsWithToolTimeout(t *testing.T) {
	h := &fakeHandler{name: "slow", block: make(chan struct{})}
	d := NewDispatcher([]Handler{h}, nil, testLogger(t))
	// Override via a context with an already-tight deadline so Timeout()'s
	// 1s default doesn't make the test slow.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	inv := d.Dispatch(ctx, "1", "slow", nil)
	assert.Equal(t, StatusFailed, inv.Status)
	require.Error(t, inv.Err)
}

func TestRouteEvent_OnlyReachesRoutableHandlers(t *testing.T) {
	r := &routableFake{}
	h := &fakeHandler{name: "transfer"}
	d := NewDispatcher([]Handler{h, r}, nil, testLogger(t))

	d.RouteEvent("chan-1", RouteEventDTMF, "5")
	require.Len(t, r.events, 1)
	assert.Equal(t, "chan-1", r.events[0].channelID)
	assert.Equal(t, RouteEventDTMF, r.events[0].kind)
	assert.Equal(t, "5", r.events[0].payload)
}

type routedEvent struct {
	channelID string
	kind      RouteEventKind
	payload   string
}

type routableFake struct {
	fakeHandler
	events []routedEvent
}

func (r *routableFake) Name() string { return "routable_fake" }

func (r *routableFake) OnRoutedEvent(channelID string, kind RouteEventKind, payload string) {
	r.events = append(r.events, routedEvent{channelID, kind, payload})
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition never became true")
}
