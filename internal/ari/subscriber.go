// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package ari

import (
	"context"
	"fmt"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rapidaai/callengine/pkg/commons"
)

const (
	reconnectInitial = 2 * time.Second
	reconnectCap     = 60 * time.Second
)

// Subscriber is the event-subscriber half of the ARI adapter:
// one long-lived WebSocket with unlimited exponential-backoff reconnect.
// Readiness (Connected) is false whenever the socket is down.
type Subscriber struct {
	wsURL   string
	appName string
	logger  commons.Logger

	events    chan Event
	connected atomic.Bool
}

func NewSubscriber(wsURL, username, password, appName string, logger commons.Logger) *Subscriber {
	u, err := url.Parse(wsURL)
	if err == nil {
		q := u.Query()
		q.Set("app", appName)
		q.Set("api_key", fmt.Sprintf("%s:%s", username, password))
		q.Set("subscribeAll", "true")
		u.RawQuery = q.Encode()
		wsURL = u.String()
	}
	return &Subscriber{wsURL: wsURL, appName: appName, logger: logger, events: make(chan Event, 256)}
}

// Events returns the channel of decoded ARI events. Never closed; on
// disconnect the subscriber keeps retrying until ctx is cancelled.
func (s *Subscriber) Events() <-chan Event { return s.events }

// Connected reports current WebSocket readiness.
func (s *Subscriber) Connected() bool { return s.connected.Load() }

// Run drives the subscribe-reconnect loop until ctx is cancelled.
func (s *Subscriber) Run(ctx context.Context) {
	backoff := reconnectInitial
	for {
		if ctx.Err() != nil {
			return
		}
		connected, err := s.runOnce(ctx)
		if err != nil {
			s.logger.Warnw("ari: subscriber disconnected, retrying", "error", err, "backoff", backoff)
		}
		s.connected.Store(false)
		if connected {
			backoff = reconnectInitial
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if !connected {
			backoff *= 2
			if backoff > reconnectCap {
				backoff = reconnectCap
			}
		}
	}
}

// runOnce dials, subscribes, and reads events until the connection drops or
// ctx is cancelled. The returned bool reports whether the dial succeeded,
// so Run knows whether to reset its backoff.
func (s *Subscriber) runOnce(ctx context.Context) (connected bool, err error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, s.wsURL, nil)
	if err != nil {
		return false, fmt.Errorf("ari: subscriber dial failed: %w", err)
	}
	defer conn.Close()

	s.connected.Store(true)
	s.logger.Infow("ari: subscriber connected")

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		conn.Close()
		close(done)
	}()

	for {
		_, raw, readErr := conn.ReadMessage()
		if readErr != nil {
			return true, readErr
		}
		ev, decodeErr := decodeEvent(raw)
		if decodeErr != nil {
			s.logger.Warnw("ari: malformed event", "error", decodeErr)
			continue
		}
		select {
		case s.events <- ev:
		case <-done:
			return true, ctx.Err()
		}
	}
}
