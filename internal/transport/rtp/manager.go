// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package rtp

import (
	"context"
	"fmt"

	"github.com/rapidaai/callengine/pkg/commons"
)

// Manager is the ExternalMedia UDP socket pool: it allocates a port per
// call from the distributed PortAllocator, binds a Session on it, and
// releases the port back to the pool when the call ends.
type Manager struct {
	host      string
	allocator *PortAllocator
	logger    commons.Logger
}

func NewManager(host string, allocator *PortAllocator, logger commons.Logger) *Manager {
	return &Manager{host: host, allocator: allocator, logger: logger}
}

// OpenSession allocates a port and binds a new RTP Session for one call.
// The returned release func must be called exactly once on teardown.
func (m *Manager) OpenSession(pt PayloadType, sink Sink) (*Session, func(), error) {
	port, err := m.allocator.Allocate()
	if err != nil {
		return nil, nil, fmt.Errorf("rtp: manager: %w", err)
	}
	session, err := NewSession(m.host, port, pt, sink, m.logger.With("rtp_port", port))
	if err != nil {
		m.allocator.Release(port)
		return nil, nil, err
	}
	release := func() {
		_ = session.Close()
		m.allocator.Release(port)
	}
	return session, release, nil
}

// Run starts the Session's inbound and outbound loops and blocks until
// ctx is cancelled.
func (m *Manager) Run(ctx context.Context, s *Session) {
	done := make(chan struct{})
	go func() { defer close(done); s.RunInbound(ctx) }()
	go s.RunOutbound(ctx)
	<-done
}
