// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package health supervises provider reachability between calls. Per-call
// provider sessions never reconnect (a disconnect mid-call is terminal
// for that call); the supervisor owns the longer-lived concern of
// probing each configured provider with back-off and reporting readiness
// to the admin API.
package health

import (
	"context"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/rapidaai/callengine/internal/config"
	"github.com/rapidaai/callengine/pkg/commons"
)

const (
	probeInterval  = 15 * time.Second
	initialBackoff = 2 * time.Second
	maxBackoff     = 60 * time.Second
)

// ProviderStatus is one provider's last observed reachability.
type ProviderStatus struct {
	Ready     bool      `json:"ready"`
	LastError string    `json:"last_error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Prober checks whether one provider endpoint is reachable. The default
// dials the endpoint's TCP address; tests substitute a fake.
type Prober func(ctx context.Context, rawURL string, timeout time.Duration) error

// Supervisor probes every enabled provider on a fixed interval, backing
// off per provider while it stays unreachable.
type Supervisor struct {
	probe   Prober
	timeout time.Duration
	logger  commons.Logger

	mu       sync.RWMutex
	statuses map[string]ProviderStatus
	backoffs map[string]time.Duration
	nextDue  map[string]time.Time
}

func NewSupervisor(connectTimeout time.Duration, logger commons.Logger) *Supervisor {
	return &Supervisor{
		probe:    dialProbe,
		timeout:  connectTimeout,
		logger:   logger,
		statuses: make(map[string]ProviderStatus),
		backoffs: make(map[string]time.Duration),
		nextDue:  make(map[string]time.Time),
	}
}

// WithProber overrides the probe implementation, for tests.
func (s *Supervisor) WithProber(p Prober) *Supervisor {
	s.probe = p
	return s
}

// Run probes until ctx is cancelled. The config snapshot is re-read every
// cycle so hot-reloaded provider sets are picked up without a restart.
func (s *Supervisor) Run(ctx context.Context, snapshot *config.Snapshot) {
	ticker := time.NewTicker(probeInterval / 5)
	defer ticker.Stop()
	s.sweep(ctx, snapshot.Current())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx, snapshot.Current())
		}
	}
}

func (s *Supervisor) sweep(ctx context.Context, doc *config.Document) {
	now := time.Now()
	for name, p := range doc.Providers {
		if !p.Enabled || p.URL == "" {
			continue
		}
		s.mu.RLock()
		due := s.nextDue[name]
		s.mu.RUnlock()
		if now.Before(due) {
			continue
		}
		s.probeOne(ctx, name, p.URL)
	}
}

func (s *Supervisor) probeOne(ctx context.Context, name, rawURL string) {
	err := s.probe(ctx, rawURL, s.timeout)
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		backoff := s.backoffs[name]
		if backoff == 0 {
			backoff = initialBackoff
		} else if backoff < maxBackoff {
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
		s.backoffs[name] = backoff
		s.nextDue[name] = now.Add(backoff)
		s.statuses[name] = ProviderStatus{Ready: false, LastError: err.Error(), CheckedAt: now}
		s.logger.Warnw("health: provider unreachable", "provider", name, "backoff", backoff, "error", err)
		return
	}
	s.backoffs[name] = 0
	s.nextDue[name] = now.Add(probeInterval)
	s.statuses[name] = ProviderStatus{Ready: true, CheckedAt: now}
}

// Ready reports whether the named provider's last probe succeeded. A
// provider that has never been probed reports false.
func (s *Supervisor) Ready(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statuses[name].Ready
}

// Statuses returns a copy of every provider's last observed status.
func (s *Supervisor) Statuses() map[string]ProviderStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]ProviderStatus, len(s.statuses))
	for k, v := range s.statuses {
		out[k] = v
	}
	return out
}

// dialProbe checks TCP reachability of the endpoint behind rawURL. It
// deliberately stops at the transport layer: a full protocol handshake
// per probe would consume provider quota.
func dialProbe(ctx context.Context, rawURL string, timeout time.Duration) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	host := u.Host
	if u.Port() == "" {
		switch u.Scheme {
		case "wss", "https":
			host = net.JoinHostPort(u.Hostname(), "443")
		default:
			host = net.JoinHostPort(u.Hostname(), "80")
		}
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", host)
	if err != nil {
		return err
	}
	return conn.Close()
}
