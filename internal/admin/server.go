// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package admin serves the localhost operations API: liveness, readiness,
// health detail, metrics exposition, config reload, and forced call
// teardown.
package admin

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rapidaai/callengine/internal/config"
	"github.com/rapidaai/callengine/internal/health"
	"github.com/rapidaai/callengine/pkg/commons"
)

// CallController is the slice of the session engine the admin API drives.
type CallController interface {
	ActiveCalls() int
	HangupCall(channelID string) bool
}

// Deps wires the server to the process's long-lived components through
// narrow interfaces so the package has no dependency on their packages.
type Deps struct {
	Snapshot   *config.Snapshot
	ConfigPath string

	ARIConnected   func() bool
	TransportBound func() bool
	TransportName  string

	Calls  CallController
	Health *health.Supervisor
	Logger commons.Logger
}

type Server struct {
	deps   Deps
	router *gin.Engine
}

func NewServer(deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{deps: deps, router: router}

	router.GET("/live", s.live)
	router.GET("/ready", s.ready)
	router.GET("/health", s.health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.POST("/config/reload", s.reload)
	router.POST("/calls/:id/hangup", s.hangupCall)

	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) live(c *gin.Context) {
	c.Status(http.StatusOK)
}

func (s *Server) isReady() bool {
	if !s.deps.ARIConnected() || !s.deps.TransportBound() {
		return false
	}
	return s.deps.Health.Ready(s.deps.Snapshot.Current().DefaultProvider)
}

func (s *Server) ready(c *gin.Context) {
	if s.isReady() {
		c.Status(http.StatusOK)
		return
	}
	c.Status(http.StatusServiceUnavailable)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"ari_connected": s.deps.ARIConnected(),
		"transport":     s.deps.TransportName,
		"active_calls":  s.deps.Calls.ActiveCalls(),
		"providers":     s.deps.Health.Statuses(),
	})
}

func (s *Server) reload(c *gin.Context) {
	next, err := config.Load(s.deps.ConfigPath)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"applied": false, "error": err.Error()})
		return
	}
	if err := config.Validate(next); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"applied": false, "error": err.Error()})
		return
	}

	result := s.deps.Snapshot.Reload(next)
	s.deps.Logger.Infow("configuration reloaded",
		"restart_required", result.RestartRequired,
		"warnings", len(result.Warnings),
	)
	c.JSON(http.StatusOK, gin.H{
		"applied":          result.Applied,
		"restart_required": orEmpty(result.RestartRequired),
		"warnings":         orEmpty(result.Warnings),
	})
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (s *Server) hangupCall(c *gin.Context) {
	id := c.Param("id")
	if !s.deps.Calls.HangupCall(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active call with that channel id"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"hangup_requested": true})
}
