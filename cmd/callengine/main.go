// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Command callengine hosts the real-time voice engine: the ARI event
// loop, the media listeners, per-call session coordinators, the provider
// health supervisor, and the localhost admin API, all in one long-lived
// process.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/rapidaai/callengine/internal/admin"
	"github.com/rapidaai/callengine/internal/ari"
	"github.com/rapidaai/callengine/internal/audioprofile"
	"github.com/rapidaai/callengine/internal/config"
	engineerrors "github.com/rapidaai/callengine/internal/errors"
	"github.com/rapidaai/callengine/internal/health"
	"github.com/rapidaai/callengine/internal/metrics"
	"github.com/rapidaai/callengine/internal/session"
	"github.com/rapidaai/callengine/internal/transport/audiosocket"
	"github.com/rapidaai/callengine/internal/transport/rtp"
	"github.com/rapidaai/callengine/pkg/commons"
)

const (
	exitOK          = 0
	exitUnexpected  = 1
	exitConfigError = 64
	exitBindError   = 65
	exitARIAuth     = 66
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the configuration document")
	flag.Parse()

	logger, err := commons.NewApplicationLogger()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to initialize logger:", err)
		return exitUnexpected
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, *configPath, logger); err != nil {
		logger.Errorw("engine exited with error", "error", err)
		return exitCodeFor(err)
	}
	return exitOK
}

func serve(ctx context.Context, configPath string, logger commons.Logger) error {
	doc, err := config.Load(configPath)
	if err != nil {
		return err
	}
	for _, w := range doc.Warnings {
		logger.Warnw("configuration warning", "warning", w)
	}
	snapshot := config.NewSnapshot(doc)

	shutdownMetrics, err := metrics.InitProvider()
	if err != nil {
		return err
	}
	defer shutdownMetrics(context.Background())
	met, err := metrics.New(otel.GetMeterProvider())
	if err != nil {
		return err
	}

	ariClient := ari.NewClient(doc.Asterisk.ARIURL, doc.Asterisk.ARIUser, doc.Asterisk.ARIPassword, doc.Asterisk.App, logger)
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err = ariClient.Ping(pingCtx)
	cancel()
	if err != nil {
		return err
	}

	subscriber := ari.NewSubscriber(ariWebSocketURL(doc.Asterisk.ARIURL), doc.Asterisk.ARIUser, doc.Asterisk.ARIPassword, doc.Asterisk.App, logger)

	deps := session.Deps{
		ARI:      ariClient,
		Profiles: audioprofile.NewRegistry(),
		HTTP:     resty.New().SetTimeout(10 * time.Second),
		Metrics:  met,
		Timeouts: config.DefaultTimeouts(),
		Logger:   logger,
	}

	var rtpAllocator *rtp.PortAllocator
	switch doc.AudioTransport {
	case "externalmedia":
		redisClient := redis.NewClient(&redis.Options{Addr: doc.ExternalMedia.RedisAddr})
		rtpAllocator = rtp.NewPortAllocator(redisClient, logger, doc.ExternalMedia.PortRangeMin, doc.ExternalMedia.PortRangeMax)
		if err := rtpAllocator.Init(ctx); err != nil {
			return err
		}
		defer rtpAllocator.ReleaseAll(context.Background())
		deps.RTP = rtp.NewManager(doc.ExternalMedia.ListenHost, rtpAllocator, logger)
		deps.MediaAddr = doc.ExternalMedia.ListenHost
	default:
		deps.MediaAddr = doc.AudioSocket.AdvertiseAddr
		if deps.MediaAddr == "" {
			deps.MediaAddr = doc.AudioSocket.ListenAddr
		}
	}

	engine := session.NewEngine(snapshot, deps)

	var listener *audiosocket.Listener
	if doc.AudioTransport != "externalmedia" {
		listener = audiosocket.NewListener(doc.AudioSocket.ListenAddr, engine.Registry(), logger)
	}

	supervisor := health.NewSupervisor(config.DefaultTimeouts().ConnectionTimeout, logger)

	adminAddr := doc.Admin.ListenAddr
	if adminAddr == "" {
		adminAddr = "127.0.0.1:8090"
	}
	adminServer := admin.NewServer(admin.Deps{
		Snapshot:     snapshot,
		ConfigPath:   configPath,
		ARIConnected: subscriber.Connected,
		TransportBound: func() bool {
			if listener != nil {
				return listener.Bound()
			}
			return true // the RTP pool binds per call
		},
		TransportName: doc.AudioTransport,
		Calls:         engine,
		Health:        supervisor,
		Logger:        logger,
	})

	logger.Infow("engine starting",
		"transport", doc.AudioTransport,
		"default_provider", doc.DefaultProvider,
		"admin_addr", adminAddr,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		subscriber.Run(gctx)
		return nil
	})
	g.Go(func() error {
		engine.Run(gctx, subscriber.Events())
		return nil
	})
	if listener != nil {
		g.Go(func() error {
			return listener.Serve(gctx)
		})
	}
	g.Go(func() error {
		supervisor.Run(gctx, snapshot)
		return nil
	})
	g.Go(func() error {
		return adminServer.Run(gctx, adminAddr)
	})

	return g.Wait()
}

// ariWebSocketURL derives the events WebSocket endpoint from the HTTP
// base URL (http://host:8088/ari -> ws://host:8088/ari/events).
func ariWebSocketURL(base string) string {
	ws := base
	switch {
	case strings.HasPrefix(base, "https://"):
		ws = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		ws = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return strings.TrimRight(ws, "/") + "/events"
}

// exitCodeFor maps an error to the documented process exit codes.
func exitCodeFor(err error) int {
	if engineerrors.KindOf(err) == engineerrors.KindConfig {
		return exitConfigError
	}
	if ari.ErrorKind(err) == "Unauthorized" {
		return exitARIAuth
	}
	var op *net.OpError
	if errors.As(err, &op) && op.Op == "listen" {
		return exitBindError
	}
	return exitUnexpected
}
