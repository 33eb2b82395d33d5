// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package rtp implements the ExternalMedia UDP transport: a
// bound socket per call allocated from a configured port range, inbound
// de-jitter by sequence number, and outbound pacing with monotonically
// increasing sequence numbers and timestamps.
package rtp

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rapidaai/callengine/pkg/commons"
)

// Redis key layout for the ExternalMedia port pool. The hash tag keeps
// every key on one cluster slot so the allocation script stays atomic.
const (
	portAvailableKey   = "{extmedia:ports}:available"
	portAllocatedPrefix = "{extmedia:ports}:allocated:"
	portAllocatedTTL    = 10 * time.Minute
)

// PortAllocator manages distributed allocation of ExternalMedia RTP ports
// via Redis so that multiple engine instances never race for the same
// port. Thread-safe across instances via Redis atomic Lua scripts.
type PortAllocator struct {
	client     *redis.Client
	logger     commons.Logger
	portStart  int
	portEnd    int
	instanceID string
}

func NewPortAllocator(client *redis.Client, logger commons.Logger, portStart, portEnd int) *PortAllocator {
	hostname, _ := os.Hostname()
	return &PortAllocator{
		client:     client,
		logger:     logger,
		portStart:  portStart,
		portEnd:    portEnd,
		instanceID: fmt.Sprintf("%s:%d", hostname, os.Getpid()),
	}
}

var initLuaScript = redis.NewScript(`
	local key = KEYS[1]
	if redis.call('EXISTS', key) == 0 then
		for i = 1, #ARGV do
			redis.call('SADD', key, ARGV[i])
		end
		return #ARGV
	end
	return 0
`)

// Init populates the available-port set on first use; safe to call on
// every startup.
func (a *PortAllocator) Init(ctx context.Context) error {
	if a.client == nil {
		return fmt.Errorf("rtp: redis connection not available for port allocator")
	}
	start := a.portStart
	if start%2 != 0 {
		start++
	}
	ports := make([]interface{}, 0, (a.portEnd-start)/2)
	for port := start; port < a.portEnd; port += 2 {
		ports = append(ports, port)
	}
	if len(ports) == 0 {
		return fmt.Errorf("rtp: no valid ports in range %d-%d", a.portStart, a.portEnd)
	}
	n, err := initLuaScript.Run(ctx, a.client, []string{portAvailableKey}, ports...).Int()
	if err != nil {
		return fmt.Errorf("rtp: failed to init port pool: %w", err)
	}
	if n > 0 {
		a.logger.Infow("initialized ExternalMedia port pool", "ports_added", n)
	}
	a.reclaimCrashedPorts(ctx)
	return nil
}

var allocateLuaScript = redis.NewScript(`
	local port = redis.call('SPOP', KEYS[1])
	if port == false then
		return -1
	end
	redis.call('SADD', KEYS[2], port)
	return port
`)

func (a *PortAllocator) Allocate() (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if a.client == nil {
		return 0, fmt.Errorf("rtp: redis connection not available")
	}
	instanceKey := portAllocatedPrefix + a.instanceID
	result, err := allocateLuaScript.Run(ctx, a.client, []string{portAvailableKey, instanceKey}).Int()
	if err != nil {
		return 0, fmt.Errorf("rtp: failed to allocate port: %w", err)
	}
	if result == -1 {
		return 0, fmt.Errorf("rtp: no ExternalMedia ports available in range %d-%d", a.portStart, a.portEnd)
	}
	a.client.Expire(ctx, instanceKey, portAllocatedTTL)
	return result, nil
}

var releaseLuaScript = redis.NewScript(`
	redis.call('SREM', KEYS[2], ARGV[1])
	redis.call('SADD', KEYS[1], ARGV[1])
	return 1
`)

func (a *PortAllocator) Release(port int) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if a.client == nil {
		return
	}
	instanceKey := portAllocatedPrefix + a.instanceID
	if _, err := releaseLuaScript.Run(ctx, a.client, []string{portAvailableKey, instanceKey}, port).Result(); err != nil {
		a.logger.Errorw("rtp: failed to release port", "port", port, "error", err)
	}
}

func (a *PortAllocator) reclaimCrashedPorts(ctx context.Context) {
	instanceKey := portAllocatedPrefix + a.instanceID
	ports, err := a.client.SMembers(ctx, instanceKey).Result()
	if err != nil || len(ports) == 0 {
		return
	}
	a.logger.Warnw("reclaiming ExternalMedia ports from crashed instance", "count", len(ports))
	for _, portStr := range ports {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			continue
		}
		releaseLuaScript.Run(ctx, a.client, []string{portAvailableKey, instanceKey}, port)
	}
}

// ReleaseAll returns every port allocated by this instance to the pool;
// called during graceful shutdown.
func (a *PortAllocator) ReleaseAll(ctx context.Context) {
	if a.client == nil {
		return
	}
	instanceKey := portAllocatedPrefix + a.instanceID
	ports, err := a.client.SMembers(ctx, instanceKey).Result()
	if err != nil {
		return
	}
	for _, portStr := range ports {
		if port, err := strconv.Atoi(portStr); err == nil {
			a.Release(port)
		}
	}
	a.client.Del(ctx, instanceKey)
}
