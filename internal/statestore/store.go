// Package statestore mirrors live bot state into Redis so external
// dashboards can read it without touching the bot's API. The mirror is
// strictly best effort: when Redis is disabled or unreachable every
// operation degrades to a no-op and trading continues.
package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"deriv-trading-bot/config"
)

const (
	positionsKey = "bot:positions"
	ledgerKey    = "bot:ledger"

	mirrorTTL           = 24 * time.Hour
	healthCheckInterval = 30 * time.Second
	maxFailures         = 3
)

// ErrUnavailable is returned while the circuit breaker holds Redis open.
var ErrUnavailable = errors.New("state mirror unavailable")

// Store writes state snapshots to Redis behind a small circuit breaker.
type Store struct {
	client *redis.Client
	logger zerolog.Logger

	mu           sync.RWMutex
	healthy      bool
	failureCount int

	stopChan chan struct{}
	stopOnce sync.Once
}

// New connects to Redis. A failed initial ping returns a degraded store
// rather than an error; the background health check promotes it back once
// Redis answers again.
func New(cfg config.RedisConfig, logger zerolog.Logger) *Store {
	log := logger.With().Str("component", "statestore").Logger()

	if !cfg.Enabled {
		log.Info().Msg("State mirror disabled")
		return &Store{logger: log}
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	s := &Store{
		client:   client,
		logger:   log,
		healthy:  true,
		stopChan: make(chan struct{}),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Msg("Redis unreachable, state mirror starts degraded")
		s.healthy = false
		s.failureCount = maxFailures
	} else {
		log.Info().Str("address", cfg.Address).Msg("Connected to Redis")
	}

	go s.checkHealth()
	return s
}

// Close stops the health loop and releases the client.
func (s *Store) Close() error {
	s.stopOnce.Do(func() {
		if s.stopChan != nil {
			close(s.stopChan)
		}
	})
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

// Healthy reports whether writes currently reach Redis.
func (s *Store) Healthy() bool {
	if s.client == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.healthy
}

// SetPositions mirrors the open position list.
func (s *Store) SetPositions(ctx context.Context, positions interface{}) error {
	return s.setJSON(ctx, positionsKey, positions)
}

// SetLedger mirrors the ledger snapshot.
func (s *Store) SetLedger(ctx context.Context, stats interface{}) error {
	return s.setJSON(ctx, ledgerKey, stats)
}

func (s *Store) setJSON(ctx context.Context, key string, value interface{}) error {
	if s.client == nil {
		return nil
	}
	if !s.Healthy() {
		return ErrUnavailable
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}

	if err := s.client.Set(ctx, key, data, mirrorTTL).Err(); err != nil {
		s.recordFailure()
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	s.recordSuccess()
	return nil
}

func (s *Store) recordFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failureCount++
	if s.failureCount >= maxFailures && s.healthy {
		s.healthy = false
		s.logger.Warn().Int("failures", s.failureCount).Msg("State mirror circuit breaker opened")
	}
}

func (s *Store) recordSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failureCount = 0
	if !s.healthy {
		s.healthy = true
		s.logger.Info().Msg("State mirror recovered")
	}
}

func (s *Store) checkHealth() {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			err := s.client.Ping(ctx).Err()
			cancel()
			if err != nil {
				s.recordFailure()
			} else {
				s.recordSuccess()
			}
		case <-s.stopChan:
			return
		}
	}
}
