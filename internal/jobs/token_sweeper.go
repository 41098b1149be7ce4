// Package jobs contains background maintenance loops started alongside the
// HTTP server.
package jobs

import (
	"context"
	"log/slog"
	"time"
)

// TokenStore is the subset of the one-time token repository the sweeper uses.
type TokenStore interface {
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// TokenSweeper periodically purges expired one-time key reveal tokens.
// Expired rows are already unredeemable, so the sweep is hygiene only: it
// keeps the table from accumulating rows that will never be read again.
type TokenSweeper struct {
	tokens   TokenStore
	interval time.Duration
	stopChan chan struct{}
}

// NewTokenSweeper creates a sweeper running on the given interval
// (default 1h when interval is non-positive).
func NewTokenSweeper(tokens TokenStore, interval time.Duration) *TokenSweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &TokenSweeper{
		tokens:   tokens,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start begins the background sweep loop. It runs an initial sweep
// immediately, then repeats on the configured interval. The loop exits when
// ctx is cancelled or Stop() is called.
func (s *TokenSweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("one-time token sweeper started", "interval", s.interval)

	s.sweep(ctx)

	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-s.stopChan:
			slog.Info("one-time token sweeper stopped")
			return
		case <-ctx.Done():
			slog.Info("one-time token sweeper context cancelled")
			return
		}
	}
}

// Stop signals the background loop to exit.
func (s *TokenSweeper) Stop() {
	close(s.stopChan)
}

func (s *TokenSweeper) sweep(ctx context.Context) {
	deleted, err := s.tokens.DeleteExpiredBefore(ctx, time.Now())
	if err != nil {
		slog.Error("one-time token sweep failed", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("purged expired one-time tokens", "count", deleted)
	}
}
