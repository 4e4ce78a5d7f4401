// Package ratelimit provides a minimum-interval gate for calls to rate-limited services.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/policyfund-crawler/internal/metrics"
)

// Gate spaces successive calls at least Interval apart. Callers block in Wait
// until their slot arrives or the context ends. A Gate is safe for concurrent use.
type Gate struct {
	name     string
	interval time.Duration
	limiter  *rate.Limiter
}

// Config holds gate configuration.
type Config struct {
	// Name labels wait metrics.
	Name string
	// Interval is the minimum spacing between calls; <= 0 disables the gate.
	Interval time.Duration
}

// New creates a Gate. The first call passes immediately.
func New(cfg Config) *Gate {
	limit := rate.Inf
	if cfg.Interval > 0 {
		limit = rate.Every(cfg.Interval)
	}
	name := cfg.Name
	if name == "" {
		name = "default"
	}
	return &Gate{
		name:     name,
		interval: cfg.Interval,
		limiter:  rate.NewLimiter(limit, 1),
	}
}

// Interval reports the configured spacing.
func (g *Gate) Interval() time.Duration {
	return g.interval
}

// Wait blocks until the next call may proceed.
func (g *Gate) Wait(ctx context.Context) error {
	start := time.Now()
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("gate %s wait: %w", g.name, err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveGateWait(g.name, waited)
	}
	return nil
}
