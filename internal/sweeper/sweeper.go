// Package sweeper reclaims stuck requests: on a fixed interval it
// transitions timed-out approval and signing requests to their terminal
// expired state. Safe to run alongside live submissions; both sides use
// state-guarded updates, so a racing submission lands on exactly one of
// accepted or rejected-as-expired.
package sweeper

import (
	"context"
	"time"

	"custody-node/internal/logger"
)

// Expirer is anything with a bulk, idempotent expiry sweep.
type Expirer interface {
	ExpireOldRequests() (int64, error)
}

// Sweeper periodically expires overdue requests.
type Sweeper struct {
	interval time.Duration
	targets  []Expirer
}

// New creates a sweeper over the given sweep targets.
func New(interval time.Duration, targets ...Expirer) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Sweeper{interval: interval, targets: targets}
}

// Run sweeps on every tick until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	logger.Log.Infof("expiry sweeper running every %s", s.interval)

	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-ctx.Done():
			logger.Log.Info("expiry sweeper stopped")
			return
		}
	}
}

// Sweep runs one pass over all targets and returns the total number of
// requests expired.
func (s *Sweeper) Sweep() int64 {
	var total int64
	for _, t := range s.targets {
		n, err := t.ExpireOldRequests()
		if err != nil {
			logger.Log.Errorf("expiry sweep failed: %v", err)
			continue
		}
		total += n
	}
	return total
}
