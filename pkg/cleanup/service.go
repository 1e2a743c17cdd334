// Package cleanup enforces data retention in the background.
package cleanup

import (
	"context"
	"log/slog"
	"time"
)

// Purger removes expired records and reports how many were deleted.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Service periodically purges terminal deliveries past their retention
// window. The store's TTL index does the same job eventually; the sweep
// keeps counts observable and covers stores where TTL monitors lag.
// Runs are idempotent and safe from multiple pods.
type Service struct {
	interval   time.Duration
	deliveries Purger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a cleanup service sweeping at the given interval.
func NewService(interval time.Duration, deliveries Purger) *Service {
	return &Service{interval: interval, deliveries: deliveries}
}

// Start launches the background sweep loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started", "interval", s.interval)
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Service) runOnce(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	count, err := s.deliveries.PurgeExpired(sweepCtx)
	if err != nil {
		slog.Error("Retention: delivery purge failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: purged expired deliveries", "count", count)
	}
}
