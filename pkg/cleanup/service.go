// Package cleanup provides background maintenance services.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/conductor/pkg/config"
	"github.com/codeready-toolchain/conductor/pkg/metrics"
	"github.com/codeready-toolchain/conductor/pkg/registry"
	"github.com/codeready-toolchain/conductor/pkg/thread"
)

// Service periodically enforces resource hygiene:
//   - Sweeps zombie connection slots across all users, so slots held by
//     abruptly-dead transports are freed even for users who never reconnect
//   - Prunes conversation threads past the retention window
//
// All operations are idempotent.
type Service struct {
	config   *config.CleanupConfig
	registry *registry.Registry
	threads  *thread.Store
	metrics  *metrics.Metrics

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service. metrics may be nil.
func NewService(
	cfg *config.CleanupConfig,
	reg *registry.Registry,
	threads *thread.Store,
	m *metrics.Metrics,
) *Service {
	return &Service{
		config:   cfg,
		registry: reg,
		threads:  threads,
		metrics:  m,
	}
}

// Start launches the background sweep loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"sweep_interval", s.config.SweepInterval,
		"thread_retention", s.config.ThreadRetention)
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

	s.runAll()

	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll()
		}
	}
}

func (s *Service) runAll() {
	s.sweepZombies()
	s.pruneThreads()
}

func (s *Service) sweepZombies() {
	count := s.registry.SweepAll()
	if count > 0 {
		s.metrics.ZombieReclaimed(count)
		slog.Info("Sweep: reclaimed zombie connection slots", "count", count)
	}
}

func (s *Service) pruneThreads() {
	count := s.threads.PruneStale(s.config.ThreadRetention)
	if count > 0 {
		slog.Info("Sweep: pruned stale threads", "count", count)
	}
}
