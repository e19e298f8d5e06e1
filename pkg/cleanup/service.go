// Package cleanup provides data retention enforcement.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/threadsync/threadsync/pkg/config"
	"github.com/threadsync/threadsync/pkg/store"
)

// Service periodically enforces retention policies:
//   - Deletes terminal discussions past their retention window
//   - Deletes completed sync jobs past theirs
//
// All operations are idempotent and safe to run from multiple replicas.
type Service struct {
	config *config.RetentionConfig
	store  store.Store

	now func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service.
func NewService(cfg *config.RetentionConfig, st store.Store) *Service {
	return &Service{
		config: cfg,
		store:  st,
		now:    time.Now,
	}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"discussion_retention_days", s.config.DiscussionRetentionDays,
		"job_retention_days", s.config.JobRetentionDays,
		"interval", s.config.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
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

	s.RunOnce(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs one retention sweep.
func (s *Service) RunOnce(ctx context.Context) {
	s.cleanupDiscussions(ctx)
	s.cleanupJobs(ctx)
}

func (s *Service) cleanupDiscussions(ctx context.Context) {
	cutoff := s.now().AddDate(0, 0, -s.config.DiscussionRetentionDays)
	count, err := s.store.Discussions().DeleteCompletedBefore(ctx, cutoff)
	if err != nil {
		slog.Error("Retention: discussion cleanup failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: deleted old discussions", "count", count)
	}
}

func (s *Service) cleanupJobs(ctx context.Context) {
	cutoff := s.now().AddDate(0, 0, -s.config.JobRetentionDays)
	count, err := s.store.SyncJobs().DeleteCompletedBefore(ctx, cutoff)
	if err != nil {
		slog.Error("Retention: job cleanup failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: deleted old sync jobs", "count", count)
	}
}
