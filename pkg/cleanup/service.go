// Package cleanup enforces session retention: old sessions, their messages,
// and their checkpoints are purged on a schedule.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/cognition-ai/cognition/pkg/storage"
)

// Config controls the retention loop.
type Config struct {
	// RetentionDays is how many days an idle session is kept. Zero disables
	// the loop entirely.
	RetentionDays int

	// Interval is how often the loop runs.
	Interval time.Duration
}

// DefaultConfig returns the built-in retention defaults.
func DefaultConfig() Config {
	return Config{
		RetentionDays: 90,
		Interval:      12 * time.Hour,
	}
}

// Service periodically purges sessions that have not been touched within the
// retention window. Purges are idempotent and safe to run from multiple
// replicas.
type Service struct {
	cfg    Config
	store  storage.Backend
	logger *slog.Logger

	// now is swappable in tests.
	now func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a retention service over the given backend.
func NewService(cfg Config, store storage.Backend, logger *slog.Logger) *Service {
	return &Service{
		cfg:    cfg,
		store:  store,
		logger: logger.With("component", "cleanup"),
		now:    time.Now,
	}
}

// Start launches the background retention loop. A zero retention window
// means the loop never starts.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil || s.cfg.RetentionDays <= 0 {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	s.logger.Info("Retention loop started",
		"retention_days", s.cfg.RetentionDays,
		"interval", s.cfg.Interval)
}

// Stop signals the loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.logger.Info("Retention loop stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.RunOnce(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
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

// RunOnce purges everything past the retention window immediately.
func (s *Service) RunOnce(ctx context.Context) {
	cutoff := s.now().AddDate(0, 0, -s.cfg.RetentionDays)
	count, err := s.store.PurgeSessionsBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error("Retention purge failed", "error", err)
		return
	}
	if count > 0 {
		s.logger.Info("Retention: purged old sessions",
			"count", count, "cutoff", cutoff)
	}
}
