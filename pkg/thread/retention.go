package thread

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// RetentionConfig controls automatic pruning of idle threads.
type RetentionConfig struct {
	// RetentionDays is how long an idle thread is kept after its last turn.
	// A value of 0 disables pruning.
	RetentionDays int `yaml:"retention_days"`

	// PruneSchedule is a cron expression for when pruning runs,
	// e.g. "0 3 * * *" for daily at 3 AM. Empty disables the scheduler.
	PruneSchedule string `yaml:"prune_schedule"`
}

// Pruner deletes threads whose newest turn is older than the retention window.
type Pruner struct {
	backend Backend
	config  RetentionConfig
	logger  *slog.Logger
}

// NewPruner creates a pruner over the given backend.
func NewPruner(backend Backend, config RetentionConfig) *Pruner {
	return &Pruner{
		backend: backend,
		config:  config,
		logger:  slog.Default().With("component", "thread.retention"),
	}
}

// Prune runs one pruning cycle and returns the number of deleted turns.
func (p *Pruner) Prune(ctx context.Context) (int64, error) {
	if p.config.RetentionDays <= 0 {
		return 0, nil
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -p.config.RetentionDays)
	return p.backend.PruneIdleThreads(ctx, cutoff)
}

// RetentionScheduler runs the pruner on a cron schedule.
type RetentionScheduler struct {
	pruner  *Pruner
	cron    *cron.Cron
	mu      sync.Mutex
	logger  *slog.Logger
	running bool
}

// NewRetentionScheduler creates a scheduler for the given pruner.
func NewRetentionScheduler(pruner *Pruner) *RetentionScheduler {
	return &RetentionScheduler{
		pruner: pruner,
		cron:   cron.New(),
		logger: slog.Default().With("component", "thread.retention"),
	}
}

// Start begins scheduled pruning. If no schedule is configured, it does
// nothing. The scheduler stops itself when the context is cancelled.
func (s *RetentionScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	schedule := s.pruner.config.PruneSchedule
	if schedule == "" {
		s.logger.Info("prune schedule not configured, skipping scheduler")
		return nil
	}

	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", schedule, err)
	}

	_, err := s.cron.AddFunc(schedule, func() {
		deleted, err := s.pruner.Prune(ctx)
		if err != nil {
			s.logger.Error("scheduled pruning failed", "error", err)
			return
		}
		if deleted > 0 {
			s.logger.Info("scheduled pruning completed", "deleted_turns", deleted)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule pruning: %w", err)
	}

	s.cron.Start()
	s.running = true

	s.logger.Info("retention scheduler started",
		"schedule", schedule,
		"retention_days", s.pruner.config.RetentionDays,
	)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

// Stop stops the scheduler and waits for a running job to finish.
func (s *RetentionScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		<-s.cron.Stop().Done()
		s.running = false
		s.logger.Info("retention scheduler stopped")
	}
}

// IsRunning reports whether the scheduler is active.
func (s *RetentionScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
