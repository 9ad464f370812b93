package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/onsembl/onsembl/server/internal/db"
)

// RetentionSweepInterval is how often the best-effort retention sweep runs.
// List already enforces the retention window at query time regardless of
// whether this sweep has run (§9 design note: query-time filtering is
// authoritative, the sweep is a secondary best-effort reclaim of storage).
const RetentionSweepInterval = 1 * time.Hour

// Sweeper wraps gocron to drive the audit-retention sweep in singleton mode,
// mirroring the teacher's scheduler.Scheduler (server/internal/scheduler/
// scheduler.go) one-gocron-job-per-concern pattern.
type Sweeper struct {
	cron   gocron.Scheduler
	funnel *Funnel
	logger *zap.Logger
}

// NewSweeper creates a gocron-backed sweeper. Call Start to begin ticking.
func NewSweeper(funnel *Funnel, logger *zap.Logger) (*Sweeper, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("audit: create gocron scheduler: %w", err)
	}
	return &Sweeper{cron: s, funnel: funnel, logger: logger.Named("audit-retention")}, nil
}

// Start schedules the sweep and starts the underlying gocron scheduler.
func (s *Sweeper) Start() error {
	_, err := s.cron.NewJob(
		gocron.DurationJob(RetentionSweepInterval),
		gocron.NewTask(s.sweep),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("audit: schedule retention sweep: %w", err)
	}
	s.cron.Start()
	return nil
}

// Stop shuts down the underlying gocron scheduler.
func (s *Sweeper) Stop() error {
	return s.cron.Shutdown()
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cutoff := time.Now().Add(-s.funnel.retention)
	result := s.funnel.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&db.AuditEntry{})
	if result.Error != nil {
		s.logger.Error("retention sweep failed", zap.Error(result.Error))
		return
	}
	if result.RowsAffected > 0 {
		s.logger.Info("retention sweep reclaimed rows", zap.Int64("rows", result.RowsAffected))
	}
}
