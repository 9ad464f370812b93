package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/onsembl/onsembl/server/internal/agentdirectory"
)

// HeartbeatMultiple is how many missed expected-interval heartbeats before
// an agent is declared offline regardless of socket state (§4.E).
const HeartbeatMultiple = 3

// HeartbeatSweeper periodically scans the agent directory for entries whose
// last-seen timestamp has aged past HeartbeatMultiple times the expected
// interval and marks them offline, invoking onOffline for each so the
// caller can broadcast agent:status{offline} and audit the transition.
type HeartbeatSweeper struct {
	cron      gocron.Scheduler
	directory *agentdirectory.Directory
	interval  time.Duration
	onOffline func(agentID uuid.UUID)
	logger    *zap.Logger
}

// NewHeartbeatSweeper creates a gocron-backed sweeper. expectedInterval is
// the heartbeat cadence agents are configured to use (default 30s per the
// wrapper's heartbeatInterval setting); the sweep itself runs every
// expectedInterval to catch a miss promptly.
func NewHeartbeatSweeper(directory *agentdirectory.Directory, expectedInterval time.Duration, onOffline func(uuid.UUID), logger *zap.Logger) (*HeartbeatSweeper, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("audit: create gocron scheduler: %w", err)
	}
	return &HeartbeatSweeper{
		cron:      s,
		directory: directory,
		interval:  expectedInterval,
		onOffline: onOffline,
		logger:    logger.Named("heartbeat-sweep"),
	}, nil
}

// Start schedules the sweep and starts the underlying gocron scheduler.
func (s *HeartbeatSweeper) Start() error {
	_, err := s.cron.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(s.sweep),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("audit: schedule heartbeat sweep: %w", err)
	}
	s.cron.Start()
	return nil
}

// Stop shuts down the underlying gocron scheduler.
func (s *HeartbeatSweeper) Stop() error {
	return s.cron.Shutdown()
}

func (s *HeartbeatSweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cutoff := time.Now().Add(-HeartbeatMultiple * s.interval)
	stale, err := s.directory.MarkOffline(ctx, cutoff)
	if err != nil {
		s.logger.Error("heartbeat sweep failed", zap.Error(err))
		return
	}
	for _, id := range stale {
		s.logger.Warn("agent missed heartbeat threshold, marked offline", zap.String("agentId", id.String()))
		if s.onOffline != nil {
			s.onOffline(id)
		}
	}
}
