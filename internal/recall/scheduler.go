package recall

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/rcliao/agent-recall/internal/store"
)

// SessionLister lists known sessions. store.Admin implements it.
type SessionLister interface {
	Sessions(ctx context.Context) ([]store.SessionInfo, error)
}

// ScheduleConfig selects when periodic consolidation runs. Cron wins over Interval.
type ScheduleConfig struct {
	Cron     string        `mapstructure:"cron"`
	Interval time.Duration `mapstructure:"interval"`
}

// Scheduler consolidates every session on a schedule.
type Scheduler struct {
	engine    *Engine
	sessions  SessionLister
	scheduler gocron.Scheduler
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	job    gocron.Job
}

// NewScheduler registers a consolidation job. The job does not run until Start.
func NewScheduler(e *Engine, sessions SessionLister, cfg ScheduleConfig) (*Scheduler, error) {
	var def gocron.JobDefinition
	switch {
	case cfg.Cron != "":
		def = gocron.CronJob(cfg.Cron, false)
	case cfg.Interval > 0:
		def = gocron.DurationJob(cfg.Interval)
	default:
		return nil, errors.New("schedule needs a cron expression or a positive interval")
	}

	gs, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		engine:    e,
		sessions:  sessions,
		scheduler: gs,
		logger:    e.logger.With("component", "scheduler"),
		ctx:       ctx,
		cancel:    cancel,
	}

	job, err := gs.NewJob(def,
		gocron.NewTask(func() {
			if _, err := s.RunOnce(s.ctx); err != nil {
				s.logger.Error("scheduled consolidation failed", "error", err)
			}
		}),
		gocron.WithName("consolidate"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		cancel()
		_ = gs.Shutdown()
		return nil, fmt.Errorf("register consolidation job: %w", err)
	}
	s.job = job
	return s, nil
}

// Start begins running the job on its schedule.
func (s *Scheduler) Start() {
	s.scheduler.Start()
	if next, err := s.job.NextRun(); err == nil {
		s.logger.Info("scheduler started", "next_run", next)
	}
}

// Stop cancels an in-flight run and shuts the scheduler down.
func (s *Scheduler) Stop() error {
	s.cancel()
	return s.scheduler.Shutdown()
}

// RunOnce consolidates every session with active memories and returns the
// total number of memories deactivated. Sessions already being consolidated
// are skipped; other failures are logged and the run continues.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos, err := s.sessions.Sessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}
	total, failed := 0, 0
	for _, info := range infos {
		if info.Active < 2 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := s.engine.Consolidate(ctx, info.SessionID, 0)
		switch {
		case errors.Is(err, ErrConsolidationRunning):
			s.logger.Debug("session busy, skipped", "session", info.SessionID)
		case err != nil:
			failed++
			s.logger.Warn("session consolidation failed", "session", info.SessionID, "error", err)
		default:
			total += n
		}
	}
	s.logger.Info("scheduled consolidation done", "sessions", len(infos), "deactivated", total, "failed", failed)
	return total, nil
}
