package timer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/homeflowhq/homeflow/internal/store"
)

// DefaultTick is the polling interval for due timers.
const DefaultTick = time.Second

// Dispatcher receives deferred commands when their timers fire.
// Satisfied by the workflow engine (avoids import cycle).
type Dispatcher interface {
	FollowUpFired(ctx context.Context, prospectKey string) error
}

// Config holds scheduler settings. RetentionCron is a standard 5-field cron
// expression; empty disables the retention sweep.
type Config struct {
	Tick          time.Duration
	RetentionCron string
	RetentionAge  time.Duration
}

// Scheduler polls the store for due timers and dispatches their commands.
// Cancellation is best-effort: a timer claimed here may have been superseded
// by a reply, which the dispatcher resolves with its own status guard.
type Scheduler struct {
	store      store.Store
	dispatcher Dispatcher
	parser     cron.Parser
	logger     *slog.Logger
	cfg        Config

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	sweep     cron.Schedule
	nextSweep time.Time
}

// NewScheduler creates a timer scheduler over the given store.
func NewScheduler(s store.Store, d Dispatcher, logger *slog.Logger, cfg Config) (*Scheduler, error) {
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}

	sched := &Scheduler{
		store:      s,
		dispatcher: d,
		parser:     cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:     logger,
		cfg:        cfg,
	}

	if cfg.RetentionCron != "" {
		schedule, err := sched.parser.Parse(cfg.RetentionCron)
		if err != nil {
			return nil, fmt.Errorf("parse retention cron %q: %w", cfg.RetentionCron, err)
		}
		sched.sweep = schedule
		sched.nextSweep = schedule.Next(time.Now().UTC())
	}

	return sched, nil
}

// Start launches the background polling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("timer scheduler started", slog.Duration("tick", s.cfg.Tick))
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	// Run an initial tick immediately: overdue timers from before a restart
	// fire once on startup.
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
			s.maybeSweep(ctx)
		}
	}
}

// tick claims and dispatches every due timer. Claiming removes the row
// first, so a concurrent Cancel and a fire cannot both win.
func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now().UTC()
	due, err := s.store.DueTimers(ctx, now, 100)
	if err != nil {
		s.logger.Error("failed to list due timers", slog.String("error", err.Error()))
		return
	}

	for _, t := range due {
		claimed, err := s.store.ClaimTimer(ctx, t.ID)
		if err != nil {
			s.logger.Error("failed to claim timer",
				slog.String("timer_id", t.ID),
				slog.String("error", err.Error()))
			continue
		}
		if !claimed {
			continue // cancelled or claimed elsewhere
		}
		s.dispatch(ctx, t)
	}
}

func (s *Scheduler) dispatch(ctx context.Context, t *store.Timer) {
	var cmd Command
	if err := json.Unmarshal(t.Command, &cmd); err != nil {
		s.logger.Error("undecodable timer command",
			slog.String("timer_id", t.ID),
			slog.String("error", err.Error()))
		return
	}

	switch cmd.Type {
	case CommandFollowUp:
		s.logger.Info("follow-up timer fired",
			slog.String("timer_id", t.ID),
			slog.String("prospect", cmd.Prospect))
		if err := s.dispatcher.FollowUpFired(ctx, cmd.Prospect); err != nil {
			s.logger.Error("follow-up dispatch failed",
				slog.String("prospect", cmd.Prospect),
				slog.String("error", err.Error()))
		}
	default:
		s.logger.Error("unknown timer command", slog.String("type", cmd.Type))
	}
}

// maybeSweep runs the retention sweep when its cron schedule is due,
// pruning terminal workflows older than the configured age.
func (s *Scheduler) maybeSweep(ctx context.Context) {
	if s.sweep == nil {
		return
	}
	now := time.Now().UTC()
	if now.Before(s.nextSweep) {
		return
	}
	s.nextSweep = s.sweep.Next(now)

	cutoff := now.Add(-s.cfg.RetentionAge)
	n, err := s.store.PurgeTerminalProspects(ctx, cutoff)
	if err != nil {
		s.logger.Error("retention sweep failed", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		s.logger.Info("retention sweep pruned prospects", slog.Int64("count", n))
	}
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("timer scheduler stopped")
	return nil
}
