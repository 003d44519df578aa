// Package schedule implements the schedule-trigger loop that starts and
// stops sessions automatically.
package schedule

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/focusforge/forged/internal/domain"
	"github.com/focusforge/forged/internal/session"
)

// DefaultCheckInterval is how often schedule windows are evaluated.
// Sub-minute precision is unnecessary.
const DefaultCheckInterval = 1 * time.Minute

// Config holds scheduler configuration.
type Config struct {
	CheckInterval time.Duration
}

// DefaultConfig returns default scheduler configuration.
func DefaultConfig() Config {
	return Config{CheckInterval: DefaultCheckInterval}
}

// Scheduler compares wall-clock time against configured schedules and issues
// start/stop commands on window edges. Scheduled sessions never run strict
// mode; no human is present to supply a passphrase. Overlapping schedules
// are not merged: the first rising edge wins and an already-active session
// suppresses further starts.
type Scheduler struct {
	config   Config
	store    domain.ScheduleStore
	sessions *session.Controller
	clock    domain.Clock
	logger   *zap.Logger

	inWindow map[string]bool // schedule ID -> was inside on last tick
}

// NewScheduler creates a scheduler.
func NewScheduler(
	config Config,
	store domain.ScheduleStore,
	sessions *session.Controller,
	clock domain.Clock,
	logger *zap.Logger,
) *Scheduler {
	if config.CheckInterval <= 0 {
		config.CheckInterval = DefaultCheckInterval
	}
	return &Scheduler{
		config:   config,
		store:    store,
		sessions: sessions,
		clock:    clock,
		logger:   logger,
		inWindow: make(map[string]bool),
	}
}

// Run starts the schedule check loop. Blocks until the context is canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started",
		zap.Duration("check_interval", s.config.CheckInterval))

	// Evaluate immediately so an engine started mid-window begins the
	// session without waiting a full interval.
	s.Tick(ctx)

	ticker := time.NewTicker(s.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping")
			return ctx.Err()

		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one schedule evaluation pass. Errors are logged at the loop
// boundary and never propagated.
func (s *Scheduler) Tick(ctx context.Context) {
	// A manually started session that ran out its planned duration ends
	// here; natural completion bypasses the strict lock.
	if s.sessions.StopExpired(ctx) {
		s.logger.Info("session planned duration elapsed, auto-stopped")
	}

	schedules, err := s.store.ListSchedules(ctx)
	if err != nil {
		s.logger.Warn("failed to list schedules", zap.Error(err))
		return
	}

	now := s.clock.Now()
	for _, sched := range schedules {
		if !sched.Enabled {
			delete(s.inWindow, sched.ID)
			continue
		}

		inside := sched.InWindow(now)
		was := s.inWindow[sched.ID]
		s.inWindow[sched.ID] = inside

		switch {
		case inside && !was:
			s.startScheduled(ctx, sched)
		case !inside && was:
			s.stopScheduled(ctx, sched)
		}
	}
}

func (s *Scheduler) startScheduled(ctx context.Context, sched domain.Schedule) {
	id, err := s.sessions.Start(ctx, session.StartParams{
		Duration:   sched.WindowDuration(),
		StrictMode: false,
		Items:      sched.Items,
	})
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyActive) {
			s.logger.Debug("schedule window opened but a session is already active",
				zap.String("schedule", sched.ID))
			return
		}
		s.logger.Warn("scheduled session start failed",
			zap.String("schedule", sched.ID),
			zap.Error(err))
		return
	}

	s.logger.Info("scheduled session started",
		zap.String("schedule", sched.ID),
		zap.String("session_id", id),
		zap.String("window", sched.Start+"-"+sched.End))
}

func (s *Scheduler) stopScheduled(ctx context.Context, sched domain.Schedule) {
	err := s.sessions.Stop(ctx, "")
	if err == nil {
		s.logger.Info("scheduled session stopped", zap.String("schedule", sched.ID))
		return
	}

	switch {
	case errors.Is(err, domain.ErrNotActive):
		s.logger.Debug("schedule window closed with no active session",
			zap.String("schedule", sched.ID))
	case errors.Is(err, domain.ErrStrictLockout), errors.Is(err, domain.ErrWrongPassphrase):
		// An independently started strict session resists the scheduled
		// stop. Logged, not escalated.
		s.logger.Warn("scheduled stop refused by strict session",
			zap.String("schedule", sched.ID),
			zap.Error(err))
	default:
		s.logger.Warn("scheduled session stop failed",
			zap.String("schedule", sched.ID),
			zap.Error(err))
	}
}
