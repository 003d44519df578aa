// Package session implements the focus session state machine.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/focusforge/forged/internal/domain"
	"github.com/focusforge/forged/internal/metrics"
)

const (
	// MinLockDuration is how long a strict session refuses to stop without
	// the passphrase.
	MinLockDuration = 15 * time.Minute

	// RequiredPassphrase unlocks a strict session early.
	RequiredPassphrase = "I choose discipline today and commit to my goals"
)

// StartParams configures one session start. An immutable snapshot of the
// standing blocklist and limits is captured at start time; Items overrides
// the standing blocklist when non-nil (used by schedules).
type StartParams struct {
	Duration   time.Duration
	StrictMode bool
	Items      []domain.BlockedItem
}

// Status is a point-in-time read of the session state machine.
type Status struct {
	Active          bool
	ID              string
	Elapsed         time.Duration
	PlannedDuration time.Duration
	StrictMode      bool
	Blocklist       []domain.BlockedItem
}

// Controller owns the single mutable session record. All other components
// read session state through Status; only Start/Stop mutate it.
type Controller struct {
	mu        sync.Mutex
	current   *domain.Session
	blocklist domain.BlocklistStore
	limits    domain.LimitStore
	history   domain.SessionStore
	clock     domain.Clock
	logger    *zap.Logger
	onStop    []func(domain.Session)
}

// NewController creates a session controller. The engine always starts Idle;
// sessions do not persist across process restarts.
func NewController(
	blocklist domain.BlocklistStore,
	limits domain.LimitStore,
	history domain.SessionStore,
	clock domain.Clock,
	logger *zap.Logger,
) *Controller {
	return &Controller{
		blocklist: blocklist,
		limits:    limits,
		history:   history,
		clock:     clock,
		logger:    logger,
	}
}

// OnStop registers a callback invoked after every Active->Idle transition.
// Callbacks run outside the controller lock.
func (c *Controller) OnStop(fn func(domain.Session)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStop = append(c.onStop, fn)
}

// Start transitions Idle->Active, capturing the blocklist and limit
// snapshots. Returns ErrAlreadyActive if a session is running.
func (c *Controller) Start(ctx context.Context, params StartParams) (string, error) {
	items := params.Items
	if items == nil {
		standing, err := c.blocklist.ListBlocked(ctx)
		if err != nil {
			return "", err
		}
		items = standing
	}

	limitSnapshot := make(map[string]int64)
	if limits, err := c.limits.ListLimits(ctx); err != nil {
		c.logger.Warn("failed to snapshot daily limits", zap.Error(err))
	} else {
		for _, l := range limits {
			limitSnapshot[l.Item.Key()] = l.LimitSeconds
		}
	}

	c.mu.Lock()
	if c.current != nil {
		c.mu.Unlock()
		return "", domain.ErrAlreadyActive
	}

	sess := domain.Session{
		ID:              uuid.NewString(),
		Status:          domain.StatusActive,
		StartedAt:       c.clock.Now(),
		PlannedDuration: params.Duration,
		StrictMode:      params.StrictMode,
		Blocklist:       items,
		Limits:          limitSnapshot,
	}
	c.current = &sess
	c.mu.Unlock()

	if err := c.history.RecordSessionStart(ctx, sess); err != nil {
		c.logger.Warn("failed to record session start", zap.Error(err))
	}

	metrics.SessionsStarted.Inc()
	metrics.SessionActive.Set(1)

	c.logger.Info("focus session started",
		zap.String("session_id", sess.ID),
		zap.Duration("duration", sess.PlannedDuration),
		zap.Bool("strict_mode", sess.StrictMode),
		zap.Int("blocked_items", len(sess.Blocklist)))

	return sess.ID, nil
}

// Stop transitions Active->Idle. Strict sessions refuse to stop before
// MinLockDuration unless the correct passphrase is supplied; a wrong
// passphrase is rejected regardless of elapsed time so the caller can
// render "too early" and "wrong passphrase" distinctly.
func (c *Controller) Stop(ctx context.Context, passphrase string) error {
	c.mu.Lock()

	if c.current == nil {
		c.mu.Unlock()
		return domain.ErrNotActive
	}

	if c.current.StrictMode {
		elapsed := c.clock.Now().Sub(c.current.StartedAt)
		if passphrase == "" {
			if elapsed < MinLockDuration {
				c.mu.Unlock()
				return domain.ErrStrictLockout
			}
			// Lock window elapsed: strict no longer binds.
		} else if strings.TrimSpace(passphrase) != RequiredPassphrase {
			c.mu.Unlock()
			return domain.ErrWrongPassphrase
		}
	}

	ended := c.stopLocked()
	c.mu.Unlock()

	c.finishStop(ctx, ended)
	return nil
}

// StopExpired ends the session if its planned duration has fully elapsed.
// Natural completion is not an early termination, so strict mode does not
// apply. Returns true when a session was ended.
func (c *Controller) StopExpired(ctx context.Context) bool {
	c.mu.Lock()
	if c.current == nil || c.current.PlannedDuration <= 0 {
		c.mu.Unlock()
		return false
	}
	if c.clock.Now().Sub(c.current.StartedAt) < c.current.PlannedDuration {
		c.mu.Unlock()
		return false
	}

	ended := c.stopLocked()
	c.mu.Unlock()

	c.logger.Info("focus session completed", zap.String("session_id", ended.ID))
	c.finishStop(ctx, ended)
	return true
}

// stopLocked clears the current session. Caller must hold c.mu.
func (c *Controller) stopLocked() domain.Session {
	ended := *c.current
	ended.Status = domain.StatusIdle
	c.current = nil
	return ended
}

// finishStop records history, updates metrics and fires OnStop hooks.
func (c *Controller) finishStop(ctx context.Context, ended domain.Session) {
	if err := c.history.RecordSessionEnd(ctx, ended.ID, c.clock.Now().Unix(), true); err != nil {
		c.logger.Warn("failed to record session end", zap.Error(err))
	}

	metrics.SessionsStopped.Inc()
	metrics.SessionActive.Set(0)

	c.logger.Info("focus session stopped",
		zap.String("session_id", ended.ID),
		zap.Duration("elapsed", c.clock.Now().Sub(ended.StartedAt)))

	c.mu.Lock()
	hooks := make([]func(domain.Session), len(c.onStop))
	copy(hooks, c.onStop)
	c.mu.Unlock()

	for _, fn := range hooks {
		fn(ended)
	}
}

// Status is a pure read; it never blocks beyond the state mutex.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil {
		return Status{Active: false}
	}

	blocklist := make([]domain.BlockedItem, len(c.current.Blocklist))
	copy(blocklist, c.current.Blocklist)

	return Status{
		Active:          true,
		ID:              c.current.ID,
		Elapsed:         c.clock.Now().Sub(c.current.StartedAt),
		PlannedDuration: c.current.PlannedDuration,
		StrictMode:      c.current.StrictMode,
		Blocklist:       blocklist,
	}
}
