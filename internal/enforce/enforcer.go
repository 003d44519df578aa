// Package enforce implements the blocklist enforcement sweep.
package enforce

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/focusforge/forged/internal/domain"
	"github.com/focusforge/forged/internal/metrics"
	"github.com/focusforge/forged/internal/session"
	"github.com/focusforge/forged/internal/usage"
)

// DefaultSweepInterval is how often running processes are re-evaluated.
// Re-evaluation every tick is the persistent re-close behavior: a relaunched
// blocked app is caught within one interval.
const DefaultSweepInterval = 1 * time.Second

// Config holds enforcer configuration.
type Config struct {
	SweepInterval time.Duration
}

// DefaultConfig returns default enforcer configuration.
func DefaultConfig() Config {
	return Config{SweepInterval: DefaultSweepInterval}
}

// Enforcer terminates processes in the effective block set and answers
// website block queries. The effective block set is the active session's
// app snapshot united with all apps over their daily limit today.
type Enforcer struct {
	config     Config
	pm         domain.ProcessManager
	sessions   *session.Controller
	aggregator *usage.Aggregator
	logger     *zap.Logger

	mu          sync.Mutex
	failedKills map[int32]time.Time // dedupes failure logs between retries
}

// NewEnforcer creates a blocklist enforcer. It registers a session-stop hook
// so per-process retry state does not leak across sessions.
func NewEnforcer(
	config Config,
	pm domain.ProcessManager,
	sessions *session.Controller,
	aggregator *usage.Aggregator,
	logger *zap.Logger,
) *Enforcer {
	if config.SweepInterval <= 0 {
		config.SweepInterval = DefaultSweepInterval
	}
	e := &Enforcer{
		config:      config,
		pm:          pm,
		sessions:    sessions,
		aggregator:  aggregator,
		logger:      logger,
		failedKills: make(map[int32]time.Time),
	}
	sessions.OnStop(func(domain.Session) { e.resetFailures() })
	return e
}

// Run starts the sweep loop. Blocks until the context is canceled.
// A sweep still running when the next tick is due causes that tick to be
// dropped rather than queued.
func (e *Enforcer) Run(ctx context.Context) error {
	e.logger.Info("blocklist enforcer started",
		zap.Duration("sweep_interval", e.config.SweepInterval))

	ticker := time.NewTicker(e.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("blocklist enforcer stopping")
			return ctx.Err()

		case <-ticker.C:
			e.Sweep(ctx)
		}
	}
}

// Sweep runs one enforcement pass: list processes, terminate every process
// whose name matches the effective block set. A failed terminate is logged
// and retried next tick; it never aborts the sweep.
func (e *Enforcer) Sweep(ctx context.Context) int {
	patterns := e.effectiveAppSet()
	if len(patterns) == 0 {
		return 0
	}

	procs, err := e.pm.Processes()
	if err != nil {
		e.logger.Warn("failed to list processes", zap.Error(err))
		return 0
	}

	killed := 0
	for _, proc := range procs {
		if ctx.Err() != nil {
			return killed
		}

		pattern := matchPattern(patterns, proc.Name)
		if pattern == "" {
			continue
		}

		if err := e.pm.Terminate(proc.PID); err != nil {
			e.recordFailure(proc, pattern, err)
			continue
		}

		e.clearFailure(proc.PID)
		killed++
		metrics.ProcessesTerminated.WithLabelValues(pattern).Inc()
		e.logger.Info("terminated blocked process",
			zap.Int32("pid", proc.PID),
			zap.String("name", proc.Name),
			zap.String("pattern", pattern))
	}

	return killed
}

// IsBlocked reports whether a domain is currently blocked and why:
// inside an active session's site snapshot, or over its daily limit today.
// Pure read; the browser agent decides the navigation outcome.
func (e *Enforcer) IsBlocked(site string) (bool, domain.BlockReason) {
	status := e.sessions.Status()
	if status.Active {
		for _, item := range status.Blocklist {
			if item.Kind == domain.KindSite && item.Matches(site) {
				metrics.BlockChecks.WithLabelValues("blocked").Inc()
				return true, domain.ReasonFocusSession
			}
		}
	}

	if e.aggregator.SiteOverLimit(site) {
		metrics.BlockChecks.WithLabelValues("blocked").Inc()
		return true, domain.ReasonDailyLimit
	}

	metrics.BlockChecks.WithLabelValues("allowed").Inc()
	return false, ""
}

// effectiveAppSet computes (session active ? snapshot apps : none) plus
// apps over their daily limit.
func (e *Enforcer) effectiveAppSet() []string {
	var patterns []string

	status := e.sessions.Status()
	if status.Active {
		for _, item := range status.Blocklist {
			if item.Kind == domain.KindApp {
				patterns = append(patterns, item.Value)
			}
		}
	}

	return append(patterns, e.aggregator.OverLimitApps()...)
}

// recordFailure logs a terminate failure once per process, counts every
// attempt. Protected processes are retried indefinitely at sweep pace.
func (e *Enforcer) recordFailure(proc domain.ProcessInfo, pattern string, err error) {
	metrics.TerminateFailures.Inc()

	e.mu.Lock()
	_, seen := e.failedKills[proc.PID]
	e.failedKills[proc.PID] = time.Now()
	e.mu.Unlock()

	if !seen {
		e.logger.Warn("failed to terminate process, will retry next sweep",
			zap.Int32("pid", proc.PID),
			zap.String("name", proc.Name),
			zap.String("pattern", pattern),
			zap.Error(err))
	}
}

func (e *Enforcer) clearFailure(pid int32) {
	e.mu.Lock()
	delete(e.failedKills, pid)
	e.mu.Unlock()
}

func (e *Enforcer) resetFailures() {
	e.mu.Lock()
	e.failedKills = make(map[int32]time.Time)
	e.mu.Unlock()
}

// matchPattern returns the first pattern contained in name, or "".
func matchPattern(patterns []string, name string) string {
	lower := strings.ToLower(name)
	for _, p := range patterns {
		if p != "" && strings.Contains(lower, p) {
			return p
		}
	}
	return ""
}
