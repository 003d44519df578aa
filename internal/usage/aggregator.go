// Package usage implements the usage-tracking and daily-limit aggregation loop.
package usage

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/focusforge/forged/internal/domain"
	"github.com/focusforge/forged/internal/metrics"
)

const (
	// DefaultSampleInterval is how often the foreground probe is polled.
	DefaultSampleInterval = 1 * time.Second

	// DefaultRefreshInterval is how often over-limit flags are recomputed
	// from the store. Covers limits edited mid-day and engine restarts.
	DefaultRefreshInterval = 30 * time.Second

	// minAccumulation clamps close-outs so rapid app/tab switches still
	// count rather than producing zero-duration noise.
	minAccumulation = 1
)

// Config holds aggregator tick intervals.
type Config struct {
	SampleInterval  time.Duration
	RefreshInterval time.Duration
}

// DefaultConfig returns default aggregator configuration.
func DefaultConfig() Config {
	return Config{
		SampleInterval:  DefaultSampleInterval,
		RefreshInterval: DefaultRefreshInterval,
	}
}

// Aggregator samples the foreground application, ingests reported website
// activity, accumulates per-(item, day) usage and maintains the over-limit
// lookup consulted by the blocklist enforcer. Daily limits are day-scoped
// and independent of session state.
type Aggregator struct {
	config Config
	store  domain.UsageStore
	limits domain.LimitStore
	probe  domain.ForegroundProbe
	clock  domain.Clock
	logger *zap.Logger

	mu          sync.Mutex
	today       string
	currentApp  string
	currentFrom time.Time
	overLimit   map[string]domain.BlockedItem // item key -> item
	probeDown   bool
}

// NewAggregator creates a usage aggregator.
func NewAggregator(
	config Config,
	store domain.UsageStore,
	limits domain.LimitStore,
	probe domain.ForegroundProbe,
	clock domain.Clock,
	logger *zap.Logger,
) *Aggregator {
	if config.SampleInterval <= 0 {
		config.SampleInterval = DefaultSampleInterval
	}
	if config.RefreshInterval <= 0 {
		config.RefreshInterval = DefaultRefreshInterval
	}
	return &Aggregator{
		config:    config,
		store:     store,
		limits:    limits,
		probe:     probe,
		clock:     clock,
		logger:    logger,
		today:     clock.Now().Format(domain.DateLayout),
		overLimit: make(map[string]domain.BlockedItem),
	}
}

// Run starts the sampling loop. Blocks until the context is canceled.
// Ticks that would overlap a still-running sample are dropped by the
// ticker, never queued.
func (a *Aggregator) Run(ctx context.Context) error {
	a.logger.Info("usage aggregator started",
		zap.Duration("sample_interval", a.config.SampleInterval))

	// Flags for items already over limit today must survive a restart.
	a.RefreshOverLimit(ctx)

	sampleTicker := time.NewTicker(a.config.SampleInterval)
	refreshTicker := time.NewTicker(a.config.RefreshInterval)
	defer sampleTicker.Stop()
	defer refreshTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.closeOutCurrent(context.Background())
			a.logger.Info("usage aggregator stopping")
			return ctx.Err()

		case <-sampleTicker.C:
			a.sample(ctx)

		case <-refreshTicker.C:
			a.RefreshOverLimit(ctx)
		}
	}
}

// sample polls the foreground probe once and accumulates a close-out when
// the focused application changed. Errors never abort the loop.
func (a *Aggregator) sample(ctx context.Context) {
	now := a.clock.Now()

	a.mu.Lock()
	a.rollDayLocked(now)
	a.mu.Unlock()

	name, err := a.probe.Active(ctx)
	if err != nil {
		a.handleProbeError(ctx, err)
		return
	}

	a.mu.Lock()
	if a.probeDown {
		a.probeDown = false
		a.logger.Info("foreground probe recovered")
	}
	prev, since := a.currentApp, a.currentFrom
	if name == prev {
		a.mu.Unlock()
		return
	}
	a.currentApp = name
	a.currentFrom = now
	a.mu.Unlock()

	if prev != "" {
		a.accumulate(ctx, domain.NewBlockedItem(domain.KindApp, prev), now.Sub(since), now)
	}
}

// handleProbeError degrades tracking without crashing the tick loop.
// The running timer is closed out so time is not misattributed.
func (a *Aggregator) handleProbeError(ctx context.Context, err error) {
	a.closeOutCurrent(ctx)

	a.mu.Lock()
	firstFailure := !a.probeDown
	a.probeDown = true
	a.mu.Unlock()

	if firstFailure {
		if errors.Is(err, domain.ErrProbeUnavailable) {
			a.logger.Warn("foreground probe unavailable, desktop tracking disabled", zap.Error(err))
		} else {
			a.logger.Warn("foreground probe failed", zap.Error(err))
		}
	}
}

// closeOutCurrent finalizes the running app timer, if any.
func (a *Aggregator) closeOutCurrent(ctx context.Context) {
	now := a.clock.Now()

	a.mu.Lock()
	prev, since := a.currentApp, a.currentFrom
	a.currentApp = ""
	a.mu.Unlock()

	if prev != "" {
		a.accumulate(ctx, domain.NewBlockedItem(domain.KindApp, prev), now.Sub(since), now)
	}
}

// ReportWebsite ingests externally reported website activity from the
// browser agent via the API gateway.
func (a *Aggregator) ReportWebsite(ctx context.Context, site string, duration time.Duration) error {
	item := domain.NewBlockedItem(domain.KindSite, site)
	if item.Value == "" {
		return domain.ErrInvalidInput
	}
	a.accumulate(ctx, item, duration, a.clock.Now())
	return nil
}

// accumulate adds elapsed time to the (item, today) record and re-evaluates
// the item's daily limit. Durations are floored to whole seconds and clamped
// to a minimum of one.
func (a *Aggregator) accumulate(ctx context.Context, item domain.BlockedItem, elapsed time.Duration, now time.Time) {
	seconds := int64(math.Floor(elapsed.Seconds()))
	if seconds < minAccumulation {
		seconds = minAccumulation
	}

	a.mu.Lock()
	a.rollDayLocked(now)
	date := a.today
	a.mu.Unlock()

	total, err := a.store.IncrementUsage(ctx, item, date, seconds)
	if err != nil {
		a.logger.Warn("failed to persist usage",
			zap.String("item", item.Key()),
			zap.Error(err))
		return
	}

	metrics.ActivityReports.WithLabelValues(string(item.Kind)).Inc()

	limit, err := a.limits.GetLimit(ctx, item)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			a.logger.Warn("failed to read daily limit",
				zap.String("item", item.Key()),
				zap.Error(err))
		}
		return
	}

	if total >= limit {
		a.markOverLimit(item, total, limit)
	}
}

// markOverLimit flags an item as over its daily limit until the day rolls.
func (a *Aggregator) markOverLimit(item domain.BlockedItem, total, limit int64) {
	a.mu.Lock()
	_, already := a.overLimit[item.Key()]
	a.overLimit[item.Key()] = item
	a.mu.Unlock()

	if !already {
		metrics.LimitsExceeded.Inc()
		a.logger.Info("daily limit reached",
			zap.String("item", item.Key()),
			zap.Int64("used_seconds", total),
			zap.Int64("limit_seconds", limit))
	}
}

// RefreshOverLimit recomputes over-limit flags from persisted usage.
func (a *Aggregator) RefreshOverLimit(ctx context.Context) {
	now := a.clock.Now()

	a.mu.Lock()
	a.rollDayLocked(now)
	date := a.today
	a.mu.Unlock()

	limits, err := a.limits.ListLimits(ctx)
	if err != nil {
		a.logger.Warn("failed to list daily limits", zap.Error(err))
		return
	}

	for _, l := range limits {
		used, err := a.store.UsageFor(ctx, l.Item, date)
		if err != nil {
			a.logger.Warn("failed to read usage",
				zap.String("item", l.Item.Key()),
				zap.Error(err))
			continue
		}
		if used >= l.LimitSeconds {
			a.markOverLimit(l.Item, used, l.LimitSeconds)
		}
	}
}

// rollDayLocked resets over-limit flags when the calendar day changes.
// New-day records are created lazily on the first accumulation.
// Caller must hold a.mu.
func (a *Aggregator) rollDayLocked(now time.Time) {
	date := now.Format(domain.DateLayout)
	if date == a.today {
		return
	}
	a.today = date
	a.overLimit = make(map[string]domain.BlockedItem)
	a.logger.Info("calendar day rolled over, over-limit flags reset",
		zap.String("date", date))
}

// OverLimitApps returns the process-name patterns currently over their
// daily limit. Consulted by the blocklist enforcer every tick.
func (a *Aggregator) OverLimitApps() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	var apps []string
	for _, item := range a.overLimit {
		if item.Kind == domain.KindApp {
			apps = append(apps, item.Value)
		}
	}
	return apps
}

// SiteOverLimit reports whether a domain matches any over-limit site pattern.
func (a *Aggregator) SiteOverLimit(site string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, item := range a.overLimit {
		if item.Kind == domain.KindSite && item.Matches(site) {
			return true
		}
	}
	return false
}

// ItemOverLimit reports whether one specific item is flagged for today.
func (a *Aggregator) ItemOverLimit(item domain.BlockedItem) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.overLimit[item.Key()]
	return ok
}

// UsageToday returns accumulated seconds for an item today.
func (a *Aggregator) UsageToday(ctx context.Context, item domain.BlockedItem) (int64, error) {
	a.mu.Lock()
	date := a.today
	a.mu.Unlock()
	return a.store.UsageFor(ctx, item, date)
}
