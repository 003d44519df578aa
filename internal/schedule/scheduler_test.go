package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/focusforge/forged/internal/domain"
	"github.com/focusforge/forged/internal/session"
)

// mockScheduleStore implements domain.ScheduleStore for testing
type mockScheduleStore struct {
	schedules []domain.Schedule
}

func (m *mockScheduleStore) ListSchedules(ctx context.Context) ([]domain.Schedule, error) {
	return append([]domain.Schedule(nil), m.schedules...), nil
}

func (m *mockScheduleStore) AddSchedule(ctx context.Context, s domain.Schedule) error {
	m.schedules = append(m.schedules, s)
	return nil
}

func (m *mockScheduleStore) RemoveSchedule(ctx context.Context, id string) error {
	for i, s := range m.schedules {
		if s.ID == id {
			m.schedules = append(m.schedules[:i], m.schedules[i+1:]...)
			return nil
		}
	}
	return domain.ErrNotFound
}

type stubBlocklist struct{ items []domain.BlockedItem }

func (s *stubBlocklist) ListBlocked(ctx context.Context) ([]domain.BlockedItem, error) {
	return s.items, nil
}
func (s *stubBlocklist) AddBlocked(ctx context.Context, item domain.BlockedItem) error { return nil }
func (s *stubBlocklist) RemoveBlocked(ctx context.Context, item domain.BlockedItem) error {
	return nil
}

type stubLimits struct{}

func (stubLimits) ListLimits(ctx context.Context) ([]domain.DailyLimit, error) { return nil, nil }
func (stubLimits) SetLimit(ctx context.Context, item domain.BlockedItem, secs int64) error {
	return nil
}
func (stubLimits) ClearLimit(ctx context.Context, item domain.BlockedItem) error { return nil }
func (stubLimits) GetLimit(ctx context.Context, item domain.BlockedItem) (int64, error) {
	return 0, domain.ErrNotFound
}

type stubHistory struct{}

func (stubHistory) RecordSessionStart(ctx context.Context, s domain.Session) error { return nil }
func (stubHistory) RecordSessionEnd(ctx context.Context, id string, endedAt int64, completed bool) error {
	return nil
}
func (stubHistory) CompletedSince(ctx context.Context, since int64) ([]domain.SessionRecord, error) {
	return nil, nil
}

// mondayAt returns a known Monday (2026-08-24) at the given wall-clock time.
func mondayAt(hour, minute int) time.Time {
	return time.Date(2026, 8, 24, hour, minute, 0, 0, time.UTC)
}

func newTestScheduler(clock domain.Clock, schedules ...domain.Schedule) (*Scheduler, *session.Controller) {
	sessions := session.NewController(&stubBlocklist{}, stubLimits{}, stubHistory{}, clock, zap.NewNop())
	store := &mockScheduleStore{schedules: schedules}
	return NewScheduler(DefaultConfig(), store, sessions, clock, zap.NewNop()), sessions
}

func workdaySchedule() domain.Schedule {
	return domain.Schedule{
		ID:      "sched-1",
		Name:    "morning focus",
		Days:    []time.Weekday{time.Monday},
		Start:   "09:00",
		End:     "10:00",
		Items:   []domain.BlockedItem{domain.NewBlockedItem(domain.KindSite, "reddit.com")},
		Enabled: true,
	}
}

func TestTick_StartsSessionOnRisingEdge(t *testing.T) {
	clock := &domain.TestClock{CurrentTime: mondayAt(8, 59)}
	sched, sessions := newTestScheduler(clock, workdaySchedule())
	ctx := context.Background()

	sched.Tick(ctx)
	assert.False(t, sessions.Status().Active, "before the window nothing starts")

	clock.Advance(time.Minute)
	sched.Tick(ctx)
	status := sessions.Status()
	require.True(t, status.Active, "09:00 on Monday opens the window")
	assert.Equal(t, time.Hour, status.PlannedDuration)
	assert.False(t, status.StrictMode, "scheduled sessions are never strict")
	require.Len(t, status.Blocklist, 1)
	assert.Equal(t, "reddit.com", status.Blocklist[0].Value)
}

func TestTick_StopsSessionOnFallingEdge(t *testing.T) {
	clock := &domain.TestClock{CurrentTime: mondayAt(9, 30)}
	sched, sessions := newTestScheduler(clock, workdaySchedule())
	ctx := context.Background()

	// Engine started mid-window: first tick starts immediately.
	sched.Tick(ctx)
	require.True(t, sessions.Status().Active)

	clock.Advance(29 * time.Minute)
	sched.Tick(ctx)
	assert.True(t, sessions.Status().Active, "09:59 is still inside")

	clock.Advance(time.Minute)
	sched.Tick(ctx)
	assert.False(t, sessions.Status().Active, "10:00 closes the window")
}

func TestTick_WrongDayDoesNotTrigger(t *testing.T) {
	// 2026-08-25 is a Tuesday.
	clock := &domain.TestClock{CurrentTime: time.Date(2026, 8, 25, 9, 30, 0, 0, time.UTC)}
	sched, sessions := newTestScheduler(clock, workdaySchedule())

	sched.Tick(context.Background())
	assert.False(t, sessions.Status().Active)
}

func TestTick_DisabledScheduleIsIgnored(t *testing.T) {
	s := workdaySchedule()
	s.Enabled = false
	clock := &domain.TestClock{CurrentTime: mondayAt(9, 30)}
	sched, sessions := newTestScheduler(clock, s)

	sched.Tick(context.Background())
	assert.False(t, sessions.Status().Active)
}

func TestTick_ManualSessionSuppressesScheduledStart(t *testing.T) {
	clock := &domain.TestClock{CurrentTime: mondayAt(8, 0)}
	sched, sessions := newTestScheduler(clock, workdaySchedule())
	ctx := context.Background()

	manualID, err := sessions.Start(ctx, session.StartParams{Duration: 4 * time.Hour})
	require.NoError(t, err)

	clock.Advance(90 * time.Minute) // 09:30, inside the window
	sched.Tick(ctx)

	status := sessions.Status()
	assert.True(t, status.Active)
	assert.Equal(t, manualID, status.ID, "the manual session keeps running")
}

func TestTick_StrictSessionResistsScheduledStop(t *testing.T) {
	clock := &domain.TestClock{CurrentTime: mondayAt(9, 55)}
	sched, sessions := newTestScheduler(clock, workdaySchedule())
	ctx := context.Background()

	// Flush the rising edge so the falling edge below is the next event.
	sched.Tick(ctx)
	require.True(t, sessions.Status().Active)
	require.NoError(t, sessions.Stop(ctx, ""))

	// A strict manual session begins just before the window closes.
	_, err := sessions.Start(ctx, session.StartParams{Duration: time.Hour, StrictMode: true})
	require.NoError(t, err)

	clock.Advance(5 * time.Minute) // 10:00, falling edge
	sched.Tick(ctx)
	assert.True(t, sessions.Status().Active, "strict session survives the scheduled stop")
}

func TestTick_StopsExpiredSession(t *testing.T) {
	clock := &domain.TestClock{CurrentTime: mondayAt(12, 0)}
	sched, sessions := newTestScheduler(clock) // no schedules
	ctx := context.Background()

	_, err := sessions.Start(ctx, session.StartParams{
		Duration:   25 * time.Minute,
		StrictMode: true,
	})
	require.NoError(t, err)

	clock.Advance(24 * time.Minute)
	sched.Tick(ctx)
	assert.True(t, sessions.Status().Active)

	clock.Advance(time.Minute)
	sched.Tick(ctx)
	assert.False(t, sessions.Status().Active, "planned duration elapsed, strict or not")
}

func TestTick_OvernightWindow(t *testing.T) {
	s := domain.Schedule{
		ID:      "sched-night",
		Name:    "wind down",
		Days:    []time.Weekday{time.Monday},
		Start:   "22:00",
		End:     "01:00",
		Enabled: true,
	}
	clock := &domain.TestClock{CurrentTime: mondayAt(21, 59)}
	sched, sessions := newTestScheduler(clock, s)
	ctx := context.Background()

	sched.Tick(ctx)
	assert.False(t, sessions.Status().Active)

	clock.Advance(time.Minute) // Monday 22:00
	sched.Tick(ctx)
	assert.True(t, sessions.Status().Active)

	clock.Advance(2*time.Hour + 30*time.Minute) // Tuesday 00:30
	sched.Tick(ctx)
	assert.True(t, sessions.Status().Active, "window wraps past midnight")

	clock.Advance(30 * time.Minute) // Tuesday 01:00
	sched.Tick(ctx)
	assert.False(t, sessions.Status().Active)
}
