//go:build integration

package integration

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/focusforge/forged/internal/domain"
	"github.com/focusforge/forged/internal/enforce"
	"github.com/focusforge/forged/internal/schedule"
	"github.com/focusforge/forged/internal/session"
	"github.com/focusforge/forged/internal/usage"
)

// memStore implements the persistence interfaces in memory so the full
// component wiring can run without a database.
type memStore struct {
	blocked   []domain.BlockedItem
	usage     map[string]int64 // item key + "|" + date -> seconds
	items     map[string]domain.BlockedItem
	limits    map[string]int64
	schedules []domain.Schedule
}

func newMemStore() *memStore {
	return &memStore{
		usage:  make(map[string]int64),
		items:  make(map[string]domain.BlockedItem),
		limits: make(map[string]int64),
	}
}

func (m *memStore) IncrementUsage(ctx context.Context, item domain.BlockedItem, date string, seconds int64) (int64, error) {
	m.items[item.Key()] = item
	m.usage[item.Key()+"|"+date] += seconds
	return m.usage[item.Key()+"|"+date], nil
}

func (m *memStore) UsageFor(ctx context.Context, item domain.BlockedItem, date string) (int64, error) {
	return m.usage[item.Key()+"|"+date], nil
}

func (m *memStore) TotalsForDate(ctx context.Context, date string) ([]domain.DailyTotal, error) {
	return nil, nil
}

func (m *memStore) TotalsForRange(ctx context.Context, from, to string) ([]domain.DailyTotal, error) {
	return nil, nil
}

func (m *memStore) ListBlocked(ctx context.Context) ([]domain.BlockedItem, error) {
	return append([]domain.BlockedItem(nil), m.blocked...), nil
}

func (m *memStore) AddBlocked(ctx context.Context, item domain.BlockedItem) error {
	m.blocked = append(m.blocked, item)
	return nil
}

func (m *memStore) RemoveBlocked(ctx context.Context, item domain.BlockedItem) error {
	return domain.ErrNotFound
}

func (m *memStore) ListLimits(ctx context.Context) ([]domain.DailyLimit, error) {
	var out []domain.DailyLimit
	for key, secs := range m.limits {
		out = append(out, domain.DailyLimit{Item: m.items[key], LimitSeconds: secs})
	}
	return out, nil
}

func (m *memStore) SetLimit(ctx context.Context, item domain.BlockedItem, limitSeconds int64) error {
	m.items[item.Key()] = item
	m.limits[item.Key()] = limitSeconds
	return nil
}

func (m *memStore) ClearLimit(ctx context.Context, item domain.BlockedItem) error {
	delete(m.limits, item.Key())
	return nil
}

func (m *memStore) GetLimit(ctx context.Context, item domain.BlockedItem) (int64, error) {
	secs, ok := m.limits[item.Key()]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return secs, nil
}

func (m *memStore) ListSchedules(ctx context.Context) ([]domain.Schedule, error) {
	return append([]domain.Schedule(nil), m.schedules...), nil
}

func (m *memStore) AddSchedule(ctx context.Context, s domain.Schedule) error {
	m.schedules = append(m.schedules, s)
	return nil
}

func (m *memStore) RemoveSchedule(ctx context.Context, id string) error {
	return domain.ErrNotFound
}

func (m *memStore) RecordSessionStart(ctx context.Context, s domain.Session) error { return nil }

func (m *memStore) RecordSessionEnd(ctx context.Context, id string, endedAt int64, completed bool) error {
	return nil
}

func (m *memStore) CompletedSince(ctx context.Context, since int64) ([]domain.SessionRecord, error) {
	return nil, nil
}

// fakeProcessManager simulates a process table where killed processes relaunch
// on demand.
type fakeProcessManager struct {
	procs map[int32]string
}

func (f *fakeProcessManager) Processes() ([]domain.ProcessInfo, error) {
	out := make([]domain.ProcessInfo, 0, len(f.procs))
	for pid, name := range f.procs {
		out = append(out, domain.ProcessInfo{PID: pid, Name: name})
	}
	return out, nil
}

func (f *fakeProcessManager) Terminate(pid int32) error {
	delete(f.procs, pid)
	return nil
}

type scriptedProbe struct {
	name string
}

func (p *scriptedProbe) Active(ctx context.Context) (string, error) {
	if p.name == "" {
		return "", domain.ErrProbeUnavailable
	}
	return p.name, nil
}

var _ = Describe("Focus Enforcement Engine", func() {
	var (
		ctx      context.Context
		store    *memStore
		clock    *domain.TestClock
		pm       *fakeProcessManager
		probe    *scriptedProbe
		sessions *session.Controller
		agg      *usage.Aggregator
		enforcer *enforce.Enforcer
		sched    *schedule.Scheduler
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = newMemStore()
		clock = &domain.TestClock{CurrentTime: time.Date(2026, 8, 24, 8, 0, 0, 0, time.UTC)} // Monday
		pm = &fakeProcessManager{procs: map[int32]string{
			100: "Google Chrome",
			200: "steam",
			300: "code",
		}}
		probe = &scriptedProbe{}

		logger := zap.NewNop()
		sessions = session.NewController(store, store, store, clock, logger)
		agg = usage.NewAggregator(usage.DefaultConfig(), store, store, probe, clock, logger)
		enforcer = enforce.NewEnforcer(enforce.DefaultConfig(), pm, sessions, agg, logger)
		sched = schedule.NewScheduler(schedule.DefaultConfig(), store, sessions, clock, logger)
	})

	Describe("a manual strict session", func() {
		BeforeEach(func() {
			Expect(store.AddBlocked(ctx, domain.NewBlockedItem(domain.KindApp, "chrome"))).To(Succeed())
			Expect(store.AddBlocked(ctx, domain.NewBlockedItem(domain.KindSite, "reddit.com"))).To(Succeed())

			_, err := sessions.Start(ctx, session.StartParams{
				Duration:   25 * time.Minute,
				StrictMode: true,
			})
			Expect(err).NotTo(HaveOccurred())
		})

		It("terminates blocked processes and leaves the rest alone", func() {
			killed := enforcer.Sweep(ctx)
			Expect(killed).To(Equal(1))
			Expect(pm.procs).NotTo(HaveKey(int32(100)))
			Expect(pm.procs).To(HaveKey(int32(200)))
			Expect(pm.procs).To(HaveKey(int32(300)))
		})

		It("re-terminates a relaunched process on the next sweep", func() {
			Expect(enforcer.Sweep(ctx)).To(Equal(1))

			pm.procs[101] = "Google Chrome"
			Expect(enforcer.Sweep(ctx)).To(Equal(1))
			Expect(pm.procs).NotTo(HaveKey(int32(101)))
		})

		It("blocks snapshot websites and reports the session reason", func() {
			blocked, reason := enforcer.IsBlocked("www.reddit.com")
			Expect(blocked).To(BeTrue())
			Expect(reason).To(Equal(domain.ReasonFocusSession))

			blocked, _ = enforcer.IsBlocked("news.ycombinator.com")
			Expect(blocked).To(BeFalse())
		})

		It("refuses an early stop but yields to the passphrase", func() {
			Expect(sessions.Stop(ctx, "")).To(MatchError(domain.ErrStrictLockout))
			Expect(sessions.Status().Active).To(BeTrue())

			Expect(sessions.Stop(ctx, session.RequiredPassphrase)).To(Succeed())
			Expect(sessions.Status().Active).To(BeFalse())

			Expect(enforcer.Sweep(ctx)).To(BeZero(), "enforcement ends with the session")
		})

		It("ends the session once its planned duration elapses", func() {
			clock.Advance(25 * time.Minute)
			sched.Tick(ctx)
			Expect(sessions.Status().Active).To(BeFalse())
		})
	})

	Describe("daily limits without a session", func() {
		BeforeEach(func() {
			Expect(store.SetLimit(ctx, domain.NewBlockedItem(domain.KindSite, "youtube.com"), 600)).To(Succeed())
			Expect(store.SetLimit(ctx, domain.NewBlockedItem(domain.KindApp, "steam"), 1800)).To(Succeed())
		})

		It("blocks a website after its budget is used up", func() {
			Expect(agg.ReportWebsite(ctx, "youtube.com", 10*time.Minute)).To(Succeed())

			blocked, reason := enforcer.IsBlocked("youtube.com")
			Expect(blocked).To(BeTrue())
			Expect(reason).To(Equal(domain.ReasonDailyLimit))
		})

		It("kills an app once tracked usage reaches its budget", func() {
			steam := domain.NewBlockedItem(domain.KindApp, "steam")
			_, err := store.IncrementUsage(ctx, steam, clock.Now().Format(domain.DateLayout), 1800)
			Expect(err).NotTo(HaveOccurred())
			agg.RefreshOverLimit(ctx)

			Expect(enforcer.Sweep(ctx)).To(Equal(1))
			Expect(pm.procs).NotTo(HaveKey(int32(200)))
		})

		It("lifts limit blocks on the next calendar day", func() {
			Expect(agg.ReportWebsite(ctx, "youtube.com", 10*time.Minute)).To(Succeed())
			blocked, _ := enforcer.IsBlocked("youtube.com")
			Expect(blocked).To(BeTrue())

			clock.Advance(24 * time.Hour)
			Expect(agg.ReportWebsite(ctx, "example.com", time.Second)).To(Succeed())

			blocked, _ = enforcer.IsBlocked("youtube.com")
			Expect(blocked).To(BeFalse())
		})
	})

	Describe("scheduled sessions", func() {
		BeforeEach(func() {
			Expect(store.AddSchedule(ctx, domain.Schedule{
				ID:      "morning",
				Name:    "morning focus",
				Days:    []time.Weekday{time.Monday},
				Start:   "09:00",
				End:     "10:00",
				Items:   []domain.BlockedItem{domain.NewBlockedItem(domain.KindApp, "chrome")},
				Enabled: true,
			})).To(Succeed())
		})

		It("runs the window edge to edge", func() {
			sched.Tick(ctx)
			Expect(sessions.Status().Active).To(BeFalse(), "08:00 is outside the window")

			clock.Advance(time.Hour)
			sched.Tick(ctx)
			Expect(sessions.Status().Active).To(BeTrue())
			Expect(enforcer.Sweep(ctx)).To(Equal(1), "chrome dies inside the window")

			clock.Advance(time.Hour)
			sched.Tick(ctx)
			Expect(sessions.Status().Active).To(BeFalse(), "10:00 closes the window")
		})
	})

	Describe("the aggregator loop", func() {
		It("stops cleanly when the context is canceled", func() {
			probe.name = "chrome"
			runCtx, cancel := context.WithCancel(ctx)
			cancel()
			Expect(agg.Run(runCtx)).To(MatchError(context.Canceled))
		})
	})
})
