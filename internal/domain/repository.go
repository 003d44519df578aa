package domain

import "context"

// ProcessManager handles OS process operations.
// Implementation: uses gopsutil for cross-platform support.
type ProcessManager interface {
	// Processes lists currently running processes.
	Processes() ([]ProcessInfo, error)

	// Terminate kills a process by PID (SIGKILL). Failures are non-fatal
	// to callers; the enforcement sweep retries on its next tick.
	Terminate(pid int32) error
}

// ForegroundProbe reports the currently focused desktop application.
type ForegroundProbe interface {
	// Active returns the process name of the foreground application.
	// Returns ErrProbeUnavailable when the platform offers no probe.
	Active(ctx context.Context) (string, error)
}

// UsageStore persists per-(item, day) accumulated usage.
type UsageStore interface {
	// IncrementUsage adds seconds to the record for (item, date), creating
	// it lazily, and returns the new total. Totals never decrease.
	IncrementUsage(ctx context.Context, item BlockedItem, date string, seconds int64) (int64, error)

	// UsageFor returns accumulated seconds for (item, date); 0 if absent.
	UsageFor(ctx context.Context, item BlockedItem, date string) (int64, error)

	// TotalsForDate returns per-item totals for one calendar day.
	TotalsForDate(ctx context.Context, date string) ([]DailyTotal, error)

	// TotalsForRange returns per-item totals summed over [from, to]
	// inclusive, dates in DateLayout.
	TotalsForRange(ctx context.Context, from, to string) ([]DailyTotal, error)
}

// BlocklistStore persists the standing blocklist.
type BlocklistStore interface {
	// ListBlocked returns the standing blocklist.
	ListBlocked(ctx context.Context) ([]BlockedItem, error)

	// AddBlocked adds an item; adding an existing item is a no-op.
	AddBlocked(ctx context.Context, item BlockedItem) error

	// RemoveBlocked deletes an item. Returns ErrNotFound if absent.
	RemoveBlocked(ctx context.Context, item BlockedItem) error
}

// LimitStore persists per-item daily limits. At most one limit per item.
type LimitStore interface {
	// ListLimits returns all configured limits.
	ListLimits(ctx context.Context) ([]DailyLimit, error)

	// SetLimit creates or replaces the limit for an item.
	SetLimit(ctx context.Context, item BlockedItem, limitSeconds int64) error

	// ClearLimit removes the limit for an item. Returns ErrNotFound if absent.
	ClearLimit(ctx context.Context, item BlockedItem) error

	// GetLimit returns the limit for an item, or ErrNotFound.
	GetLimit(ctx context.Context, item BlockedItem) (int64, error)
}

// ScheduleStore persists automatic session schedules.
type ScheduleStore interface {
	// ListSchedules returns all schedules.
	ListSchedules(ctx context.Context) ([]Schedule, error)

	// AddSchedule stores a new schedule.
	AddSchedule(ctx context.Context, s Schedule) error

	// RemoveSchedule deletes a schedule by ID. Returns ErrNotFound if absent.
	RemoveSchedule(ctx context.Context, id string) error
}

// SessionStore archives session history for weekly stats. Sessions do not
// persist as live state across restarts; history rows are append-only.
type SessionStore interface {
	// RecordSessionStart appends a history row for a newly started session.
	RecordSessionStart(ctx context.Context, s Session) error

	// RecordSessionEnd closes the history row for a stopped session.
	RecordSessionEnd(ctx context.Context, id string, endedAt int64, completed bool) error

	// CompletedSince returns completed sessions started after the given
	// unix timestamp.
	CompletedSince(ctx context.Context, since int64) ([]SessionRecord, error)
}

// Store bundles every persistence concern the engine needs.
// Implementation: SQLCipher-encrypted SQLite.
type Store interface {
	UsageStore
	BlocklistStore
	LimitStore
	ScheduleStore
	SessionStore

	// Close releases the underlying database connection.
	Close() error
}

// KeyProvider abstracts the source of the store encryption key.
type KeyProvider interface {
	// GetKey returns the encryption key bytes.
	GetKey() ([]byte, error)

	// StoreKey persists a new encryption key.
	StoreKey(key []byte) error

	// KeyExists checks if a key has been generated.
	KeyExists() bool
}
