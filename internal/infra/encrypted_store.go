package infra

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// Ensure sqlcipher driver is registered.
	_ "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/focusforge/forged/internal/domain"
)

const storeDBName = "forged.db"

// EncryptedStore implements domain.Store using a SQLCipher encrypted SQLite
// database: usage day-series, standing blocklist, daily limits, schedules
// and session history.
type EncryptedStore struct {
	db     *sql.DB
	dbPath string
}

// NewEncryptedStore opens (or creates) the encrypted store database.
// The key is used as the SQLCipher passphrase via PRAGMA key.
func NewEncryptedStore(dataDir string, key []byte) (*EncryptedStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, storeDBName)
	keyHex := hex.EncodeToString(key)

	// Open with SQLCipher key as DSN parameter
	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", dbPath, keyHex)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open encrypted database: %w", err)
	}

	// Verify encryption works by running a query
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to encrypted database: %w", err)
	}

	s := &EncryptedStore{db: db, dbPath: dbPath}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return s, nil
}

// createTables creates the schema if it doesn't exist.
func (s *EncryptedStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS usage_daily (
		item_kind TEXT NOT NULL,
		item_value TEXT NOT NULL,
		date TEXT NOT NULL,
		seconds INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (item_kind, item_value, date)
	);

	CREATE TABLE IF NOT EXISTS blocklist (
		item_kind TEXT NOT NULL,
		item_value TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (item_kind, item_value)
	);

	CREATE TABLE IF NOT EXISTS daily_limits (
		item_kind TEXT NOT NULL,
		item_value TEXT NOT NULL,
		limit_seconds INTEGER NOT NULL,
		PRIMARY KEY (item_kind, item_value)
	);

	CREATE TABLE IF NOT EXISTS schedules (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		days TEXT NOT NULL,
		start_time TEXT NOT NULL,
		end_time TEXT NOT NULL,
		items TEXT NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS session_history (
		id TEXT PRIMARY KEY,
		started_at INTEGER NOT NULL,
		ended_at INTEGER,
		planned_seconds INTEGER NOT NULL,
		strict INTEGER NOT NULL,
		completed INTEGER NOT NULL DEFAULT 0
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close releases the database connection.
func (s *EncryptedStore) Close() error {
	return s.db.Close()
}

// --- domain.UsageStore implementation ---

// IncrementUsage adds seconds to the (item, date) record, creating it lazily,
// and returns the new total. Runs in a transaction so the returned total is
// consistent under concurrent ticks.
func (s *EncryptedStore) IncrementUsage(ctx context.Context, item domain.BlockedItem, date string, seconds int64) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO usage_daily (item_kind, item_value, date, seconds)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(item_kind, item_value, date)
		DO UPDATE SET seconds = seconds + excluded.seconds`,
		string(item.Kind), item.Value, date, seconds,
	)
	if err != nil {
		return 0, err
	}

	var total int64
	err = tx.QueryRowContext(ctx, `
		SELECT seconds FROM usage_daily
		WHERE item_kind = ? AND item_value = ? AND date = ?`,
		string(item.Kind), item.Value, date,
	).Scan(&total)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return total, nil
}

// UsageFor returns accumulated seconds for (item, date); 0 if absent.
func (s *EncryptedStore) UsageFor(ctx context.Context, item domain.BlockedItem, date string) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx, `
		SELECT seconds FROM usage_daily
		WHERE item_kind = ? AND item_value = ? AND date = ?`,
		string(item.Kind), item.Value, date,
	).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return total, nil
}

// TotalsForDate returns per-item totals for one calendar day.
func (s *EncryptedStore) TotalsForDate(ctx context.Context, date string) ([]domain.DailyTotal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT item_kind, item_value, seconds FROM usage_daily
		WHERE date = ?
		ORDER BY seconds DESC`,
		date,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTotals(rows)
}

// TotalsForRange returns per-item totals summed over [from, to] inclusive.
func (s *EncryptedStore) TotalsForRange(ctx context.Context, from, to string) ([]domain.DailyTotal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT item_kind, item_value, SUM(seconds) FROM usage_daily
		WHERE date >= ? AND date <= ?
		GROUP BY item_kind, item_value
		ORDER BY SUM(seconds) DESC`,
		from, to,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTotals(rows)
}

func scanTotals(rows *sql.Rows) ([]domain.DailyTotal, error) {
	var totals []domain.DailyTotal
	for rows.Next() {
		var kind, value string
		var seconds int64
		if err := rows.Scan(&kind, &value, &seconds); err != nil {
			return nil, err
		}
		totals = append(totals, domain.DailyTotal{
			Item:    domain.BlockedItem{Kind: domain.ItemKind(kind), Value: value},
			Seconds: seconds,
		})
	}
	return totals, rows.Err()
}

// --- domain.BlocklistStore implementation ---

// ListBlocked returns the standing blocklist.
func (s *EncryptedStore) ListBlocked(ctx context.Context) ([]domain.BlockedItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT item_kind, item_value FROM blocklist
		ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.BlockedItem
	for rows.Next() {
		var kind, value string
		if err := rows.Scan(&kind, &value); err != nil {
			return nil, err
		}
		items = append(items, domain.BlockedItem{Kind: domain.ItemKind(kind), Value: value})
	}
	return items, rows.Err()
}

// AddBlocked adds a standing blocklist item. Re-adding is a no-op, so
// repeated identical requests do not create duplicates.
func (s *EncryptedStore) AddBlocked(ctx context.Context, item domain.BlockedItem) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO blocklist (item_kind, item_value, created_at)
		VALUES (?, ?, ?)`,
		string(item.Kind), item.Value, time.Now().Unix(),
	)
	return err
}

// RemoveBlocked deletes a standing blocklist item.
func (s *EncryptedStore) RemoveBlocked(ctx context.Context, item domain.BlockedItem) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM blocklist WHERE item_kind = ? AND item_value = ?`,
		string(item.Kind), item.Value,
	)
	if err != nil {
		return err
	}
	return notFoundIfZero(res)
}

// --- domain.LimitStore implementation ---

// ListLimits returns all configured daily limits.
func (s *EncryptedStore) ListLimits(ctx context.Context) ([]domain.DailyLimit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT item_kind, item_value, limit_seconds FROM daily_limits`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var limits []domain.DailyLimit
	for rows.Next() {
		var kind, value string
		var secs int64
		if err := rows.Scan(&kind, &value, &secs); err != nil {
			return nil, err
		}
		limits = append(limits, domain.DailyLimit{
			Item:         domain.BlockedItem{Kind: domain.ItemKind(kind), Value: value},
			LimitSeconds: secs,
		})
	}
	return limits, rows.Err()
}

// SetLimit creates or replaces the limit for an item.
func (s *EncryptedStore) SetLimit(ctx context.Context, item domain.BlockedItem, limitSeconds int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO daily_limits (item_kind, item_value, limit_seconds)
		VALUES (?, ?, ?)`,
		string(item.Kind), item.Value, limitSeconds,
	)
	return err
}

// ClearLimit removes the limit for an item.
func (s *EncryptedStore) ClearLimit(ctx context.Context, item domain.BlockedItem) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM daily_limits WHERE item_kind = ? AND item_value = ?`,
		string(item.Kind), item.Value,
	)
	if err != nil {
		return err
	}
	return notFoundIfZero(res)
}

// GetLimit returns the limit for an item, or ErrNotFound.
func (s *EncryptedStore) GetLimit(ctx context.Context, item domain.BlockedItem) (int64, error) {
	var secs int64
	err := s.db.QueryRowContext(ctx, `
		SELECT limit_seconds FROM daily_limits
		WHERE item_kind = ? AND item_value = ?`,
		string(item.Kind), item.Value,
	).Scan(&secs)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return secs, nil
}

// --- domain.ScheduleStore implementation ---

// ListSchedules returns all schedules.
func (s *EncryptedStore) ListSchedules(ctx context.Context) ([]domain.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, days, start_time, end_time, items, enabled FROM schedules`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []domain.Schedule
	for rows.Next() {
		var sched domain.Schedule
		var days, items string
		var enabled int
		if err := rows.Scan(&sched.ID, &sched.Name, &days, &sched.Start, &sched.End, &items, &enabled); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(days), &sched.Days); err != nil {
			return nil, fmt.Errorf("corrupt schedule days for %s: %w", sched.ID, err)
		}
		if err := json.Unmarshal([]byte(items), &sched.Items); err != nil {
			return nil, fmt.Errorf("corrupt schedule items for %s: %w", sched.ID, err)
		}
		sched.Enabled = enabled != 0
		schedules = append(schedules, sched)
	}
	return schedules, rows.Err()
}

// AddSchedule stores a new schedule.
func (s *EncryptedStore) AddSchedule(ctx context.Context, sched domain.Schedule) error {
	days, err := json.Marshal(sched.Days)
	if err != nil {
		return err
	}
	items, err := json.Marshal(sched.Items)
	if err != nil {
		return err
	}

	enabled := 0
	if sched.Enabled {
		enabled = 1
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO schedules (id, name, days, start_time, end_time, items, enabled)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sched.ID, sched.Name, string(days), sched.Start, sched.End, string(items), enabled,
	)
	return err
}

// RemoveSchedule deletes a schedule by ID.
func (s *EncryptedStore) RemoveSchedule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return notFoundIfZero(res)
}

// --- domain.SessionStore implementation ---

// RecordSessionStart appends a history row for a newly started session.
func (s *EncryptedStore) RecordSessionStart(ctx context.Context, sess domain.Session) error {
	strict := 0
	if sess.StrictMode {
		strict = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_history (id, started_at, planned_seconds, strict, completed)
		VALUES (?, ?, ?, ?, 0)`,
		sess.ID, sess.StartedAt.Unix(), int64(sess.PlannedDuration.Seconds()), strict,
	)
	return err
}

// RecordSessionEnd closes the history row for a stopped session.
func (s *EncryptedStore) RecordSessionEnd(ctx context.Context, id string, endedAt int64, completed bool) error {
	done := 0
	if completed {
		done = 1
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE session_history SET ended_at = ?, completed = ? WHERE id = ?`,
		endedAt, done, id,
	)
	if err != nil {
		return err
	}
	return notFoundIfZero(res)
}

// CompletedSince returns completed sessions started after the given unix
// timestamp.
func (s *EncryptedStore) CompletedSince(ctx context.Context, since int64) ([]domain.SessionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, ended_at, planned_seconds, strict
		FROM session_history
		WHERE completed = 1 AND started_at >= ?
		ORDER BY started_at`,
		since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.SessionRecord
	for rows.Next() {
		var rec domain.SessionRecord
		var started, ended, strict int64
		if err := rows.Scan(&rec.ID, &started, &ended, &rec.PlannedSeconds, &strict); err != nil {
			return nil, err
		}
		rec.StartedAt = time.Unix(started, 0)
		rec.EndedAt = time.Unix(ended, 0)
		rec.StrictMode = strict != 0
		rec.Completed = true
		records = append(records, rec)
	}
	return records, rows.Err()
}

func notFoundIfZero(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Ensure EncryptedStore implements domain.Store.
var _ domain.Store = (*EncryptedStore)(nil)
