// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import (
	"strings"
	"time"
)

// ItemKind distinguishes the two kinds of blockable items.
type ItemKind string

const (
	KindApp  ItemKind = "app"  // desktop application, matched by process name
	KindSite ItemKind = "site" // website, matched by domain
)

// DateLayout is the calendar-day key used for daily usage records.
const DateLayout = "2006-01-02"

// BlockedItem identifies one blockable item. Identity is the (Kind, Value)
// pair; Value is stored lowercase and matched case-insensitively as a
// substring, so "steam" blocks both "steam" and "steam_osx".
type BlockedItem struct {
	Kind  ItemKind `json:"kind"`
	Value string   `json:"value"`
}

// NewBlockedItem normalizes value to lowercase.
func NewBlockedItem(kind ItemKind, value string) BlockedItem {
	return BlockedItem{Kind: kind, Value: strings.ToLower(strings.TrimSpace(value))}
}

// Key returns the canonical "kind:value" identity string.
func (b BlockedItem) Key() string {
	return string(b.Kind) + ":" + b.Value
}

// Matches reports whether the item's pattern matches the given name
// (case-insensitive contains).
func (b BlockedItem) Matches(name string) bool {
	if b.Value == "" {
		return false
	}
	return strings.Contains(strings.ToLower(name), b.Value)
}

// SessionStatus is the session state machine's state.
type SessionStatus string

const (
	StatusIdle   SessionStatus = "idle"
	StatusActive SessionStatus = "active"
)

// Session is one focus session. Exactly one session may be Active at a time.
// Blocklist and Limits are snapshots captured at start; edits to the standing
// blocklist during a session apply only to the next one.
type Session struct {
	ID              string
	Status          SessionStatus
	StartedAt       time.Time
	PlannedDuration time.Duration
	StrictMode      bool
	Blocklist       []BlockedItem
	Limits          map[string]int64 // item key -> limit seconds
}

// BlockedApps returns the app patterns in the session's blocklist snapshot.
func (s *Session) BlockedApps() []string {
	return itemValues(s.Blocklist, KindApp)
}

// BlockedSites returns the site patterns in the session's blocklist snapshot.
func (s *Session) BlockedSites() []string {
	return itemValues(s.Blocklist, KindSite)
}

func itemValues(items []BlockedItem, kind ItemKind) []string {
	var out []string
	for _, it := range items {
		if it.Kind == kind {
			out = append(out, it.Value)
		}
	}
	return out
}

// UsageRecord is accumulated usage for one item on one calendar day.
// Seconds only ever increases within a day.
type UsageRecord struct {
	Item    BlockedItem
	Date    string // DateLayout
	Seconds int64
}

// DailyLimit caps accumulated usage per calendar day for one item.
// Enforced whether or not a session is active.
type DailyLimit struct {
	Item         BlockedItem
	LimitSeconds int64
}

// Schedule drives automatic session start/stop. Start and End are "HH:MM"
// local wall-clock times; an End earlier than Start wraps past midnight.
type Schedule struct {
	ID      string         `json:"id"`
	Name    string         `json:"name"`
	Days    []time.Weekday `json:"days"`
	Start   string         `json:"start"`
	End     string         `json:"end"`
	Items   []BlockedItem  `json:"items"`
	Enabled bool           `json:"enabled"`
}

// InWindow reports whether t falls inside the schedule's [Start, End) window
// on one of its configured days.
func (s *Schedule) InWindow(t time.Time) bool {
	start, err := parseMinutes(s.Start)
	if err != nil {
		return false
	}
	end, err := parseMinutes(s.End)
	if err != nil {
		return false
	}

	minute := t.Hour()*60 + t.Minute()

	if start <= end {
		return s.onDay(t.Weekday()) && minute >= start && minute < end
	}

	// Overnight window: the tail before End belongs to the previous
	// calendar day's entry.
	if minute >= start {
		return s.onDay(t.Weekday())
	}
	if minute < end {
		return s.onDay(prevWeekday(t.Weekday()))
	}
	return false
}

// WindowDuration returns the length of the schedule window.
func (s *Schedule) WindowDuration() time.Duration {
	start, err := parseMinutes(s.Start)
	if err != nil {
		return 0
	}
	end, err := parseMinutes(s.End)
	if err != nil {
		return 0
	}
	if start <= end {
		return time.Duration(end-start) * time.Minute
	}
	return time.Duration(24*60-start+end) * time.Minute
}

func (s *Schedule) onDay(d time.Weekday) bool {
	for _, day := range s.Days {
		if day == d {
			return true
		}
	}
	return false
}

func prevWeekday(d time.Weekday) time.Weekday {
	return (d + 6) % 7
}

// parseMinutes converts "HH:MM" to minutes since midnight.
func parseMinutes(hhmm string) (int, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// ValidateClockTime reports whether s is a well-formed "HH:MM" string.
func ValidateClockTime(s string) bool {
	_, err := parseMinutes(s)
	return err == nil
}

// SessionRecord is one archived session in history, used for weekly stats.
type SessionRecord struct {
	ID             string
	StartedAt      time.Time
	EndedAt        time.Time
	PlannedSeconds int64
	StrictMode     bool
	Completed      bool
}

// DailyTotal is an aggregated usage row for stats queries.
type DailyTotal struct {
	Item    BlockedItem
	Seconds int64
}

// ProcessInfo is one running OS process as seen by the process lister.
type ProcessInfo struct {
	PID  int32
	Name string
}

// BlockReason explains why a website block check came back positive.
type BlockReason string

const (
	ReasonFocusSession BlockReason = "focus_session"
	ReasonDailyLimit   BlockReason = "daily_limit"
)
