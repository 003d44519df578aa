package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/focusforge/forged/internal/domain"
	"github.com/focusforge/forged/internal/session"
)

// maxReportedDuration rejects obviously bogus activity reports.
const maxReportedDuration = 24 * time.Hour

var domainPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9.-]*[a-z0-9])?$`)

// --- request/response payloads ---

type websiteActivityRequest struct {
	Domain    string  `json:"domain"`
	URL       string  `json:"url"`
	Title     string  `json:"title"`
	Timestamp string  `json:"timestamp"`
	Duration  float64 `json:"duration"`
}

type focusStartRequest struct {
	DurationMinutes int      `json:"duration_minutes"`
	StrictMode      bool     `json:"strict_mode"`
	BlockedApps     []string `json:"blocked_apps"`
	BlockedWebsites []string `json:"blocked_websites"`
}

type focusStopRequest struct {
	Passphrase string `json:"passphrase"`
}

type blocklistItemRequest struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type limitSetRequest struct {
	Type    string `json:"type"`
	Value   string `json:"value"`
	Minutes int64  `json:"minutes"` // 0 clears the limit
}

type scheduleCreateRequest struct {
	Name            string   `json:"name"`
	Days            []int    `json:"days"` // 0=Sunday .. 6=Saturday
	Start           string   `json:"start"`
	End             string   `json:"end"`
	BlockedApps     []string `json:"blocked_apps"`
	BlockedWebsites []string `json:"blocked_websites"`
}

// --- handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "online",
		"app":     "forged",
		"version": s.config.Version,
	})
}

func (s *Server) handleWebsiteActivity(w http.ResponseWriter, r *http.Request) {
	var req websiteActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !validDomain(req.Domain) {
		writeError(w, http.StatusBadRequest, "malformed domain")
		return
	}

	duration := time.Duration(req.Duration * float64(time.Second))
	if duration < 0 || duration > maxReportedDuration {
		writeError(w, http.StatusBadRequest, "duration out of range")
		return
	}

	if err := s.aggregator.ReportWebsite(r.Context(), req.Domain, duration); err != nil {
		writeError(w, http.StatusBadRequest, "invalid activity report")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (s *Server) handleCheckBlocked(w http.ResponseWriter, r *http.Request) {
	site := mux.Vars(r)["domain"]
	if !validDomain(site) {
		writeError(w, http.StatusBadRequest, "malformed domain")
		return
	}

	blocked, reason := s.enforcer.IsBlocked(site)
	if !blocked {
		writeJSON(w, http.StatusOK, map[string]any{"blocked": false})
		return
	}

	message := "This website is blocked during focus time"
	if reason == domain.ReasonDailyLimit {
		message = "Daily time limit reached for this site"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"blocked": true,
		"reason":  string(reason),
		"message": message,
	})
}

func (s *Server) handleFocusStart(w http.ResponseWriter, r *http.Request) {
	var req focusStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.DurationMinutes < 1 || req.DurationMinutes > 24*60 {
		writeError(w, http.StatusBadRequest, "duration_minutes must be between 1 and 1440")
		return
	}

	// Explicit lists override the standing blocklist snapshot.
	var items []domain.BlockedItem
	if len(req.BlockedApps) > 0 || len(req.BlockedWebsites) > 0 {
		for _, app := range req.BlockedApps {
			items = append(items, domain.NewBlockedItem(domain.KindApp, app))
		}
		for _, site := range req.BlockedWebsites {
			items = append(items, domain.NewBlockedItem(domain.KindSite, site))
		}
	}

	id, err := s.sessions.Start(r.Context(), session.StartParams{
		Duration:   time.Duration(req.DurationMinutes) * time.Minute,
		StrictMode: req.StrictMode,
		Items:      items,
	})
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyActive) {
			writeError(w, http.StatusConflict, "a focus session is already active")
			return
		}
		s.logger.Error("session start failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start session")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":     "success",
		"session_id": id,
	})
}

func (s *Server) handleFocusStop(w http.ResponseWriter, r *http.Request) {
	var req focusStopRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	err := s.sessions.Stop(r.Context(), req.Passphrase)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
	case errors.Is(err, domain.ErrNotActive):
		writeError(w, http.StatusConflict, "no focus session is active")
	case errors.Is(err, domain.ErrStrictLockout):
		// "Too early" and "wrong passphrase" stay distinguishable so the
		// caller renders the right message.
		writeJSON(w, http.StatusForbidden, map[string]string{
			"error":   "strict_lockout",
			"message": "Cannot stop yet: strict mode minimum lock duration not reached",
		})
	case errors.Is(err, domain.ErrWrongPassphrase):
		writeJSON(w, http.StatusForbidden, map[string]string{
			"error":   "wrong_passphrase",
			"message": "Incorrect passphrase",
		})
	default:
		s.logger.Error("session stop failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to stop session")
	}
}

func (s *Server) handleFocusStatus(w http.ResponseWriter, r *http.Request) {
	status := s.sessions.Status()
	if !status.Active {
		writeJSON(w, http.StatusOK, map[string]any{"active": false})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"active":                   true,
		"session_id":               status.ID,
		"strict_mode":              status.StrictMode,
		"session_duration":         int64(status.Elapsed.Seconds()),
		"planned_duration_seconds": int64(status.PlannedDuration.Seconds()),
		"blocked_apps":             valuesOf(status.Blocklist, domain.KindApp),
		"blocked_websites":         valuesOf(status.Blocklist, domain.KindSite),
	})
}

func (s *Server) handleBlocklistGet(w http.ResponseWriter, r *http.Request) {
	items, err := s.store.ListBlocked(r.Context())
	if err != nil {
		s.logger.Error("failed to list blocklist", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read blocklist")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"apps":     valuesOf(items, domain.KindApp),
		"websites": valuesOf(items, domain.KindSite),
	})
}

func (s *Server) handleBlocklistAdd(w http.ResponseWriter, r *http.Request) {
	var req blocklistItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	item, ok := parseItem(req.Type, req.Value)
	if !ok {
		writeError(w, http.StatusBadRequest, "type must be app or site, value must not be empty")
		return
	}

	// Idempotent: re-adding the same item does not create a duplicate.
	if err := s.store.AddBlocked(r.Context(), item); err != nil {
		s.logger.Error("failed to add blocklist item", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to add item")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "success", "item": item.Key()})
}

func (s *Server) handleBlocklistRemove(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	item, ok := parseItem(vars["kind"], vars["value"])
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid item")
		return
	}

	if err := s.store.RemoveBlocked(r.Context(), item); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "item not found")
			return
		}
		s.logger.Error("failed to remove blocklist item", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to remove item")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (s *Server) handleLimitsGet(w http.ResponseWriter, r *http.Request) {
	limits, err := s.store.ListLimits(r.Context())
	if err != nil {
		s.logger.Error("failed to list limits", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read limits")
		return
	}

	type limitRow struct {
		Type             string `json:"type"`
		Value            string `json:"value"`
		LimitSeconds     int64  `json:"limit_seconds"`
		UsedTodaySeconds int64  `json:"used_today_seconds"`
	}

	rows := make([]limitRow, 0, len(limits))
	for _, l := range limits {
		used, err := s.aggregator.UsageToday(r.Context(), l.Item)
		if err != nil {
			s.logger.Warn("failed to read usage for limit",
				zap.String("item", l.Item.Key()), zap.Error(err))
		}
		rows = append(rows, limitRow{
			Type:             string(l.Item.Kind),
			Value:            l.Item.Value,
			LimitSeconds:     l.LimitSeconds,
			UsedTodaySeconds: used,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"limits": rows, "count": len(rows)})
}

func (s *Server) handleLimitsSet(w http.ResponseWriter, r *http.Request) {
	var req limitSetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	item, ok := parseItem(req.Type, req.Value)
	if !ok {
		writeError(w, http.StatusBadRequest, "type must be app or site, value must not be empty")
		return
	}
	if req.Minutes < 0 || req.Minutes > 24*60 {
		writeError(w, http.StatusBadRequest, "minutes must be between 0 and 1440")
		return
	}

	if req.Minutes == 0 {
		if err := s.store.ClearLimit(r.Context(), item); err != nil && !errors.Is(err, domain.ErrNotFound) {
			s.logger.Error("failed to clear limit", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to clear limit")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
		return
	}

	if err := s.store.SetLimit(r.Context(), item, req.Minutes*60); err != nil {
		s.logger.Error("failed to set limit", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to set limit")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "success",
		"item":          item.Key(),
		"limit_seconds": req.Minutes * 60,
	})
}

func (s *Server) handleLimitClear(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	item, ok := parseItem(vars["kind"], vars["value"])
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid item")
		return
	}

	if err := s.store.ClearLimit(r.Context(), item); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no limit for item")
			return
		}
		s.logger.Error("failed to clear limit", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to clear limit")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (s *Server) handleLimitStatus(w http.ResponseWriter, r *http.Request) {
	item, ok := parseItem(r.URL.Query().Get("type"), r.URL.Query().Get("value"))
	if !ok {
		writeError(w, http.StatusBadRequest, "type and value query params required")
		return
	}

	used, err := s.aggregator.UsageToday(r.Context(), item)
	if err != nil {
		s.logger.Error("failed to read usage", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read usage")
		return
	}

	var limitSeconds int64
	hasLimit := true
	limitSeconds, err = s.store.GetLimit(r.Context(), item)
	if errors.Is(err, domain.ErrNotFound) {
		hasLimit = false
	} else if err != nil {
		s.logger.Error("failed to read limit", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read limit")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"type":               string(item.Kind),
		"value":              item.Value,
		"used_today_seconds": used,
		"limit_seconds":      limitSeconds,
		"has_limit":          hasLimit,
		"over_limit":         hasLimit && used >= limitSeconds,
	})
}

func (s *Server) handleSchedulesGet(w http.ResponseWriter, r *http.Request) {
	schedules, err := s.store.ListSchedules(r.Context())
	if err != nil {
		s.logger.Error("failed to list schedules", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read schedules")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"schedules": schedules,
		"count":     len(schedules),
	})
}

func (s *Server) handleScheduleCreate(w http.ResponseWriter, r *http.Request) {
	var req scheduleCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !domain.ValidateClockTime(req.Start) || !domain.ValidateClockTime(req.End) {
		writeError(w, http.StatusBadRequest, "start and end must be HH:MM")
		return
	}
	if len(req.Days) == 0 {
		writeError(w, http.StatusBadRequest, "at least one day required")
		return
	}

	days := make([]time.Weekday, 0, len(req.Days))
	for _, d := range req.Days {
		if d < 0 || d > 6 {
			writeError(w, http.StatusBadRequest, "days must be 0 (Sunday) through 6 (Saturday)")
			return
		}
		days = append(days, time.Weekday(d))
	}

	var items []domain.BlockedItem
	for _, app := range req.BlockedApps {
		items = append(items, domain.NewBlockedItem(domain.KindApp, app))
	}
	for _, site := range req.BlockedWebsites {
		items = append(items, domain.NewBlockedItem(domain.KindSite, site))
	}

	sched := domain.Schedule{
		ID:      uuid.NewString(),
		Name:    req.Name,
		Days:    days,
		Start:   req.Start,
		End:     req.End,
		Items:   items,
		Enabled: true,
	}

	if err := s.store.AddSchedule(r.Context(), sched); err != nil {
		s.logger.Error("failed to create schedule", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create schedule")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "success", "id": sched.ID})
}

func (s *Server) handleScheduleDelete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := s.store.RemoveSchedule(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "schedule not found")
			return
		}
		s.logger.Error("failed to delete schedule", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete schedule")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (s *Server) handleStatsDaily(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		date = s.clock.Now().Format(domain.DateLayout)
	} else if _, err := time.Parse(domain.DateLayout, date); err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	totals, err := s.store.TotalsForDate(r.Context(), date)
	if err != nil {
		s.logger.Error("failed to read daily stats", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read stats")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"date":      date,
		"app_usage": totalRows(totals, domain.KindApp),
		"web_usage": totalRows(totals, domain.KindSite),
	})
}

func (s *Server) handleStatsWeekly(w http.ResponseWriter, r *http.Request) {
	now := s.clock.Now()
	from := now.AddDate(0, 0, -7)

	totals, err := s.store.TotalsForRange(r.Context(),
		from.Format(domain.DateLayout), now.Format(domain.DateLayout))
	if err != nil {
		s.logger.Error("failed to read weekly stats", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read stats")
		return
	}

	sessions, err := s.store.CompletedSince(r.Context(), from.Unix())
	if err != nil {
		s.logger.Warn("failed to read session history", zap.Error(err))
	}

	var focusMinutes int64
	for _, rec := range sessions {
		focusMinutes += rec.PlannedSeconds / 60
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"period":              from.Format(domain.DateLayout) + " to " + now.Format(domain.DateLayout),
		"app_usage":           totalRows(totals, domain.KindApp),
		"web_usage":           totalRows(totals, domain.KindSite),
		"completed_sessions":  len(sessions),
		"total_focus_minutes": focusMinutes,
	})
}

// --- helpers ---

type statRow struct {
	Name    string `json:"name"`
	Seconds int64  `json:"seconds"`
}

func totalRows(totals []domain.DailyTotal, kind domain.ItemKind) []statRow {
	rows := make([]statRow, 0)
	for _, t := range totals {
		if t.Item.Kind == kind {
			rows = append(rows, statRow{Name: t.Item.Value, Seconds: t.Seconds})
		}
	}
	return rows
}

func valuesOf(items []domain.BlockedItem, kind domain.ItemKind) []string {
	out := make([]string, 0)
	for _, it := range items {
		if it.Kind == kind {
			out = append(out, it.Value)
		}
	}
	return out
}

// parseItem validates and normalizes a (type, value) pair from a request.
func parseItem(kind, value string) (domain.BlockedItem, bool) {
	var k domain.ItemKind
	switch kind {
	case "app":
		k = domain.KindApp
	case "site", "website":
		k = domain.KindSite
	default:
		return domain.BlockedItem{}, false
	}

	item := domain.NewBlockedItem(k, value)
	if item.Value == "" {
		return domain.BlockedItem{}, false
	}
	if k == domain.KindSite && !validDomain(item.Value) {
		return domain.BlockedItem{}, false
	}
	return item, true
}

func validDomain(d string) bool {
	d = strings.ToLower(strings.TrimSpace(d))
	if len(d) == 0 || len(d) > 253 {
		return false
	}
	return domainPattern.MatchString(d)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
