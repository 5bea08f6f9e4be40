package services

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"stocklens_backend/config"
)

// Alert levels and thresholds relative to the alert window limit.
const (
	AlertLevelWarning  = "warning"
	AlertLevelCritical = "critical"

	WarningThreshold  = 0.80
	CriticalThreshold = 0.95

	maxRetainedAlerts = 200
)

// AlertWindow selects which quota window the alert thresholds are evaluated
// against. The daily window is the default.
type AlertWindow int

const (
	AlertWindowDay AlertWindow = iota
	AlertWindowHour
	AlertWindowMinute
)

// QuotaDecision is the admission-check result for one provider.
type QuotaDecision struct {
	Allowed  bool          `json:"allowed"`
	Reason   string        `json:"reason,omitempty"`
	WaitTime time.Duration `json:"wait_time,omitempty"`
}

// QuotaAlert is raised once per threshold crossing.
type QuotaAlert struct {
	Provider          string    `json:"provider"`
	Level             string    `json:"level"`
	Message           string    `json:"message"`
	RemainingCalls    int       `json:"remaining_calls"`
	ResetTime         time.Time `json:"reset_time"`
	RecommendedAction string    `json:"recommended_action"`
	RaisedAt          time.Time `json:"raised_at"`
}

// ProviderUsage is a point-in-time usage snapshot for one provider.
type ProviderUsage struct {
	Provider      string    `json:"provider"`
	MinuteCount   int       `json:"minute_count"`
	MinuteLimit   int       `json:"minute_limit"`
	HourCount     int       `json:"hour_count"`
	HourLimit     int       `json:"hour_limit"`
	DayCount      int       `json:"day_count"`
	DayLimit      int       `json:"day_limit"`
	DayUsagePct   float64   `json:"day_usage_pct"`
	DayResetTime  time.Time `json:"day_reset_time"`
	TotalCalls    int64     `json:"total_calls"`
	FailedCalls   int64     `json:"failed_calls"`
	LastCall      time.Time `json:"last_call"`
}

// quotaWindow is a fixed time bucket with a call limit.
type quotaWindow struct {
	count   int
	limit   int
	span    time.Duration
	resetAt time.Time
}

func (w *quotaWindow) rollIfDue(now time.Time) {
	if !now.Before(w.resetAt) {
		w.count = 0
		w.resetAt = now.Add(w.span)
	}
}

func (w *quotaWindow) exhausted() bool {
	return w.limit > 0 && w.count >= w.limit
}

// providerQuota holds the three counters for one provider.
type providerQuota struct {
	minute      quotaWindow
	hour        quotaWindow
	day         quotaWindow
	lastLevel   string // "", "warning" or "critical" for the current alert window
	totalCalls  int64
	failedCalls int64
	lastCall    time.Time
}

// QuotaTracker tracks per-provider call quotas at minute, hour and day
// granularity and raises threshold alerts. All methods are safe for
// concurrent use.
type QuotaTracker struct {
	mu          sync.Mutex
	providers   map[string]*providerQuota
	alertWindow AlertWindow
	alerts      []QuotaAlert
	handlers    []func(QuotaAlert)
	now         func() time.Time
}

// NewQuotaTracker creates a tracker from static provider configuration.
func NewQuotaTracker(quotas map[string]config.ProviderLimits) *QuotaTracker {
	t := &QuotaTracker{
		providers:   make(map[string]*providerQuota),
		alertWindow: AlertWindowDay,
		now:         time.Now,
	}

	now := t.now()
	for name, limits := range quotas {
		t.providers[name] = &providerQuota{
			minute: quotaWindow{limit: limits.PerMinute, span: time.Minute, resetAt: now.Add(time.Minute)},
			hour:   quotaWindow{limit: limits.PerHour, span: time.Hour, resetAt: now.Add(time.Hour)},
			day:    quotaWindow{limit: limits.PerDay, span: 24 * time.Hour, resetAt: now.Add(24 * time.Hour)},
		}
	}
	return t
}

// SetAlertWindow selects the window the 80%/95% thresholds are evaluated
// against. Defaults to the daily window.
func (t *QuotaTracker) SetAlertWindow(w AlertWindow) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.alertWindow = w
}

// OnAlert registers a handler invoked (outside the tracker lock) for every
// threshold crossing.
func (t *QuotaTracker) OnAlert(handler func(QuotaAlert)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers = append(t.handlers, handler)
}

// CanMakeRequest reports whether a call to the provider is currently admitted.
// A provider without configuration is treated as unavailable.
func (t *QuotaTracker) CanMakeRequest(provider string) QuotaDecision {
	t.mu.Lock()
	defer t.mu.Unlock()

	pq, exists := t.providers[provider]
	if !exists {
		return QuotaDecision{Allowed: false, Reason: "provider not configured"}
	}

	now := t.now()
	pq.minute.rollIfDue(now)
	pq.hour.rollIfDue(now)
	pq.day.rollIfDue(now)

	var soonest time.Time
	exceeded := ""
	for _, w := range []struct {
		name   string
		window *quotaWindow
	}{
		{"minute", &pq.minute},
		{"hour", &pq.hour},
		{"day", &pq.day},
	} {
		if w.window.exhausted() {
			if soonest.IsZero() || w.window.resetAt.Before(soonest) {
				soonest = w.window.resetAt
			}
			if exceeded == "" {
				exceeded = w.name
			} else {
				exceeded += "," + w.name
			}
		}
	}

	if exceeded != "" {
		wait := soonest.Sub(now)
		if wait < 0 {
			wait = 0
		}
		return QuotaDecision{
			Allowed:  false,
			Reason:   fmt.Sprintf("%s limit reached", exceeded),
			WaitTime: wait,
		}
	}

	return QuotaDecision{Allowed: true}
}

// RecordCall counts one upstream call against all three windows. Success and
// failure both consume quota since the quota tracks calls made, not results.
func (t *QuotaTracker) RecordCall(provider string, success bool) {
	t.mu.Lock()

	pq, exists := t.providers[provider]
	if !exists {
		t.mu.Unlock()
		return
	}

	now := t.now()
	pq.minute.rollIfDue(now)
	pq.hour.rollIfDue(now)
	pq.day.rollIfDue(now)

	pq.minute.count++
	pq.hour.count++
	pq.day.count++
	pq.totalCalls++
	if !success {
		pq.failedCalls++
	}
	pq.lastCall = now

	alert := t.evaluateThresholds(provider, pq, now)
	var handlers []func(QuotaAlert)
	if alert != nil {
		t.alerts = append(t.alerts, *alert)
		if len(t.alerts) > maxRetainedAlerts {
			t.alerts = t.alerts[len(t.alerts)-maxRetainedAlerts:]
		}
		handlers = append(handlers, t.handlers...)
	}
	t.mu.Unlock()

	// Handlers run outside the lock so they may call back into the tracker.
	if alert != nil {
		for _, h := range handlers {
			h(*alert)
		}
	}
}

// evaluateThresholds returns an alert when usage crosses 80% or 95% of the
// alert window limit. Each level fires once until the window resets.
func (t *QuotaTracker) evaluateThresholds(provider string, pq *providerQuota, now time.Time) *QuotaAlert {
	window := &pq.day
	switch t.alertWindow {
	case AlertWindowHour:
		window = &pq.hour
	case AlertWindowMinute:
		window = &pq.minute
	}

	if window.limit <= 0 {
		return nil
	}

	// The window just rolled over; allow thresholds to fire again.
	if window.count == 1 {
		pq.lastLevel = ""
	}

	usage := float64(window.count) / float64(window.limit)
	level := ""
	switch {
	case usage >= CriticalThreshold:
		level = AlertLevelCritical
	case usage >= WarningThreshold:
		level = AlertLevelWarning
	}

	if level == "" || level == pq.lastLevel {
		return nil
	}
	// Never downgrade from critical back to warning within a window.
	if pq.lastLevel == AlertLevelCritical {
		return nil
	}
	pq.lastLevel = level

	remaining := window.limit - window.count
	if remaining < 0 {
		remaining = 0
	}

	action := "Reduce request frequency or rely on cached data"
	if level == AlertLevelCritical {
		action = "Switch to the simulated provider until the quota window resets"
	}

	return &QuotaAlert{
		Provider:          provider,
		Level:             level,
		Message:           fmt.Sprintf("%s quota at %.0f%% (%d/%d calls)", provider, usage*100, window.count, window.limit),
		RemainingCalls:    remaining,
		ResetTime:         window.resetAt,
		RecommendedAction: action,
		RaisedAt:          now,
	}
}

// UsageStats returns a per-provider usage snapshot.
func (t *QuotaTracker) UsageStats() map[string]ProviderUsage {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	stats := make(map[string]ProviderUsage, len(t.providers))
	for name, pq := range t.providers {
		pq.minute.rollIfDue(now)
		pq.hour.rollIfDue(now)
		pq.day.rollIfDue(now)

		dayPct := 0.0
		if pq.day.limit > 0 {
			dayPct = float64(pq.day.count) / float64(pq.day.limit) * 100
		}

		stats[name] = ProviderUsage{
			Provider:     name,
			MinuteCount:  pq.minute.count,
			MinuteLimit:  pq.minute.limit,
			HourCount:    pq.hour.count,
			HourLimit:    pq.hour.limit,
			DayCount:     pq.day.count,
			DayLimit:     pq.day.limit,
			DayUsagePct:  dayPct,
			DayResetTime: pq.day.resetAt,
			TotalCalls:   pq.totalCalls,
			FailedCalls:  pq.failedCalls,
			LastCall:     pq.lastCall,
		}
	}
	return stats
}

// AvailableProviders lists providers whose admission check currently passes.
func (t *QuotaTracker) AvailableProviders() []string {
	t.mu.Lock()
	names := make([]string, 0, len(t.providers))
	for name := range t.providers {
		names = append(names, name)
	}
	t.mu.Unlock()

	var available []string
	for _, name := range names {
		if t.CanMakeRequest(name).Allowed {
			available = append(available, name)
		}
	}
	sort.Strings(available)
	return available
}

// RecentAlerts returns retained alerts raised within the look-back window.
func (t *QuotaTracker) RecentAlerts(lookback time.Duration) []QuotaAlert {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-lookback)
	recent := make([]QuotaAlert, 0, len(t.alerts))
	for _, a := range t.alerts {
		if a.RaisedAt.After(cutoff) {
			recent = append(recent, a)
		}
	}
	return recent
}

// PruneAlerts drops retained alerts older than the look-back window and
// returns the number removed.
func (t *QuotaTracker) PruneAlerts(lookback time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-lookback)
	kept := t.alerts[:0]
	removed := 0
	for _, a := range t.alerts {
		if a.RaisedAt.After(cutoff) {
			kept = append(kept, a)
		} else {
			removed++
		}
	}
	t.alerts = kept
	if removed > 0 {
		log.Printf("Pruned %d quota alerts older than %v", removed, lookback)
	}
	return removed
}
