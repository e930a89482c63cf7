package model

import "time"

// UsageWindow is a fixed-window request counter for one license.
// A burst of MaxRequests right after a reset may follow a burst just before it.
type UsageWindow struct {
	LicenseID        string    `json:"license_id"`
	WindowStart      time.Time `json:"window_start"`
	RequestCount     int       `json:"request_count"`
	WindowDurationMs int64     `json:"window_duration_ms"`
	MaxRequests      int       `json:"max_requests"`
	LastRequestAt    time.Time `json:"last_request_at"`
}

// NewUsageWindow opens an empty window at now sized by cfg.
func NewUsageWindow(licenseID string, cfg TierConfig, now time.Time) *UsageWindow {
	return &UsageWindow{
		LicenseID:        licenseID,
		WindowStart:      now,
		WindowDurationMs: cfg.RateWindowMs(),
		MaxRequests:      cfg.RateWindowMaxRequests,
	}
}

func (w *UsageWindow) windowEnd() time.Time {
	return w.WindowStart.Add(time.Duration(w.WindowDurationMs) * time.Millisecond)
}

func (w *UsageWindow) IsWindowExpired(now time.Time) bool {
	return now.After(w.windowEnd())
}

func (w *UsageWindow) CanMakeRequest(now time.Time) bool {
	if w.IsWindowExpired(now) {
		return true
	}
	return w.RequestCount < w.MaxRequests
}

func (w *UsageWindow) RecordRequest(now time.Time) {
	if w.IsWindowExpired(now) {
		w.WindowStart = now
		w.RequestCount = 1
	} else {
		w.RequestCount++
	}
	w.LastRequestAt = now
}

func (w *UsageWindow) RemainingRequests(now time.Time) int {
	if w.IsWindowExpired(now) {
		return w.MaxRequests
	}
	if r := w.MaxRequests - w.RequestCount; r > 0 {
		return r
	}
	return 0
}

func (w *UsageWindow) TimeUntilResetMs(now time.Time) int64 {
	if w.IsWindowExpired(now) {
		return 0
	}
	return w.windowEnd().Sub(now).Milliseconds()
}

// ApplyLimits resizes the window after a tier change. It reports whether anything changed.
func (w *UsageWindow) ApplyLimits(cfg TierConfig) bool {
	if w.WindowDurationMs == cfg.RateWindowMs() && w.MaxRequests == cfg.RateWindowMaxRequests {
		return false
	}
	w.WindowDurationMs = cfg.RateWindowMs()
	w.MaxRequests = cfg.RateWindowMaxRequests
	return true
}
