package campaign

import (
	"fmt"
	"time"
)

// Window is a half-open time range [From, To). A zero bound is unbounded.
type Window struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	if !w.From.IsZero() && t.Before(w.From) {
		return false
	}

	if !w.To.IsZero() && !t.Before(w.To) {
		return false
	}

	return true
}

// DayBucket truncates t to 00:00 UTC of its day.
func DayBucket(t time.Time) time.Time {
	y, m, d := t.UTC().Date()

	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DayWindow returns the [00:00, next 00:00) UTC window of the given bucket.
func DayWindow(bucket time.Time) Window {
	start := DayBucket(bucket)

	return Window{From: start, To: start.AddDate(0, 0, 1)}
}

// AccessFilter selects access log rows. Empty fields do not filter.
type AccessFilter struct {
	TenantID  string
	TargetID  string
	SessionID string
	Source    AccessSource
	Window    Window
}

// ConversionFilter selects conversion rows. Empty fields do not filter.
type ConversionFilter struct {
	TenantID string
	TargetID string
	Window   Window
}

// StatFilter selects daily stats of one entity. LinkID "" selects the entity-level rows.
type StatFilter struct {
	EntityID string
	LinkID   string
	Window   Window
}

// ParseBound parses a range bound given as RFC 3339 or YYYY-MM-DD. An empty value is nil.
// For an end bound a bare date means the start of the following day, so "2025-01-31" covers
// all of the 31st.
func ParseBound(value string, end bool) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}

	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return &t, nil
	}

	t, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return nil, fmt.Errorf("%w: %q is neither RFC 3339 nor YYYY-MM-DD", ErrValidation, value)
	}

	if end {
		t = t.AddDate(0, 0, 1)
	}

	return &t, nil
}
