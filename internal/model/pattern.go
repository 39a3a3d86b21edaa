package model

import "time"

// Pattern is a detected behavioral regularity. It is owned by an external
// detector and only read here.
type Pattern struct {
	ID             string    `json:"id"`
	UserID         string    `json:"userId"`
	Type           string    `json:"type"`
	Description    string    `json:"description"`
	Confidence     float64   `json:"confidence"`
	LastObservedAt time.Time `json:"lastObservedAt"`
	Active         bool      `json:"active"`
	// Expected inactive window in minutes after local midnight. The window may
	// wrap midnight (start > end).
	InactiveStartMinute *int `json:"inactiveStartMinute,omitempty"`
	InactiveEndMinute   *int `json:"inactiveEndMinute,omitempty"`
}

// InInactiveWindow reports whether the local minute-of-day falls inside the
// pattern's expected inactive window.
func (p *Pattern) InInactiveWindow(minuteOfDay int) bool {
	if p.InactiveStartMinute == nil || p.InactiveEndMinute == nil {
		return false
	}
	start, end := *p.InactiveStartMinute, *p.InactiveEndMinute
	if start == end {
		return false
	}
	if start < end {
		return minuteOfDay >= start && minuteOfDay < end
	}
	return minuteOfDay >= start || minuteOfDay < end
}
