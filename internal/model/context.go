package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// ContextCategory groups context items.
type ContextCategory string

const (
	CategoryCurrentState   ContextCategory = "current_state"
	CategoryRecentActivity ContextCategory = "recent_activity"
	CategoryPatterns       ContextCategory = "patterns"
	CategoryGoals          ContextCategory = "goals"
	CategorySchedule       ContextCategory = "schedule"
	CategoryEnvironment    ContextCategory = "environment"
	CategoryPreferences    ContextCategory = "preferences"
	CategoryRelationships  ContextCategory = "relationships"
)

// ContextCategories lists every category in declaration order.
var ContextCategories = []ContextCategory{
	CategoryCurrentState, CategoryRecentActivity, CategoryPatterns, CategoryGoals,
	CategorySchedule, CategoryEnvironment, CategoryPreferences, CategoryRelationships,
}

// Valid reports whether c is a known category.
func (c ContextCategory) Valid() bool {
	for _, k := range ContextCategories {
		if k == c {
			return true
		}
	}
	return false
}

// Relevance is the coarse ordinal attached to a context item.
type Relevance int

const (
	RelevanceLow      Relevance = 1
	RelevanceMedium   Relevance = 2
	RelevanceHigh     Relevance = 3
	RelevanceCritical Relevance = 4
)

func (r Relevance) String() string {
	switch r {
	case RelevanceLow:
		return "low"
	case RelevanceMedium:
		return "medium"
	case RelevanceHigh:
		return "high"
	case RelevanceCritical:
		return "critical"
	}
	return fmt.Sprintf("relevance(%d)", int(r))
}

// TimeWindow is the horizon a context item is meaningful for.
type TimeWindow string

const (
	WindowNow        TimeWindow = "now"
	WindowRecent     TimeWindow = "recent"
	WindowToday      TimeWindow = "today"
	WindowThisWeek   TimeWindow = "this_week"
	WindowThisMonth  TimeWindow = "this_month"
	WindowLongerTerm TimeWindow = "longer_term"
)

var windowSpans = map[TimeWindow]time.Duration{
	WindowNow:       time.Hour,
	WindowRecent:    6 * time.Hour,
	WindowToday:     24 * time.Hour,
	WindowThisWeek:  7 * 24 * time.Hour,
	WindowThisMonth: 30 * 24 * time.Hour,
}

// Valid reports whether w is a known window.
func (w TimeWindow) Valid() bool {
	if w == WindowLongerTerm {
		return true
	}
	_, ok := windowSpans[w]
	return ok
}

// Span returns the look-back duration for w; zero means unbounded.
func (w TimeWindow) Span() time.Duration { return windowSpans[w] }

// WindowForAge picks the narrowest window that still contains age.
func WindowForAge(age time.Duration) TimeWindow {
	for _, w := range []TimeWindow{WindowNow, WindowRecent, WindowToday, WindowThisWeek, WindowThisMonth} {
		if age <= windowSpans[w] {
			return w
		}
	}
	return WindowLongerTerm
}

// ContextItem is a scored, time-windowed fact snapshot for a user.
type ContextItem struct {
	ID             string          `json:"id"`
	UserID         string          `json:"userId"`
	Category       ContextCategory `json:"category"`
	Content        string          `json:"content"`
	Relevance      Relevance       `json:"relevance"`
	RelevanceScore float64         `json:"relevanceScore"`
	TimeWindow     TimeWindow      `json:"timeWindow"`
	Timestamp      time.Time       `json:"timestamp"`
	ExpiresAt      *time.Time      `json:"expiresAt,omitempty"`
	Metadata       ContextMetadata `json:"-"`
}

// Expired reports whether the item is no longer live at now.
func (c *ContextItem) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !c.ExpiresAt.After(now)
}

type contextItemJSON struct {
	ID             string          `json:"id"`
	UserID         string          `json:"userId"`
	Category       ContextCategory `json:"category"`
	Content        string          `json:"content"`
	Relevance      Relevance       `json:"relevance"`
	RelevanceScore float64         `json:"relevanceScore"`
	TimeWindow     TimeWindow      `json:"timeWindow"`
	Timestamp      time.Time       `json:"timestamp"`
	ExpiresAt      *time.Time      `json:"expiresAt,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
}

func (c ContextItem) MarshalJSON() ([]byte, error) {
	out := contextItemJSON{
		ID: c.ID, UserID: c.UserID, Category: c.Category, Content: c.Content,
		Relevance: c.Relevance, RelevanceScore: c.RelevanceScore, TimeWindow: c.TimeWindow,
		Timestamp: c.Timestamp, ExpiresAt: c.ExpiresAt,
	}
	if c.Metadata != nil {
		raw, err := EncodeMetadata(c.Metadata)
		if err != nil {
			return nil, err
		}
		out.Metadata = raw
	}
	return json.Marshal(out)
}

func (c *ContextItem) UnmarshalJSON(b []byte) error {
	var in contextItemJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	*c = ContextItem{
		ID: in.ID, UserID: in.UserID, Category: in.Category, Content: in.Content,
		Relevance: in.Relevance, RelevanceScore: in.RelevanceScore, TimeWindow: in.TimeWindow,
		Timestamp: in.Timestamp, ExpiresAt: in.ExpiresAt,
	}
	if len(in.Metadata) > 0 && string(in.Metadata) != "null" {
		md, err := DecodeMetadata(in.Metadata)
		if err != nil {
			return err
		}
		c.Metadata = md
	}
	return nil
}

// ContextSummary is derived from an aggregated item list.
type ContextSummary struct {
	CriticalItems     int      `json:"criticalItems"`
	ActiveGoals       int      `json:"activeGoals"`
	PatternDeviations int      `json:"patternDeviations"`
	KeyInsights       []string `json:"keyInsights"`
}

// UserContext is the ranked, deduplicated snapshot produced by aggregation.
type UserContext struct {
	UserID      string         `json:"userId"`
	GeneratedAt time.Time      `json:"generatedAt"`
	TimeWindow  TimeWindow     `json:"timeWindow"`
	Items       []ContextItem  `json:"items"`
	Summary     ContextSummary `json:"summary"`
}
