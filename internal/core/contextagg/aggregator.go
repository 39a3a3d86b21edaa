// Package contextagg merges memories, detected patterns, environment facts and
// stored context items into one ranked snapshot per user.
package contextagg

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	memcore "github.com/mycelian/mycelian-companion/internal/core/memory"
	"github.com/mycelian/mycelian-companion/internal/model"
	"github.com/mycelian/mycelian-companion/internal/store"
)

const (
	EnvironmentScore       = 0.8
	GoalBaseScore          = 0.6
	MinPatternConfidence   = 0.5
	DefaultMaxItems        = 50
	DefaultCurrentStateTTL = 2 * time.Hour
	MaxKeyInsights         = 5

	patternRecencyDays = 30.0
	// activeLookback is how recent a memory must be to count as current activity.
	activeLookback   = 30 * time.Minute
	maxContentLength = 200
)

// restingActivities do not contradict an expected inactive window.
var restingActivities = map[string]struct{}{
	"": {}, "sleeping": {}, "asleep": {}, "resting": {}, "idle": {}, "offline": {},
}

// MemorySource is the slice of the memory service the aggregator reads.
type MemorySource interface {
	Recent(ctx context.Context, userID string, types []model.MemoryType, since *time.Time, limit int) ([]*model.Memory, error)
}

// Options control one aggregation.
type Options struct {
	TimeWindow      model.TimeWindow
	Categories      []model.ContextCategory
	MinRelevance    float64
	IncludeMemories bool
	IncludePatterns bool
	MaxItems        int
}

// DefaultOptions is what the autonomous cycle uses.
func DefaultOptions() Options {
	return Options{
		TimeWindow:      model.WindowToday,
		IncludeMemories: true,
		IncludePatterns: true,
		MaxItems:        DefaultMaxItems,
	}
}

// Aggregator builds UserContext snapshots.
type Aggregator struct {
	store     store.Store
	memories  MemorySource
	clock     clockwork.Clock
	log       zerolog.Logger
	defaultTZ *time.Location
}

func New(st store.Store, memories MemorySource, clock clockwork.Clock, log zerolog.Logger, defaultTZ *time.Location) *Aggregator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if defaultTZ == nil {
		defaultTZ = time.UTC
	}
	return &Aggregator{
		store:     st,
		memories:  memories,
		clock:     clock,
		log:       log.With().Str("component", "contextagg").Logger(),
		defaultTZ: defaultTZ,
	}
}

// Aggregate returns the ranked, deduplicated context for userID.
func (a *Aggregator) Aggregate(ctx context.Context, userID string, opts Options) (*model.UserContext, error) {
	if userID == "" {
		return nil, memcore.NewValidationError("userID", "user ID is required")
	}
	if opts.TimeWindow == "" {
		opts.TimeWindow = model.WindowToday
	}
	if !opts.TimeWindow.Valid() {
		return nil, memcore.NewValidationError("timeWindow", fmt.Sprintf("unknown time window %q", opts.TimeWindow))
	}
	for _, c := range opts.Categories {
		if !c.Valid() {
			return nil, memcore.NewValidationError("categories", fmt.Sprintf("unknown category %q", c))
		}
	}
	if opts.MaxItems <= 0 {
		opts.MaxItems = DefaultMaxItems
	}
	now := a.clock.Now()
	var since *time.Time
	if span := opts.TimeWindow.Span(); span > 0 {
		s := now.Add(-span)
		since = &s
	}

	if _, err := a.store.ContextItems().PurgeExpired(ctx, userID, now); err != nil {
		return nil, fmt.Errorf("purge expired context: %w", err)
	}

	loc := a.location(ctx, userID)
	items := []*model.ContextItem{environmentItem(userID, now, loc)}

	state, err := a.currentState(ctx, userID, now)
	if err != nil {
		return nil, err
	}

	var recent []*model.Memory
	if opts.IncludeMemories {
		recent, err = a.memories.Recent(ctx, userID, nil, since, opts.MaxItems)
		if err != nil {
			return nil, fmt.Errorf("load memories: %w", err)
		}
		for _, m := range recent {
			items = append(items, memoryItem(m, now))
		}
	}

	if opts.IncludePatterns {
		patterns, err := a.store.Patterns().ListActive(ctx, userID, MinPatternConfidence)
		if err != nil {
			return nil, fmt.Errorf("load patterns: %w", err)
		}
		if len(patterns) > 0 {
			active, err := a.userActive(ctx, userID, state, recent, now)
			if err != nil {
				return nil, err
			}
			minute := minuteOfDay(now.In(loc))
			for _, p := range patterns {
				deviation := active && p.InInactiveWindow(minute)
				items = append(items, patternItem(p, now, deviation))
			}
		}
	}

	goals, err := a.store.Goals().ListActive(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load goals: %w", err)
	}
	for _, g := range goals {
		items = append(items, goalItem(g, now))
	}

	stored, err := a.store.ContextItems().List(ctx, store.ContextItemFilter{
		UserID:     userID,
		Categories: opts.Categories,
		Since:      since,
		Now:        now,
	})
	if err != nil {
		return nil, fmt.Errorf("load context items: %w", err)
	}
	items = append(items, stored...)

	ranked := rankItems(items, opts, now)
	return &model.UserContext{
		UserID:      userID,
		GeneratedAt: now,
		TimeWindow:  opts.TimeWindow,
		Items:       ranked,
		Summary:     summarize(ranked),
	}, nil
}

// UpdateCurrentState overwrites the user's single current_state row.
func (a *Aggregator) UpdateCurrentState(ctx context.Context, userID string, state model.CurrentStateMeta, ttl time.Duration) (*model.ContextItem, error) {
	if userID == "" {
		return nil, memcore.NewValidationError("userID", "user ID is required")
	}
	if strings.TrimSpace(state.Activity) == "" {
		return nil, memcore.NewValidationError("activity", "activity is required")
	}
	if ttl <= 0 {
		ttl = DefaultCurrentStateTTL
	}
	now := a.clock.Now()
	exp := now.Add(ttl)
	item := &model.ContextItem{
		ID:             uuid.New().String(),
		UserID:         userID,
		Category:       model.CategoryCurrentState,
		Content:        describeState(state),
		Relevance:      model.RelevanceCritical,
		RelevanceScore: 1.0,
		TimeWindow:     model.WindowNow,
		Timestamp:      now,
		ExpiresAt:      &exp,
		Metadata:       state,
	}
	out, err := a.store.ContextItems().UpsertCurrentState(ctx, item)
	if err != nil {
		a.log.Error().Err(err).Str("userID", userID).Msg("Failed to update current state")
		return nil, err
	}
	return out, nil
}

// Put validates and stores a context item written by another subsystem.
// current_state items are routed through the single-row upsert.
func (a *Aggregator) Put(ctx context.Context, item *model.ContextItem) (*model.ContextItem, error) {
	if err := a.validateItem(item); err != nil {
		return nil, err
	}
	in := *item
	now := a.clock.Now()
	if in.ID == "" {
		in.ID = uuid.New().String()
	}
	if in.Timestamp.IsZero() {
		in.Timestamp = now
	}
	if in.TimeWindow == "" {
		in.TimeWindow = model.WindowForAge(now.Sub(in.Timestamp))
	}
	if in.Category == model.CategoryCurrentState {
		return a.store.ContextItems().UpsertCurrentState(ctx, &in)
	}
	return a.store.ContextItems().Put(ctx, &in)
}

func (a *Aggregator) validateItem(c *model.ContextItem) error {
	switch {
	case c == nil:
		return memcore.NewValidationError("item", "context item is required")
	case c.UserID == "":
		return memcore.NewValidationError("userID", "user ID is required")
	case !c.Category.Valid():
		return memcore.NewValidationError("category", fmt.Sprintf("unknown category %q", c.Category))
	case strings.TrimSpace(c.Content) == "":
		return memcore.NewValidationError("content", "content is required")
	case c.RelevanceScore < 0 || c.RelevanceScore > 1 || math.IsNaN(c.RelevanceScore):
		return memcore.NewValidationError("relevanceScore", "relevance score must be within [0,1]")
	case c.Relevance < model.RelevanceLow || c.Relevance > model.RelevanceCritical:
		return memcore.NewValidationError("relevance", "relevance must be between low and critical")
	case c.TimeWindow != "" && !c.TimeWindow.Valid():
		return memcore.NewValidationError("timeWindow", fmt.Sprintf("unknown time window %q", c.TimeWindow))
	case c.Metadata != nil && c.Metadata.Category() != c.Category:
		return memcore.NewValidationError("metadata", fmt.Sprintf("metadata for %s attached to %s item", c.Metadata.Category(), c.Category))
	}
	return nil
}

func (a *Aggregator) location(ctx context.Context, userID string) *time.Location {
	u, err := a.store.Users().Get(ctx, userID)
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			a.log.Warn().Err(err).Str("userID", userID).Msg("Failed to load user timezone")
		}
		return a.defaultTZ
	}
	if u.Timezone == "" {
		return a.defaultTZ
	}
	loc, err := time.LoadLocation(u.Timezone)
	if err != nil {
		a.log.Warn().Err(err).Str("userID", userID).Str("timezone", u.Timezone).Msg("Unknown user timezone")
		return a.defaultTZ
	}
	return loc
}

func (a *Aggregator) currentState(ctx context.Context, userID string, now time.Time) (*model.ContextItem, error) {
	rows, err := a.store.ContextItems().List(ctx, store.ContextItemFilter{
		UserID:     userID,
		Categories: []model.ContextCategory{model.CategoryCurrentState},
		Now:        now,
	})
	if err != nil {
		return nil, fmt.Errorf("load current state: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// userActive reports whether the user is visibly doing something now: a
// non-resting current state, or a memory captured within activeLookback.
func (a *Aggregator) userActive(ctx context.Context, userID string, state *model.ContextItem, recent []*model.Memory, now time.Time) (bool, error) {
	if state != nil {
		if cs, ok := state.Metadata.(model.CurrentStateMeta); ok {
			if _, resting := restingActivities[strings.ToLower(strings.TrimSpace(cs.Activity))]; !resting {
				return true, nil
			}
		}
	}
	cutoff := now.Add(-activeLookback)
	if recent == nil {
		var err error
		recent, err = a.memories.Recent(ctx, userID, nil, &cutoff, 1)
		if err != nil {
			return false, fmt.Errorf("load recent activity: %w", err)
		}
	}
	for _, m := range recent {
		if !m.CreatedAt.Before(cutoff) {
			return true, nil
		}
	}
	return false, nil
}

func environmentItem(userID string, now time.Time, loc *time.Location) *model.ContextItem {
	local := now.In(loc)
	weekend := local.Weekday() == time.Saturday || local.Weekday() == time.Sunday
	md := model.EnvironmentMeta{
		TimeOfDay: TimeOfDay(local.Hour()),
		Weekday:   local.Weekday().String(),
		IsWeekend: weekend,
		Timezone:  loc.String(),
		LocalTime: local.Format("15:04"),
	}
	kind := "weekday"
	if weekend {
		kind = "weekend"
	}
	return &model.ContextItem{
		ID:             "environment:" + userID,
		UserID:         userID,
		Category:       model.CategoryEnvironment,
		Content:        fmt.Sprintf("%s %s (%s) at %s %s", md.Weekday, md.TimeOfDay, kind, md.LocalTime, md.Timezone),
		Relevance:      model.RelevanceMedium,
		RelevanceScore: EnvironmentScore,
		TimeWindow:     model.WindowNow,
		Timestamp:      now,
		Metadata:       md,
	}
}

// TimeOfDay buckets a local hour.
func TimeOfDay(hour int) string {
	switch {
	case hour < 5:
		return "night"
	case hour < 12:
		return "morning"
	case hour < 17:
		return "afternoon"
	case hour < 21:
		return "evening"
	}
	return "night"
}

func memoryItem(m *model.Memory, now time.Time) *model.ContextItem {
	age := now.Sub(m.CreatedAt)
	score := (memcore.RecencyScore(age) + m.Importance.Normalized()) / 2
	content := m.Content
	if m.Summary != nil && *m.Summary != "" {
		content = *m.Summary
	}
	content = truncate(content, maxContentLength)

	item := &model.ContextItem{
		ID:             "memory:" + m.ID,
		UserID:         m.UserID,
		Content:        content,
		Relevance:      relevanceForImportance(m.Importance),
		RelevanceScore: score,
		TimeWindow:     model.WindowForAge(age),
		Timestamp:      m.CreatedAt,
		ExpiresAt:      m.ExpiresAt,
	}
	switch m.Type {
	case model.MemoryDesire, model.MemoryInterest, model.MemoryPreference:
		item.Category = model.CategoryPreferences
		item.Metadata = model.PreferenceMeta{Key: string(m.Type), Value: content, MemoryID: m.ID}
	default:
		item.Category = model.CategoryRecentActivity
		item.Metadata = model.RecentActivityMeta{MemoryID: m.ID, MemoryType: m.Type, Source: "memory"}
	}
	return item
}

func patternItem(p *model.Pattern, now time.Time, deviation bool) *model.ContextItem {
	days := now.Sub(p.LastObservedAt).Hours() / 24
	if days < 0 {
		days = 0
	}
	score := 0.4*math.Exp(-days/patternRecencyDays) + 0.6*p.Confidence
	rel := model.RelevanceMedium
	content := p.Description
	if content == "" {
		content = p.Type
	}
	if deviation {
		rel = model.RelevanceHigh
		content += " (deviation: active during usual inactive hours)"
	}
	return &model.ContextItem{
		ID:             "pattern:" + p.ID,
		UserID:         p.UserID,
		Category:       model.CategoryPatterns,
		Content:        content,
		Relevance:      rel,
		RelevanceScore: math.Min(1, score),
		TimeWindow:     model.WindowThisWeek,
		Timestamp:      p.LastObservedAt,
		Metadata: model.PatternMeta{
			PatternID:         p.ID,
			PatternType:       p.Type,
			Confidence:        p.Confidence,
			LastObservedAt:    p.LastObservedAt,
			DeviationDetected: deviation,
		},
	}
}

// goalItem scores a goal higher as its target date approaches.
func goalItem(g *model.Goal, now time.Time) *model.ContextItem {
	score := GoalBaseScore
	rel := model.RelevanceMedium
	if g.TargetDate != nil {
		left := g.TargetDate.Sub(now)
		switch {
		case left <= 0:
			score, rel = 0.9, model.RelevanceHigh
		case left <= 7*24*time.Hour:
			score, rel = 0.75, model.RelevanceHigh
		}
	}
	return &model.ContextItem{
		ID:             "goal:" + g.ID,
		UserID:         g.UserID,
		Category:       model.CategoryGoals,
		Content:        truncate(g.Title, maxContentLength),
		Relevance:      rel,
		RelevanceScore: score,
		TimeWindow:     model.WindowThisMonth,
		Timestamp:      g.CreatedAt,
		Metadata: model.GoalMeta{
			GoalID:     g.ID,
			Title:      g.Title,
			Progress:   g.Progress,
			TargetDate: g.TargetDate,
		},
	}
}

// rankItems dedupes by id (first wins), filters and orders items. The order is
// total so that repeated aggregation over unchanged data is identical.
func rankItems(items []*model.ContextItem, opts Options, now time.Time) []model.ContextItem {
	var cats map[model.ContextCategory]struct{}
	if len(opts.Categories) > 0 {
		cats = make(map[model.ContextCategory]struct{}, len(opts.Categories))
		for _, c := range opts.Categories {
			cats[c] = struct{}{}
		}
	}
	seen := make(map[string]struct{}, len(items))
	out := make([]model.ContextItem, 0, len(items))
	for _, it := range items {
		if _, dup := seen[it.ID]; dup {
			continue
		}
		seen[it.ID] = struct{}{}
		if cats != nil {
			if _, ok := cats[it.Category]; !ok {
				continue
			}
		}
		if it.Expired(now) || it.RelevanceScore < opts.MinRelevance {
			continue
		}
		out = append(out, *it)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].RelevanceScore != out[j].RelevanceScore {
			return out[i].RelevanceScore > out[j].RelevanceScore
		}
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > opts.MaxItems {
		out = out[:opts.MaxItems]
	}
	return out
}

func summarize(items []model.ContextItem) model.ContextSummary {
	s := model.ContextSummary{KeyInsights: []string{}}
	var stateInsights, deviationInsights, envInsights []string
	for _, it := range items {
		if it.Relevance == model.RelevanceCritical {
			s.CriticalItems++
		}
		switch md := it.Metadata.(type) {
		case model.GoalMeta:
			if md.Progress < 1 {
				s.ActiveGoals++
			}
		case model.PatternMeta:
			if md.DeviationDetected {
				s.PatternDeviations++
				deviationInsights = append(deviationInsights, "Unusual activity: "+it.Content)
			}
		case model.CurrentStateMeta:
			stateInsights = append(stateInsights, "Currently: "+it.Content)
		case model.EnvironmentMeta:
			envInsights = append(envInsights, fmt.Sprintf("It is %s %s for the user", md.Weekday, md.TimeOfDay))
		}
	}
	for _, group := range [][]string{stateInsights, deviationInsights, envInsights} {
		for _, k := range group {
			if len(s.KeyInsights) == MaxKeyInsights {
				return s
			}
			s.KeyInsights = append(s.KeyInsights, k)
		}
	}
	return s
}

func describeState(s model.CurrentStateMeta) string {
	parts := []string{s.Activity}
	if s.Location != "" {
		parts = append(parts, "at "+s.Location)
	}
	if s.Mood != "" {
		parts = append(parts, "feeling "+s.Mood)
	}
	if s.Energy != "" {
		parts = append(parts, s.Energy+" energy")
	}
	out := strings.Join(parts, ", ")
	if s.Note != "" {
		out += " (" + s.Note + ")"
	}
	return out
}

func relevanceForImportance(i model.Importance) model.Relevance {
	switch {
	case i >= model.ImportanceCritical:
		return model.RelevanceCritical
	case i >= model.ImportanceHigh:
		return model.RelevanceHigh
	case i >= model.ImportanceMedium:
		return model.RelevanceMedium
	}
	return model.RelevanceLow
}

func minuteOfDay(t time.Time) int { return t.Hour()*60 + t.Minute() }

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
