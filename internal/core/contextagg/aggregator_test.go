package contextagg

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	memcore "github.com/mycelian/mycelian-companion/internal/core/memory"
	"github.com/mycelian/mycelian-companion/internal/model"
	"github.com/mycelian/mycelian-companion/internal/store"
	"github.com/mycelian/mycelian-companion/internal/store/sqlite"
)

// Tuesday, 02:00 UTC.
var night = time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC)

type env struct {
	agg   *Aggregator
	mem   *memcore.Service
	st    store.Store
	clock *clockwork.FakeClock
}

func newEnv(t *testing.T, at time.Time) *env {
	t.Helper()
	ctx := context.Background()
	st, err := sqlite.Bootstrap(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	clock := clockwork.NewFakeClockAt(at)
	mem := memcore.NewService(st, nil, nil, clock, zerolog.Nop(), memcore.Config{})
	_, err = st.Users().Create(ctx, &model.User{ID: "u1", Timezone: "UTC", CreatedAt: at})
	require.NoError(t, err)
	return &env{agg: New(st, mem, clock, zerolog.Nop(), time.UTC), mem: mem, st: st, clock: clock}
}

func ids(items []model.ContextItem) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID)
	}
	return out
}

func TestUpdateCurrentState_SingleRowSecondWins(t *testing.T) {
	e := newEnv(t, night)
	ctx := context.Background()

	first, err := e.agg.UpdateCurrentState(ctx, "u1", model.CurrentStateMeta{Activity: "cooking", Location: "home"}, 0)
	require.NoError(t, err)
	e.clock.Advance(10 * time.Minute)
	second, err := e.agg.UpdateCurrentState(ctx, "u1", model.CurrentStateMeta{Activity: "reading", Mood: "calm"}, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	n, err := e.st.ContextItems().CountCurrentState(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rows, err := e.st.ContextItems().List(ctx, store.ContextItemFilter{
		UserID: "u1", Categories: []model.ContextCategory{model.CategoryCurrentState}, Now: e.clock.Now(),
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, model.CurrentStateMeta{Activity: "reading", Mood: "calm"}, rows[0].Metadata)
	assert.Equal(t, model.RelevanceCritical, rows[0].Relevance)
	assert.Equal(t, 1.0, rows[0].RelevanceScore)
	require.NotNil(t, rows[0].ExpiresAt)
	assert.True(t, rows[0].ExpiresAt.Equal(e.clock.Now().Add(time.Hour)))

	_, err = e.agg.UpdateCurrentState(ctx, "u1", model.CurrentStateMeta{}, 0)
	assert.True(t, memcore.IsValidationError(err))
}

func TestUpdateCurrentState_DefaultTTLExpires(t *testing.T) {
	e := newEnv(t, night)
	ctx := context.Background()
	_, err := e.agg.UpdateCurrentState(ctx, "u1", model.CurrentStateMeta{Activity: "walking"}, 0)
	require.NoError(t, err)

	uc, err := e.agg.Aggregate(ctx, "u1", DefaultOptions())
	require.NoError(t, err)
	assert.Contains(t, uc.Summary.KeyInsights, "Currently: walking")
	assert.Equal(t, 1, uc.Summary.CriticalItems)

	e.clock.Advance(DefaultCurrentStateTTL)
	uc, err = e.agg.Aggregate(ctx, "u1", DefaultOptions())
	require.NoError(t, err)
	for _, it := range uc.Items {
		assert.NotEqual(t, model.CategoryCurrentState, it.Category)
	}
	n, err := e.st.ContextItems().CountCurrentState(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, n, "expired rows are purged during aggregation")
}

func TestAggregate_IdempotentUnderFixedClock(t *testing.T) {
	e := newEnv(t, night.Add(12*time.Hour))
	ctx := context.Background()
	for i, c := range []string{"booked flights", "want to learn guitar", "lunch with Sam"} {
		typ := model.MemoryEpisodic
		if i == 1 {
			typ = model.MemoryDesire
		}
		_, err := e.mem.Create(ctx, memcore.CreateInput{UserID: "u1", Type: typ, Content: c, Importance: model.Importance(i + 2)})
		require.NoError(t, err)
	}
	_, err := e.agg.Put(ctx, &model.ContextItem{
		UserID: "u1", Category: model.CategorySchedule, Content: "dentist 15:00",
		Relevance: model.RelevanceHigh, RelevanceScore: 0.7,
		Metadata: model.ScheduleMeta{EventTitle: "dentist", StartsAt: e.clock.Now().Add(3 * time.Hour)},
	})
	require.NoError(t, err)

	a, err := e.agg.Aggregate(ctx, "u1", DefaultOptions())
	require.NoError(t, err)
	b, err := e.agg.Aggregate(ctx, "u1", DefaultOptions())
	require.NoError(t, err)
	require.Len(t, a.Items, 5)
	assert.Equal(t, a.Items, b.Items)
	assert.Equal(t, a.Summary, b.Summary)

	for i := 1; i < len(a.Items); i++ {
		assert.GreaterOrEqual(t, a.Items[i-1].RelevanceScore, a.Items[i].RelevanceScore)
	}
}

func TestAggregate_EnvironmentAndMemoryItems(t *testing.T) {
	e := newEnv(t, night.Add(7*time.Hour)) // 09:00 Tuesday
	ctx := context.Background()
	desire, err := e.mem.Create(ctx, memcore.CreateInput{UserID: "u1", Type: model.MemoryDesire, Content: "visit Kyoto", Importance: model.ImportanceLow})
	require.NoError(t, err)
	e.clock.Advance(2 * time.Hour)

	uc, err := e.agg.Aggregate(ctx, "u1", Options{IncludeMemories: true})
	require.NoError(t, err)
	require.Len(t, uc.Items, 2)

	envItem := uc.Items[0]
	assert.Equal(t, "environment:u1", envItem.ID)
	assert.Equal(t, EnvironmentScore, envItem.RelevanceScore)
	md, ok := envItem.Metadata.(model.EnvironmentMeta)
	require.True(t, ok)
	assert.Equal(t, "morning", md.TimeOfDay)
	assert.Equal(t, "Tuesday", md.Weekday)
	assert.False(t, md.IsWeekend)

	memItem := uc.Items[1]
	assert.Equal(t, "memory:"+desire.ID, memItem.ID)
	assert.Equal(t, model.CategoryPreferences, memItem.Category)
	assert.Equal(t, model.WindowRecent, memItem.TimeWindow)
	want := (memcore.RecencyScore(2*time.Hour) + 0.2) / 2
	assert.InDelta(t, want, memItem.RelevanceScore, 1e-9)
}

func TestAggregate_FiltersAndTruncates(t *testing.T) {
	e := newEnv(t, night)
	ctx := context.Background()
	past := e.clock.Now().Add(-time.Minute)
	for _, it := range []*model.ContextItem{
		{ID: "low", Content: "low", RelevanceScore: 0.1},
		{ID: "mid", Content: "mid", RelevanceScore: 0.5},
		{ID: "high", Content: "high", RelevanceScore: 0.9},
		{ID: "gone", Content: "expired", RelevanceScore: 0.95, ExpiresAt: &past},
	} {
		it.UserID = "u1"
		it.Timestamp = night
		it.Category = model.CategoryRelationships
		it.Relevance = model.RelevanceMedium
		_, err := e.st.ContextItems().Put(ctx, it)
		require.NoError(t, err)
	}

	uc, err := e.agg.Aggregate(ctx, "u1", Options{MinRelevance: 0.3})
	require.NoError(t, err)
	assert.Equal(t, []string{"high", "environment:u1", "mid"}, ids(uc.Items))

	uc, err = e.agg.Aggregate(ctx, "u1", Options{MaxItems: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"high", "environment:u1"}, ids(uc.Items))

	uc, err = e.agg.Aggregate(ctx, "u1", Options{Categories: []model.ContextCategory{model.CategoryEnvironment}})
	require.NoError(t, err)
	assert.Equal(t, []string{"environment:u1"}, ids(uc.Items))

	_, err = e.agg.Aggregate(ctx, "u1", Options{TimeWindow: "fortnight"})
	assert.True(t, memcore.IsValidationError(err))
}

func TestAggregate_PatternDeviation(t *testing.T) {
	start, end := 23*60, 6*60
	cases := []struct {
		name      string
		activity  string
		deviation bool
	}{
		{"active during inactive window", "coding", true},
		{"asleep during inactive window", "sleeping", false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			e := newEnv(t, night)
			ctx := context.Background()
			observed := night.Add(-3 * 24 * time.Hour)
			require.NoError(t, e.st.Patterns().Upsert(ctx, &model.Pattern{
				ID: "sleep", UserID: "u1", Type: "sleep_schedule", Description: "Usually asleep 23:00-06:00",
				Confidence: 0.9, LastObservedAt: observed, Active: true,
				InactiveStartMinute: &start, InactiveEndMinute: &end,
			}))
			require.NoError(t, e.st.Patterns().Upsert(ctx, &model.Pattern{
				ID: "weak", UserID: "u1", Type: "gym", Confidence: 0.4, LastObservedAt: observed, Active: true,
			}))
			_, err := e.agg.UpdateCurrentState(ctx, "u1", model.CurrentStateMeta{Activity: c.activity}, 0)
			require.NoError(t, err)

			uc, err := e.agg.Aggregate(ctx, "u1", DefaultOptions())
			require.NoError(t, err)

			var found *model.ContextItem
			for i := range uc.Items {
				assert.NotEqual(t, "pattern:weak", uc.Items[i].ID)
				if uc.Items[i].ID == "pattern:sleep" {
					found = &uc.Items[i]
				}
			}
			require.NotNil(t, found)
			assert.InDelta(t, 0.4*math.Exp(-3.0/30)+0.6*0.9, found.RelevanceScore, 1e-9)
			md := found.Metadata.(model.PatternMeta)
			assert.Equal(t, c.deviation, md.DeviationDetected)
			if c.deviation {
				assert.Equal(t, 1, uc.Summary.PatternDeviations)
				assert.Contains(t, uc.Summary.KeyInsights[1], "Unusual activity")
			} else {
				assert.Zero(t, uc.Summary.PatternDeviations)
			}
		})
	}
}

func TestAggregate_RecentMemoryCountsAsActivity(t *testing.T) {
	e := newEnv(t, night)
	ctx := context.Background()
	start, end := 0, 5*60
	require.NoError(t, e.st.Patterns().Upsert(ctx, &model.Pattern{
		ID: "p", UserID: "u1", Type: "sleep_schedule", Confidence: 0.8, LastObservedAt: night, Active: true,
		InactiveStartMinute: &start, InactiveEndMinute: &end,
	}))
	_, err := e.mem.Create(ctx, memcore.CreateInput{UserID: "u1", Type: model.MemoryConversation, Content: "can't sleep"})
	require.NoError(t, err)

	uc, err := e.agg.Aggregate(ctx, "u1", Options{IncludePatterns: true})
	require.NoError(t, err)
	assert.Equal(t, 1, uc.Summary.PatternDeviations)
}

func TestAggregate_GoalsCounted(t *testing.T) {
	e := newEnv(t, night)
	ctx := context.Background()
	soon := night.Add(3 * 24 * time.Hour)
	g, err := e.st.Goals().Create(ctx, &model.Goal{UserID: "u1", Title: "Run a half marathon", TargetDate: &soon, CreatedAt: night})
	require.NoError(t, err)

	uc, err := e.agg.Aggregate(ctx, "u1", DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 1, uc.Summary.ActiveGoals)
	assert.Equal(t, []string{"environment:u1", "goal:" + g.ID}, ids(uc.Items))
	assert.Equal(t, model.RelevanceHigh, uc.Items[1].Relevance)
}

func TestPut_Validation(t *testing.T) {
	e := newEnv(t, night)
	ctx := context.Background()
	cases := []struct {
		name string
		item *model.ContextItem
	}{
		{"nil", nil},
		{"no user", &model.ContextItem{Category: model.CategoryGoals, Content: "x", Relevance: model.RelevanceLow}},
		{"bad category", &model.ContextItem{UserID: "u1", Category: "mood", Content: "x", Relevance: model.RelevanceLow}},
		{"score above one", &model.ContextItem{UserID: "u1", Category: model.CategoryGoals, Content: "x", Relevance: model.RelevanceLow, RelevanceScore: 1.5}},
		{"relevance zero", &model.ContextItem{UserID: "u1", Category: model.CategoryGoals, Content: "x"}},
		{"metadata mismatch", &model.ContextItem{UserID: "u1", Category: model.CategoryGoals, Content: "x", Relevance: model.RelevanceLow, Metadata: model.EnvironmentMeta{}}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := e.agg.Put(ctx, c.item)
			assert.True(t, memcore.IsValidationError(err), "got %v", err)
		})
	}

	// current_state items written through Put still keep a single row.
	for _, act := range []string{"driving", "parking"} {
		_, err := e.agg.Put(ctx, &model.ContextItem{
			UserID: "u1", Category: model.CategoryCurrentState, Content: act,
			Relevance: model.RelevanceCritical, RelevanceScore: 1, Metadata: model.CurrentStateMeta{Activity: act},
		})
		require.NoError(t, err)
	}
	n, err := e.st.ContextItems().CountCurrentState(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestTimeOfDay(t *testing.T) {
	cases := map[int]string{0: "night", 4: "night", 5: "morning", 11: "morning", 12: "afternoon", 16: "afternoon", 17: "evening", 20: "evening", 21: "night", 23: "night"}
	for h, want := range cases {
		assert.Equal(t, want, TimeOfDay(h), "hour %d", h)
	}
}
