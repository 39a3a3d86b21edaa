package feedback

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mycelian/mycelian-companion/internal/model"
	"github.com/mycelian/mycelian-companion/internal/store"
	"github.com/mycelian/mycelian-companion/internal/store/sqlite"
)

func setup(t *testing.T) (*Learner, store.Store, *clockwork.FakeClock) {
	t.Helper()
	st, err := sqlite.Bootstrap(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	return New(st, clock, zerolog.Nop()), st, clock
}

func insight(t *testing.T, st store.Store, userID string, typ model.InsightType, title string) *model.Insight {
	t.Helper()
	in, err := st.Insights().Create(context.Background(), &model.Insight{
		UserID: userID, Type: typ, Priority: model.PriorityMedium, Title: title, Description: "d", CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	return in
}

func TestSummarize_EmptyHistory(t *testing.T) {
	l, _, _ := setup(t)
	s := l.Summarize(context.Background(), "nobody")
	assert.NotNil(t, s.DismissedTypes)
	assert.NotNil(t, s.DismissedTopics)
	assert.Empty(t, s.DismissedTypes)
	assert.Empty(t, s.DismissedTopics)
	assert.Zero(t, s.TotalDismissals)
	assert.True(t, s.Empty())
}

func TestRecordDismissal_AppendsAndMarks(t *testing.T) {
	l, st, _ := setup(t)
	ctx := context.Background()
	in := insight(t, st, "u1", model.InsightGoalNudge, "Work on your novel")
	reason := "not now"

	require.True(t, l.RecordDismissal(ctx, "u1", in.ID, &reason))

	got, err := st.Insights().Get(ctx, "u1", in.ID)
	require.NoError(t, err)
	assert.True(t, got.Dismissed)

	recs, err := st.Feedback().Recent(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, model.InsightGoalNudge, recs[0].InsightType)
	assert.Equal(t, "Work on your novel", recs[0].InsightTitle)
	assert.Equal(t, model.FeedbackDismissed, recs[0].FeedbackType)
	require.NotNil(t, recs[0].Reason)
	assert.Equal(t, "not now", *recs[0].Reason)
	assert.Len(t, recs[0].ID, 26)
}

func TestRecordDismissal_MissingInsightNeverFails(t *testing.T) {
	l, st, _ := setup(t)
	ctx := context.Background()
	assert.False(t, l.RecordDismissal(ctx, "u1", "missing", nil))

	other := insight(t, st, "u2", model.InsightRecommendation, "Try yoga")
	assert.False(t, l.RecordDismissal(ctx, "u1", other.ID, nil), "insights of other users are not visible")

	s := l.Summarize(ctx, "u1")
	assert.Zero(t, s.TotalDismissals)
}

func TestSummarize_TypesNeedTwoDismissals(t *testing.T) {
	l, st, clock := setup(t)
	ctx := context.Background()
	dismiss := func(typ model.InsightType, title string) {
		in := insight(t, st, "u1", typ, title)
		clock.Advance(time.Minute)
		require.True(t, l.RecordDismissal(ctx, "u1", in.ID, nil))
	}
	dismiss(model.InsightGoalNudge, "Finish chapter 3")
	dismiss(model.InsightHealthInsight, "Drink water")
	dismiss(model.InsightGoalNudge, "Outline chapter 4")
	dismiss(model.InsightRecommendation, "Try a podcast")
	dismiss(model.InsightRecommendation, "Try an audiobook")
	dismiss(model.InsightGoalNudge, "Edit chapter 1")

	s := l.Summarize(ctx, "u1")
	assert.Equal(t, []string{"goal_nudge", "recommendation"}, s.DismissedTypes)
	assert.Equal(t, 6, s.TotalDismissals)
	assert.Equal(t, "Edit chapter 1", s.DismissedTopics[0], "topics are newest first")
	assert.Len(t, s.DismissedTopics, 6)
}

func TestSummarize_TopicsCappedAtTwenty(t *testing.T) {
	l, st, clock := setup(t)
	ctx := context.Background()
	for i := 0; i < RecentTopics+5; i++ {
		in := insight(t, st, "u1", model.InsightTaskSuggestion, fmt.Sprintf("task %02d", i))
		clock.Advance(time.Second)
		require.True(t, l.RecordDismissal(ctx, "u1", in.ID, nil))
	}
	s := l.Summarize(ctx, "u1")
	assert.Len(t, s.DismissedTopics, RecentTopics)
	assert.Equal(t, "task 24", s.DismissedTopics[0])
	assert.Equal(t, RecentTopics+5, s.TotalDismissals)
	assert.Equal(t, []string{"task_suggestion"}, s.DismissedTypes)
}
