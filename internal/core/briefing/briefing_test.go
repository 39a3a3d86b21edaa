package briefing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mycelian/mycelian-companion/internal/dispatch/dispatchtest"
	"github.com/mycelian/mycelian-companion/internal/llm/llmtest"
	"github.com/mycelian/mycelian-companion/internal/model"
	"github.com/mycelian/mycelian-companion/internal/store"
	"github.com/mycelian/mycelian-companion/internal/store/sqlite"
)

func newBriefer(t *testing.T, at time.Time) (*Briefer, store.Store, *dispatchtest.Recorder, *clockwork.FakeClock) {
	t.Helper()
	st, err := sqlite.Bootstrap(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	clock := clockwork.NewFakeClockAt(at)
	disp := &dispatchtest.Recorder{}
	return New(st, disp, clock, zerolog.Nop(), 7, time.UTC), st, disp, clock
}

func TestMaybeRun_OncePerLocalDay(t *testing.T) {
	b, _, disp, clock := newBriefer(t, time.Date(2026, 3, 10, 6, 30, 0, 0, time.UTC))
	ctx := context.Background()
	user := &model.User{ID: "u1", Timezone: "UTC"}
	gen := &llmtest.Stub{Reply: "Morning! Dentist at 3pm."}

	assert.False(t, b.MaybeRun(ctx, gen, user, nil), "too early")
	clock.Advance(time.Hour)
	assert.True(t, b.MaybeRun(ctx, gen, user, nil))
	clock.Advance(4 * time.Hour)
	assert.False(t, b.MaybeRun(ctx, gen, user, nil), "already sent today")

	clock.Advance(24 * time.Hour)
	assert.True(t, b.MaybeRun(ctx, gen, user, nil))

	sent := disp.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, Title, sent[0].Title)
	assert.Equal(t, "Morning! Dentist at 3pm.", sent[0].Body)
	assert.Len(t, gen.Calls(), 2)
}

func TestMaybeRun_SharedMarkerAcrossInstances(t *testing.T) {
	at := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	a, st, disp, clock := newBriefer(t, at)
	other := New(st, disp, clock, zerolog.Nop(), 7, time.UTC)
	user := &model.User{ID: "u1"}

	assert.True(t, a.MaybeRun(context.Background(), nil, user, nil))
	assert.False(t, other.MaybeRun(context.Background(), nil, user, nil))
	assert.Len(t, disp.Sent(), 1)
}

func TestMaybeRun_UsesUserTimezone(t *testing.T) {
	// 08:00 UTC is 03:00 in New York.
	b, _, _, _ := newBriefer(t, time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC))
	assert.False(t, b.MaybeRun(context.Background(), nil, &model.User{ID: "u1", Timezone: "America/New_York"}, nil))
	assert.True(t, b.MaybeRun(context.Background(), nil, &model.User{ID: "u2", Timezone: "Europe/Lisbon"}, nil))
}

func TestMaybeRun_GenerationFailureUsesFallback(t *testing.T) {
	b, _, disp, _ := newBriefer(t, time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC))
	uc := &model.UserContext{Summary: model.ContextSummary{KeyInsights: []string{"Currently: commuting"}, ActiveGoals: 2}}
	require.True(t, b.MaybeRun(context.Background(), &llmtest.Stub{Err: errors.New("down")}, &model.User{ID: "u1"}, uc))
	sent := disp.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "Good morning! Currently: commuting. You have 2 active goal(s).", sent[0].Body)
}

func TestFallback_Empty(t *testing.T) {
	assert.Contains(t, Fallback(nil), "Good morning")
	assert.Contains(t, Fallback(&model.UserContext{}), "Good morning")
}
