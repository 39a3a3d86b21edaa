package memory

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mycelian/mycelian-companion/internal/cache"
	"github.com/mycelian/mycelian-companion/internal/crypto"
	"github.com/mycelian/mycelian-companion/internal/model"
	"github.com/mycelian/mycelian-companion/internal/store"
	"github.com/mycelian/mycelian-companion/internal/store/sqlite"
)

var t0 = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

const day = 24 * time.Hour

type fixture struct {
	svc   *Service
	st    store.Store
	clock *clockwork.FakeClock
	cache *spyCache
}

// spyCache records invalidations and can be told to fail them.
type spyCache struct {
	cache.Cache
	invalidated []string
	failInval   bool
}

func (c *spyCache) InvalidateScope(ctx context.Context, scope string) error {
	c.invalidated = append(c.invalidated, scope)
	if c.failInval {
		return errors.New("cache down")
	}
	return c.Cache.InvalidateScope(ctx, scope)
}

func newFixture(t *testing.T, enc crypto.Encryptor) *fixture {
	t.Helper()
	st, err := sqlite.Bootstrap(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	clock := clockwork.NewFakeClockAt(t0)
	spy := &spyCache{Cache: cache.NewMemory(time.Minute)}
	svc := NewService(st, spy, enc, clock, zerolog.Nop(), Config{})
	return &fixture{svc: svc, st: st, clock: clock, cache: spy}
}

func (f *fixture) create(t *testing.T, userID, content string, imp model.Importance) *model.Memory {
	t.Helper()
	m, err := f.svc.Create(context.Background(), CreateInput{
		UserID: userID, Type: model.MemoryEpisodic, Content: content, Importance: imp,
	})
	require.NoError(t, err)
	return m
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t, nil)
	long := strings.Repeat("a", MaxContentChars+1)
	longSummary := strings.Repeat("s", MaxSummaryChars+1)
	tags := make([]string, MaxTags+1)
	for i := range tags {
		tags[i] = "t" + strings.Repeat("x", i)
	}

	cases := []struct {
		name string
		in   CreateInput
	}{
		{"missing user", CreateInput{Type: model.MemoryEpisodic, Content: "x"}},
		{"empty content", CreateInput{UserID: "u", Type: model.MemoryEpisodic, Content: ""}},
		{"blank content", CreateInput{UserID: "u", Type: model.MemoryEpisodic, Content: "   \n"}},
		{"content too long", CreateInput{UserID: "u", Type: model.MemoryEpisodic, Content: long}},
		{"summary too long", CreateInput{UserID: "u", Type: model.MemoryEpisodic, Content: "x", Summary: &longSummary}},
		{"too many tags", CreateInput{UserID: "u", Type: model.MemoryEpisodic, Content: "x", Tags: tags}},
		{"unknown type", CreateInput{UserID: "u", Type: "dream", Content: "x"}},
		{"importance out of range", CreateInput{UserID: "u", Type: model.MemoryEpisodic, Content: "x", Importance: 6}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := f.svc.Create(context.Background(), c.in)
			require.Error(t, err)
			assert.True(t, IsValidationError(err))
			assert.ErrorIs(t, err, model.ErrValidation)
		})
	}

	// Limits are inclusive.
	okSummary := strings.Repeat("s", MaxSummaryChars)
	m, err := f.svc.Create(context.Background(), CreateInput{
		UserID: "u", Type: model.MemoryEpisodic, Content: strings.Repeat("a", MaxContentChars),
		Summary: &okSummary, Tags: tags[:MaxTags],
	})
	require.NoError(t, err)
	assert.Equal(t, model.ImportanceMedium, m.Importance)
	assert.Len(t, m.Tags, MaxTags)
}

func TestCreateGet_EncryptsAtRestAndTracksAccess(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	enc, err := crypto.NewAESGCM(key)
	require.NoError(t, err)
	f := newFixture(t, enc)
	ctx := context.Background()

	m := f.create(t, "u1", "met Ana for coffee", model.ImportanceHigh)
	assert.Equal(t, "met Ana for coffee", m.Content)

	raw, err := f.st.Memories().Get(ctx, "u1", m.ID)
	require.NoError(t, err)
	assert.NotContains(t, raw.Content, "coffee")

	// the second and third reads are served from cache and still report the stored counts
	for i := 1; i <= 3; i++ {
		f.clock.Advance(time.Minute)
		got, err := f.svc.Get(ctx, m.ID, "u1")
		require.NoError(t, err)
		assert.Equal(t, "met Ana for coffee", got.Content)
		assert.Equal(t, int64(i), got.AccessCount)
		require.NotNil(t, got.LastAccessedAt)
		assert.True(t, got.LastAccessedAt.Equal(f.clock.Now()))
	}
	raw, err = f.st.Memories().Get(ctx, "u1", m.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), raw.AccessCount)
	assert.True(t, raw.LastAccessedAt.Equal(f.clock.Now()))
}

func TestGet_NotFound(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	m := f.create(t, "u1", "private", model.ImportanceNormal)

	_, err := f.svc.Get(ctx, m.ID, "u2")
	assert.True(t, IsNotFoundError(err))
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = f.svc.Get(ctx, "missing", "u1")
	assert.True(t, IsNotFoundError(err))

	require.NoError(t, f.svc.Delete(ctx, m.ID, "u1"))
	_, err = f.svc.Get(ctx, m.ID, "u1")
	assert.True(t, IsNotFoundError(err))

	res, err := f.svc.Search(ctx, SearchQuery{UserID: "u1", Statuses: []model.MemoryStatus{model.MemoryActive, model.MemoryArchived, model.MemoryDeleted}})
	require.NoError(t, err)
	assert.Empty(t, res.Memories)
	assert.Zero(t, res.Total)
}

func TestScore_ExactCoefficients(t *testing.T) {
	now := t0.Add(1000 * day)
	full := &model.Memory{Content: "coffee with ana", Importance: model.ImportanceCritical, CreatedAt: now, AccessCount: 10}
	assert.InDelta(t, 1.0, Score(full, []string{"coffee"}, now), 1e-9)

	m := &model.Memory{Content: "coffee", Importance: model.ImportanceLow, CreatedAt: now.Add(-365 * day)}
	want := 0.25*0.2 + 0.25*math.Exp(-1) + 0.15*0 + 0.35*0.5
	assert.InDelta(t, want, Score(m, []string{"coffee", "tea"}, now), 1e-9)

	// No keywords contributes the full keyword weight.
	want = 0.25*0.2 + 0.25*math.Exp(-1) + 0.35
	assert.InDelta(t, want, Score(m, nil, now), 1e-9)

	// Access frequency saturates at ten.
	m.AccessCount = 5
	assert.InDelta(t, 0.15*0.5, Score(m, nil, now)-want, 1e-9)
	m.AccessCount = 500
	assert.InDelta(t, 0.15, Score(m, nil, now)-want, 1e-9)
}

func TestScore_RecencyMonotoneAndBounded(t *testing.T) {
	now := t0.Add(5000 * day)
	for _, imp := range []model.Importance{model.ImportanceLow, model.ImportanceCritical} {
		for _, access := range []int64{0, 3, 1000} {
			prev := math.Inf(1)
			for d := 0; d <= 3650; d += 7 {
				m := &model.Memory{Content: "walk", Importance: imp, AccessCount: access, CreatedAt: now.Add(-time.Duration(d) * day)}
				s := Score(m, []string{"walk"}, now)
				require.GreaterOrEqual(t, s, 0.0)
				require.LessOrEqual(t, s, 1.0)
				require.Less(t, s, prev, "score must decrease with age (day %d)", d)
				prev = s
			}
		}
	}
	assert.Equal(t, 1.0, RecencyScore(-time.Hour))
}

func TestGetRelevantMemories_DocumentedOrdering(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	// old but critical: 0.25 + 0.25*e^-2            ~= 0.284
	old := f.create(t, "u1", "renewed passport", model.ImportanceCritical)
	f.clock.Advance(365 * day)
	// year old, medium, frequently read: 0.15 + 0.25*e^-1 + 0.15 ~= 0.392
	read := f.create(t, "u1", "gym membership", model.ImportanceMedium)
	f.clock.Advance(365 * day)
	// fresh, low importance, keyword hit: 0.05 + 0.25 + 0.35 = 0.65
	fresh := f.create(t, "u1", "try the new coffee place", model.ImportanceLow)
	for i := 0; i < 10; i++ {
		_, err := f.svc.Get(ctx, read.ID, "u1")
		require.NoError(t, err)
	}

	got, err := f.svc.GetRelevantMemories(ctx, RelevanceQuery{UserID: "u1", Keywords: []string{" Coffee "}})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{fresh.ID, read.ID, old.ID}, []string{got[0].Memory.ID, got[1].Memory.ID, got[2].Memory.ID})
	assert.InDelta(t, 0.05+0.25+0.35, got[0].Score, 1e-6)
	assert.InDelta(t, 0.15+0.25*math.Exp(-1)+0.15, got[1].Score, 1e-6)
	assert.InDelta(t, 0.25+0.25*math.Exp(-2), got[2].Score, 1e-6)

	limited, err := f.svc.GetRelevantMemories(ctx, RelevanceQuery{UserID: "u1", Keywords: []string{"coffee"}, Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, fresh.ID, limited[0].Memory.ID)
}

func TestGetRelevantMemories_ScoresCurrentAccessCount(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	m := f.create(t, "u1", "evening run", model.ImportanceMedium)
	q := RelevanceQuery{UserID: "u1"}

	first, err := f.svc.GetRelevantMemories(ctx, q)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, int64(1), first[0].Memory.AccessCount)

	second, err := f.svc.GetRelevantMemories(ctx, q)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, m.ID, second[0].Memory.ID)
	assert.Equal(t, int64(2), second[0].Memory.AccessCount)
	assert.InDelta(t, first[0].Score+0.15*0.1, second[0].Score, 1e-9)
}

func TestGetRelevantMemories_TiesBreakByRecency(t *testing.T) {
	now := t0
	a := &model.Memory{ID: "a", Content: "x", Importance: model.ImportanceLow, CreatedAt: now}
	b := &model.Memory{ID: "b", Content: "x", Importance: model.ImportanceLow, CreatedAt: now}
	older := &model.Memory{ID: "c", Content: "x", Importance: model.ImportanceLow, CreatedAt: now.Add(-time.Nanosecond)}
	ranked := rank([]*model.Memory{older, b, a}, nil, now.Add(time.Hour))
	assert.Equal(t, "a", ranked[0].Memory.ID)
	assert.Equal(t, "b", ranked[1].Memory.ID)
	assert.Equal(t, "c", ranked[2].Memory.ID)
}

func TestSearch_CacheInvalidatedPerUserOnWrites(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.create(t, "u1", "first", model.ImportanceNormal)
	f.create(t, "u2", "other user", model.ImportanceNormal)

	res, err := f.svc.Search(ctx, SearchQuery{UserID: "u1"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Total)
	stats, err := f.svc.Stats(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Total)

	f.cache.invalidated = nil
	second := f.create(t, "u1", "second", model.ImportanceNormal)
	assert.Equal(t, []string{"memory:u1"}, f.cache.invalidated)

	res, err = f.svc.Search(ctx, SearchQuery{UserID: "u1"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, res.Total)
	stats, err = f.svc.Stats(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.Total)

	_, err = f.svc.Update(ctx, second.ID, "u1", UpdateInput{Content: strPtr("second, edited")})
	require.NoError(t, err)
	got, err := f.svc.Get(ctx, second.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, "second, edited", got.Content)

	require.NoError(t, f.svc.Delete(ctx, second.ID, "u1"))
	res, err = f.svc.Search(ctx, SearchQuery{UserID: "u1"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Total)
}

func TestCreate_InvalidationFailureDoesNotFailWrite(t *testing.T) {
	f := newFixture(t, nil)
	f.cache.failInval = true
	m, err := f.svc.Create(context.Background(), CreateInput{UserID: "u1", Type: model.MemoryDesire, Content: "learn piano"})
	require.NoError(t, err)
	assert.NotEmpty(t, m.ID)
	assert.Equal(t, []string{"memory:u1"}, f.cache.invalidated)
}

func TestSearch_FiltersTextAndPaging(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		f.clock.Advance(time.Hour)
		_, err := f.svc.Create(ctx, CreateInput{
			UserID: "u1", Type: model.MemoryInterest, Content: "jazz record " + string(rune('a'+i)),
			Importance: model.ImportanceNormal, Tags: []string{"music"},
		})
		require.NoError(t, err)
	}
	f.create(t, "u1", "dentist appointment", model.ImportanceHigh)

	page, err := f.svc.Search(ctx, SearchQuery{UserID: "u1", Tags: []string{"music"}, Limit: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 5, page.Total)
	assert.Len(t, page.Memories, 2)
	assert.True(t, page.HasMore)

	last, err := f.svc.Search(ctx, SearchQuery{UserID: "u1", Tags: []string{"music"}, Limit: 2, Offset: 4})
	require.NoError(t, err)
	assert.Len(t, last.Memories, 1)
	assert.False(t, last.HasMore)

	text, err := f.svc.Search(ctx, SearchQuery{UserID: "u1", Text: "Dentist"})
	require.NoError(t, err)
	require.Len(t, text.Memories, 1)
	assert.Equal(t, "dentist appointment", text.Memories[0].Content)

	imp, err := f.svc.Search(ctx, SearchQuery{UserID: "u1", MinImportance: model.ImportanceHigh})
	require.NoError(t, err)
	assert.EqualValues(t, 1, imp.Total)

	_, err = f.svc.Search(ctx, SearchQuery{UserID: "u1", Types: []model.MemoryType{"bogus"}})
	assert.True(t, IsValidationError(err))
}

func TestLifecycle_ArchiveThenDeleteAfterRetention(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	soon := t0.Add(time.Hour)
	later := t0.Add(30 * day)
	expiring, err := f.svc.Create(ctx, CreateInput{UserID: "u1", Type: model.MemoryWorking, Content: "parked on level 3", ExpiresAt: &soon})
	require.NoError(t, err)
	keep, err := f.svc.Create(ctx, CreateInput{UserID: "u1", Type: model.MemoryWorking, Content: "call back", ExpiresAt: &later})
	require.NoError(t, err)

	n, err := f.svc.ArchiveExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(2 * time.Hour)
	n, err = f.svc.ArchiveExpired(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	n, err = f.svc.ArchiveExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "already archived memories are not archived again")

	got, err := f.svc.Get(ctx, expiring.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, model.MemoryArchived, got.Status)
	got, err = f.svc.Get(ctx, keep.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, model.MemoryActive, got.Status)

	f.clock.Advance(89 * day)
	n, err = f.svc.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(2 * day)
	n, err = f.svc.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	_, err = f.svc.Get(ctx, expiring.ID, "u1")
	assert.True(t, IsNotFoundError(err))
}

func TestUpdate_StatusTransitions(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	m := f.create(t, "u1", "note", model.ImportanceNormal)

	archived := model.MemoryArchived
	got, err := f.svc.Update(ctx, m.ID, "u1", UpdateInput{Status: &archived})
	require.NoError(t, err)
	assert.Equal(t, model.MemoryArchived, got.Status)
	require.NotNil(t, got.ArchivedAt)

	active := model.MemoryActive
	got, err = f.svc.Update(ctx, m.ID, "u1", UpdateInput{Status: &active})
	require.NoError(t, err)
	assert.Nil(t, got.ArchivedAt)

	deleted := model.MemoryDeleted
	_, err = f.svc.Update(ctx, m.ID, "u1", UpdateInput{Status: &deleted})
	assert.True(t, IsValidationError(err))

	bad := model.Importance(9)
	_, err = f.svc.Update(ctx, m.ID, "u1", UpdateInput{Importance: &bad})
	assert.True(t, IsValidationError(err))

	_, err = f.svc.Update(ctx, "missing", "u1", UpdateInput{})
	assert.True(t, IsNotFoundError(err))
}

func TestRecent_NewestFirstByType(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.svc.Create(ctx, CreateInput{UserID: "u1", Type: model.MemoryDesire, Content: "visit Lisbon"})
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	_, err = f.svc.Create(ctx, CreateInput{UserID: "u1", Type: model.MemoryEpisodic, Content: "ran 5k"})
	require.NoError(t, err)

	all, err := f.svc.Recent(ctx, "u1", nil, nil, 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "ran 5k", all[0].Content)

	desires, err := f.svc.Recent(ctx, "u1", []model.MemoryType{model.MemoryDesire}, nil, 10)
	require.NoError(t, err)
	require.Len(t, desires, 1)
	assert.Equal(t, "visit Lisbon", desires[0].Content)
}

func strPtr(s string) *string { return &s }
