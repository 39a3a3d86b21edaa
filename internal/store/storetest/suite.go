package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mycelian/mycelian-companion/internal/model"
	"github.com/mycelian/mycelian-companion/internal/store"
)

var base = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

// Run exercises a compliance suite against a store.Store implementation.
// Implementations should provide a clean, isolated store and return it from makeStore.
func Run(t *testing.T, makeStore func(t *testing.T) store.Store) {
	t.Helper()

	s := makeStore(t)

	t.Run("Users", func(t *testing.T) { testUsers(t, s) })
	t.Run("Credentials", func(t *testing.T) { testCredentials(t, s) })
	t.Run("Memories", func(t *testing.T) { testMemories(t, s) })
	t.Run("MemoryLifecycle", func(t *testing.T) { testMemoryLifecycle(t, s) })
	t.Run("ContextItems", func(t *testing.T) { testContextItems(t, s) })
	t.Run("Patterns", func(t *testing.T) { testPatterns(t, s) })
	t.Run("InsightsAndFeedback", func(t *testing.T) { testInsightsAndFeedback(t, s) })
	t.Run("RemindersAndGoals", func(t *testing.T) { testRemindersAndGoals(t, s) })
	t.Run("Markers", func(t *testing.T) { testMarkers(t, s) })
}

func newUser(t *testing.T, s store.Store) string {
	t.Helper()
	u, err := s.Users().Create(context.Background(), &model.User{ID: "u-" + uuid.New().String(), Timezone: "UTC", CreatedAt: base})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return u.ID
}

func testUsers(t *testing.T, s store.Store) {
	ctx := context.Background()
	userID := newUser(t, s)
	got, err := s.Users().Get(ctx, userID)
	if err != nil || got.ID != userID || got.Timezone != "UTC" {
		t.Fatalf("GetUser: got=%v err=%v", got, err)
	}
	if _, err := s.Users().Get(ctx, "missing-"+userID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("GetUser missing: expected ErrNotFound, got %v", err)
	}
	all, err := s.Users().List(ctx)
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	found := false
	for _, u := range all {
		found = found || u.ID == userID
	}
	if !found {
		t.Fatalf("ListUsers: %s not listed", userID)
	}
}

func testCredentials(t *testing.T, s store.Store) {
	ctx := context.Background()
	userID := newUser(t, s)
	if _, err := s.Credentials().Get(ctx, userID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("GetCredential before put: expected ErrNotFound, got %v", err)
	}
	c := &model.Credential{UserID: userID, Provider: "openai", APIKey: "k1", Model: "m", UpdatedAt: base}
	if err := s.Credentials().Put(ctx, c); err != nil {
		t.Fatalf("PutCredential: %v", err)
	}
	c.APIKey = "k2"
	if err := s.Credentials().Put(ctx, c); err != nil {
		t.Fatalf("PutCredential overwrite: %v", err)
	}
	got, err := s.Credentials().Get(ctx, userID)
	if err != nil || got.APIKey != "k2" {
		t.Fatalf("GetCredential: got=%v err=%v", got, err)
	}
}

func testMemories(t *testing.T, s store.Store) {
	ctx := context.Background()
	userID := newUser(t, s)
	summary := "short"

	m1, err := s.Memories().Create(ctx, &model.Memory{
		UserID: userID, Type: model.MemoryEpisodic, Content: "went hiking", Summary: &summary,
		Importance: model.ImportanceHigh, Tags: []string{"outdoors", "weekend"},
		CreatedAt: base, UpdatedAt: base,
	})
	if err != nil {
		t.Fatalf("CreateMemory: %v", err)
	}
	if m1.ID == "" || m1.Status != model.MemoryActive {
		t.Fatalf("CreateMemory: unexpected %+v", m1)
	}
	if _, err := s.Memories().Create(ctx, &model.Memory{
		UserID: userID, Type: model.MemoryDesire, Content: "learn piano",
		Importance: model.ImportanceLow, Tags: []string{"music"},
		CreatedAt: base.Add(time.Hour), UpdatedAt: base.Add(time.Hour),
	}); err != nil {
		t.Fatalf("CreateMemory m2: %v", err)
	}

	got, err := s.Memories().Get(ctx, userID, m1.ID)
	if err != nil {
		t.Fatalf("GetMemory: %v", err)
	}
	if got.Content != "went hiking" || got.Summary == nil || *got.Summary != "short" || len(got.Tags) != 2 {
		t.Fatalf("GetMemory: unexpected %+v", got)
	}
	if !got.CreatedAt.Equal(base) {
		t.Fatalf("GetMemory: created_at %v != %v", got.CreatedAt, base)
	}
	if _, err := s.Memories().Get(ctx, "other-user", m1.ID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("GetMemory other user: expected ErrNotFound, got %v", err)
	}

	// Filters
	list, total, err := s.Memories().List(ctx, model.MemoryFilter{UserID: userID})
	if err != nil || total != 2 || len(list) != 2 {
		t.Fatalf("ListMemories: n=%d total=%d err=%v", len(list), total, err)
	}
	if list[0].Type != model.MemoryDesire {
		t.Fatalf("ListMemories: expected newest first, got %s", list[0].Type)
	}
	if l, _, err := s.Memories().List(ctx, model.MemoryFilter{UserID: userID, Tags: []string{"outdoors"}}); err != nil || len(l) != 1 || l[0].ID != m1.ID {
		t.Fatalf("ListMemories by tag: n=%d err=%v", len(l), err)
	}
	if l, _, err := s.Memories().List(ctx, model.MemoryFilter{UserID: userID, MinImportance: model.ImportanceMedium}); err != nil || len(l) != 1 {
		t.Fatalf("ListMemories by importance: n=%d err=%v", len(l), err)
	}
	if l, _, err := s.Memories().List(ctx, model.MemoryFilter{UserID: userID, Types: []model.MemoryType{model.MemoryDesire}}); err != nil || len(l) != 1 {
		t.Fatalf("ListMemories by type: n=%d err=%v", len(l), err)
	}
	after := base.Add(30 * time.Minute)
	if l, _, err := s.Memories().List(ctx, model.MemoryFilter{UserID: userID, CreatedAfter: &after}); err != nil || len(l) != 1 {
		t.Fatalf("ListMemories created after: n=%d err=%v", len(l), err)
	}
	if l, total, err := s.Memories().List(ctx, model.MemoryFilter{UserID: userID, Limit: 1}); err != nil || len(l) != 1 || total != 2 {
		t.Fatalf("ListMemories limit: n=%d total=%d err=%v", len(l), total, err)
	}

	// Access stats are monotonic
	later := base.Add(2 * time.Hour)
	if st, err := s.Memories().TouchAccess(ctx, userID, []string{m1.ID}, later); err != nil || st[m1.ID].AccessCount != 1 {
		t.Fatalf("TouchAccess: stats=%+v err=%v", st, err)
	}
	st, err := s.Memories().TouchAccess(ctx, userID, []string{m1.ID, "missing"}, base)
	if err != nil || len(st) != 1 || st[m1.ID].AccessCount != 2 ||
		st[m1.ID].LastAccessedAt == nil || !st[m1.ID].LastAccessedAt.Equal(later) {
		t.Fatalf("TouchAccess earlier: stats=%+v err=%v", st, err)
	}
	if st, err := s.Memories().AccessStats(ctx, userID, []string{m1.ID}); err != nil || st[m1.ID].AccessCount != 2 {
		t.Fatalf("AccessStats: stats=%+v err=%v", st, err)
	}
	got, _ = s.Memories().Get(ctx, userID, m1.ID)
	if got.AccessCount != 2 || got.LastAccessedAt == nil || !got.LastAccessedAt.Equal(later) {
		t.Fatalf("TouchAccess: count=%d last=%v", got.AccessCount, got.LastAccessedAt)
	}

	// Update replaces tags
	got.Tags = []string{"nature"}
	got.Importance = model.ImportanceCritical
	got.UpdatedAt = later
	if _, err := s.Memories().Update(ctx, got); err != nil {
		t.Fatalf("UpdateMemory: %v", err)
	}
	if l, _, _ := s.Memories().List(ctx, model.MemoryFilter{UserID: userID, Tags: []string{"outdoors"}}); len(l) != 0 {
		t.Fatalf("UpdateMemory: old tag still matches")
	}

	stats, err := s.Memories().Stats(ctx, userID)
	if err != nil || stats.Total != 2 || stats.ByType[model.MemoryEpisodic] != 1 || stats.ByImportance[model.ImportanceCritical] != 1 {
		t.Fatalf("Stats: %+v err=%v", stats, err)
	}

	// Soft delete hides the memory from every read
	got.Status = model.MemoryDeleted
	if _, err := s.Memories().Update(ctx, got); err != nil {
		t.Fatalf("DeleteMemory: %v", err)
	}
	if _, err := s.Memories().Get(ctx, userID, m1.ID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("GetMemory after delete: expected ErrNotFound, got %v", err)
	}
	if _, total, _ := s.Memories().List(ctx, model.MemoryFilter{UserID: userID, Statuses: []model.MemoryStatus{model.MemoryDeleted}}); total != 0 {
		t.Fatalf("ListMemories returned deleted rows: %d", total)
	}
	if _, err := s.Memories().Update(ctx, got); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("UpdateMemory after delete: expected ErrNotFound, got %v", err)
	}
}

func testMemoryLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()
	userID := newUser(t, s)
	now := base.Add(24 * time.Hour)
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	expired, err := s.Memories().Create(ctx, &model.Memory{UserID: userID, Type: model.MemoryWorking, Content: "old",
		Importance: model.ImportanceNormal, ExpiresAt: &past, CreatedAt: base, UpdatedAt: base})
	if err != nil {
		t.Fatalf("Create expired: %v", err)
	}
	live, err := s.Memories().Create(ctx, &model.Memory{UserID: userID, Type: model.MemoryWorking, Content: "fresh",
		Importance: model.ImportanceNormal, ExpiresAt: &future, CreatedAt: base, UpdatedAt: base})
	if err != nil {
		t.Fatalf("Create live: %v", err)
	}

	users, err := s.Memories().ArchiveExpired(ctx, now)
	if err != nil {
		t.Fatalf("ArchiveExpired: %v", err)
	}
	if n := countOf(users, userID); n != 1 {
		t.Fatalf("ArchiveExpired: expected 1 row for user, got %d", n)
	}
	if again, _ := s.Memories().ArchiveExpired(ctx, now); countOf(again, userID) != 0 {
		t.Fatalf("ArchiveExpired second call touched rows again")
	}
	got, _ := s.Memories().Get(ctx, userID, expired.ID)
	if got.Status != model.MemoryArchived || got.ArchivedAt == nil {
		t.Fatalf("expired memory not archived: %+v", got)
	}
	if got, _ := s.Memories().Get(ctx, userID, live.ID); got.Status != model.MemoryActive {
		t.Fatalf("live memory touched: %+v", got)
	}

	// Retention window not yet passed
	if del, _ := s.Memories().DeleteArchivedBefore(ctx, now.Add(-time.Hour), now); countOf(del, userID) != 0 {
		t.Fatalf("DeleteArchivedBefore removed a fresh archive")
	}
	if del, _ := s.Memories().DeleteArchivedBefore(ctx, now.Add(time.Hour), now); countOf(del, userID) != 1 {
		t.Fatalf("DeleteArchivedBefore: expected 1 row, got %d", countOf(del, userID))
	}
	if _, err := s.Memories().Get(ctx, userID, expired.ID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("deleted memory still readable: %v", err)
	}
}

func testContextItems(t *testing.T, s store.Store) {
	ctx := context.Background()
	userID := newUser(t, s)
	now := base
	soon := now.Add(time.Minute)
	gone := now.Add(-time.Minute)

	items := []*model.ContextItem{
		{ID: "a-" + userID, UserID: userID, Category: model.CategoryGoals, Content: "finish report",
			Relevance: model.RelevanceHigh, RelevanceScore: 0.7, TimeWindow: model.WindowToday, Timestamp: now,
			Metadata: model.GoalMeta{GoalID: "g1", Title: "finish report", Progress: 0.5}},
		{ID: "b-" + userID, UserID: userID, Category: model.CategorySchedule, Content: "standup",
			Relevance: model.RelevanceMedium, RelevanceScore: 0.4, TimeWindow: model.WindowNow, Timestamp: now, ExpiresAt: &soon},
		{ID: "c-" + userID, UserID: userID, Category: model.CategorySchedule, Content: "yesterday",
			Relevance: model.RelevanceLow, RelevanceScore: 0.9, TimeWindow: model.WindowRecent, Timestamp: now, ExpiresAt: &gone},
	}
	for _, it := range items {
		if _, err := s.ContextItems().Put(ctx, it); err != nil {
			t.Fatalf("PutContextItem %s: %v", it.ID, err)
		}
	}
	// Put with same id replaces
	items[1].RelevanceScore = 0.45
	if _, err := s.ContextItems().Put(ctx, items[1]); err != nil {
		t.Fatalf("PutContextItem replace: %v", err)
	}

	list, err := s.ContextItems().List(ctx, store.ContextItemFilter{UserID: userID, Now: now})
	if err != nil || len(list) != 2 {
		t.Fatalf("ListContextItems: n=%d err=%v", len(list), err)
	}
	if list[0].ID != items[0].ID || list[1].RelevanceScore != 0.45 {
		t.Fatalf("ListContextItems order/replace: %+v", list)
	}
	gm, ok := list[0].Metadata.(model.GoalMeta)
	if !ok || gm.GoalID != "g1" {
		t.Fatalf("metadata round trip: %#v", list[0].Metadata)
	}
	if l, _ := s.ContextItems().List(ctx, store.ContextItemFilter{UserID: userID, Now: now, Categories: []model.ContextCategory{model.CategorySchedule}}); len(l) != 1 {
		t.Fatalf("ListContextItems by category: n=%d", len(l))
	}
	if l, _ := s.ContextItems().List(ctx, store.ContextItemFilter{UserID: userID, Now: now, MinScore: 0.5}); len(l) != 1 {
		t.Fatalf("ListContextItems min score: n=%d", len(l))
	}

	n, err := s.ContextItems().PurgeExpired(ctx, userID, now)
	if err != nil || n != 1 {
		t.Fatalf("PurgeExpired: n=%d err=%v", n, err)
	}

	// current_state keeps one row, last write wins
	ttl := now.Add(2 * time.Hour)
	first, err := s.ContextItems().UpsertCurrentState(ctx, &model.ContextItem{UserID: userID, Content: "working",
		Relevance: model.RelevanceCritical, RelevanceScore: 1, TimeWindow: model.WindowNow, Timestamp: now, ExpiresAt: &ttl,
		Metadata: model.CurrentStateMeta{Activity: "working"}})
	if err != nil {
		t.Fatalf("UpsertCurrentState #1: %v", err)
	}
	second, err := s.ContextItems().UpsertCurrentState(ctx, &model.ContextItem{UserID: userID, Content: "resting",
		Relevance: model.RelevanceCritical, RelevanceScore: 1, TimeWindow: model.WindowNow, Timestamp: now.Add(time.Minute), ExpiresAt: &ttl,
		Metadata: model.CurrentStateMeta{Activity: "resting"}})
	if err != nil {
		t.Fatalf("UpsertCurrentState #2: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("UpsertCurrentState changed id: %s -> %s", first.ID, second.ID)
	}
	if c, err := s.ContextItems().CountCurrentState(ctx, userID); err != nil || c != 1 {
		t.Fatalf("CountCurrentState: %d err=%v", c, err)
	}
	cs, _ := s.ContextItems().List(ctx, store.ContextItemFilter{UserID: userID, Now: now, Categories: []model.ContextCategory{model.CategoryCurrentState}})
	if len(cs) != 1 || cs[0].Metadata.(model.CurrentStateMeta).Activity != "resting" {
		t.Fatalf("current_state content: %+v", cs)
	}
}

func testPatterns(t *testing.T, s store.Store) {
	ctx := context.Background()
	userID := newUser(t, s)
	start, end := 23*60, 7*60
	if err := s.Patterns().Upsert(ctx, &model.Pattern{ID: "p1-" + userID, UserID: userID, Type: "sleep", Confidence: 0.9,
		LastObservedAt: base, Active: true, InactiveStartMinute: &start, InactiveEndMinute: &end}); err != nil {
		t.Fatalf("UpsertPattern: %v", err)
	}
	if err := s.Patterns().Upsert(ctx, &model.Pattern{ID: "p2-" + userID, UserID: userID, Type: "gym", Confidence: 0.3,
		LastObservedAt: base, Active: true}); err != nil {
		t.Fatalf("UpsertPattern low: %v", err)
	}
	if err := s.Patterns().Upsert(ctx, &model.Pattern{ID: "p3-" + userID, UserID: userID, Type: "walk", Confidence: 0.8,
		LastObservedAt: base, Active: false}); err != nil {
		t.Fatalf("UpsertPattern inactive: %v", err)
	}
	list, err := s.Patterns().ListActive(ctx, userID, 0.5)
	if err != nil || len(list) != 1 || list[0].Type != "sleep" {
		t.Fatalf("ListActive: %+v err=%v", list, err)
	}
	if list[0].InactiveStartMinute == nil || *list[0].InactiveStartMinute != start {
		t.Fatalf("inactive window lost: %+v", list[0])
	}
}

func testInsightsAndFeedback(t *testing.T, s store.Store) {
	ctx := context.Background()
	userID := newUser(t, s)

	in, err := s.Insights().Create(ctx, &model.Insight{UserID: userID, Type: model.InsightGoalNudge, Priority: model.PriorityHigh,
		Title: "run", Description: "go for a run", CreatedAt: base,
		Actionable: &model.Actionable{Type: model.ActionCreateReminder, Payload: map[string]any{"title": "run"}}})
	if err != nil {
		t.Fatalf("CreateInsight: %v", err)
	}
	got, err := s.Insights().Get(ctx, userID, in.ID)
	if err != nil || got.Actionable == nil || got.Actionable.Payload["title"] != "run" {
		t.Fatalf("GetInsight: %+v err=%v", got, err)
	}
	if err := s.Insights().MarkActedOn(ctx, userID, in.ID); err != nil {
		t.Fatalf("MarkActedOn: %v", err)
	}
	if err := s.Insights().MarkDismissed(ctx, userID, in.ID); err != nil {
		t.Fatalf("MarkDismissed: %v", err)
	}
	if err := s.Insights().MarkDismissed(ctx, userID, "missing"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("MarkDismissed missing: expected ErrNotFound, got %v", err)
	}
	if l, _ := s.Insights().List(ctx, userID, false, 10); len(l) != 0 {
		t.Fatalf("List excluding dismissed returned %d", len(l))
	}
	if l, _ := s.Insights().List(ctx, userID, true, 10); len(l) != 1 || !l[0].ActedOn || !l[0].Dismissed {
		t.Fatalf("List including dismissed: %+v", l)
	}

	if recent, err := s.Feedback().Recent(ctx, userID, 20); err != nil || len(recent) != 0 {
		t.Fatalf("Recent empty: n=%d err=%v", len(recent), err)
	}
	for i, typ := range []model.InsightType{model.InsightGoalNudge, model.InsightGoalNudge, model.InsightRecommendation} {
		if err := s.Feedback().Append(ctx, &model.FeedbackRecord{ID: uuid.New().String(), UserID: userID, InsightType: typ,
			InsightTitle: string(typ), FeedbackType: model.FeedbackDismissed, CreatedAt: base.Add(time.Duration(i) * time.Minute)}); err != nil {
			t.Fatalf("AppendFeedback: %v", err)
		}
	}
	counts, err := s.Feedback().CountByType(ctx, userID)
	if err != nil || counts[model.InsightGoalNudge] != 2 || counts[model.InsightRecommendation] != 1 {
		t.Fatalf("CountByType: %v err=%v", counts, err)
	}
	recent, err := s.Feedback().Recent(ctx, userID, 2)
	if err != nil || len(recent) != 2 || recent[0].InsightType != model.InsightRecommendation {
		t.Fatalf("Recent: %+v err=%v", recent, err)
	}
}

func testRemindersAndGoals(t *testing.T, s store.Store) {
	ctx := context.Background()
	userID := newUser(t, s)

	if _, err := s.Reminders().Create(ctx, &model.Reminder{UserID: userID, Title: "call mom", DueAt: base.Add(time.Hour), CreatedAt: base}); err != nil {
		t.Fatalf("CreateReminder: %v", err)
	}
	if _, err := s.Reminders().Create(ctx, &model.Reminder{UserID: userID, Title: "done", DueAt: base, Status: model.ReminderCompleted, CreatedAt: base}); err != nil {
		t.Fatalf("CreateReminder completed: %v", err)
	}
	pending, err := s.Reminders().ListPending(ctx, userID)
	if err != nil || len(pending) != 1 || pending[0].Title != "call mom" {
		t.Fatalf("ListPending: %+v err=%v", pending, err)
	}

	g, err := s.Goals().Create(ctx, &model.Goal{UserID: userID, Title: "marathon", CreatedAt: base})
	if err != nil {
		t.Fatalf("CreateGoal: %v", err)
	}
	if err := s.Goals().AddMilestones(ctx, g.ID, []model.Milestone{{Title: "5k", Position: 0}, {Title: "10k", Position: 1}}); err != nil {
		t.Fatalf("AddMilestones: %v", err)
	}
	if err := s.Goals().AddMilestones(ctx, "missing", []model.Milestone{{Title: "x"}}); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("AddMilestones missing goal: expected ErrNotFound, got %v", err)
	}
	active, err := s.Goals().ListActive(ctx, userID)
	if err != nil || len(active) != 1 || len(active[0].Milestones) != 2 || active[0].Milestones[0].Title != "5k" {
		t.Fatalf("ListActive goals: %+v err=%v", active, err)
	}
}

func testMarkers(t *testing.T, s store.Store) {
	ctx := context.Background()
	userID := newUser(t, s)
	ok, err := s.Markers().Claim(ctx, userID, model.CycleBriefing, "2026-03-10", base)
	if err != nil || !ok {
		t.Fatalf("first Claim: ok=%v err=%v", ok, err)
	}
	ok, err = s.Markers().Claim(ctx, userID, model.CycleBriefing, "2026-03-10", base.Add(time.Hour))
	if err != nil || ok {
		t.Fatalf("second Claim: ok=%v err=%v", ok, err)
	}
	if ok, _ := s.Markers().Claim(ctx, userID, model.CycleBriefing, "2026-03-11", base); !ok {
		t.Fatalf("next day Claim should succeed")
	}
}

func countOf(ids []string, id string) int {
	n := 0
	for _, v := range ids {
		if v == id {
			n++
		}
	}
	return n
}
