package goalplan

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mycelian/mycelian-companion/internal/llm"
	"github.com/mycelian/mycelian-companion/internal/llm/llmtest"
	"github.com/mycelian/mycelian-companion/internal/model"
	"github.com/mycelian/mycelian-companion/internal/store/sqlite"
)

func TestParse(t *testing.T) {
	cases := []struct {
		name   string
		text   string
		titles []string
		err    bool
	}{
		{"object", `{"milestones":[{"title":"Buy shoes","due_at":"2026-04-01"},{"title":"Run 5k"}]}`, []string{"Buy shoes", "Run 5k"}, false},
		{"bare array in prose", "Plan:\n```json\n[{\"title\":\"a\"},{\"title\":\" \"},{\"title\":\"b\"}]\n```", []string{"a", "b"}, false},
		{"array of strings", `["one","two"]`, []string{"one", "two"}, false},
		{"empty", `{"milestones":[]}`, nil, true},
		{"no json", "sorry", nil, true},
		{"wrong shape", `{"steps":[{"title":"x"}]}`, nil, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			ms, err := parse(c.text, "g1")
			if c.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			var titles []string
			for i, m := range ms {
				titles = append(titles, m.Title)
				assert.Equal(t, i+1, m.Position)
				assert.Equal(t, "g1", m.GoalID)
			}
			assert.Equal(t, c.titles, titles)
		})
	}

	ms, err := parse(`{"milestones":[{"title":"x","due_at":"2026-04-01"}]}`, "g1")
	require.NoError(t, err)
	require.NotNil(t, ms[0].DueAt)
	assert.True(t, ms[0].DueAt.Equal(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)))

	long := "[" + strings.Repeat(`{"title":"s"},`, 20) + `{"title":"s"}]`
	ms, err = parse(long, "g1")
	require.NoError(t, err)
	assert.Len(t, ms, MaxMilestones)
}

func TestPlanMissing_OnlyGoalsWithoutMilestonesAndPerGoalFailures(t *testing.T) {
	ctx := context.Background()
	st, err := sqlite.Bootstrap(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	p := New(st, clockwork.NewFakeClockAt(now), zerolog.Nop())

	_, err = st.Goals().Create(ctx, &model.Goal{UserID: "u1", Title: "Planned already", CreatedAt: now,
		Milestones: []model.Milestone{{Title: "step", Position: 1}}})
	require.NoError(t, err)
	broken, err := st.Goals().Create(ctx, &model.Goal{UserID: "u1", Title: "Learn Portuguese", CreatedAt: now.Add(time.Second)})
	require.NoError(t, err)
	fresh, err := st.Goals().Create(ctx, &model.Goal{UserID: "u1", Title: "Run a marathon", CreatedAt: now.Add(2 * time.Second)})
	require.NoError(t, err)

	gen := &llmtest.Stub{Respond: func(prompt string, _ llm.Options) (string, error) {
		switch {
		case strings.Contains(prompt, "Learn Portuguese"):
			return "", errors.New("timeout")
		case strings.Contains(prompt, "Run a marathon"):
			return `{"milestones":[{"title":"10k"},{"title":"Half"},{"title":"Full"}]}`, nil
		}
		t.Fatalf("unexpected prompt: %s", prompt)
		return "", nil
	}}

	assert.Equal(t, 1, p.PlanMissing(ctx, gen, "u1"))
	assert.Len(t, gen.Calls(), 2)

	goals, err := st.Goals().ListActive(ctx, "u1")
	require.NoError(t, err)
	byID := map[string]*model.Goal{}
	for _, g := range goals {
		byID[g.ID] = g
	}
	assert.Empty(t, byID[broken.ID].Milestones)
	require.Len(t, byID[fresh.ID].Milestones, 3)
	assert.Equal(t, "Full", byID[fresh.ID].Milestones[2].Title)
}
