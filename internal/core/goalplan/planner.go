// Package goalplan breaks goals without milestones into concrete steps.
package goalplan

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/mycelian/mycelian-companion/internal/llm"
	"github.com/mycelian/mycelian-companion/internal/llm/jsonx"
	"github.com/mycelian/mycelian-companion/internal/model"
	"github.com/mycelian/mycelian-companion/internal/store"
)

const MaxMilestones = 8

var errNoMilestones = errors.New("no milestones in response")

type Planner struct {
	store store.Store
	clock clockwork.Clock
	log   zerolog.Logger
}

func New(st store.Store, clock clockwork.Clock, log zerolog.Logger) *Planner {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Planner{store: st, clock: clock, log: log.With().Str("component", "goalplan").Logger()}
}

// PlanMissing adds milestones to every active goal of userID that has none.
// Failures are per goal and logged; the count of planned goals is returned.
func (p *Planner) PlanMissing(ctx context.Context, gen llm.Generator, userID string) int {
	goals, err := p.store.Goals().ListActive(ctx, userID)
	if err != nil {
		p.log.Warn().Err(err).Str("userID", userID).Msg("Failed to list goals")
		return 0
	}
	planned := 0
	for _, g := range goals {
		if len(g.Milestones) > 0 {
			continue
		}
		if err := p.Plan(ctx, gen, g); err != nil {
			p.log.Warn().Err(err).Str("userID", userID).Str("goalID", g.ID).Msg("Goal auto-planning failed")
			continue
		}
		planned++
	}
	return planned
}

// Plan asks gen for a milestone breakdown of g and stores it.
func (p *Planner) Plan(ctx context.Context, gen llm.Generator, g *model.Goal) error {
	text, err := gen.Judge(ctx, prompt(g, p.clock.Now()), llm.WithMaxTokens(600))
	if err != nil {
		return fmt.Errorf("judge: %w", err)
	}
	ms, err := parse(text, g.ID)
	if err != nil {
		return err
	}
	return p.store.Goals().AddMilestones(ctx, g.ID, ms)
}

func prompt(g *model.Goal, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Break this personal goal into 3 to %d concrete, ordered milestones.\n", MaxMilestones)
	fmt.Fprintf(&b, "Goal: %s\n", g.Title)
	if g.Description != nil && *g.Description != "" {
		fmt.Fprintf(&b, "Details: %s\n", *g.Description)
	}
	if g.TargetDate != nil {
		fmt.Fprintf(&b, "Target date: %s\n", g.TargetDate.Format("2006-01-02"))
	}
	fmt.Fprintf(&b, "Today: %s\n", now.Format("2006-01-02"))
	b.WriteString(`Respond with JSON: {"milestones": [{"title": "...", "due_at": "YYYY-MM-DD"}]}. due_at is optional.`)
	return b.String()
}

// parse accepts either {"milestones": [...]} or a bare array.
func parse(text, goalID string) ([]model.Milestone, error) {
	raw, err := jsonx.First(text)
	if err != nil {
		return nil, err
	}
	list := gjson.Parse(raw)
	if list.IsObject() {
		list = list.Get("milestones")
	}
	if !list.IsArray() {
		return nil, errNoMilestones
	}
	var out []model.Milestone
	list.ForEach(func(_, v gjson.Result) bool {
		title := strings.TrimSpace(v.Get("title").String())
		if v.Type == gjson.String {
			title = strings.TrimSpace(v.String())
		}
		if title == "" {
			return true
		}
		m := model.Milestone{GoalID: goalID, Title: title, Position: len(out) + 1}
		if d := v.Get("due_at").String(); d != "" {
			if t, err := time.Parse("2006-01-02", d); err == nil {
				m.DueAt = &t
			} else if t, err := time.Parse(time.RFC3339, d); err == nil {
				t = t.UTC()
				m.DueAt = &t
			}
		}
		out = append(out, m)
		return len(out) < MaxMilestones
	})
	if len(out) == 0 {
		return nil, errNoMilestones
	}
	return out, nil
}
