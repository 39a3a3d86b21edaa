// Package briefing sends each user one short morning check-in per local day.
package briefing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/mycelian/mycelian-companion/internal/dispatch"
	"github.com/mycelian/mycelian-companion/internal/llm"
	"github.com/mycelian/mycelian-companion/internal/model"
	"github.com/mycelian/mycelian-companion/internal/store"
)

const (
	Title        = "Good morning"
	maxBodyChars = 600
)

type Briefer struct {
	store     store.Store
	dispatch  dispatch.Dispatcher
	clock     clockwork.Clock
	log       zerolog.Logger
	hour      int
	defaultTZ *time.Location
}

// New builds a Briefer that may run once the user's local clock reaches hour.
func New(st store.Store, d dispatch.Dispatcher, clock clockwork.Clock, log zerolog.Logger, hour int, defaultTZ *time.Location) *Briefer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if defaultTZ == nil {
		defaultTZ = time.UTC
	}
	return &Briefer{
		store:     st,
		dispatch:  d,
		clock:     clock,
		log:       log.With().Str("component", "briefing").Logger(),
		hour:      hour,
		defaultTZ: defaultTZ,
	}
}

// MaybeRun sends today's briefing unless it is too early or another cycle (in
// this or any other process) already claimed today. It reports whether a
// briefing was sent.
func (b *Briefer) MaybeRun(ctx context.Context, gen llm.Generator, user *model.User, uc *model.UserContext) bool {
	now := b.clock.Now()
	local := now.In(b.location(user))
	if local.Hour() < b.hour {
		return false
	}
	day := local.Format("2006-01-02")
	claimed, err := b.store.Markers().Claim(ctx, user.ID, model.CycleBriefing, day, now)
	if err != nil {
		b.log.Warn().Err(err).Str("userID", user.ID).Str("day", day).Msg("Failed to claim briefing marker")
		return false
	}
	if !claimed {
		return false
	}

	body := Fallback(uc)
	if gen != nil {
		text, err := gen.Judge(ctx, prompt(uc, local), llm.WithMaxTokens(300))
		switch {
		case err != nil:
			b.log.Warn().Err(err).Str("userID", user.ID).Msg("Briefing generation failed; using fallback")
		case strings.TrimSpace(text) != "":
			body = clip(strings.TrimSpace(text), maxBodyChars)
		}
	}
	if err := b.dispatch.Notify(ctx, user.ID, Title, body, model.PriorityMedium); err != nil {
		b.log.Warn().Err(err).Str("userID", user.ID).Msg("Failed to deliver briefing")
		return false
	}
	b.log.Info().Str("userID", user.ID).Str("day", day).Msg("Daily briefing sent")
	return true
}

func (b *Briefer) location(u *model.User) *time.Location {
	if u == nil || u.Timezone == "" {
		return b.defaultTZ
	}
	loc, err := time.LoadLocation(u.Timezone)
	if err != nil {
		return b.defaultTZ
	}
	return loc
}

func prompt(uc *model.UserContext, local time.Time) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Write a warm, brief morning check-in (at most three sentences) for %s.\n", local.Format("Monday, January 2"))
	sb.WriteString("Mention only what matters today. Plain text, no lists, no JSON.\n\nWhat you know:\n")
	if uc != nil {
		for i, it := range uc.Items {
			if i == 15 {
				break
			}
			fmt.Fprintf(&sb, "- (%s) %s\n", it.Category, it.Content)
		}
	}
	return sb.String()
}

// Fallback builds a deterministic briefing from the context summary.
func Fallback(uc *model.UserContext) string {
	if uc == nil || len(uc.Summary.KeyInsights) == 0 {
		return "Good morning! Let me know if there's anything I can help with today."
	}
	var sb strings.Builder
	sb.WriteString("Good morning! ")
	for i, k := range uc.Summary.KeyInsights {
		if i == 3 {
			break
		}
		sb.WriteString(k)
		sb.WriteString(". ")
	}
	if uc.Summary.ActiveGoals > 0 {
		fmt.Fprintf(&sb, "You have %d active goal(s).", uc.Summary.ActiveGoals)
	}
	return strings.TrimSpace(sb.String())
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
