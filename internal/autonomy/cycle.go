// Package autonomy runs the recurring companion cycle: for every user it plans
// goals, aggregates context, produces insights and sends the daily briefing,
// then decides how long to sleep before the next pass.
package autonomy

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/mycelian/mycelian-companion/internal/core/briefing"
	"github.com/mycelian/mycelian-companion/internal/core/contextagg"
	"github.com/mycelian/mycelian-companion/internal/core/feedback"
	"github.com/mycelian/mycelian-companion/internal/core/goalplan"
	"github.com/mycelian/mycelian-companion/internal/core/insight"
	"github.com/mycelian/mycelian-companion/internal/llm"
	"github.com/mycelian/mycelian-companion/internal/model"
	"github.com/mycelian/mycelian-companion/internal/store"
)

// Sleep strategies.
const (
	// StrategyLast judges sleep from the last processed user only.
	StrategyLast = "last"
	// StrategyMin judges every processed user and sleeps for the shortest answer.
	StrategyMin = "min"
)

// CycleObserver receives per-cycle outcomes.
type CycleObserver interface {
	CycleCompleted(elapsed time.Duration, processed, skipped, failed, sleepHours int)
}

type nopObserver struct{}

func (nopObserver) CycleCompleted(time.Duration, int, int, int, int) {}

// Deps are the components one cycle drives.
type Deps struct {
	Store      store.Store
	Provider   llm.Provider
	Planner    *goalplan.Planner
	Aggregator *contextagg.Aggregator
	Learner    *feedback.Learner
	Insights   *insight.Engine
	// Briefer is optional; nil disables the daily briefing.
	Briefer *briefing.Briefer
}

type CycleConfig struct {
	Bounds   Bounds
	Strategy string
}

type Cycle struct {
	deps  Deps
	cfg   CycleConfig
	clock clockwork.Clock
	log   zerolog.Logger
	obs   CycleObserver
}

func NewCycle(deps Deps, cfg CycleConfig, clock clockwork.Clock, log zerolog.Logger, obs CycleObserver) *Cycle {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if obs == nil {
		obs = nopObserver{}
	}
	if cfg.Bounds == (Bounds{}) {
		cfg.Bounds = DefaultBounds()
	}
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyLast
	}
	return &Cycle{deps: deps, cfg: cfg, clock: clock, log: log.With().Str("component", "cycle").Logger(), obs: obs}
}

// userOutcome is what a processed user contributes to the sleep decision.
type userOutcome struct {
	gen llm.Generator
	uc  *model.UserContext
}

// Run processes every user sequentially and returns the sleep hours for the
// next cycle. It never fails: per-user problems are logged and skipped.
func (c *Cycle) Run(ctx context.Context) int {
	start := c.clock.Now()
	users, err := c.deps.Store.Users().List(ctx)
	if err != nil {
		c.log.Error().Err(err).Msg("Failed to list users; sleeping for default interval")
		c.obs.CycleCompleted(c.clock.Since(start), 0, 0, 0, c.cfg.Bounds.Default)
		return c.cfg.Bounds.Default
	}

	var outcomes []userOutcome
	skipped, failed := 0, 0
	for _, u := range users {
		if ctx.Err() != nil {
			c.log.Warn().Err(ctx.Err()).Msg("Cycle interrupted")
			break
		}
		out, err := c.runUser(ctx, u)
		switch {
		case errors.Is(err, model.ErrNoCredential):
			skipped++
		case err != nil:
			failed++
			c.log.Error().Err(err).Str("userID", u.ID).Msg("User cycle failed")
		default:
			outcomes = append(outcomes, out)
		}
	}

	hours := c.sleepHours(ctx, outcomes)
	elapsed := c.clock.Since(start)
	c.obs.CycleCompleted(elapsed, len(outcomes), skipped, failed, hours)
	c.log.Info().
		Int("users", len(users)).
		Int("processed", len(outcomes)).
		Int("skipped", skipped).
		Int("failed", failed).
		Int("sleepHours", hours).
		Dur("elapsed", elapsed).
		Msg("Cycle completed")
	return hours
}

func (c *Cycle) runUser(ctx context.Context, u *model.User) (out userOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Str("userID", u.ID).Interface("panic", r).Bytes("stack", debug.Stack()).Msg("Recovered panic in user cycle")
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	cred, err := c.deps.Store.Credentials().Get(ctx, u.ID)
	if errors.Is(err, model.ErrNotFound) {
		c.log.Debug().Str("userID", u.ID).Msg("No credential; skipping user")
		return out, model.ErrNoCredential
	}
	if err != nil {
		return out, fmt.Errorf("load credential: %w", err)
	}
	gen, err := c.deps.Provider.ForCredential(cred)
	if err != nil {
		return out, fmt.Errorf("build generator: %w", err)
	}

	if c.deps.Planner != nil {
		c.deps.Planner.PlanMissing(ctx, gen, u.ID)
	}

	uc, err := c.deps.Aggregator.Aggregate(ctx, u.ID, contextagg.DefaultOptions())
	if err != nil {
		return out, fmt.Errorf("aggregate context: %w", err)
	}
	fb := c.deps.Learner.Summarize(ctx, u.ID)
	c.deps.Insights.Process(ctx, gen, u, uc, fb)

	if c.deps.Briefer != nil {
		c.deps.Briefer.MaybeRun(ctx, gen, u, uc)
	}
	return userOutcome{gen: gen, uc: uc}, nil
}

func (c *Cycle) sleepHours(ctx context.Context, outcomes []userOutcome) int {
	if len(outcomes) == 0 {
		return c.cfg.Bounds.Default
	}
	if c.cfg.Strategy != StrategyMin {
		last := outcomes[len(outcomes)-1]
		return JudgeSleepHours(ctx, last.gen, last.uc, c.cfg.Bounds)
	}
	best := c.cfg.Bounds.Max
	for _, o := range outcomes {
		if h := JudgeSleepHours(ctx, o.gen, o.uc, c.cfg.Bounds); h < best {
			best = h
		}
	}
	return best
}
