package companionservice

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/mycelian/mycelian-companion/internal/autonomy"
	"github.com/mycelian/mycelian-companion/internal/cache"
	"github.com/mycelian/mycelian-companion/internal/config"
	"github.com/mycelian/mycelian-companion/internal/core/briefing"
	"github.com/mycelian/mycelian-companion/internal/core/contextagg"
	"github.com/mycelian/mycelian-companion/internal/core/feedback"
	"github.com/mycelian/mycelian-companion/internal/core/goalplan"
	"github.com/mycelian/mycelian-companion/internal/core/insight"
	"github.com/mycelian/mycelian-companion/internal/core/memory"
	"github.com/mycelian/mycelian-companion/internal/crypto"
	"github.com/mycelian/mycelian-companion/internal/factory"
	"github.com/mycelian/mycelian-companion/internal/llm"
	"github.com/mycelian/mycelian-companion/internal/metrics"
	"github.com/mycelian/mycelian-companion/internal/store/sqlstore"
	"github.com/mycelian/mycelian-companion/internal/sweep"
)

// Components holds every long-lived piece shared by the service and the CLI.
type Components struct {
	Config     *config.Config
	Log        zerolog.Logger
	Clock      clockwork.Clock
	Store      *sqlstore.Store
	Cache      cache.Cache
	Encryptor  crypto.Encryptor
	Registry   *prometheus.Registry
	Metrics    *metrics.Metrics
	Memories   *memory.Service
	Aggregator *contextagg.Aggregator
	Learner    *feedback.Learner
	Insights   *insight.Engine
	Cycle      *autonomy.Cycle
	Scheduler  *autonomy.Scheduler
	Sweep      *sweep.Worker
}

// Build constructs and wires all components. Nothing is started.
func Build(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Components, error) {
	clock := clockwork.NewRealClock()
	defaultTZ, err := time.LoadLocation(cfg.DefaultTimezone)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	st, err := factory.NewStore(ctx, cfg, log)
	if err != nil {
		log.Error().Stack().Err(err).Msg("Store adapter unavailable")
		return nil, err
	}
	c, err := factory.NewCache(ctx, cfg, log)
	if err != nil {
		_ = st.Close()
		log.Error().Stack().Err(err).Msg("Cache adapter unavailable")
		return nil, err
	}
	enc, err := factory.NewEncryptor(cfg)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	disp := factory.NewDispatcher(cfg, log)
	provider := factory.NewLLMProvider(cfg, enc, llm.Observer(m.LLMCall))

	mem := memory.NewService(st, c, enc, clock, log, memory.Config{
		CacheTTL:  time.Duration(cfg.MemoryCacheTTLSeconds) * time.Second,
		Retention: time.Duration(cfg.MemoryRetentionDays) * 24 * time.Hour,
	})
	mem.SetCacheObserver(m.CacheLookup)

	agg := contextagg.New(st, mem, clock, log, defaultTZ)
	learner := feedback.New(st, clock, log)
	engine := insight.New(st, disp, clock, log, m)

	var briefer *briefing.Briefer
	if cfg.BriefingEnabled {
		briefer = briefing.New(st, disp, clock, log, cfg.BriefingHour, defaultTZ)
	}
	bounds := autonomy.Bounds{
		Min:     cfg.SchedulerMinSleepHours,
		Max:     cfg.SchedulerMaxSleepHours,
		Default: cfg.SchedulerDefaultSleepHours,
	}
	cycle := autonomy.NewCycle(autonomy.Deps{
		Store:      st,
		Provider:   provider,
		Planner:    goalplan.New(st, clock, log),
		Aggregator: agg,
		Learner:    learner,
		Insights:   engine,
		Briefer:    briefer,
	}, autonomy.CycleConfig{Bounds: bounds, Strategy: cfg.SchedulerSleepStrategy}, clock, log, m)

	sched := autonomy.NewScheduler(cycle, bounds, clock, log)
	sched.OnSleep(m.SleepScheduled)

	return &Components{
		Config:     cfg,
		Log:        log,
		Clock:      clock,
		Store:      st,
		Cache:      c,
		Encryptor:  enc,
		Registry:   reg,
		Metrics:    m,
		Memories:   mem,
		Aggregator: agg,
		Learner:    learner,
		Insights:   engine,
		Cycle:      cycle,
		Scheduler:  sched,
		Sweep:      sweep.New(mem, st.ContextItems(), cfg.SweepCron, clock, log, m.SweepFinished),
	}, nil
}

// Close releases the store and cache connections.
func (c *Components) Close() error {
	var errs []error
	if closer, ok := c.Cache.(io.Closer); ok {
		errs = append(errs, closer.Close())
	}
	errs = append(errs, c.Store.Close())
	return errors.Join(errs...)
}
