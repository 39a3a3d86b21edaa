// Package sweep runs the memory lifecycle on a cron schedule: archive expired
// memories, delete long-archived ones and purge expired context items.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/mycelian/mycelian-companion/internal/store"
)

// Lifecycle is the part of the memory service a sweep drives.
type Lifecycle interface {
	ArchiveExpired(ctx context.Context) (int64, error)
	DeleteExpired(ctx context.Context) (int64, error)
}

type Result struct {
	Archived int64 `json:"archived"`
	Deleted  int64 `json:"deleted"`
	Purged   int64 `json:"purged"`
}

// Recorder is told the outcome of every sweep.
type Recorder func(r Result, elapsed time.Duration, err error)

type Worker struct {
	mem   Lifecycle
	items store.ContextItems
	clock clockwork.Clock
	log   zerolog.Logger
	cron  string
	rec   Recorder

	sched gocron.Scheduler
}

func New(mem Lifecycle, items store.ContextItems, cron string, clock clockwork.Clock, log zerolog.Logger, rec Recorder) *Worker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Worker{
		mem:   mem,
		items: items,
		clock: clock,
		log:   log.With().Str("component", "sweep").Logger(),
		cron:  cron,
		rec:   rec,
	}
}

// RunOnce performs every step even if an earlier one fails and joins the
// errors.
func (w *Worker) RunOnce(ctx context.Context) (Result, error) {
	start := w.clock.Now()
	var res Result
	var errs []error

	n, err := w.mem.ArchiveExpired(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("archive expired memories: %w", err))
	}
	res.Archived = n

	n, err = w.mem.DeleteExpired(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("delete archived memories: %w", err))
	}
	res.Deleted = n

	n, err = w.items.PurgeExpired(ctx, "", w.clock.Now())
	if err != nil {
		errs = append(errs, fmt.Errorf("purge context items: %w", err))
	}
	res.Purged = n

	err = errors.Join(errs...)
	elapsed := w.clock.Since(start)
	if w.rec != nil {
		w.rec(res, elapsed, err)
	}
	ev := w.log.Info()
	if err != nil {
		ev = w.log.Error().Err(err)
	}
	ev.Int64("archived", res.Archived).
		Int64("deleted", res.Deleted).
		Int64("purged", res.Purged).
		Dur("elapsed", elapsed).
		Msg("Memory sweep finished")
	return res, err
}

// Start registers the cron job and starts the scheduler. Runs never overlap.
func (w *Worker) Start(ctx context.Context) error {
	s, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
		gocron.WithClock(w.clock),
	)
	if err != nil {
		return fmt.Errorf("create sweep scheduler: %w", err)
	}
	_, err = s.NewJob(
		gocron.CronJob(w.cron, false),
		gocron.NewTask(func() {
			_, _ = w.RunOnce(ctx)
		}),
		gocron.WithName("memory-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("register sweep job %q: %w", w.cron, err)
	}
	s.Start()
	w.sched = s
	w.log.Info().Str("cron", w.cron).Msg("Memory sweep scheduled")
	return nil
}

// NextRun reports when the sweep job fires next.
func (w *Worker) NextRun() (time.Time, error) {
	if w.sched == nil {
		return time.Time{}, errors.New("sweep not started")
	}
	jobs := w.sched.Jobs()
	if len(jobs) == 0 {
		return time.Time{}, errors.New("sweep job missing")
	}
	return jobs[0].NextRun()
}

func (w *Worker) Stop() error {
	if w.sched == nil {
		return nil
	}
	err := w.sched.Shutdown()
	w.sched = nil
	return err
}
