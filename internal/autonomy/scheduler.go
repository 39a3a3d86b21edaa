package autonomy

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/mycelian/mycelian-companion/internal/model"
)

// Runner executes one cycle and returns the requested sleep hours.
type Runner interface {
	Run(ctx context.Context) int
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context) int

func (f RunnerFunc) Run(ctx context.Context) int { return f(ctx) }

// Scheduler is a Stopped/Running/Sleeping state machine with at most one
// armed wake timer. Stop takes effect at the next cycle boundary: an
// in-flight cycle completes but arms no timer.
type Scheduler struct {
	runner  Runner
	clock   clockwork.Clock
	log     zerolog.Logger
	bounds  Bounds
	onSleep func(hours int)

	mu       sync.Mutex
	state    model.ScheduleState
	baseCtx  context.Context
	timer    clockwork.Timer
	epoch    uint64
	inFlight sync.WaitGroup
	cycleMu  sync.Mutex
}

func NewScheduler(r Runner, bounds Bounds, clock clockwork.Clock, log zerolog.Logger) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if bounds == (Bounds{}) {
		bounds = DefaultBounds()
	}
	return &Scheduler{
		runner: r,
		clock:  clock,
		log:    log.With().Str("component", "scheduler").Logger(),
		bounds: bounds,
		state: model.ScheduleState{
			Phase:            model.PhaseStopped,
			SleepBoundsHours: [2]int{bounds.Min, bounds.Max},
		},
	}
}

// OnSleep registers a callback told every scheduled sleep duration.
func (s *Scheduler) OnSleep(fn func(hours int)) { s.onSleep = fn }

// Start moves Stopped to Running and runs a cycle immediately in the
// background. A missed wake-up from a previous process is not recovered.
// Calling Start while running is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.state.IsRunning {
		s.mu.Unlock()
		return
	}
	s.baseCtx = ctx
	s.state.IsRunning = true
	s.state.Phase = model.PhaseRunning
	s.epoch++
	epoch := s.epoch
	s.inFlight.Add(1)
	s.mu.Unlock()

	s.log.Info().Ints("sleepBoundsHours", []int{s.bounds.Min, s.bounds.Max}).Msg("Scheduler started")
	go s.cycle(epoch)
}

// Stop cancels any armed wake timer. It is safe to call at any point,
// including from inside a cycle.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.IsRunning {
		return
	}
	s.state.IsRunning = false
	s.state.Phase = model.PhaseStopped
	s.state.NextWakeAt = nil
	s.epoch++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.log.Info().Msg("Scheduler stopped")
}

// Wait blocks until no cycle started by the scheduler is in flight.
func (s *Scheduler) Wait() { s.inFlight.Wait() }

// ScheduleNextCycle clamps hours into the sleep bounds and, while running,
// arms the single wake timer for that duration. It returns the clamped
// duration whether or not a timer was armed.
func (s *Scheduler) ScheduleNextCycle(hours int) time.Duration {
	h := s.bounds.Clamp(hours)
	d := time.Duration(h) * time.Hour

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.LastSleepHours = h
	if !s.state.IsRunning {
		s.log.Debug().Int("hours", h).Msg("Scheduler stopped; not arming wake timer")
		return d
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	wake := s.clock.Now().Add(d)
	s.state.NextWakeAt = &wake
	s.state.Phase = model.PhaseSleeping
	epoch := s.epoch
	s.timer = s.clock.AfterFunc(d, func() { s.wake(epoch) })
	if s.onSleep != nil {
		s.onSleep(h)
	}
	s.log.Info().Int("hours", h).Time("nextWakeAt", wake).Msg("Next cycle scheduled")
	return d
}

// State returns a copy of the current schedule state.
func (s *Scheduler) State() model.ScheduleState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state
	if st.NextWakeAt != nil {
		t := *st.NextWakeAt
		st.NextWakeAt = &t
	}
	if st.LastCycleAt != nil {
		t := *st.LastCycleAt
		st.LastCycleAt = &t
	}
	return st
}

// RunOnce runs a cycle synchronously without touching the wake timer and
// returns the clamped sleep hours it asked for.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()
	h := s.bounds.Clamp(s.runner.Run(ctx))
	s.markCycle()
	return h
}

func (s *Scheduler) wake(epoch uint64) {
	s.mu.Lock()
	if !s.state.IsRunning || epoch != s.epoch {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.state.NextWakeAt = nil
	s.state.Phase = model.PhaseRunning
	s.inFlight.Add(1)
	s.mu.Unlock()
	s.cycle(epoch)
}

// cycle must be entered with inFlight already incremented.
func (s *Scheduler) cycle(epoch uint64) {
	defer s.inFlight.Done()

	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()

	hours := s.bounds.Default
	func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error().Interface("panic", r).Msg("Recovered panic in cycle")
			}
		}()
		s.cycleMu.Lock()
		defer s.cycleMu.Unlock()
		hours = s.runner.Run(ctx)
	}()
	s.markCycle()

	s.mu.Lock()
	current := s.state.IsRunning && epoch == s.epoch
	s.mu.Unlock()
	if !current {
		s.log.Info().Msg("Scheduler stopped during cycle; not rescheduling")
		return
	}
	if ctx.Err() != nil {
		s.log.Info().Msg("Context canceled; not rescheduling")
		return
	}
	s.ScheduleNextCycle(hours)
}

func (s *Scheduler) markCycle() {
	now := s.clock.Now()
	s.mu.Lock()
	s.state.LastCycleAt = &now
	s.mu.Unlock()
}
