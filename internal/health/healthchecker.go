package health

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// HealthChecker is implemented by component-level checkers (store, cache).
type HealthChecker interface {
	Name() string
	IsHealthy() bool
	Start(ctx context.Context, interval time.Duration)
}

// ServiceHealthChecker folds component checkers into one service flag and
// remembers which components were down at the last evaluation.
type ServiceHealthChecker struct {
	deps []HealthChecker
	log  zerolog.Logger

	mu        sync.RWMutex
	evaluated bool
	down      []string
}

func NewServiceHealthChecker(log zerolog.Logger, deps ...HealthChecker) *ServiceHealthChecker {
	return &ServiceHealthChecker{deps: deps, log: log.With().Str("component", "health").Logger()}
}

// IsHealthy reports the last evaluation. It is false until Evaluate has run.
func (h *ServiceHealthChecker) IsHealthy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.evaluated && len(h.down) == 0
}

// Down returns the names of the components that failed the last evaluation.
func (h *ServiceHealthChecker) Down() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Clone(h.down)
}

// Evaluate polls every component once and logs when the set of failing
// components changes.
func (h *ServiceHealthChecker) Evaluate() bool {
	var down []string
	for _, c := range h.deps {
		if !c.IsHealthy() {
			down = append(down, c.Name())
		}
	}

	h.mu.Lock()
	changed := !h.evaluated || !slices.Equal(h.down, down)
	recovered := h.evaluated && len(h.down) > 0 && len(down) == 0
	h.evaluated = true
	h.down = down
	h.mu.Unlock()

	switch {
	case !changed:
	case len(down) > 0:
		h.log.Error().Strs("down", down).Msg("service health: DOWN")
	case recovered:
		h.log.Info().Msg("service health: UP (recovered)")
	default:
		h.log.Info().Int("components", len(h.deps)).Msg("service health: UP")
	}
	return len(down) == 0
}

// Start evaluates immediately and then on every tick until ctx ends.
func (h *ServiceHealthChecker) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	h.Evaluate()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Evaluate()
		}
	}
}
