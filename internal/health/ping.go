package health

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// HealthPinger can be implemented by components to expose a specialized
// health check. HealthPing must return nil when the component is healthy.
type HealthPinger interface {
	HealthPing(ctx context.Context) error
}

// PingChecker turns a probe function into a periodic HealthChecker.
type PingChecker struct {
	name         string
	probe        func(ctx context.Context) error
	healthy      atomic.Int32
	log          zerolog.Logger
	probeTimeout time.Duration
}

// NewPingChecker starts unhealthy until the first successful probe.
func NewPingChecker(name string, probe func(ctx context.Context) error, log zerolog.Logger, probeTimeout time.Duration) *PingChecker {
	pc := &PingChecker{name: name, probe: probe, log: log, probeTimeout: probeTimeout}
	pc.healthy.Store(0)
	return pc
}

func (pc *PingChecker) Name() string { return pc.name }

// IsHealthy returns the cached health status (non-blocking).
func (pc *PingChecker) IsHealthy() bool { return pc.healthy.Load() == 1 }

// Check runs one probe and records the result.
func (pc *PingChecker) Check(ctx context.Context) bool {
	to := pc.probeTimeout
	if to <= 0 {
		to = 2 * time.Second
	}
	checkCtx, cancel := context.WithTimeout(ctx, to)
	defer cancel()

	if err := pc.probe(checkCtx); err != nil {
		pc.log.Error().Stack().
			Str("checker", pc.name).
			Err(err).
			Msg("health check failed")
		pc.healthy.Store(0)
		return false
	}
	pc.healthy.Store(1)
	return true
}

// Start begins periodic health checking.
func (pc *PingChecker) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	pc.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pc.Check(ctx)
		}
	}
}
