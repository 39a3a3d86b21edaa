package store

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/mycelian/mycelian-companion/internal/health"
	"github.com/mycelian/mycelian-companion/internal/model"
)

// NewStoreHealthChecker monitors store health via periodic pings. Stores that
// do not implement health.HealthPinger are probed with a cheap read.
func NewStoreHealthChecker(s Store, log zerolog.Logger, probeTimeout time.Duration) *health.PingChecker {
	return health.NewPingChecker("store", func(ctx context.Context) error { return probe(ctx, s) }, log, probeTimeout)
}

func probe(ctx context.Context, s Store) error {
	if p, ok := s.(health.HealthPinger); ok {
		return p.HealthPing(ctx)
	}
	// ErrNotFound is acceptable - means DB is responsive
	if _, err := s.Users().Get(ctx, "__health_check__"); err != nil && !errors.Is(err, model.ErrNotFound) {
		return err
	}
	return nil
}
