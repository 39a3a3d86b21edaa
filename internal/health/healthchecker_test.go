package health

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeChecker struct {
	name    string
	healthy atomic.Int32
}

func (f *fakeChecker) Name() string                               { return f.name }
func (f *fakeChecker) IsHealthy() bool                            { return f.healthy.Load() == 1 }
func (f *fakeChecker) Start(ctx context.Context, _ time.Duration) { /* no-op */ }

func TestServiceHealthChecker_Transitions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	logger := zerolog.Nop()

	a := &fakeChecker{name: "a"}
	b := &fakeChecker{name: "b"}
	a.healthy.Store(1)
	b.healthy.Store(1)

	svc := NewServiceHealthChecker(logger, a, b)
	go svc.Start(ctx, 10*time.Millisecond)

	// Initially healthy
	waitTrue(t, func() bool { return svc.IsHealthy() })

	// Flip one to unhealthy
	b.healthy.Store(0)
	waitTrue(t, func() bool { return !svc.IsHealthy() })

	// Recover
	b.healthy.Store(1)
	waitTrue(t, func() bool { return svc.IsHealthy() })
}

func TestServiceHealthChecker_ReportsFailingComponents(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)

	store := &fakeChecker{name: "store"}
	cache := &fakeChecker{name: "cache"}
	store.healthy.Store(1)

	svc := NewServiceHealthChecker(log, store, cache)
	if svc.IsHealthy() {
		t.Fatalf("must be unhealthy before the first evaluation")
	}

	if svc.Evaluate() {
		t.Fatalf("cache is down")
	}
	if got := svc.Down(); len(got) != 1 || got[0] != "cache" {
		t.Fatalf("Down() = %v, want [cache]", got)
	}
	if !strings.Contains(buf.String(), `"down":["cache"]`) {
		t.Fatalf("DOWN log must name the component: %s", buf.String())
	}

	// same failure set: no new log line
	buf.Reset()
	svc.Evaluate()
	if buf.Len() != 0 {
		t.Fatalf("unchanged health must not log: %s", buf.String())
	}

	store.healthy.Store(0)
	svc.Evaluate()
	if !strings.Contains(buf.String(), `"down":["store","cache"]`) {
		t.Fatalf("changed failure set must log both: %s", buf.String())
	}

	buf.Reset()
	store.healthy.Store(1)
	cache.healthy.Store(1)
	if !svc.Evaluate() || !svc.IsHealthy() || len(svc.Down()) != 0 {
		t.Fatalf("expected recovery, down=%v", svc.Down())
	}
	if !strings.Contains(buf.String(), "recovered") {
		t.Fatalf("recovery must be logged: %s", buf.String())
	}
}

func waitTrue(t *testing.T, pred func() bool) {
	t.Helper()
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if pred() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met before timeout")
}

func TestPingChecker_FollowsProbe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var fail atomic.Bool
	pc := NewPingChecker("dep", func(context.Context) error {
		if fail.Load() {
			return errors.New("unreachable")
		}
		return nil
	}, zerolog.Nop(), 50*time.Millisecond)

	if pc.IsHealthy() {
		t.Fatalf("checker must start unhealthy")
	}
	go pc.Start(ctx, 10*time.Millisecond)
	waitTrue(t, pc.IsHealthy)

	fail.Store(true)
	waitTrue(t, func() bool { return !pc.IsHealthy() })
}
