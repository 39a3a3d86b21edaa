package companionservice

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/mycelian/mycelian-companion/internal/api"
	"github.com/mycelian/mycelian-companion/internal/config"
	"github.com/mycelian/mycelian-companion/internal/health"
	"github.com/mycelian/mycelian-companion/internal/logger"
	"github.com/mycelian/mycelian-companion/internal/store"
)

// Run starts the companion service and blocks until shutdown or error.
func Run() error {
	log := logger.New("companion-service")

	cfg, err := config.New()
	if err != nil {
		log.Error().Err(err).Msg("Failed to load configuration")
		return err
	}
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	log = log.Level(level)

	log.Info().
		Str("build_target", cfg.BuildTarget).
		Str("db_driver", cfg.DBDriver).
		Str("cache_driver", cfg.CacheDriver).
		Int("http_port", cfg.HTTPPort).
		Bool("scheduler", cfg.SchedulerEnabled).
		Msg("Companion service starting")

	// Create cancellable root context bound to SIGINT/SIGTERM
	ctx, stop := newServerContext()
	defer stop()

	comps, err := Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := comps.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close components")
		}
	}()

	// Start health checkers and block until dependencies report healthy
	svcHealth := startHealthCheckers(ctx, cfg, log, comps)
	if err := waitUntilHealthy(ctx, cfg, svcHealth); err != nil {
		log.Error().Stack().Err(err).Msg("startup health check failed")
		return err
	}

	// Background workers
	if err := comps.Sweep.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = comps.Sweep.Stop() }()

	var sched api.StateSource
	if cfg.SchedulerEnabled {
		comps.Scheduler.Start(ctx)
		sched = comps.Scheduler
		defer func() {
			comps.Scheduler.Stop()
			comps.Scheduler.Wait()
		}()
	} else {
		log.Info().Msg("Autonomous scheduler disabled")
	}

	router := api.NewRouter(api.Deps{
		Memories:  comps.Memories,
		Context:   comps.Aggregator,
		Insights:  comps.Store.Insights(),
		Learner:   comps.Learner,
		Scheduler: sched,
		Healthy:   svcHealth.IsHealthy,
		Down:      svcHealth.Down,
		Metrics:   promhttp.HandlerFor(comps.Registry, promhttp.HandlerOpts{}),
		Log:       log,
	})

	// HTTP server and serve
	server := newHTTPServer(ctx, cfg, router)
	errCh := serveHTTP(server, log, cfg)

	// Graceful shutdown on context cancel or server error
	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down server")
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctxShutdown); err != nil {
			log.Error().Stack().Err(err).Msg("Server forced to shutdown")
			return err
		}
		log.Info().Msg("Server exited")
		return nil
	case err := <-errCh:
		log.Error().Stack().Err(err).Msg("HTTP server failed")
		return err
	}
}

// startHealthCheckers starts component checkers and the service-level aggregator.
func startHealthCheckers(ctx context.Context, cfg *config.Config, log zerolog.Logger, comps *Components) *health.ServiceHealthChecker {
	probeTimeout := time.Duration(cfg.HealthProbeTimeoutSeconds) * time.Second
	interval := time.Duration(cfg.HealthIntervalSeconds) * time.Second

	storeChecker := store.NewStoreHealthChecker(comps.Store, log, probeTimeout)
	go storeChecker.Start(ctx, interval)

	cacheChecker := health.NewPingChecker("cache", comps.Cache.HealthPing, log, probeTimeout)
	go cacheChecker.Start(ctx, interval)

	svcHealth := health.NewServiceHealthChecker(log, storeChecker, cacheChecker)
	go svcHealth.Start(ctx, interval)
	return svcHealth
}

func newHTTPServer(ctx context.Context, cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.GetHTTPAddr(),
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
}

func serveHTTP(server *http.Server, log zerolog.Logger, cfg *config.Config) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.HTTPPort).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	return errCh
}

// calculateStartupHealthTimeout returns the startup health timeout in seconds,
// calculated as interval*2 with a minimum of 60 seconds.
func calculateStartupHealthTimeout(healthIntervalSeconds int) int {
	timeout := healthIntervalSeconds * 2
	if timeout < 60 {
		return 60
	}
	return timeout
}

// waitUntilHealthy blocks until service health is healthy or the startup window expires.
func waitUntilHealthy(ctx context.Context, cfg *config.Config, svcHealth *health.ServiceHealthChecker) error {
	timeoutSeconds := calculateStartupHealthTimeout(cfg.HealthIntervalSeconds)
	deadline := time.Now().Add(time.Duration(timeoutSeconds) * time.Second)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		if svcHealth.IsHealthy() {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("startup aborted: dependencies not healthy within %d seconds", timeoutSeconds)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// newServerContext returns a cancellable context that is cancelled on SIGINT/SIGTERM.
func newServerContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
