package factory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/mycelian/mycelian-companion/internal/config"
	"github.com/mycelian/mycelian-companion/internal/store/postgres"
	"github.com/mycelian/mycelian-companion/internal/store/sqlite"
	"github.com/mycelian/mycelian-companion/internal/store/sqlstore"
)

const bootstrapTimeout = 30 * time.Second

// NewStore opens the configured database and applies the schema.
func NewStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*sqlstore.Store, error) {
	bctx, cancel := context.WithTimeout(ctx, bootstrapTimeout)
	defer cancel()

	switch cfg.DBDriver {
	case "postgres":
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("COMPANION_POSTGRES_DSN is required when DB_DRIVER=postgres")
		}
		st, err := postgres.Bootstrap(bctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("postgres bootstrap: %w", err)
		}
		log.Info().Str("driver", cfg.DBDriver).Msg("Store ready")
		return st, nil
	case "sqlite":
		if cfg.SQLitePath != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite directory: %w", err)
			}
		}
		st, err := sqlite.Bootstrap(bctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("sqlite bootstrap: %w", err)
		}
		log.Info().Str("driver", cfg.DBDriver).Str("path", cfg.SQLitePath).Msg("Store ready")
		return st, nil
	default:
		return nil, fmt.Errorf("unknown DB_DRIVER: %s", cfg.DBDriver)
	}
}
