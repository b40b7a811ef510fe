// Package persistence selects and opens the configured record store.
package persistence

import (
	"context"
	"fmt"

	"cdr.dev/slog/v3"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/insomniacmonkey/Team-Tree-House-Profile/internal/config"
	"github.com/insomniacmonkey/Team-Tree-House-Profile/internal/domain"
	"github.com/insomniacmonkey/Team-Tree-House-Profile/internal/persistence/filestore"
	"github.com/insomniacmonkey/Team-Tree-House-Profile/internal/persistence/memory"
	"github.com/insomniacmonkey/Team-Tree-House-Profile/internal/persistence/postgres"
)

// Open returns the store named by cfg.StoreBackend and a func releasing its resources.
func Open(ctx context.Context, cfg config.Config, logger slog.Logger) (domain.Store, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendFile, "":
		store, err := filestore.New(cfg.DataDir)
		if err != nil {
			return nil, nil, err
		}
		logger.Info(ctx, "using file store", slog.F("dir", cfg.DataDir))
		return store, func() {}, nil
	case config.BackendMemory:
		logger.Warn(ctx, "using in-memory store; records are lost on exit")
		return memory.New(), func() {}, nil
	case config.BackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		store := postgres.NewStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ensure schema: %w", err)
		}
		logger.Info(ctx, "using postgres store")
		return store, pool.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}
