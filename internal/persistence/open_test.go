package persistence

import (
	"context"
	"testing"

	"cdr.dev/slog/v3/sloggers/slogtest"
	"github.com/stretchr/testify/require"

	"github.com/insomniacmonkey/Team-Tree-House-Profile/internal/config"
	"github.com/insomniacmonkey/Team-Tree-House-Profile/internal/persistence/filestore"
	"github.com/insomniacmonkey/Team-Tree-House-Profile/internal/persistence/memory"
)

func TestOpenSelectsBackend(t *testing.T) {
	ctx := context.Background()
	logger := slogtest.Make(t, nil)

	cfg := config.Defaults()
	cfg.DataDir = t.TempDir()
	store, closeFn, err := Open(ctx, cfg, logger)
	require.NoError(t, err)
	defer closeFn()
	require.IsType(t, &filestore.Store{}, store)

	cfg.StoreBackend = config.BackendMemory
	store, closeFn, err = Open(ctx, cfg, logger)
	require.NoError(t, err)
	defer closeFn()
	require.IsType(t, &memory.Store{}, store)

	cfg.StoreBackend = "s3"
	_, _, err = Open(ctx, cfg, logger)
	require.Error(t, err)
}
