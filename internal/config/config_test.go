package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PROFILES", "")
	cfg := Load()
	require.Equal(t, ":5000", cfg.HTTPAddress)
	require.Equal(t, []string{"brandonmartin5", "chansestrode", "kellydollins"}, cfg.Profiles)
	require.Equal(t, "brandonmartin5", cfg.Default())
	require.Equal(t, 10*time.Second, cfg.UpstreamTimeout)
	require.False(t, cfg.EventsEnabled())
	require.NoError(t, cfg.Validate())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PROFILES", " kellydollins , ,chansestrode")
	t.Setenv("DEFAULT_PROFILE", "chansestrode")
	t.Setenv("STORE_BACKEND", "Postgres")
	t.Setenv("UPSTREAM_TIMEOUT", "3s")
	t.Setenv("UPSTREAM_RATE_PER_SECOND", "0.5")
	t.Setenv("FETCH_ON_START", "false")
	t.Setenv("KAFKA_BROKERS", "kafka:9092,kafka2:9092")
	t.Setenv("FETCH_CONCURRENCY", "not-a-number")

	cfg := Load()
	require.Equal(t, []string{"kellydollins", "chansestrode"}, cfg.Profiles)
	require.Equal(t, "chansestrode", cfg.Default())
	require.Equal(t, BackendPostgres, cfg.StoreBackend)
	require.Equal(t, 3*time.Second, cfg.UpstreamTimeout)
	require.Equal(t, 0.5, cfg.UpstreamRatePerSecond)
	require.False(t, cfg.FetchOnStart)
	require.True(t, cfg.EventsEnabled())
	require.Equal(t, 1, cfg.FetchConcurrency)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "poller.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
profiles: [alice, bob]
store_backend: memory
upstream_timeout: 4s
fetch_schedule: "*/15 * * * *"
`), 0o644))
	t.Setenv("FETCH_SCHEDULE", "@every 30m")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, []string{"alice", "bob"}, cfg.Profiles)
	require.Equal(t, BackendMemory, cfg.StoreBackend)
	require.Equal(t, 4*time.Second, cfg.UpstreamTimeout)
	require.Equal(t, "@every 30m", cfg.FetchSchedule)
	require.Equal(t, ":5000", cfg.HTTPAddress)
}

func TestLoadFileMissingUsesEnv(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, BackendFile, cfg.StoreBackend)
}

func TestLoadFileValidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "poller.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store_backend: s3\nfetch_concurrency: 0\n"), 0o644))

	_, err := LoadFile(path)
	require.ErrorContains(t, err, "store_backend")
	require.ErrorContains(t, err, "fetch_concurrency")
}
