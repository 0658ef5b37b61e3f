package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/splitwise-ledger/internal/config"
	"github.com/dvloznov/splitwise-ledger/internal/credentials"
	"github.com/dvloznov/splitwise-ledger/internal/storage/sqlite"
)

func sqliteConfig(t *testing.T) config.Config {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("SPLITLEDGER_CONFIG", "")
	t.Setenv("SPLITLEDGER_STORAGE_SQLITE_PATH", filepath.Join(t.TempDir(), "nested", "ledger.db"))

	cfg, err := config.Load()
	require.NoError(t, err)
	return cfg
}

func TestOpenStoreSQLite(t *testing.T) {
	cfg := sqliteConfig(t)

	store, err := OpenStore(context.Background(), cfg)
	require.NoError(t, err)
	defer store.Close()

	_, ok := store.(*sqlite.Gateway)
	assert.True(t, ok)
	require.NoError(t, store.EnsureSchema(context.Background()))
}

func TestOpenStoreUnknownBackend(t *testing.T) {
	cfg := sqliteConfig(t)
	cfg.Storage.Backend = "postgres"

	_, err := OpenStore(context.Background(), cfg)
	assert.ErrorContains(t, err, "unknown storage backend")
}

func TestBuildWithoutArchive(t *testing.T) {
	cfg := sqliteConfig(t)
	cfg.Credentials.Provider = credentials.ProviderEnv
	cfg.Archive.Bucket = ""

	s, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	defer s.Close()

	assert.NotNil(t, s.Orchestrator)
	assert.NotNil(t, s.Credentials)
	assert.Nil(t, s.objects)
}

func TestBuildUnknownCredentialsProvider(t *testing.T) {
	cfg := sqliteConfig(t)
	cfg.Credentials.Provider = "vault"

	_, err := Build(context.Background(), cfg)
	assert.ErrorContains(t, err, "unknown credentials provider")
}
