package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"bunger-shield/internal/config"
	"bunger-shield/internal/store"
)

func TestNewLogger(t *testing.T) {
	logger, err := newLogger(config.LogConfig{Level: "warn"})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))

	logger, err = newLogger(config.LogConfig{Level: "debug", Development: true})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	_, err = newLogger(config.LogConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestOpenStore(t *testing.T) {
	st, err := openStore(config.StorageConfig{Driver: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &store.MemoryStore{}, st)
	require.NoError(t, st.Close())

	path := filepath.Join(t.TempDir(), "nested", "players.db")
	st, err = openStore(config.StorageConfig{Driver: "sqlite", Path: path})
	require.NoError(t, err)
	assert.IsType(t, &store.SQLiteStore{}, st)
	require.NoError(t, st.Close())
	assert.FileExists(t, path)

	_, err = openStore(config.StorageConfig{Driver: "redis"})
	assert.Error(t, err)
}

func TestLoadPermissions(t *testing.T) {
	dir := t.TempDir()

	pm, err := loadPermissions(filepath.Join(dir, "missing.yml"), zap.NewNop())
	require.NoError(t, err)
	assert.False(t, pm.Has("Steve", "shield.use"))

	good := filepath.Join(dir, "permissions.yml")
	require.NoError(t, os.WriteFile(good, []byte("default:\n  - shield.use\n"), 0o644))
	pm, err = loadPermissions(good, zap.NewNop())
	require.NoError(t, err)
	assert.True(t, pm.Has("Steve", "shield.use"))

	bad := filepath.Join(dir, "bad.yml")
	require.NoError(t, os.WriteFile(bad, []byte("default: [\n"), 0o644))
	_, err = loadPermissions(bad, zap.NewNop())
	assert.Error(t, err)
}
