package persistence

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/chatdesk/internal/config"
)

func TestMigrationFilesAreOrderedAndFiltered(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"0002_b.sql", "0001_a.sql", "notes.md"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o600))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "0003_dir.sql"), 0o700))

	names, err := MigrationFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_a.sql", "0002_b.sql"}, names)

	_, err = MigrationFiles(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestRepositoryMigrationsAreListed(t *testing.T) {
	names, err := MigrationFiles(filepath.Join("..", "..", "migrations"))
	require.NoError(t, err)
	assert.Contains(t, names, "0001_init.sql")
}

func TestRunMigrationsWithoutPoolIsNoop(t *testing.T) {
	assert.NoError(t, RunMigrations(context.Background(), nil, "does-not-matter", zap.NewNop()))
}

func TestPostgresWithoutDSN(t *testing.T) {
	pg, err := NewPostgres(context.Background(), config.PostgresConfig{}, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, pg.PoolHandle())
	assert.NoError(t, pg.Ping(context.Background()))
	pg.Close()
}

func TestRedisWithoutAddr(t *testing.T) {
	r := NewRedis(config.RedisConfig{}, zap.NewNop())
	assert.Nil(t, r.Client)
	assert.False(t, r.Available(context.Background()))
	assert.ErrorIs(t, r.Ping(context.Background()), ErrRedisDisabled)
	r.Close()

	var nilRedis *Redis
	assert.ErrorIs(t, nilRedis.Ping(context.Background()), ErrRedisDisabled)
}
