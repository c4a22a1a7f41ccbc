package bootstrap

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/imagevault/internal/archive"
	"github.com/prn-tf/imagevault/internal/config"
	"github.com/prn-tf/imagevault/internal/lock"
	"github.com/prn-tf/imagevault/internal/service"
)

func TestOpenDatabase_UnknownDriver(t *testing.T) {
	_, _, err := OpenDatabase(context.Background(), config.DatabaseConfig{Driver: "mysql"}, zerolog.Nop())
	assert.Error(t, err)
}

func TestNewServices_SQLite(t *testing.T) {
	ctx := context.Background()
	logger := zerolog.Nop()

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Database.Path = filepath.Join(t.TempDir(), "vault.db")

	db, repos, err := OpenDatabase(ctx, cfg.Database, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(ctx))

	coord, err := OpenCoordination(ctx, cfg.Redis, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = coord.Close() })
	assert.IsType(t, &lock.MemoryLocker{}, coord.Locker)

	archiver, err := OpenArchiver(ctx, cfg.Archive, logger)
	require.NoError(t, err)
	assert.Equal(t, archive.NoopArchiver{}, archiver)

	svc := NewServices(cfg, repos, coord, archiver, nil, logger)
	svc.Usage.Start()
	t.Cleanup(svc.Usage.Stop)

	res, err := svc.Retention.Sweep(ctx, service.SweepInput{DryRun: true})
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.Zero(t, res.DeletedCount)

	opts := CodecOptions(cfg.Images)
	assert.Equal(t, 1920, opts.MaxWidth)
	assert.Equal(t, 150, opts.ThumbnailSize)
}
