package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/imagevault/internal/cache/memory"
	"github.com/prn-tf/imagevault/internal/repository"
)

func TestUsageRecorder_AppliesQueuedIncrements(t *testing.T) {
	repo := new(mockBlobRepository)
	repo.On("IncrementUsage", mock.Anything, "a").Return(nil).Times(3)
	repo.On("IncrementUsage", mock.Anything, "b").Return(errors.New("boom")).Once()

	r := NewUsageRecorder(repo, nil, nil, zerolog.Nop(), UsageConfig{QueueSize: 8, Workers: 2, Timeout: time.Second})
	r.Start()
	r.Record("a")
	r.Record("a")
	r.Record("b")
	r.Record("a")
	r.Stop()

	repo.AssertExpectations(t)
}

func TestUsageRecorder_DropsWhenFull(t *testing.T) {
	repo := new(mockBlobRepository)
	repo.On("IncrementUsage", mock.Anything, mock.Anything).Return(nil)

	// Not started: the queue only drains on Stop.
	r := NewUsageRecorder(repo, nil, nil, zerolog.Nop(), UsageConfig{QueueSize: 2, Workers: 1})
	r.Record("a")
	r.Record("b")
	r.Record("c")
	r.Stop()

	repo.AssertNumberOfCalls(t, "IncrementUsage", 2)
}

func TestUsageRecorder_RecordAfterStop(t *testing.T) {
	repo := new(mockBlobRepository)
	r := NewUsageRecorder(repo, nil, nil, zerolog.Nop(), UsageConfig{QueueSize: 2})
	r.Start()
	r.Stop()

	assert.NotPanics(t, func() { r.Record("late") })
	repo.AssertNotCalled(t, "IncrementUsage", mock.Anything, mock.Anything)
}

func TestUsageRecorder_InvalidatesCachedThumbnail(t *testing.T) {
	ctx := context.Background()
	repo := new(mockBlobRepository)
	repo.On("IncrementUsage", mock.Anything, "used").Return(nil).Once()
	repo.On("IncrementUsage", mock.Anything, "failed").Return(errors.New("boom")).Once()

	cache := memory.NewCache(0)
	t.Cleanup(cache.Close)
	for _, id := range []string{"used", "failed", "untouched"} {
		require.NoError(t, cache.Set(ctx, repository.CacheKeys.Thumbnail(id), []byte("entry"), time.Minute))
	}

	r := NewUsageRecorder(repo, cache, nil, zerolog.Nop(), UsageConfig{QueueSize: 4, Workers: 1, Timeout: time.Second})
	r.Start()
	r.Record("used")
	r.Record("failed")
	r.Stop()

	_, err := cache.Get(ctx, repository.CacheKeys.Thumbnail("used"))
	assert.ErrorIs(t, err, repository.ErrCacheMiss, "updated_at moved, entry must go")
	_, err = cache.Get(ctx, repository.CacheKeys.Thumbnail("failed"))
	assert.NoError(t, err)
	_, err = cache.Get(ctx, repository.CacheKeys.Thumbnail("untouched"))
	assert.NoError(t, err)
	repo.AssertExpectations(t)
}
