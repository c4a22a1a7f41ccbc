package service

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/prn-tf/imagevault/internal/codec"
	"github.com/prn-tf/imagevault/internal/domain"
	"github.com/prn-tf/imagevault/internal/repository"
)

// =============================================================================
// Mock Types
// =============================================================================

type mockBlobRepository struct {
	mock.Mock
}

func (m *mockBlobRepository) Create(ctx context.Context, blob *domain.Blob) error {
	args := m.Called(ctx, blob)
	return args.Error(0)
}

func (m *mockBlobRepository) GetByID(ctx context.Context, id string) (*domain.Blob, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Blob), args.Error(1)
}

func (m *mockBlobRepository) GetChunks(ctx context.Context, id string) ([]domain.Chunk, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Chunk), args.Error(1)
}

func (m *mockBlobRepository) FindByOwnerHash(ctx context.Context, ownerID, hash string) (*domain.Blob, error) {
	args := m.Called(ctx, ownerID, hash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Blob), args.Error(1)
}

func (m *mockBlobRepository) IncrementUsage(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockBlobRepository) SetAttachment(ctx context.Context, id string, ref *domain.AttachmentRef) error {
	args := m.Called(ctx, id, ref)
	return args.Error(0)
}

func (m *mockBlobRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockBlobRepository) ListByAttachment(ctx context.Context, targetID string) ([]*domain.Blob, error) {
	args := m.Called(ctx, targetID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Blob), args.Error(1)
}

func (m *mockBlobRepository) ListByOwner(ctx context.Context, ownerID string, opts repository.ListOptions) (*repository.ListResult[domain.Blob], error) {
	args := m.Called(ctx, ownerID, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.ListResult[domain.Blob]), args.Error(1)
}

func (m *mockBlobRepository) ListSweepable(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Blob, error) {
	args := m.Called(ctx, cutoff, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Blob), args.Error(1)
}

func (m *mockBlobRepository) DeleteSweepable(ctx context.Context, ids []string, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, ids, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockBlobRepository) CountSweepable(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

type mockProcessor struct {
	mock.Mock
}

func (m *mockProcessor) Process(ctx context.Context, data []byte, declaredMimetype string) (*codec.Result, error) {
	args := m.Called(ctx, data, declaredMimetype)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*codec.Result), args.Error(1)
}

func (m *mockProcessor) Passthrough(data []byte, declaredMimetype string) *codec.Result {
	args := m.Called(data, declaredMimetype)
	return args.Get(0).(*codec.Result)
}

type mockArchiver struct {
	mock.Mock
}

func (m *mockArchiver) Archive(ctx context.Context, blob *domain.Blob, data []byte) error {
	args := m.Called(ctx, blob, data)
	return args.Error(0)
}

func (m *mockArchiver) Enabled() bool {
	return true
}

// recordingSink collects usage increments.
type recordingSink struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingSink) Record(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
}

func (r *recordingSink) Recorded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}
