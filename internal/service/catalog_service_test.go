package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/imagevault/internal/cache/memory"
	"github.com/prn-tf/imagevault/internal/domain"
	"github.com/prn-tf/imagevault/internal/repository"
)

func TestCatalogService_ListMine(t *testing.T) {
	tests := []struct {
		name     string
		input    ListMineInput
		wantOpts *repository.ListOptions
		total    int64
		wantErr  error
		pages    int
	}{
		{
			name:     "defaults",
			input:    ListMineInput{OwnerID: "u1"},
			wantOpts: &repository.ListOptions{Offset: 0, Limit: 20, OrderBy: "createdAt", Descending: true},
			total:    41,
			pages:    3,
		},
		{
			name:     "explicit page and ascending sort",
			input:    ListMineInput{OwnerID: "u1", Page: 3, Limit: 10, SortBy: "usageCount", SortOrder: "asc"},
			wantOpts: &repository.ListOptions{Offset: 20, Limit: 10, OrderBy: "usageCount", Descending: false},
			total:    0,
			pages:    0,
		},
		{
			name:    "limit above maximum",
			input:   ListMineInput{OwnerID: "u1", Limit: 101},
			wantErr: domain.ErrInvalidPagination,
		},
		{
			name:    "negative page",
			input:   ListMineInput{OwnerID: "u1", Page: -1},
			wantErr: domain.ErrInvalidPagination,
		},
		{
			name:    "unknown sort field",
			input:   ListMineInput{OwnerID: "u1", SortBy: "hash"},
			wantErr: domain.ErrInvalidSortField,
		},
		{
			name:    "unknown sort order",
			input:   ListMineInput{OwnerID: "u1", SortOrder: "sideways"},
			wantErr: domain.ErrInvalidSortField,
		},
		{
			name:    "missing owner",
			input:   ListMineInput{},
			wantErr: domain.ErrMissingOwner,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(mockBlobRepository)
			if tt.wantOpts != nil {
				repo.On("ListByOwner", mock.Anything, "u1", *tt.wantOpts).
					Return(&repository.ListResult[domain.Blob]{Total: tt.total}, nil)
			}
			svc := NewCatalogService(repo, nil, zerolog.Nop())

			out, err := svc.ListMine(context.Background(), tt.input)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrValidation)
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.total, out.Total)
			assert.Equal(t, tt.pages, out.Pages)
			assert.Equal(t, tt.wantOpts.Limit, out.Limit)
			repo.AssertExpectations(t)
		})
	}
}

func TestCatalogService_Delete(t *testing.T) {
	id := uuid.NewString()
	owned := &domain.Blob{ID: id, OwnerID: "owner"}

	tests := []struct {
		name    string
		caller  domain.Caller
		setup   func(repo *mockBlobRepository)
		wantErr error
	}{
		{
			name:   "owner deletes",
			caller: domain.Caller{ID: "owner"},
			setup: func(repo *mockBlobRepository) {
				repo.On("GetByID", mock.Anything, id).Return(owned, nil)
				repo.On("Delete", mock.Anything, id).Return(nil)
			},
		},
		{
			name:   "privileged caller deletes foreign blob",
			caller: domain.Caller{ID: "admin", Privileged: true},
			setup: func(repo *mockBlobRepository) {
				repo.On("GetByID", mock.Anything, id).Return(owned, nil)
				repo.On("Delete", mock.Anything, id).Return(nil)
			},
		},
		{
			name:   "stranger is forbidden",
			caller: domain.Caller{ID: "stranger"},
			setup: func(repo *mockBlobRepository) {
				repo.On("GetByID", mock.Anything, id).Return(owned, nil)
			},
			wantErr: ErrForbidden,
		},
		{
			name:   "missing blob",
			caller: domain.Caller{ID: "owner"},
			setup: func(repo *mockBlobRepository) {
				repo.On("GetByID", mock.Anything, id).Return(nil, domain.ErrBlobNotFound)
			},
			wantErr: ErrNotFound,
		},
		{
			name:   "delete failure",
			caller: domain.Caller{ID: "owner"},
			setup: func(repo *mockBlobRepository) {
				repo.On("GetByID", mock.Anything, id).Return(owned, nil)
				repo.On("Delete", mock.Anything, id).Return(errors.New("locked"))
			},
			wantErr: ErrPersistence,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(mockBlobRepository)
			tt.setup(repo)
			cache := memory.NewCache(0)
			defer cache.Close()
			ctx := context.Background()
			require.NoError(t, cache.Set(ctx, repository.CacheKeys.Thumbnail(id), []byte("x"), 0))

			svc := NewCatalogService(repo, cache, zerolog.Nop())
			err := svc.Delete(ctx, tt.caller, id)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				if !errors.Is(tt.wantErr, ErrPersistence) {
					repo.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
				}
				return
			}
			require.NoError(t, err)
			_, err = cache.Get(ctx, repository.CacheKeys.Thumbnail(id))
			assert.ErrorIs(t, err, repository.ErrCacheMiss, "thumbnail cache is invalidated")
			repo.AssertExpectations(t)
		})
	}
}

func TestCatalogService_AttachDetach(t *testing.T) {
	id := uuid.NewString()
	sub := 2
	ref := domain.AttachmentRef{TargetID: "ticket-9", SubIndex: &sub}
	owner := domain.Caller{ID: "owner"}
	ctx := context.Background()

	t.Run("attach", func(t *testing.T) {
		repo := new(mockBlobRepository)
		repo.On("GetByID", mock.Anything, id).Return(&domain.Blob{ID: id, OwnerID: "owner", UsageCount: 1}, nil).Once()
		repo.On("SetAttachment", mock.Anything, id, &ref).Return(nil)
		repo.On("GetByID", mock.Anything, id).Return(&domain.Blob{ID: id, OwnerID: "owner", UsageCount: 1, AttachmentRef: &ref}, nil).Once()

		svc := NewCatalogService(repo, nil, zerolog.Nop())
		blob, err := svc.Attach(ctx, owner, id, ref)
		require.NoError(t, err)
		assert.Equal(t, "ticket-9", blob.AttachmentRef.TargetID)
		assert.Equal(t, 2, *blob.AttachmentRef.SubIndex)
		assert.Equal(t, int64(1), blob.UsageCount)
		repo.AssertNotCalled(t, "IncrementUsage", mock.Anything, mock.Anything)
	})

	t.Run("detach", func(t *testing.T) {
		repo := new(mockBlobRepository)
		repo.On("GetByID", mock.Anything, id).Return(&domain.Blob{ID: id, OwnerID: "owner", AttachmentRef: &ref}, nil).Once()
		repo.On("SetAttachment", mock.Anything, id, (*domain.AttachmentRef)(nil)).Return(nil)
		repo.On("GetByID", mock.Anything, id).Return(&domain.Blob{ID: id, OwnerID: "owner"}, nil).Once()

		svc := NewCatalogService(repo, nil, zerolog.Nop())
		blob, err := svc.Detach(ctx, owner, id)
		require.NoError(t, err)
		assert.Nil(t, blob.AttachmentRef)
	})

	t.Run("attach rejects empty target", func(t *testing.T) {
		repo := new(mockBlobRepository)
		svc := NewCatalogService(repo, nil, zerolog.Nop())
		_, err := svc.Attach(ctx, owner, id, domain.AttachmentRef{})
		assert.ErrorIs(t, err, ErrValidation)
		repo.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
	})
}

func TestCatalogService_ListByAttachment(t *testing.T) {
	repo := new(mockBlobRepository)
	repo.On("ListByAttachment", mock.Anything, "fine-1").Return([]*domain.Blob{{ID: "a"}, {ID: "b"}}, nil)
	svc := NewCatalogService(repo, nil, zerolog.Nop())

	blobs, err := svc.ListByAttachment(context.Background(), "fine-1")
	require.NoError(t, err)
	assert.Len(t, blobs, 2)

	_, err = svc.ListByAttachment(context.Background(), " ")
	assert.ErrorIs(t, err, ErrValidation)
}
