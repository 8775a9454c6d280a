// --- File: internal/storage/cache/claimstore_test.go ---
package cache_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-gcm-service/internal/storage/cache"
)

// --- Mocks ---
type MockCache struct {
	mock.Mock
}

func (m *MockCache) Get(ctx context.Context, key string, dest interface{}) error {
	args := m.Called(ctx, key, dest)
	if rec, ok := args.Get(1).(*cache.ClaimRecord); ok && rec != nil {
		*dest.(*cache.ClaimRecord) = *rec
	}
	return args.Error(0)
}
func (m *MockCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return m.Called(ctx, key, value, ttl).Error(0)
}
func (m *MockCache) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, key, value, ttl)
	return args.Bool(0), args.Error(1)
}
func (m *MockCache) Del(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func TestClaimStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	key := "gcm:dispatched:msg-42"

	t.Run("First claim wins", func(t *testing.T) {
		mockCache := new(MockCache)
		store := cache.NewClaimStore(mockCache, 5*time.Minute, 24*time.Hour)

		mockCache.On("SetNX", ctx, key, mock.MatchedBy(func(v interface{}) bool {
			return v.(cache.ClaimRecord).State == cache.ClaimPending
		}), 5*time.Minute).Return(true, nil).Once()

		ok, err := store.Claim(ctx, "msg-42")

		require.NoError(t, err)
		assert.True(t, ok)
		mockCache.AssertExpectations(t)
	})

	t.Run("Second claim loses", func(t *testing.T) {
		mockCache := new(MockCache)
		store := cache.NewClaimStore(mockCache, 5*time.Minute, 24*time.Hour)

		mockCache.On("SetNX", ctx, key, mock.Anything, mock.Anything).Return(false, nil).Once()

		ok, err := store.Claim(ctx, "msg-42")

		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Redis failure surfaces", func(t *testing.T) {
		mockCache := new(MockCache)
		store := cache.NewClaimStore(mockCache, 5*time.Minute, 24*time.Hour)

		mockCache.On("SetNX", ctx, key, mock.Anything, mock.Anything).Return(false, errors.New("conn refused"))

		_, err := store.Claim(ctx, "msg-42")
		assert.ErrorContains(t, err, "conn refused")
	})

	t.Run("Complete stores the summary for the long TTL", func(t *testing.T) {
		mockCache := new(MockCache)
		store := cache.NewClaimStore(mockCache, 5*time.Minute, 24*time.Hour)

		mockCache.On("Set", ctx, key, mock.MatchedBy(func(v interface{}) bool {
			rec := v.(cache.ClaimRecord)
			return rec.State == cache.ClaimDispatched && rec.Summary == "ok"
		}), 24*time.Hour).Return(nil).Once()

		require.NoError(t, store.Complete(ctx, "msg-42", "ok"))
		mockCache.AssertExpectations(t)
	})

	t.Run("Release deletes the key", func(t *testing.T) {
		mockCache := new(MockCache)
		store := cache.NewClaimStore(mockCache, 5*time.Minute, 24*time.Hour)

		mockCache.On("Del", ctx, key).Return(nil).Once()

		require.NoError(t, store.Release(ctx, "msg-42"))
		mockCache.AssertExpectations(t)
	})

	t.Run("Lookup", func(t *testing.T) {
		mockCache := new(MockCache)
		store := cache.NewClaimStore(mockCache, 5*time.Minute, 24*time.Hour)

		mockCache.On("Get", ctx, key, mock.Anything).
			Return(nil, &cache.ClaimRecord{State: cache.ClaimDispatched}).Once()
		mockCache.On("Get", ctx, "gcm:dispatched:unknown", mock.Anything).
			Return(cache.ErrNotFound, nil).Once()

		rec, err := store.Lookup(ctx, "msg-42")
		require.NoError(t, err)
		assert.Equal(t, cache.ClaimDispatched, rec.State)

		_, err = store.Lookup(ctx, "unknown")
		assert.ErrorIs(t, err, cache.ErrNotFound)
	})
}
