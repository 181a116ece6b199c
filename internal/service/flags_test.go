package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/lumora-ai/lumora/internal/domain"
)

// MockFlagStore is a mock implementation of FlagStore
type MockFlagStore struct {
	mock.Mock
}

func (m *MockFlagStore) Get(ctx context.Context, key string) (*domain.FeatureFlag, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.FeatureFlag), args.Error(1)
}

func (m *MockFlagStore) Set(ctx context.Context, f *domain.FeatureFlag) error {
	args := m.Called(ctx, f)
	return args.Error(0)
}

func (m *MockFlagStore) List(ctx context.Context) ([]*domain.FeatureFlag, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.FeatureFlag), args.Error(1)
}

func TestIsEnabledOnFlag(t *testing.T) {
	store := new(MockFlagStore)
	store.On("Get", mock.Anything, "rerank_enabled").
		Return(&domain.FeatureFlag{Key: "rerank_enabled", Enabled: true, Rollout: 100}, nil)

	svc := NewFlagService(store, 0, 0)

	assert.True(t, svc.IsEnabled(context.Background(), "rerank_enabled", "owner-1"))
}

func TestIsEnabledMissingFlagIsOff(t *testing.T) {
	store := new(MockFlagStore)
	store.On("Get", mock.Anything, "nope").Return(nil, domain.ErrFlagNotFound)

	svc := NewFlagService(store, 0, 0)

	assert.False(t, svc.IsEnabled(context.Background(), "nope", "owner-1"))
}

func TestIsEnabledStoreErrorDefaultsOff(t *testing.T) {
	store := new(MockFlagStore)
	store.On("Get", mock.Anything, "rerank_enabled").
		Return(nil, errors.New("connection refused"))

	svc := NewFlagService(store, 0, 0)

	assert.False(t, svc.IsEnabled(context.Background(), "rerank_enabled", "owner-1"))
}

func TestIsEnabledCachesReads(t *testing.T) {
	store := new(MockFlagStore)
	store.On("Get", mock.Anything, "rerank_enabled").
		Return(&domain.FeatureFlag{Key: "rerank_enabled", Enabled: true, Rollout: 100}, nil).Once()

	svc := NewFlagService(store, 0, time.Minute)

	for i := 0; i < 5; i++ {
		assert.True(t, svc.IsEnabled(context.Background(), "rerank_enabled", "owner-1"))
	}

	store.AssertExpectations(t)
}

func TestIsEnabledCachesNegativeReads(t *testing.T) {
	store := new(MockFlagStore)
	store.On("Get", mock.Anything, "broken").
		Return(nil, errors.New("connection refused")).Once()

	svc := NewFlagService(store, 0, time.Minute)

	for i := 0; i < 5; i++ {
		assert.False(t, svc.IsEnabled(context.Background(), "broken", "owner-1"))
	}

	store.AssertExpectations(t)
}

func TestIsEnabledCacheExpires(t *testing.T) {
	store := new(MockFlagStore)
	store.On("Get", mock.Anything, "rerank_enabled").
		Return(&domain.FeatureFlag{Key: "rerank_enabled", Enabled: true, Rollout: 100}, nil).Twice()

	svc := NewFlagService(store, 0, 50*time.Millisecond)

	assert.True(t, svc.IsEnabled(context.Background(), "rerank_enabled", "owner-1"))
	time.Sleep(120 * time.Millisecond)
	assert.True(t, svc.IsEnabled(context.Background(), "rerank_enabled", "owner-1"))

	store.AssertExpectations(t)
}

func TestIsEnabledRolloutBucketingIsSticky(t *testing.T) {
	store := new(MockFlagStore)
	store.On("Get", mock.Anything, "rerank_enabled").
		Return(&domain.FeatureFlag{Key: "rerank_enabled", Enabled: true, Rollout: 50}, nil)

	svc := NewFlagService(store, 0, time.Minute)

	first := svc.IsEnabled(context.Background(), "rerank_enabled", "owner-sticky")
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, svc.IsEnabled(context.Background(), "rerank_enabled", "owner-sticky"))
	}
}

func TestIsEnabledRolloutSplitsSubjects(t *testing.T) {
	store := new(MockFlagStore)
	store.On("Get", mock.Anything, "rerank_enabled").
		Return(&domain.FeatureFlag{Key: "rerank_enabled", Enabled: true, Rollout: 50}, nil)

	svc := NewFlagService(store, 0, time.Minute)

	on := 0
	const subjects = 200
	for i := 0; i < subjects; i++ {
		if svc.IsEnabled(context.Background(), "rerank_enabled", string(rune('a'+i%26))+string(rune('0'+i/26))) {
			on++
		}
	}
	// Roughly half; FNV bucketing is uniform enough that 20-80% is a
	// generous bound for 200 subjects.
	assert.Greater(t, on, subjects/5)
	assert.Less(t, on, subjects*4/5)
}

func TestIsEnabledExpiredFlagIsOff(t *testing.T) {
	past := time.Now().UTC().Add(-time.Hour)
	store := new(MockFlagStore)
	store.On("Get", mock.Anything, "rerank_enabled").
		Return(&domain.FeatureFlag{Key: "rerank_enabled", Enabled: true, Rollout: 100, ExpiresAt: &past}, nil)

	svc := NewFlagService(store, 0, time.Minute)

	assert.False(t, svc.IsEnabled(context.Background(), "rerank_enabled", "owner-1"))
}

func TestSetValidation(t *testing.T) {
	svc := NewFlagService(new(MockFlagStore), 0, 0)

	assert.Error(t, svc.Set(context.Background(), nil))
	assert.Error(t, svc.Set(context.Background(), &domain.FeatureFlag{}))
	assert.Error(t, svc.Set(context.Background(), &domain.FeatureFlag{Key: "x", Rollout: 150}))
	assert.Error(t, svc.Set(context.Background(), &domain.FeatureFlag{Key: "x", Rollout: -1}))
}

func TestSetInvalidatesCache(t *testing.T) {
	store := new(MockFlagStore)
	store.On("Get", mock.Anything, "rerank_enabled").
		Return(&domain.FeatureFlag{Key: "rerank_enabled", Enabled: false}, nil).Once()

	svc := NewFlagService(store, 0, time.Minute)

	assert.False(t, svc.IsEnabled(context.Background(), "rerank_enabled", "owner-1"))

	store.On("Set", mock.Anything, mock.Anything).Return(nil)
	require.NoError(t, svc.Set(context.Background(), &domain.FeatureFlag{Key: "rerank_enabled", Enabled: true, Rollout: 100}))

	// The next read goes back to the store and sees the new state.
	store.On("Get", mock.Anything, "rerank_enabled").
		Return(&domain.FeatureFlag{Key: "rerank_enabled", Enabled: true, Rollout: 100}, nil).Once()
	assert.True(t, svc.IsEnabled(context.Background(), "rerank_enabled", "owner-1"))

	store.AssertExpectations(t)
}
