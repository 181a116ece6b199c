package service

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/lumora-ai/lumora/internal/domain"
)

// Well-known flag keys.
const (
	FlagRerankEnabled   = "rerank_enabled"
	FlagPipelineRollout = "pipeline_v2_rollout"
)

// FlagStore persists feature flags.
type FlagStore interface {
	Get(ctx context.Context, key string) (*domain.FeatureFlag, error)
	Set(ctx context.Context, f *domain.FeatureFlag) error
	List(ctx context.Context) ([]*domain.FeatureFlag, error)
}

// FlagService reads feature flags through a short-TTL cache. Flags are
// externally owned runtime state; a failed read always resolves to the safe
// default (flag off) so a flaky store can never flip behavior on.
type FlagService struct {
	store FlagStore
	cache *expirable.LRU[string, *domain.FeatureFlag]
	now   func() time.Time
}

func NewFlagService(store FlagStore, cacheSize int, ttl time.Duration) *FlagService {
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &FlagService{
		store: store,
		cache: expirable.NewLRU[string, *domain.FeatureFlag](cacheSize, nil, ttl),
		now:   time.Now,
	}
}

// IsEnabled reports whether a flag is on for the given subject (typically an
// owner ID, for sticky rollout bucketing). Missing flags and store errors
// read as off.
func (s *FlagService) IsEnabled(ctx context.Context, key, subject string) bool {
	flag, ok := s.cache.Get(key)
	if !ok {
		var err error
		flag, err = s.store.Get(ctx, key)
		if err != nil {
			if !errors.Is(err, domain.ErrFlagNotFound) {
				log.Printf("flags: read failed for %q, defaulting to off: %v", key, err)
			}
			// Cache the negative result too, so a broken store is not
			// hammered on every retrieval.
			s.cache.Add(key, nil)
			return false
		}
		s.cache.Add(key, flag)
	}
	if flag == nil {
		return false
	}
	return flag.EnabledFor(subject, s.now().UTC())
}

// Get returns a flag directly from the store, bypassing the cache.
func (s *FlagService) Get(ctx context.Context, key string) (*domain.FeatureFlag, error) {
	return s.store.Get(ctx, key)
}

// Set writes a flag and invalidates its cache entry.
func (s *FlagService) Set(ctx context.Context, f *domain.FeatureFlag) error {
	if f == nil || f.Key == "" {
		return domain.ErrMissingRequiredField
	}
	if f.Rollout < 0 || f.Rollout > 100 {
		return domain.NewDomainError(domain.ErrCodeValidation, "rollout must be between 0 and 100")
	}
	if err := s.store.Set(ctx, f); err != nil {
		return err
	}
	s.cache.Remove(f.Key)
	return nil
}

// List returns all flags from the store.
func (s *FlagService) List(ctx context.Context) ([]*domain.FeatureFlag, error) {
	return s.store.List(ctx)
}
