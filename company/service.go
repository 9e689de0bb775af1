package company

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
)

// ProfileReader abstracts repository operations for the service.
type ProfileReader interface {
	GetByID(ctx context.Context, id string) (Profile, error)
	List(ctx context.Context, limit int) ([]Profile, error)
}

// Service exposes business-level company operations with a read-through
// cache in front of the profile table. Profiles change rarely.
type Service struct {
	repo  ProfileReader
	cache *ristretto.Cache
	ttl   time.Duration
}

const cacheTTL = 5 * time.Minute

// NewService builds a Service using the provided repository.
func NewService(repo ProfileReader) (*Service, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     1_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("company: build cache: %w", err)
	}
	return &Service{repo: repo, cache: cache, ttl: cacheTTL}, nil
}

// GetByID returns the company profile for the given identifier, serving from
// cache when warm. ErrNotFound is never cached.
func (s *Service) GetByID(ctx context.Context, id string) (Profile, error) {
	if v, ok := s.cache.Get(id); ok {
		return v.(Profile), nil
	}

	profile, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return Profile{}, err
	}
	s.cache.SetWithTTL(id, profile, 1, s.ttl)
	return profile, nil
}

// List returns up to limit company profiles. Listings bypass the cache.
func (s *Service) List(ctx context.Context, limit int) ([]Profile, error) {
	return s.repo.List(ctx, limit)
}

// Invalidate drops a cached profile, used when verification status changes.
func (s *Service) Invalidate(id string) {
	s.cache.Del(id)
}
