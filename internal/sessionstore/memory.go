package sessionstore

import (
	"context"
	"time"
)

const defaultTTL = 24 * time.Hour

// MemoryStore keeps sessions in process, bounded by session count.
type MemoryStore struct {
	cache *lruTTL[string, []Turn]
}

func NewMemoryStore(maxSessions int, ttl time.Duration) *MemoryStore {
	return &MemoryStore{cache: newLRUTTL[string, []Turn](maxSessions, ttl)}
}

func (s *MemoryStore) Load(_ context.Context, id string) ([]Turn, error) {
	turns, ok := s.cache.get(normalizeID(id))
	if !ok {
		return nil, ErrNotFound
	}
	return append([]Turn(nil), turns...), nil
}

func (s *MemoryStore) Append(_ context.Context, id string, turns ...Turn) error {
	if len(turns) == 0 {
		return nil
	}
	s.cache.update(normalizeID(id), func(cur []Turn) []Turn {
		next := make([]Turn, 0, len(cur)+len(turns))
		next = append(next, cur...)
		return append(next, turns...)
	})
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.cache.delete(normalizeID(id))
	return nil
}

// Len reports live and not yet evicted sessions.
func (s *MemoryStore) Len() int { return s.cache.len() }

func (s *MemoryStore) Close() error { return nil }
