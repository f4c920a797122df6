package advisory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemorySink keeps advisories in process. Useful offline and in tests.
type MemorySink struct {
	mu     sync.RWMutex
	byUser map[string][]Advisory
	now    func() time.Time
}

func NewMemorySink() *MemorySink {
	return &MemorySink{byUser: make(map[string][]Advisory), now: time.Now}
}

func (s *MemorySink) Save(_ context.Context, a Advisory) (Advisory, error) {
	a, err := prepare(a)
	if err != nil {
		return Advisory{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a.CreatedAt = s.now().UTC()
	s.byUser[a.UserID] = append(s.byUser[a.UserID], a)
	return a, nil
}

func (s *MemorySink) ListByUser(_ context.Context, userID string, limit int) ([]Advisory, error) {
	s.mu.RLock()
	src := s.byUser[strings.TrimSpace(userID)]
	out := make([]Advisory, len(src))
	copy(out, src)
	s.mu.RUnlock()

	// Insertion order breaks timestamp ties so the last write wins.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit = clampLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemorySink) Latest(ctx context.Context, userID string) (Advisory, error) {
	list, err := s.ListByUser(ctx, userID, 1)
	if err != nil {
		return Advisory{}, err
	}
	if len(list) == 0 {
		return Advisory{}, ErrNotFound
	}
	return list[0], nil
}
