package media

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

type blob struct {
	mime string
	data []byte
}

// MemoryStore keeps the most recently used blobs in process memory.
type MemoryStore struct {
	items *lru.Cache[string, blob]
}

func NewMemoryStore(maxEntries int) (*MemoryStore, error) {
	if maxEntries <= 0 {
		maxEntries = 256
	}
	c, err := lru.New[string, blob](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("init media lru: %w", err)
	}
	return &MemoryStore{items: c}, nil
}

func (s *MemoryStore) Put(_ context.Context, mime string, data []byte) (Ref, error) {
	if s == nil {
		return Ref{}, fmt.Errorf("store is nil")
	}
	ref := RefFor(mime, data)
	cp := make([]byte, len(data))
	copy(cp, data)
	s.items.Add(ref.key(), blob{mime: mime, data: cp})
	return ref, nil
}

func (s *MemoryStore) Get(_ context.Context, ref Ref) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("store is nil")
	}
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	b, ok := s.items.Get(ref.key())
	if !ok {
		return nil, ErrNotFound
	}
	return b.data, nil
}

// Len reports the number of stored blobs.
func (s *MemoryStore) Len() int { return s.items.Len() }
