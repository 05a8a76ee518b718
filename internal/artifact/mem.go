package artifact

import (
	"context"
	"fmt"
	"sync"
)

// MemStore is an in-memory Store used by tests and local development.
type MemStore struct {
	mu      sync.RWMutex
	objects map[string][]byte

	// FailPut, when set, makes Put return the given error for matching
	// paths. Tests use it to simulate storage outages.
	FailPut func(path string) error
}

func NewMemStore() *MemStore {
	return &MemStore{objects: make(map[string][]byte)}
}

func (s *MemStore) Put(ctx context.Context, path string, data []byte, contentType string) error {
	if s.FailPut != nil {
		if err := s.FailPut(path); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[path] = append([]byte(nil), data...)
	return nil
}

func (s *MemStore) Get(ctx context.Context, path string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return append([]byte(nil), data...), nil
}

func (s *MemStore) Delete(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, path)
	return nil
}

// Len reports the number of stored objects.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
