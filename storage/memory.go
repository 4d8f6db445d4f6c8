package storage

import (
	"sync"

	"github.com/strayfield/tilecache/tilemath"
)

// MemoryStorage is a mutex-guarded map. It backs tests and short-lived
// in-process caches where persistence is not wanted.
type MemoryStorage struct {
	mu    sync.RWMutex
	tiles map[tilemath.Key][]byte
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{tiles: make(map[tilemath.Key][]byte)}
}

func (s *MemoryStorage) Read(key tilemath.Key) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.tiles[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (s *MemoryStorage) Write(key tilemath.Key, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := make([]byte, len(data))
	copy(stored, data)
	s.tiles[key] = stored
	return nil
}

func (s *MemoryStorage) Delete(key tilemath.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tiles, key)
	return nil
}

func (s *MemoryStorage) Exists(key tilemath.Key) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tiles[key]
	return ok
}
