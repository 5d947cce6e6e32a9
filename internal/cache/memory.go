package cache

import (
	"context"
	"sort"
	"sync"
)

type MemoryStorage struct {
	mu     sync.Mutex
	caches map[string]*memoryCache
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{caches: make(map[string]*memoryCache)}
}

func (s *MemoryStorage) Open(name string) Cache {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.caches[name]
	if !ok {
		c = &memoryCache{entries: make(map[string]*Entry)}
		s.caches[name] = c
	}
	return c
}

func (s *MemoryStorage) Names(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.caches))
	for n := range s.caches {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (s *MemoryStorage) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.caches, name)
	return nil
}

type memoryCache struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

func (c *memoryCache) Match(_ context.Context, key string) (*Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, ErrMiss
	}
	cp := *e
	cp.Header = e.Header.Clone()
	return &cp, nil
}

func (c *memoryCache) Put(_ context.Context, key string, e *Entry) error {
	cp := *e
	cp.Header = e.Header.Clone()
	cp.Body = append([]byte(nil), e.Body...)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &cp
	return nil
}

func (c *memoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

func (c *memoryCache) Keys(_ context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}
