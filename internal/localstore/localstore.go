// Package localstore keeps the small amount of device-local state the shell
// persists between runs: the access token and the push key fingerprint.
package localstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	KeyAccessToken = "access_token"
	KeyVAPIDKey    = "push_vapid_key"
)

type Store interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Delete(key string) error
}

// Memory is a process-lifetime store.
type Memory struct {
	mu   sync.RWMutex
	vals map[string]string
}

func NewMemory() *Memory {
	return &Memory{vals: make(map[string]string)}
}

func (m *Memory) Get(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.vals[key]
	return v, ok
}

func (m *Memory) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vals[key] = value
	return nil
}

func (m *Memory) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.vals, key)
	return nil
}

// File persists values as a single JSON document, rewritten atomically.
type File struct {
	path string
	mem  *Memory
	mu   sync.Mutex
}

func OpenFile(path string) (*File, error) {
	f := &File{path: path, mem: NewMemory()}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return f, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}
	if len(data) == 0 {
		return f, nil
	}
	if err := json.Unmarshal(data, &f.mem.vals); err != nil {
		return nil, fmt.Errorf("decode state file: %w", err)
	}
	if f.mem.vals == nil {
		f.mem.vals = make(map[string]string)
	}
	return f, nil
}

func (f *File) Get(key string) (string, bool) {
	return f.mem.Get(key)
}

func (f *File) Set(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.mem.Set(key, value); err != nil {
		return err
	}
	return f.flush()
}

func (f *File) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.mem.Delete(key); err != nil {
		return err
	}
	return f.flush()
}

func (f *File) flush() error {
	f.mem.mu.RLock()
	data, err := json.MarshalIndent(f.mem.vals, "", "  ")
	f.mem.mu.RUnlock()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	return os.Rename(tmp, f.path)
}
