// Package cache stores HTTP responses in named partitions, the way Cache
// Storage does for a service worker.
package cache

import (
	"context"
	"errors"
	"net/http"
	"time"
)

const (
	Pages  = "pages"
	Assets = "assets"
	Media  = "media"
	API    = "api"
)

// ErrMiss is returned by Match when the key is not cached.
var ErrMiss = errors.New("cache: miss")

type Entry struct {
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"body"`
	StoredAt time.Time   `json:"stored_at"`
}

type Cache interface {
	Match(ctx context.Context, key string) (*Entry, error)
	Put(ctx context.Context, key string, e *Entry) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
}

type Storage interface {
	Open(name string) Cache
	Names(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, name string) error
}

// Versioned returns the partition name as stored, e.g. "pages-v3".
func Versioned(partition, version string) string {
	if version == "" {
		return partition
	}
	return partition + "-" + version
}
