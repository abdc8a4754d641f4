package ports

import (
	"context"
	"time"
)

// Storage is the engine's durable key-value store: execution snapshots,
// suspension tokens, and the default memory backend all live behind it.
type Storage interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	PutWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// List returns all key/value pairs under a prefix.
	List(ctx context.Context, prefix string) (map[string][]byte, error)
	Close() error
}
