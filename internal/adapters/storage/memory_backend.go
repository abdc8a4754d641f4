package storage

import (
	"context"
	"time"

	json "github.com/goccy/go-json"

	"github.com/eleven-am/loom/internal/domain"
	"github.com/eleven-am/loom/internal/ports"
)

// MemoryBackend is the default ports.MemoryBackend: a key-value TTL store
// for MEMORY nodes layered on the engine's storage. Deployments with a
// dedicated persistence service supply their own implementation instead.
type MemoryBackend struct {
	store ports.Storage
	ttl   time.Duration
}

func NewMemoryBackend(store ports.Storage, ttl time.Duration) *MemoryBackend {
	return &MemoryBackend{
		store: store,
		ttl:   ttl,
	}
}

func (m *MemoryBackend) Store(ctx context.Context, userID, memoryNodeID string, payload map[string]interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	key := MemoryKey(userID, memoryNodeID)
	if m.ttl > 0 {
		return m.store.PutWithTTL(ctx, key, data, m.ttl)
	}
	return m.store.Put(ctx, key, data)
}

func (m *MemoryBackend) Retrieve(ctx context.Context, userID, memoryNodeID string) (map[string]interface{}, error) {
	data, err := m.store.Get(ctx, MemoryKey(userID, memoryNodeID))
	if err != nil {
		return nil, err
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func (m *MemoryBackend) Update(ctx context.Context, userID, memoryNodeID string, payload map[string]interface{}) error {
	existing, err := m.Retrieve(ctx, userID, memoryNodeID)
	if err != nil {
		if domain.IsNotFound(err) {
			return m.Store(ctx, userID, memoryNodeID, payload)
		}
		return err
	}
	for key, value := range payload {
		existing[key] = value
	}
	return m.Store(ctx, userID, memoryNodeID, existing)
}

func (m *MemoryBackend) Delete(ctx context.Context, userID, memoryNodeID string) error {
	return m.store.Delete(ctx, MemoryKey(userID, memoryNodeID))
}
