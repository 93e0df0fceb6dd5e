// Package cache is the local persistence port. Each logical collection is
// stored as one opaque blob under a well-known key; the cache must survive
// process restarts so offline edits and the dirty queue outlive a reload.
package cache

import (
	"context"
	"sync"
)

// Well-known collection keys, shared with the remote store so local and
// remote copies mirror each other one-to-one.
const (
	KeyTransactions    = "transactions"
	KeyCards           = "cards"
	KeyStartingBalance = "startingBalance"
	KeyDirtyQueue      = "dirtyQueue"
	KeyAdjustments     = "invoiceAdjustments"
)

// Cache is the local key/value store. Get returns (nil, nil) for a key
// that was never written.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

// Memory is an in-process Cache used by tests and as a last-resort
// fallback when no durable path is configured.
type Memory struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewMemory returns an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}
