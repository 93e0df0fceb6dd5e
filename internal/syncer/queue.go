// Package syncer keeps the local ledger and the remote store converged:
// it tracks which collections carry unflushed local writes, pushes them
// with retry and backoff, and merges inbound remote changes without
// discarding pending local edits.
package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"saldo/internal/cache"
)

// Kind names a synced collection. Values double as cache and remote keys.
type Kind = string

const (
	KindTransactions    Kind = cache.KeyTransactions
	KindCards           Kind = cache.KeyCards
	KindStartingBalance Kind = cache.KeyStartingBalance
)

// Queue is the persisted set of dirty collection kinds. It survives
// restarts through the local cache so edits made offline are still pushed
// after the process comes back.
type Queue struct {
	mu    sync.Mutex
	dirty map[Kind]struct{}
	cache cache.Cache
}

// NewQueue returns an empty queue backed by c.
func NewQueue(c cache.Cache) *Queue {
	return &Queue{
		dirty: make(map[Kind]struct{}),
		cache: c,
	}
}

// Load hydrates the queue from the cache.
func (q *Queue) Load(ctx context.Context) error {
	blob, err := q.cache.Get(ctx, cache.KeyDirtyQueue)
	if err != nil {
		return fmt.Errorf("load dirty queue: %w", err)
	}
	if blob == nil {
		return nil
	}
	var kinds []Kind
	if err := json.Unmarshal(blob, &kinds); err != nil {
		return fmt.Errorf("decode dirty queue: %w", err)
	}

	q.mu.Lock()
	for _, k := range kinds {
		q.dirty[k] = struct{}{}
	}
	q.mu.Unlock()

	if len(kinds) > 0 {
		slog.InfoContext(ctx, "Dirty queue restored from cache", "kinds", kinds)
	}
	return nil
}

// MarkDirty adds kind to the set and persists. Persistence failures are
// logged, not returned: the in-memory flag still protects the edit for
// the lifetime of the process.
func (q *Queue) MarkDirty(ctx context.Context, kind Kind) {
	q.mu.Lock()
	_, already := q.dirty[kind]
	q.dirty[kind] = struct{}{}
	q.mu.Unlock()

	if !already {
		q.persist(ctx)
	}
}

// IsDirty reports whether kind has unflushed writes.
func (q *Queue) IsDirty(kind Kind) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.dirty[kind]
	return ok
}

// Snapshot returns the dirty kinds in stable order.
func (q *Queue) Snapshot() []Kind {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.sortedLocked()
}

// Take empties the queue and returns what it held, persisting the empty
// state. This is the optimistic half of a flush: callers must Restore on
// failure.
func (q *Queue) Take(ctx context.Context) []Kind {
	q.mu.Lock()
	kinds := q.sortedLocked()
	q.dirty = make(map[Kind]struct{})
	q.mu.Unlock()

	if len(kinds) > 0 {
		q.persist(ctx)
	}
	return kinds
}

// Restore unions kinds back into the queue. Edits made during a failed
// flush already re-marked their own kinds, so this is a union, never a
// replacement.
func (q *Queue) Restore(ctx context.Context, kinds []Kind) {
	if len(kinds) == 0 {
		return
	}
	q.mu.Lock()
	for _, k := range kinds {
		q.dirty[k] = struct{}{}
	}
	q.mu.Unlock()
	q.persist(ctx)
}

// Len returns the number of dirty kinds.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.dirty)
}

func (q *Queue) sortedLocked() []Kind {
	kinds := make([]Kind, 0, len(q.dirty))
	for k := range q.dirty {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

func (q *Queue) persist(ctx context.Context) {
	blob, err := json.Marshal(q.Snapshot())
	if err != nil {
		slog.ErrorContext(ctx, "Failed to encode dirty queue", "error", err)
		return
	}
	if err := q.cache.Set(ctx, cache.KeyDirtyQueue, blob); err != nil {
		slog.ErrorContext(ctx, "Failed to persist dirty queue", "error", err)
	}
}
