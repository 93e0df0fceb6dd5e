// Package remote is the port to the authoritative store. The transport is
// deliberately a key/value contract with subscribe semantics: every change
// notification delivers the full current value of a key, never a diff, and
// may arrive at any time, including immediately on subscribe.
package remote

import (
	"context"
	"sync"
)

// Store is the remote key/value contract.
type Store interface {
	// Load returns the current value of key, or (nil, nil) if unset.
	Load(ctx context.Context, key string) ([]byte, error)

	// Save replaces the full value of key.
	Save(ctx context.Context, key string, value []byte) error

	// Subscribe registers onChange for key and returns an unsubscribe
	// function. Implementations may call onChange immediately with the
	// current value.
	Subscribe(key string, onChange func(value []byte)) (func(), error)
}

// Memory is an in-process Store for tests and single-machine setups.
// SaveErr, when set, makes every Save fail: tests use it to simulate the
// remote being unreachable.
type Memory struct {
	mu      sync.Mutex
	data    map[string][]byte
	subs    map[string]map[int]func([]byte)
	nextSub int

	SaveErr error
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		data: make(map[string][]byte),
		subs: make(map[string]map[int]func([]byte)),
	}
}

func (m *Memory) Load(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

func (m *Memory) Save(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	if m.SaveErr != nil {
		err := m.SaveErr
		m.mu.Unlock()
		return err
	}
	m.data[key] = append([]byte(nil), value...)
	listeners := make([]func([]byte), 0, len(m.subs[key]))
	for _, fn := range m.subs[key] {
		listeners = append(listeners, fn)
	}
	snapshot := append([]byte(nil), value...)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(snapshot)
	}
	return nil
}

func (m *Memory) Subscribe(key string, onChange func([]byte)) (func(), error) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	if m.subs[key] == nil {
		m.subs[key] = make(map[int]func([]byte))
	}
	m.subs[key][id] = onChange
	current, has := m.data[key]
	var snapshot []byte
	if has {
		snapshot = append([]byte(nil), current...)
	}
	m.mu.Unlock()

	// Full current value straight away, matching the live transports.
	if has {
		onChange(snapshot)
	}

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs[key], id)
	}, nil
}

// Push injects a value as if another client had written it remotely,
// notifying subscribers without going through Save's failure injection.
func (m *Memory) Push(key string, value []byte) {
	m.mu.Lock()
	m.data[key] = append([]byte(nil), value...)
	listeners := make([]func([]byte), 0, len(m.subs[key]))
	for _, fn := range m.subs[key] {
		listeners = append(listeners, fn)
	}
	snapshot := append([]byte(nil), value...)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(snapshot)
	}
}
