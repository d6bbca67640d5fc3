package keystore

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Memory is an in-process Store.
type Memory struct {
	mu    sync.RWMutex
	keys  map[string]*KeyRecord
	links map[string]string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		keys:  make(map[string]*KeyRecord),
		links: make(map[string]string),
	}
}

// GetKey implements Store.
func (m *Memory) GetKey(_ context.Context, name string) (*KeyRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.keys[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, name)
	}
	return rec.Clone(), nil
}

// PutKey implements Store.
func (m *Memory) PutKey(_ context.Context, rec *KeyRecord) error {
	if rec == nil || rec.Name == "" {
		return fmt.Errorf("key record requires a name")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[rec.Name] = rec.Clone()
	return nil
}

// ListKeys implements Store.
func (m *Memory) ListKeys(_ context.Context) ([]*KeyRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*KeyRecord, 0, len(m.keys))
	for _, rec := range m.keys {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// GetLink implements Store.
func (m *Memory) GetLink(_ context.Context, address string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	name, ok := m.links[address]
	return name, ok, nil
}

// LinkAddress implements Store.
func (m *Memory) LinkAddress(_ context.Context, address, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links[address] = name
	return nil
}
