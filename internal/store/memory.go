package store

import (
	"context"
	"sort"
	"sync"

	"github.com/miradorstack/mirador-autoops/internal/utils"
)

// Memory is a Repository backed by a sync.Map, so lookups on different ids never contend.
type Memory[T any] struct {
	kind  string
	items sync.Map // id -> T
}

// NewMemory creates an empty repository. kind names the entity in errors.
func NewMemory[T any](kind string) *Memory[T] {
	return &Memory[T]{kind: kind}
}

func (m *Memory[T]) Get(_ context.Context, id string) (T, error) {
	value, ok := m.items.Load(id)
	if !ok {
		var zero T
		return zero, utils.NotFound("store.Get", m.kind, id)
	}
	return value.(T), nil
}

func (m *Memory[T]) Put(_ context.Context, id string, value T) error {
	m.items.Store(id, value)
	return nil
}

func (m *Memory[T]) Delete(_ context.Context, id string) error {
	if _, loaded := m.items.LoadAndDelete(id); !loaded {
		return utils.NotFound("store.Delete", m.kind, id)
	}
	return nil
}

// List returns every value ordered by id.
func (m *Memory[T]) List(_ context.Context) ([]T, error) {
	type entry struct {
		id    string
		value T
	}
	entries := make([]entry, 0)
	m.items.Range(func(key, value any) bool {
		entries = append(entries, entry{id: key.(string), value: value.(T)})
		return true
	})
	sort.Slice(entries, func(i, j int) bool { return entries[i].id < entries[j].id })

	out := make([]T, len(entries))
	for i, e := range entries {
		out[i] = e.value
	}
	return out, nil
}
