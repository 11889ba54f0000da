package store

import (
	"context"
	"maps"
	"sort"
	"sync"

	dErrors "lattice/pkg/domain-errors"
)

// MemoryStore is an in-memory Store for tests and local development. Batches
// apply atomically under a single lock, matching the per-batch atomicity the
// engine assumes from the real store.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[Key]map[string]any
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[Key]map[string]any)}
}

// Get returns the document at key.
func (s *MemoryStore) Get(ctx context.Context, key Key) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.docs[key]
	if !ok {
		return Document{}, dErrors.Newf(dErrors.CodeNotFound, "document %s not found", key)
	}
	return Document{Key: key, Data: deepCopy(data)}, nil
}

// List returns all documents in the tenant's collection matching every
// filter, ordered by document id for determinism.
func (s *MemoryStore) List(ctx context.Context, tenantID, collection string, filters ...Filter) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Document
	for key, data := range s.docs {
		if key.TenantID != tenantID || key.Collection != collection {
			continue
		}
		if !matchesAll(data, filters) {
			continue
		}
		out = append(out, Document{Key: key, Data: deepCopy(data)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.ID < out[j].Key.ID })
	return out, nil
}

// BatchWrite applies every op under one lock. Updates against absent
// documents fail the whole batch, mirroring store semantics.
func (s *MemoryStore) BatchWrite(ctx context.Context, ops []WriteOp) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate before mutating so a failed batch leaves no partial state.
	for _, op := range ops {
		if op.Kind == OpUpdate {
			if _, ok := s.docs[op.Key]; !ok {
				return dErrors.Newf(dErrors.CodeNotFound, "update target %s not found", op.Key)
			}
		}
	}

	for _, op := range ops {
		switch op.Kind {
		case OpSet:
			s.docs[op.Key] = deepCopy(op.Data)
		case OpMerge, OpUpdate:
			existing, ok := s.docs[op.Key]
			if !ok {
				existing = make(map[string]any, len(op.Data))
				s.docs[op.Key] = existing
			}
			maps.Copy(existing, deepCopy(op.Data))
		case OpDelete:
			delete(s.docs, op.Key)
		}
	}
	return nil
}

// Count returns the number of documents in a tenant's collection. Test
// helper; not part of the Store interface.
func (s *MemoryStore) Count(tenantID, collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for key := range s.docs {
		if key.TenantID == tenantID && key.Collection == collection {
			n++
		}
	}
	return n
}

func matchesAll(data map[string]any, filters []Filter) bool {
	for _, f := range filters {
		if f.Field == "" {
			continue
		}
		if data[f.Field] != f.Value {
			return false
		}
	}
	return true
}

func deepCopy(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopy(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = copyValue(item)
		}
		return out
	default:
		return v
	}
}
