package storage

import (
	"context"
	"reflect"
	"sync"

	"github.com/google/uuid"
)

// Memory is a mutex-guarded in-memory Store. It backs tests and the
// database-less development mode; it is not durable.
type Memory struct {
	mu          sync.RWMutex
	collections map[string][]Record // insertion order preserved
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{collections: make(map[string][]Record)}
}

// Create inserts a record, assigning an id when absent.
func (s *Memory) Create(ctx context.Context, collection string, record Record) (Record, error) {
	stored := cloneRecord(record)
	if stored.ID() == "" {
		stored["id"] = uuid.New().String()
	}
	s.mu.Lock()
	s.collections[collection] = append(s.collections[collection], stored)
	s.mu.Unlock()
	return cloneRecord(stored), nil
}

// FindOne returns the first record matching the filter, or ErrNotFound.
func (s *Memory) FindOne(ctx context.Context, collection string, filter Filter) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.collections[collection] {
		if matches(rec, filter) {
			return cloneRecord(rec), nil
		}
	}
	return nil, ErrNotFound
}

// Find returns all records matching the filter, oldest first.
func (s *Memory) Find(ctx context.Context, collection string, filter Filter) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Record
	for _, rec := range s.collections[collection] {
		if matches(rec, filter) {
			out = append(out, cloneRecord(rec))
		}
	}
	return out, nil
}

// Update merges patch into the record with the given id.
func (s *Memory) Update(ctx context.Context, collection string, id string, patch Record) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, rec := range s.collections[collection] {
		if rec.ID() == id {
			merged := cloneRecord(rec)
			for k, v := range patch {
				merged[k] = v
			}
			s.collections[collection][i] = merged
			return cloneRecord(merged), nil
		}
	}
	return nil, ErrNotFound
}

// Delete removes the record with the given id, ignoring missing records.
func (s *Memory) Delete(ctx context.Context, collection string, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := s.collections[collection]
	for i, rec := range recs {
		if rec.ID() == id {
			s.collections[collection] = append(recs[:i:i], recs[i+1:]...)
			return nil
		}
	}
	return nil
}

func matches(rec Record, filter Filter) bool {
	for k, want := range filter {
		got, ok := rec[k]
		if !ok || !valueEqual(got, want) {
			return false
		}
	}
	return true
}

// valueEqual compares loosely across numeric kinds so that a filter built
// with an int matches a record round-tripped through JSON (float64).
func valueEqual(a, b any) bool {
	if fa, ok := asFloat(a); ok {
		if fb, ok := asFloat(b); ok {
			return fa == fb
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
