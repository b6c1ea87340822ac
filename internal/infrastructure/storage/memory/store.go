// Package memory provides an in-memory destination store for tests and
// local runs. Semantics mirror the remote drivers: conditioned writes,
// copies in and out, no partial application.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"unitcast/internal/domain/projection"
)

// Store keeps projection records in a map guarded by a mutex.
type Store struct {
	mu      sync.RWMutex
	records map[projection.Identity]*projection.Record
}

// New creates an empty store.
func New() *Store {
	return &Store{records: make(map[projection.Identity]*projection.Record)}
}

// GetByIdentity returns a copy of the record at the composite key.
func (s *Store) GetByIdentity(ctx context.Context, id projection.Identity) (*projection.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, projection.ErrNotFound
	}
	return clone(rec), nil
}

// PutIfAbsent stores a copy of the record unless the identity is taken.
func (s *Store) PutIfAbsent(ctx context.Context, rec *projection.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := rec.Identity()
	if _, ok := s.records[id]; ok {
		return projection.ErrAlreadyExists
	}
	s.records[id] = clone(rec)
	return nil
}

// UpdateIfIdentityMatches applies the attribute set and lifecycle timestamp
// to an existing record.
func (s *Store) UpdateIfIdentityMatches(ctx context.Context, id projection.Identity, attrs []projection.FieldValue, tsField string, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return projection.ErrNotFound
	}

	for _, fv := range attrs {
		rec.Attributes.Set(fv.Name, fv.Value)
	}

	switch tsField {
	case projection.FieldCreatedAt:
		rec.CreatedAt = &ts
	case projection.FieldUpdatedAt:
		rec.UpdatedAt = &ts
	case projection.FieldDeletedAt:
		rec.DeletedAt = &ts
	default:
		return fmt.Errorf("unknown lifecycle field %q", tsField)
	}
	return nil
}

// Seed inserts records directly, bypassing conditions. Test helper.
func (s *Store) Seed(recs ...*projection.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range recs {
		s.records[rec.Identity()] = clone(rec)
	}
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func clone(rec *projection.Record) *projection.Record {
	out := *rec
	out.Attributes = rec.Attributes.Clone()
	return &out
}
