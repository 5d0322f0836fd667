// Package memory implements the record store in-memory for tests and local
// dry runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/examarchive/paperingest/internal/database"
	"github.com/examarchive/paperingest/internal/paper"
)

// Store keeps paper records in a map keyed by natural key.
type Store struct {
	mu     sync.RWMutex
	byKey  map[string]*database.PaperRecord
	byID   map[string]*database.PaperRecord
	nextID int
}

// New creates an empty in-memory record store.
func New() *Store {
	return &Store{
		byKey: make(map[string]*database.PaperRecord),
		byID:  make(map[string]*database.PaperRecord),
	}
}

// FindByNaturalKey implements database.Store.
func (s *Store) FindByNaturalKey(_ context.Context, id paper.Identity) (*database.PaperRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byKey[id.NaturalKey()]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

// Insert implements database.Store.
func (s *Store) Insert(_ context.Context, record database.PaperRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := record.Identity().NaturalKey()
	if _, exists := s.byKey[key]; exists {
		return "", fmt.Errorf("natural key already present: %s", key)
	}
	s.nextID++
	record.ID = fmt.Sprintf("%d", s.nextID)
	now := time.Now().UTC()
	record.CreatedAt = now
	record.LastUpdated = now
	s.byKey[key] = &record
	s.byID[record.ID] = &record
	return record.ID, nil
}

// UpdateVector implements database.Store.
func (s *Store) UpdateVector(_ context.Context, recordID string, vector []float32, model string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[recordID]
	if !ok {
		return fmt.Errorf("no record with id %s", recordID)
	}
	rec.Vector = append([]float32(nil), vector...)
	rec.VectorModel = model
	rec.LastUpdated = time.Now().UTC()
	return nil
}

// ListMissingVectors implements database.Store.
func (s *Store) ListMissingVectors(_ context.Context, limit int) ([]database.PaperRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []database.PaperRecord
	for _, rec := range s.byKey {
		if rec.Vector == nil {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close implements database.Store.
func (s *Store) Close() error { return nil }

// Len reports the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byKey)
}

// All returns a snapshot of every record, for test assertions.
func (s *Store) All() []database.PaperRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]database.PaperRecord, 0, len(s.byKey))
	for _, rec := range s.byKey {
		out = append(out, *rec)
	}
	return out
}
