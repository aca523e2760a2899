package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/JakeFAU/domain-sentinel/internal/pipeline"
)

// DomainStore holds domain records keyed by id.
type DomainStore struct {
	mu      sync.RWMutex
	records map[int64]pipeline.DomainRecord
}

var _ pipeline.DomainStore = (*DomainStore)(nil)

// NewDomainStore seeds a store with records.
func NewDomainStore(records ...pipeline.DomainRecord) *DomainStore {
	s := &DomainStore{records: make(map[int64]pipeline.DomainRecord, len(records))}
	for _, r := range records {
		s.records[r.ID] = r
	}
	return s
}

// Count returns the number of stored records.
func (s *DomainStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

// List returns records ordered by id.
func (s *DomainStore) List(_ context.Context, offset, limit int) ([]pipeline.DomainRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.sortedIDsLocked()
	if offset >= len(ids) || limit <= 0 {
		return nil, nil
	}
	end := min(offset+limit, len(ids))
	out := make([]pipeline.DomainRecord, 0, end-offset)
	for _, id := range ids[offset:end] {
		out = append(out, s.records[id])
	}
	return out, nil
}

// IDs returns every stored id in ascending order.
func (s *DomainStore) IDs(_ context.Context) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedIDsLocked(), nil
}

// BulkCreate inserts records whose id is not stored yet.
func (s *DomainStore) BulkCreate(_ context.Context, records []pipeline.DomainRecord) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range records {
		if _, ok := s.records[r.ID]; ok {
			continue
		}
		s.records[r.ID] = r
		n++
	}
	return n, nil
}

// BulkUpdate replaces records whose id is already stored.
func (s *DomainStore) BulkUpdate(_ context.Context, records []pipeline.DomainRecord) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range records {
		if _, ok := s.records[r.ID]; !ok {
			continue
		}
		s.records[r.ID] = r
		n++
	}
	return n, nil
}

// BulkRemove deletes the given ids.
func (s *DomainStore) BulkRemove(_ context.Context, ids []int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, id := range ids {
		if _, ok := s.records[id]; ok {
			delete(s.records, id)
			n++
		}
	}
	return n, nil
}

// Get returns the record for id.
func (s *DomainStore) Get(id int64) (pipeline.DomainRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	return r, ok
}

func (s *DomainStore) sortedIDsLocked() []int64 {
	ids := make([]int64, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
