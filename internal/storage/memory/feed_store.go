package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/domain-sentinel/internal/pipeline"
)

// FeedStore holds price feed entries. Transitions are guarded the same way as
// the SQL store: only pending rows become processing and only processing rows
// receive an outcome.
type FeedStore struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]pipeline.FeedEntry
	order   []uuid.UUID
	tokens  *TokenStore
}

var _ pipeline.FeedStore = (*FeedStore)(nil)

// NewFeedStore creates a FeedStore. When tokens is set, processed outcomes
// update the token price.
func NewFeedStore(tokens *TokenStore) *FeedStore {
	return &FeedStore{entries: make(map[uuid.UUID]pipeline.FeedEntry), tokens: tokens}
}

// CreatePending inserts pending entries. Duplicate ids fail the whole call.
func (s *FeedStore) CreatePending(_ context.Context, entries []pipeline.FeedEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		if _, ok := s.entries[e.ID]; ok {
			return fmt.Errorf("feed entry %s already exists", e.ID)
		}
		if e.Status != pipeline.FeedStatusPending {
			return fmt.Errorf("feed entry %s: create with status %s", e.ID, e.Status)
		}
	}
	for _, e := range entries {
		s.entries[e.ID] = e
		s.order = append(s.order, e.ID)
	}
	return nil
}

// MarkProcessing moves pending entries to processing and ignores others.
func (s *FeedStore) MarkProcessing(_ context.Context, ids []uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		e, ok := s.entries[id]
		if !ok {
			continue
		}
		if err := e.Transition(pipeline.FeedStatusProcessing, at); err != nil {
			continue
		}
		s.entries[id] = e
	}
	return nil
}

// SaveOutcomes writes terminal outcomes onto processing entries.
func (s *FeedStore) SaveOutcomes(_ context.Context, entries []pipeline.FeedEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, out := range entries {
		cur, ok := s.entries[out.ID]
		if !ok || cur.Status != pipeline.FeedStatusProcessing || !out.Status.Terminal() {
			continue
		}
		s.entries[out.ID] = out
		if out.Status == pipeline.FeedStatusProcessed && out.NewPrice != nil && s.tokens != nil {
			s.tokens.SetPrice(out.TokenID, *out.NewPrice)
		}
	}
	return nil
}

// Entries returns every entry in insertion order.
func (s *FeedStore) Entries() []pipeline.FeedEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]pipeline.FeedEntry, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.entries[id])
	}
	return out
}
