package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/domain-sentinel/internal/pipeline"
)

type warningKey struct {
	domainID int64
	variant  string
}

// WarningFeedStore keeps one row per domain and browser variant.
type WarningFeedStore struct {
	mu   sync.RWMutex
	rows map[warningKey]pipeline.WarningFeed
}

var _ pipeline.WarningFeedStore = (*WarningFeedStore)(nil)

// NewWarningFeedStore creates an empty store.
func NewWarningFeedStore() *WarningFeedStore {
	return &WarningFeedStore{rows: make(map[warningKey]pipeline.WarningFeed)}
}

// Upsert inserts or replaces the row for the feed's key.
func (s *WarningFeedStore) Upsert(_ context.Context, feed pipeline.WarningFeed) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[warningKey{domainID: feed.DomainID, variant: feed.BrowserVariant}] = feed
	return nil
}

// Get returns the row for domainID and variant.
func (s *WarningFeedStore) Get(domainID int64, variant string) (pipeline.WarningFeed, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.rows[warningKey{domainID: domainID, variant: variant}]
	return f, ok
}

// Len returns the number of rows.
func (s *WarningFeedStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}
