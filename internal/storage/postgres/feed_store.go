package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/domain-sentinel/internal/pipeline"
)

// FeedStore persists price feed entries. Each update only matches rows in the
// expected source state, so a redelivered batch cannot move a terminal row.
type FeedStore struct {
	pool  Pool
	table string
}

var _ pipeline.FeedStore = (*FeedStore)(nil)

// CreatePending inserts entries in one statement.
func (s *FeedStore) CreatePending(ctx context.Context, entries []pipeline.FeedEntry) error {
	if len(entries) == 0 {
		return nil
	}
	ids := make([]string, len(entries))
	tokenIDs := make([]string, len(entries))
	symbols := make([]string, len(entries))
	oldPrices := make([]string, len(entries))
	created := make([]time.Time, len(entries))
	for i, e := range entries {
		if e.Status != pipeline.FeedStatusPending {
			return fmt.Errorf("feed entry %s: create with status %s", e.ID, e.Status)
		}
		ids[i] = e.ID.String()
		tokenIDs[i] = e.TokenID.String()
		symbols[i] = e.Symbol
		oldPrices[i] = e.OldPrice.String()
		created[i] = e.CreatedAt
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, token_id, symbol, status, old_price, created_at, updated_at)
SELECT u.id::uuid, u.token_id::uuid, u.symbol, 'pending', u.old_price::numeric, u.created_at, u.created_at
FROM unnest($1::text[], $2::text[], $3::text[], $4::text[], $5::timestamptz[]) AS u(id, token_id, symbol, old_price, created_at)`, s.table)
	if _, err := s.pool.Exec(ctx, query, ids, tokenIDs, symbols, oldPrices, created); err != nil {
		return fmt.Errorf("create pending feed entries: %w", err)
	}
	return nil
}

// MarkProcessing moves pending rows to processing.
func (s *FeedStore) MarkProcessing(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	query := fmt.Sprintf(`
UPDATE %s SET status = 'processing', updated_at = $2
WHERE id = ANY($1::text[]::uuid[]) AND status = 'pending'`, s.table)
	if _, err := s.pool.Exec(ctx, query, uuidStrings(ids), at); err != nil {
		return fmt.Errorf("mark feed entries processing: %w", err)
	}
	return nil
}

// SaveOutcomes writes terminal outcomes onto processing rows in one statement.
func (s *FeedStore) SaveOutcomes(ctx context.Context, entries []pipeline.FeedEntry) error {
	if len(entries) == 0 {
		return nil
	}
	ids := make([]string, len(entries))
	statuses := make([]string, len(entries))
	newPrices := make([]*string, len(entries))
	errs := make([]*string, len(entries))
	updated := make([]time.Time, len(entries))
	for i, e := range entries {
		if !e.Status.Terminal() {
			return fmt.Errorf("feed entry %s: outcome status %s is not terminal", e.ID, e.Status)
		}
		ids[i] = e.ID.String()
		statuses[i] = string(e.Status)
		if e.NewPrice != nil {
			p := e.NewPrice.String()
			newPrices[i] = &p
		}
		errs[i] = e.Error
		updated[i] = e.UpdatedAt
	}
	query := fmt.Sprintf(`
UPDATE %s AS f
SET status = u.status::feed_status, new_price = u.new_price::numeric, error = u.error, updated_at = u.updated_at
FROM unnest($1::text[], $2::text[], $3::text[], $4::text[], $5::timestamptz[]) AS u(id, status, new_price, error, updated_at)
WHERE f.id = u.id::uuid AND f.status = 'processing'`, s.table)
	if _, err := s.pool.Exec(ctx, query, ids, statuses, newPrices, errs, updated); err != nil {
		return fmt.Errorf("save feed outcomes: %w", err)
	}
	return nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
