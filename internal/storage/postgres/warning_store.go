package postgres

import (
	"context"
	"fmt"

	"github.com/JakeFAU/domain-sentinel/internal/pipeline"
)

// WarningFeedStore upserts one row per domain and browser variant.
type WarningFeedStore struct {
	pool  Pool
	table string
}

var _ pipeline.WarningFeedStore = (*WarningFeedStore)(nil)

// Upsert inserts the row or overwrites the existing one for the same key.
func (s *WarningFeedStore) Upsert(ctx context.Context, feed pipeline.WarningFeed) error {
	query := fmt.Sprintf(`
INSERT INTO %s (domain_id, browser_variant, has_warning, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (domain_id, browser_variant) DO UPDATE
SET has_warning = EXCLUDED.has_warning, updated_at = EXCLUDED.updated_at`, s.table)
	_, err := s.pool.Exec(ctx, query, feed.DomainID, feed.BrowserVariant, feed.HasWarning, feed.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert warning feed: %w", err)
	}
	return nil
}
