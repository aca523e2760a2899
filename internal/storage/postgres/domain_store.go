package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/domain-sentinel/internal/pipeline"
)

// DomainStore keeps each record as jsonb next to its indexed columns.
type DomainStore struct {
	pool  Pool
	table string
}

var _ pipeline.DomainStore = (*DomainStore)(nil)

// Count returns the number of domains.
func (s *DomainStore) Count(ctx context.Context) (int, error) {
	return count(ctx, s.pool, s.table)
}

// List returns a page of records ordered by id.
func (s *DomainStore) List(ctx context.Context, offset, limit int) ([]pipeline.DomainRecord, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf("SELECT record FROM %s ORDER BY id OFFSET $1 LIMIT $2", s.table),
		offset, limit)
	if err != nil {
		return nil, fmt.Errorf("list domains: %w", err)
	}
	defer rows.Close()

	var out []pipeline.DomainRecord
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan domain: %w", err)
		}
		var rec pipeline.DomainRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("decode domain record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list domains: %w", err)
	}
	return out, nil
}

// IDs returns every domain id in ascending order.
func (s *DomainStore) IDs(ctx context.Context) ([]int64, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf("SELECT id FROM %s ORDER BY id", s.table))
	if err != nil {
		return nil, fmt.Errorf("list domain ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan domain id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list domain ids: %w", err)
	}
	return ids, nil
}

// BulkCreate inserts records in one statement, skipping ids that already exist.
func (s *DomainStore) BulkCreate(ctx context.Context, records []pipeline.DomainRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	cols, err := domainColumns(records)
	if err != nil {
		return 0, err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, name, status, record)
SELECT u.id, u.name, u.status, u.record::jsonb
FROM unnest($1::bigint[], $2::text[], $3::text[], $4::text[]) AS u(id, name, status, record)
ON CONFLICT (id) DO NOTHING`, s.table)
	tag, err := s.pool.Exec(ctx, query, cols.ids, cols.names, cols.statuses, cols.records)
	if err != nil {
		return 0, fmt.Errorf("bulk create domains: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// BulkUpdate rewrites existing records in one statement.
func (s *DomainStore) BulkUpdate(ctx context.Context, records []pipeline.DomainRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	cols, err := domainColumns(records)
	if err != nil {
		return 0, err
	}
	query := fmt.Sprintf(`
UPDATE %s AS d
SET name = u.name, status = u.status, record = u.record::jsonb, updated_at = now()
FROM unnest($1::bigint[], $2::text[], $3::text[], $4::text[]) AS u(id, name, status, record)
WHERE d.id = u.id`, s.table)
	tag, err := s.pool.Exec(ctx, query, cols.ids, cols.names, cols.statuses, cols.records)
	if err != nil {
		return 0, fmt.Errorf("bulk update domains: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// BulkRemove deletes ids in one statement.
func (s *DomainStore) BulkRemove(ctx context.Context, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ANY($1::bigint[])", s.table), ids)
	if err != nil {
		return 0, fmt.Errorf("bulk remove domains: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

type domainCols struct {
	ids      []int64
	names    []string
	statuses []string
	records  []string
}

func domainColumns(records []pipeline.DomainRecord) (domainCols, error) {
	cols := domainCols{
		ids:      make([]int64, len(records)),
		names:    make([]string, len(records)),
		statuses: make([]string, len(records)),
		records:  make([]string, len(records)),
	}
	for i, r := range records {
		raw, err := json.Marshal(r)
		if err != nil {
			return domainCols{}, fmt.Errorf("encode domain %d: %w", r.ID, err)
		}
		cols.ids[i] = r.ID
		cols.names[i] = r.Name
		cols.statuses[i] = string(r.Status)
		cols.records[i] = string(raw)
	}
	return cols, nil
}
