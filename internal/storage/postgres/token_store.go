package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/JakeFAU/domain-sentinel/internal/pipeline"
)

// TokenStore reads tokens for dispatch.
type TokenStore struct {
	pool  Pool
	table string
}

var _ pipeline.TokenStore = (*TokenStore)(nil)

// Count returns the number of tokens.
func (s *TokenStore) Count(ctx context.Context) (int, error) {
	return count(ctx, s.pool, s.table)
}

// List returns a page of tokens ordered by id. Prices are read as text so no
// precision is lost on the way into decimal.
func (s *TokenStore) List(ctx context.Context, offset, limit int) ([]pipeline.Token, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf("SELECT id::text, symbol, price::text FROM %s ORDER BY id OFFSET $1 LIMIT $2", s.table),
		offset, limit)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	defer rows.Close()

	var out []pipeline.Token
	for rows.Next() {
		var (
			id     string
			symbol *string
			price  string
		)
		if err := rows.Scan(&id, &symbol, &price); err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		tokenID, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("token id %q: %w", id, err)
		}
		p, err := decimal.NewFromString(price)
		if err != nil {
			return nil, fmt.Errorf("token %s price %q: %w", id, price, err)
		}
		out = append(out, pipeline.Token{ID: tokenID, Symbol: symbol, Price: p})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	return out, nil
}
