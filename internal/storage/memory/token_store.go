package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/JakeFAU/domain-sentinel/internal/pipeline"
)

// TokenStore holds tokens in insertion order.
type TokenStore struct {
	mu     sync.RWMutex
	tokens []pipeline.Token
}

var _ pipeline.TokenStore = (*TokenStore)(nil)

// NewTokenStore seeds a store with tokens.
func NewTokenStore(tokens ...pipeline.Token) *TokenStore {
	return &TokenStore{tokens: append([]pipeline.Token(nil), tokens...)}
}

// Count returns the number of tokens.
func (s *TokenStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens), nil
}

// List returns one page of tokens.
func (s *TokenStore) List(_ context.Context, offset, limit int) ([]pipeline.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if offset >= len(s.tokens) || limit <= 0 {
		return nil, nil
	}
	end := min(offset+limit, len(s.tokens))
	return append([]pipeline.Token(nil), s.tokens[offset:end]...), nil
}

// SetPrice updates the stored price of a token. It mirrors the feed trigger
// of the Postgres schema.
func (s *TokenStore) SetPrice(id uuid.UUID, price decimal.Decimal) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.tokens {
		if s.tokens[i].ID == id {
			s.tokens[i].Price = price
			return true
		}
	}
	return false
}
