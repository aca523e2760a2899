package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// FieldError describes one rejected field of an inbound message.
type FieldError struct {
	Field   string
	Message string
}

// ValidationError is returned by the Parse functions when a message is malformed.
type ValidationError struct {
	Kind   string
	Cause  error
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("invalid %s: %v", e.Kind, e.Cause)
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return fmt.Sprintf("invalid %s: %s", e.Kind, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error {
	return e.Cause
}

func (e *ValidationError) add(field, format string, args ...any) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (e *ValidationError) orNil() error {
	if e.Cause == nil && len(e.Fields) == 0 {
		return nil
	}
	return e
}

type domainWire struct {
	ID     *int64  `json:"id"`
	Name   *string `json:"name"`
	Status *string `json:"status"`
}

type domainBatchWire struct {
	Domains   []domainWire `json:"domains"`
	BatchID   *string      `json:"batchId"`
	Timestamp *time.Time   `json:"timestamp"`
}

type tokenRefWire struct {
	ID       *string      `json:"id"`
	Symbol   *string      `json:"symbol"`
	OldPrice *json.Number `json:"oldPrice"`
}

type tokenBatchWire struct {
	Tokens    []tokenRefWire `json:"tokens"`
	BatchID   *string        `json:"batchId"`
	Timestamp *time.Time     `json:"timestamp"`
}

type priceUpdateWire struct {
	TokenID   *string      `json:"tokenId"`
	Symbol    *string      `json:"symbol"`
	OldPrice  *json.Number `json:"oldPrice"`
	NewPrice  *json.Number `json:"newPrice"`
	Timestamp *time.Time   `json:"timestamp"`
}

type warningEventWire struct {
	DomainID       *int64     `json:"domainId"`
	DomainName     *string    `json:"domainName"`
	HasWarning     *bool      `json:"hasWarning"`
	BrowserVariant *string    `json:"browserVariant"`
	Timestamp      *time.Time `json:"timestamp"`
}

// ParseDomainBatch decodes and validates a domain batch message.
func ParseDomainBatch(data []byte) (DomainBatch, error) {
	verr := &ValidationError{Kind: "domain batch"}
	var wire domainBatchWire
	if err := json.Unmarshal(data, &wire); err != nil {
		verr.Cause = err
		return DomainBatch{}, verr
	}
	batch := DomainBatch{
		BatchID:   parseBatchHeader(verr, wire.BatchID, wire.Timestamp),
		Timestamp: timeOrZero(wire.Timestamp),
	}
	if wire.Domains == nil {
		verr.add("domains", "required")
	}
	batch.Domains = make([]Domain, 0, len(wire.Domains))
	for i, d := range wire.Domains {
		field := fmt.Sprintf("domains[%d]", i)
		var domain Domain
		switch {
		case d.ID == nil:
			verr.add(field+".id", "required")
		case *d.ID <= 0:
			verr.add(field+".id", "must be a positive integer")
		default:
			domain.ID = *d.ID
		}
		if d.Name == nil {
			verr.add(field+".name", "required")
		} else {
			domain.Name = *d.Name
		}
		switch {
		case d.Status == nil:
			verr.add(field+".status", "required")
		case !DomainStatus(*d.Status).Valid():
			verr.add(field+".status", "must be one of active, inactive, pending")
		default:
			domain.Status = DomainStatus(*d.Status)
		}
		batch.Domains = append(batch.Domains, domain)
	}
	if err := verr.orNil(); err != nil {
		return DomainBatch{}, err
	}
	return batch, nil
}

// ParseTokenBatch decodes and validates a token batch message.
func ParseTokenBatch(data []byte) (TokenBatch, error) {
	verr := &ValidationError{Kind: "token batch"}
	var wire tokenBatchWire
	if err := json.Unmarshal(data, &wire); err != nil {
		verr.Cause = err
		return TokenBatch{}, verr
	}
	batch := TokenBatch{
		BatchID:   parseBatchHeader(verr, wire.BatchID, wire.Timestamp),
		Timestamp: timeOrZero(wire.Timestamp),
	}
	if wire.Tokens == nil {
		verr.add("tokens", "required")
	}
	batch.Tokens = make([]TokenRef, 0, len(wire.Tokens))
	for i, t := range wire.Tokens {
		field := fmt.Sprintf("tokens[%d]", i)
		var ref TokenRef
		ref.ID = parseUUID(verr, field+".id", t.ID)
		if t.Symbol == nil {
			verr.add(field+".symbol", "required")
		} else {
			ref.Symbol = *t.Symbol
		}
		ref.OldPrice = parsePrice(verr, field+".oldPrice", t.OldPrice)
		batch.Tokens = append(batch.Tokens, ref)
	}
	if err := verr.orNil(); err != nil {
		return TokenBatch{}, err
	}
	return batch, nil
}

// ParseWarningEvent decodes and validates a warning event.
func ParseWarningEvent(data []byte) (WarningEvent, error) {
	verr := &ValidationError{Kind: "warning event"}
	var wire warningEventWire
	if err := json.Unmarshal(data, &wire); err != nil {
		verr.Cause = err
		return WarningEvent{}, verr
	}
	var event WarningEvent
	if wire.DomainID == nil {
		verr.add("domainId", "required")
	} else {
		event.DomainID = *wire.DomainID
	}
	if wire.DomainName == nil {
		verr.add("domainName", "required")
	} else {
		event.DomainName = *wire.DomainName
	}
	if wire.HasWarning == nil {
		verr.add("hasWarning", "required")
	} else {
		event.HasWarning = *wire.HasWarning
	}
	if wire.BrowserVariant == nil {
		verr.add("browserVariant", "required")
	} else {
		event.BrowserVariant = *wire.BrowserVariant
	}
	if wire.Timestamp == nil {
		verr.add("timestamp", "required")
	} else {
		event.Timestamp = *wire.Timestamp
	}
	if err := verr.orNil(); err != nil {
		return WarningEvent{}, err
	}
	return event, nil
}

// ParsePriceUpdateEvent decodes and validates a price update event.
func ParsePriceUpdateEvent(data []byte) (PriceUpdateEvent, error) {
	verr := &ValidationError{Kind: "price update event"}
	var wire priceUpdateWire
	if err := json.Unmarshal(data, &wire); err != nil {
		verr.Cause = err
		return PriceUpdateEvent{}, verr
	}
	event := PriceUpdateEvent{
		TokenID:  parseUUID(verr, "tokenId", wire.TokenID),
		OldPrice: parsePrice(verr, "oldPrice", wire.OldPrice),
		NewPrice: parsePrice(verr, "newPrice", wire.NewPrice),
	}
	if wire.Symbol == nil {
		verr.add("symbol", "required")
	} else {
		event.Symbol = *wire.Symbol
	}
	if wire.Timestamp == nil {
		verr.add("timestamp", "required")
	} else {
		event.Timestamp = *wire.Timestamp
	}
	if err := verr.orNil(); err != nil {
		return PriceUpdateEvent{}, err
	}
	return event, nil
}

// MarshalJSON encodes prices as JSON numbers.
func (b TokenBatch) MarshalJSON() ([]byte, error) {
	tokens := make([]tokenRefWire, 0, len(b.Tokens))
	for _, t := range b.Tokens {
		id := t.ID.String()
		symbol := t.Symbol
		price := json.Number(t.OldPrice.String())
		tokens = append(tokens, tokenRefWire{ID: &id, Symbol: &symbol, OldPrice: &price})
	}
	batchID := b.BatchID.String()
	ts := b.Timestamp
	data, err := json.Marshal(tokenBatchWire{Tokens: tokens, BatchID: &batchID, Timestamp: &ts})
	if err != nil {
		return nil, fmt.Errorf("marshal token batch: %w", err)
	}
	return data, nil
}

// MarshalJSON encodes prices as JSON numbers.
func (e PriceUpdateEvent) MarshalJSON() ([]byte, error) {
	id := e.TokenID.String()
	symbol := e.Symbol
	oldPrice := json.Number(e.OldPrice.String())
	newPrice := json.Number(e.NewPrice.String())
	ts := e.Timestamp
	data, err := json.Marshal(priceUpdateWire{
		TokenID:   &id,
		Symbol:    &symbol,
		OldPrice:  &oldPrice,
		NewPrice:  &newPrice,
		Timestamp: &ts,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal price update: %w", err)
	}
	return data, nil
}

func parseBatchHeader(verr *ValidationError, batchID *string, ts *time.Time) uuid.UUID {
	if ts == nil {
		verr.add("timestamp", "required")
	}
	return parseUUID(verr, "batchId", batchID)
}

func parseUUID(verr *ValidationError, field string, raw *string) uuid.UUID {
	if raw == nil {
		verr.add(field, "required")
		return uuid.Nil
	}
	id, err := uuid.Parse(*raw)
	if err != nil {
		verr.add(field, "must be a UUID")
		return uuid.Nil
	}
	return id
}

func parsePrice(verr *ValidationError, field string, raw *json.Number) decimal.Decimal {
	if raw == nil {
		verr.add(field, "required")
		return decimal.Zero
	}
	price, err := decimal.NewFromString(raw.String())
	if err != nil {
		verr.add(field, "must be a number")
		return decimal.Zero
	}
	if price.IsNegative() {
		verr.add(field, "must be >= 0")
		return decimal.Zero
	}
	return price
}

func timeOrZero(ts *time.Time) time.Time {
	if ts == nil {
		return time.Time{}
	}
	return *ts
}
