package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// FeedStatus is the processing state of a price feed entry.
type FeedStatus string

// Feed states. Processed and failed are terminal.
const (
	FeedStatusPending    FeedStatus = "pending"
	FeedStatusProcessing FeedStatus = "processing"
	FeedStatusProcessed  FeedStatus = "processed"
	FeedStatusFailed     FeedStatus = "failed"
)

// ErrInvalidTransition is returned when a feed entry is moved out of order.
var ErrInvalidTransition = errors.New("invalid feed status transition")

// Terminal reports whether no transition may leave s.
func (s FeedStatus) Terminal() bool {
	return s == FeedStatusProcessed || s == FeedStatusFailed
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to FeedStatus) bool {
	switch from {
	case FeedStatusPending:
		return to == FeedStatusProcessing
	case FeedStatusProcessing:
		return to == FeedStatusProcessed || to == FeedStatusFailed
	default:
		return false
	}
}

// FeedEntry records the outcome of refreshing one token price.
type FeedEntry struct {
	ID        uuid.UUID
	TokenID   uuid.UUID
	Symbol    string
	Status    FeedStatus
	OldPrice  decimal.Decimal
	NewPrice  *decimal.Decimal
	Error     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewFeedEntry returns a pending entry for ref.
func NewFeedEntry(id uuid.UUID, ref TokenRef, now time.Time) FeedEntry {
	return FeedEntry{
		ID:        id,
		TokenID:   ref.ID,
		Symbol:    ref.Symbol,
		Status:    FeedStatusPending,
		OldPrice:  ref.OldPrice,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Transition moves the entry to status to.
func (e *FeedEntry) Transition(to FeedStatus, now time.Time) error {
	if !CanTransition(e.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.Status, to)
	}
	e.Status = to
	e.UpdatedAt = now
	return nil
}

// Complete marks a processing entry as processed with the fetched price.
func (e *FeedEntry) Complete(newPrice decimal.Decimal, now time.Time) error {
	if err := e.Transition(FeedStatusProcessed, now); err != nil {
		return err
	}
	e.NewPrice = &newPrice
	e.Error = nil
	return nil
}

// Fail marks a processing entry as failed with the captured message.
func (e *FeedEntry) Fail(msg string, now time.Time) error {
	if err := e.Transition(FeedStatusFailed, now); err != nil {
		return err
	}
	e.Error = &msg
	return nil
}
