package pipeline

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Default topic names, one per message type.
const (
	TopicDomainBatches     = "domain-batches"
	TopicTokenBatches      = "token-batches"
	TopicDomainWarnings    = "domain-warnings"
	TopicTokenPriceUpdates = "token-price-updates"
)

// DomainStore persists authoritative domain records keyed by id.
type DomainStore interface {
	Count(ctx context.Context) (int, error)
	// List returns a page ordered by id.
	List(ctx context.Context, offset, limit int) ([]DomainRecord, error)
	IDs(ctx context.Context) ([]int64, error)
	BulkCreate(ctx context.Context, records []DomainRecord) (int, error)
	BulkUpdate(ctx context.Context, records []DomainRecord) (int, error)
	BulkRemove(ctx context.Context, ids []int64) (int, error)
}

// TokenStore exposes tokens for paginated dispatch.
type TokenStore interface {
	Count(ctx context.Context) (int, error)
	List(ctx context.Context, offset, limit int) ([]Token, error)
}

// FeedStore persists price feed entries.
type FeedStore interface {
	CreatePending(ctx context.Context, entries []FeedEntry) error
	// MarkProcessing moves pending entries to processing.
	MarkProcessing(ctx context.Context, ids []uuid.UUID, at time.Time) error
	// SaveOutcomes writes terminal outcomes for processing entries.
	SaveOutcomes(ctx context.Context, entries []FeedEntry) error
}

// WarningFeedStore upserts warning outcomes keyed by domain and browser variant.
type WarningFeedStore interface {
	Upsert(ctx context.Context, feed WarningFeed) error
}

// SourceClient returns the full authoritative domain list from the remote system.
type SourceClient interface {
	FetchDomains(ctx context.Context) ([]DomainRecord, error)
}

// WarningChecker reports whether a browser shows a security warning for a domain.
type WarningChecker interface {
	Check(ctx context.Context, domainName string) (bool, error)
}

// PriceFetcher returns the current price for a token.
type PriceFetcher interface {
	FetchPrice(ctx context.Context, token TokenRef) (decimal.Decimal, error)
}

// Publisher sends a payload to a named topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Handler processes one delivered message. A non-nil error requests redelivery.
type Handler func(ctx context.Context, payload []byte) error

// Subscriber delivers messages of a topic to handler on behalf of a consumer group.
// Subscribe blocks until ctx is canceled or the subscription fails.
type Subscriber interface {
	Subscribe(ctx context.Context, topic, group string, handler Handler) error
}

// Bus combines publishing and subscribing over one transport.
type Bus interface {
	Publisher
	Subscriber
	Close() error
}

// BlobStore persists opaque artifacts such as source snapshots.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator creates unique identifiers for batches and feed entries.
type IDGenerator interface {
	NewID() (uuid.UUID, error)
}
