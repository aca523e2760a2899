package pipeline

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DomainStatus is the lifecycle tag carried by a domain record.
type DomainStatus string

// Domain status values accepted from the external source and on the bus.
const (
	DomainStatusActive   DomainStatus = "active"
	DomainStatusInactive DomainStatus = "inactive"
	DomainStatusPending  DomainStatus = "pending"
)

// Valid reports whether s is one of the known domain statuses.
func (s DomainStatus) Valid() bool {
	switch s {
	case DomainStatusActive, DomainStatusInactive, DomainStatusPending:
		return true
	default:
		return false
	}
}

// UnknownSymbol replaces a missing token symbol on dispatch.
const UnknownSymbol = "UNKNOWN"

// Domain is the work item reference carried inside a domain batch.
type Domain struct {
	ID     int64        `json:"id"`
	Name   string       `json:"name"`
	Status DomainStatus `json:"status"`
}

// DomainRecord is the authoritative record returned by the external source.
// Every field is required on the wire; only SSLData may be null.
type DomainRecord struct {
	ID                int64           `json:"id"`
	Name              string          `json:"name"`
	NetworkStatus     DomainStatus    `json:"network_status"`
	DefaultCampaignID int64           `json:"default_campaign_id"`
	State             DomainStatus    `json:"state"`
	CatchNotFound     bool            `json:"catch_not_found"`
	IsSSL             bool            `json:"is_ssl"`
	Notes             string          `json:"notes"`
	ErrorDescription  string          `json:"error_description"`
	SSLStatus         string          `json:"ssl_status"`
	SSLData           json.RawMessage `json:"ssl_data"`
	SSLRedirect       bool            `json:"ssl_redirect"`
	AllowIndexing     bool            `json:"allow_indexing"`
	CheckRetries      int             `json:"check_retries"`
	GroupID           int64           `json:"group_id"`
	AdminDashboard    bool            `json:"admin_dashboard"`
	Registrar         string          `json:"registrar"`
	ExternalID        string          `json:"external_id"`
	CloudflareProxy   bool            `json:"cloudflare_proxy"`
	CloudflareID      string          `json:"cloudflare_id"`
	DNSProvider       string          `json:"dns_provider"`
	CampaignsCount    int             `json:"campaigns_count"`
	DefaultCampaign   string          `json:"default_campaign"`
	Group             string          `json:"group"`
	ErrorSolution     string          `json:"error_solution"`
	Status            DomainStatus    `json:"status"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	NextCheckAt       time.Time       `json:"next_check_at"`
}

// Ref returns the bus reference for the record.
func (r DomainRecord) Ref() Domain {
	return Domain{ID: r.ID, Name: r.Name, Status: r.Status}
}

// Token is a priced asset owned by the token store.
type Token struct {
	ID     uuid.UUID
	Symbol *string
	Price  decimal.Decimal
}

// Ref returns the bus reference for the token, defaulting a missing symbol.
func (t Token) Ref() TokenRef {
	symbol := UnknownSymbol
	if t.Symbol != nil && *t.Symbol != "" {
		symbol = *t.Symbol
	}
	return TokenRef{ID: t.ID, Symbol: symbol, OldPrice: t.Price}
}

// TokenRef is the work item reference carried inside a token batch.
type TokenRef struct {
	ID       uuid.UUID
	Symbol   string
	OldPrice decimal.Decimal
}

// DomainBatch is the message published once per page of domains.
type DomainBatch struct {
	Domains   []Domain  `json:"domains"`
	BatchID   uuid.UUID `json:"batchId"`
	Timestamp time.Time `json:"timestamp"`
}

// TokenBatch is the message published once per page of tokens.
type TokenBatch struct {
	Tokens    []TokenRef
	BatchID   uuid.UUID
	Timestamp time.Time
}

// WarningFeed is the persisted warning outcome for one domain and browser variant.
type WarningFeed struct {
	DomainID       int64
	BrowserVariant string
	HasWarning     bool
	UpdatedAt      time.Time
}

// WarningEvent is emitted when a domain check reports a browser warning.
type WarningEvent struct {
	DomainID       int64     `json:"domainId"`
	DomainName     string    `json:"domainName"`
	HasWarning     bool      `json:"hasWarning"`
	BrowserVariant string    `json:"browserVariant"`
	Timestamp      time.Time `json:"timestamp"`
}

// PriceUpdateEvent is emitted when a token price was refreshed.
type PriceUpdateEvent struct {
	TokenID   uuid.UUID
	Symbol    string
	OldPrice  decimal.Decimal
	NewPrice  decimal.Decimal
	Timestamp time.Time
}
