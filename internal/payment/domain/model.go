// Package domain defines the payment reconciliation contract:
// processor webhooks are verified and parsed by provider adapters,
// then drive the invoice lifecycle through its normal entry points.
package domain

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const (
	EventTypePaymentSucceeded = "payment_succeeded"
	EventTypePaymentFailed    = "payment_failed"
	EventTypeRefundSucceeded  = "refund_succeeded"
	EventTypePayoutAccount    = "payout_account_updated"
)

const (
	WebhookStatusReceived  = "received"
	WebhookStatusProcessed = "processed"
	WebhookStatusIgnored   = "ignored"
	WebhookStatusRejected  = "rejected"
	WebhookStatusFailed    = "failed"
)

// PaymentEvent is the provider-neutral form of an inbound webhook.
type PaymentEvent struct {
	Provider        string
	ProviderEventID string
	// ProviderPaymentRef is the processor-side payment or refund
	// reference used as the idempotency key on the invoice.
	ProviderPaymentRef string
	Type               string

	AccountID snowflake.ID
	InvoiceID *snowflake.ID

	Amount   int64
	Currency string

	// PayoutsEnabled applies only to payout account events.
	PayoutsEnabled bool

	OccurredAt time.Time
	RawPayload []byte
}

// WebhookEvent is the dedupe record: one row per (provider, event id)
// ever received, with the processing outcome.
type WebhookEvent struct {
	ID              snowflake.ID   `gorm:"primaryKey" json:"id"`
	Provider        string         `gorm:"type:text;not null;uniqueIndex:ux_webhook_provider_event" json:"provider"`
	ProviderEventID string         `gorm:"type:text;not null;uniqueIndex:ux_webhook_provider_event" json:"provider_event_id"`
	Status          string         `gorm:"type:text;not null" json:"status"`
	Detail          *string        `gorm:"type:text" json:"detail,omitempty"`
	Payload         datatypes.JSON `json:"payload,omitempty"`
	ReceivedAt      time.Time      `gorm:"not null" json:"received_at"`
	UpdatedAt       time.Time      `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (WebhookEvent) TableName() string { return "payment_webhook_events" }

type AdapterConfig struct {
	Provider string
	Secret   string
}

// PaymentAdapter verifies and parses one provider's webhook format.
type PaymentAdapter interface {
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*PaymentEvent, error)
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (PaymentAdapter, error)
}

type Service interface {
	IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error
}

var (
	ErrInvalidProvider  = errors.New("invalid_provider")
	ErrProviderNotFound = errors.New("provider_not_found")
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrInvalidEvent     = errors.New("invalid_event")
	ErrInvalidAccount   = errors.New("invalid_account_mapping")
	ErrInvalidConfig    = errors.New("invalid_config")
	ErrEventIgnored     = errors.New("event_ignored")
)
