// Package domain contains persistence models for the invoice lifecycle.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	clientdomain "github.com/smallbiznis/faktur/internal/client/domain"
)

// Status represents invoice lifecycle states.
type Status string

const (
	StatusDraft    Status = "DRAFT"
	StatusSent     Status = "SENT"
	StatusPaid     Status = "PAID"
	StatusRefunded Status = "REFUNDED"
)

// PaidViaManual marks payments recorded by the account owner rather
// than a payment processor callback.
const PaidViaManual = "manual"

// Invoice is the aggregate root. The deleted flag is orthogonal to
// status: a soft-deleted invoice keeps its status and regains it on
// restore.
type Invoice struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	AccountID snowflake.ID `gorm:"not null;index;uniqueIndex:ux_invoices_account_number" json:"account_id"`
	ClientID  snowflake.ID `gorm:"not null;index" json:"client_id"`

	Number    string `gorm:"type:text;not null;uniqueIndex:ux_invoices_account_number" json:"number"`
	NumberSeq int64  `gorm:"not null" json:"-"`

	Status  Status `gorm:"type:text;not null;default:'DRAFT'" json:"status"`
	Deleted bool   `gorm:"not null;default:false" json:"deleted"`

	Currency       string  `gorm:"type:text;not null" json:"currency"`
	SubtotalAmount int64   `gorm:"not null;default:0" json:"subtotal_amount"`
	DiscountAmount int64   `gorm:"not null;default:0" json:"discount_amount"`
	Tax1Name       *string `gorm:"type:text" json:"tax1_name,omitempty"`
	Tax1Amount     int64   `gorm:"not null;default:0" json:"tax1_amount"`
	Tax2Name       *string `gorm:"type:text" json:"tax2_name,omitempty"`
	Tax2Amount     int64   `gorm:"not null;default:0" json:"tax2_amount"`
	TotalAmount    int64   `gorm:"not null;default:0" json:"total_amount"`

	PaymentRef *string `gorm:"type:text" json:"payment_ref,omitempty"`
	RefundRef  *string `gorm:"type:text" json:"refund_ref,omitempty"`
	PaidVia    *string `gorm:"type:text" json:"paid_via,omitempty"`

	PublicToken string  `gorm:"type:text;not null;uniqueIndex" json:"-"`
	Notes       *string `gorm:"type:text" json:"notes,omitempty"`

	SentAt     *time.Time `json:"sent_at,omitempty"`
	PaidAt     *time.Time `json:"paid_at,omitempty"`
	RefundedAt *time.Time `json:"refunded_at,omitempty"`
	CreatedAt  time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"not null" json:"updated_at"`

	Items  []InvoiceItem        `gorm:"-" json:"items,omitempty"`
	Client *clientdomain.Client `gorm:"-" json:"client,omitempty"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// InvoiceItem represents a line on an invoice. Items are owned by the
// invoice and replaced wholesale on edit, never patched in place.
type InvoiceItem struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	AccountID   snowflake.ID `gorm:"not null;index" json:"account_id"`
	InvoiceID   snowflake.ID `gorm:"not null;index" json:"invoice_id"`
	Description string       `gorm:"type:text" json:"description"`
	Quantity    int64        `gorm:"not null" json:"quantity"`
	UnitAmount  int64        `gorm:"not null" json:"unit_amount"`
	Amount      int64        `gorm:"not null" json:"amount"`
	CreatedAt   time.Time    `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (InvoiceItem) TableName() string { return "invoice_items" }

// EventType classifies entries in the invoice audit trail.
type EventType string

const (
	EventSent        EventType = "SENT"
	EventPaid        EventType = "PAID"
	EventRefunded    EventType = "REFUNDED"
	EventSoftDelete  EventType = "SOFT_DELETE"
	EventRestore     EventType = "RESTORE"
	EventEmailSent   EventType = "EMAIL_SENT"
	EventEmailFailed EventType = "EMAIL_FAILED"
)

// InvoiceEvent is an append-only audit record. A row exists if and
// only if a transition attempt succeeded in mutating invoice state.
type InvoiceEvent struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	AccountID snowflake.ID `gorm:"not null;index" json:"account_id"`
	InvoiceID snowflake.ID `gorm:"not null;index" json:"invoice_id"`
	Type      EventType    `gorm:"type:text;not null" json:"type"`
	ActorID   *string      `gorm:"type:text" json:"actor_id,omitempty"`
	Ref       *string      `gorm:"type:text" json:"ref,omitempty"`
	Notes     *string      `gorm:"type:text" json:"notes,omitempty"`
	CreatedAt time.Time    `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (InvoiceEvent) TableName() string { return "invoice_events" }

// TaxLine is a named tax component supplied on create/edit. An
// invoice carries at most two.
type TaxLine struct {
	Name   string `json:"name"`
	Amount int64  `json:"amount"`
}

// ItemInput is a line item supplied on create/edit.
type ItemInput struct {
	Description string `json:"description"`
	Quantity    int64  `json:"quantity"`
	UnitAmount  int64  `json:"unit_amount"`
}
