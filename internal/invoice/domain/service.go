package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/faktur/pkg/db/pagination"
	"gorm.io/gorm"
)

type CreateInvoiceRequest struct {
	ClientID       snowflake.ID `json:"client_id"`
	Currency       string       `json:"currency"`
	Items          []ItemInput  `json:"items"`
	DiscountAmount int64        `json:"discount_amount"`
	TaxLines       []TaxLine    `json:"tax_lines"`
	Notes          *string      `json:"notes,omitempty"`
}

// ReplaceItemsRequest swaps the full item set and re-applies the
// financial inputs; totals are always recomputed server-side.
type ReplaceItemsRequest struct {
	Items          []ItemInput `json:"items"`
	DiscountAmount *int64      `json:"discount_amount,omitempty"`
	TaxLines       []TaxLine   `json:"tax_lines,omitempty"`
}

type MarkPaidRequest struct {
	PaymentRef string  `json:"payment_ref"`
	Amount     *int64  `json:"amount,omitempty"`
	Currency   string  `json:"currency,omitempty"`
	Notes      *string `json:"notes,omitempty"`
}

type RefundRequest struct {
	RefundRef string  `json:"refund_ref"`
	Notes     *string `json:"notes,omitempty"`
}

type ListInvoiceRequest struct {
	Status         *Status
	ClientID       *snowflake.ID
	IncludeDeleted bool
}

type ListEventsRequest struct {
	pagination.Pagination
}

type ListEventsResponse struct {
	pagination.PageInfo
	Events []InvoiceEvent `json:"events"`
}

// Dispatcher delivers the client-facing notification after a Send
// transition commits. Implementations record the outcome as
// EMAIL_SENT / EMAIL_FAILED events and never fail the transition.
type Dispatcher interface {
	DispatchSent(ctx context.Context, invoice Invoice)
}

// EventRepository is the append-only audit trail. It deliberately
// exposes no update or delete path.
type EventRepository interface {
	Insert(ctx context.Context, tx *gorm.DB, event *InvoiceEvent) error
	ListByInvoice(ctx context.Context, tx *gorm.DB, accountID, invoiceID snowflake.ID, cursor *pagination.Cursor, limit int32) ([]*InvoiceEvent, error)
}

// Service is the invoice lifecycle engine. Transition operations
// return a Result and never surface business-rule rejections as
// errors; CRUD reads use conventional error returns.
type Service interface {
	Create(ctx context.Context, req CreateInvoiceRequest) (Invoice, error)
	GetByID(ctx context.Context, id snowflake.ID) (Invoice, error)
	GetByPublicToken(ctx context.Context, token string) (Invoice, error)
	List(ctx context.Context, req ListInvoiceRequest) ([]Invoice, error)
	ListEvents(ctx context.Context, id snowflake.ID, req ListEventsRequest) (ListEventsResponse, error)

	ReplaceItems(ctx context.Context, id snowflake.ID, req ReplaceItemsRequest) Result
	Send(ctx context.Context, id snowflake.ID, notes string) Result
	MarkPaid(ctx context.Context, id snowflake.ID, req MarkPaidRequest) Result
	Refund(ctx context.Context, id snowflake.ID, req RefundRequest) Result
	SoftDelete(ctx context.Context, id snowflake.ID) Result
	Restore(ctx context.Context, id snowflake.ID) Result
	RecordExternalPayment(ctx context.Context, id snowflake.ID, provider, processorRef string, amount int64, currency string) Result
}

var (
	ErrNotFound         = errors.New("invoice_not_found")
	ErrInvalidAccount   = errors.New("invalid_account")
	ErrClientNotFound   = errors.New("invoice_client_not_found")
	ErrNoItems          = errors.New("invoice_items_required")
	ErrInvalidAmount    = errors.New("invalid_amount")
	ErrInvalidCurrency  = errors.New("invalid_currency")
	ErrTooManyTaxLines  = errors.New("too_many_tax_lines")
	ErrInvalidPageToken = errors.New("invalid_page_token")
)
