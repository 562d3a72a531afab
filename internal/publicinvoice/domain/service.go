// Package domain defines the invoice document views: the
// unauthenticated public view reached through the tokenized link
// emailed to clients, and the PDF rendering shared with the
// authenticated API.
package domain

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	GetByToken(ctx context.Context, token string) (*PublicInvoiceResponse, error)
	RenderPDF(ctx context.Context, token string) (io.Reader, string, error)
	RenderPDFByID(ctx context.Context, id snowflake.ID) (io.Reader, string, error)
}

// PublicInvoiceResponse exposes only what a client needs to see:
// internal identifiers and audit data stay private.
type PublicInvoiceResponse struct {
	Number       string              `json:"number"`
	Status       string              `json:"status"`
	BusinessName string              `json:"business_name"`
	ClientName   string              `json:"client_name"`
	Currency     string              `json:"currency"`
	Subtotal     int64               `json:"subtotal_amount"`
	Discount     int64               `json:"discount_amount"`
	TaxLines     []PublicTaxLine     `json:"tax_lines,omitempty"`
	Total        int64               `json:"total_amount"`
	Items        []PublicInvoiceItem `json:"items"`
	Notes        *string             `json:"notes,omitempty"`
	SentAt       *time.Time          `json:"sent_at,omitempty"`
	PaidAt       *time.Time          `json:"paid_at,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
}

type PublicInvoiceItem struct {
	Description string `json:"description"`
	Quantity    int64  `json:"quantity"`
	UnitAmount  int64  `json:"unit_amount"`
	Amount      int64  `json:"amount"`
}

type PublicTaxLine struct {
	Name   string `json:"name"`
	Amount int64  `json:"amount"`
}

var ErrNotFound = errors.New("public_invoice_not_found")
