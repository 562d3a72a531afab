// Package repository holds the data-access layer for the invoice
// audit trail. The event table is append-only: this package exposes
// inserts and reads and nothing else, so no caller can rewrite
// history.
package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	invoicedomain "github.com/smallbiznis/faktur/internal/invoice/domain"
	"github.com/smallbiznis/faktur/pkg/db/pagination"
	"gorm.io/gorm"
)

type EventRepository struct {
	node *snowflake.Node
}

func NewEventRepository(node *snowflake.Node) invoicedomain.EventRepository {
	return &EventRepository{node: node}
}

// Insert appends an event inside the caller's transaction so the
// audit record commits or rolls back together with the state change
// it describes.
func (r *EventRepository) Insert(ctx context.Context, tx *gorm.DB, event *invoicedomain.InvoiceEvent) error {
	if event.ID == 0 {
		event.ID = r.node.Generate()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	return tx.WithContext(ctx).Create(event).Error
}

func (r *EventRepository) ListByInvoice(
	ctx context.Context,
	tx *gorm.DB,
	accountID, invoiceID snowflake.ID,
	cursor *pagination.Cursor,
	limit int32,
) ([]*invoicedomain.InvoiceEvent, error) {
	query := tx.WithContext(ctx).
		Model(&invoicedomain.InvoiceEvent{}).
		Where("account_id = ? AND invoice_id = ?", accountID, invoiceID)

	if cursor != nil && cursor.ID != "" {
		id, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return nil, invoicedomain.ErrInvalidPageToken
		}
		query = query.Where("id < ?", id)
	}

	var events []*invoicedomain.InvoiceEvent
	err := query.
		Order("id DESC").
		Limit(int(limit) + 1).
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}
