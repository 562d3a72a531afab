package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/faktur/internal/accountcontext"
	clientdomain "github.com/smallbiznis/faktur/internal/client/domain"
	invoicedomain "github.com/smallbiznis/faktur/internal/invoice/domain"
	"github.com/smallbiznis/faktur/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxTaxLines = 2

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Node       *snowflake.Node
	Events     invoicedomain.EventRepository
	Dispatcher invoicedomain.Dispatcher `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	node       *snowflake.Node
	events     invoicedomain.EventRepository
	dispatcher invoicedomain.Dispatcher
}

func NewService(p Params) invoicedomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("invoice.service"),
		node:       p.Node,
		events:     p.Events,
		dispatcher: p.Dispatcher,
	}
}

func (s *Service) Create(ctx context.Context, req invoicedomain.CreateInvoiceRequest) (invoicedomain.Invoice, error) {
	accountID, ok := accountcontext.AccountIDFromContext(ctx)
	if !ok {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidAccount
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if len(currency) != 3 {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidCurrency
	}

	items, err := normalizeItems(req.Items)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	taxes, err := normalizeTaxLines(req.TaxLines)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}

	totals, err := computeTotals(items, req.DiscountAmount, taxes)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}

	var client clientdomain.Client
	err = s.db.WithContext(ctx).
		Where("id = ? AND account_id = ?", req.ClientID, accountID).
		First(&client).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return invoicedomain.Invoice{}, invoicedomain.ErrClientNotFound
		}
		return invoicedomain.Invoice{}, err
	}

	token, err := newPublicToken()
	if err != nil {
		return invoicedomain.Invoice{}, err
	}

	now := time.Now().UTC()
	invoice := invoicedomain.Invoice{
		ID:             s.node.Generate(),
		AccountID:      accountID,
		ClientID:       client.ID,
		Status:         invoicedomain.StatusDraft,
		Currency:       currency,
		SubtotalAmount: totals.subtotal,
		DiscountAmount: totals.discount,
		TotalAmount:    totals.total,
		PublicToken:    token,
		Notes:          normalizeOptional(req.Notes),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	applyTaxLines(&invoice, taxes)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Lock the account row so concurrent creates cannot allocate the
		// same invoice number.
		var lockedID snowflake.ID
		if err := tx.Raw(
			`SELECT id FROM accounts WHERE id = ?`+s.lockClause(),
			accountID,
		).Scan(&lockedID).Error; err != nil {
			return err
		}
		if lockedID == 0 {
			return invoicedomain.ErrInvalidAccount
		}

		var seq int64
		if err := tx.Raw(
			`SELECT COALESCE(MAX(number_seq), 0) + 1 FROM invoices WHERE account_id = ?`,
			accountID,
		).Scan(&seq).Error; err != nil {
			return err
		}
		invoice.NumberSeq = seq
		invoice.Number = fmt.Sprintf("INV-%03d", seq)

		if err := tx.Create(&invoice).Error; err != nil {
			return err
		}
		return s.insertItems(ctx, tx, &invoice, items, now)
	})
	if err != nil {
		return invoicedomain.Invoice{}, err
	}

	invoice.Client = &client
	return invoice, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (invoicedomain.Invoice, error) {
	accountID, ok := accountcontext.AccountIDFromContext(ctx)
	if !ok {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidAccount
	}

	var invoice invoicedomain.Invoice
	err := s.db.WithContext(ctx).
		Where("id = ? AND account_id = ?", id, accountID).
		First(&invoice).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return invoicedomain.Invoice{}, invoicedomain.ErrNotFound
		}
		return invoicedomain.Invoice{}, err
	}

	s.hydrate(ctx, &invoice)
	return invoice, nil
}

func (s *Service) GetByPublicToken(ctx context.Context, token string) (invoicedomain.Invoice, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return invoicedomain.Invoice{}, invoicedomain.ErrNotFound
	}

	var invoice invoicedomain.Invoice
	err := s.db.WithContext(ctx).
		Where("public_token = ? AND deleted = ?", token, false).
		First(&invoice).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return invoicedomain.Invoice{}, invoicedomain.ErrNotFound
		}
		return invoicedomain.Invoice{}, err
	}

	s.hydrate(ctx, &invoice)
	return invoice, nil
}

func (s *Service) List(ctx context.Context, req invoicedomain.ListInvoiceRequest) ([]invoicedomain.Invoice, error) {
	accountID, ok := accountcontext.AccountIDFromContext(ctx)
	if !ok {
		return nil, invoicedomain.ErrInvalidAccount
	}

	query := s.db.WithContext(ctx).
		Model(&invoicedomain.Invoice{}).
		Where("account_id = ?", accountID)
	if req.Status != nil {
		query = query.Where("status = ?", *req.Status)
	}
	if req.ClientID != nil {
		query = query.Where("client_id = ?", *req.ClientID)
	}
	if !req.IncludeDeleted {
		query = query.Where("deleted = ?", false)
	}

	var invoices []invoicedomain.Invoice
	if err := query.Order("number_seq DESC").Find(&invoices).Error; err != nil {
		return nil, err
	}
	return invoices, nil
}

func (s *Service) ListEvents(ctx context.Context, id snowflake.ID, req invoicedomain.ListEventsRequest) (invoicedomain.ListEventsResponse, error) {
	accountID, ok := accountcontext.AccountIDFromContext(ctx)
	if !ok {
		return invoicedomain.ListEventsResponse{}, invoicedomain.ErrInvalidAccount
	}

	var exists int64
	err := s.db.WithContext(ctx).
		Model(&invoicedomain.Invoice{}).
		Where("id = ? AND account_id = ?", id, accountID).
		Count(&exists).Error
	if err != nil {
		return invoicedomain.ListEventsResponse{}, err
	}
	if exists == 0 {
		return invoicedomain.ListEventsResponse{}, invoicedomain.ErrNotFound
	}

	limit := req.PageSize
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var cursor *pagination.Cursor
	if strings.TrimSpace(req.PageToken) != "" {
		cursor, err = pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return invoicedomain.ListEventsResponse{}, invoicedomain.ErrInvalidPageToken
		}
	}

	events, err := s.events.ListByInvoice(ctx, s.db, accountID, id, cursor, limit)
	if err != nil {
		return invoicedomain.ListEventsResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(events, limit, func(e *invoicedomain.InvoiceEvent) string {
		token, _ := pagination.EncodeCursor(pagination.Cursor{ID: e.ID.String()})
		return token
	})
	if len(events) > int(limit) {
		events = events[:limit]
	}

	resp := invoicedomain.ListEventsResponse{PageInfo: *pageInfo}
	resp.Events = make([]invoicedomain.InvoiceEvent, 0, len(events))
	for _, e := range events {
		resp.Events = append(resp.Events, *e)
	}
	return resp, nil
}

// ReplaceItems swaps the full item set and recomputes totals in one
// transaction, so a reader never observes an invoice with no items or
// stale totals.
func (s *Service) ReplaceItems(ctx context.Context, id snowflake.ID, req invoicedomain.ReplaceItemsRequest) invoicedomain.Result {
	accountID, ok := accountcontext.AccountIDFromContext(ctx)
	if !ok {
		return invoicedomain.Reject(invoicedomain.CodeNotFound, "invoice not found")
	}

	items, err := normalizeItems(req.Items)
	if err != nil {
		return invoicedomain.Reject(invoicedomain.CodeMissingRequiredField, err.Error())
	}
	taxes, err := normalizeTaxLines(req.TaxLines)
	if err != nil {
		return invoicedomain.Reject(invoicedomain.CodeMissingRequiredField, err.Error())
	}

	var updated *invoicedomain.Invoice
	var rejection *invoicedomain.GuardResult

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := s.loadForUpdate(ctx, tx, accountID, id)
		if err != nil {
			return err
		}
		if invoice == nil {
			rejection = guardNotFound()
			return nil
		}

		if res := invoicedomain.GuardEdit(*invoice); res.Verdict == invoicedomain.VerdictReject {
			rejection = &res
			return nil
		}

		discount := invoice.DiscountAmount
		if req.DiscountAmount != nil {
			discount = *req.DiscountAmount
		}
		totals, err := computeTotals(items, discount, taxes)
		if err != nil {
			rejection = guardBadInput(err)
			return nil
		}

		now := time.Now().UTC()
		if err := tx.Where("invoice_id = ?", invoice.ID).
			Delete(&invoicedomain.InvoiceItem{}).Error; err != nil {
			return err
		}
		if err := s.insertItems(ctx, tx, invoice, items, now); err != nil {
			return err
		}

		invoice.SubtotalAmount = totals.subtotal
		invoice.DiscountAmount = totals.discount
		invoice.TotalAmount = totals.total
		applyTaxLines(invoice, taxes)
		invoice.UpdatedAt = now

		if err := tx.Exec(
			`UPDATE invoices
			 SET subtotal_amount = ?, discount_amount = ?,
			     tax1_name = ?, tax1_amount = ?, tax2_name = ?, tax2_amount = ?,
			     total_amount = ?, updated_at = ?
			 WHERE id = ?`,
			invoice.SubtotalAmount, invoice.DiscountAmount,
			invoice.Tax1Name, invoice.Tax1Amount, invoice.Tax2Name, invoice.Tax2Amount,
			invoice.TotalAmount, invoice.UpdatedAt,
			invoice.ID,
		).Error; err != nil {
			return err
		}

		updated = invoice
		return nil
	})
	if err != nil {
		return s.internalFailure(ctx, "replace_items", id, err)
	}
	if rejection != nil {
		return invoicedomain.Reject(rejection.Code, rejection.Message)
	}

	s.hydrate(ctx, updated)
	return invoicedomain.OK(updated, nil)
}

func (s *Service) Send(ctx context.Context, id snowflake.ID, notes string) invoicedomain.Result {
	accountID, ok := accountcontext.AccountIDFromContext(ctx)
	if !ok {
		return invoicedomain.Reject(invoicedomain.CodeNotFound, "invoice not found")
	}

	var updated *invoicedomain.Invoice
	var event *invoicedomain.InvoiceEvent
	var rejection *invoicedomain.GuardResult
	var dispatch bool

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := s.loadForUpdate(ctx, tx, accountID, id)
		if err != nil {
			return err
		}
		if invoice == nil {
			rejection = guardNotFound()
			return nil
		}

		res := invoicedomain.GuardSend(*invoice)
		switch res.Verdict {
		case invoicedomain.VerdictReject:
			rejection = &res
			return nil
		case invoicedomain.VerdictNoop:
			updated = invoice
			return nil
		}

		now := time.Now().UTC()
		if err := tx.Exec(
			`UPDATE invoices SET status = ?, sent_at = ?, updated_at = ? WHERE id = ?`,
			invoicedomain.StatusSent, now, now, invoice.ID,
		).Error; err != nil {
			return err
		}

		ev := s.newEvent(ctx, invoice, invoicedomain.EventSent, nil, normalizeOptionalValue(notes))
		if err := s.events.Insert(ctx, tx, ev); err != nil {
			return err
		}

		invoice.Status = invoicedomain.StatusSent
		invoice.SentAt = &now
		invoice.UpdatedAt = now
		updated, event, dispatch = invoice, ev, true
		return nil
	})
	if err != nil {
		return s.internalFailure(ctx, "send", id, err)
	}
	if rejection != nil {
		return invoicedomain.Reject(rejection.Code, rejection.Message)
	}

	s.hydrate(ctx, updated)

	// Dispatch after commit: a notification failure never reverts the
	// transition, and an idempotent re-send never emails twice.
	if dispatch && s.dispatcher != nil {
		s.dispatcher.DispatchSent(ctx, *updated)
	}
	return invoicedomain.OK(updated, event)
}

func (s *Service) MarkPaid(ctx context.Context, id snowflake.ID, req invoicedomain.MarkPaidRequest) invoicedomain.Result {
	return s.recordPayment(ctx, id, paymentInput{
		ref:      req.PaymentRef,
		amount:   req.Amount,
		currency: req.Currency,
		paidVia:  invoicedomain.PaidViaManual,
		notes:    req.Notes,
	})
}

// RecordExternalPayment drives the same executor as MarkPaid; only
// the paid_via attribution differs. Processor callbacks always carry
// amount and currency, so both checks apply.
func (s *Service) RecordExternalPayment(ctx context.Context, id snowflake.ID, provider, processorRef string, amount int64, currency string) invoicedomain.Result {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		provider = "processor"
	}
	return s.recordPayment(ctx, id, paymentInput{
		ref:      processorRef,
		amount:   &amount,
		currency: currency,
		paidVia:  provider,
	})
}

type paymentInput struct {
	ref      string
	amount   *int64
	currency string
	paidVia  string
	notes    *string
}

func (s *Service) recordPayment(ctx context.Context, id snowflake.ID, in paymentInput) invoicedomain.Result {
	accountID, ok := accountcontext.AccountIDFromContext(ctx)
	if !ok {
		return invoicedomain.Reject(invoicedomain.CodeNotFound, "invoice not found")
	}

	ref := strings.TrimSpace(in.ref)

	var updated *invoicedomain.Invoice
	var event *invoicedomain.InvoiceEvent
	var rejection *invoicedomain.GuardResult

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := s.loadForUpdate(ctx, tx, accountID, id)
		if err != nil {
			return err
		}
		if invoice == nil {
			rejection = guardNotFound()
			return nil
		}

		res := invoicedomain.GuardMarkPaid(*invoice, ref)
		switch res.Verdict {
		case invoicedomain.VerdictReject:
			rejection = &res
			return nil
		case invoicedomain.VerdictNoop:
			updated = invoice
			return nil
		}

		if res := invoicedomain.GuardPaymentMetadata(*invoice, in.amount, in.currency); res.Verdict == invoicedomain.VerdictReject {
			rejection = &res
			return nil
		}

		now := time.Now().UTC()
		if err := tx.Exec(
			`UPDATE invoices
			 SET status = ?, paid_at = ?, payment_ref = ?, paid_via = ?, updated_at = ?
			 WHERE id = ?`,
			invoicedomain.StatusPaid, now, ref, in.paidVia, now, invoice.ID,
		).Error; err != nil {
			return err
		}

		ev := s.newEvent(ctx, invoice, invoicedomain.EventPaid, &ref, in.notes)
		if err := s.events.Insert(ctx, tx, ev); err != nil {
			return err
		}

		invoice.Status = invoicedomain.StatusPaid
		invoice.PaidAt = &now
		invoice.PaymentRef = &ref
		invoice.PaidVia = &in.paidVia
		invoice.UpdatedAt = now
		updated, event = invoice, ev
		return nil
	})
	if err != nil {
		return s.internalFailure(ctx, "mark_paid", id, err)
	}
	if rejection != nil {
		return invoicedomain.Reject(rejection.Code, rejection.Message)
	}

	s.hydrate(ctx, updated)
	return invoicedomain.OK(updated, event)
}

func (s *Service) Refund(ctx context.Context, id snowflake.ID, req invoicedomain.RefundRequest) invoicedomain.Result {
	accountID, ok := accountcontext.AccountIDFromContext(ctx)
	if !ok {
		return invoicedomain.Reject(invoicedomain.CodeNotFound, "invoice not found")
	}

	ref := strings.TrimSpace(req.RefundRef)

	var updated *invoicedomain.Invoice
	var event *invoicedomain.InvoiceEvent
	var rejection *invoicedomain.GuardResult

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := s.loadForUpdate(ctx, tx, accountID, id)
		if err != nil {
			return err
		}
		if invoice == nil {
			rejection = guardNotFound()
			return nil
		}

		res := invoicedomain.GuardRefund(*invoice, ref)
		switch res.Verdict {
		case invoicedomain.VerdictReject:
			rejection = &res
			return nil
		case invoicedomain.VerdictNoop:
			updated = invoice
			return nil
		}

		now := time.Now().UTC()
		if err := tx.Exec(
			`UPDATE invoices SET status = ?, refunded_at = ?, refund_ref = ?, updated_at = ? WHERE id = ?`,
			invoicedomain.StatusRefunded, now, ref, now, invoice.ID,
		).Error; err != nil {
			return err
		}

		ev := s.newEvent(ctx, invoice, invoicedomain.EventRefunded, &ref, req.Notes)
		if err := s.events.Insert(ctx, tx, ev); err != nil {
			return err
		}

		invoice.Status = invoicedomain.StatusRefunded
		invoice.RefundedAt = &now
		invoice.RefundRef = &ref
		invoice.UpdatedAt = now
		updated, event = invoice, ev
		return nil
	})
	if err != nil {
		return s.internalFailure(ctx, "refund", id, err)
	}
	if rejection != nil {
		return invoicedomain.Reject(rejection.Code, rejection.Message)
	}

	s.hydrate(ctx, updated)
	return invoicedomain.OK(updated, event)
}

func (s *Service) SoftDelete(ctx context.Context, id snowflake.ID) invoicedomain.Result {
	return s.setDeleted(ctx, id, true)
}

func (s *Service) Restore(ctx context.Context, id snowflake.ID) invoicedomain.Result {
	return s.setDeleted(ctx, id, false)
}

func (s *Service) setDeleted(ctx context.Context, id snowflake.ID, deleted bool) invoicedomain.Result {
	accountID, ok := accountcontext.AccountIDFromContext(ctx)
	if !ok {
		return invoicedomain.Reject(invoicedomain.CodeNotFound, "invoice not found")
	}

	op := "soft_delete"
	eventType := invoicedomain.EventSoftDelete
	if !deleted {
		op = "restore"
		eventType = invoicedomain.EventRestore
	}

	var updated *invoicedomain.Invoice
	var event *invoicedomain.InvoiceEvent
	var rejection *invoicedomain.GuardResult

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := s.loadForUpdate(ctx, tx, accountID, id)
		if err != nil {
			return err
		}
		if invoice == nil {
			rejection = guardNotFound()
			return nil
		}

		var res invoicedomain.GuardResult
		if deleted {
			res = invoicedomain.GuardSoftDelete(*invoice)
		} else {
			res = invoicedomain.GuardRestore(*invoice)
		}
		switch res.Verdict {
		case invoicedomain.VerdictReject:
			rejection = &res
			return nil
		case invoicedomain.VerdictNoop:
			updated = invoice
			return nil
		}

		now := time.Now().UTC()
		if err := tx.Exec(
			`UPDATE invoices SET deleted = ?, updated_at = ? WHERE id = ?`,
			deleted, now, invoice.ID,
		).Error; err != nil {
			return err
		}

		ev := s.newEvent(ctx, invoice, eventType, nil, nil)
		if err := s.events.Insert(ctx, tx, ev); err != nil {
			return err
		}

		invoice.Deleted = deleted
		invoice.UpdatedAt = now
		updated, event = invoice, ev
		return nil
	})
	if err != nil {
		return s.internalFailure(ctx, op, id, err)
	}
	if rejection != nil {
		return invoicedomain.Reject(rejection.Code, rejection.Message)
	}

	s.hydrate(ctx, updated)
	return invoicedomain.OK(updated, event)
}

// loadForUpdate reads the invoice under a row lock so the guard and
// the write observe the same committed state. Returns nil when the id
// does not resolve within the caller's account.
func (s *Service) loadForUpdate(ctx context.Context, tx *gorm.DB, accountID, id snowflake.ID) (*invoicedomain.Invoice, error) {
	var invoice invoicedomain.Invoice
	err := tx.Raw(
		`SELECT * FROM invoices WHERE id = ? AND account_id = ?`+s.lockClause(),
		id, accountID,
	).Scan(&invoice).Error
	if err != nil {
		return nil, err
	}
	if invoice.ID == 0 {
		return nil, nil
	}
	return &invoice, nil
}

// lockClause returns the row-lock suffix for the active dialect.
// sqlite serializes writers on its own and rejects FOR UPDATE.
func (s *Service) lockClause() string {
	if s.db.Dialector.Name() == "sqlite" {
		return ""
	}
	return " FOR UPDATE"
}

func (s *Service) newEvent(ctx context.Context, invoice *invoicedomain.Invoice, eventType invoicedomain.EventType, ref, notes *string) *invoicedomain.InvoiceEvent {
	ev := &invoicedomain.InvoiceEvent{
		ID:        s.node.Generate(),
		AccountID: invoice.AccountID,
		InvoiceID: invoice.ID,
		Type:      eventType,
		Ref:       ref,
		Notes:     notes,
		CreatedAt: time.Now().UTC(),
	}
	if actorID, ok := accountcontext.ActorIDFromContext(ctx); ok {
		ev.ActorID = &actorID
	}
	return ev
}

func (s *Service) insertItems(ctx context.Context, tx *gorm.DB, invoice *invoicedomain.Invoice, items []invoicedomain.ItemInput, now time.Time) error {
	rows := make([]invoicedomain.InvoiceItem, 0, len(items))
	for _, item := range items {
		rows = append(rows, invoicedomain.InvoiceItem{
			ID:          s.node.Generate(),
			AccountID:   invoice.AccountID,
			InvoiceID:   invoice.ID,
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitAmount:  item.UnitAmount,
			Amount:      item.Quantity * item.UnitAmount,
			CreatedAt:   now,
		})
	}
	if err := tx.WithContext(ctx).Create(&rows).Error; err != nil {
		return err
	}
	invoice.Items = rows
	return nil
}

// hydrate attaches items and the client to a loaded aggregate. Load
// failures are logged, not fatal: the transition already committed.
func (s *Service) hydrate(ctx context.Context, invoice *invoicedomain.Invoice) {
	if invoice == nil {
		return
	}

	var items []invoicedomain.InvoiceItem
	err := s.db.WithContext(ctx).
		Where("invoice_id = ?", invoice.ID).
		Order("id ASC").
		Find(&items).Error
	if err != nil {
		s.log.Warn("load invoice items",
			zap.String("invoice_id", invoice.ID.String()),
			zap.Error(err),
		)
	} else {
		invoice.Items = items
	}

	var client clientdomain.Client
	err = s.db.WithContext(ctx).
		Where("id = ? AND account_id = ?", invoice.ClientID, invoice.AccountID).
		First(&client).Error
	if err != nil {
		s.log.Warn("load invoice client",
			zap.String("invoice_id", invoice.ID.String()),
			zap.Error(err),
		)
	} else {
		invoice.Client = &client
	}
}

// internalFailure converts an executor error into the structured
// result; raw store errors never reach the caller.
func (s *Service) internalFailure(ctx context.Context, op string, id snowflake.ID, err error) invoicedomain.Result {
	s.log.Error("invoice transition failed",
		zap.String("op", op),
		zap.String("invoice_id", id.String()),
		zap.String("request_id", accountcontext.RequestIDFromContext(ctx)),
		zap.Error(err),
	)
	return invoicedomain.Reject(invoicedomain.CodeInternalError, "internal error")
}

type invoiceTotals struct {
	subtotal int64
	discount int64
	tax      int64
	total    int64
}

// computeTotals derives totals from inputs; supplied totals are never
// trusted. total = subtotal - discount + tax and must stay >= 0.
func computeTotals(items []invoicedomain.ItemInput, discount int64, taxes []invoicedomain.TaxLine) (invoiceTotals, error) {
	if discount < 0 {
		return invoiceTotals{}, invoicedomain.ErrInvalidAmount
	}

	var subtotal int64
	for _, item := range items {
		subtotal += item.Quantity * item.UnitAmount
	}

	var tax int64
	for _, line := range taxes {
		tax += line.Amount
	}

	total := subtotal - discount + tax
	if total < 0 {
		return invoiceTotals{}, invoicedomain.ErrInvalidAmount
	}
	return invoiceTotals{subtotal: subtotal, discount: discount, tax: tax, total: total}, nil
}

func normalizeItems(items []invoicedomain.ItemInput) ([]invoicedomain.ItemInput, error) {
	if len(items) == 0 {
		return nil, invoicedomain.ErrNoItems
	}

	out := make([]invoicedomain.ItemInput, 0, len(items))
	for _, item := range items {
		item.Description = strings.TrimSpace(item.Description)
		if item.Quantity <= 0 || item.UnitAmount < 0 {
			return nil, invoicedomain.ErrInvalidAmount
		}
		out = append(out, item)
	}
	return out, nil
}

func normalizeTaxLines(taxes []invoicedomain.TaxLine) ([]invoicedomain.TaxLine, error) {
	if len(taxes) > maxTaxLines {
		return nil, invoicedomain.ErrTooManyTaxLines
	}

	out := make([]invoicedomain.TaxLine, 0, len(taxes))
	for _, line := range taxes {
		line.Name = strings.TrimSpace(line.Name)
		if line.Name == "" || line.Amount < 0 {
			return nil, invoicedomain.ErrInvalidAmount
		}
		out = append(out, line)
	}
	return out, nil
}

func applyTaxLines(invoice *invoicedomain.Invoice, taxes []invoicedomain.TaxLine) {
	invoice.Tax1Name, invoice.Tax1Amount = nil, 0
	invoice.Tax2Name, invoice.Tax2Amount = nil, 0
	if len(taxes) > 0 {
		name := taxes[0].Name
		invoice.Tax1Name, invoice.Tax1Amount = &name, taxes[0].Amount
	}
	if len(taxes) > 1 {
		name := taxes[1].Name
		invoice.Tax2Name, invoice.Tax2Amount = &name, taxes[1].Amount
	}
}

func guardNotFound() *invoicedomain.GuardResult {
	return &invoicedomain.GuardResult{
		Verdict: invoicedomain.VerdictReject,
		Code:    invoicedomain.CodeNotFound,
		Message: "invoice not found",
	}
}

func guardBadInput(err error) *invoicedomain.GuardResult {
	return &invoicedomain.GuardResult{
		Verdict: invoicedomain.VerdictReject,
		Code:    invoicedomain.CodeMissingRequiredField,
		Message: err.Error(),
	}
}

func newPublicToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func normalizeOptional(value *string) *string {
	if value == nil {
		return nil
	}
	return normalizeOptionalValue(*value)
}

func normalizeOptionalValue(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
