package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	accountdomain "github.com/smallbiznis/faktur/internal/account/domain"
	"github.com/smallbiznis/faktur/internal/accountcontext"
	clientdomain "github.com/smallbiznis/faktur/internal/client/domain"
	invoicedomain "github.com/smallbiznis/faktur/internal/invoice/domain"
	"github.com/smallbiznis/faktur/internal/invoice/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeDispatcher struct {
	mu   sync.Mutex
	sent []invoicedomain.Invoice
}

func (d *fakeDispatcher) DispatchSent(ctx context.Context, invoice invoicedomain.Invoice) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, invoice)
}

func (d *fakeDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sent)
}

type fixture struct {
	db         *gorm.DB
	svc        invoicedomain.Service
	dispatcher *fakeDispatcher
	ctx        context.Context
	accountID  snowflake.ID
	clientID   snowflake.ID
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	err = db.AutoMigrate(
		&accountdomain.Account{},
		&clientdomain.Client{},
		&invoicedomain.Invoice{},
		&invoicedomain.InvoiceItem{},
		&invoicedomain.InvoiceEvent{},
	)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func setupFixture(t *testing.T) *fixture {
	t.Helper()

	db := setupTestDB(t)
	node, err := snowflake.NewNode(10)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	now := time.Now().UTC()
	account := accountdomain.Account{
		ID:         node.Generate(),
		Name:       "Acme",
		Email:      "owner@acme.test",
		Currency:   "USD",
		APIKeyHash: "hash",
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := db.Create(&account).Error; err != nil {
		t.Fatalf("create account: %v", err)
	}

	clientEmail := "billing@client.test"
	client := clientdomain.Client{
		ID:        node.Generate(),
		AccountID: account.ID,
		Name:      "Client Co",
		Email:     &clientEmail,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.Create(&client).Error; err != nil {
		t.Fatalf("create client: %v", err)
	}

	dispatcher := &fakeDispatcher{}
	svc := NewService(Params{
		DB:         db,
		Log:        zap.NewNop(),
		Node:       node,
		Events:     repository.NewEventRepository(node),
		Dispatcher: dispatcher,
	})

	ctx := accountcontext.WithAccountID(context.Background(), account.ID)
	ctx = accountcontext.WithActorID(ctx, "account:"+account.ID.String())

	return &fixture{
		db:         db,
		svc:        svc,
		dispatcher: dispatcher,
		ctx:        ctx,
		accountID:  account.ID,
		clientID:   client.ID,
	}
}

func (f *fixture) createInvoice(t *testing.T) invoicedomain.Invoice {
	t.Helper()

	invoice, err := f.svc.Create(f.ctx, invoicedomain.CreateInvoiceRequest{
		ClientID: f.clientID,
		Currency: "USD",
		Items: []invoicedomain.ItemInput{
			{Description: "Design work", Quantity: 2, UnitAmount: 5000},
			{Description: "Hosting", Quantity: 1, UnitAmount: 2000},
		},
		DiscountAmount: 1000,
		TaxLines:       []invoicedomain.TaxLine{{Name: "VAT", Amount: 500}},
	})
	if err != nil {
		t.Fatalf("create invoice: %v", err)
	}
	return invoice
}

func (f *fixture) countEvents(t *testing.T, invoiceID snowflake.ID, eventType invoicedomain.EventType) int64 {
	t.Helper()

	var count int64
	err := f.db.Model(&invoicedomain.InvoiceEvent{}).
		Where("invoice_id = ? AND type = ?", invoiceID, eventType).
		Count(&count).Error
	if err != nil {
		t.Fatalf("count events: %v", err)
	}
	return count
}

func (f *fixture) reload(t *testing.T, id snowflake.ID) invoicedomain.Invoice {
	t.Helper()

	var invoice invoicedomain.Invoice
	if err := f.db.Where("id = ?", id).First(&invoice).Error; err != nil {
		t.Fatalf("reload invoice: %v", err)
	}
	return invoice
}

func TestCreateComputesTotals(t *testing.T) {
	f := setupFixture(t)

	invoice := f.createInvoice(t)
	if invoice.Status != invoicedomain.StatusDraft {
		t.Fatalf("status = %s, want DRAFT", invoice.Status)
	}
	if invoice.SubtotalAmount != 12000 {
		t.Fatalf("subtotal = %d, want 12000", invoice.SubtotalAmount)
	}
	// total = subtotal - discount + tax
	if invoice.TotalAmount != 11500 {
		t.Fatalf("total = %d, want 11500", invoice.TotalAmount)
	}
	if invoice.Number != "INV-001" {
		t.Fatalf("number = %s, want INV-001", invoice.Number)
	}
	if invoice.PublicToken == "" {
		t.Fatalf("expected a public token")
	}
	if len(invoice.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(invoice.Items))
	}

	second := f.createInvoice(t)
	if second.Number != "INV-002" {
		t.Fatalf("second number = %s, want INV-002", second.Number)
	}
}

func TestCreateRejectsBadInput(t *testing.T) {
	f := setupFixture(t)

	_, err := f.svc.Create(f.ctx, invoicedomain.CreateInvoiceRequest{
		ClientID: f.clientID,
		Currency: "USD",
	})
	if err != invoicedomain.ErrNoItems {
		t.Fatalf("expected ErrNoItems, got %v", err)
	}

	_, err = f.svc.Create(f.ctx, invoicedomain.CreateInvoiceRequest{
		ClientID: f.clientID,
		Currency: "dollars",
		Items:    []invoicedomain.ItemInput{{Quantity: 1, UnitAmount: 100}},
	})
	if err != invoicedomain.ErrInvalidCurrency {
		t.Fatalf("expected ErrInvalidCurrency, got %v", err)
	}

	// Discount exceeding the subtotal would drive the total negative.
	_, err = f.svc.Create(f.ctx, invoicedomain.CreateInvoiceRequest{
		ClientID:       f.clientID,
		Currency:       "USD",
		Items:          []invoicedomain.ItemInput{{Quantity: 1, UnitAmount: 100}},
		DiscountAmount: 200,
	})
	if err != invoicedomain.ErrInvalidAmount {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestSendIsIdempotent(t *testing.T) {
	f := setupFixture(t)
	invoice := f.createInvoice(t)

	result := f.svc.Send(f.ctx, invoice.ID, "")
	if !result.Success {
		t.Fatalf("send failed: %s %s", result.Code, result.Error)
	}
	if result.Invoice.Status != invoicedomain.StatusSent {
		t.Fatalf("status = %s, want SENT", result.Invoice.Status)
	}
	if result.Event == nil || result.Event.Type != invoicedomain.EventSent {
		t.Fatalf("expected a SENT event on first send")
	}

	again := f.svc.Send(f.ctx, invoice.ID, "")
	if !again.Success {
		t.Fatalf("repeat send failed: %s %s", again.Code, again.Error)
	}
	if again.Event != nil {
		t.Fatalf("repeat send must not append an event")
	}

	if got := f.countEvents(t, invoice.ID, invoicedomain.EventSent); got != 1 {
		t.Fatalf("SENT events = %d, want 1", got)
	}
	if got := f.dispatcher.count(); got != 1 {
		t.Fatalf("dispatches = %d, want 1", got)
	}
}

func TestSendConcurrentDoubleClick(t *testing.T) {
	f := setupFixture(t)
	invoice := f.createInvoice(t)

	// Two sends race for the row lock. The loser either observes the
	// already-sent invoice (noop) or loses the write conflict; in no
	// case may a second SENT event or a second email appear.
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.svc.Send(f.ctx, invoice.ID, "")
		}()
	}
	wg.Wait()

	if got := f.countEvents(t, invoice.ID, invoicedomain.EventSent); got != 1 {
		t.Fatalf("SENT events = %d, want 1", got)
	}
	if got := f.dispatcher.count(); got != 1 {
		t.Fatalf("dispatches = %d, want 1", got)
	}

	updated := f.reload(t, invoice.ID)
	if updated.Status != invoicedomain.StatusSent {
		t.Fatalf("status = %s, want SENT", updated.Status)
	}
}

func TestSendRejectedFromPaid(t *testing.T) {
	f := setupFixture(t)
	invoice := f.createInvoice(t)

	if res := f.svc.MarkPaid(f.ctx, invoice.ID, invoicedomain.MarkPaidRequest{PaymentRef: "pay_1"}); !res.Success {
		t.Fatalf("mark paid failed: %s %s", res.Code, res.Error)
	}

	result := f.svc.Send(f.ctx, invoice.ID, "")
	if result.Success || result.Code != invoicedomain.CodeInvalidStateTransition {
		t.Fatalf("expected INVALID_STATE_TRANSITION, got success=%v code=%s", result.Success, result.Code)
	}
	if f.dispatcher.count() != 0 {
		t.Fatalf("rejected send must not dispatch email")
	}
}

func TestMarkPaidFromAnyLiveStatus(t *testing.T) {
	f := setupFixture(t)

	// Paying straight from DRAFT is legal.
	invoice := f.createInvoice(t)
	result := f.svc.MarkPaid(f.ctx, invoice.ID, invoicedomain.MarkPaidRequest{PaymentRef: "pay_draft"})
	if !result.Success {
		t.Fatalf("pay from draft failed: %s %s", result.Code, result.Error)
	}
	if result.Invoice.PaidVia == nil || *result.Invoice.PaidVia != invoicedomain.PaidViaManual {
		t.Fatalf("expected paid_via manual")
	}

	// And re-paying after a refund starts a fresh payment cycle.
	if res := f.svc.Refund(f.ctx, invoice.ID, invoicedomain.RefundRequest{RefundRef: "re_1"}); !res.Success {
		t.Fatalf("refund failed: %s %s", res.Code, res.Error)
	}
	result = f.svc.MarkPaid(f.ctx, invoice.ID, invoicedomain.MarkPaidRequest{PaymentRef: "pay_retry"})
	if !result.Success {
		t.Fatalf("pay after refund failed: %s %s", result.Code, result.Error)
	}
	if result.Invoice.Status != invoicedomain.StatusPaid {
		t.Fatalf("status = %s, want PAID", result.Invoice.Status)
	}
}

func TestMarkPaidIdempotencyAndMismatch(t *testing.T) {
	f := setupFixture(t)
	invoice := f.createInvoice(t)

	if res := f.svc.MarkPaid(f.ctx, invoice.ID, invoicedomain.MarkPaidRequest{PaymentRef: "pay_1"}); !res.Success {
		t.Fatalf("mark paid failed: %s %s", res.Code, res.Error)
	}

	// Same reference again: success, no second event.
	again := f.svc.MarkPaid(f.ctx, invoice.ID, invoicedomain.MarkPaidRequest{PaymentRef: "pay_1"})
	if !again.Success {
		t.Fatalf("repeat mark paid failed: %s %s", again.Code, again.Error)
	}
	if again.Event != nil {
		t.Fatalf("repeat mark paid must not append an event")
	}
	if got := f.countEvents(t, invoice.ID, invoicedomain.EventPaid); got != 1 {
		t.Fatalf("PAID events = %d, want 1", got)
	}

	// Different reference: conflict, original reference survives.
	conflict := f.svc.MarkPaid(f.ctx, invoice.ID, invoicedomain.MarkPaidRequest{PaymentRef: "pay_other"})
	if conflict.Success || conflict.Code != invoicedomain.CodeReferenceMismatch {
		t.Fatalf("expected REFERENCE_MISMATCH, got success=%v code=%s", conflict.Success, conflict.Code)
	}
	stored := f.reload(t, invoice.ID)
	if stored.PaymentRef == nil || *stored.PaymentRef != "pay_1" {
		t.Fatalf("payment_ref overwritten: %v", stored.PaymentRef)
	}
}

func TestMarkPaidValidation(t *testing.T) {
	f := setupFixture(t)
	invoice := f.createInvoice(t)

	missing := f.svc.MarkPaid(f.ctx, invoice.ID, invoicedomain.MarkPaidRequest{PaymentRef: "  "})
	if missing.Success || missing.Code != invoicedomain.CodeMissingRequiredField {
		t.Fatalf("expected MISSING_REQUIRED_FIELD, got success=%v code=%s", missing.Success, missing.Code)
	}

	wrongAmount := int64(9999)
	amountRes := f.svc.MarkPaid(f.ctx, invoice.ID, invoicedomain.MarkPaidRequest{PaymentRef: "pay_1", Amount: &wrongAmount})
	if amountRes.Success || amountRes.Code != invoicedomain.CodeAmountMismatch {
		t.Fatalf("expected AMOUNT_MISMATCH, got success=%v code=%s", amountRes.Success, amountRes.Code)
	}

	currencyRes := f.svc.MarkPaid(f.ctx, invoice.ID, invoicedomain.MarkPaidRequest{PaymentRef: "pay_1", Currency: "EUR"})
	if currencyRes.Success || currencyRes.Code != invoicedomain.CodeCurrencyMismatch {
		t.Fatalf("expected CURRENCY_MISMATCH, got success=%v code=%s", currencyRes.Success, currencyRes.Code)
	}

	// None of the rejections may leave a trace.
	stored := f.reload(t, invoice.ID)
	if stored.Status != invoicedomain.StatusDraft || stored.PaymentRef != nil {
		t.Fatalf("rejected payment mutated invoice: status=%s ref=%v", stored.Status, stored.PaymentRef)
	}
	if got := f.countEvents(t, invoice.ID, invoicedomain.EventPaid); got != 0 {
		t.Fatalf("PAID events = %d, want 0", got)
	}
}

func TestRecordExternalPayment(t *testing.T) {
	f := setupFixture(t)
	invoice := f.createInvoice(t)

	result := f.svc.RecordExternalPayment(f.ctx, invoice.ID, "Stripe", "pi_123", invoice.TotalAmount, "usd")
	if !result.Success {
		t.Fatalf("external payment failed: %s %s", result.Code, result.Error)
	}
	if result.Invoice.PaidVia == nil || *result.Invoice.PaidVia != "stripe" {
		t.Fatalf("expected paid_via stripe, got %v", result.Invoice.PaidVia)
	}

	// Redelivered processor event with the same reference: clean noop.
	again := f.svc.RecordExternalPayment(f.ctx, invoice.ID, "stripe", "pi_123", invoice.TotalAmount, "USD")
	if !again.Success || again.Event != nil {
		t.Fatalf("redelivery should be a noop, got success=%v event=%v", again.Success, again.Event)
	}

	// A different processor reference is a conflict, not an overwrite.
	conflict := f.svc.RecordExternalPayment(f.ctx, invoice.ID, "stripe", "pi_456", invoice.TotalAmount, "USD")
	if conflict.Success || conflict.Code != invoicedomain.CodeReferenceMismatch {
		t.Fatalf("expected REFERENCE_MISMATCH, got success=%v code=%s", conflict.Success, conflict.Code)
	}
}

func TestSoftDeleteBlocksTransitions(t *testing.T) {
	f := setupFixture(t)
	invoice := f.createInvoice(t)

	if res := f.svc.MarkPaid(f.ctx, invoice.ID, invoicedomain.MarkPaidRequest{PaymentRef: "pay_1"}); !res.Success {
		t.Fatalf("mark paid failed: %s %s", res.Code, res.Error)
	}
	if res := f.svc.SoftDelete(f.ctx, invoice.ID); !res.Success {
		t.Fatalf("soft delete failed: %s %s", res.Code, res.Error)
	}

	blocked := f.svc.MarkPaid(f.ctx, invoice.ID, invoicedomain.MarkPaidRequest{PaymentRef: "pay_1"})
	if blocked.Success || blocked.Code != invoicedomain.CodeInvoiceDeleted {
		t.Fatalf("expected INVOICE_DELETED, got success=%v code=%s", blocked.Success, blocked.Code)
	}
	if res := f.svc.Send(f.ctx, invoice.ID, ""); res.Success || res.Code != invoicedomain.CodeInvoiceDeleted {
		t.Fatalf("expected INVOICE_DELETED for send, got success=%v code=%s", res.Success, res.Code)
	}

	// Deleting again is a noop, not a second SOFT_DELETE event.
	if res := f.svc.SoftDelete(f.ctx, invoice.ID); !res.Success || res.Event != nil {
		t.Fatalf("repeat delete should be a noop")
	}
	if got := f.countEvents(t, invoice.ID, invoicedomain.EventSoftDelete); got != 1 {
		t.Fatalf("SOFT_DELETE events = %d, want 1", got)
	}

	// Restore brings the invoice back with its pre-delete status.
	restored := f.svc.Restore(f.ctx, invoice.ID)
	if !restored.Success {
		t.Fatalf("restore failed: %s %s", restored.Code, restored.Error)
	}
	if restored.Invoice.Status != invoicedomain.StatusPaid || restored.Invoice.Deleted {
		t.Fatalf("restored invoice: status=%s deleted=%v", restored.Invoice.Status, restored.Invoice.Deleted)
	}

	// Restoring a live invoice is a noop.
	if res := f.svc.Restore(f.ctx, invoice.ID); !res.Success || res.Event != nil {
		t.Fatalf("repeat restore should be a noop")
	}
}

func TestReplaceItemsRecomputesTotals(t *testing.T) {
	f := setupFixture(t)
	invoice := f.createInvoice(t)

	zeroDiscount := int64(0)
	result := f.svc.ReplaceItems(f.ctx, invoice.ID, invoicedomain.ReplaceItemsRequest{
		Items: []invoicedomain.ItemInput{
			{Description: "Consulting", Quantity: 3, UnitAmount: 1000},
		},
		DiscountAmount: &zeroDiscount,
		TaxLines:       []invoicedomain.TaxLine{{Name: "VAT", Amount: 300}},
	})
	if !result.Success {
		t.Fatalf("replace items failed: %s %s", result.Code, result.Error)
	}
	if result.Invoice.SubtotalAmount != 3000 || result.Invoice.TotalAmount != 3300 {
		t.Fatalf("totals = %d/%d, want 3000/3300", result.Invoice.SubtotalAmount, result.Invoice.TotalAmount)
	}
	if len(result.Invoice.Items) != 1 {
		t.Fatalf("items = %d, want 1", len(result.Invoice.Items))
	}

	var stored int64
	if err := f.db.Model(&invoicedomain.InvoiceItem{}).Where("invoice_id = ?", invoice.ID).Count(&stored).Error; err != nil {
		t.Fatalf("count items: %v", err)
	}
	if stored != 1 {
		t.Fatalf("stored items = %d, want 1", stored)
	}

	if res := f.svc.SoftDelete(f.ctx, invoice.ID); !res.Success {
		t.Fatalf("soft delete failed: %s %s", res.Code, res.Error)
	}
	blocked := f.svc.ReplaceItems(f.ctx, invoice.ID, invoicedomain.ReplaceItemsRequest{
		Items: []invoicedomain.ItemInput{{Quantity: 1, UnitAmount: 100}},
	})
	if blocked.Success || blocked.Code != invoicedomain.CodeInvoiceDeleted {
		t.Fatalf("expected INVOICE_DELETED, got success=%v code=%s", blocked.Success, blocked.Code)
	}
}

func TestUnknownInvoiceIsNotFound(t *testing.T) {
	f := setupFixture(t)

	result := f.svc.Send(f.ctx, snowflake.ID(42), "")
	if result.Success || result.Code != invoicedomain.CodeNotFound {
		t.Fatalf("expected NOT_FOUND, got success=%v code=%s", result.Success, result.Code)
	}
}

func TestGetByPublicTokenHidesDeleted(t *testing.T) {
	f := setupFixture(t)
	invoice := f.createInvoice(t)

	loaded, err := f.svc.GetByPublicToken(f.ctx, invoice.PublicToken)
	if err != nil {
		t.Fatalf("get by token: %v", err)
	}
	if loaded.ID != invoice.ID {
		t.Fatalf("loaded wrong invoice: %s", loaded.ID)
	}

	if res := f.svc.SoftDelete(f.ctx, invoice.ID); !res.Success {
		t.Fatalf("soft delete failed: %s %s", res.Code, res.Error)
	}
	if _, err := f.svc.GetByPublicToken(f.ctx, invoice.PublicToken); err != invoicedomain.ErrNotFound {
		t.Fatalf("expected ErrNotFound for deleted invoice, got %v", err)
	}
}

func TestListEventsPaginates(t *testing.T) {
	f := setupFixture(t)
	invoice := f.createInvoice(t)

	if res := f.svc.Send(f.ctx, invoice.ID, ""); !res.Success {
		t.Fatalf("send failed: %s %s", res.Code, res.Error)
	}
	if res := f.svc.MarkPaid(f.ctx, invoice.ID, invoicedomain.MarkPaidRequest{PaymentRef: "pay_1"}); !res.Success {
		t.Fatalf("mark paid failed: %s %s", res.Code, res.Error)
	}
	if res := f.svc.Refund(f.ctx, invoice.ID, invoicedomain.RefundRequest{RefundRef: "re_1"}); !res.Success {
		t.Fatalf("refund failed: %s %s", res.Code, res.Error)
	}

	req := invoicedomain.ListEventsRequest{}
	req.PageSize = 2
	page, err := f.svc.ListEvents(f.ctx, invoice.ID, req)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(page.Events) != 2 {
		t.Fatalf("first page = %d events, want 2", len(page.Events))
	}
	if page.NextPageToken == "" {
		t.Fatalf("expected a next page token")
	}

	req.PageToken = page.NextPageToken
	rest, err := f.svc.ListEvents(f.ctx, invoice.ID, req)
	if err != nil {
		t.Fatalf("list events page 2: %v", err)
	}
	if len(rest.Events) == 0 {
		t.Fatalf("expected remaining events")
	}

	req.PageToken = "not-a-token"
	if _, err := f.svc.ListEvents(f.ctx, invoice.ID, req); err != invoicedomain.ErrInvalidPageToken {
		t.Fatalf("expected ErrInvalidPageToken, got %v", err)
	}
}

func TestEventsCarryActor(t *testing.T) {
	f := setupFixture(t)
	invoice := f.createInvoice(t)

	result := f.svc.Send(f.ctx, invoice.ID, "please pay")
	if !result.Success {
		t.Fatalf("send failed: %s %s", result.Code, result.Error)
	}
	if result.Event.ActorID == nil || *result.Event.ActorID != "account:"+f.accountID.String() {
		t.Fatalf("event actor = %v, want account actor", result.Event.ActorID)
	}
	if result.Event.Notes == nil || *result.Event.Notes != "please pay" {
		t.Fatalf("event notes = %v", result.Event.Notes)
	}

	// Webhook-style context without an actor leaves the field empty.
	webhookCtx := accountcontext.WithAccountID(context.Background(), f.accountID)
	paid := f.svc.RecordExternalPayment(webhookCtx, invoice.ID, "stripe", "pi_1", invoice.TotalAmount, "USD")
	if !paid.Success {
		t.Fatalf("external payment failed: %s %s", paid.Code, paid.Error)
	}
	if paid.Event.ActorID != nil {
		t.Fatalf("webhook event must carry no actor, got %v", paid.Event.ActorID)
	}
}
