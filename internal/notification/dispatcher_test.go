package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	clientdomain "github.com/smallbiznis/faktur/internal/client/domain"
	"github.com/smallbiznis/faktur/internal/config"
	invoicedomain "github.com/smallbiznis/faktur/internal/invoice/domain"
	invoicerepo "github.com/smallbiznis/faktur/internal/invoice/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeEmail struct {
	to      []string
	subject string
	body    string
	err     error
}

func (p *fakeEmail) Send(ctx context.Context, to []string, subject string, htmlBody string) error {
	if p.err != nil {
		return p.err
	}
	p.to = to
	p.subject = subject
	p.body = htmlBody
	return nil
}

func setupDispatcher(t *testing.T, provider *fakeEmail) (invoicedomain.Dispatcher, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_notif_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&invoicedomain.InvoiceEvent{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(12)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	dispatcher := NewDispatcher(Params{
		DB:     db,
		Log:    zap.NewNop(),
		Config: config.Config{PublicBaseURL: "https://pay.example.test"},
		Email:  provider,
		Events: invoicerepo.NewEventRepository(node),
	})
	return dispatcher, db
}

func testInvoice(withEmail bool) invoicedomain.Invoice {
	client := &clientdomain.Client{Name: "Client Co"}
	if withEmail {
		email := "billing@client.test"
		client.Email = &email
	}
	return invoicedomain.Invoice{
		ID:          snowflake.ID(100),
		AccountID:   snowflake.ID(200),
		Number:      "INV-007",
		Currency:    "USD",
		TotalAmount: 11500,
		PublicToken: "tok_abc",
		Client:      client,
	}
}

func lastEvent(t *testing.T, db *gorm.DB) invoicedomain.InvoiceEvent {
	t.Helper()

	var event invoicedomain.InvoiceEvent
	if err := db.Order("id DESC").First(&event).Error; err != nil {
		t.Fatalf("load event: %v", err)
	}
	return event
}

func TestDispatchSentDelivers(t *testing.T) {
	provider := &fakeEmail{}
	dispatcher, db := setupDispatcher(t, provider)

	dispatcher.DispatchSent(context.Background(), testInvoice(true))

	if len(provider.to) != 1 || provider.to[0] != "billing@client.test" {
		t.Fatalf("recipients = %v", provider.to)
	}
	if provider.subject != "Invoice INV-007" {
		t.Fatalf("subject = %s", provider.subject)
	}
	if !strings.Contains(provider.body, "https://pay.example.test/i/tok_abc") {
		t.Fatalf("body missing public link: %s", provider.body)
	}

	event := lastEvent(t, db)
	if event.Type != invoicedomain.EventEmailSent {
		t.Fatalf("event type = %s, want EMAIL_SENT", event.Type)
	}
	if event.ActorID != nil {
		t.Fatalf("delivery events carry no actor, got %v", event.ActorID)
	}
}

func TestDispatchSentNoRecipient(t *testing.T) {
	provider := &fakeEmail{}
	dispatcher, db := setupDispatcher(t, provider)

	dispatcher.DispatchSent(context.Background(), testInvoice(false))

	if len(provider.to) != 0 {
		t.Fatalf("no email should be sent, got %v", provider.to)
	}
	event := lastEvent(t, db)
	if event.Type != invoicedomain.EventEmailFailed {
		t.Fatalf("event type = %s, want EMAIL_FAILED", event.Type)
	}
	if event.Notes == nil || !strings.Contains(*event.Notes, "no recipient") {
		t.Fatalf("notes = %v", event.Notes)
	}
}

func TestDispatchSentProviderFailure(t *testing.T) {
	provider := &fakeEmail{err: errors.New("smtp connect refused")}
	dispatcher, db := setupDispatcher(t, provider)

	dispatcher.DispatchSent(context.Background(), testInvoice(true))

	event := lastEvent(t, db)
	if event.Type != invoicedomain.EventEmailFailed {
		t.Fatalf("event type = %s, want EMAIL_FAILED", event.Type)
	}
	if event.Notes == nil || !strings.Contains(*event.Notes, "smtp connect refused") {
		t.Fatalf("notes = %v", event.Notes)
	}
}
