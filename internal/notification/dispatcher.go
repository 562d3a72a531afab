// Package notification delivers the client-facing email after an
// invoice is sent. Dispatch runs after the transition commits and its
// outcome is recorded on the audit trail, never on the transition
// result.
package notification

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"html/template"

	"github.com/smallbiznis/faktur/internal/config"
	invoicedomain "github.com/smallbiznis/faktur/internal/invoice/domain"
	"github.com/smallbiznis/faktur/internal/providers/email"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed templates/invoice_sent.html
var invoiceSentHTML string

var invoiceSentTmpl = template.Must(template.New("invoice_sent").Parse(invoiceSentHTML))

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Config config.Config
	Email  email.Provider
	Events invoicedomain.EventRepository
}

type Dispatcher struct {
	db      *gorm.DB
	log     *zap.Logger
	email   email.Provider
	events  invoicedomain.EventRepository
	baseURL string
}

func NewDispatcher(p Params) invoicedomain.Dispatcher {
	return &Dispatcher{
		db:      p.DB,
		log:     p.Log.Named("notification.dispatcher"),
		email:   p.Email,
		events:  p.Events,
		baseURL: p.Config.PublicBaseURL,
	}
}

type templateData struct {
	ClientName  string
	Number      string
	TotalAmount int64
	Currency    string
	PublicURL   string
}

// DispatchSent emails the invoice's client a public viewing link and
// appends EMAIL_SENT or EMAIL_FAILED to the invoice's audit trail.
func (d *Dispatcher) DispatchSent(ctx context.Context, invoice invoicedomain.Invoice) {
	recipient := ""
	clientName := ""
	if invoice.Client != nil {
		clientName = invoice.Client.Name
		if invoice.Client.Email != nil {
			recipient = *invoice.Client.Email
		}
	}
	if recipient == "" {
		d.recordOutcome(ctx, invoice, invoicedomain.EventEmailFailed, "no recipient address on file")
		return
	}

	data := templateData{
		ClientName:  clientName,
		Number:      invoice.Number,
		TotalAmount: invoice.TotalAmount,
		Currency:    invoice.Currency,
		PublicURL:   fmt.Sprintf("%s/i/%s", d.baseURL, invoice.PublicToken),
	}

	var body bytes.Buffer
	if err := invoiceSentTmpl.Execute(&body, data); err != nil {
		d.recordOutcome(ctx, invoice, invoicedomain.EventEmailFailed, "template error: "+err.Error())
		return
	}

	subject := fmt.Sprintf("Invoice %s", invoice.Number)
	if err := d.email.Send(ctx, []string{recipient}, subject, body.String()); err != nil {
		d.log.Warn("invoice email delivery failed",
			zap.String("invoice_id", invoice.ID.String()),
			zap.Error(err),
		)
		d.recordOutcome(ctx, invoice, invoicedomain.EventEmailFailed, err.Error())
		return
	}

	d.recordOutcome(ctx, invoice, invoicedomain.EventEmailSent, "delivered to "+recipient)
}

// recordOutcome appends the delivery event outside any transaction.
// These events carry no actor: delivery is a system action.
func (d *Dispatcher) recordOutcome(ctx context.Context, invoice invoicedomain.Invoice, eventType invoicedomain.EventType, notes string) {
	event := &invoicedomain.InvoiceEvent{
		AccountID: invoice.AccountID,
		InvoiceID: invoice.ID,
		Type:      eventType,
		Notes:     &notes,
	}
	if err := d.events.Insert(ctx, d.db, event); err != nil {
		d.log.Error("record notification outcome",
			zap.String("invoice_id", invoice.ID.String()),
			zap.String("type", string(eventType)),
			zap.Error(err),
		)
	}
}
