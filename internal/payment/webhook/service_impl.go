// Package webhook ingests payment-processor callbacks. Verified
// events drive the invoice lifecycle through RecordExternalPayment
// and Refund, never through a bespoke write path, so audit and
// idempotency behavior match manual operations.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/faktur/internal/account/domain"
	"github.com/smallbiznis/faktur/internal/accountcontext"
	"github.com/smallbiznis/faktur/internal/config"
	invoicedomain "github.com/smallbiznis/faktur/internal/invoice/domain"
	"github.com/smallbiznis/faktur/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/faktur/internal/payment/domain"
	"github.com/smallbiznis/faktur/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Node       *snowflake.Node
	Cfg        config.Config
	Adapters   *adapters.Registry
	InvoiceSvc invoicedomain.Service
	AccountSvc accountdomain.Service
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	node       *snowflake.Node
	secrets    map[string]string
	adapters   *adapters.Registry
	invoiceSvc invoicedomain.Service
	accountSvc accountdomain.Service
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.webhook"),
		node:       p.Node,
		secrets:    p.Cfg.WebhookSecrets,
		adapters:   p.Adapters,
		invoiceSvc: p.InvoiceSvc,
		accountSvc: p.AccountSvc,
	}
}

// IngestWebhook verifies, dedupes and applies one inbound processor
// event. Business-rule rejections from the invoice engine are
// recorded and acknowledged so the processor does not retry them;
// only signature failures and store errors surface to the caller.
func (s *Service) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return paymentdomain.ErrInvalidProvider
	}
	if s.adapters == nil || !s.adapters.ProviderExists(provider) {
		return paymentdomain.ErrProviderNotFound
	}
	if !json.Valid(payload) {
		return paymentdomain.ErrInvalidPayload
	}

	secret := strings.TrimSpace(s.secrets[provider])
	if secret == "" {
		return paymentdomain.ErrProviderNotFound
	}

	adapter, err := s.adapters.NewAdapter(provider, paymentdomain.AdapterConfig{
		Provider: provider,
		Secret:   secret,
	})
	if err != nil {
		return err
	}

	if err := adapter.Verify(ctx, payload, headers); err != nil {
		return paymentdomain.ErrInvalidSignature
	}

	event, err := adapter.Parse(ctx, payload)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventIgnored) {
			return nil
		}
		if errors.Is(err, paymentdomain.ErrInvalidAccount) {
			s.log.Warn("payment webhook missing account mapping", zap.String("provider", provider))
		}
		return err
	}

	row, fresh, err := s.recordReceipt(ctx, event)
	if err != nil {
		return err
	}
	if !fresh {
		s.log.Debug("duplicate webhook delivery skipped",
			zap.String("provider", provider),
			zap.String("provider_event_id", event.ProviderEventID),
		)
		return nil
	}

	// Webhook-originated transitions carry the account scope but no
	// actor: audit events they append have an absent actorId.
	ctx = accountcontext.WithAccountID(ctx, event.AccountID)

	return s.apply(ctx, row, event)
}

func (s *Service) apply(ctx context.Context, row *paymentdomain.WebhookEvent, event *paymentdomain.PaymentEvent) error {
	switch event.Type {
	case paymentdomain.EventTypePaymentSucceeded:
		if event.InvoiceID == nil {
			s.markOutcome(ctx, row, paymentdomain.WebhookStatusFailed, "no invoice mapping on event")
			return nil
		}
		result := s.invoiceSvc.RecordExternalPayment(ctx, *event.InvoiceID, event.Provider, event.ProviderPaymentRef, event.Amount, event.Currency)
		return s.applyResult(ctx, row, event, result)

	case paymentdomain.EventTypeRefundSucceeded:
		if event.InvoiceID == nil {
			s.markOutcome(ctx, row, paymentdomain.WebhookStatusFailed, "no invoice mapping on event")
			return nil
		}
		result := s.invoiceSvc.Refund(ctx, *event.InvoiceID, invoicedomain.RefundRequest{
			RefundRef: event.ProviderPaymentRef,
		})
		return s.applyResult(ctx, row, event, result)

	case paymentdomain.EventTypePaymentFailed:
		// A failed payment never transitions the invoice.
		s.markOutcome(ctx, row, paymentdomain.WebhookStatusIgnored, "payment failed on processor side")
		return nil

	case paymentdomain.EventTypePayoutAccount:
		err := s.accountSvc.SetPayoutStatus(ctx, event.AccountID, event.Provider, event.PayoutsEnabled)
		if err != nil {
			if errors.Is(err, accountdomain.ErrNotFound) || errors.Is(err, accountdomain.ErrInvalidAccount) {
				s.markOutcome(ctx, row, paymentdomain.WebhookStatusFailed, "unknown account")
				return nil
			}
			s.markOutcome(ctx, row, paymentdomain.WebhookStatusFailed, err.Error())
			return err
		}
		s.markOutcome(ctx, row, paymentdomain.WebhookStatusProcessed, "")
		return nil

	default:
		s.markOutcome(ctx, row, paymentdomain.WebhookStatusIgnored, "unhandled event type "+event.Type)
		return nil
	}
}

func (s *Service) applyResult(ctx context.Context, row *paymentdomain.WebhookEvent, event *paymentdomain.PaymentEvent, result invoicedomain.Result) error {
	if result.Success {
		s.markOutcome(ctx, row, paymentdomain.WebhookStatusProcessed, "")
		return nil
	}

	if result.Code == invoicedomain.CodeInternalError {
		s.markOutcome(ctx, row, paymentdomain.WebhookStatusFailed, result.Error)
		return errors.New(result.Error)
	}

	s.log.Warn("webhook transition rejected",
		zap.String("provider", event.Provider),
		zap.String("provider_event_id", event.ProviderEventID),
		zap.String("code", string(result.Code)),
	)
	s.markOutcome(ctx, row, paymentdomain.WebhookStatusRejected, string(result.Code)+": "+result.Error)
	return nil
}

// recordReceipt inserts the dedupe row. fresh is false when this
// (provider, event id) pair was already delivered.
func (s *Service) recordReceipt(ctx context.Context, event *paymentdomain.PaymentEvent) (*paymentdomain.WebhookEvent, bool, error) {
	now := time.Now().UTC()
	row := &paymentdomain.WebhookEvent{
		ID:              s.node.Generate(),
		Provider:        event.Provider,
		ProviderEventID: event.ProviderEventID,
		Status:          paymentdomain.WebhookStatusReceived,
		Payload:         datatypes.JSON(event.RawPayload),
		ReceivedAt:      now,
		UpdatedAt:       now,
	}

	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return row, true, nil
}

func (s *Service) markOutcome(ctx context.Context, row *paymentdomain.WebhookEvent, status, detail string) {
	var detailPtr *string
	if strings.TrimSpace(detail) != "" {
		detailPtr = &detail
	}

	err := s.db.WithContext(ctx).Exec(
		`UPDATE payment_webhook_events SET status = ?, detail = ?, updated_at = ? WHERE id = ?`,
		status, detailPtr, time.Now().UTC(), row.ID,
	).Error
	if err != nil {
		s.log.Error("mark webhook outcome",
			zap.String("provider_event_id", row.ProviderEventID),
			zap.Error(err),
		)
	}
}
