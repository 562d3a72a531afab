package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/smallbiznis/faktur/internal/payment/domain"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return "stripe"
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.PaymentAdapter, error) {
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}
	return &Adapter{webhookSecret: secret}, nil
}

type Adapter struct {
	webhookSecret string
}

func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" {
		return paymentdomain.ErrInvalidSignature
	}

	timestamp, signatures, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}

	return paymentdomain.ErrInvalidSignature
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*paymentdomain.PaymentEvent, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	switch strings.TrimSpace(event.Type) {
	case "payment_intent.succeeded":
		return a.parsePaymentIntent(event, payload, paymentdomain.EventTypePaymentSucceeded)
	case "payment_intent.payment_failed":
		return a.parsePaymentIntent(event, payload, paymentdomain.EventTypePaymentFailed)
	case "charge.refunded":
		return a.parseCharge(event, payload)
	case "account.updated":
		return a.parseAccount(event, payload)
	default:
		return nil, paymentdomain.ErrEventIgnored
	}
}

type stripeEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    stripeEventData `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

type stripePaymentIntent struct {
	ID             string         `json:"id"`
	Amount         int64          `json:"amount"`
	AmountReceived int64          `json:"amount_received"`
	Currency       string         `json:"currency"`
	Created        int64          `json:"created"`
	Metadata       map[string]any `json:"metadata"`
}

type stripeCharge struct {
	ID             string         `json:"id"`
	Amount         int64          `json:"amount"`
	AmountRefunded int64          `json:"amount_refunded"`
	Currency       string         `json:"currency"`
	Created        int64          `json:"created"`
	Metadata       map[string]any `json:"metadata"`
}

type stripeAccount struct {
	ID             string         `json:"id"`
	PayoutsEnabled bool           `json:"payouts_enabled"`
	Created        int64          `json:"created"`
	Metadata       map[string]any `json:"metadata"`
}

func (a *Adapter) parsePaymentIntent(event stripeEvent, payload []byte, eventType string) (*paymentdomain.PaymentEvent, error) {
	var intent stripePaymentIntent
	if err := json.Unmarshal(event.Data.Object, &intent); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}

	amount := intent.AmountReceived
	if amount <= 0 {
		amount = intent.Amount
	}
	accountID, invoiceID, err := parseMetadataIDs(intent.Metadata)
	if err != nil {
		return nil, err
	}

	return &paymentdomain.PaymentEvent{
		Provider:           "stripe",
		ProviderEventID:    event.ID,
		ProviderPaymentRef: intent.ID,
		Type:               eventType,
		AccountID:          accountID,
		InvoiceID:          invoiceID,
		Amount:             amount,
		Currency:           strings.ToUpper(strings.TrimSpace(intent.Currency)),
		OccurredAt:         timestamp(intent.Created, event.Created),
		RawPayload:         payload,
	}, nil
}

func (a *Adapter) parseCharge(event stripeEvent, payload []byte) (*paymentdomain.PaymentEvent, error) {
	var charge stripeCharge
	if err := json.Unmarshal(event.Data.Object, &charge); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}

	amount := charge.AmountRefunded
	if amount <= 0 {
		amount = charge.Amount
	}
	accountID, invoiceID, err := parseMetadataIDs(charge.Metadata)
	if err != nil {
		return nil, err
	}

	return &paymentdomain.PaymentEvent{
		Provider:           "stripe",
		ProviderEventID:    event.ID,
		ProviderPaymentRef: charge.ID,
		Type:               paymentdomain.EventTypeRefundSucceeded,
		AccountID:          accountID,
		InvoiceID:          invoiceID,
		Amount:             amount,
		Currency:           strings.ToUpper(strings.TrimSpace(charge.Currency)),
		OccurredAt:         timestamp(charge.Created, event.Created),
		RawPayload:         payload,
	}, nil
}

func (a *Adapter) parseAccount(event stripeEvent, payload []byte) (*paymentdomain.PaymentEvent, error) {
	var account stripeAccount
	if err := json.Unmarshal(event.Data.Object, &account); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}

	accountID, _, err := parseMetadataIDs(account.Metadata)
	if err != nil {
		return nil, err
	}

	return &paymentdomain.PaymentEvent{
		Provider:        "stripe",
		ProviderEventID: event.ID,
		Type:            paymentdomain.EventTypePayoutAccount,
		AccountID:       accountID,
		PayoutsEnabled:  account.PayoutsEnabled,
		OccurredAt:      timestamp(account.Created, event.Created),
		RawPayload:      payload,
	}, nil
}

func parseSignatureHeader(header string) (string, []string, error) {
	parts := strings.Split(header, ",")
	var timestamp string
	signatures := []string{}
	for _, part := range parts {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "t" {
			timestamp = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return timestamp, signatures, nil
}

func timestamp(primary int64, fallback int64) time.Time {
	value := primary
	if value == 0 {
		value = fallback
	}
	if value == 0 {
		return time.Now().UTC()
	}
	return time.Unix(value, 0).UTC()
}

func parseMetadataIDs(metadata map[string]any) (snowflake.ID, *snowflake.ID, error) {
	accountRaw := readMetadataValue(metadata, "account_id")
	if accountRaw == "" {
		return 0, nil, paymentdomain.ErrInvalidAccount
	}
	accountID, err := snowflake.ParseString(accountRaw)
	if err != nil {
		return 0, nil, paymentdomain.ErrInvalidAccount
	}

	invoiceRaw := readMetadataValue(metadata, "invoice_id")
	if invoiceRaw == "" {
		return accountID, nil, nil
	}
	invoiceID, err := snowflake.ParseString(invoiceRaw)
	if err != nil {
		return accountID, nil, nil
	}
	return accountID, &invoiceID, nil
}

func readMetadataValue(metadata map[string]any, key string) string {
	if metadata == nil {
		return ""
	}
	value, ok := metadata[key]
	if !ok {
		return ""
	}
	switch cast := value.(type) {
	case string:
		return strings.TrimSpace(cast)
	case float64:
		if cast == 0 {
			return ""
		}
		return strconv.FormatInt(int64(cast), 10)
	case json.Number:
		return cast.String()
	case int64:
		return strconv.FormatInt(cast, 10)
	case int:
		return strconv.Itoa(cast)
	}
	return ""
}
