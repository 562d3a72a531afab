package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	accountdomain "github.com/smallbiznis/faktur/internal/account/domain"
	accountservice "github.com/smallbiznis/faktur/internal/account/service"
	clientdomain "github.com/smallbiznis/faktur/internal/client/domain"
	clientservice "github.com/smallbiznis/faktur/internal/client/service"
	"github.com/smallbiznis/faktur/internal/config"
	invoicedomain "github.com/smallbiznis/faktur/internal/invoice/domain"
	invoicerepo "github.com/smallbiznis/faktur/internal/invoice/repository"
	invoiceservice "github.com/smallbiznis/faktur/internal/invoice/service"
	"github.com/smallbiznis/faktur/internal/payment/adapters"
	"github.com/smallbiznis/faktur/internal/payment/adapters/stripe"
	paymentdomain "github.com/smallbiznis/faktur/internal/payment/domain"
	paymentwebhook "github.com/smallbiznis/faktur/internal/payment/webhook"
	"github.com/smallbiznis/faktur/internal/providers/pdf"
	publicinvoiceservice "github.com/smallbiznis/faktur/internal/publicinvoice/service"
	"github.com/smallbiznis/faktur/internal/server"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testAPIKey = "sk_test_e2e"

type env struct {
	db      *gorm.DB
	httpSrv *httptest.Server
}

func startEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:memdb_e2e_%d?mode=memory&cache=shared", time.Now().UnixNano())
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
		&paymentdomain.WebhookEvent{},
	)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(20)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	now := time.Now().UTC()
	account := accountdomain.Account{
		ID:         node.Generate(),
		Name:       "Acme",
		Email:      "owner@acme.test",
		Currency:   "USD",
		APIKeyHash: server.HashAPIKey(testAPIKey),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := db.Create(&account).Error; err != nil {
		t.Fatalf("create account: %v", err)
	}

	log := zap.NewNop()
	cfg := config.Config{
		PublicBaseURL:  "http://localhost:8080",
		WebhookSecrets: map[string]string{"stripe": "whsec_e2e"},
	}

	invoiceSvc := invoiceservice.NewService(invoiceservice.Params{
		DB:     db,
		Log:    log,
		Node:   node,
		Events: invoicerepo.NewEventRepository(node),
	})
	accountSvc := accountservice.NewService(accountservice.Params{DB: db, Log: log})
	clientSvc := clientservice.NewService(clientservice.Params{DB: db, Log: log, GenID: node})
	paymentSvc := paymentwebhook.NewService(paymentwebhook.Params{
		DB:         db,
		Log:        log,
		Node:       node,
		Cfg:        cfg,
		Adapters:   adapters.NewRegistry(stripe.NewFactory()),
		InvoiceSvc: invoiceSvc,
		AccountSvc: accountSvc,
	})
	publicSvc := publicinvoiceservice.NewService(publicinvoiceservice.Params{
		DB:         db,
		Log:        log,
		InvoiceSvc: invoiceSvc,
		PDF:        pdf.New(),
	})

	engine := server.NewEngine()
	server.NewServer(server.ServerParams{
		Gin:              engine,
		Cfg:              cfg,
		DB:               db,
		Log:              log,
		AccountSvc:       accountSvc,
		ClientSvc:        clientSvc,
		InvoiceSvc:       invoiceSvc,
		PaymentSvc:       paymentSvc,
		PublicInvoiceSvc: publicSvc,
	})

	httpSrv := httptest.NewServer(engine)
	t.Cleanup(httpSrv.Close)

	return &env{db: db, httpSrv: httpSrv}
}

func (e *env) do(t *testing.T, method, path, apiKey string, body any) (int, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, e.httpSrv.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	decoded := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			t.Fatalf("decode body %q: %v", raw, err)
		}
	}
	return resp.StatusCode, decoded
}

func resultCode(body map[string]any) string {
	code, _ := body["code"].(string)
	return code
}

func TestInvoiceLifecycleOverHTTP(t *testing.T) {
	e := startEnv(t)

	// Auth is required on the account API.
	if status, _ := e.do(t, http.MethodGet, "/api/invoices", "", nil); status != http.StatusUnauthorized {
		t.Fatalf("unauthenticated request: status = %d, want 401", status)
	}

	status, clientBody := e.do(t, http.MethodPost, "/api/clients", testAPIKey, map[string]any{
		"name":  "Client Co",
		"email": "billing@client.test",
	})
	if status != http.StatusCreated {
		t.Fatalf("create client: status = %d body = %v", status, clientBody)
	}
	clientID := clientBody["id"].(string)

	status, invoiceBody := e.do(t, http.MethodPost, "/api/invoices", testAPIKey, map[string]any{
		"client_id": clientID,
		"currency":  "USD",
		"items": []map[string]any{
			{"description": "Design", "quantity": 2, "unit_amount": 5000},
		},
		"discount_amount": 1000,
		"tax_lines":       []map[string]any{{"name": "VAT", "amount": 500}},
	})
	if status != http.StatusCreated {
		t.Fatalf("create invoice: status = %d body = %v", status, invoiceBody)
	}
	invoiceID := invoiceBody["id"].(string)
	if invoiceBody["number"] != "INV-001" {
		t.Fatalf("number = %v, want INV-001", invoiceBody["number"])
	}
	if invoiceBody["total_amount"].(float64) != 9500 {
		t.Fatalf("total = %v, want 9500", invoiceBody["total_amount"])
	}

	// Send, then send again: both succeed, one SENT event.
	if status, body := e.do(t, http.MethodPost, "/api/invoices/"+invoiceID+"/send", testAPIKey, nil); status != http.StatusOK {
		t.Fatalf("send: status = %d body = %v", status, body)
	}
	if status, body := e.do(t, http.MethodPost, "/api/invoices/"+invoiceID+"/send", testAPIKey, nil); status != http.StatusOK {
		t.Fatalf("repeat send: status = %d body = %v", status, body)
	}

	// Wrong amount is a 400, wrong reference later a 409.
	status, body := e.do(t, http.MethodPost, "/api/invoices/"+invoiceID+"/pay", testAPIKey, map[string]any{
		"payment_ref": "pay_1",
		"amount":      1,
	})
	if status != http.StatusBadRequest || resultCode(body) != "AMOUNT_MISMATCH" {
		t.Fatalf("amount mismatch: status = %d code = %s", status, resultCode(body))
	}

	status, body = e.do(t, http.MethodPost, "/api/invoices/"+invoiceID+"/pay", testAPIKey, map[string]any{
		"payment_ref": "pay_1",
	})
	if status != http.StatusOK {
		t.Fatalf("pay: status = %d body = %v", status, body)
	}

	status, body = e.do(t, http.MethodPost, "/api/invoices/"+invoiceID+"/pay", testAPIKey, map[string]any{
		"payment_ref": "pay_other",
	})
	if status != http.StatusConflict || resultCode(body) != "REFERENCE_MISMATCH" {
		t.Fatalf("reference mismatch: status = %d code = %s", status, resultCode(body))
	}

	// Soft delete blocks further transitions until restore.
	if status, body := e.do(t, http.MethodDelete, "/api/invoices/"+invoiceID, testAPIKey, nil); status != http.StatusOK {
		t.Fatalf("delete: status = %d body = %v", status, body)
	}
	status, body = e.do(t, http.MethodPost, "/api/invoices/"+invoiceID+"/refund", testAPIKey, map[string]any{
		"refund_ref": "re_1",
	})
	if status != http.StatusConflict || resultCode(body) != "INVOICE_DELETED" {
		t.Fatalf("refund on deleted: status = %d code = %s", status, resultCode(body))
	}

	status, body = e.do(t, http.MethodPost, "/api/invoices/"+invoiceID+"/restore", testAPIKey, nil)
	if status != http.StatusOK {
		t.Fatalf("restore: status = %d body = %v", status, body)
	}
	restored := body["invoice"].(map[string]any)
	if restored["status"] != "PAID" {
		t.Fatalf("restored status = %v, want PAID", restored["status"])
	}

	// Event history is readable.
	status, body = e.do(t, http.MethodGet, "/api/invoices/"+invoiceID+"/events", testAPIKey, nil)
	if status != http.StatusOK {
		t.Fatalf("events: status = %d body = %v", status, body)
	}
	if events := body["events"].([]any); len(events) < 3 {
		t.Fatalf("events = %d, want at least 3", len(events))
	}
}

func TestPublicInvoiceView(t *testing.T) {
	e := startEnv(t)

	_, clientBody := e.do(t, http.MethodPost, "/api/clients", testAPIKey, map[string]any{"name": "Client Co"})
	status, invoiceBody := e.do(t, http.MethodPost, "/api/invoices", testAPIKey, map[string]any{
		"client_id": clientBody["id"],
		"currency":  "USD",
		"items":     []map[string]any{{"description": "Work", "quantity": 1, "unit_amount": 11500}},
	})
	if status != http.StatusCreated {
		t.Fatalf("create invoice: status = %d", status)
	}

	// The public token never leaves through the API; read it off the row.
	var invoice invoicedomain.Invoice
	if err := e.db.Where("number = ?", invoiceBody["number"]).First(&invoice).Error; err != nil {
		t.Fatalf("load invoice: %v", err)
	}

	status, body := e.do(t, http.MethodGet, "/i/"+invoice.PublicToken, "", nil)
	if status != http.StatusOK {
		t.Fatalf("public view: status = %d body = %v", status, body)
	}
	if body["number"] != invoiceBody["number"] {
		t.Fatalf("public number = %v, want %v", body["number"], invoiceBody["number"])
	}
	if _, leaked := body["id"]; leaked {
		t.Fatalf("public view must not expose internal ids")
	}

	if status, _ := e.do(t, http.MethodGet, "/i/not-a-token", "", nil); status != http.StatusNotFound {
		t.Fatalf("unknown token: status = %d, want 404", status)
	}
}
