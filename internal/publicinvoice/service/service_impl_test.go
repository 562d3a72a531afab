package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	accountdomain "github.com/smallbiznis/faktur/internal/account/domain"
	"github.com/smallbiznis/faktur/internal/accountcontext"
	clientdomain "github.com/smallbiznis/faktur/internal/client/domain"
	invoicedomain "github.com/smallbiznis/faktur/internal/invoice/domain"
	invoicerepo "github.com/smallbiznis/faktur/internal/invoice/repository"
	invoiceservice "github.com/smallbiznis/faktur/internal/invoice/service"
	"github.com/smallbiznis/faktur/internal/providers/pdf"
	publicdomain "github.com/smallbiznis/faktur/internal/publicinvoice/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupPublicService(t *testing.T) (publicdomain.Service, invoicedomain.Invoice) {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_pub_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&accountdomain.Account{},
		&clientdomain.Client{},
		&invoicedomain.Invoice{},
		&invoicedomain.InvoiceItem{},
		&invoicedomain.InvoiceEvent{},
	))

	node, err := snowflake.NewNode(13)
	require.NoError(t, err)

	now := time.Now().UTC()
	businessName := "Acme Studio"
	account := accountdomain.Account{
		ID:           node.Generate(),
		Name:         "Acme",
		BusinessName: &businessName,
		Email:        "owner@acme.test",
		Currency:     "USD",
		APIKeyHash:   "hash",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, db.Create(&account).Error)

	client := clientdomain.Client{
		ID:        node.Generate(),
		AccountID: account.ID,
		Name:      "Client Co",
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, db.Create(&client).Error)

	invoiceSvc := invoiceservice.NewService(invoiceservice.Params{
		DB:     db,
		Log:    zap.NewNop(),
		Node:   node,
		Events: invoicerepo.NewEventRepository(node),
	})
	ctx := accountcontext.WithAccountID(context.Background(), account.ID)
	invoice, err := invoiceSvc.Create(ctx, invoicedomain.CreateInvoiceRequest{
		ClientID: client.ID,
		Currency: "USD",
		Items:    []invoicedomain.ItemInput{{Description: "Work", Quantity: 1, UnitAmount: 11500}},
		TaxLines: []invoicedomain.TaxLine{{Name: "VAT", Amount: 500}},
	})
	require.NoError(t, err)

	svc := NewService(Params{
		DB:         db,
		Log:        zap.NewNop(),
		InvoiceSvc: invoiceSvc,
		PDF:        &pdf.NoOpProvider{},
	})
	return svc, invoice
}

func TestGetByToken(t *testing.T) {
	svc, invoice := setupPublicService(t)

	resp, err := svc.GetByToken(context.Background(), invoice.PublicToken)
	require.NoError(t, err)

	assert.Equal(t, invoice.Number, resp.Number)
	assert.Equal(t, "DRAFT", resp.Status)
	assert.Equal(t, "Acme Studio", resp.BusinessName)
	assert.Equal(t, "Client Co", resp.ClientName)
	assert.Equal(t, int64(12000), resp.Total)
	require.Len(t, resp.TaxLines, 1)
	assert.Equal(t, "VAT", resp.TaxLines[0].Name)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, int64(11500), resp.Items[0].Amount)
}

func TestGetByTokenUnknown(t *testing.T) {
	svc, _ := setupPublicService(t)

	_, err := svc.GetByToken(context.Background(), "nope")
	assert.ErrorIs(t, err, publicdomain.ErrNotFound)
}

func TestRenderPDFFilename(t *testing.T) {
	svc, invoice := setupPublicService(t)

	_, filename, err := svc.RenderPDF(context.Background(), invoice.PublicToken)
	require.NoError(t, err)
	assert.Equal(t, invoice.Number+".pdf", filename)
}

func TestRenderPDFByID(t *testing.T) {
	svc, invoice := setupPublicService(t)

	ctx := accountcontext.WithAccountID(context.Background(), invoice.AccountID)
	_, filename, err := svc.RenderPDFByID(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, invoice.Number+".pdf", filename)
}

func TestRenderPDFByIDScopedToAccount(t *testing.T) {
	svc, invoice := setupPublicService(t)

	node, err := snowflake.NewNode(14)
	require.NoError(t, err)

	ctx := accountcontext.WithAccountID(context.Background(), node.Generate())
	_, _, err = svc.RenderPDFByID(ctx, invoice.ID)
	assert.ErrorIs(t, err, publicdomain.ErrNotFound)
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "115.00", formatAmount(11500))
	assert.Equal(t, "0.05", formatAmount(5))
	assert.Equal(t, "1.30", formatAmount(130))
}
