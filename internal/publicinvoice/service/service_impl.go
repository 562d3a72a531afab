package service

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/faktur/internal/account/domain"
	invoicedomain "github.com/smallbiznis/faktur/internal/invoice/domain"
	"github.com/smallbiznis/faktur/internal/providers/pdf"
	publicdomain "github.com/smallbiznis/faktur/internal/publicinvoice/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	InvoiceSvc invoicedomain.Service
	PDF        pdf.Provider
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	invoiceSvc invoicedomain.Service
	pdf        pdf.Provider
}

func NewService(p Params) publicdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("publicinvoice.service"),
		invoiceSvc: p.InvoiceSvc,
		pdf:        p.PDF,
	}
}

func (s *Service) GetByToken(ctx context.Context, token string) (*publicdomain.PublicInvoiceResponse, error) {
	invoice, account, err := s.load(ctx, token)
	if err != nil {
		return nil, err
	}

	resp := &publicdomain.PublicInvoiceResponse{
		Number:       invoice.Number,
		Status:       string(invoice.Status),
		BusinessName: businessName(account),
		Currency:     invoice.Currency,
		Subtotal:     invoice.SubtotalAmount,
		Discount:     invoice.DiscountAmount,
		Total:        invoice.TotalAmount,
		Notes:        invoice.Notes,
		SentAt:       invoice.SentAt,
		PaidAt:       invoice.PaidAt,
		CreatedAt:    invoice.CreatedAt,
	}
	if invoice.Client != nil {
		resp.ClientName = invoice.Client.Name
	}
	if invoice.Tax1Name != nil {
		resp.TaxLines = append(resp.TaxLines, publicdomain.PublicTaxLine{Name: *invoice.Tax1Name, Amount: invoice.Tax1Amount})
	}
	if invoice.Tax2Name != nil {
		resp.TaxLines = append(resp.TaxLines, publicdomain.PublicTaxLine{Name: *invoice.Tax2Name, Amount: invoice.Tax2Amount})
	}
	for _, item := range invoice.Items {
		resp.Items = append(resp.Items, publicdomain.PublicInvoiceItem{
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitAmount:  item.UnitAmount,
			Amount:      item.Amount,
		})
	}
	return resp, nil
}

// RenderPDF returns the rendered document and a download filename for
// the tokenized public link.
func (s *Service) RenderPDF(ctx context.Context, token string) (io.Reader, string, error) {
	invoice, account, err := s.load(ctx, token)
	if err != nil {
		return nil, "", err
	}
	return s.render(ctx, invoice, account)
}

// RenderPDFByID renders the same document for the authenticated API,
// scoped to the account on the request context.
func (s *Service) RenderPDFByID(ctx context.Context, id snowflake.ID) (io.Reader, string, error) {
	invoice, err := s.invoiceSvc.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, invoicedomain.ErrNotFound) {
			return nil, "", publicdomain.ErrNotFound
		}
		return nil, "", err
	}

	account, err := s.loadAccount(ctx, invoice.AccountID)
	if err != nil {
		return nil, "", err
	}
	return s.render(ctx, invoice, account)
}

func (s *Service) render(ctx context.Context, invoice invoicedomain.Invoice, account accountdomain.Account) (io.Reader, string, error) {
	data := pdf.InvoiceData{
		BusinessName:  businessName(account),
		BusinessEmail: account.Email,
		InvoiceNumber: invoice.Number,
		Status:        string(invoice.Status),
		IssueDate:     invoice.CreatedAt.Format("Jan 2, 2006"),
		Subtotal:      formatAmount(invoice.SubtotalAmount),
		Total:         formatAmount(invoice.TotalAmount),
		Currency:      invoice.Currency,
	}
	if account.Address != nil {
		data.BusinessAddress = *account.Address
	}
	if invoice.DiscountAmount > 0 {
		data.Discount = formatAmount(invoice.DiscountAmount)
	}
	if invoice.Tax1Name != nil {
		data.TaxLines = append(data.TaxLines, pdf.TotalLine{Label: *invoice.Tax1Name, Amount: formatAmount(invoice.Tax1Amount)})
	}
	if invoice.Tax2Name != nil {
		data.TaxLines = append(data.TaxLines, pdf.TotalLine{Label: *invoice.Tax2Name, Amount: formatAmount(invoice.Tax2Amount)})
	}
	if invoice.Client != nil {
		data.BillToName = invoice.Client.Name
		if invoice.Client.Email != nil {
			data.BillToEmail = *invoice.Client.Email
		}
		if invoice.Client.Address != nil {
			data.BillToAddress = *invoice.Client.Address
		}
	}
	for _, item := range invoice.Items {
		data.Items = append(data.Items, pdf.InvoiceItem{
			Description: item.Description,
			Qty:         item.Quantity,
			UnitPrice:   formatAmount(item.UnitAmount),
			Amount:      formatAmount(item.Amount),
		})
	}

	reader, err := s.pdf.GenerateInvoice(ctx, data)
	if err != nil {
		s.log.Error("render invoice pdf",
			zap.String("number", invoice.Number),
			zap.Error(err),
		)
		return nil, "", err
	}

	filename := fmt.Sprintf("%s.pdf", invoice.Number)
	return reader, filename, nil
}

func (s *Service) load(ctx context.Context, token string) (invoicedomain.Invoice, accountdomain.Account, error) {
	invoice, err := s.invoiceSvc.GetByPublicToken(ctx, token)
	if err != nil {
		if errors.Is(err, invoicedomain.ErrNotFound) {
			return invoicedomain.Invoice{}, accountdomain.Account{}, publicdomain.ErrNotFound
		}
		return invoicedomain.Invoice{}, accountdomain.Account{}, err
	}

	account, err := s.loadAccount(ctx, invoice.AccountID)
	if err != nil {
		return invoicedomain.Invoice{}, accountdomain.Account{}, err
	}
	return invoice, account, nil
}

func (s *Service) loadAccount(ctx context.Context, id snowflake.ID) (accountdomain.Account, error) {
	var account accountdomain.Account
	err := s.db.WithContext(ctx).
		Where(&accountdomain.Account{ID: id}).
		First(&account).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return accountdomain.Account{}, publicdomain.ErrNotFound
		}
		return accountdomain.Account{}, err
	}
	return account, nil
}

func businessName(account accountdomain.Account) string {
	if account.BusinessName != nil && *account.BusinessName != "" {
		return *account.BusinessName
	}
	return account.Name
}

func formatAmount(amount int64) string {
	return fmt.Sprintf("%d.%02d", amount/100, amount%100)
}
