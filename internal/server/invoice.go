package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	invoicedomain "github.com/smallbiznis/faktur/internal/invoice/domain"
	"go.uber.org/zap"
)

func (s *Server) CreateInvoice(c *gin.Context) {
	var req invoicedomain.CreateInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	created, err := s.invoiceSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, created)
}

func (s *Server) ListInvoices(c *gin.Context) {
	var req invoicedomain.ListInvoiceRequest

	if raw, ok := c.GetQuery("status"); ok && strings.TrimSpace(raw) != "" {
		status := invoicedomain.Status(strings.ToUpper(strings.TrimSpace(raw)))
		req.Status = &status
	}
	if raw, ok := c.GetQuery("client_id"); ok && strings.TrimSpace(raw) != "" {
		clientID, err := snowflake.ParseString(strings.TrimSpace(raw))
		if err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		req.ClientID = &clientID
	}
	req.IncludeDeleted = c.Query("include_deleted") == "true"

	invoices, err := s.invoiceSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"invoices": invoices})
}

func (s *Server) GetInvoiceByID(c *gin.Context) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	found, err := s.invoiceSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, found)
}

func (s *Server) GetInvoicePDF(c *gin.Context) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	reader, filename, err := s.publicInvoiceSvc.RenderPDFByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Header("Content-Type", "application/pdf")
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, reader); err != nil {
		s.log.Warn("stream invoice pdf", zap.Error(err))
	}
}

func (s *Server) ListInvoiceEvents(c *gin.Context) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	var req invoicedomain.ListEventsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.invoiceSvc.ListEvents(c.Request.Context(), id, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) ReplaceInvoiceItems(c *gin.Context) {
	id, ok := invoiceIDParam(c)
	if !ok {
		return
	}

	var req invoicedomain.ReplaceItemsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	writeResult(c, s.invoiceSvc.ReplaceItems(c.Request.Context(), id, req))
}

func (s *Server) SendInvoice(c *gin.Context) {
	id, ok := invoiceIDParam(c)
	if !ok {
		return
	}

	var req struct {
		Notes string `json:"notes"`
	}
	// Body is optional on send.
	_ = c.ShouldBindJSON(&req)

	writeResult(c, s.invoiceSvc.Send(c.Request.Context(), id, req.Notes))
}

func (s *Server) MarkInvoicePaid(c *gin.Context) {
	id, ok := invoiceIDParam(c)
	if !ok {
		return
	}

	var req invoicedomain.MarkPaidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	writeResult(c, s.invoiceSvc.MarkPaid(c.Request.Context(), id, req))
}

func (s *Server) RefundInvoice(c *gin.Context) {
	id, ok := invoiceIDParam(c)
	if !ok {
		return
	}

	var req invoicedomain.RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	writeResult(c, s.invoiceSvc.Refund(c.Request.Context(), id, req))
}

func (s *Server) SoftDeleteInvoice(c *gin.Context) {
	id, ok := invoiceIDParam(c)
	if !ok {
		return
	}

	writeResult(c, s.invoiceSvc.SoftDelete(c.Request.Context(), id))
}

func (s *Server) RestoreInvoice(c *gin.Context) {
	id, ok := invoiceIDParam(c)
	if !ok {
		return
	}

	writeResult(c, s.invoiceSvc.Restore(c.Request.Context(), id))
}

// invoiceIDParam resolves :id. An unparseable id behaves exactly like
// an id that does not exist.
func invoiceIDParam(c *gin.Context) (snowflake.ID, bool) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil {
		c.JSON(http.StatusNotFound, invoicedomain.Reject(invoicedomain.CodeNotFound, "invoice not found"))
		return 0, false
	}
	return id, true
}

// writeResult maps the lifecycle result onto HTTP. The body is always
// the structured result; only the status code varies.
func writeResult(c *gin.Context, result invoicedomain.Result) {
	if result.Success {
		c.JSON(http.StatusOK, result)
		return
	}
	c.JSON(statusForCode(result.Code), result)
}

func statusForCode(code invoicedomain.Code) int {
	switch code {
	case invoicedomain.CodeNotFound:
		return http.StatusNotFound
	case invoicedomain.CodeInvoiceDeleted,
		invoicedomain.CodeInvalidStateTransition,
		invoicedomain.CodeReferenceMismatch:
		return http.StatusConflict
	case invoicedomain.CodeMissingRequiredField,
		invoicedomain.CodeAmountMismatch,
		invoicedomain.CodeCurrencyMismatch:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
