package domain

// Code identifies why a transition was rejected. The set is closed:
// callers switch on it to pick an HTTP status or client message.
type Code string

const (
	CodeNotFound               Code = "NOT_FOUND"
	CodeInvoiceDeleted         Code = "INVOICE_DELETED"
	CodeInvalidStateTransition Code = "INVALID_STATE_TRANSITION"
	CodeMissingRequiredField   Code = "MISSING_REQUIRED_FIELD"
	CodeAmountMismatch         Code = "AMOUNT_MISMATCH"
	CodeCurrencyMismatch       Code = "CURRENCY_MISMATCH"
	CodeReferenceMismatch      Code = "REFERENCE_MISMATCH"
	CodeInternalError          Code = "INTERNAL_ERROR"
)

// Result is the discriminated outcome of every lifecycle operation.
// Business-rule rejections are returned here, never as Go errors; an
// error escaping the executor always surfaces as INTERNAL_ERROR.
type Result struct {
	Success bool   `json:"success"`
	Code    Code   `json:"code,omitempty"`
	Error   string `json:"error,omitempty"`

	// On success: the updated aggregate (items and client loaded) and
	// the event the transition appended, nil for idempotent no-ops.
	Invoice *Invoice      `json:"invoice,omitempty"`
	Event   *InvoiceEvent `json:"event,omitempty"`
}

func OK(invoice *Invoice, event *InvoiceEvent) Result {
	return Result{Success: true, Invoice: invoice, Event: event}
}

func Reject(code Code, message string) Result {
	return Result{Code: code, Error: message}
}
