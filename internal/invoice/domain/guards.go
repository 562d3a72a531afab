package domain

import "strings"

// Verdict is the outcome of evaluating a transition guard against a
// freshly read invoice.
type Verdict int

const (
	// VerdictAllow means the transition may proceed and will mutate state.
	VerdictAllow Verdict = iota
	// VerdictNoop means the invoice is already in the requested state;
	// the operation succeeds without mutating anything or appending an event.
	VerdictNoop
	// VerdictReject means the transition is illegal from the current state.
	VerdictReject
)

// GuardResult carries the verdict and, on rejection, the code and message.
type GuardResult struct {
	Verdict Verdict
	Code    Code
	Message string
}

func allow() GuardResult { return GuardResult{Verdict: VerdictAllow} }
func noop() GuardResult  { return GuardResult{Verdict: VerdictNoop} }

func reject(code Code, message string) GuardResult {
	return GuardResult{Verdict: VerdictReject, Code: code, Message: message}
}

// guardNotDeleted is the universal guard: every transition except
// Restore is rejected while the invoice is soft-deleted.
func guardNotDeleted(inv Invoice) (GuardResult, bool) {
	if inv.Deleted {
		return reject(CodeInvoiceDeleted, "invoice is deleted"), false
	}
	return GuardResult{}, true
}

// GuardSend permits Send only from DRAFT. A repeated Send on an
// already-sent invoice is an idempotent no-op.
func GuardSend(inv Invoice) GuardResult {
	if res, ok := guardNotDeleted(inv); !ok {
		return res
	}
	switch inv.Status {
	case StatusDraft:
		return allow()
	case StatusSent:
		return noop()
	default:
		return reject(CodeInvalidStateTransition, "invoice cannot be sent from status "+string(inv.Status))
	}
}

// GuardMarkPaid permits recording a payment from any non-deleted
// status. A repeated call with the reference already on file is a
// no-op; a differing reference is a conflict, never an overwrite.
func GuardMarkPaid(inv Invoice, paymentRef string) GuardResult {
	if res, ok := guardNotDeleted(inv); !ok {
		return res
	}
	if strings.TrimSpace(paymentRef) == "" {
		return reject(CodeMissingRequiredField, "payment reference is required")
	}
	if inv.Status == StatusPaid && inv.PaymentRef != nil {
		if *inv.PaymentRef == paymentRef {
			return noop()
		}
		return reject(CodeReferenceMismatch, "invoice is already paid with reference "+*inv.PaymentRef)
	}
	return allow()
}

// GuardPaymentMetadata rejects supplied payment metadata that
// disagrees with the invoice. Nil amount / blank currency means the
// caller did not supply them and no check applies.
func GuardPaymentMetadata(inv Invoice, amount *int64, currency string) GuardResult {
	if amount != nil && *amount != inv.TotalAmount {
		return reject(CodeAmountMismatch, "supplied amount does not match invoice total")
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency != "" && currency != strings.ToUpper(inv.Currency) {
		return reject(CodeCurrencyMismatch, "supplied currency does not match invoice currency")
	}
	return allow()
}

// GuardRefund mirrors GuardMarkPaid for refund references.
func GuardRefund(inv Invoice, refundRef string) GuardResult {
	if res, ok := guardNotDeleted(inv); !ok {
		return res
	}
	if strings.TrimSpace(refundRef) == "" {
		return reject(CodeMissingRequiredField, "refund reference is required")
	}
	if inv.Status == StatusRefunded && inv.RefundRef != nil {
		if *inv.RefundRef == refundRef {
			return noop()
		}
		return reject(CodeReferenceMismatch, "invoice is already refunded with reference "+*inv.RefundRef)
	}
	return allow()
}

// GuardSoftDelete: deleting an already-deleted invoice is a no-op.
func GuardSoftDelete(inv Invoice) GuardResult {
	if inv.Deleted {
		return noop()
	}
	return allow()
}

// GuardRestore is the only guard that admits a deleted invoice.
// Restoring a live invoice is a no-op.
func GuardRestore(inv Invoice) GuardResult {
	if !inv.Deleted {
		return noop()
	}
	return allow()
}

// GuardEdit gates item replacement and detail edits: any non-deleted
// status may be edited.
func GuardEdit(inv Invoice) GuardResult {
	if res, ok := guardNotDeleted(inv); !ok {
		return res
	}
	return allow()
}
