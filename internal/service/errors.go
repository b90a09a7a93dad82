package service

import (
	"errors"
	"fmt"
)

// Kinds of ledger failures. errors.Is(err, ErrBadRequest) matches every
// *LedgerError of that kind.
var (
	ErrNotFound   = errors.New("not found")
	ErrBadRequest = errors.New("bad request")
	ErrConflict   = errors.New("conflict")
)

// Rule codes carried by LedgerError.Code.
const (
	CodeUserNotFound        = "user_not_found"
	CodeBrandNotFound       = "brand_not_found"
	CodeTransactionNotFound = "transaction_not_found"
	CodeInvalidBillAmount   = "invalid_bill_amount"
	CodeInvalidBillDate     = "invalid_bill_date"
	CodeDuplicateRequest    = "duplicate_request"
	CodeInsufficientBalance = "insufficient_balance"
	CodeBrandLimit          = "brand_limit"
	CodeInvalidUPI          = "invalid_upi"
	CodeRedeemExceedsBill   = "redeem_exceeds_bill"
	CodeEarningLimit        = "earning_limit"
	CodeNegativeBalance     = "negative_balance"
	CodeSignInToRedeem      = "sign_in_to_redeem"
	CodeNotPending          = "not_pending"
	CodeOutOfOrder          = "out_of_order"
	CodeNoOwner             = "no_owner"
	CodeReasonRequired      = "reason_required"
	CodeInvalidStatus       = "invalid_status"
	CodeAlreadyPaid         = "already_paid"
	CodeReferenceRequired   = "reference_required"
	CodeZeroAdjustment      = "zero_adjustment"
	CodeAlreadyGranted      = "already_granted"
	CodeInvalidRequest      = "invalid_request"
	CodeLedgerBusy          = "ledger_busy"
)

// LedgerError is a business rule rejection. Message is safe to show to the
// caller verbatim.
type LedgerError struct {
	Kind    error
	Code    string
	Message string
}

func (e *LedgerError) Error() string {
	return e.Message
}

func (e *LedgerError) Is(target error) bool {
	return target == e.Kind
}

func notFound(code, format string, args ...interface{}) *LedgerError {
	return &LedgerError{Kind: ErrNotFound, Code: code, Message: fmt.Sprintf(format, args...)}
}

func badRequest(code, format string, args ...interface{}) *LedgerError {
	return &LedgerError{Kind: ErrBadRequest, Code: code, Message: fmt.Sprintf(format, args...)}
}

func conflict(code, format string, args ...interface{}) *LedgerError {
	return &LedgerError{Kind: ErrConflict, Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsLedgerError unwraps err to a *LedgerError if it carries one.
func AsLedgerError(err error) (*LedgerError, bool) {
	var le *LedgerError
	if errors.As(err, &le) {
		return le, true
	}
	return nil, false
}

// ruleCode is the metric label of err.
func ruleCode(err error) string {
	if le, ok := AsLedgerError(err); ok {
		return le.Code
	}
	return "internal"
}
