package services

import (
	"errors"
	"fmt"

	"github.com/tesseract-hub/contract-ledger-service/internal/schedule"
)

// ValidationError represents bad input, rejected before any transaction opens
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// IsValidationError checks if an error is a ValidationError
func IsValidationError(err error) (*ValidationError, bool) {
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return validationErr, true
	}
	return nil, false
}

// ErrorKind discriminates ledger failures
type ErrorKind string

const (
	KindValidation             ErrorKind = "VALIDATION"
	KindPlotNotSellable        ErrorKind = "PLOT_NOT_SELLABLE"
	KindInvalidSchedule        ErrorKind = "INVALID_SCHEDULE"
	KindContractNotFound       ErrorKind = "CONTRACT_NOT_FOUND"
	KindContractClosed         ErrorKind = "CONTRACT_CLOSED"
	KindContractNotCancellable ErrorKind = "CONTRACT_NOT_CANCELLABLE"
	KindInfrastructure         ErrorKind = "INFRASTRUCTURE"
)

// LedgerError is an invariant violation or infrastructure failure raised by a
// ledger operation. The transaction it occurred in has been rolled back.
type LedgerError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *LedgerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *LedgerError) Unwrap() error {
	return e.Err
}

// NewLedgerError creates a new ledger error
func NewLedgerError(kind ErrorKind, message string) *LedgerError {
	return &LedgerError{Kind: kind, Message: message}
}

// NewInfrastructureError wraps a database or connectivity failure
func NewInfrastructureError(message string, err error) *LedgerError {
	return &LedgerError{Kind: KindInfrastructure, Message: message, Err: err}
}

// AsLedgerError checks if an error is a LedgerError
func AsLedgerError(err error) (*LedgerError, bool) {
	var ledgerErr *LedgerError
	if errors.As(err, &ledgerErr) {
		return ledgerErr, true
	}
	return nil, false
}

// KindOf classifies any error returned by the ledger services.
// Unrecognised errors are infrastructure failures.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	if _, ok := IsValidationError(err); ok {
		return KindValidation
	}
	var scheduleErr *schedule.InvalidScheduleError
	if errors.As(err, &scheduleErr) {
		return KindInvalidSchedule
	}
	if ledgerErr, ok := AsLedgerError(err); ok {
		return ledgerErr.Kind
	}
	return KindInfrastructure
}

// User-displayable messages for invariant violations
const (
	msgPlotNotSellable        = "This plot is no longer available"
	msgContractNotFound       = "Contract not found"
	msgContractClosed         = "This contract is closed and no longer accepts payments"
	msgContractNotCancellable = "Only active or delinquent contracts can be cancelled"
)
