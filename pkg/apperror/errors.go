package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error by how the mirror reacts to it.
type Kind string

const (
	KindConfiguration       Kind = "CONFIGURATION"
	KindValidation          Kind = "VALIDATION"
	KindTransientNetwork    Kind = "TRANSIENT_NETWORK"
	KindTransactionRejected Kind = "TRANSACTION_REJECTED"
	KindInconclusive        Kind = "INCONCLUSIVE"
	KindInternal            Kind = "INTERNAL"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	Kind       Kind   `json:"kind"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, kind Kind, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Kind:       kind,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, kind Kind, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Kind:       kind,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// KindOf returns the Kind of err, or KindInternal when err is not an AppError.
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// ---- Configuration (CFG) ----

func ErrNotConfigured(err error) *AppError {
	return Wrap("CFG_001", KindConfiguration, "Ledger is not configured", http.StatusServiceUnavailable, err)
}

// ---- Validation (VAL) ----

func ErrWalletNotConnected() *AppError {
	return New("VAL_001", KindValidation, "Wallet is not connected", http.StatusBadRequest)
}

func ErrEmptyText() *AppError {
	return New("VAL_002", KindValidation, "Message must not be empty", http.StatusBadRequest)
}

func ErrTextTooLong(max int) *AppError {
	return New("VAL_003", KindValidation, fmt.Sprintf("Message exceeds %d characters", max), http.StatusBadRequest)
}

func ErrInvalidAmount() *AppError {
	return New("VAL_004", KindValidation, "Amount must be greater than zero", http.StatusBadRequest)
}

func ErrNotOwner() *AppError {
	return New("VAL_005", KindValidation, "Only the ledger owner can withdraw", http.StatusForbidden)
}

func ErrKindInFlight(kind string) *AppError {
	return New("VAL_006", KindValidation, fmt.Sprintf("A %s transaction is already in flight", kind), http.StatusConflict)
}

func ErrNotFound(entity string) *AppError {
	return New("VAL_007", KindValidation, fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

func ErrNotTerminal() *AppError {
	return New("VAL_008", KindValidation, "Transaction has not reached a terminal state", http.StatusConflict)
}

// Validation returns a generic validation error.
func Validation(message string) *AppError {
	return New("VAL_000", KindValidation, message, http.StatusBadRequest)
}

// ---- Transient network (NET) ----

func ErrLedgerUnavailable(err error) *AppError {
	return Wrap("NET_001", KindTransientNetwork, "Ledger endpoint unavailable", http.StatusBadGateway, err)
}

// ErrWalletUnavailable carries the wallet's own error text when there is one.
func ErrWalletUnavailable(err error) *AppError {
	return Wrap("NET_002", KindTransientNetwork, reason(err, "Wallet unavailable"), http.StatusBadGateway, err)
}

// ---- Transaction rejected (TXR) ----

// ErrSignatureRejected surfaces the wallet's reason verbatim.
func ErrSignatureRejected(err error) *AppError {
	return Wrap("TXR_001", KindTransactionRejected, reason(err, "Signature rejected"), http.StatusUnprocessableEntity, err)
}

func ErrBroadcastRejected(err error) *AppError {
	return Wrap("TXR_002", KindTransactionRejected, reason(err, "Broadcast rejected"), http.StatusUnprocessableEntity, err)
}

func ErrReverted(txHash string) *AppError {
	return New("TXR_003", KindTransactionRejected, fmt.Sprintf("Transaction %s reverted", txHash), http.StatusUnprocessableEntity)
}

func ErrConfirmationFailed(err error) *AppError {
	return Wrap("TXR_004", KindTransactionRejected, reason(err, "Waiting for confirmation failed"), http.StatusBadGateway, err)
}

// ---- Inconclusive (INC) ----

func ErrConfirmationInconclusive(txHash string, err error) *AppError {
	return Wrap("INC_001", KindInconclusive,
		fmt.Sprintf("Confirmation of %s not observed; the ledger may still apply it", txHash),
		http.StatusAccepted, err)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New("RATE_001", KindValidation, "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", KindInternal, "Internal server error", http.StatusInternalServerError, err)
}

func reason(err error, fallback string) string {
	if err == nil {
		return fallback
	}
	return err.Error()
}
