package apperror

import (
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
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
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// ---- Pool Capacity & Allocation (POOL) ----

// ErrPoolExhausted signals that no available wallet exists. This is a
// capacity-planning condition, not a bug: callers surface it as retry-later.
func ErrPoolExhausted() *AppError {
	return New("POOL_001", "No wallet available, try again later", http.StatusServiceUnavailable)
}

func ErrAlreadyAssigned() *AppError {
	return New("POOL_002", "Session already consumed its wallet assignment", http.StatusConflict)
}

func ErrInvalidAmount() *AppError {
	return New("POOL_003", "Invalid amount", http.StatusBadRequest)
}

func ErrNotFound(entity string) *AppError {
	return New("POOL_004", fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

// ---- Key Vault Integrity (VAULT) ----

// ErrKeyUnavailable signals an authentication failure while decrypting a
// private key: tampered ciphertext or a master-key mismatch. Fatal for the
// operation, never downgraded.
func ErrKeyUnavailable(err error) *AppError {
	return Wrap("VAULT_001", "Private key unavailable", http.StatusInternalServerError, err)
}

// ---- Recovery (RCV) ----

func ErrNothingToRecover() *AppError {
	return New("RCV_001", "Wallet holds no recoverable balance", http.StatusUnprocessableEntity)
}

func ErrInvalidState(status string) *AppError {
	return New("RCV_002", fmt.Sprintf("Wallet in status %q is not recoverable", status), http.StatusConflict)
}

// ---- Chain Gateway (CHAIN) ----

func ErrChainUnavailable(err error) *AppError {
	return Wrap("CHAIN_001", "Chain gateway unavailable", http.StatusBadGateway, err)
}

// ---- Authentication (AUTH) ----

func ErrInvalidAdminKey() *AppError {
	return New("AUTH_001", "Invalid administrator key", http.StatusUnauthorized)
}

func ErrInvalidToken() *AppError {
	return New("AUTH_002", "Invalid or expired token", http.StatusUnauthorized)
}

// ---- System & Infrastructure (SYS) ----

func ErrDatabaseError(err error) *AppError {
	return Wrap("SYS_001", "Internal database error", http.StatusInternalServerError, err)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}

// Validation returns a request validation error.
func Validation(message string) *AppError {
	return New("POOL_003", message, http.StatusBadRequest)
}
