package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure — no infrastructure dependency. The API layer maps
// each to a stable machine-readable kind and HTTP status.

var (
	// Identity / gates
	ErrUnauthenticated = errors.New("missing or invalid credential")
	ErrForbidden       = errors.New("insufficient role or scope")

	// Ledger
	ErrAccountNotFound      = errors.New("account not found")
	ErrInvalidAmount        = errors.New("amount out of range")
	ErrInsufficientBalance  = errors.New("insufficient point balance")
	ErrDuplicateTransaction = errors.New("duplicate transaction hash")
	ErrNoEligibleDeduction  = errors.New("no refundable deduction found")

	// Vouchers
	ErrVoucherNotFound  = errors.New("voucher not found")
	ErrVoucherNotActive = errors.New("voucher is not active")
	ErrVoucherExpired   = errors.New("voucher has expired")
	ErrSignatureInvalid = errors.New("voucher signature verification failed")
	ErrQuotaExceeded    = errors.New("active voucher quota exceeded")
	ErrInvalidRecipient = errors.New("recipient not eligible for vouchers")

	// PIN authentication
	ErrInvalidPin          = errors.New("invalid PIN")
	ErrNoOperators         = errors.New("no operators configured for village")
	ErrCurrentPinIncorrect = errors.New("current PIN is incorrect")
	ErrInvalidPinFormat    = errors.New("PIN must be exactly 4 digits")
	ErrOperatorNotFound    = errors.New("operator not found")
	ErrPrimaryOperator     = errors.New("primary operator cannot be removed")
	ErrPrimaryExists       = errors.New("village already has a primary operator")

	// Rate limiting
	ErrRateLimited = errors.New("rate limit exceeded")
)

// RateLimitError is the concrete rejection a limiter call site returns. It
// matches ErrRateLimited under errors.Is while carrying when the window
// resets, so the transport can derive an exact Retry-After.
type RateLimitError struct {
	ResetAtMS int64
}

func (e *RateLimitError) Error() string { return ErrRateLimited.Error() }

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }
