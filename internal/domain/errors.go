package domain

import "errors"

// Connection errors.
var (
	ErrNoWallet   = errors.New("no wallet connected")
	ErrWrongChain = errors.New("wrong chain")
	ErrRPC        = errors.New("rpc unavailable")
)

// Authorization errors.
var (
	ErrUnauthorized = errors.New("unauthorized")
)

// Input validation errors.
var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrInvalidHash    = errors.New("invalid 32-byte hex value")
	ErrInvalidAddress = errors.New("invalid address")
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrInvalidOutcome = errors.New("invalid encoded outcome")
	ErrOutcomeCount   = errors.New("outcome names do not match outcome count")
	ErrInvalidParams  = errors.New("invalid question parameters")
	ErrUnsupported    = errors.New("operation not supported in this mode")
)

// Protocol and transaction errors.
var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("already exists")
	ErrNotOpen             = errors.New("question not open for answers")
	ErrAlreadyCommitted    = errors.New("unrevealed commitment already exists")
	ErrNoCommitment        = errors.New("no unrevealed commitment")
	ErrCommitMismatch      = errors.New("reveal does not match commitment")
	ErrBondTooLow          = errors.New("bond below required minimum")
	ErrSameOutcome         = errors.New("challenge repeats the leading outcome")
	ErrMaxRoundsReached    = errors.New("max rounds reached")
	ErrRoundsRemaining     = errors.New("escalation requires max rounds")
	ErrLivenessActive      = errors.New("liveness period still active")
	ErrLivenessExpired     = errors.New("liveness period expired")
	ErrNoAnswer            = errors.New("no revealed answer")
	ErrAlreadyEscalated    = errors.New("already escalated")
	ErrAlreadyFinalized    = errors.New("already finalized")
	ErrOracleNotFinalized  = errors.New("oracle question not finalized")
	ErrAlreadyResolved     = errors.New("market already resolved")
	ErrNotResolved         = errors.New("market not resolved")
	ErrWrongMarketType     = errors.New("operation not supported by market type")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInsufficientAllow   = errors.New("insufficient allowance")
	ErrReverted            = errors.New("transaction reverted")
	ErrRateLimited         = errors.New("rate limited")
	ErrLockHeld            = errors.New("lock already held")
)

// ErrorCategory groups errors by how a caller should react to them.
type ErrorCategory string

const (
	CategoryConnection    ErrorCategory = "connection"
	CategoryAuthorization ErrorCategory = "authorization"
	CategoryValidation    ErrorCategory = "validation"
	CategoryTransaction   ErrorCategory = "transaction"
	CategoryNotFound      ErrorCategory = "not_found"
	CategoryInternal      ErrorCategory = "internal"
)

// Category classifies err into one of the error categories.
func Category(err error) ErrorCategory {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoWallet), errors.Is(err, ErrWrongChain), errors.Is(err, ErrRPC):
		return CategoryConnection
	case errors.Is(err, ErrUnauthorized):
		return CategoryAuthorization
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidHash),
		errors.Is(err, ErrInvalidAddress), errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidOutcome), errors.Is(err, ErrOutcomeCount),
		errors.Is(err, ErrInvalidParams), errors.Is(err, ErrUnsupported):
		return CategoryValidation
	case errors.Is(err, ErrNotFound):
		return CategoryNotFound
	case errors.Is(err, ErrAlreadyExists), errors.Is(err, ErrNotOpen),
		errors.Is(err, ErrAlreadyCommitted), errors.Is(err, ErrNoCommitment),
		errors.Is(err, ErrCommitMismatch), errors.Is(err, ErrBondTooLow),
		errors.Is(err, ErrSameOutcome), errors.Is(err, ErrMaxRoundsReached),
		errors.Is(err, ErrRoundsRemaining), errors.Is(err, ErrLivenessActive),
		errors.Is(err, ErrLivenessExpired), errors.Is(err, ErrNoAnswer),
		errors.Is(err, ErrAlreadyEscalated), errors.Is(err, ErrAlreadyFinalized),
		errors.Is(err, ErrOracleNotFinalized), errors.Is(err, ErrAlreadyResolved),
		errors.Is(err, ErrNotResolved), errors.Is(err, ErrWrongMarketType),
		errors.Is(err, ErrInsufficientBalance), errors.Is(err, ErrInsufficientAllow),
		errors.Is(err, ErrReverted), errors.Is(err, ErrRateLimited), errors.Is(err, ErrLockHeld):
		return CategoryTransaction
	default:
		return CategoryInternal
	}
}
