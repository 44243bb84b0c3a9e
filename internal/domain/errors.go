package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrLockHeld          = errors.New("lock already held")
	ErrInvalidQuote      = errors.New("invalid quote")
	ErrInvalidPool       = errors.New("invalid pool")
	ErrInvalidPath       = errors.New("invalid candidate path")
	ErrStaleData         = errors.New("stale market data")
	ErrUnknownTx         = errors.New("unknown transaction")
	ErrAlreadyTerminal   = errors.New("transaction already terminal")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrAccountBusy       = errors.New("account has a request in flight")
	ErrTradeNotFound     = errors.New("trade not in flight")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrVenueUnavailable  = errors.New("venue unavailable")

	// Venue failures that must never be retried.
	ErrNonceConflict         = errors.New("nonce conflict")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrInvalidSignature      = errors.New("invalid signature")
	ErrRejected              = errors.New("rejected by venue")
)

// StaleDataError is returned when a refresh carries a timestamp older than
// the entry already held. The store keeps its previous data.
type StaleDataError struct {
	Kind     string // "pair" or "pool"
	ID       string
	Held     time.Time
	Supplied time.Time
}

func (e *StaleDataError) Error() string {
	return fmt.Sprintf("stale %s %s: supplied %s is older than held %s",
		e.Kind, e.ID, e.Supplied.Format(time.RFC3339Nano), e.Held.Format(time.RFC3339Nano))
}

func (e *StaleDataError) Is(target error) bool { return target == ErrStaleData }

// UnknownTransactionError is returned for updates to an id that was never
// registered with the monitor.
type UnknownTransactionError struct {
	ID string
}

func (e *UnknownTransactionError) Error() string {
	return "unknown transaction " + e.ID
}

func (e *UnknownTransactionError) Is(target error) bool { return target == ErrUnknownTx }

// RecoverableError marks a transient venue failure (timeout, rate limit,
// dropped connection). The orchestrator retries these with backoff.
type RecoverableError struct {
	Op  string
	Err error
}

func (e *RecoverableError) Error() string {
	return fmt.Sprintf("%s: recoverable: %v", e.Op, e.Err)
}

func (e *RecoverableError) Unwrap() error { return e.Err }

// NonRecoverableError marks a permanent venue failure. It is never retried.
type NonRecoverableError struct {
	Op  string
	Err error
}

func (e *NonRecoverableError) Error() string {
	return fmt.Sprintf("%s: non-recoverable: %v", e.Op, e.Err)
}

func (e *NonRecoverableError) Unwrap() error { return e.Err }

// Recoverable wraps err as a RecoverableError.
func Recoverable(op string, err error) error {
	return &RecoverableError{Op: op, Err: err}
}

// NonRecoverable wraps err as a NonRecoverableError.
func NonRecoverable(op string, err error) error {
	return &NonRecoverableError{Op: op, Err: err}
}

// IsNonRecoverable reports whether err must not be retried. Anything not
// explicitly classified as non-recoverable is treated as transient.
func IsNonRecoverable(err error) bool {
	if err == nil {
		return false
	}
	var nr *NonRecoverableError
	if errors.As(err, &nr) {
		return true
	}
	for _, sentinel := range []error{
		ErrNonceConflict, ErrInsufficientFunds, ErrInsufficientLiquidity,
		ErrInvalidSignature, ErrRejected,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
