package coffer

import (
	"errors"
	"fmt"

	"github.com/xraph/coffer/content"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound      = errors.New("coffer: not found")
	ErrAlreadyExists = errors.New("coffer: already exists")
	ErrInvalidInput  = errors.New("coffer: invalid input")

	// Wallet errors
	ErrInsufficientBalance = errors.New("coffer: insufficient balance")
	ErrIdempotencyConflict = errors.New("coffer: idempotency key belongs to another user")
	ErrEntryNotFound       = errors.New("coffer: wallet entry not found")
	ErrLedgerCorrupt       = errors.New("coffer: wallet ledger inconsistent")

	// Entitlement errors
	ErrGrantNotFound      = errors.New("coffer: grant not found")
	ErrUnlockKeyCollision = errors.New("coffer: unit id already purchased in another catalog")
	ErrUnitNotFound       = content.ErrUnitNotFound

	// Subscription errors
	ErrNoActiveSubscription = errors.New("coffer: no active subscription")
	ErrSubscriptionActive   = errors.New("coffer: subscription already active")
	ErrUnknownPlan          = errors.New("coffer: unknown subscription plan")

	// Engagement errors
	ErrEngagementQueueFull = errors.New("coffer: engagement queue full")

	// Store errors
	ErrStoreClosed       = errors.New("coffer: store is closed")
	ErrTransactionFailed = errors.New("coffer: transaction failed")
	ErrMigrationFailed   = errors.New("coffer: migration failed")
)

// ValidationError reports a rejected request field. It matches
// ErrInvalidInput under errors.Is.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("coffer: validation failed for %s: %s", e.Field, e.Message)
}

// Unwrap ties every ValidationError to ErrInvalidInput.
func (e ValidationError) Unwrap() error { return ErrInvalidInput }

func invalid(field, msg string) error {
	return ValidationError{Field: field, Message: msg}
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrEntryNotFound) ||
		errors.Is(err, ErrGrantNotFound) ||
		errors.Is(err, ErrUnitNotFound) ||
		errors.Is(err, ErrNoActiveSubscription)
}

// IsConflict returns true if the request clashed with existing state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyConflict) ||
		errors.Is(err, ErrUnlockKeyCollision) ||
		errors.Is(err, ErrSubscriptionActive) ||
		errors.Is(err, ErrAlreadyExists)
}

// IsRetryable returns true if the error is temporary and the operation can be
// retried with the same idempotency key.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransactionFailed) ||
		errors.Is(err, ErrEngagementQueueFull)
}
