/*
errors.go - Centralized error types for the loyalty engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Business-rule violations are structured results that the API boundary
  recovers and maps to status codes; storage failures propagate generically.

ERROR CATEGORIES:
  1. Lookup errors     - Unknown reward, account, or ledger entry
  2. Rule violations   - Insufficient points, not eligible, already issued
  3. Store errors      - Write conflicts, duplicate order rows

USAGE:
  Callers match with errors.Is / errors.As:

    var insufficient *loyalty.InsufficientPointsError
    if errors.As(err, &insufficient) {
        render(insufficient.Shortfall)
    }

SEE ALSO:
  - engine.go: Returns these errors
  - api/handlers.go: Maps them to HTTP status codes
*/
package loyalty

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrRewardNotFound is returned when a redemption names an unknown reward.
	ErrRewardNotFound = errors.New("reward not found")

	// ErrAccountNotFound is returned by admin lookups for unknown accounts.
	// Normal operations create accounts lazily and never return this.
	ErrAccountNotFound = errors.New("loyalty account not found")

	// ErrEntryNotFound is returned when a ledger entry id does not exist.
	ErrEntryNotFound = errors.New("ledger entry not found")

	// ErrInsufficientPoints is returned when a redemption or deduction would
	// take the balance below zero. Wrapped by InsufficientPointsError, which
	// carries the shortfall.
	ErrInsufficientPoints = errors.New("insufficient points")

	// ErrNotEligible is returned when card issuance is requested before the
	// purchase-count/spend criteria are met.
	ErrNotEligible = errors.New("not eligible for a loyalty card")

	// ErrAlreadyIssued is returned when card issuance is requested for an
	// account that already holds a card. Recoverable: the existing card is
	// carried by AlreadyIssuedError.
	ErrAlreadyIssued = errors.New("loyalty card already issued")

	// ErrDuplicateOrder is returned by stores when an order_processed entry
	// already exists for the same order id. The engine resolves this as a
	// silent no-op; it never surfaces as a user-facing failure.
	ErrDuplicateOrder = errors.New("duplicate order id")

	// ErrRewardAlreadyUsed is returned when marking a redeemed reward as
	// used more than once.
	ErrRewardAlreadyUsed = errors.New("reward already marked used")

	// ErrInvalidInput is returned for malformed admin or collaborator input
	// (non-numeric amounts, empty identifiers, zero adjustments).
	ErrInvalidInput = errors.New("invalid input")

	// ErrConcurrentModification is returned when the optimistic version
	// check detects a conflicting writer. The engine retries these.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientPointsError reports a redemption shortfall. The shortfall is a
// required observable output so callers can render "N more points needed".
type InsufficientPointsError struct {
	UserID    UserID
	Reward    string // empty for admin deductions
	Requested int64
	Available int64
	Shortfall int64
}

func (e *InsufficientPointsError) Error() string {
	if e.Reward != "" {
		return fmt.Sprintf("insufficient points for %q: need %d, have %d (short %d)",
			e.Reward, e.Requested, e.Available, e.Shortfall)
	}
	return fmt.Sprintf("insufficient points: need %d, have %d (short %d)",
		e.Requested, e.Available, e.Shortfall)
}

func (e *InsufficientPointsError) Unwrap() error { return ErrInsufficientPoints }

// AlreadyIssuedError carries the existing card so callers can return it
// alongside the "already issued" condition.
type AlreadyIssuedError struct {
	UserID UserID
	Card   *Card
}

func (e *AlreadyIssuedError) Error() string {
	return fmt.Sprintf("card already issued for %s (card %s)", e.UserID, e.Card.ID)
}

func (e *AlreadyIssuedError) Unwrap() error { return ErrAlreadyIssued }

// InvalidInputError adds field context to ErrInvalidInput.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *InvalidInputError) Unwrap() error { return ErrInvalidInput }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRewardNotFound) ||
		errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrEntryNotFound)
}

// IsClientError returns true if the error is a business-rule violation or
// bad input rather than a storage failure.
func IsClientError(err error) bool {
	return IsNotFound(err) ||
		errors.Is(err, ErrInsufficientPoints) ||
		errors.Is(err, ErrNotEligible) ||
		errors.Is(err, ErrAlreadyIssued) ||
		errors.Is(err, ErrRewardAlreadyUsed) ||
		errors.Is(err, ErrInvalidInput)
}
