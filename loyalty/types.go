/*
Package loyalty provides the core loyalty rewards engine.

PURPOSE:
  This package contains the domain types and algorithms for a customer
  loyalty program: point accrual from purchases, tier classification,
  reward redemption against a points balance, and loyalty-card lifecycle.
  The engine consumes purchase events from an external order/payment
  collaborator and issues back point deltas and discount percentages.
  It never performs payment capture or order persistence itself.

KEY CONCEPTS IN THIS FILE (types.go):
  - Account: Per-user scalar summary (balance, tier, counters, card)
  - Card: One-time-issued loyalty card with expiry
  - TierName: Closed ordered set of tier identifiers

DESIGN PRINCIPLES:
  1. Ledger is truth: Account.Points always equals the sum of entry deltas
  2. Precision: decimal.Decimal for currency, int64 for points
  3. Monotonicity: PurchaseCount, TotalSpent, Eligible never go backwards
  4. Optimistic concurrency: Account.Version guards every read-modify-write

SEE ALSO:
  - ledger.go: Append-only points history entries
  - catalog.go: Tier and reward catalog configuration
  - engine.go: Award, redeem, card-issue operations
*/
package loyalty

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type EntryID string

// =============================================================================
// TIERS - Closed, ordered set
// =============================================================================

// TierName identifies a loyalty tier. The ordered set is closed; an account
// is always classified into the highest tier whose threshold it meets.
type TierName string

const (
	TierSprout     TierName = "sprout"
	TierSeedling   TierName = "seedling"
	TierCultivator TierName = "cultivator"
	TierBloom      TierName = "bloom"
	TierHarvester  TierName = "harvester"
)

// =============================================================================
// LOYALTY CARD - One-time issuance per account
// =============================================================================

// CardType distinguishes the physical/virtual card kind issued to a member.
type CardType string

const (
	CardStandard CardType = "standard"
	CardPremium  CardType = "premium"
)

// Card is issued at most once per account. Expiry is advisory: the engine
// does not enforce it with a background process; the order-pricing
// collaborator must check Active and ExpiresAt before applying the discount.
type Card struct {
	ID        string
	Type      CardType
	IssuedAt  time.Time
	ExpiresAt time.Time // IssuedAt + card validity (1 year)
	Active    bool
}

// Expired reports whether the card is past its expiry at the given time.
func (c *Card) Expired(at time.Time) bool {
	return at.After(c.ExpiresAt)
}

// =============================================================================
// ACCOUNT - Per-user scalar summary (the only contended resource)
// =============================================================================

// Account is the loyalty account for one user, keyed by user id and owned
// exclusively by the engine.
//
// INVARIANTS:
//   - Points == sum of all ledger entry deltas for this account
//   - Points never negative
//   - Tier == highest tier whose threshold <= Points (never stale)
//   - PurchaseCount, TotalSpent monotonically non-decreasing
//   - Eligible is one-way: once true, never reset
//   - Card created at most once, never replaced
type Account struct {
	UserID        UserID
	Points        int64
	PurchaseCount int64
	TotalSpent    decimal.Decimal
	Tier          TierName
	// DiscountPercent mirrors the current tier's discount percentage. It is
	// updated in the same transaction as Points so a concurrent reader never
	// observes tier and balance out of sync.
	DiscountPercent decimal.Decimal
	Eligible        bool
	Card            *Card

	// Version implements optimistic concurrency. Zero means "not yet
	// persisted"; stores bump it on every successful save and reject saves
	// whose version does not match the stored row.
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasCard reports whether a card has been issued for this account.
func (a *Account) HasCard() bool { return a.Card != nil }

// Clone returns a deep copy, so callers can mutate-and-retry without
// aliasing store-owned state.
func (a *Account) Clone() *Account {
	cp := *a
	if a.Card != nil {
		card := *a.Card
		cp.Card = &card
	}
	return &cp
}
