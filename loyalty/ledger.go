/*
ledger.go - Append-only points history

PURPOSE:
  Every balance change is recorded as an immutable Entry. The ledger is the
  audit trail and the consistency anchor: at all times the account's Points
  equals the sum of its entry deltas. The stored balance is the query path;
  the ledger is the proof.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete. The single exception is the Used
     flag, which transitions false -> true exactly once on redemption
     entries when the reward is applied to an order.
  2. CLOSED VARIANTS: Source determines which optional fields are set.
     An order entry carries an OrderID, a redemption entry carries a
     RewardName, and nothing else does. Entries are built through the
     per-variant constructors so illegal combinations cannot be created.
  3. IDEMPOTENCY: OrderID is unique per account among order_processed
     entries. Stores enforce this; the engine treats a hit as a no-op.

EXAMPLE FLOW:
  1. Order for 150 confirmed:   +225 (order_processed, order id)
  2. Redeems "discount-15":     -200 (reward_redeemed, reward name)
  3. Support adjustment:        +50  (admin_adjustment, reason)

  Balance: 225 - 200 + 50 = 75, provable from the three entries.

SEE ALSO:
  - store.go: Persistence contract for entries
  - engine.go: The only writer
*/
package loyalty

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ENTRY SOURCE - Closed tagged variants
// =============================================================================

// EntrySource tags why a ledger entry exists.
type EntrySource string

const (
	SourceOrderProcessed  EntrySource = "order_processed"
	SourceRewardRedeemed  EntrySource = "reward_redeemed"
	SourceAdminAdjustment EntrySource = "admin_adjustment"
	SourceTestPoints      EntrySource = "test_points"
)

// =============================================================================
// ENTRY - One immutable balance change
// =============================================================================

// Entry is one signed point delta with its source tag. Positive deltas earn,
// negative deltas redeem or deduct.
type Entry struct {
	ID     EntryID
	UserID UserID
	Points int64
	Source EntrySource

	// OrderID is set only for order_processed entries. It is the idempotency
	// key that prevents double-crediting one purchase.
	OrderID string

	// RewardName is set only for reward_redeemed entries and references the
	// reward catalog.
	RewardName string

	// Reason is free-form context for admin_adjustment and test_points.
	Reason string

	// Used marks a redeemed reward as consumed by an order. The only
	// mutable field; transitions false -> true once.
	Used bool

	CreatedAt time.Time
}

// =============================================================================
// VARIANT CONSTRUCTORS
// =============================================================================

// NewPurchaseEntry records points earned from a paid order.
func NewPurchaseEntry(userID UserID, orderID string, points int64, at time.Time) Entry {
	return Entry{
		ID:        newEntryID(),
		UserID:    userID,
		Points:    points,
		Source:    SourceOrderProcessed,
		OrderID:   orderID,
		CreatedAt: at,
	}
}

// NewRedemptionEntry records a reward redemption as a negative delta.
func NewRedemptionEntry(userID UserID, rewardName string, cost int64, at time.Time) Entry {
	return Entry{
		ID:         newEntryID(),
		UserID:     userID,
		Points:     -cost,
		Source:     SourceRewardRedeemed,
		RewardName: rewardName,
		CreatedAt:  at,
	}
}

// NewAdjustmentEntry records a signed manual correction with its reason.
func NewAdjustmentEntry(userID UserID, delta int64, reason string, at time.Time) Entry {
	return Entry{
		ID:        newEntryID(),
		UserID:    userID,
		Points:    delta,
		Source:    SourceAdminAdjustment,
		Reason:    reason,
		CreatedAt: at,
	}
}

// NewTestPointsEntry records seeded demo points. Never reachable from the
// public API.
func NewTestPointsEntry(userID UserID, points int64, reason string, at time.Time) Entry {
	return Entry{
		ID:        newEntryID(),
		UserID:    userID,
		Points:    points,
		Source:    SourceTestPoints,
		Reason:    reason,
		CreatedAt: at,
	}
}

func newEntryID() EntryID {
	return EntryID(uuid.NewString())
}

// =============================================================================
// VALIDATION
// =============================================================================

// Validate checks the variant invariants. Stores call this before writing so
// a malformed entry (e.g. a redemption without a reward name) is rejected
// regardless of how it was built.
func (e Entry) Validate() error {
	if e.ID == "" {
		return &InvalidInputError{Field: "entry.id", Reason: "empty"}
	}
	if e.UserID == "" {
		return &InvalidInputError{Field: "entry.user_id", Reason: "empty"}
	}
	switch e.Source {
	case SourceOrderProcessed:
		if e.OrderID == "" {
			return &InvalidInputError{Field: "entry.order_id", Reason: "required for order_processed"}
		}
		if e.RewardName != "" {
			return &InvalidInputError{Field: "entry.reward_name", Reason: "not allowed for order_processed"}
		}
		if e.Points < 0 {
			return &InvalidInputError{Field: "entry.points", Reason: "order entries cannot be negative"}
		}
	case SourceRewardRedeemed:
		if e.RewardName == "" {
			return &InvalidInputError{Field: "entry.reward_name", Reason: "required for reward_redeemed"}
		}
		if e.OrderID != "" {
			return &InvalidInputError{Field: "entry.order_id", Reason: "not allowed for reward_redeemed"}
		}
		if e.Points >= 0 {
			return &InvalidInputError{Field: "entry.points", Reason: "redemption entries must be negative"}
		}
	case SourceAdminAdjustment, SourceTestPoints:
		if e.OrderID != "" || e.RewardName != "" {
			return &InvalidInputError{Field: "entry", Reason: fmt.Sprintf("%s entries carry no references", e.Source)}
		}
	default:
		return &InvalidInputError{Field: "entry.source", Reason: fmt.Sprintf("unknown source %q", e.Source)}
	}
	return nil
}

// SumPoints folds entry deltas into a balance. Used by consistency checks
// and the store round-trip tests; the live query path reads the stored
// account balance.
func SumPoints(entries []Entry) int64 {
	var total int64
	for _, e := range entries {
		total += e.Points
	}
	return total
}
