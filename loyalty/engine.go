/*
engine.go - Loyalty engine operations

PURPOSE:
  The four collaborator-facing operations plus admin surface:

    AwardForPurchase  idempotent per-order point accrual
    Redeem            reward redemption with shortfall reporting
    IssueCard         one-shot card issuance for eligible accounts
    Status            read-only account snapshot (lazily creates)

    AdjustPoints      signed admin correction with reason
    MarkRewardUsed    consume a redemption exactly once
    History           full ledger for an account

CONTROL FLOW (award path):
  order/payment collaborator confirms a paid order
    -> AwardForPurchase(user, order, amount)
    -> ledger entry appended + balance/counters updated atomically
    -> tier reclassified, eligibility re-evaluated
  Calling it again for the same order id is a logged no-op.

CONCURRENCY DISCIPLINE:
  Every mutation is read-modify-write against the current persisted state
  inside a retry loop: load account, compute, then append + CAS-save inside
  one store transaction. A conflicting writer surfaces as
  ErrConcurrentModification and the attempt restarts from a fresh read.
  Two simultaneous redemptions therefore cannot both pass the balance check
  against a stale read and jointly overdraw the balance.

  No operation here is long-running; there is no background scheduler.
  Timeouts and cancellation come from the storage layer's context only.

SEE ALSO:
  - catalog.go: Injected rule constants and catalogs
  - store.go: The CAS persistence contract this relies on
*/
package loyalty

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// defaultRetryLimit bounds optimistic-concurrency retries before the
// conflict propagates as a storage failure.
const defaultRetryLimit = 5

// =============================================================================
// COLLABORATOR INPUTS
// =============================================================================

// PurchaseHistory is the external collaborator consulted once per account to
// backfill purchase counters for users who shopped before the loyalty
// program existed. The engine never reads order storage directly.
type PurchaseHistory interface {
	// PurchaseSummary returns the accepted-purchase count and total spend
	// for a user.
	PurchaseSummary(ctx context.Context, userID UserID) (count int64, total decimal.Decimal, err error)
}

// EmptyPurchaseHistory is the default: no pre-existing purchases.
type EmptyPurchaseHistory struct{}

func (EmptyPurchaseHistory) PurchaseSummary(context.Context, UserID) (int64, decimal.Decimal, error) {
	return 0, decimal.Zero, nil
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine owns loyalty accounts and their ledgers. Safe for concurrent use.
type Engine struct {
	store   TxStore
	catalog atomic.Pointer[Catalog]
	history PurchaseHistory
	log     zerolog.Logger
	now     func() time.Time
	retries int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger.
func WithLogger(log zerolog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithPurchaseHistory sets the backfill collaborator.
func WithPurchaseHistory(h PurchaseHistory) Option {
	return func(e *Engine) { e.history = h }
}

// WithRetryLimit bounds optimistic-concurrency retries.
func WithRetryLimit(n int) Option {
	return func(e *Engine) { e.retries = n }
}

// NewEngine creates an engine over the given store and catalog.
// The catalog must already be valid.
func NewEngine(store TxStore, catalog *Catalog, opts ...Option) (*Engine, error) {
	if err := catalog.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		store:   store,
		history: EmptyPurchaseHistory{},
		log:     zerolog.Nop(),
		now:     func() time.Time { return time.Now().UTC() },
		retries: defaultRetryLimit,
	}
	e.catalog.Store(catalog)
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Catalog returns the current catalog.
func (e *Engine) Catalog() *Catalog {
	return e.catalog.Load()
}

// ReloadCatalog validates and atomically swaps in a new catalog. In-flight
// operations finish against the catalog they started with; historical
// ledger entries are never recomputed.
func (e *Engine) ReloadCatalog(cat *Catalog) error {
	if err := cat.Validate(); err != nil {
		return err
	}
	old := e.catalog.Swap(cat)
	e.log.Info().
		Int("old_version", old.Version).
		Int("new_version", cat.Version).
		Msg("loyalty catalog reloaded")
	return nil
}

// =============================================================================
// ACCOUNT LIFECYCLE
// =============================================================================

// GetOrCreateAccount loads the account, creating it lazily on first use.
// Creation backfills purchase counters from the purchase-history
// collaborator exactly once, then persists a zero-point account. Subsequent
// reads return the persisted account; the stored balance is authoritative.
func (e *Engine) GetOrCreateAccount(ctx context.Context, userID UserID) (*Account, error) {
	if userID == "" {
		return nil, &InvalidInputError{Field: "user_id", Reason: "empty"}
	}

	acct, err := e.store.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	if acct != nil {
		return acct, nil
	}

	count, total, err := e.history.PurchaseSummary(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("purchase history backfill: %w", err)
	}

	cat := e.Catalog()
	now := e.now()
	acct = &Account{
		UserID:        userID,
		Points:        0,
		PurchaseCount: count,
		TotalSpent:    total,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	e.reclassify(acct, cat)
	e.evaluateEligibility(acct, cat)

	if err := e.store.SaveAccount(ctx, acct); err != nil {
		if errors.Is(err, ErrConcurrentModification) {
			// Another request created it first; use theirs.
			return e.store.GetAccount(ctx, userID)
		}
		return nil, err
	}
	e.log.Debug().Str("user", string(userID)).
		Int64("backfill_purchases", count).
		Msg("loyalty account created")
	return acct, nil
}

// reclassify keeps Tier and DiscountPercent in lockstep with Points.
func (e *Engine) reclassify(acct *Account, cat *Catalog) {
	tier := cat.Classify(acct.Points)
	acct.Tier = tier.Name
	acct.DiscountPercent = tier.DiscountPercent
}

// evaluateEligibility flips the one-way eligibility gate. Never un-flips.
func (e *Engine) evaluateEligibility(acct *Account, cat *Catalog) {
	if acct.Eligible {
		return
	}
	if acct.PurchaseCount >= cat.Rules.PurchaseCountThreshold ||
		acct.TotalSpent.GreaterThanOrEqual(cat.Rules.TotalSpentThreshold) {
		acct.Eligible = true
	}
}

// =============================================================================
// PURCHASE AWARD
// =============================================================================

// AwardResult is the outcome of an award call.
type AwardResult struct {
	Account *Account
	// Points is the delta credited by this call (zero on duplicate or
	// non-positive amounts).
	Points int64
	// Duplicate is true when the order id had already been processed and
	// the call resolved as a no-op.
	Duplicate bool
}

// PointsForAmount computes the points a purchase earns under the catalog's
// rules. Pure; exposed for pricing previews and tests.
//
//	base  = floor(amount * rate)
//	bonus = floor(base * 1.5) when amount >= bonus threshold
//	prem  = floor(bonus * 1.2) when flagged premium-category
func PointsForAmount(rules Rules, amount decimal.Decimal, premium bool) int64 {
	if amount.Sign() <= 0 {
		return 0
	}
	points := FloorPoints(amount.Mul(rules.PointsPerCurrencyUnit))
	if amount.GreaterThanOrEqual(rules.BonusThreshold) {
		points = MultiplyPoints(points, rules.BonusMultiplier)
	}
	if premium {
		points = MultiplyPoints(points, rules.PremiumMultiplier)
	}
	return points
}

// AwardForPurchase credits points for a paid order. Idempotent per order id:
// a repeat call (payment webhook firing twice, retry storms) returns the
// unchanged account with Duplicate set and appends nothing.
//
// Non-positive amounts yield no points, no ledger entry, and no counter
// change; the unchanged account is returned so the webhook never fails.
func (e *Engine) AwardForPurchase(ctx context.Context, userID UserID, orderID string, amount decimal.Decimal, premium bool) (*AwardResult, error) {
	if userID == "" {
		return nil, &InvalidInputError{Field: "user_id", Reason: "empty"}
	}
	if strings.TrimSpace(orderID) == "" {
		return nil, &InvalidInputError{Field: "order_id", Reason: "empty"}
	}

	cat := e.Catalog()

	for attempt := 0; ; attempt++ {
		acct, err := e.GetOrCreateAccount(ctx, userID)
		if err != nil {
			return nil, err
		}

		seen, err := e.store.HasOrderEntry(ctx, userID, orderID)
		if err != nil {
			return nil, err
		}
		if seen {
			e.log.Info().Str("user", string(userID)).Str("order", orderID).
				Msg("duplicate order award skipped")
			return &AwardResult{Account: acct, Duplicate: true}, nil
		}

		if amount.Sign() <= 0 {
			return &AwardResult{Account: acct}, nil
		}

		points := PointsForAmount(cat.Rules, amount, premium)

		next := acct.Clone()
		next.Points += points
		next.PurchaseCount++
		next.TotalSpent = next.TotalSpent.Add(amount)
		next.UpdatedAt = e.now()
		e.reclassify(next, cat)
		e.evaluateEligibility(next, cat)

		entry := NewPurchaseEntry(userID, orderID, points, e.now())

		err = e.store.WithTx(ctx, func(s Store) error {
			if err := s.AppendEntry(ctx, entry); err != nil {
				return err
			}
			return s.SaveAccount(ctx, next)
		})
		switch {
		case err == nil:
			e.log.Info().Str("user", string(userID)).Str("order", orderID).
				Int64("points", points).Str("tier", string(next.Tier)).
				Msg("purchase award recorded")
			return &AwardResult{Account: next, Points: points}, nil
		case errors.Is(err, ErrDuplicateOrder):
			// Lost the race to a concurrent webhook delivery; resolve as
			// the duplicate no-op it is.
			acct, gerr := e.store.GetAccount(ctx, userID)
			if gerr != nil {
				return nil, gerr
			}
			e.log.Info().Str("user", string(userID)).Str("order", orderID).
				Msg("duplicate order award skipped (storage race)")
			return &AwardResult{Account: acct, Duplicate: true}, nil
		case errors.Is(err, ErrConcurrentModification) && attempt < e.retries:
			e.log.Debug().Str("user", string(userID)).Int("attempt", attempt+1).
				Msg("award retry after write conflict")
			continue
		default:
			return nil, err
		}
	}
}

// =============================================================================
// REDEMPTION
// =============================================================================

// RedeemResult is the outcome of a successful redemption.
type RedeemResult struct {
	Account *Account
	Entry   Entry
	// Remaining is the balance after the redemption.
	Remaining int64
}

// Redeem exchanges points for a catalog reward. The balance check and the
// decrement are serialized per account through the CAS save, so concurrent
// redemptions cannot jointly overdraw. There is no cooldown and no
// per-account redemption cap: any number of redemptions are allowed while
// the balance suffices.
func (e *Engine) Redeem(ctx context.Context, userID UserID, rewardName string) (*RedeemResult, error) {
	if userID == "" {
		return nil, &InvalidInputError{Field: "user_id", Reason: "empty"}
	}

	cat := e.Catalog()
	reward, ok := cat.Reward(rewardName)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrRewardNotFound, rewardName)
	}

	for attempt := 0; ; attempt++ {
		acct, err := e.GetOrCreateAccount(ctx, userID)
		if err != nil {
			return nil, err
		}

		if acct.Points < reward.Cost {
			return nil, &InsufficientPointsError{
				UserID:    userID,
				Reward:    reward.Name,
				Requested: reward.Cost,
				Available: acct.Points,
				Shortfall: reward.Cost - acct.Points,
			}
		}

		next := acct.Clone()
		next.Points -= reward.Cost
		next.UpdatedAt = e.now()
		e.reclassify(next, cat)

		entry := NewRedemptionEntry(userID, reward.Name, reward.Cost, e.now())

		err = e.store.WithTx(ctx, func(s Store) error {
			if err := s.AppendEntry(ctx, entry); err != nil {
				return err
			}
			return s.SaveAccount(ctx, next)
		})
		switch {
		case err == nil:
			e.log.Info().Str("user", string(userID)).Str("reward", reward.Name).
				Int64("cost", reward.Cost).Int64("remaining", next.Points).
				Msg("reward redeemed")
			return &RedeemResult{Account: next, Entry: entry, Remaining: next.Points}, nil
		case errors.Is(err, ErrConcurrentModification) && attempt < e.retries:
			continue
		default:
			return nil, err
		}
	}
}

// MarkRewardUsed consumes a redeemed reward: the order-pricing collaborator
// calls this when the reward is applied to an order, so one redemption
// cannot discount two orders.
func (e *Engine) MarkRewardUsed(ctx context.Context, userID UserID, entryID EntryID) error {
	if userID == "" || entryID == "" {
		return &InvalidInputError{Field: "entry_id", Reason: "user and entry ids required"}
	}
	return e.store.MarkEntryUsed(ctx, userID, entryID)
}

// =============================================================================
// CARD LIFECYCLE
// =============================================================================

// IssueResult is the outcome of a successful card issuance. The account is
// included so callers can report the tier discount in effect at issuance
// time alongside the card itself.
type IssueResult struct {
	Account *Account
	Card    *Card
}

// IssueCard issues the one-time loyalty card for an eligible account.
// Preconditions: eligible, no card yet. A second call returns
// AlreadyIssuedError carrying the existing card so the caller can surface
// "already issued" distinctly rather than as a hard failure.
func (e *Engine) IssueCard(ctx context.Context, userID UserID) (*IssueResult, error) {
	cat := e.Catalog()

	for attempt := 0; ; attempt++ {
		acct, err := e.GetOrCreateAccount(ctx, userID)
		if err != nil {
			return nil, err
		}
		if !acct.Eligible {
			return nil, fmt.Errorf("%w: %d purchases, %s spent", ErrNotEligible,
				acct.PurchaseCount, acct.TotalSpent.StringFixed(2))
		}
		if acct.HasCard() {
			return nil, &AlreadyIssuedError{UserID: userID, Card: acct.Card}
		}

		now := e.now()
		card := &Card{
			ID:        newCardID(userID, now),
			Type:      cardTypeFor(acct.Tier),
			IssuedAt:  now,
			ExpiresAt: now.Add(cat.Rules.CardValidity),
			Active:    true,
		}

		next := acct.Clone()
		next.Card = card
		next.UpdatedAt = now
		// Discount follows the current tier at issuance time.
		e.reclassify(next, cat)

		err = e.store.SaveAccount(ctx, next)
		switch {
		case err == nil:
			e.log.Info().Str("user", string(userID)).Str("card", card.ID).
				Str("type", string(card.Type)).Msg("loyalty card issued")
			return &IssueResult{Account: next, Card: card}, nil
		case errors.Is(err, ErrConcurrentModification) && attempt < e.retries:
			continue
		default:
			return nil, err
		}
	}
}

// newCardID builds an account-scoped, human-checkable card id from the
// account id suffix and a timestamp suffix. Unique per account because each
// account issues at most one card; collision probability across accounts is
// not a correctness concern at this scale.
func newCardID(userID UserID, at time.Time) string {
	suffix := string(userID)
	if len(suffix) > 4 {
		suffix = suffix[len(suffix)-4:]
	}
	return fmt.Sprintf("LC-%s-%s", strings.ToUpper(suffix), at.Format("060102150405"))
}

func cardTypeFor(tier TierName) CardType {
	switch tier {
	case TierBloom, TierHarvester:
		return CardPremium
	default:
		return CardStandard
	}
}

// =============================================================================
// ADMIN ADJUSTMENT
// =============================================================================

// AdjustPoints applies a signed manual correction. Deductions may not take
// the balance below zero; the shortfall is reported instead of clamping.
func (e *Engine) AdjustPoints(ctx context.Context, userID UserID, delta int64, reason string) (*Account, error) {
	if delta == 0 {
		return nil, &InvalidInputError{Field: "points", Reason: "adjustment delta cannot be zero"}
	}
	if strings.TrimSpace(reason) == "" {
		return nil, &InvalidInputError{Field: "reason", Reason: "adjustment reason required"}
	}

	cat := e.Catalog()

	for attempt := 0; ; attempt++ {
		acct, err := e.store.GetAccount(ctx, userID)
		if err != nil {
			return nil, err
		}
		if acct == nil {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, userID)
		}

		if delta < 0 && acct.Points+delta < 0 {
			return nil, &InsufficientPointsError{
				UserID:    userID,
				Requested: -delta,
				Available: acct.Points,
				Shortfall: -delta - acct.Points,
			}
		}

		next := acct.Clone()
		next.Points += delta
		next.UpdatedAt = e.now()
		e.reclassify(next, cat)

		entry := NewAdjustmentEntry(userID, delta, reason, e.now())

		err = e.store.WithTx(ctx, func(s Store) error {
			if err := s.AppendEntry(ctx, entry); err != nil {
				return err
			}
			return s.SaveAccount(ctx, next)
		})
		switch {
		case err == nil:
			e.log.Info().Str("user", string(userID)).Int64("delta", delta).
				Str("reason", reason).Msg("admin adjustment applied")
			return next, nil
		case errors.Is(err, ErrConcurrentModification) && attempt < e.retries:
			continue
		default:
			return nil, err
		}
	}
}

// GrantTestPoints seeds demo points through the test_points source. Only
// wired to the demo seeder, never to public handlers.
func (e *Engine) GrantTestPoints(ctx context.Context, userID UserID, points int64, reason string) (*Account, error) {
	if points <= 0 {
		return nil, &InvalidInputError{Field: "points", Reason: "test grant must be positive"}
	}

	cat := e.Catalog()

	for attempt := 0; ; attempt++ {
		acct, err := e.GetOrCreateAccount(ctx, userID)
		if err != nil {
			return nil, err
		}

		next := acct.Clone()
		next.Points += points
		next.UpdatedAt = e.now()
		e.reclassify(next, cat)

		entry := NewTestPointsEntry(userID, points, reason, e.now())

		err = e.store.WithTx(ctx, func(s Store) error {
			if err := s.AppendEntry(ctx, entry); err != nil {
				return err
			}
			return s.SaveAccount(ctx, next)
		})
		switch {
		case err == nil:
			return next, nil
		case errors.Is(err, ErrConcurrentModification) && attempt < e.retries:
			continue
		default:
			return nil, err
		}
	}
}

// =============================================================================
// READS
// =============================================================================

// Status returns the account snapshot for UI display, creating the account
// lazily on first read.
func (e *Engine) Status(ctx context.Context, userID UserID) (*Account, error) {
	return e.GetOrCreateAccount(ctx, userID)
}

// History returns the full points ledger for an account, oldest first.
// Entries are immutable, so readers need no locking.
func (e *Engine) History(ctx context.Context, userID UserID) ([]Entry, error) {
	if userID == "" {
		return nil, &InvalidInputError{Field: "user_id", Reason: "empty"}
	}
	return e.store.Entries(ctx, userID)
}
