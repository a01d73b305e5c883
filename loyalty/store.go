/*
store.go - Persistence interfaces for accounts and ledger entries

PURPOSE:
  Defines the contract between the engine and storage. Two implementations
  exist: store/sqlite (production) and loyalty/store (in-memory, tests/dev).

OPTIMISTIC CONCURRENCY:
  The account row is the only contended resource: purchase-award calls
  (webhook retries included) race with user-initiated redemptions and card
  issuance. SaveAccount is a compare-and-swap on Account.Version - a blind
  overwrite-after-read is impossible through this interface. On a version
  mismatch the store returns ErrConcurrentModification and the engine
  re-reads and retries.

APPEND-ONLY CONTRACT:
  Entries have no update or delete operations. The single sanctioned
  mutation is MarkEntryUsed, flipping Used false -> true on a redemption
  entry exactly once.

ATOMICITY:
  WithTx brackets a ledger append and the matching account save into one
  unit: either both persist or neither does. A crash between them must not
  leave balance and history inconsistent.

SEE ALSO:
  - loyalty/store/memory.go: In-memory implementation
  - store/sqlite/sqlite.go: SQLite implementation
*/
package loyalty

import "context"

// AccountStore persists the per-user account summary.
type AccountStore interface {
	// GetAccount returns the account, or nil when none exists yet.
	GetAccount(ctx context.Context, userID UserID) (*Account, error)

	// SaveAccount persists the account with a version precondition.
	// Version 0 inserts a new row (failing with ErrConcurrentModification
	// if one appeared concurrently); otherwise the update only applies if
	// the stored version still matches. On success the store bumps
	// acct.Version in place.
	SaveAccount(ctx context.Context, acct *Account) error
}

// EntryStore persists the append-only points history.
type EntryStore interface {
	// AppendEntry validates and writes one entry. Returns ErrDuplicateOrder
	// if an order_processed entry for the same (user, order id) exists.
	AppendEntry(ctx context.Context, entry Entry) error

	// Entries returns all entries for a user in creation order.
	Entries(ctx context.Context, userID UserID) ([]Entry, error)

	// HasOrderEntry reports whether an order_processed entry exists for the
	// given order id. The fast path of award idempotency; the unique
	// constraint behind AppendEntry is the backstop.
	HasOrderEntry(ctx context.Context, userID UserID, orderID string) (bool, error)

	// MarkEntryUsed flips Used on a reward_redeemed entry. Returns
	// ErrEntryNotFound for unknown or non-redemption entries and
	// ErrRewardAlreadyUsed when the flag is already set.
	MarkEntryUsed(ctx context.Context, userID UserID, entryID EntryID) error
}

// Store combines account and entry persistence.
type Store interface {
	AccountStore
	EntryStore
}

// TxStore adds transactional brackets around multi-write operations.
type TxStore interface {
	Store

	// WithTx executes fn atomically. If fn returns an error, nothing it
	// wrote is persisted.
	WithTx(ctx context.Context, fn func(Store) error) error
}
