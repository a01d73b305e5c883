/*
Package sqlite provides a SQLite-backed implementation of the loyalty
storage interfaces.

PURPOSE:
  Implements loyalty.TxStore using SQLite. The same patterns apply to
  PostgreSQL in production - only minor SQL dialect differences.

KEY TABLES:
  loyalty_accounts: One row per user; scalar summary + optimistic version
  points_history:   Immutable ledger of all balance changes

CONCURRENCY CONTROL:
  Every account write carries a version precondition:

    UPDATE loyalty_accounts SET ... WHERE user_id = ? AND version = ?

  Zero rows affected means another writer got there first; the store
  returns loyalty.ErrConcurrentModification and the engine retries from a
  fresh read. Inserts race through the primary key the same way. This
  replaces the unguarded find -> mutate -> save the original system did.

IDEMPOTENCY ENFORCEMENT:
  A partial unique index on (user_id, order_id) for order_processed rows
  makes double-crediting an order impossible at the storage layer even if
  two webhook deliveries interleave past the engine's existence check.

APPEND-ONLY ENFORCEMENT:
  points_history has no UPDATE except the used-flag transition and no
  DELETE. Corrections happen through admin_adjustment entries.

WAL MODE:
  SQLite is opened with WAL for better concurrency: readers don't block,
  single writer at a time, better crash recovery.

USAGE:
  store, err := sqlite.New("./data/loyalty.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - loyalty/store.go: Interface definitions
  - loyalty/store/memory.go: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/harvestly/loyalty-engine/loyalty"
)

// Store implements loyalty.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// New creates a SQLite store at the given path. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Account summary (one row per user, optimistic version)
	CREATE TABLE IF NOT EXISTS loyalty_accounts (
		user_id TEXT PRIMARY KEY,
		points INTEGER NOT NULL DEFAULT 0,
		purchase_count INTEGER NOT NULL DEFAULT 0,
		total_spent TEXT NOT NULL DEFAULT '0',
		tier TEXT NOT NULL,
		discount_percent TEXT NOT NULL DEFAULT '0',
		eligible INTEGER NOT NULL DEFAULT 0,
		card_id TEXT,
		card_type TEXT,
		card_issued_at TEXT,
		card_expires_at TEXT,
		card_active INTEGER,
		version INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Points history (append-only ledger)
	CREATE TABLE IF NOT EXISTS points_history (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		points INTEGER NOT NULL,
		source TEXT NOT NULL,
		order_id TEXT,
		reward_name TEXT,
		reason TEXT,
		used INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_history_user_created
		ON points_history(user_id, created_at);

	-- CRITICAL: one order_processed entry per (user, order). This is the
	-- idempotency backstop for double-fired payment webhooks.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_order_award
		ON points_history(user_id, order_id)
		WHERE source = 'order_processed' AND order_id IS NOT NULL;

	CREATE INDEX IF NOT EXISTS idx_history_source
		ON points_history(source);
	`
	_, err := s.db.Exec(schema)
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type querier interface {
	execer
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// ACCOUNTS (loyalty.AccountStore)
// =============================================================================

// GetAccount returns the account, or nil when none exists.
func (s *Store) GetAccount(ctx context.Context, userID loyalty.UserID) (*loyalty.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return getAccount(ctx, s.db, userID)
}

func getAccount(ctx context.Context, db querier, userID loyalty.UserID) (*loyalty.Account, error) {
	row := db.QueryRowContext(ctx, `
		SELECT user_id, points, purchase_count, total_spent, tier, discount_percent,
		       eligible, card_id, card_type, card_issued_at, card_expires_at, card_active,
		       version, created_at, updated_at
		FROM loyalty_accounts WHERE user_id = ?`, userID)

	var (
		acct          loyalty.Account
		totalSpent    string
		discount      string
		eligible      int
		cardID        sql.NullString
		cardType      sql.NullString
		cardIssuedAt  sql.NullString
		cardExpiresAt sql.NullString
		cardActive    sql.NullInt64
		createdAt     string
		updatedAt     string
	)

	err := row.Scan(
		&acct.UserID, &acct.Points, &acct.PurchaseCount, &totalSpent, &acct.Tier,
		&discount, &eligible, &cardID, &cardType, &cardIssuedAt, &cardExpiresAt,
		&cardActive, &acct.Version, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}

	acct.TotalSpent = mustDecimal(totalSpent)
	acct.DiscountPercent = mustDecimal(discount)
	acct.Eligible = eligible != 0
	if acct.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse account created_at: %w", err)
	}
	if acct.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse account updated_at: %w", err)
	}

	if cardID.Valid {
		issued, err := parseTime(cardIssuedAt.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse card issued_at: %w", err)
		}
		expires, err := parseTime(cardExpiresAt.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse card expires_at: %w", err)
		}
		acct.Card = &loyalty.Card{
			ID:        cardID.String,
			Type:      loyalty.CardType(cardType.String),
			IssuedAt:  issued,
			ExpiresAt: expires,
			Active:    cardActive.Int64 != 0,
		}
	}
	return &acct, nil
}

// SaveAccount applies the compare-and-swap contract described in
// loyalty/store.go.
func (s *Store) SaveAccount(ctx context.Context, acct *loyalty.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveAccount(ctx, s.db, acct)
}

func saveAccount(ctx context.Context, db execer, acct *loyalty.Account) error {
	var cardID, cardType, cardIssuedAt, cardExpiresAt sql.NullString
	var cardActive sql.NullInt64
	if acct.Card != nil {
		cardID = sql.NullString{String: acct.Card.ID, Valid: true}
		cardType = sql.NullString{String: string(acct.Card.Type), Valid: true}
		cardIssuedAt = sql.NullString{String: formatTime(acct.Card.IssuedAt), Valid: true}
		cardExpiresAt = sql.NullString{String: formatTime(acct.Card.ExpiresAt), Valid: true}
		active := int64(0)
		if acct.Card.Active {
			active = 1
		}
		cardActive = sql.NullInt64{Int64: active, Valid: true}
	}

	eligible := 0
	if acct.Eligible {
		eligible = 1
	}

	if acct.Version == 0 {
		_, err := db.ExecContext(ctx, `
			INSERT INTO loyalty_accounts
			(user_id, points, purchase_count, total_spent, tier, discount_percent,
			 eligible, card_id, card_type, card_issued_at, card_expires_at, card_active,
			 version, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
			acct.UserID, acct.Points, acct.PurchaseCount, acct.TotalSpent.String(),
			acct.Tier, acct.DiscountPercent.String(), eligible,
			cardID, cardType, cardIssuedAt, cardExpiresAt, cardActive,
			formatTime(acct.CreatedAt), formatTime(acct.UpdatedAt),
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return loyalty.ErrConcurrentModification
			}
			return fmt.Errorf("failed to insert account: %w", err)
		}
		acct.Version = 1
		return nil
	}

	res, err := db.ExecContext(ctx, `
		UPDATE loyalty_accounts SET
			points = ?, purchase_count = ?, total_spent = ?, tier = ?,
			discount_percent = ?, eligible = ?, card_id = ?, card_type = ?,
			card_issued_at = ?, card_expires_at = ?, card_active = ?,
			version = version + 1, updated_at = ?
		WHERE user_id = ? AND version = ?`,
		acct.Points, acct.PurchaseCount, acct.TotalSpent.String(), acct.Tier,
		acct.DiscountPercent.String(), eligible,
		cardID, cardType, cardIssuedAt, cardExpiresAt, cardActive,
		formatTime(acct.UpdatedAt),
		acct.UserID, acct.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return loyalty.ErrConcurrentModification
	}
	acct.Version++
	return nil
}

// =============================================================================
// POINTS HISTORY (loyalty.EntryStore)
// =============================================================================

// AppendEntry writes one ledger entry. The partial unique index maps
// duplicate order ids to loyalty.ErrDuplicateOrder.
func (s *Store) AppendEntry(ctx context.Context, entry loyalty.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendEntry(ctx, s.db, entry)
}

func appendEntry(ctx context.Context, db execer, entry loyalty.Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}

	used := 0
	if entry.Used {
		used = 1
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO points_history
		(id, user_id, points, source, order_id, reward_name, reason, used, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.UserID, entry.Points, entry.Source,
		nullString(entry.OrderID), nullString(entry.RewardName), nullString(entry.Reason),
		used, formatTime(entry.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) && strings.Contains(err.Error(), "idx_unique_order_award") {
			return loyalty.ErrDuplicateOrder
		}
		return fmt.Errorf("failed to append entry: %w", err)
	}
	return nil
}

// Entries returns all ledger entries for a user, oldest first.
func (s *Store) Entries(ctx context.Context, userID loyalty.UserID) ([]loyalty.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return loadEntries(ctx, s.db, userID)
}

func loadEntries(ctx context.Context, db querier, userID loyalty.UserID) ([]loyalty.Entry, error) {
	// rowid breaks ties between entries written within the same timestamp
	// tick, so history always comes back in true append order.
	rows, err := db.QueryContext(ctx, `
		SELECT id, user_id, points, source, order_id, reward_name, reason, used, created_at
		FROM points_history
		WHERE user_id = ?
		ORDER BY created_at ASC, rowid ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []loyalty.Entry
	for rows.Next() {
		var (
			e          loyalty.Entry
			orderID    sql.NullString
			rewardName sql.NullString
			reason     sql.NullString
			used       int
			createdAt  string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.Points, &e.Source,
			&orderID, &rewardName, &reason, &used, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		e.OrderID = orderID.String
		e.RewardName = rewardName.String
		e.Reason = reason.String
		e.Used = used != 0
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("failed to parse entry created_at: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// HasOrderEntry checks the idempotency key.
func (s *Store) HasOrderEntry(ctx context.Context, userID loyalty.UserID, orderID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return hasOrderEntry(ctx, s.db, userID, orderID)
}

func hasOrderEntry(ctx context.Context, db querier, userID loyalty.UserID, orderID string) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM points_history
		WHERE user_id = ? AND order_id = ? AND source = 'order_processed'`,
		userID, orderID,
	).Scan(&count)
	return count > 0, err
}

// MarkEntryUsed flips the used flag on a redemption entry, once. The only
// UPDATE on points_history.
func (s *Store) MarkEntryUsed(ctx context.Context, userID loyalty.UserID, entryID loyalty.EntryID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return markEntryUsed(ctx, s.db, userID, entryID)
}

func markEntryUsed(ctx context.Context, db querier, userID loyalty.UserID, entryID loyalty.EntryID) error {
	res, err := db.ExecContext(ctx, `
		UPDATE points_history SET used = 1
		WHERE id = ? AND user_id = ? AND source = 'reward_redeemed' AND used = 0`,
		entryID, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark entry used: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}

	// Distinguish "missing" from "already used".
	var used int
	err = db.QueryRowContext(ctx, `
		SELECT used FROM points_history
		WHERE id = ? AND user_id = ? AND source = 'reward_redeemed'`,
		entryID, userID,
	).Scan(&used)
	if err == sql.ErrNoRows {
		return loyalty.ErrEntryNotFound
	}
	if err != nil {
		return err
	}
	return loyalty.ErrRewardAlreadyUsed
}

// =============================================================================
// TRANSACTIONS (loyalty.TxStore)
// =============================================================================

// WithTx executes fn within a database transaction. Rolls back on error.
func (s *Store) WithTx(ctx context.Context, fn func(loyalty.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) GetAccount(ctx context.Context, userID loyalty.UserID) (*loyalty.Account, error) {
	return getAccount(ctx, ts.tx, userID)
}

func (ts *txStore) SaveAccount(ctx context.Context, acct *loyalty.Account) error {
	return saveAccount(ctx, ts.tx, acct)
}

func (ts *txStore) AppendEntry(ctx context.Context, entry loyalty.Entry) error {
	return appendEntry(ctx, ts.tx, entry)
}

func (ts *txStore) Entries(ctx context.Context, userID loyalty.UserID) ([]loyalty.Entry, error) {
	return loadEntries(ctx, ts.tx, userID)
}

func (ts *txStore) HasOrderEntry(ctx context.Context, userID loyalty.UserID, orderID string) (bool, error) {
	return hasOrderEntry(ctx, ts.tx, userID, orderID)
}

func (ts *txStore) MarkEntryUsed(ctx context.Context, userID loyalty.UserID, entryID loyalty.EntryID) error {
	return markEntryUsed(ctx, ts.tx, userID, entryID)
}

var _ loyalty.TxStore = (*Store)(nil)

// =============================================================================
// HELPERS
// =============================================================================

// Timestamps are stored with nanosecond precision so created_at ordering
// survives sub-second writes. RFC3339Nano parses plain RFC3339 too, so rows
// written before the precision change still load.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
