// Package store provides an in-memory loyalty.Store implementation for
// tests and local development.
package store

import (
	"context"
	"sync"

	"github.com/harvestly/loyalty-engine/loyalty"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Memory struct {
	mu       sync.RWMutex
	accounts map[loyalty.UserID]*loyalty.Account
	entries  map[loyalty.UserID][]loyalty.Entry
	// orders indexes user|orderID for order_processed entries, mirroring
	// the partial unique index the SQLite store carries.
	orders map[orderKey]bool
}

type orderKey struct {
	UserID  loyalty.UserID
	OrderID string
}

func NewMemory() *Memory {
	return &Memory{
		accounts: make(map[loyalty.UserID]*loyalty.Account),
		entries:  make(map[loyalty.UserID][]loyalty.Entry),
		orders:   make(map[orderKey]bool),
	}
}

// =============================================================================
// ACCOUNTS (loyalty.AccountStore)
// =============================================================================

func (m *Memory) GetAccount(_ context.Context, userID loyalty.UserID) (*loyalty.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getAccountLocked(userID), nil
}

func (m *Memory) getAccountLocked(userID loyalty.UserID) *loyalty.Account {
	acct, ok := m.accounts[userID]
	if !ok {
		return nil
	}
	return acct.Clone()
}

// SaveAccount applies the compare-and-swap contract: version 0 inserts,
// otherwise the stored version must match. Bumps acct.Version on success.
func (m *Memory) SaveAccount(_ context.Context, acct *loyalty.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveAccountLocked(acct)
}

func (m *Memory) saveAccountLocked(acct *loyalty.Account) error {
	stored, exists := m.accounts[acct.UserID]

	if acct.Version == 0 {
		if exists {
			return loyalty.ErrConcurrentModification
		}
	} else if !exists || stored.Version != acct.Version {
		return loyalty.ErrConcurrentModification
	}

	acct.Version++
	m.accounts[acct.UserID] = acct.Clone()
	return nil
}

// =============================================================================
// ENTRIES (loyalty.EntryStore)
// =============================================================================

func (m *Memory) AppendEntry(_ context.Context, entry loyalty.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendEntryLocked(entry)
}

func (m *Memory) appendEntryLocked(entry loyalty.Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	if entry.Source == loyalty.SourceOrderProcessed {
		k := orderKey{UserID: entry.UserID, OrderID: entry.OrderID}
		if m.orders[k] {
			return loyalty.ErrDuplicateOrder
		}
		m.orders[k] = true
	}
	m.entries[entry.UserID] = append(m.entries[entry.UserID], entry)
	return nil
}

func (m *Memory) Entries(_ context.Context, userID loyalty.UserID) ([]loyalty.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]loyalty.Entry, len(m.entries[userID]))
	copy(result, m.entries[userID])
	return result, nil
}

func (m *Memory) HasOrderEntry(_ context.Context, userID loyalty.UserID, orderID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.orders[orderKey{UserID: userID, OrderID: orderID}], nil
}

func (m *Memory) MarkEntryUsed(_ context.Context, userID loyalty.UserID, entryID loyalty.EntryID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.entries[userID]
	for i := range entries {
		if entries[i].ID != entryID {
			continue
		}
		if entries[i].Source != loyalty.SourceRewardRedeemed {
			return loyalty.ErrEntryNotFound
		}
		if entries[i].Used {
			return loyalty.ErrRewardAlreadyUsed
		}
		entries[i].Used = true
		return nil
	}
	return loyalty.ErrEntryNotFound
}

// =============================================================================
// TRANSACTIONS (loyalty.TxStore)
// =============================================================================

// WithTx simulates a transaction with snapshot + rollback on error. The
// lock is held for the whole bracket, so fn sees a consistent view.
func (m *Memory) WithTx(_ context.Context, fn func(loyalty.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&txView{parent: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	accounts map[loyalty.UserID]*loyalty.Account
	entries  map[loyalty.UserID][]loyalty.Entry
	orders   map[orderKey]bool
}

func (m *Memory) snapshot() memorySnapshot {
	accounts := make(map[loyalty.UserID]*loyalty.Account, len(m.accounts))
	for k, v := range m.accounts {
		accounts[k] = v.Clone()
	}
	entries := make(map[loyalty.UserID][]loyalty.Entry, len(m.entries))
	for k, v := range m.entries {
		entries[k] = append([]loyalty.Entry{}, v...)
	}
	orders := make(map[orderKey]bool, len(m.orders))
	for k, v := range m.orders {
		orders[k] = v
	}
	return memorySnapshot{accounts: accounts, entries: entries, orders: orders}
}

func (m *Memory) restore(s memorySnapshot) {
	m.accounts = s.accounts
	m.entries = s.entries
	m.orders = s.orders
}

// txView reuses the parent's locked operations; the parent holds the lock
// for the duration of WithTx.
type txView struct {
	parent *Memory
}

func (tv *txView) GetAccount(_ context.Context, userID loyalty.UserID) (*loyalty.Account, error) {
	return tv.parent.getAccountLocked(userID), nil
}

func (tv *txView) SaveAccount(_ context.Context, acct *loyalty.Account) error {
	return tv.parent.saveAccountLocked(acct)
}

func (tv *txView) AppendEntry(_ context.Context, entry loyalty.Entry) error {
	return tv.parent.appendEntryLocked(entry)
}

func (tv *txView) Entries(_ context.Context, userID loyalty.UserID) ([]loyalty.Entry, error) {
	result := make([]loyalty.Entry, len(tv.parent.entries[userID]))
	copy(result, tv.parent.entries[userID])
	return result, nil
}

func (tv *txView) HasOrderEntry(_ context.Context, userID loyalty.UserID, orderID string) (bool, error) {
	return tv.parent.orders[orderKey{UserID: userID, OrderID: orderID}], nil
}

func (tv *txView) MarkEntryUsed(_ context.Context, userID loyalty.UserID, entryID loyalty.EntryID) error {
	entries := tv.parent.entries[userID]
	for i := range entries {
		if entries[i].ID != entryID {
			continue
		}
		if entries[i].Source != loyalty.SourceRewardRedeemed {
			return loyalty.ErrEntryNotFound
		}
		if entries[i].Used {
			return loyalty.ErrRewardAlreadyUsed
		}
		entries[i].Used = true
		return nil
	}
	return loyalty.ErrEntryNotFound
}

var _ loyalty.TxStore = (*Memory)(nil)
