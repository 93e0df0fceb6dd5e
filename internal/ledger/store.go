// Package ledger owns the in-memory transaction, card and starting-balance
// state and every mutation path into it. Collections are only ever replaced
// or spliced through the store, so a concurrent merge and a CRUD call can
// never race on raw slice mutation.
package ledger

import (
	"sort"
	"sync"

	"saldo/internal/calendar"
	"saldo/internal/core"
	"saldo/internal/invoice"
)

// StartingBalance is the scalar anchor of the running balance. A zero
// Anchor means "apply on the first observed day".
type StartingBalance struct {
	Amount core.Money    `json:"amount"`
	Anchor calendar.Date `json:"anchor,omitempty"`
}

// Store is the versioned holder of ledger state. Every write bumps the
// version; readers get defensive copies and never see partial updates.
type Store struct {
	mu          sync.RWMutex
	txs         []core.Transaction
	cards       []core.Card
	starting    StartingBalance
	adjustments []invoice.Adjustment
	version     uint64
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{}
}

// Version returns the current write counter, used by callers to detect
// concurrent modification between a read and a dependent write.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Transactions returns a copy of the transaction collection in canonical
// (operationDate, createdAt) order.
func (s *Store) Transactions() []core.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Transaction, len(s.txs))
	for i, tx := range s.txs {
		out[i] = tx.Clone()
	}
	return out
}

// Transaction looks up one record by id.
func (s *Store) Transaction(id string) (core.Transaction, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, tx := range s.txs {
		if tx.ID == id {
			return tx.Clone(), true
		}
	}
	return core.Transaction{}, false
}

// Cards returns a copy of the card collection.
func (s *Store) Cards() []core.Card {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]core.Card(nil), s.cards...)
}

// Card looks up one card by name.
func (s *Store) Card(name string) (core.Card, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.cards {
		if c.Name == name {
			return c, true
		}
	}
	return core.Card{}, false
}

// Starting returns the starting balance.
func (s *Store) Starting() StartingBalance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.starting
}

// Adjustments returns a copy of the registered invoice adjustments.
func (s *Store) Adjustments() []invoice.Adjustment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]invoice.Adjustment(nil), s.adjustments...)
}

// ReplaceTransactions swaps in a whole new collection, re-sorting it into
// canonical order. Used by the sync merge and by cache hydration.
func (s *Store) ReplaceTransactions(txs []core.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txs = sortTransactions(append([]core.Transaction(nil), txs...))
	s.version++
}

// UpsertTransaction inserts or overwrites one record by id.
func (s *Store) UpsertTransaction(tx core.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	replaced := false
	for i := range s.txs {
		if s.txs[i].ID == tx.ID {
			s.txs[i] = tx
			replaced = true
			break
		}
	}
	if !replaced {
		s.txs = append(s.txs, tx)
	}
	s.txs = sortTransactions(s.txs)
	s.version++
}

// RemoveTransaction deletes one record by id. It reports whether the
// record existed.
func (s *Store) RemoveTransaction(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.txs {
		if s.txs[i].ID == id {
			s.txs = append(s.txs[:i], s.txs[i+1:]...)
			s.version++
			return true
		}
	}
	return false
}

// RemoveWhere deletes every record matching the predicate and returns how
// many were removed.
func (s *Store) RemoveWhere(match func(core.Transaction) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.txs[:0]
	removed := 0
	for _, tx := range s.txs {
		if match(tx) {
			removed++
			continue
		}
		kept = append(kept, tx)
	}
	s.txs = kept
	if removed > 0 {
		s.version++
	}
	return removed
}

// ReplaceCards swaps in a whole new card collection.
func (s *Store) ReplaceCards(cards []core.Card) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cards = append([]core.Card(nil), cards...)
	s.version++
}

// UpsertCard inserts or overwrites one card by name.
func (s *Store) UpsertCard(card core.Card) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.cards {
		if s.cards[i].Name == card.Name {
			s.cards[i] = card
			s.version++
			return
		}
	}
	s.cards = append(s.cards, card)
	s.version++
}

// RemoveCard deletes a card by name.
func (s *Store) RemoveCard(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.cards {
		if s.cards[i].Name == name {
			s.cards = append(s.cards[:i], s.cards[i+1:]...)
			s.version++
			return true
		}
	}
	return false
}

// SetStarting replaces the starting balance.
func (s *Store) SetStarting(sb StartingBalance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starting = sb
	s.version++
}

// SetAdjustments replaces the adjustment collection.
func (s *Store) SetAdjustments(adj []invoice.Adjustment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adjustments = append([]invoice.Adjustment(nil), adj...)
	s.version++
}

// AddAdjustment registers one invoice adjustment.
func (s *Store) AddAdjustment(a invoice.Adjustment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adjustments = append(s.adjustments, a)
	s.version++
}

// RemoveAdjustments drops every adjustment for (card, dueDate) and returns
// how many were removed.
func (s *Store) RemoveAdjustments(card string, dueDate calendar.Date) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.adjustments[:0]
	removed := 0
	for _, a := range s.adjustments {
		if a.Card == card && a.DueDate.Equal(dueDate) {
			removed++
			continue
		}
		kept = append(kept, a)
	}
	s.adjustments = kept
	if removed > 0 {
		s.version++
	}
	return removed
}

// sortTransactions orders records by operation date, then creation time,
// then id, so renderings and balance passes see a stable ordering no
// matter the insertion order.
func sortTransactions(txs []core.Transaction) []core.Transaction {
	sort.SliceStable(txs, func(i, j int) bool {
		if c := txs[i].OperationDate.Compare(txs[j].OperationDate); c != 0 {
			return c < 0
		}
		if !txs[i].CreatedAt.Equal(txs[j].CreatedAt) {
			return txs[i].CreatedAt.Before(txs[j].CreatedAt)
		}
		return txs[i].ID < txs[j].ID
	})
	return txs
}
