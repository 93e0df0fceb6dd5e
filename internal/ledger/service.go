package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"saldo/internal/cache"
	"saldo/internal/calendar"
	"saldo/internal/core"
	"saldo/internal/invoice"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrNotMaster     = errors.New("transaction is not a recurring master")
	ErrDuplicateCard = errors.New("card already exists")
	ErrUnknownCard   = errors.New("unknown card reference")
)

// DirtyMarker records that a collection kind has local writes not yet
// confirmed remotely. The sync layer implements it; a nil marker is valid
// for purely local setups.
type DirtyMarker interface {
	MarkDirty(ctx context.Context, kind string)
}

// Service is the single write path into the ledger. Every mutation
// validates first, then updates the store, then persists the affected
// collection to the local cache before any caller can read a stale copy,
// and finally flags the collection dirty for the sync layer.
type Service struct {
	store *Store
	cache cache.Cache
	dirty DirtyMarker

	now   func() time.Time
	today func() calendar.Date
	newID func() string
}

// NewService wires a service. dirty may be nil.
func NewService(store *Store, c cache.Cache, dirty DirtyMarker) *Service {
	return &Service{
		store: store,
		cache: c,
		dirty: dirty,
		now:   time.Now,
		today: calendar.Today,
		newID: uuid.NewString,
	}
}

// Store exposes the underlying store for read-only callers.
func (s *Service) Store() *Store { return s.store }

// Load hydrates the store from the local cache. Unset keys hydrate to
// empty collections; a blob that does not decode is a corrupted cache and
// fails fast. Cards load before transactions: normalization rederives
// posting dates against the card set, so hydrating in the other order
// would degrade every card movement to identity posting.
func (s *Service) Load(ctx context.Context) error {
	if blob, err := s.cache.Get(ctx, cache.KeyCards); err != nil {
		return fmt.Errorf("load cards: %w", err)
	} else if blob != nil {
		var cards []core.Card
		if err := json.Unmarshal(blob, &cards); err != nil {
			return fmt.Errorf("decode cached cards: %w", err)
		}
		s.store.ReplaceCards(cards)
	}

	if blob, err := s.cache.Get(ctx, cache.KeyTransactions); err != nil {
		return fmt.Errorf("load transactions: %w", err)
	} else if blob != nil {
		var txs []core.Transaction
		if err := json.Unmarshal(blob, &txs); err != nil {
			return fmt.Errorf("decode cached transactions: %w", err)
		}
		s.store.ReplaceTransactions(s.normalizeAll(txs))
	}

	if blob, err := s.cache.Get(ctx, cache.KeyStartingBalance); err != nil {
		return fmt.Errorf("load starting balance: %w", err)
	} else if blob != nil {
		var sb StartingBalance
		if err := json.Unmarshal(blob, &sb); err != nil {
			return fmt.Errorf("decode cached starting balance: %w", err)
		}
		s.store.SetStarting(sb)
	}

	if blob, err := s.cache.Get(ctx, cache.KeyAdjustments); err != nil {
		return fmt.Errorf("load adjustments: %w", err)
	} else if blob != nil {
		var adj []invoice.Adjustment
		if err := json.Unmarshal(blob, &adj); err != nil {
			return fmt.Errorf("decode cached adjustments: %w", err)
		}
		s.store.SetAdjustments(adj)
	}

	slog.InfoContext(ctx, "Ledger hydrated from local cache",
		"transactions", len(s.store.Transactions()),
		"cards", len(s.store.Cards()))
	return nil
}

// calculator builds a posting calculator over the current card set.
func (s *Service) calculator() *invoice.Calculator {
	return invoice.NewCalculator(s.store.Cards())
}

// normalize returns tx in canonical shape: posting date rederived from
// operation date and method, planned flag recomputed against today.
func (s *Service) normalize(tx core.Transaction, calc *invoice.Calculator) core.Transaction {
	tx.PostingDate = calc.PostingDate(tx.OperationDate, tx.Method)
	tx.Planned = tx.OperationDate.After(s.today())
	return tx
}

func (s *Service) normalizeAll(txs []core.Transaction) []core.Transaction {
	calc := s.calculator()
	out := make([]core.Transaction, len(txs))
	for i, tx := range txs {
		out[i] = s.normalize(tx, calc)
	}
	return out
}

// AddTransaction validates and stores a new record, returning it with its
// assigned id, derived posting date and timestamps.
func (s *Service) AddTransaction(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	if err := tx.Validate(); err != nil {
		return core.Transaction{}, err
	}
	if err := s.checkMethod(tx.Method); err != nil {
		return core.Transaction{}, err
	}

	now := s.now()
	tx.ID = s.newID()
	tx.CreatedAt = now
	tx.ModifiedAt = now
	tx = s.normalize(tx, s.calculator())

	s.store.UpsertTransaction(tx)
	if err := s.persistTransactions(ctx); err != nil {
		return core.Transaction{}, err
	}

	slog.InfoContext(ctx, "Transaction added",
		"id", tx.ID,
		"amount_cents", tx.Amount.Cents,
		"method", tx.Method,
		"operation_date", tx.OperationDate.String(),
		"recurring", tx.IsMaster())
	return tx, nil
}

// UpdateTransaction overwrites an existing record (a plain record, or a
// whole recurring series when the id names a master). The creation
// timestamp is preserved; posting date and planned flag are rederived.
func (s *Service) UpdateTransaction(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	existing, ok := s.store.Transaction(tx.ID)
	if !ok {
		return core.Transaction{}, fmt.Errorf("%w: %s", ErrNotFound, tx.ID)
	}
	if err := tx.Validate(); err != nil {
		return core.Transaction{}, err
	}
	if err := s.checkMethod(tx.Method); err != nil {
		return core.Transaction{}, err
	}

	tx.CreatedAt = existing.CreatedAt
	tx.ModifiedAt = s.now()
	tx = s.normalize(tx, s.calculator())

	s.store.UpsertTransaction(tx)
	if err := s.persistTransactions(ctx); err != nil {
		return core.Transaction{}, err
	}
	return tx, nil
}

// DeleteTransaction removes one record. Deleting a master removes the
// whole series; detached occurrences are independent records and survive.
func (s *Service) DeleteTransaction(ctx context.Context, id string) error {
	if !s.store.RemoveTransaction(id) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := s.persistTransactions(ctx); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Transaction deleted", "id", id)
	return nil
}

// ExcludeOccurrence deletes "only this occurrence" of a series by adding
// the date to the master's exceptions.
func (s *Service) ExcludeOccurrence(ctx context.Context, masterID string, d calendar.Date) error {
	master, ok := s.store.Transaction(masterID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, masterID)
	}
	if !master.IsMaster() {
		return fmt.Errorf("%w: %s", ErrNotMaster, masterID)
	}
	if master.HasException(d) {
		return nil
	}

	master.Exceptions = append(master.Exceptions, d)
	master.ModifiedAt = s.now()
	s.store.UpsertTransaction(master)
	return s.persistTransactions(ctx)
}

// DetachOccurrence edits "only this occurrence": the date is excluded from
// the master and the edited version becomes a standalone record pointing
// back at the master. Exclusion of the detached record from future
// expansions is guaranteed by the exception, not by identity.
func (s *Service) DetachOccurrence(ctx context.Context, masterID string, d calendar.Date, edited core.Transaction) (core.Transaction, error) {
	master, ok := s.store.Transaction(masterID)
	if !ok {
		return core.Transaction{}, fmt.Errorf("%w: %s", ErrNotFound, masterID)
	}
	if !master.IsMaster() {
		return core.Transaction{}, fmt.Errorf("%w: %s", ErrNotMaster, masterID)
	}

	edited.Recurrence = ""
	edited.RecurrenceEnd = calendar.Date{}
	edited.Exceptions = nil
	edited.ParentID = masterID
	if edited.OperationDate.IsZero() {
		edited.OperationDate = d
	}
	if err := edited.Validate(); err != nil {
		return core.Transaction{}, err
	}
	if err := s.checkMethod(edited.Method); err != nil {
		return core.Transaction{}, err
	}

	now := s.now()
	if !master.HasException(d) {
		master.Exceptions = append(master.Exceptions, d)
	}
	master.ModifiedAt = now

	edited.ID = s.newID()
	edited.CreatedAt = now
	edited.ModifiedAt = now
	edited = s.normalize(edited, s.calculator())

	s.store.UpsertTransaction(master)
	s.store.UpsertTransaction(edited)
	if err := s.persistTransactions(ctx); err != nil {
		return core.Transaction{}, err
	}

	slog.InfoContext(ctx, "Occurrence detached",
		"master_id", masterID,
		"date", d.String(),
		"detached_id", edited.ID)
	return edited, nil
}

// TruncateSeries deletes "this and all future occurrences" by setting the
// recurrence end: occurrences on or after the date are suppressed.
func (s *Service) TruncateSeries(ctx context.Context, masterID string, from calendar.Date) error {
	master, ok := s.store.Transaction(masterID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, masterID)
	}
	if !master.IsMaster() {
		return fmt.Errorf("%w: %s", ErrNotMaster, masterID)
	}

	if !from.After(master.OperationDate) {
		// Nothing would remain of the series; drop it entirely.
		return s.DeleteTransaction(ctx, masterID)
	}

	master.RecurrenceEnd = from
	master.ModifiedAt = s.now()
	s.store.UpsertTransaction(master)
	return s.persistTransactions(ctx)
}

// ReplaceSeriesFrom edits "this and all future occurrences": the old
// series is truncated at the date and the edited version becomes a new
// master anchored there.
func (s *Service) ReplaceSeriesFrom(ctx context.Context, masterID string, from calendar.Date, replacement core.Transaction) (core.Transaction, error) {
	master, ok := s.store.Transaction(masterID)
	if !ok {
		return core.Transaction{}, fmt.Errorf("%w: %s", ErrNotFound, masterID)
	}
	if !master.IsMaster() {
		return core.Transaction{}, fmt.Errorf("%w: %s", ErrNotMaster, masterID)
	}

	if replacement.Recurrence == "" {
		replacement.Recurrence = master.Recurrence
	}
	replacement.OperationDate = from
	replacement.ParentID = ""
	replacement.Exceptions = nil

	created, err := s.AddTransaction(ctx, replacement)
	if err != nil {
		return core.Transaction{}, err
	}
	if err := s.TruncateSeries(ctx, masterID, from); err != nil {
		return core.Transaction{}, err
	}
	return created, nil
}

// AddCard registers a new card.
func (s *Service) AddCard(ctx context.Context, card core.Card) (core.Card, error) {
	if err := card.Validate(); err != nil {
		return core.Card{}, err
	}
	if _, exists := s.store.Card(card.Name); exists {
		return core.Card{}, fmt.Errorf("%w: %s", ErrDuplicateCard, card.Name)
	}

	now := s.now()
	card.CreatedAt = now
	card.ModifiedAt = now
	s.store.UpsertCard(card)
	if err := s.persistCards(ctx); err != nil {
		return core.Card{}, err
	}
	slog.InfoContext(ctx, "Card added",
		"name", card.Name,
		"closing_day", card.ClosingDay,
		"due_day", card.DueDay)
	return card, nil
}

// UpdateCard edits the card named oldName. Renames cascade: every
// transaction paying with the old name is moved to the new one, and
// posting dates are rederived for all transactions because closing or due
// days may have changed.
func (s *Service) UpdateCard(ctx context.Context, oldName string, card core.Card) (core.Card, error) {
	existing, ok := s.store.Card(oldName)
	if !ok {
		return core.Card{}, fmt.Errorf("%w: %s", ErrNotFound, oldName)
	}
	if err := card.Validate(); err != nil {
		return core.Card{}, err
	}
	if card.Name != oldName {
		if _, clash := s.store.Card(card.Name); clash {
			return core.Card{}, fmt.Errorf("%w: %s", ErrDuplicateCard, card.Name)
		}
	}

	card.CreatedAt = existing.CreatedAt
	card.ModifiedAt = s.now()

	if card.Name != oldName {
		s.store.RemoveCard(oldName)
	}
	s.store.UpsertCard(card)

	// Cascade before recomputing posting dates so the new calculator
	// resolves the renamed method.
	renamed := 0
	txs := s.store.Transactions()
	now := s.now()
	for _, tx := range txs {
		if tx.Method == oldName && card.Name != oldName {
			tx.Method = card.Name
			tx.ModifiedAt = now
			renamed++
			s.store.UpsertTransaction(tx)
		}
	}
	s.store.ReplaceTransactions(s.normalizeAll(s.store.Transactions()))

	if err := s.persistCards(ctx); err != nil {
		return core.Card{}, err
	}
	if err := s.persistTransactions(ctx); err != nil {
		return core.Card{}, err
	}

	slog.InfoContext(ctx, "Card updated",
		"old_name", oldName,
		"name", card.Name,
		"cascaded_transactions", renamed)
	return card, nil
}

// DeleteCard removes a card. Transactions still referencing it degrade to
// identity posting; that is a data-integrity condition worth surfacing.
func (s *Service) DeleteCard(ctx context.Context, name string) error {
	if !s.store.RemoveCard(name) {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	dangling := 0
	for _, tx := range s.store.Transactions() {
		if tx.Method == name {
			dangling++
		}
	}
	if dangling > 0 {
		slog.WarnContext(ctx, "Card deleted while transactions still reference it",
			"card", name,
			"transactions", dangling)
	}

	s.store.ReplaceTransactions(s.normalizeAll(s.store.Transactions()))
	if err := s.persistCards(ctx); err != nil {
		return err
	}
	return s.persistTransactions(ctx)
}

// SetStartingBalance replaces the scalar starting balance and its
// optional anchor date.
func (s *Service) SetStartingBalance(ctx context.Context, sb StartingBalance) error {
	s.store.SetStarting(sb)
	return s.persistStarting(ctx)
}

// AddAdjustment registers an invoice adjustment. Adjustments are local
// inputs to the invoice aggregation and are not part of the synced state.
func (s *Service) AddAdjustment(ctx context.Context, a invoice.Adjustment) error {
	if a.Card == "" || a.DueDate.IsZero() {
		return fmt.Errorf("%w: adjustment needs a card and a due date", core.ErrInvalidAmount)
	}
	s.store.AddAdjustment(a)
	return s.persistAdjustments(ctx)
}

// RemoveAdjustments drops every adjustment for (card, dueDate).
func (s *Service) RemoveAdjustments(ctx context.Context, card string, dueDate calendar.Date) error {
	if s.store.RemoveAdjustments(card, dueDate) == 0 {
		return fmt.Errorf("%w: no adjustments for %s on %s", ErrNotFound, card, dueDate)
	}
	return s.persistAdjustments(ctx)
}

// checkMethod accepts the cash sentinel or a registered card name. An
// unknown card at write time is a validation error; unknown cards on
// already-stored data merely degrade.
func (s *Service) checkMethod(method string) error {
	if method == core.MethodCash {
		return nil
	}
	if _, ok := s.store.Card(method); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCard, method)
	}
	return nil
}

func (s *Service) persistTransactions(ctx context.Context) error {
	blob, err := json.Marshal(s.store.Transactions())
	if err != nil {
		return fmt.Errorf("encode transactions: %w", err)
	}
	if err := s.cache.Set(ctx, cache.KeyTransactions, blob); err != nil {
		return fmt.Errorf("persist transactions: %w", err)
	}
	if s.dirty != nil {
		s.dirty.MarkDirty(ctx, cache.KeyTransactions)
	}
	return nil
}

func (s *Service) persistCards(ctx context.Context) error {
	blob, err := json.Marshal(s.store.Cards())
	if err != nil {
		return fmt.Errorf("encode cards: %w", err)
	}
	if err := s.cache.Set(ctx, cache.KeyCards, blob); err != nil {
		return fmt.Errorf("persist cards: %w", err)
	}
	if s.dirty != nil {
		s.dirty.MarkDirty(ctx, cache.KeyCards)
	}
	return nil
}

func (s *Service) persistStarting(ctx context.Context) error {
	blob, err := json.Marshal(s.store.Starting())
	if err != nil {
		return fmt.Errorf("encode starting balance: %w", err)
	}
	if err := s.cache.Set(ctx, cache.KeyStartingBalance, blob); err != nil {
		return fmt.Errorf("persist starting balance: %w", err)
	}
	if s.dirty != nil {
		s.dirty.MarkDirty(ctx, cache.KeyStartingBalance)
	}
	return nil
}

func (s *Service) persistAdjustments(ctx context.Context) error {
	blob, err := json.Marshal(s.store.Adjustments())
	if err != nil {
		return fmt.Errorf("encode adjustments: %w", err)
	}
	if err := s.cache.Set(ctx, cache.KeyAdjustments, blob); err != nil {
		return fmt.Errorf("persist adjustments: %w", err)
	}
	return nil
}

// ApplyRemoteTransactions installs a merged transaction collection coming
// from the sync layer: normalized, re-sorted, written to the local cache,
// and never marked dirty (it is not a local edit).
func (s *Service) ApplyRemoteTransactions(ctx context.Context, txs []core.Transaction) error {
	s.store.ReplaceTransactions(s.normalizeAll(txs))
	blob, err := json.Marshal(s.store.Transactions())
	if err != nil {
		return fmt.Errorf("encode transactions: %w", err)
	}
	if err := s.cache.Set(ctx, cache.KeyTransactions, blob); err != nil {
		return fmt.Errorf("persist merged transactions: %w", err)
	}
	return nil
}

// ApplyRemoteCards installs the remote card collection. Posting dates may
// shift with new closing or due days, so the renormalized transactions are
// persisted alongside the cards; neither write is a local edit, so neither
// marks dirty.
func (s *Service) ApplyRemoteCards(ctx context.Context, cards []core.Card) error {
	s.store.ReplaceCards(cards)
	s.store.ReplaceTransactions(s.normalizeAll(s.store.Transactions()))
	blob, err := json.Marshal(s.store.Cards())
	if err != nil {
		return fmt.Errorf("encode cards: %w", err)
	}
	if err := s.cache.Set(ctx, cache.KeyCards, blob); err != nil {
		return fmt.Errorf("persist merged cards: %w", err)
	}
	blob, err = json.Marshal(s.store.Transactions())
	if err != nil {
		return fmt.Errorf("encode transactions: %w", err)
	}
	if err := s.cache.Set(ctx, cache.KeyTransactions, blob); err != nil {
		return fmt.Errorf("persist renormalized transactions: %w", err)
	}
	return nil
}

// ApplyRemoteStartingBalance installs the remote starting balance.
func (s *Service) ApplyRemoteStartingBalance(ctx context.Context, sb StartingBalance) error {
	s.store.SetStarting(sb)
	blob, err := json.Marshal(sb)
	if err != nil {
		return fmt.Errorf("encode starting balance: %w", err)
	}
	if err := s.cache.Set(ctx, cache.KeyStartingBalance, blob); err != nil {
		return fmt.Errorf("persist merged starting balance: %w", err)
	}
	return nil
}
