package ledger

import (
	"fmt"
	"time"

	"saldo/internal/balance"
	"saldo/internal/calendar"
	"saldo/internal/core"
	"saldo/internal/invoice"
	"saldo/internal/recurrence"
)

// Sheet builds the running balance over [from, to] from the current state.
func (s *Service) Sheet(from, to calendar.Date) *balance.Sheet {
	sb := s.store.Starting()
	b := balance.NewBuilder(s.calculator().Posting(), s.today())
	return b.Build(balance.Input{
		StartingCents: sb.Amount.Cents,
		Anchor:        sb.Anchor,
		Transactions:  s.store.Transactions(),
		Cards:         s.store.Cards(),
		Adjustments:   s.store.Adjustments(),
	}, from, to)
}

// OccurrencesOn lists the ledger lines for one day: stored records
// operating that day plus materialized occurrences of every recurring
// series that lands on it.
func (s *Service) OccurrencesOn(d calendar.Date) []core.Transaction {
	exp := recurrence.NewExpander(s.calculator().Posting(), s.today())

	var out []core.Transaction
	for _, tx := range s.store.Transactions() {
		if tx.IsMaster() {
			out = append(out, exp.Expand(tx, d, d)...)
			continue
		}
		if tx.OperationDate.Equal(d) {
			out = append(out, tx)
		}
	}
	return sortTransactions(out)
}

// MonthOccurrences lists every ledger line operating in the given month,
// recurring series expanded.
func (s *Service) MonthOccurrences(year int, month time.Month) []core.Transaction {
	from := calendar.New(year, int(month), 1)
	to := calendar.New(year, int(month), from.LastDayOfMonth())
	exp := recurrence.NewExpander(s.calculator().Posting(), s.today())

	var out []core.Transaction
	for _, tx := range s.store.Transactions() {
		if tx.IsMaster() {
			out = append(out, exp.Expand(tx, from, to)...)
			continue
		}
		if !tx.OperationDate.Before(from) && !tx.OperationDate.After(to) {
			out = append(out, tx)
		}
	}
	return sortTransactions(out)
}

// InvoicePreview is one card invoice: the lines falling due together, the
// adjustments against them, and the net amount hitting the balance.
type InvoicePreview struct {
	Card        core.Card          `json:"card"`
	DueDate     calendar.Date      `json:"dueDate"`
	Lines       []core.Transaction `json:"lines"`
	LinesCents  int64              `json:"linesCents"`
	AdjustCents int64              `json:"adjustCents"`
	TotalCents  int64              `json:"totalCents"`
}

// InvoicePreview assembles the invoice of cardName due in the given month.
func (s *Service) InvoicePreview(cardName string, year int, month time.Month) (InvoicePreview, error) {
	card, ok := s.store.Card(cardName)
	if !ok {
		return InvoicePreview{}, fmt.Errorf("%w: %s", ErrNotFound, cardName)
	}

	calc := s.calculator()
	dueDate := calendar.New(year, int(month), card.DueDay)
	exp := recurrence.NewExpander(calc.Posting(), s.today())

	var lines []core.Transaction
	var linesCents int64
	for _, tx := range s.store.Transactions() {
		if tx.Method != card.Name {
			continue
		}
		if tx.IsMaster() {
			// Operation dates up to two months back can land on this due
			// date, so expand over a window that covers them all.
			for _, occ := range exp.Expand(tx, dueDate.AddDays(-62), dueDate) {
				if occ.PostingDate.Equal(dueDate) {
					lines = append(lines, occ)
					linesCents += occ.Amount.Cents
				}
			}
			continue
		}
		if calc.PostingDate(tx.OperationDate, tx.Method).Equal(dueDate) {
			lines = append(lines, tx)
			linesCents += tx.Amount.Cents
		}
	}

	adjust := invoice.AdjustmentTotal(s.store.Adjustments(), card.Name, dueDate)
	return InvoicePreview{
		Card:        card,
		DueDate:     dueDate,
		Lines:       sortTransactions(lines),
		LinesCents:  linesCents,
		AdjustCents: adjust,
		TotalCents:  linesCents - adjust,
	}, nil
}
