// Package recurrence decides when recurring master transactions materialize.
package recurrence

import (
	"log/slog"

	"saldo/internal/calendar"
	"saldo/internal/core"
)

// OccursOn reports whether master produces an occurrence on the candidate
// date. It is a pure predicate: exceptions win over everything, the
// recurrence end truncates on and after its date, and occurrences never
// fall before the anchor (the master's operation date).
//
// An unknown rule tag is a data-integrity problem in stored records; it is
// logged and treated as "no occurrence" rather than failing.
func OccursOn(master core.Transaction, candidate calendar.Date) bool {
	if master.HasException(candidate) {
		return false
	}
	if !master.RecurrenceEnd.IsZero() && !candidate.Before(master.RecurrenceEnd) {
		return false
	}
	if master.Recurrence == "" || candidate.Before(master.OperationDate) {
		return false
	}

	anchor := master.OperationDate
	switch master.Recurrence {
	case core.Daily:
		return true
	case core.Weekly:
		return candidate.DaysSince(anchor)%7 == 0
	case core.Biweekly:
		return candidate.DaysSince(anchor)%14 == 0
	case core.Monthly, core.Quarterly, core.Semiannual:
		if !candidate.SameDayOfMonth(anchor) {
			return false
		}
		return candidate.MonthsSince(anchor)%master.Recurrence.MonthInterval() == 0
	case core.Yearly:
		return candidate.Month() == anchor.Month() && candidate.SameDayOfMonth(anchor)
	default:
		slog.Warn("Unknown recurrence rule on stored transaction",
			"id", master.ID,
			"rule", string(master.Recurrence))
		return false
	}
}

// OccurrenceID derives the stable identifier of a materialized occurrence.
func OccurrenceID(masterID string, d calendar.Date) string {
	return masterID + ":" + d.String()
}

// Expander materializes master transactions over date windows. The posting
// function is injected so expansion carries no hidden dependency on a card
// collection, and Today pins the planned-flag computation for deterministic
// results.
type Expander struct {
	Post  func(operationDate calendar.Date, method string) calendar.Date
	Today calendar.Date
}

// NewExpander builds an Expander. A nil posting function defaults to
// identity posting (every occurrence posts on its operation date).
func NewExpander(post func(calendar.Date, string) calendar.Date, today calendar.Date) *Expander {
	if post == nil {
		post = func(d calendar.Date, _ string) calendar.Date { return d }
	}
	return &Expander{Post: post, Today: today}
}

// Expand returns the ordered occurrences of master inside [from, to],
// inclusive. Each occurrence copies the master's fields, overrides the
// dates and planned flag, stamps a derived id, points back at the master,
// and drops the recurrence fields: materializations are not themselves
// recurring. Expansion never mutates the master, and expanding the same
// window twice yields structurally equal results.
func (e *Expander) Expand(master core.Transaction, from, to calendar.Date) []core.Transaction {
	if !master.IsMaster() {
		return nil
	}

	// No occurrence exists before the anchor; skip straight to it.
	start := calendar.Max(from, master.OperationDate)

	var out []core.Transaction
	for d := range calendar.Days(start, to) {
		if !OccursOn(master, d) {
			continue
		}
		occ := master.Clone()
		occ.ID = OccurrenceID(master.ID, d)
		occ.ParentID = master.ID
		occ.Recurrence = ""
		occ.RecurrenceEnd = calendar.Date{}
		occ.Exceptions = nil
		occ.OperationDate = d
		occ.PostingDate = e.Post(d, master.Method)
		occ.Planned = d.After(e.Today)
		out = append(out, occ)
	}
	return out
}

// ExpandAll expands every master in txs over [from, to] and returns the
// occurrences in date order (masters in input order within a day).
func (e *Expander) ExpandAll(txs []core.Transaction, from, to calendar.Date) []core.Transaction {
	var out []core.Transaction
	for d := range calendar.Days(from, to) {
		for _, tx := range txs {
			if !tx.IsMaster() || !OccursOn(tx, d) {
				continue
			}
			occ := e.Expand(tx, d, d)
			out = append(out, occ...)
		}
	}
	return out
}
