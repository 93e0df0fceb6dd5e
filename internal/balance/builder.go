// Package balance aggregates daily impacts into a running balance map.
package balance

import (
	"saldo/internal/calendar"
	"saldo/internal/core"
	"saldo/internal/invoice"
	"saldo/internal/recurrence"
)

// lookBackDays bounds the expansion window used to find card-master
// occurrences whose invoice falls due on a queried day. A due date can be
// reached from operation dates up to roughly two months earlier (operation
// after the closing day plus a late due day), so 62 days covers it.
const lookBackDays = 62

// Input is everything a balance pass reads. The builder never mutates any
// of it; re-running over the same input yields identical results.
type Input struct {
	// StartingCents is the balance applied on the anchor date, or on the
	// first day of the built range when no anchor is set.
	StartingCents int64

	// Anchor, when set, zeroes every day strictly before it and resets
	// the running total to StartingCents on the anchor day itself.
	Anchor calendar.Date

	Transactions []core.Transaction
	Cards        []core.Card
	Adjustments  []invoice.Adjustment
}

// Builder turns an Input into a Sheet. Post and Today are injected so the
// pass has no hidden coupling to mutable card state or the wall clock.
type Builder struct {
	Post  invoice.PostingFunc
	Today calendar.Date
}

// NewBuilder wires a builder from a posting function and a fixed today.
func NewBuilder(post invoice.PostingFunc, today calendar.Date) *Builder {
	if post == nil {
		post = func(d calendar.Date, _ string) calendar.Date { return d }
	}
	return &Builder{Post: post, Today: today}
}

// Entry is one day of the running balance map.
type Entry struct {
	Date     calendar.Date `json:"date"`
	DayTotal core.Money    `json:"dayTotal"`
	Balance  core.Money    `json:"balance"`
}

// Sheet is an ordered date→balance snapshot. It is built fresh per query
// and never persisted.
type Sheet struct {
	entries []Entry
	byDate  map[string]Entry
}

// Build walks every day in [from, to] ascending and accumulates, per day:
// cash impact (cash transactions and cash-master occurrences operating that
// day) plus card impact (card transactions and card-master occurrences whose
// invoice falls due that day, net of adjustments).
func (b *Builder) Build(in Input, from, to calendar.Date) *Sheet {
	sheet := &Sheet{byDate: make(map[string]Entry)}
	if to.Before(from) {
		return sheet
	}

	exp := recurrence.NewExpander(b.Post, b.Today)

	// Non-recurring cash movements by operation date. Masters are skipped:
	// they only contribute through materialized occurrences.
	cashByOp := make(map[string]int64)
	// Non-recurring card movements by derived posting date and card.
	cardByPosting := make(map[string]map[string]int64)
	// Cards that at least one master pays with, to bound the expansions.
	var cardMasters []core.Transaction

	for _, tx := range in.Transactions {
		if tx.IsMaster() {
			if !tx.IsCash() {
				cardMasters = append(cardMasters, tx)
			}
			continue
		}
		if tx.IsCash() {
			cashByOp[tx.OperationDate.String()] += tx.Amount.Cents
			continue
		}
		posting := b.Post(tx.OperationDate, tx.Method)
		perCard := cardByPosting[posting.String()]
		if perCard == nil {
			perCard = make(map[string]int64)
			cardByPosting[posting.String()] = perCard
		}
		perCard[tx.Method] += tx.Amount.Cents
	}

	// Card-master occurrences are found by expanding over a bounded
	// look-back window and indexing on their posting dates.
	for _, m := range cardMasters {
		for _, occ := range exp.Expand(m, from.AddDays(-lookBackDays), to) {
			posting := occ.PostingDate
			if posting.Before(from) || posting.After(to) {
				continue
			}
			perCard := cardByPosting[posting.String()]
			if perCard == nil {
				perCard = make(map[string]int64)
				cardByPosting[posting.String()] = perCard
			}
			perCard[occ.Method] += occ.Amount.Cents
		}
	}

	var running int64
	started := false
	for d := range calendar.Days(from, to) {
		if !in.Anchor.IsZero() && d.Before(in.Anchor) {
			sheet.append(Entry{Date: d})
			continue
		}
		if !started {
			// Starting balance lands on the anchor day, or on the
			// first built day when no anchor is given.
			running = in.StartingCents
			started = true
		}

		dayTotal := b.cashImpact(in.Transactions, cashByOp, d)
		dayTotal += b.cardImpact(in, cardByPosting[d.String()], d)

		running += dayTotal
		sheet.append(Entry{
			Date:     d,
			DayTotal: core.Money{Cents: dayTotal},
			Balance:  core.Money{Cents: running},
		})
	}
	return sheet
}

// cashImpact sums same-day cash movements: stored non-recurring ones from
// the prebuilt index plus cash-master occurrences from the predicate.
func (b *Builder) cashImpact(txs []core.Transaction, cashByOp map[string]int64, d calendar.Date) int64 {
	total := cashByOp[d.String()]
	for _, tx := range txs {
		if tx.IsMaster() && tx.IsCash() && recurrence.OccursOn(tx, d) {
			total += tx.Amount.Cents
		}
	}
	return total
}

// cardImpact sums invoices falling due on d across all cards, net of any
// registered adjustments for (card, d).
func (b *Builder) cardImpact(in Input, postedToday map[string]int64, d calendar.Date) int64 {
	var total int64
	for _, c := range in.Cards {
		cents, hasMovements := postedToday[c.Name]
		adj := invoice.AdjustmentTotal(in.Adjustments, c.Name, d)
		if !hasMovements && adj == 0 {
			continue
		}
		total += cents - adj
	}
	// Movements referencing a deleted card still posted somewhere; they
	// degrade to identity posting upstream, so postedToday may carry keys
	// outside in.Cards. Count them so money never silently vanishes.
	for method, cents := range postedToday {
		if !knownCard(in.Cards, method) {
			total += cents
		}
	}
	return total
}

func knownCard(cards []core.Card, name string) bool {
	for _, c := range cards {
		if c.Name == name {
			return true
		}
	}
	return false
}

func (s *Sheet) append(e Entry) {
	s.entries = append(s.entries, e)
	s.byDate[e.Date.String()] = e
}
