// Package invoice maps operation dates to the calendar dates on which they
// affect the balance. It is the single source of truth for posting dates;
// no other component recomputes them.
package invoice

import (
	"log/slog"
	"strings"

	"saldo/internal/calendar"
	"saldo/internal/core"
)

// PostingFunc computes the posting date for an operation date and payment
// method. Components that need posting arithmetic take one of these instead
// of reaching for a shared card list.
type PostingFunc func(operationDate calendar.Date, method string) calendar.Date

// Adjustment reduces (or, with a positive amount, raises) the total of one
// invoice. Adjustments arrive from outside the core as opaque
// (card, due date, amount) records.
type Adjustment struct {
	Card    string        `json:"card"`
	DueDate calendar.Date `json:"dueDate"`
	Amount  core.Money    `json:"amount"`
}

// Calculator resolves payment methods against a fixed card set. Build a
// fresh one whenever the card collection changes; it never mutates.
type Calculator struct {
	cards map[string]core.Card
}

// NewCalculator indexes the given cards by name. Card names are matched
// case-sensitively, the cash sentinel case-insensitively.
func NewCalculator(cards []core.Card) *Calculator {
	idx := make(map[string]core.Card, len(cards))
	for _, c := range cards {
		idx[c.Name] = c
	}
	return &Calculator{cards: idx}
}

// PostingDate returns the date on which an operation affects the balance.
//
// Cash posts the same day. A card operation belongs to the current month's
// invoice when its day-of-month is on or before the card's closing day, and
// to the next month's otherwise; either way it posts on the due day of the
// invoice month, with year rollover handled by real calendar arithmetic.
// An unknown card degrades to cash identity rather than failing.
func (c *Calculator) PostingDate(op calendar.Date, method string) calendar.Date {
	if strings.EqualFold(method, core.MethodCash) {
		return op
	}
	card, ok := c.cards[method]
	if !ok {
		slog.Warn("Unknown card method, posting as cash",
			"method", method,
			"operation_date", op.String())
		return op
	}

	// Month arithmetic on (year, month) rather than AddMonths: adding a
	// month to Jan 31 would roll through February and land in March.
	year, month := op.Year(), op.Month()
	if op.Day() > card.ClosingDay {
		month++
	}
	return calendar.New(year, month, card.DueDay)
}

// Posting returns the calculator's PostingDate as an injectable PostingFunc.
func (c *Calculator) Posting() PostingFunc {
	return c.PostingDate
}

// AdjustmentTotal sums every adjustment registered for (card, dueDate).
func AdjustmentTotal(adjustments []Adjustment, card string, dueDate calendar.Date) int64 {
	var total int64
	for _, a := range adjustments {
		if a.Card == card && a.DueDate.Equal(dueDate) {
			total += a.Amount.Cents
		}
	}
	return total
}
