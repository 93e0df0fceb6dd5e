package balance

import (
	"saldo/internal/calendar"
	"saldo/internal/core"
)

// Entries returns the sheet's days in ascending date order. The slice is
// the sheet's backing array; callers must not modify it.
func (s *Sheet) Entries() []Entry { return s.entries }

// Len returns the number of days in the sheet.
func (s *Sheet) Len() int { return len(s.entries) }

// BalanceOn looks up the end-of-day balance for d. The second result is
// false when d lies outside the built range.
func (s *Sheet) BalanceOn(d calendar.Date) (core.Money, bool) {
	e, ok := s.byDate[d.String()]
	return e.Balance, ok
}

// NegativeDates returns every date in the sheet whose end-of-day balance
// is below zero, ascending.
func (s *Sheet) NegativeDates() []calendar.Date {
	var out []calendar.Date
	for _, e := range s.entries {
		if e.Balance.Cents < 0 {
			out = append(out, e.Date)
		}
	}
	return out
}

// Stats summarizes a span of the sheet. Trend is the last balance minus
// the first, so a negative trend means the span lost money.
type Stats struct {
	Min     core.Money `json:"min"`
	Max     core.Money `json:"max"`
	Average core.Money `json:"average"`
	Trend   core.Money `json:"trend"`
}

// TrailingWeekStats aggregates the seven days ending at asOf. Days outside
// the built range are skipped; the zero Stats is returned when none of the
// seven days is in range.
func (s *Sheet) TrailingWeekStats(asOf calendar.Date) Stats {
	var (
		sum      int64
		count    int64
		min, max int64
		first    core.Money
		last     core.Money
		seen     bool
	)
	for d := range calendar.Days(asOf.AddDays(-6), asOf) {
		e, ok := s.byDate[d.String()]
		if !ok {
			continue
		}
		if !seen {
			min, max = e.Balance.Cents, e.Balance.Cents
			first = e.Balance
			seen = true
		}
		if e.Balance.Cents < min {
			min = e.Balance.Cents
		}
		if e.Balance.Cents > max {
			max = e.Balance.Cents
		}
		sum += e.Balance.Cents
		count++
		last = e.Balance
	}
	if !seen {
		return Stats{}
	}
	return Stats{
		Min:     core.Money{Cents: min},
		Max:     core.Money{Cents: max},
		Average: core.Money{Cents: sum / count},
		Trend:   core.Money{Cents: last.Cents - first.Cents},
	}
}

// Projection returns the entries from the day after 'from' through
// 'from+days', the N-day forward view used by the planning screens.
func (s *Sheet) Projection(from calendar.Date, days int) []Entry {
	var out []Entry
	for d := range calendar.Days(from.AddDays(1), from.AddDays(days)) {
		if e, ok := s.byDate[d.String()]; ok {
			out = append(out, e)
		}
	}
	return out
}
