package balance

import (
	"reflect"
	"testing"

	"saldo/internal/calendar"
	"saldo/internal/core"
	"saldo/internal/invoice"
)

func cash(id, date string, cents int64) core.Transaction {
	return core.Transaction{
		ID:            id,
		Description:   id,
		Amount:        core.Money{Cents: cents},
		Method:        core.MethodCash,
		OperationDate: calendar.MustParse(date),
		PostingDate:   calendar.MustParse(date),
	}
}

func onCard(id, date, card string, cents int64) core.Transaction {
	return core.Transaction{
		ID:            id,
		Description:   id,
		Amount:        core.Money{Cents: cents},
		Method:        card,
		OperationDate: calendar.MustParse(date),
	}
}

func testBuilder(cards []core.Card) *Builder {
	calc := invoice.NewCalculator(cards)
	return NewBuilder(calc.Posting(), calendar.MustParse("2025-01-01"))
}

func TestBuildStartingBalanceNoAnchor(t *testing.T) {
	in := Input{
		StartingCents: 100000,
		Transactions:  []core.Transaction{cash("rent", "2025-01-05", -10000)},
	}
	sheet := testBuilder(nil).Build(in, calendar.MustParse("2025-01-01"), calendar.MustParse("2025-01-10"))

	tests := []struct {
		date string
		want int64
	}{
		{"2025-01-01", 100000},
		{"2025-01-04", 100000},
		{"2025-01-05", 90000},
		{"2025-01-10", 90000},
	}
	for _, tt := range tests {
		got, ok := sheet.BalanceOn(calendar.MustParse(tt.date))
		if !ok {
			t.Fatalf("no balance recorded for %s", tt.date)
		}
		if got.Cents != tt.want {
			t.Errorf("balance on %s = %d, want %d", tt.date, got.Cents, tt.want)
		}
	}
}

func TestBuildCardInvoicePosting(t *testing.T) {
	cards := []core.Card{{Name: "Visa", ClosingDay: 10, DueDay: 20}}
	in := Input{
		Cards:        cards,
		Transactions: []core.Transaction{onCard("coffee", "2025-03-12", "Visa", -5000)},
	}
	sheet := testBuilder(cards).Build(in, calendar.MustParse("2025-03-01"), calendar.MustParse("2025-04-30"))

	// Nothing moves in March: the purchase is after the closing day, so it
	// belongs to April's invoice due on the 20th.
	got, _ := sheet.BalanceOn(calendar.MustParse("2025-03-31"))
	if got.Cents != 0 {
		t.Errorf("March balance = %d, want 0", got.Cents)
	}
	got, _ = sheet.BalanceOn(calendar.MustParse("2025-04-19"))
	if got.Cents != 0 {
		t.Errorf("balance before due date = %d, want 0", got.Cents)
	}
	got, _ = sheet.BalanceOn(calendar.MustParse("2025-04-20"))
	if got.Cents != -5000 {
		t.Errorf("balance on due date = %d, want -5000", got.Cents)
	}
}

func TestBuildWeeklyRecurrence(t *testing.T) {
	weekly := cash("gym", "2025-01-01", -2000)
	weekly.ID = "gym"
	weekly.Recurrence = core.Weekly

	in := Input{StartingCents: 10000, Transactions: []core.Transaction{weekly}}
	sheet := testBuilder(nil).Build(in, calendar.MustParse("2025-01-01"), calendar.MustParse("2025-01-22"))

	// Occurrences on 01, 08, 15, 22: four in total.
	got, _ := sheet.BalanceOn(calendar.MustParse("2025-01-22"))
	if got.Cents != 10000-4*2000 {
		t.Errorf("final balance = %d, want %d", got.Cents, 10000-4*2000)
	}
	got, _ = sheet.BalanceOn(calendar.MustParse("2025-01-07"))
	if got.Cents != 8000 {
		t.Errorf("balance between occurrences = %d, want 8000", got.Cents)
	}
}

func TestBuildMasterNeverCountedDirectly(t *testing.T) {
	// The master row itself must not hit the balance on its operation date
	// beyond the single materialized occurrence.
	m := cash("subs", "2025-01-01", -1000)
	m.Recurrence = core.Monthly

	in := Input{Transactions: []core.Transaction{m}}
	sheet := testBuilder(nil).Build(in, calendar.MustParse("2025-01-01"), calendar.MustParse("2025-01-02"))

	got, _ := sheet.BalanceOn(calendar.MustParse("2025-01-01"))
	if got.Cents != -1000 {
		t.Errorf("anchor day balance = %d, want -1000 (one occurrence, not master plus occurrence)", got.Cents)
	}
}

func TestBuildCardRecurringLookBack(t *testing.T) {
	// A monthly card master anchored before the queried range still lands
	// its invoice inside the range via the look-back expansion.
	cards := []core.Card{{Name: "Visa", ClosingDay: 10, DueDay: 20}}
	m := onCard("stream", "2025-01-15", "Visa", -1500)
	m.Recurrence = core.Monthly

	in := Input{Cards: cards, Transactions: []core.Transaction{m}}
	// Operation 2025-03-15 (after closing day 10) posts 2025-04-20.
	sheet := testBuilder(cards).Build(in, calendar.MustParse("2025-04-01"), calendar.MustParse("2025-04-30"))

	got, _ := sheet.BalanceOn(calendar.MustParse("2025-04-20"))
	if got.Cents != -1500 {
		t.Errorf("balance on due date = %d, want -1500", got.Cents)
	}
}

func TestBuildAdjustmentReducesInvoice(t *testing.T) {
	cards := []core.Card{{Name: "Visa", ClosingDay: 10, DueDay: 20}}
	in := Input{
		Cards:        cards,
		Transactions: []core.Transaction{onCard("tv", "2025-03-05", "Visa", -10000)},
		Adjustments: []invoice.Adjustment{
			{Card: "Visa", DueDate: calendar.MustParse("2025-03-20"), Amount: core.Money{Cents: -2500}},
		},
	}
	sheet := testBuilder(cards).Build(in, calendar.MustParse("2025-03-01"), calendar.MustParse("2025-03-31"))

	// Invoice total -10000 minus adjustment -2500 = -7500.
	got, _ := sheet.BalanceOn(calendar.MustParse("2025-03-20"))
	if got.Cents != -7500 {
		t.Errorf("adjusted invoice balance = %d, want -7500", got.Cents)
	}
}

func TestBuildAnchorResets(t *testing.T) {
	in := Input{
		StartingCents: 50000,
		Anchor:        calendar.MustParse("2025-01-10"),
		Transactions: []core.Transaction{
			cash("ignored", "2025-01-05", -99999),
			cash("counted", "2025-01-12", -5000),
		},
	}
	sheet := testBuilder(nil).Build(in, calendar.MustParse("2025-01-01"), calendar.MustParse("2025-01-15"))

	got, _ := sheet.BalanceOn(calendar.MustParse("2025-01-05"))
	if got.Cents != 0 {
		t.Errorf("pre-anchor balance = %d, want 0", got.Cents)
	}
	got, _ = sheet.BalanceOn(calendar.MustParse("2025-01-10"))
	if got.Cents != 50000 {
		t.Errorf("anchor day balance = %d, want 50000 (earlier activity ignored)", got.Cents)
	}
	got, _ = sheet.BalanceOn(calendar.MustParse("2025-01-12"))
	if got.Cents != 45000 {
		t.Errorf("post-anchor balance = %d, want 45000", got.Cents)
	}
}

func TestBuildDeterministic(t *testing.T) {
	cards := []core.Card{{Name: "Visa", ClosingDay: 10, DueDay: 20}}
	weekly := cash("gym", "2025-01-01", -2000)
	weekly.Recurrence = core.Weekly
	in := Input{
		StartingCents: 100000,
		Cards:         cards,
		Transactions: []core.Transaction{
			weekly,
			cash("salary", "2025-01-27", 250000),
			onCard("shoes", "2025-01-14", "Visa", -8000),
		},
	}
	b := testBuilder(cards)
	from, to := calendar.MustParse("2025-01-01"), calendar.MustParse("2025-03-31")

	first := b.Build(in, from, to)
	second := b.Build(in, from, to)
	if !reflect.DeepEqual(first.Entries(), second.Entries()) {
		t.Error("two passes over identical inputs must yield identical sheets")
	}
}

func TestBuildDayDeltaDecomposition(t *testing.T) {
	// Day-over-day delta must equal cash impact plus net card invoices:
	// no other term contributes.
	cards := []core.Card{{Name: "Visa", ClosingDay: 10, DueDay: 20}}
	weekly := cash("gym", "2025-01-06", -2000)
	weekly.Recurrence = core.Weekly
	in := Input{
		StartingCents: 100000,
		Cards:         cards,
		Transactions: []core.Transaction{
			weekly,
			cash("groceries", "2025-01-20", -4500),
			onCard("fuel", "2025-01-05", "Visa", -3000),
		},
	}
	sheet := testBuilder(cards).Build(in, calendar.MustParse("2025-01-01"), calendar.MustParse("2025-02-28"))

	entries := sheet.Entries()
	for i := 1; i < len(entries); i++ {
		delta := entries[i].Balance.Cents - entries[i-1].Balance.Cents
		if delta != entries[i].DayTotal.Cents {
			t.Fatalf("delta on %s = %d, day total = %d", entries[i].Date, delta, entries[i].DayTotal.Cents)
		}
	}

	// Spot check: the Visa invoice (purchase on the 5th, before closing)
	// falls due January 20th together with the groceries.
	e, _ := sheet.BalanceOn(calendar.MustParse("2025-01-20"))
	prev, _ := sheet.BalanceOn(calendar.MustParse("2025-01-19"))
	if e.Cents-prev.Cents != -4500-3000 {
		t.Errorf("Jan 20 delta = %d, want -7500", e.Cents-prev.Cents)
	}
}

func TestBuildEmptyRange(t *testing.T) {
	sheet := testBuilder(nil).Build(Input{}, calendar.MustParse("2025-01-10"), calendar.MustParse("2025-01-01"))
	if sheet.Len() != 0 {
		t.Errorf("reversed range built %d entries, want 0", sheet.Len())
	}
}

func TestBuildDanglingCardMethod(t *testing.T) {
	// Method references a card that no longer exists: posting degrades to
	// identity and the movement still lands in the balance.
	in := Input{Transactions: []core.Transaction{onCard("ghost", "2025-01-05", "Gone", -700)}}
	sheet := testBuilder(nil).Build(in, calendar.MustParse("2025-01-01"), calendar.MustParse("2025-01-10"))

	got, _ := sheet.BalanceOn(calendar.MustParse("2025-01-05"))
	if got.Cents != -700 {
		t.Errorf("balance with dangling card = %d, want -700", got.Cents)
	}
}
