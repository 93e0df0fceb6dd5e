package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"saldo/internal/cache"
	"saldo/internal/calendar"
	"saldo/internal/core"
	"saldo/internal/invoice"
)

type recordingMarker struct {
	kinds []string
}

func (r *recordingMarker) MarkDirty(_ context.Context, kind string) {
	r.kinds = append(r.kinds, kind)
}

func newTestService(t *testing.T) (*Service, *recordingMarker) {
	t.Helper()
	marker := &recordingMarker{}
	svc := NewService(NewStore(), cache.NewMemory(), marker)

	// Deterministic clock, today and ids.
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	svc.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	svc.today = func() calendar.Date { return calendar.MustParse("2025-03-15") }
	seq := 0
	svc.newID = func() string {
		seq++
		return fmt.Sprintf("id-%d", seq)
	}
	return svc, marker
}

func addVisa(t *testing.T, svc *Service) core.Card {
	t.Helper()
	card, err := svc.AddCard(context.Background(), core.Card{Name: "Visa", ClosingDay: 10, DueDay: 20})
	if err != nil {
		t.Fatalf("AddCard: %v", err)
	}
	return card
}

func TestAddTransactionAssignsIdentityAndPosting(t *testing.T) {
	svc, marker := newTestService(t)
	ctx := context.Background()
	addVisa(t, svc)

	got, err := svc.AddTransaction(ctx, core.Transaction{
		Description:   "groceries",
		Amount:        core.Money{Cents: -4500},
		Method:        "Visa",
		OperationDate: calendar.MustParse("2025-03-12"),
	})
	if err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}
	if got.ID == "" {
		t.Error("AddTransaction left ID empty")
	}
	if got.CreatedAt.IsZero() || !got.ModifiedAt.Equal(got.CreatedAt) {
		t.Errorf("timestamps = created %v modified %v", got.CreatedAt, got.ModifiedAt)
	}
	// Operation after the closing day: invoice rolls to next month's due day.
	if want := calendar.MustParse("2025-04-20"); !got.PostingDate.Equal(want) {
		t.Errorf("PostingDate = %s, want %s", got.PostingDate, want)
	}
	if got.Planned {
		t.Error("Planned = true for an operation date before today")
	}

	found := false
	for _, k := range marker.kinds {
		if k == cache.KeyTransactions {
			found = true
		}
	}
	if !found {
		t.Errorf("dirty marker never saw %s: %v", cache.KeyTransactions, marker.kinds)
	}
}

func TestAddTransactionRejectsUnknownCard(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.AddTransaction(context.Background(), core.Transaction{
		Description:   "phantom",
		Amount:        core.Money{Cents: -100},
		Method:        "NoSuchCard",
		OperationDate: calendar.MustParse("2025-03-12"),
	})
	if !errors.Is(err, ErrUnknownCard) {
		t.Errorf("AddTransaction error = %v, want ErrUnknownCard", err)
	}
}

func TestAddTransactionPlannedFlag(t *testing.T) {
	svc, _ := newTestService(t)
	got, err := svc.AddTransaction(context.Background(), core.Transaction{
		Description:   "rent",
		Amount:        core.Money{Cents: -80000},
		Method:        core.MethodCash,
		OperationDate: calendar.MustParse("2025-04-01"),
	})
	if err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}
	if !got.Planned {
		t.Error("Planned = false for an operation date after today")
	}
}

func TestUpdateTransactionPreservesCreatedAt(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tx, err := svc.AddTransaction(ctx, core.Transaction{
		Description:   "gym",
		Amount:        core.Money{Cents: -3000},
		Method:        core.MethodCash,
		OperationDate: calendar.MustParse("2025-03-05"),
	})
	if err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}

	tx.Amount = core.Money{Cents: -3500}
	updated, err := svc.UpdateTransaction(ctx, tx)
	if err != nil {
		t.Fatalf("UpdateTransaction: %v", err)
	}
	if !updated.CreatedAt.Equal(tx.CreatedAt) {
		t.Errorf("CreatedAt changed: %v -> %v", tx.CreatedAt, updated.CreatedAt)
	}
	if !updated.ModifiedAt.After(tx.ModifiedAt) {
		t.Errorf("ModifiedAt did not advance: %v -> %v", tx.ModifiedAt, updated.ModifiedAt)
	}
}

func TestUpdateTransactionUnknownId(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.UpdateTransaction(context.Background(), core.Transaction{
		ID:            "ghost",
		Description:   "x",
		Amount:        core.Money{Cents: -1},
		Method:        core.MethodCash,
		OperationDate: calendar.MustParse("2025-03-05"),
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateTransaction error = %v, want ErrNotFound", err)
	}
}

func addWeeklyMaster(t *testing.T, svc *Service) core.Transaction {
	t.Helper()
	master, err := svc.AddTransaction(context.Background(), core.Transaction{
		Description:   "weekly groceries",
		Amount:        core.Money{Cents: -5000},
		Method:        core.MethodCash,
		OperationDate: calendar.MustParse("2025-03-03"),
		Recurrence:    core.Weekly,
	})
	if err != nil {
		t.Fatalf("AddTransaction master: %v", err)
	}
	return master
}

func TestExcludeOccurrenceSuppressesOneDate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	master := addWeeklyMaster(t, svc)

	skip := calendar.MustParse("2025-03-10")
	if err := svc.ExcludeOccurrence(ctx, master.ID, skip); err != nil {
		t.Fatalf("ExcludeOccurrence: %v", err)
	}

	if occ := svc.OccurrencesOn(skip); len(occ) != 0 {
		t.Errorf("excluded date still yields %d occurrences", len(occ))
	}
	if occ := svc.OccurrencesOn(calendar.MustParse("2025-03-17")); len(occ) != 1 {
		t.Errorf("later occurrence disappeared: got %d", len(occ))
	}

	// Excluding again is a no-op, not a duplicate.
	if err := svc.ExcludeOccurrence(ctx, master.ID, skip); err != nil {
		t.Fatalf("second ExcludeOccurrence: %v", err)
	}
	got, _ := svc.Store().Transaction(master.ID)
	if len(got.Exceptions) != 1 {
		t.Errorf("Exceptions = %v, want exactly one", got.Exceptions)
	}
}

func TestDetachOccurrence(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	master := addWeeklyMaster(t, svc)

	day := calendar.MustParse("2025-03-10")
	detached, err := svc.DetachOccurrence(ctx, master.ID, day, core.Transaction{
		Description:   "groceries, guests over",
		Amount:        core.Money{Cents: -9000},
		Method:        core.MethodCash,
		OperationDate: day,
	})
	if err != nil {
		t.Fatalf("DetachOccurrence: %v", err)
	}
	if detached.ParentID != master.ID {
		t.Errorf("ParentID = %q, want %q", detached.ParentID, master.ID)
	}
	if detached.IsMaster() {
		t.Error("detached record kept a recurrence rule")
	}

	// The day shows exactly the edited version, not the series amount.
	occ := svc.OccurrencesOn(day)
	if len(occ) != 1 {
		t.Fatalf("OccurrencesOn(%s) = %d records, want 1", day, len(occ))
	}
	if occ[0].Amount.Cents != -9000 {
		t.Errorf("day shows %d cents, want the detached -9000", occ[0].Amount.Cents)
	}
}

func TestDetachOccurrenceRequiresMaster(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	plain, err := svc.AddTransaction(ctx, core.Transaction{
		Description:   "one-off",
		Amount:        core.Money{Cents: -100},
		Method:        core.MethodCash,
		OperationDate: calendar.MustParse("2025-03-05"),
	})
	if err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}
	_, err = svc.DetachOccurrence(ctx, plain.ID, plain.OperationDate, plain)
	if !errors.Is(err, ErrNotMaster) {
		t.Errorf("DetachOccurrence error = %v, want ErrNotMaster", err)
	}
}

func TestTruncateSeries(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	master := addWeeklyMaster(t, svc)

	cut := calendar.MustParse("2025-03-17")
	if err := svc.TruncateSeries(ctx, master.ID, cut); err != nil {
		t.Fatalf("TruncateSeries: %v", err)
	}

	if occ := svc.OccurrencesOn(calendar.MustParse("2025-03-10")); len(occ) != 1 {
		t.Errorf("occurrence before the cut disappeared")
	}
	if occ := svc.OccurrencesOn(cut); len(occ) != 0 {
		t.Errorf("occurrence on the cut date survived")
	}
	if occ := svc.OccurrencesOn(calendar.MustParse("2025-03-24")); len(occ) != 0 {
		t.Errorf("occurrence after the cut survived")
	}
}

func TestTruncateSeriesAtAnchorDeletesSeries(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	master := addWeeklyMaster(t, svc)

	if err := svc.TruncateSeries(ctx, master.ID, master.OperationDate); err != nil {
		t.Fatalf("TruncateSeries: %v", err)
	}
	if _, ok := svc.Store().Transaction(master.ID); ok {
		t.Error("truncating at the anchor left an empty series behind")
	}
}

func TestReplaceSeriesFrom(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	master := addWeeklyMaster(t, svc)

	cut := calendar.MustParse("2025-03-17")
	replacement, err := svc.ReplaceSeriesFrom(ctx, master.ID, cut, core.Transaction{
		Description: "weekly groceries, new shop",
		Amount:      core.Money{Cents: -6000},
		Method:      core.MethodCash,
	})
	if err != nil {
		t.Fatalf("ReplaceSeriesFrom: %v", err)
	}
	if replacement.Recurrence != core.Weekly {
		t.Errorf("replacement rule = %q, want inherited weekly", replacement.Recurrence)
	}

	before := svc.OccurrencesOn(calendar.MustParse("2025-03-10"))
	if len(before) != 1 || before[0].Amount.Cents != -5000 {
		t.Errorf("pre-cut day = %+v, want the old -5000", before)
	}
	after := svc.OccurrencesOn(calendar.MustParse("2025-03-24"))
	if len(after) != 1 || after[0].Amount.Cents != -6000 {
		t.Errorf("post-cut day = %+v, want the new -6000", after)
	}
}

func TestDeleteMasterRemovesSeriesKeepsDetached(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	master := addWeeklyMaster(t, svc)

	day := calendar.MustParse("2025-03-10")
	detached, err := svc.DetachOccurrence(ctx, master.ID, day, core.Transaction{
		Description:   "edited",
		Amount:        core.Money{Cents: -1},
		Method:        core.MethodCash,
		OperationDate: day,
	})
	if err != nil {
		t.Fatalf("DetachOccurrence: %v", err)
	}

	if err := svc.DeleteTransaction(ctx, master.ID); err != nil {
		t.Fatalf("DeleteTransaction: %v", err)
	}
	if occ := svc.OccurrencesOn(calendar.MustParse("2025-03-17")); len(occ) != 0 {
		t.Errorf("deleted series still expands")
	}
	if _, ok := svc.Store().Transaction(detached.ID); !ok {
		t.Error("detached occurrence deleted along with its master")
	}
}

func TestUpdateCardRenameCascades(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	card := addVisa(t, svc)

	tx, err := svc.AddTransaction(ctx, core.Transaction{
		Description:   "hotel",
		Amount:        core.Money{Cents: -30000},
		Method:        "Visa",
		OperationDate: calendar.MustParse("2025-03-12"),
	})
	if err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}

	card.Name = "Visa Gold"
	card.DueDay = 25
	if _, err := svc.UpdateCard(ctx, "Visa", card); err != nil {
		t.Fatalf("UpdateCard: %v", err)
	}

	got, _ := svc.Store().Transaction(tx.ID)
	if got.Method != "Visa Gold" {
		t.Errorf("Method = %q, want cascaded rename", got.Method)
	}
	if want := calendar.MustParse("2025-04-25"); !got.PostingDate.Equal(want) {
		t.Errorf("PostingDate = %s, want %s after due-day change", got.PostingDate, want)
	}
	if _, ok := svc.Store().Card("Visa"); ok {
		t.Error("old card name survived the rename")
	}
}

func TestDeleteCardDegradesPostingToIdentity(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	addVisa(t, svc)

	tx, err := svc.AddTransaction(ctx, core.Transaction{
		Description:   "flight",
		Amount:        core.Money{Cents: -12000},
		Method:        "Visa",
		OperationDate: calendar.MustParse("2025-03-12"),
	})
	if err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}

	if err := svc.DeleteCard(ctx, "Visa"); err != nil {
		t.Fatalf("DeleteCard: %v", err)
	}
	got, _ := svc.Store().Transaction(tx.ID)
	if !got.PostingDate.Equal(got.OperationDate) {
		t.Errorf("PostingDate = %s, want identity %s after card deletion", got.PostingDate, got.OperationDate)
	}
}

func TestServiceLoadRoundTrip(t *testing.T) {
	c := cache.NewMemory()
	ctx := context.Background()

	first := NewService(NewStore(), c, nil)
	first.today = func() calendar.Date { return calendar.MustParse("2025-03-15") }
	if _, err := first.AddCard(ctx, core.Card{Name: "Visa", ClosingDay: 10, DueDay: 20}); err != nil {
		t.Fatalf("AddCard: %v", err)
	}
	tx, err := first.AddTransaction(ctx, core.Transaction{
		Description:   "persisted",
		Amount:        core.Money{Cents: -700},
		Method:        "Visa",
		OperationDate: calendar.MustParse("2025-03-12"),
	})
	if err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}
	if err := first.SetStartingBalance(ctx, StartingBalance{
		Amount: core.Money{Cents: 100000},
		Anchor: calendar.MustParse("2025-03-01"),
	}); err != nil {
		t.Fatalf("SetStartingBalance: %v", err)
	}
	if err := first.AddAdjustment(ctx, invoice.Adjustment{
		Card:    "Visa",
		DueDate: calendar.MustParse("2025-04-20"),
		Amount:  core.Money{Cents: -2500},
	}); err != nil {
		t.Fatalf("AddAdjustment: %v", err)
	}

	second := NewService(NewStore(), c, nil)
	second.today = func() calendar.Date { return calendar.MustParse("2025-03-15") }
	if err := second.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}

	got, ok := second.Store().Transaction(tx.ID)
	if !ok {
		t.Fatal("transaction lost across restart")
	}
	if !got.PostingDate.Equal(calendar.MustParse("2025-04-20")) {
		t.Errorf("PostingDate after reload = %s", got.PostingDate)
	}
	if sb := second.Store().Starting(); sb.Amount.Cents != 100000 {
		t.Errorf("starting balance after reload = %d", sb.Amount.Cents)
	}
	if len(second.Store().Adjustments()) != 1 {
		t.Errorf("adjustments lost across restart")
	}
}

func TestServiceLoadRederivesPostingFromCards(t *testing.T) {
	// A cached blob may carry stale posting dates (written by an older
	// card configuration). Hydration must resolve methods against the
	// cached card set, not against an empty store.
	c := cache.NewMemory()
	ctx := context.Background()

	cards, _ := json.Marshal([]core.Card{{Name: "Visa", ClosingDay: 10, DueDay: 20}})
	if err := c.Set(ctx, cache.KeyCards, cards); err != nil {
		t.Fatalf("Set cards: %v", err)
	}
	txs, _ := json.Marshal([]core.Transaction{{
		ID:            "stale",
		Description:   "stale posting",
		Amount:        core.Money{Cents: -700},
		Method:        "Visa",
		OperationDate: calendar.MustParse("2025-03-12"),
		PostingDate:   calendar.MustParse("2025-03-12"),
	}})
	if err := c.Set(ctx, cache.KeyTransactions, txs); err != nil {
		t.Fatalf("Set transactions: %v", err)
	}

	svc := NewService(NewStore(), c, nil)
	svc.today = func() calendar.Date { return calendar.MustParse("2025-03-15") }
	if err := svc.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}

	got, ok := svc.Store().Transaction("stale")
	if !ok {
		t.Fatal("transaction missing after hydration")
	}
	if want := calendar.MustParse("2025-04-20"); !got.PostingDate.Equal(want) {
		t.Errorf("PostingDate after hydration = %s, want %s", got.PostingDate, want)
	}
}

func TestApplyRemoteCardsPersistsRenormalizedTransactions(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	addVisa(t, svc)

	tx, err := svc.AddTransaction(ctx, core.Transaction{
		Description:   "shifting invoice",
		Amount:        core.Money{Cents: -900},
		Method:        "Visa",
		OperationDate: calendar.MustParse("2025-03-12"),
	})
	if err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}

	// The remote card moves the due day; both the in-store record and its
	// cached copy must carry the shifted posting date.
	if err := svc.ApplyRemoteCards(ctx, []core.Card{{Name: "Visa", ClosingDay: 10, DueDay: 25}}); err != nil {
		t.Fatalf("ApplyRemoteCards: %v", err)
	}

	want := calendar.MustParse("2025-04-25")
	got, _ := svc.Store().Transaction(tx.ID)
	if !got.PostingDate.Equal(want) {
		t.Errorf("in-store PostingDate = %s, want %s", got.PostingDate, want)
	}

	blob, err := svc.cache.Get(ctx, cache.KeyTransactions)
	if err != nil || blob == nil {
		t.Fatalf("Get cached transactions: blob=%v err=%v", blob, err)
	}
	var cached []core.Transaction
	if err := json.Unmarshal(blob, &cached); err != nil {
		t.Fatalf("decode cached transactions: %v", err)
	}
	if len(cached) != 1 || !cached[0].PostingDate.Equal(want) {
		t.Errorf("cached PostingDate = %s, want %s", cached[0].PostingDate, want)
	}
}

func TestMonthOccurrences(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	addWeeklyMaster(t, svc)
	if _, err := svc.AddTransaction(ctx, core.Transaction{
		Description:   "one-off in month",
		Amount:        core.Money{Cents: -200},
		Method:        core.MethodCash,
		OperationDate: calendar.MustParse("2025-03-20"),
	}); err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}
	if _, err := svc.AddTransaction(ctx, core.Transaction{
		Description:   "outside month",
		Amount:        core.Money{Cents: -300},
		Method:        core.MethodCash,
		OperationDate: calendar.MustParse("2025-04-02"),
	}); err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}

	got := svc.MonthOccurrences(2025, time.March)
	// Weekly from Mar 3: 3, 10, 17, 24, 31 = five, plus the one-off.
	if len(got) != 6 {
		t.Fatalf("MonthOccurrences = %d records, want 6: %v", len(got), ids(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].OperationDate.Before(got[i-1].OperationDate) {
			t.Errorf("occurrences out of order at %d", i)
		}
	}
}

func TestInvoicePreview(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	addVisa(t, svc)

	// Both operations land on the April 20 invoice: one before April's
	// closing day, one after March's.
	for _, op := range []string{"2025-03-12", "2025-04-05"} {
		if _, err := svc.AddTransaction(ctx, core.Transaction{
			Description:   "on invoice " + op,
			Amount:        core.Money{Cents: -10000},
			Method:        "Visa",
			OperationDate: calendar.MustParse(op),
		}); err != nil {
			t.Fatalf("AddTransaction: %v", err)
		}
	}
	// Lands on the May invoice instead.
	if _, err := svc.AddTransaction(ctx, core.Transaction{
		Description:   "next invoice",
		Amount:        core.Money{Cents: -500},
		Method:        "Visa",
		OperationDate: calendar.MustParse("2025-04-15"),
	}); err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}
	if err := svc.AddAdjustment(ctx, invoice.Adjustment{
		Card:    "Visa",
		DueDate: calendar.MustParse("2025-04-20"),
		Amount:  core.Money{Cents: -2500},
	}); err != nil {
		t.Fatalf("AddAdjustment: %v", err)
	}

	preview, err := svc.InvoicePreview("Visa", 2025, time.April)
	if err != nil {
		t.Fatalf("InvoicePreview: %v", err)
	}
	if len(preview.Lines) != 2 {
		t.Fatalf("preview has %d lines, want 2", len(preview.Lines))
	}
	if preview.LinesCents != -20000 {
		t.Errorf("LinesCents = %d, want -20000", preview.LinesCents)
	}
	if preview.TotalCents != -17500 {
		t.Errorf("TotalCents = %d, want -17500 after the -2500 adjustment", preview.TotalCents)
	}
}

func TestInvoicePreviewUnknownCard(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.InvoicePreview("NoSuchCard", 2025, time.April); !errors.Is(err, ErrNotFound) {
		t.Errorf("InvoicePreview error = %v, want ErrNotFound", err)
	}
}
