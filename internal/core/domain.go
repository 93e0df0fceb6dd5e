package core

import (
	"errors"
	"strings"
	"time"

	"saldo/internal/calendar"
)

// MethodCash is the sentinel payment method for immediate cash movements.
// It behaves like an always-present card with identity posting.
const MethodCash = "cash"

// Recurrence rule tags. A transaction carrying one of these is a master and
// is never rendered directly; only its materialized occurrences are.
const (
	Daily      Rule = "daily"
	Weekly     Rule = "weekly"
	Biweekly   Rule = "biweekly"
	Monthly    Rule = "monthly"
	Quarterly  Rule = "quarterly"
	Semiannual Rule = "semiannual"
	Yearly     Rule = "yearly"
)

type (
	// Rule tags how often a master transaction repeats. Empty means the
	// record is a single occurrence.
	Rule string

	// Money is a signed amount in cents. Negative is an expense,
	// positive is income.
	Money struct {
		Cents int64 `json:"cents"`
	}

	// Transaction is the mutable ledger record. PostingDate is derived
	// from OperationDate and Method by the invoice calculator and cached
	// here; it is never a source of truth on its own.
	Transaction struct {
		ID            string          `json:"id"`
		Description   string          `json:"description"`
		Amount        Money           `json:"amount"`
		Method        string          `json:"method"`
		OperationDate calendar.Date   `json:"operationDate"`
		PostingDate   calendar.Date   `json:"postingDate"`
		Recurrence    Rule            `json:"recurrenceRule,omitempty"`
		RecurrenceEnd calendar.Date   `json:"recurrenceEnd,omitempty"`
		Exceptions    []calendar.Date `json:"exceptions,omitempty"`
		ParentID      string          `json:"parentId,omitempty"`
		Planned       bool            `json:"planned"`
		CreatedAt     time.Time       `json:"createdAt"`
		ModifiedAt    time.Time       `json:"modifiedAt"`
	}

	// Card defers spending to a monthly invoice. Operations after the
	// closing day land on the next month's invoice; every invoice falls
	// due on DueDay of its month.
	Card struct {
		Name       string    `json:"name"`
		ClosingDay int       `json:"closingDay"`
		DueDay     int       `json:"dueDay"`
		CreatedAt  time.Time `json:"createdAt"`
		ModifiedAt time.Time `json:"modifiedAt"`
	}
)

var (
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrEmptyDescription = errors.New("empty description")
	ErrEmptyMethod      = errors.New("empty payment method")
	ErrMissingDate      = errors.New("missing operation date")
	ErrInvalidRule      = errors.New("invalid recurrence rule")
	ErrInvalidCardDay   = errors.New("card day out of range")
	ErrEmptyCardName    = errors.New("empty card name")
)

// IsValid reports whether r is one of the known rule tags.
func (r Rule) IsValid() bool {
	switch r {
	case Daily, Weekly, Biweekly, Monthly, Quarterly, Semiannual, Yearly:
		return true
	default:
		return false
	}
}

// MonthInterval returns the month distance between occurrences for
// month-based rules, or 0 for day-based and yearly rules.
func (r Rule) MonthInterval() int {
	switch r {
	case Monthly:
		return 1
	case Quarterly:
		return 3
	case Semiannual:
		return 6
	default:
		return 0
	}
}

// IsMaster reports whether t carries a recurrence rule.
func (t Transaction) IsMaster() bool { return t.Recurrence != "" }

// IsDetached reports whether t is a standalone occurrence forked off a
// master. A detached record is fully independent once created.
func (t Transaction) IsDetached() bool { return t.ParentID != "" && t.Recurrence == "" }

// HasException reports whether d is explicitly excluded from t's recurrence.
func (t Transaction) HasException(d calendar.Date) bool {
	for _, e := range t.Exceptions {
		if e.Equal(d) {
			return true
		}
	}
	return false
}

// IsCash reports whether t settles immediately rather than via an invoice.
func (t Transaction) IsCash() bool { return t.Method == MethodCash }

func (t Transaction) Validate() error {
	if len(strings.TrimSpace(t.Description)) == 0 {
		return ErrEmptyDescription
	}
	if len(t.Description) > 200 {
		return errors.New("description too long (max 200 characters)")
	}
	if t.Amount.Cents == 0 {
		return ErrInvalidAmount
	}
	if strings.TrimSpace(t.Method) == "" {
		return ErrEmptyMethod
	}
	if t.OperationDate.IsZero() {
		return ErrMissingDate
	}
	if t.Recurrence != "" && !t.Recurrence.IsValid() {
		return ErrInvalidRule
	}
	if !t.RecurrenceEnd.IsZero() && !t.RecurrenceEnd.After(t.OperationDate) {
		return errors.New("recurrence end must be after the operation date")
	}
	return nil
}

func (c Card) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return ErrEmptyCardName
	}
	if strings.EqualFold(c.Name, MethodCash) {
		return errors.New("card name conflicts with the cash sentinel")
	}
	if c.ClosingDay < 1 || c.ClosingDay > 31 {
		return ErrInvalidCardDay
	}
	if c.DueDay < 1 || c.DueDay > 31 {
		return ErrInvalidCardDay
	}
	return nil
}

// Clone returns a copy of t whose Exceptions slice does not alias the
// original, so callers can splice exception dates freely.
func (t Transaction) Clone() Transaction {
	out := t
	if len(t.Exceptions) > 0 {
		out.Exceptions = append([]calendar.Date(nil), t.Exceptions...)
	}
	return out
}
