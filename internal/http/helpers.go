package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"saldo/internal/calendar"
	"saldo/internal/core"
	"saldo/internal/ledger"
)

// parseDateParam reads a YYYY-MM-DD query parameter, falling back to def
// when absent.
func parseDateParam(r *http.Request, name string, def calendar.Date) (calendar.Date, error) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return def, nil
	}
	return calendar.Parse(v)
}

// parseYearMonth extracts year and month from query parameters, defaulting
// to the current month.
func parseYearMonth(r *http.Request) (int, time.Month) {
	now := time.Now()
	year := now.Year()
	month := now.Month()

	if v := strings.TrimSpace(r.URL.Query().Get("year")); v != "" {
		if y, err := strconv.Atoi(v); err == nil {
			year = y
		}
	}
	if v := strings.TrimSpace(r.URL.Query().Get("month")); v != "" {
		if m, err := strconv.Atoi(v); err == nil && m >= 1 && m <= 12 {
			month = time.Month(m)
		}
	}
	return year, month
}

// statusForError maps domain errors onto HTTP statuses.
func statusForError(err error) int {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrDuplicateCard):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrNotMaster),
		errors.Is(err, ledger.ErrUnknownCard),
		errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrEmptyDescription),
		errors.Is(err, core.ErrEmptyMethod),
		errors.Is(err, core.ErrMissingDate),
		errors.Is(err, core.ErrInvalidRule),
		errors.Is(err, core.ErrInvalidCardDay),
		errors.Is(err, core.ErrEmptyCardName),
		errors.Is(err, calendar.ErrInvalidDate):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
