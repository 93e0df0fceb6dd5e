package http

import (
	"net/http"
	"strconv"
	"strings"

	"saldo/internal/calendar"
)

// handleBalance returns the day-by-day running balance over [from, to].
// Defaults: from = today, to = today + 30 days.
func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	today := calendar.Today()
	from, err := parseDateParam(r, "from", today)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid 'from' date, want YYYY-MM-DD")
		return
	}
	to, err := parseDateParam(r, "to", from.AddDays(30))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid 'to' date, want YYYY-MM-DD")
		return
	}
	if to.Before(from) {
		writeError(w, http.StatusBadRequest, "'to' must not precede 'from'")
		return
	}

	sheet := s.svc.Sheet(from, to)
	writeJSON(w, http.StatusOK, map[string]any{
		"from":          from,
		"to":            to,
		"entries":       sheet.Entries(),
		"negativeDates": sheet.NegativeDates(),
	})
}

// handleProjection returns the N-day forward view starting after 'from'.
func (s *Server) handleProjection(w http.ResponseWriter, r *http.Request) {
	from, err := parseDateParam(r, "from", calendar.Today())
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid 'from' date, want YYYY-MM-DD")
		return
	}
	days := 30
	if v := strings.TrimSpace(r.URL.Query().Get("days")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 366 {
			writeError(w, http.StatusBadRequest, "'days' must be between 1 and 366")
			return
		}
		days = n
	}

	sheet := s.svc.Sheet(from, from.AddDays(days))
	writeJSON(w, http.StatusOK, map[string]any{
		"from":    from,
		"days":    days,
		"entries": sheet.Projection(from, days),
	})
}

// handleStats returns trailing-week aggregates as of a date.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	asOf, err := parseDateParam(r, "asOf", calendar.Today())
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid 'asOf' date, want YYYY-MM-DD")
		return
	}

	sheet := s.svc.Sheet(asOf.AddDays(-6), asOf)
	writeJSON(w, http.StatusOK, map[string]any{
		"asOf":  asOf,
		"stats": sheet.TrailingWeekStats(asOf),
	})
}

// handleOccurrences lists ledger lines for a day or a whole month,
// recurring series expanded.
func (s *Server) handleOccurrences(w http.ResponseWriter, r *http.Request) {
	if v := strings.TrimSpace(r.URL.Query().Get("date")); v != "" {
		d, err := calendar.Parse(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid 'date', want YYYY-MM-DD")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"date":        d,
			"occurrences": s.svc.OccurrencesOn(d),
		})
		return
	}

	year, month := parseYearMonth(r)
	writeJSON(w, http.StatusOK, map[string]any{
		"year":        year,
		"month":       int(month),
		"occurrences": s.svc.MonthOccurrences(year, month),
	})
}
