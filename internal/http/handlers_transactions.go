package http

import (
	"encoding/json"
	"net/http"
	"strings"

	"saldo/internal/calendar"
	"saldo/internal/core"
)

// handleCreateTransaction adds one record, plain or recurring master.
func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var tx core.Transaction
	if err := json.NewDecoder(r.Body).Decode(&tx); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	created, err := s.svc.AddTransaction(r.Context(), tx)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// handleUpdateTransaction edits one record. The scope parameter controls
// how edits to a recurring series apply:
//
//	scope=all     (default) edit the master, every occurrence changes
//	scope=single  detach the occurrence at 'date' and edit only it
//	scope=future  truncate at 'date' and start an edited series there
func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var tx core.Transaction
	if err := json.NewDecoder(r.Body).Decode(&tx); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	tx.ID = id

	scope := strings.TrimSpace(r.URL.Query().Get("scope"))
	switch scope {
	case "", "all":
		updated, err := s.svc.UpdateTransaction(r.Context(), tx)
		if err != nil {
			writeError(w, statusForError(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, updated)
	case "single":
		d, err := requireDateParam(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		detached, err := s.svc.DetachOccurrence(r.Context(), id, d, tx)
		if err != nil {
			writeError(w, statusForError(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, detached)
	case "future":
		d, err := requireDateParam(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		replacement, err := s.svc.ReplaceSeriesFrom(r.Context(), id, d, tx)
		if err != nil {
			writeError(w, statusForError(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, replacement)
	default:
		writeError(w, http.StatusBadRequest, "scope must be one of all, single, future")
	}
}

// handleDeleteTransaction removes one record. For recurring series the
// scope parameter mirrors the update semantics: single excludes one
// occurrence, future truncates the series, all removes it.
func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	scope := strings.TrimSpace(r.URL.Query().Get("scope"))
	switch scope {
	case "", "all":
		if err := s.svc.DeleteTransaction(r.Context(), id); err != nil {
			writeError(w, statusForError(err), err.Error())
			return
		}
	case "single":
		d, err := requireDateParam(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := s.svc.ExcludeOccurrence(r.Context(), id, d); err != nil {
			writeError(w, statusForError(err), err.Error())
			return
		}
	case "future":
		d, err := requireDateParam(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := s.svc.TruncateSeries(r.Context(), id, d); err != nil {
			writeError(w, statusForError(err), err.Error())
			return
		}
	default:
		writeError(w, http.StatusBadRequest, "scope must be one of all, single, future")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func requireDateParam(r *http.Request) (calendar.Date, error) {
	v := strings.TrimSpace(r.URL.Query().Get("date"))
	if v == "" {
		return calendar.Date{}, errMissingDateParam
	}
	return calendar.Parse(v)
}

var errMissingDateParam = &paramError{"scoped operations need a 'date' parameter (YYYY-MM-DD)"}

type paramError struct{ msg string }

func (e *paramError) Error() string { return e.msg }
