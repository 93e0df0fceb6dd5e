package http

import (
	"encoding/json"
	"net/http"

	"saldo/internal/core"
	"saldo/internal/ledger"
)

func (s *Server) handleListCards(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"cards": s.svc.Store().Cards(),
	})
}

func (s *Server) handleCreateCard(w http.ResponseWriter, r *http.Request) {
	var card core.Card
	if err := json.NewDecoder(r.Body).Decode(&card); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	created, err := s.svc.AddCard(r.Context(), card)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateCard(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var card core.Card
	if err := json.NewDecoder(r.Body).Decode(&card); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if card.Name == "" {
		card.Name = name
	}

	updated, err := s.svc.UpdateCard(r.Context(), name, card)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteCard(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteCard(r.Context(), r.PathValue("name")); err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleInvoicePreview assembles one card invoice for a month.
func (s *Server) handleInvoicePreview(w http.ResponseWriter, r *http.Request) {
	year, month := parseYearMonth(r)
	preview, err := s.svc.InvoicePreview(r.PathValue("name"), year, month)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

// handleSetStartingBalance replaces the starting balance and its anchor.
func (s *Server) handleSetStartingBalance(w http.ResponseWriter, r *http.Request) {
	var sb ledger.StartingBalance
	if err := json.NewDecoder(r.Body).Decode(&sb); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.svc.SetStartingBalance(r.Context(), sb); err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sb)
}
