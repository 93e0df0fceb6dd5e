package http

import "net/http"

// handleSyncStatus reports whether the client is online, what is pending
// and when the next retry fires.
func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	if s.sync == nil {
		writeJSON(w, http.StatusOK, map[string]any{"configured": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"configured": true,
		"status":     s.sync.Status(),
	})
}

// handleSyncFlush requests an immediate flush attempt, the hook the UI
// calls when the window regains focus.
func (s *Server) handleSyncFlush(w http.ResponseWriter, r *http.Request) {
	if s.sync == nil {
		writeError(w, http.StatusConflict, "no remote configured")
		return
	}
	s.sync.TriggerFlush()
	w.WriteHeader(http.StatusAccepted)
}
