package api

import (
	"net/http"
	"strconv"
)

const (
	defaultRecentLimit = 50
	maxRecentLimit     = 1000
)

// @Title: Recent Events
// @Route: GET /api/events/recent?limit=...
// @Description: Returns the most recent delivered ledger events, newest first
// @Response: [{"id": "...", "height": 12, "tx_hash": "...", "event": {"kind": "report.submitted", "line": "REPORT:...", "attributes": {...}}, "received": "..."}]
func (s *Service) HandleRecentEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxRecentLimit)
	}
	if s.recent == nil {
		s.writeJSON(w, http.StatusOK, []any{})
		return
	}
	s.writeJSON(w, http.StatusOK, s.recent.Recent(limit))
}
