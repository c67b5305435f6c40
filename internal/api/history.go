package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/finworks/reportd/internal/audit"
)

// historyResponse wraps the paginated archive listing.
type historyResponse struct {
	Entries []*audit.Entry `json:"entries"`
	Total   int            `json:"total"`
	Limit   int            `json:"limit"`
	Offset  int            `json:"offset"`
}

// handleListHistory serves the terminal-job archive. Jobs stay visible here
// after the sweeper evicts their live records.
func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	entries, total, err := s.history.History(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list history", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list history")
		return
	}

	if entries == nil {
		entries = []*audit.Entry{}
	}

	s.writeJSON(w, http.StatusOK, historyResponse{
		Entries: entries,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
	})
}

func (s *Server) handleGetHistoryEntry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	entry, err := s.history.Get(r.Context(), id)
	if errors.Is(err, audit.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "archived job not found")
		return
	}
	if err != nil {
		s.logger.Error("get history entry", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get history entry")
		return
	}

	s.writeJSON(w, http.StatusOK, entry)
}
