// File path: internal/api/search_handler.go
package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/ragworks/shardchat/internal/registry"
	"github.com/ragworks/shardchat/internal/retriever"
)

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.vector == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("vector store unavailable"))
		return
	}
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, errors.New("query parameter q required"))
		return
	}
	k := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("k")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("parse k: %w", err))
			return
		}
		k = parsed
	}
	db, err := s.selectDatabase(r, strings.TrimSpace(r.URL.Query().Get("db")))
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, fmt.Errorf("load database: %w", err))
		return
	}
	retr, err := retriever.New(s.vector, s.provider, db)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	results, err := retr.Search(r.Context(), query, k)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("search: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"database": db.Name(),
		"query":    query,
		"results":  results,
	})
}
