// File path: internal/api/database_handler.go
package api

import (
	"fmt"
	"net/http"

	chi "github.com/go-chi/chi/v5"

	"github.com/ragworks/shardchat/internal/common"
)

func (s *Server) handleDatabases(w http.ResponseWriter, r *http.Request) {
	metas, err := s.registry.ListDatabases(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("list databases: %w", err))
		return
	}
	payload := map[string]interface{}{"databases": metas}
	if s.catalog != nil {
		if records, err := s.catalog.Databases(r.Context()); err == nil {
			payload["catalog"] = records
		} else {
			common.Logger().Warn("api: catalog listing failed", "error", err)
		}
	}
	writeJSON(w, http.StatusOK, payload)
}

// handleDatabaseDelete removes the database registration and tears down its
// vector shards. Shard teardown failures are logged and skipped so a
// half-deleted index never blocks removing the registration.
func (s *Server) handleDatabaseDelete(w http.ResponseWriter, r *http.Request) {
	logger := common.Logger()
	name := chi.URLParam(r, "name")
	if s.vector != nil {
		if db, err := s.registry.LoadDatabase(r.Context(), name); err == nil {
			for _, shard := range db.Shards() {
				if err := s.vector.DeleteShard(r.Context(), shard.ID); err != nil {
					logger.Warn("api: shard teardown failed", "shard", shard.ID, "error", err)
				}
			}
		}
	}
	deleted, err := s.registry.DeleteDatabase(r.Context(), name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("delete database: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": deleted, "database": name})
}
