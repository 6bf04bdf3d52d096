// File path: internal/api/ingest_handler.go
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/ragworks/shardchat/internal/common"
)

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if s.pipeline == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("ingestion pipeline unavailable"))
		return
	}
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if len(req.Paths) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("paths required"))
		return
	}
	report, err := s.pipeline.ProcessDocuments(r.Context(), req.Paths)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	common.Logger().Info("api: ingestion completed",
		"databases", len(report.Databases), "chunks", report.TotalChunks, "shards", report.Shards, "failed", len(report.Failed))
	writeJSON(w, http.StatusOK, report)
}
