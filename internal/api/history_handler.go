// File path: internal/api/history_handler.go
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	chi "github.com/go-chi/chi/v5"

	"github.com/ragworks/shardchat/internal/history"
)

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	metas, err := s.manager.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("list conversations: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"conversations": metas})
}

func (s *Server) handleConversationCreate(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	store, err := s.manager.Create(r.Context(), req.Name)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, history.ErrAlreadyExists) {
			status = http.StatusConflict
		}
		writeError(w, status, err)
		return
	}
	s.mu.Lock()
	s.stores[req.Name] = store
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, map[string]string{"status": "created", "conversation": req.Name})
}

func (s *Server) handleConversationHistory(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	store, err := s.store(r, name)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("open conversation: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conversation": name,
		"messages":     store.Messages(),
		"shards":       store.Shards(),
	})
}

func (s *Server) handleConversationDelete(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	deleted, err := s.manager.Delete(r.Context(), name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("delete conversation: %w", err))
		return
	}
	s.forgetStore(name)
	writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": deleted, "conversation": name})
}
