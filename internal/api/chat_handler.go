// File path: internal/api/chat_handler.go
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ragworks/shardchat/internal/chat"
	"github.com/ragworks/shardchat/internal/common"
	ctxwindow "github.com/ragworks/shardchat/internal/context"
	"github.com/ragworks/shardchat/internal/history"
)

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	logger := common.Logger()
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	req.Conversation = strings.TrimSpace(req.Conversation)
	if req.Conversation == "" {
		req.Conversation = "default"
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, errors.New("prompt required"))
		return
	}
	session, err := s.session(r, req.Conversation, req.Database)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("open session: %w", err))
		return
	}
	if req.Stream {
		s.streamChat(w, r, session, req)
		return
	}
	reply, err := session.Respond(r.Context(), req.Prompt, req.UseRAG)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ctxwindow.ErrBudgetExceeded) ||
			errors.Is(err, history.ErrMessageTooLong) ||
			errors.Is(err, history.ErrEmptyContent) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err)
		return
	}
	logger.Info("api: chat turn completed", "conversation", req.Conversation, "used_rag", reply.UsedRAG)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conversation": req.Conversation,
		"answer":       reply.Answer,
		"used_rag":     reply.UsedRAG,
		"snippets":     reply.Snippets,
	})
}

// streamChat writes completion deltas as they arrive, flushing after each
// one. Errors surfaced mid-stream can only be logged; the status line is
// already gone.
func (s *Server) streamChat(w http.ResponseWriter, r *http.Request, session *chat.Session, req chatRequest) {
	logger := common.Logger()
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_, err := session.RespondStream(r.Context(), req.Prompt, req.UseRAG, func(delta string) {
		if delta == "" {
			return
		}
		_, _ = w.Write([]byte(delta))
		flusher.Flush()
	})
	if err != nil {
		logger.Error("api: streaming chat failed", "conversation", req.Conversation, "error", err)
	}
}

func (s *Server) handleChatReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	req.Conversation = strings.TrimSpace(req.Conversation)
	if req.Conversation == "" {
		writeError(w, http.StatusBadRequest, errors.New("conversation required"))
		return
	}
	store, err := s.store(r, req.Conversation)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("open conversation: %w", err))
		return
	}
	if err := store.Clear(); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("reset conversation: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset", "conversation": req.Conversation})
}
