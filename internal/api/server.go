// File path: internal/api/server.go
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	chi "github.com/go-chi/chi/v5"

	"github.com/ragworks/shardchat/internal/catalog"
	"github.com/ragworks/shardchat/internal/chat"
	"github.com/ragworks/shardchat/internal/common"
	ctxwindow "github.com/ragworks/shardchat/internal/context"
	"github.com/ragworks/shardchat/internal/history"
	"github.com/ragworks/shardchat/internal/ingest"
	"github.com/ragworks/shardchat/internal/llm"
	"github.com/ragworks/shardchat/internal/registry"
	"github.com/ragworks/shardchat/internal/retriever"
	"github.com/ragworks/shardchat/internal/token"
	"github.com/ragworks/shardchat/internal/vector"
)

// Dependencies wires the assembled subsystems into the HTTP server.
type Dependencies struct {
	Manager  *history.Manager
	Registry *registry.Registry
	Catalog  *catalog.Store
	Pipeline *ingest.Pipeline
	Builder  *ctxwindow.Builder
	Provider llm.Provider
	Counter  token.Counter
	Vector   vector.Store
	ChatCfg  chat.Config
}

// Server exposes the conversational and retrieval operations over HTTP.
type Server struct {
	router   chi.Router
	manager  *history.Manager
	registry *registry.Registry
	catalog  *catalog.Store
	pipeline *ingest.Pipeline
	builder  *ctxwindow.Builder
	provider llm.Provider
	counter  token.Counter
	vector   vector.Store
	chatCfg  chat.Config

	mu     sync.Mutex
	stores map[string]*history.Store
}

func NewServer(deps Dependencies) (*Server, error) {
	if deps.Manager == nil {
		return nil, fmt.Errorf("history manager required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("shard registry required")
	}
	if deps.Builder == nil {
		return nil, fmt.Errorf("window builder required")
	}
	if deps.Provider == nil {
		return nil, fmt.Errorf("llm provider required")
	}
	if deps.Counter == nil {
		return nil, fmt.Errorf("token counter required")
	}
	server := &Server{
		router:   chi.NewRouter(),
		manager:  deps.Manager,
		registry: deps.Registry,
		catalog:  deps.Catalog,
		pipeline: deps.Pipeline,
		builder:  deps.Builder,
		provider: deps.Provider,
		counter:  deps.Counter,
		vector:   deps.Vector,
		chatCfg:  deps.ChatCfg,
		stores:   make(map[string]*history.Store),
	}
	server.routes()
	return server, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	logger := common.Logger()
	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug("api: request handled", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
		})
	})
	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/api/health", s.handleHealth)
	s.router.Post("/api/chat", s.handleChat)
	s.router.Post("/api/chat/reset", s.handleChatReset)
	s.router.Get("/api/conversations", s.handleConversations)
	s.router.Post("/api/conversations", s.handleConversationCreate)
	s.router.Get("/api/conversations/{name}/history", s.handleConversationHistory)
	s.router.Delete("/api/conversations/{name}", s.handleConversationDelete)
	s.router.Post("/api/ingest", s.handleIngest)
	s.router.Get("/api/search", s.handleSearch)
	s.router.Get("/api/databases", s.handleDatabases)
	s.router.Delete("/api/databases/{name}", s.handleDatabaseDelete)
	s.router.Get("/api/logs", s.handleLogs)
}

// store returns the cached per-conversation history store so all requests
// for one conversation share a single writer.
func (s *Server) store(r *http.Request, conversation string) (*history.Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if store, ok := s.stores[conversation]; ok {
		return store, nil
	}
	store, err := s.manager.Ensure(r.Context(), conversation)
	if err != nil {
		return nil, err
	}
	s.stores[conversation] = store
	return store, nil
}

func (s *Server) forgetStore(conversation string) {
	s.mu.Lock()
	delete(s.stores, conversation)
	s.mu.Unlock()
}

// session assembles a chat session for the conversation, attaching a
// retriever over the requested database (or the most recent one).
func (s *Server) session(r *http.Request, conversation, database string) (*chat.Session, error) {
	store, err := s.store(r, conversation)
	if err != nil {
		return nil, err
	}
	opts := []chat.SessionOption{}
	if s.vector != nil {
		db, err := s.selectDatabase(r, database)
		if err != nil && !errors.Is(err, registry.ErrNotFound) {
			return nil, err
		}
		if db != nil {
			retr, err := retriever.New(s.vector, s.provider, db)
			if err != nil {
				return nil, err
			}
			opts = append(opts, chat.WithRetriever(retr))
		}
	}
	return chat.NewSession(store, s.builder, s.provider, s.counter, s.chatCfg, opts...)
}

func (s *Server) selectDatabase(r *http.Request, name string) (*registry.Database, error) {
	if name != "" {
		return s.registry.LoadDatabase(r.Context(), name)
	}
	return s.registry.Latest(r.Context())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":           "ok",
		"provider":         s.provider.Name(),
		"vector_available": s.vector != nil && s.vector.Available(),
	})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"logs": common.LogEntries()})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	logger := common.Logger()
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "status", status, "error", err)
	} else {
		logger.Warn("request failed", "status", status, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
