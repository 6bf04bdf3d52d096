// File path: cmd/shardchat/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ragworks/shardchat/internal/api"
	"github.com/ragworks/shardchat/internal/catalog"
	"github.com/ragworks/shardchat/internal/chat"
	"github.com/ragworks/shardchat/internal/common"
	ctxwindow "github.com/ragworks/shardchat/internal/context"
	"github.com/ragworks/shardchat/internal/history"
	"github.com/ragworks/shardchat/internal/ingest"
	"github.com/ragworks/shardchat/internal/llm"
	"github.com/ragworks/shardchat/internal/registry"
	"github.com/ragworks/shardchat/internal/splitter"
	"github.com/ragworks/shardchat/internal/token"
	"github.com/ragworks/shardchat/internal/vector"
)

func main() {
	logger := common.Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := godotenv.Load(); err != nil {
		logger.Warn("shardchat: .env file not loaded", "error", err)
	} else {
		logger.Info("shardchat: environment loaded from .env")
	}

	addr := flag.String("addr", ":8082", "listen address")
	dataDir := flag.String("data", defaultDataDir(), "root directory for conversations and databases")
	catalogPath := flag.String("catalog", "", "path to the SQLite catalog (defaults to <data>/catalog.db)")
	noCatalog := flag.Bool("no-catalog", false, "disable the SQLite catalog mirror")
	noVector := flag.Bool("no-vector", false, "disable the vector store (chat only)")
	chunkSize := flag.Int("chunk-size", 0, "chunk size in characters (0 uses defaults)")
	chunkOverlap := flag.Int("chunk-overlap", 0, "chunk overlap in characters (0 uses defaults)")
	batchSize := flag.Int("batch-size", 0, "chunks per vector shard (0 uses defaults)")
	flag.Parse()

	logger.Info("shardchat: startup initiated", "addr", *addr, "data", *dataDir)

	counter := token.NewCounter()

	historyCfg, err := history.LoadConfig()
	if err != nil {
		fatal(logger, "history config", err)
	}
	windowOpts, err := ctxwindow.LoadOptions()
	if err != nil {
		fatal(logger, "window config", err)
	}
	ingestCfg, err := ingest.LoadConfig()
	if err != nil {
		fatal(logger, "ingest config", err)
	}
	ingestCfg = ingestCfg.Merge(ingest.Config{ChunkSize: *chunkSize, ChunkOverlap: *chunkOverlap, BatchSize: *batchSize})

	var cat *catalog.Store
	if !*noCatalog {
		path := strings.TrimSpace(*catalogPath)
		if path == "" {
			path = filepath.Join(*dataDir, "catalog.db")
		}
		cat, err = catalog.Open(path)
		if err != nil {
			fatal(logger, "catalog", err)
		}
		defer cat.Close()
		logger.Info("shardchat: catalog ready", "path", path)
	}

	managerOpts := []history.ManagerOption{}
	registryOpts := []registry.Option{}
	if cat != nil {
		managerOpts = append(managerOpts, history.WithRecorder(cat))
		registryOpts = append(registryOpts, registry.WithMirror(cat))
	}

	manager, err := history.NewManager(filepath.Join(*dataDir, "conversations"), counter, historyCfg, managerOpts...)
	if err != nil {
		fatal(logger, "history manager", err)
	}
	reg, err := registry.NewRegistry(filepath.Join(*dataDir, "databases"), registryOpts...)
	if err != nil {
		fatal(logger, "shard registry", err)
	}

	provider := llm.NewProvider()
	logger.Info("shardchat: llm provider ready", "provider", provider.Name())

	var vectorStore vector.Store
	var pipeline *ingest.Pipeline
	if !*noVector {
		client, err := vector.NewFromEnv(ctx)
		if err != nil {
			fatal(logger, "vector client", err)
		}
		if client.Available() {
			logger.Info("shardchat: chromadb available")
		} else {
			logger.Warn("shardchat: chromadb unreachable, ingestion and search will fail until it is up")
		}
		vectorStore = client

		split := splitter.NewRecursive(ingestCfg.ChunkSize, ingestCfg.ChunkOverlap)
		pipeline, err = ingest.NewPipeline(split, vectorStore, reg, provider, ingestCfg)
		if err != nil {
			fatal(logger, "ingestion pipeline", err)
		}
	}

	builder, err := ctxwindow.NewBuilder(counter, windowOpts)
	if err != nil {
		fatal(logger, "window builder", err)
	}

	server, err := api.NewServer(api.Dependencies{
		Manager:  manager,
		Registry: reg,
		Catalog:  cat,
		Pipeline: pipeline,
		Builder:  builder,
		Provider: provider,
		Counter:  counter,
		Vector:   vectorStore,
		ChatCfg:  chat.DefaultConfig(),
	})
	if err != nil {
		fatal(logger, "server construction", err)
	}

	httpServer := &http.Server{Addr: *addr, Handler: server}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("shardchat: server listening", "addr", *addr, "health", "/healthz")
		fmt.Printf("Serving on %s\n", *addr)
		errCh <- httpServer.ListenAndServe()
	}()

	signalCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	select {
	case <-signalCtx.Done():
		logger.Info("shardchat: shutdown signal received")
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("shardchat: shutdown failed", "error", err)
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("shardchat: server stopped", "error", err)
			fmt.Println("server stopped:", err)
			os.Exit(1)
		}
	}
}

func defaultDataDir() string {
	return filepath.Join("data")
}

func fatal(logger interface {
	Error(msg string, args ...any)
}, stage string, err error) {
	logger.Error("shardchat: startup failed", "stage", stage, "error", err)
	fmt.Printf("%s error: %v\n", stage, err)
	os.Exit(1)
}
