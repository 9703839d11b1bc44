// Package main is the AgentFlow server: the workflow execution engine,
// collaboration hub, and HTTP/WebSocket API in one binary.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/agentflow/agentflow/internal/agents"
	"github.com/agentflow/agentflow/internal/api"
	"github.com/agentflow/agentflow/internal/auth"
	"github.com/agentflow/agentflow/internal/collab"
	"github.com/agentflow/agentflow/internal/common/config"
	"github.com/agentflow/agentflow/internal/common/logger"
	"github.com/agentflow/agentflow/internal/engine"
	"github.com/agentflow/agentflow/internal/events"
	"github.com/agentflow/agentflow/internal/workflow"
	"github.com/agentflow/agentflow/internal/workflow/validator"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	logger.SetDefault(log)

	log.Info("starting agentflow",
		zap.String("addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Event bus: NATS when configured, in-memory otherwise.
	providedBus, busCleanup, err := events.Provide(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize event bus", zap.Error(err))
	}
	defer func() { _ = busCleanup() }()

	// Metadata store.
	st, storeCleanup, err := workflow.ProvideStore(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to initialize metadata store", zap.Error(err))
	}
	defer func() { _ = storeCleanup() }()

	// Agent registry with the built-in seven.
	deps := agents.BuiltinDeps{SMTP: cfg.SMTP}
	if llm := agents.NewOpenAIClient(cfg.LLM); llm != nil {
		deps.LLM = llm
	} else {
		log.Warn("no LLM API key configured, text generation agent disabled")
	}
	registry, err := agents.NewDefaultRegistry(deps)
	if err != nil {
		log.Fatal("failed to build agent registry", zap.Error(err))
	}

	// Execution engine.
	eng := engine.New(cfg.Engine, st, registry, providedBus.Bus, log)
	eng.Start()

	// Collaboration hub fed by engine progress events.
	hub := collab.NewHub(providedBus.Bus, cfg.WebSocket.MaxConnectionsPerUser, log)
	if err := hub.Start(); err != nil {
		log.Fatal("failed to start collaboration hub", zap.Error(err))
	}

	tokens := auth.NewTokenService(cfg.Auth)
	handler := api.NewHandler(st, eng, validator.New(registry), registry, log)
	wsHandler := collab.NewHandler(hub, cfg.WebSocket, log)
	router := api.NewRouter(handler, wsHandler, tokens, log)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()
	log.Info("agentflow ready")

	// Graceful shutdown on SIGINT/SIGTERM.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown failed", zap.Error(err))
	}
	hub.Stop()
	if err := eng.Stop(shutdownCtx); err != nil {
		log.Error("engine shutdown failed", zap.Error(err))
	}
	log.Info("agentflow stopped")
}
