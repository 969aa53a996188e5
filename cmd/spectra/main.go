// Spectra orchestrator server. Exposes the query API, runs the master
// agent and holds the daemon control plane.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/spectra-assist/spectra/pkg/api"
	"github.com/spectra-assist/spectra/pkg/config"
	"github.com/spectra-assist/spectra/pkg/database"
	"github.com/spectra-assist/spectra/pkg/llm"
	"github.com/spectra-assist/spectra/pkg/masteragent"
	"github.com/spectra-assist/spectra/pkg/registry"
	"github.com/spectra-assist/spectra/pkg/services"
	"github.com/spectra-assist/spectra/pkg/version"
)

func main() {
	envFile := flag.String("env-file", ".env", "Path to .env file")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", *envFile, "error", err)
	}

	slog.Info("Starting spectra server", "version", version.Full())

	ctx := context.Background()

	// 1. Load configuration
	cfg, err := config.LoadServer()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// 2. Connect to MongoDB
	dbClient, err := database.NewClient(ctx, database.Config{
		URI:      cfg.MongoURI,
		Database: cfg.MongoDatabase,
	})
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(ctx); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to MongoDB", "database", cfg.MongoDatabase)

	// 3. Domain services
	agentService := services.NewSubAgentService(dbClient)
	taskService := services.NewTaskService(dbClient)
	conversationService := services.NewConversationService(dbClient, cfg.ConversationTTL)
	slog.Info("Services initialized")

	// 4. Daemon registry
	reg := registry.New(agentService, registry.Config{
		HeartbeatPeriod:  cfg.HeartbeatPeriod,
		MaxAgentsPerUser: cfg.MaxAgentsPerUser,
		KillGrace:        cfg.KillGrace,
	})

	// 5. LLM clients and master agent
	planner := llm.NewPlanner(cfg.AnthropicAPIKey)
	synthesizer := llm.NewSynthesizer(cfg.AnthropicAPIKey)
	master := masteragent.New(taskService, conversationService, agentService,
		reg, planner, synthesizer, masteragent.Options{
			Budgets: masteragent.Budgets{
				Task:      cfg.TaskBudget,
				Planner:   cfg.PlannerTimeout,
				ToolCall:  cfg.ToolCallTimeout,
				Synthesis: cfg.SynthesisTimeout,
			},
			QueryMaxLen: cfg.QueryMaxLen,
		})
	slog.Info("Master agent initialized")

	// 6. HTTP server (non-blocking)
	httpServer := api.NewServer(master, reg, agentService, dbClient, cfg.DaemonSharedSecret)
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Port)
		if err := httpServer.Start(cfg.Port); err != nil {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Spectra started successfully")

	// 7. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 8. Graceful shutdown: stop accepting requests, then close the DB.
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
