// Command mcp runs the Relay MCP server over stdio.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/everyskill/relay/internal/config"
	"github.com/everyskill/relay/internal/mcpserver"
	"github.com/everyskill/relay/internal/repository"
	"github.com/everyskill/relay/internal/service"
	"github.com/everyskill/relay/internal/usage"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// stdout carries the protocol, so logs go to stderr.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(os.Getenv("LOG_LEVEL"))})).
		With("service", "relay-mcp")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.ValidateMCP(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}

	repo, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	keys := service.NewAPIKeyService(repo, nil, logger, cfg.IsProduction())
	identity, err := mcpserver.ResolveIdentity(ctx, cfg.RelayAPIKey, cfg.RelayUserID, cfg.RelayTenantID, keys)
	if err != nil {
		logger.Error("failed to resolve identity", "error", err)
		os.Exit(1)
	}

	usageRepo := repository.NewUsageRepository(repo)
	skills := service.NewSkillService(service.SkillDeps{
		Store:  repo,
		Usage:  usageRepo,
		Tx:     repo.TxManager(),
		Logger: logger,
	})

	srv := mcpserver.New(mcpserver.Deps{
		Identity: identity,
		Skills:   skills,
		Tracker:  usage.NewDirectTracker(usageRepo, repo.TxManager(), logger),
		Logger:   logger,
		Version:  version,
	})

	logger.Info("serving MCP over stdio", "tenant_id", identity.TenantID, "user_id", identity.UserID)
	if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		logger.Error("mcp server stopped", "error", err)
		os.Exit(1)
	}
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
