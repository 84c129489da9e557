package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/yiliangbetter/openclaw/internal/bus"
	"github.com/yiliangbetter/openclaw/internal/config"
	"github.com/yiliangbetter/openclaw/internal/fallback"
	"github.com/yiliangbetter/openclaw/internal/gateway"
	"github.com/yiliangbetter/openclaw/internal/heartbeat"
	"github.com/yiliangbetter/openclaw/internal/providers"
	"github.com/yiliangbetter/openclaw/internal/sessions"
)

func runGateway() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("gateway: failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	msgBus := bus.NewMessageBus(256)
	store := sessions.NewStore(cfg.SessionsDir())

	ledgerPath := config.ExpandHome(cfg.Fallback.LedgerPath)
	if ledgerPath == "" {
		ledgerPath = filepath.Join(cfg.SessionsDir(), "cooldowns.json")
	}
	ledger := fallback.NewLedger(ledgerPath, fallback.Backoff{
		BaseHours:   cfg.Fallback.BackoffBaseHours,
		MaxHours:    cfg.Fallback.BackoffMaxHours,
		WindowHours: cfg.Fallback.FailureWindowHours,
	})
	coord := fallback.NewCoordinator(ledger)

	registry := providers.NewRegistry(cfg)
	if len(registry.Names()) == 0 {
		slog.Error("gateway: no providers configured, set OPENCLAW_ANTHROPIC_API_KEY or OPENCLAW_OPENAI_API_KEY")
		os.Exit(1)
	}
	executor := providers.NewExecutor(registry, filepath.Join(cfg.SessionsDir(), "transcripts"))

	dispatcher := gateway.NewDispatcher(cfg, msgBus, store, executor, coord)

	if cfg.Heartbeat.Enabled {
		runner, err := heartbeat.NewRunner(cfg.HeartbeatInterval(), cfg.Heartbeat.Cron, cfg.Heartbeat.Prompt, dispatcher.TriggerHeartbeat)
		if err != nil {
			slog.Error("gateway: heartbeat setup failed", "error", err)
			os.Exit(1)
		}
		go runner.Run(ctx)
	}

	slog.Info("gateway: started",
		"providers", registry.Names(),
		"sessions_dir", cfg.SessionsDir(),
		"heartbeat", cfg.Heartbeat.Enabled)

	dispatcher.Run(ctx)
	slog.Info("gateway: shutdown complete")
}
