package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"agent-trading-bot/internal/interfaces"
	"agent-trading-bot/internal/llm/gemini"
	"agent-trading-bot/internal/llm/keypool"
	"agent-trading-bot/internal/llm/llmobs"
	"agent-trading-bot/internal/llm/noop"
	"agent-trading-bot/internal/logger"
	"agent-trading-bot/internal/store"
	"agent-trading-bot/internal/trace"
	"agent-trading-bot/internal/types"
	"agent-trading-bot/internal/usagelog"

	"github.com/joho/godotenv"
)

// initializeSystem initializes environment, logger, and tracer
func initializeSystem() error {
	// Load environment variables
	_ = godotenv.Load()

	// Initialize logger
	if err := logger.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	// Initialize tracer
	if err := trace.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize tracer: %v\n", err)
	}

	return nil
}

// loadConfig loads and returns the configuration
func loadConfig(ctx context.Context) (*store.Config, error) {
	cfg, err := store.LoadConfig("config.yaml")
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to load config", err)
		return nil, err
	}
	return cfg, nil
}

// compressOldLogs compresses old usage log files if retention is configured
func compressOldLogs(ctx context.Context) {
	if v := os.Getenv("TRADER_LOG_RETENTION_DAYS"); v != "" {
		var n int
		fmt.Sscanf(v, "%d", &n)
		if err := usagelog.CompressOlder(n); err != nil {
			logger.Warn(ctx, "Failed to compress old logs", "error", err)
		}
	}
}

// initializePool builds the credential pool for the configured provider.
// Returns a nil pool for the NOOP provider.
func initializePool(ctx context.Context, cfg *store.Config) (interfaces.ConnectionSource, error) {
	if cfg.LLM.Provider != "GEMINI" {
		return nil, nil
	}

	keys, err := cfg.LoadCredentials()
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to load LLM credentials", err)
		return nil, err
	}
	credentials := make([]types.Credential, 0, len(keys))
	for _, k := range keys {
		credentials = append(credentials, types.Credential(k))
	}

	client := gemini.NewClient()

	var lister interfaces.ModelLister
	var refresh time.Duration
	if cfg.LLM.Discovery.Enabled {
		lister = gemini.NewLister(client, credentials[0])
		refresh = time.Duration(cfg.LLM.Discovery.RefreshMinutes) * time.Minute
	}

	pool, err := keypool.New(keypool.Config{
		Credentials:     credentials,
		HealthThreshold: cfg.LLM.HealthThreshold,
		MaxCycles:       cfg.LLM.MaxCycles,
		PoolWait:        time.Duration(cfg.LLM.PoolWaitSeconds) * time.Second,
		CycleWait:       time.Duration(cfg.LLM.CycleWaitSeconds) * time.Second,
		Limits: map[keypool.Tier]keypool.TierLimits{
			keypool.TierFlash: {RPM: cfg.Tiers.Flash.RPM, RPD: cfg.Tiers.Flash.RPD, TPM: cfg.Tiers.Flash.TPM},
			keypool.TierPro:   {RPM: cfg.Tiers.Pro.RPM, RPD: cfg.Tiers.Pro.RPD, TPM: cfg.Tiers.Pro.TPM},
		},
		DiscoveryInterval: refresh,
	}, client, lister)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to build credential pool", err)
		return nil, err
	}

	logger.Info(ctx, "Credential pool ready",
		"credentials", len(credentials),
		"discovery", cfg.LLM.Discovery.Enabled,
	)
	return pool, nil
}

// initializeCoordinator builds the advisory admission gate over the
// process-wide LLM and brokerage request rates.
func initializeCoordinator(cfg *store.Config) *keypool.Coordinator {
	return keypool.NewCoordinator(keypool.CoordinatorConfig{
		HeadroomPct:     cfg.Admission.HeadroomPct,
		LLMBudgetRPM:    cfg.Admission.LLMRPMBudget,
		BrokerBudgetRPM: cfg.Admission.BrokerRPMBudget,
		LLMUnitCalls:    cfg.Admission.LLMUnitCalls,
		BrokerUnitCalls: cfg.Admission.BrokerUnitCalls,
	})
}

// initializeDecider initializes and returns the LLM decider with observability
func initializeDecider(ctx context.Context, cfg *store.Config, pool interfaces.ConnectionSource) interfaces.Decider {
	var decider interfaces.Decider

	switch cfg.LLM.Provider {
	case "GEMINI":
		decider = gemini.NewDecider(pool, gemini.NewClient(), cfg)
	default:
		decider = noop.NewDecider()
		logger.Warn(ctx, "No LLM provider configured - using Noop decider (always HOLD)")
	}

	// Wrap with observability middleware
	return llmobs.Wrap(decider)
}
