package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"agent-trading-bot/internal/interfaces"
	"agent-trading-bot/internal/llm/keypool"
	"agent-trading-bot/internal/logger"
	"agent-trading-bot/internal/store"
	"agent-trading-bot/internal/trace"
	"agent-trading-bot/internal/usagelog"

	"github.com/google/uuid"
)

func main() {
	if err := initializeSystem(); err != nil {
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := loadConfig(ctx)
	if err != nil {
		os.Exit(1)
	}

	compressOldLogs(ctx)

	if cfg.Mode == "DRY_RUN" {
		logger.Warn(ctx, "Running in DRY_RUN mode - orders will be simulated")
	}

	pool, err := initializePool(ctx, cfg)
	if err != nil {
		os.Exit(1)
	}
	coordinator := initializeCoordinator(cfg)
	decider := initializeDecider(ctx, cfg, pool)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	tick := time.NewTicker(time.Duration(cfg.PollSeconds) * time.Second)
	defer tick.Stop()

	logger.Info(ctx, "Bot started",
		"mode", cfg.Mode,
		"provider", cfg.LLM.Provider,
		"universe", len(cfg.UniverseStatic),
		"poll_seconds", cfg.PollSeconds,
	)

	for {
		select {
		case <-tick.C:
			runWorkflowUnit(ctx, cfg, pool, coordinator, decider)
		case <-sigc:
			logger.Info(ctx, "Shutting down...")
			shutdownCtx, sdCancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = trace.Shutdown(shutdownCtx)
			sdCancel()
			return
		case <-ctx.Done():
			return
		}
	}
}

// runWorkflowUnit runs one full decision pass over the universe: admission
// gate, batch quota reservation, then one decision per symbol on the
// reserved connection.
func runWorkflowUnit(
	ctx context.Context,
	cfg *store.Config,
	pool interfaces.ConnectionSource,
	coordinator *keypool.Coordinator,
	decider interfaces.Decider,
) {
	if !coordinator.CanStartUnit() {
		llm, broker := coordinator.Usage()
		logger.Admission(ctx, false, "llm_rpm", llm, "broker_rpm", broker)
		return
	}
	logger.Admission(ctx, true)

	unitID := uuid.New().String()
	unitDecider := decider
	maskedKey, model, tier := "", cfg.LLM.Model, ""

	if pool != nil {
		estimated := cfg.LLM.WorkflowCalls
		if n := len(cfg.UniverseStatic); n > estimated {
			estimated = n
		}

		conn, err := pool.Reserve(ctx, estimated, cfg.LLM.Model)
		if err != nil {
			var qe *keypool.QuotaExhaustedError
			if errors.As(err, &qe) {
				logger.Warn(ctx, "Quota exhausted - skipping this pass",
					"calls", qe.Calls, "tier", qe.Tier.String(), "available", qe.Available)
			} else {
				logger.ErrorWithErr(ctx, "Reservation failed - skipping this pass", err)
			}
			return
		}

		maskedKey = conn.Key.Masked()
		model = conn.Model
		tier = keypool.TierOf(conn.Model).String()

		if cb, ok := decider.(interfaces.ConnectionBound); ok {
			unitDecider = cb.WithConnection(conn)
		}
	}

	for _, sym := range cfg.UniverseStatic {
		decision, err := unitDecider.Decide(ctx, sym, map[string]any{
			"mode": cfg.Mode,
		})
		coordinator.RecordLLMCalls(1)

		entry := usagelog.Entry{
			Credential: maskedKey,
			Model:      model,
			Tier:       tier,
			Outcome:    "success",
			Extra:      map[string]any{"symbol": sym, "unit_id": unitID},
		}
		if err != nil {
			entry.Outcome = "failure"
			entry.Error = err.Error()
			logger.ErrorWithErr(ctx, "Decision failed", err, "symbol", sym)
		} else {
			entry.Extra["action"] = decision.Action
			entry.Extra["confidence"] = decision.Confidence
		}
		if logErr := usagelog.Append(entry); logErr != nil {
			logger.Warn(ctx, "Failed to append usage log", "error", logErr)
		}
	}
}
