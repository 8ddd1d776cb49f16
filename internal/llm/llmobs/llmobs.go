package llmobs

import (
	"context"

	"agent-trading-bot/internal/interfaces"
	"agent-trading-bot/internal/logger"
	"agent-trading-bot/internal/trace"
	"agent-trading-bot/internal/types"
)

// observableDecider wraps a Decider with observability (logging & tracing)
type observableDecider struct {
	decider interfaces.Decider
}

// Compile-time interface checks
var (
	_ interfaces.Decider         = (*observableDecider)(nil)
	_ interfaces.ConnectionBound = (*observableDecider)(nil)
)

// Wrap wraps a decider with observability middleware
func Wrap(decider interfaces.Decider) interfaces.Decider {
	return &observableDecider{
		decider: decider,
	}
}

// WithConnection forwards connection pinning to the wrapped decider when it
// supports it, keeping the observability layer in place.
func (od *observableDecider) WithConnection(conn types.Connection) interfaces.Decider {
	if cb, ok := od.decider.(interfaces.ConnectionBound); ok {
		return Wrap(cb.WithConnection(conn))
	}
	return od
}

// Decide makes a trading decision with observability
func (od *observableDecider) Decide(
	ctx context.Context,
	symbol string,
	contextData map[string]any,
) (types.Decision, error) {
	ctx, span := trace.StartSpan(ctx, "llm.Decide")
	defer span.End()

	// Use DebugSkip(1) to report the actual caller, not this middleware wrapper
	logger.DebugSkip(ctx, 1, "Requesting trading decision",
		"symbol", symbol,
	)

	decision, err := od.decider.Decide(ctx, symbol, contextData)
	if err != nil {
		// Use ErrorWithErrSkip(1) to report the actual caller
		logger.ErrorWithErrSkip(ctx, 1, "Failed to get trading decision", err,
			"symbol", symbol,
		)
		return types.Decision{}, err
	}

	// Log decision result - use InfoSkip(1) to report the actual caller
	logger.InfoSkip(ctx, 1, "Trading decision received",
		"symbol", symbol,
		"action", decision.Action,
		"reason", decision.Reason,
		"confidence", decision.Confidence,
	)

	return decision, nil
}
