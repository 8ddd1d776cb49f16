package noop

import (
	"context"

	"agent-trading-bot/internal/interfaces"
	"agent-trading-bot/internal/types"
)

// Decider is a fallback decider used when no LLM provider is configured.
type Decider struct{}

var _ interfaces.Decider = (*Decider)(nil)

// NewDecider returns a new instance that always decides HOLD.
func NewDecider() *Decider {
	return &Decider{}
}

// Decide implements the Decider interface. It always returns HOLD with 0 confidence.
func (d *Decider) Decide(ctx context.Context, symbol string, contextData map[string]any) (types.Decision, error) {
	return types.Decision{
		Action:     "HOLD",
		Reason:     "noop_decider_fallback",
		Confidence: 0.0,
	}, nil
}
