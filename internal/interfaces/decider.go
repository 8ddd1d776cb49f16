package interfaces

import (
	"context"

	"agent-trading-bot/internal/types"
)

type Decider interface {
	Decide(ctx context.Context, symbol string, contextData map[string]any) (types.Decision, error)
}

// ConnectionBound is an optional Decider capability: a decider that can be
// pinned to a pre-reserved connection for the duration of one workflow batch,
// skipping per-call selection.
type ConnectionBound interface {
	WithConnection(conn types.Connection) Decider
}
