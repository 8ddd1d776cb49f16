package interfaces

import (
	"context"

	"agent-trading-bot/internal/types"
)

// Prober validates that a (credential, model) pair currently works by making
// one minimal real call to the upstream provider.
type Prober interface {
	Probe(ctx context.Context, key types.Credential, model string) error
}

// ModelLister supplies the current model identifiers available upstream.
// Discovery is advisory: callers must tolerate errors and keep whatever
// model lists they already have.
type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// ConnectionSource hands out working (credential, model) pairs within quota.
//
// After using a returned connection for a real call outside the probe path,
// callers should report the outcome back so health state stays accurate.
// Omitting the report degrades future selection quality but never corrupts
// quota accounting.
type ConnectionSource interface {
	// Connect cascades through eligible credentials and tiers, probes the
	// chosen pair, and returns a usable connection.
	Connect(ctx context.Context, explicitModel string) (types.Connection, error)

	// Reserve atomically pre-books quota headroom for estimatedCalls
	// anticipated calls and returns the (credential, model) pair the quota
	// was booked against. No probe is performed.
	Reserve(ctx context.Context, estimatedCalls int, explicitModel string) (types.Connection, error)

	ReportSuccess(key types.Credential)
	ReportFailure(key types.Credential)
}
