package keypool

import (
	"context"
	"sync"
	"time"

	"agent-trading-bot/internal/interfaces"
	"agent-trading-bot/internal/types"
)

// Config wires a Pool. Zero durations and thresholds get sensible defaults.
type Config struct {
	Credentials     []types.Credential
	HealthThreshold float64
	MaxCycles       int
	PoolWait        time.Duration
	CycleWait       time.Duration

	// Limits overrides per-tier quota budgets; missing tiers use defaults.
	Limits map[Tier]TierLimits

	// DiscoveryInterval enables periodic model discovery when > 0 and a
	// lister is supplied to New.
	DiscoveryInterval time.Duration
}

// Pool is the credential pool facade: one catalog, one set of usage windows,
// one health tracker, shared by the selector and the reserver.
type Pool struct {
	catalog  *Catalog
	windows  *UsageWindows
	health   *HealthTracker
	selector *Selector
	reserver *Reserver
}

var _ interfaces.ConnectionSource = (*Pool)(nil)

// New builds a Pool around the given prober. lister may be nil; it is only
// used when cfg.DiscoveryInterval is positive.
func New(cfg Config, prober interfaces.Prober, lister interfaces.ModelLister) (*Pool, error) {
	if len(cfg.Credentials) == 0 {
		return nil, ErrNoCredentials
	}
	if cfg.HealthThreshold <= 0 {
		cfg.HealthThreshold = 0.3
	}
	if cfg.MaxCycles <= 0 {
		cfg.MaxCycles = 3
	}
	if cfg.PoolWait <= 0 {
		cfg.PoolWait = 10 * time.Second
	}
	if cfg.CycleWait <= 0 {
		cfg.CycleWait = 60 * time.Second
	}

	catalog := NewCatalog(cfg.Limits)
	if lister != nil && cfg.DiscoveryInterval > 0 {
		catalog.SetLister(lister, cfg.DiscoveryInterval)
	}

	windows := NewUsageWindows(catalog.Limits)
	health := NewHealthTracker(cfg.Credentials)

	selector := NewSelector(prober, catalog, windows, health,
		cfg.HealthThreshold, cfg.MaxCycles, cfg.PoolWait, cfg.CycleWait)
	reserver := NewReserver(catalog, windows, health, cfg.HealthThreshold)

	// One gate across both acquisition paths: a selection attempt holds it
	// through its probe, so reservations cannot slip in between its quota
	// check and the post-probe recording.
	gate := &sync.Mutex{}
	selector.mu = gate
	reserver.mu = gate

	return &Pool{
		catalog:  catalog,
		windows:  windows,
		health:   health,
		selector: selector,
		reserver: reserver,
	}, nil
}

// Connect returns a probed, in-quota (credential, model) pair.
func (p *Pool) Connect(ctx context.Context, explicitModel string) (types.Connection, error) {
	p.catalog.MaybeRefresh(ctx)
	return p.selector.Connect(ctx, explicitModel)
}

// Reserve atomically books quota for estimatedCalls anticipated calls.
func (p *Pool) Reserve(ctx context.Context, estimatedCalls int, explicitModel string) (types.Connection, error) {
	p.catalog.MaybeRefresh(ctx)
	res, err := p.reserver.Reserve(ctx, ReservationRequest{
		EstimatedCalls: estimatedCalls,
		Model:          explicitModel,
	})
	if err != nil {
		return types.Connection{}, err
	}
	return res.Conn, nil
}

// ReportSuccess records a successful real call made on a connection from
// this pool.
func (p *Pool) ReportSuccess(key types.Credential) {
	p.health.RecordSuccess(key)
}

// ReportFailure records a failed real call made on a connection from this
// pool.
func (p *Pool) ReportFailure(key types.Credential) {
	p.health.RecordFailure(key)
}

// Health exposes a point-in-time health snapshot for one credential.
func (p *Pool) Health(key types.Credential) HealthRecord {
	return p.health.Snapshot(key)
}

// Usage exposes the pruned minute and day counts for one pair.
func (p *Pool) Usage(key types.Credential, tier Tier) (minute, day int) {
	return p.windows.Counts(key, tier)
}
