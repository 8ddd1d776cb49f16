package keypool

import (
	"context"
	"strings"
	"sync"
	"time"

	"agent-trading-bot/internal/interfaces"
	"agent-trading-bot/internal/logger"
)

// Tier is a quota class for upstream models. Tiers are totally ordered by
// preference: the cheap high-quota tier is always tried before the capable
// low-quota one.
type Tier int

const (
	TierFlash Tier = iota // high-quota, tried first
	TierPro               // low-quota, capable fallback
)

func (t Tier) String() string {
	switch t {
	case TierFlash:
		return "flash"
	case TierPro:
		return "pro"
	default:
		return "unknown"
	}
}

// TierLimits are the fixed per-tier request budgets.
type TierLimits struct {
	RPM int // requests per minute
	RPD int // requests per day
	TPM int // tokens per minute
}

// TierOf classifies a model identifier into exactly one tier. Pure function.
func TierOf(model string) Tier {
	m := strings.ToLower(model)
	if strings.Contains(m, "flash") || strings.Contains(m, "fast") {
		return TierFlash
	}
	return TierPro
}

var tierOrder = []Tier{TierFlash, TierPro}

// DefaultLimits are the published Gemini free-tier budgets.
var DefaultLimits = map[Tier]TierLimits{
	TierFlash: {RPM: 10, RPD: 250, TPM: 250000},
	TierPro:   {RPM: 5, RPD: 100, TPM: 250000},
}

var defaultModels = map[Tier][]string{
	TierFlash: {"gemini-2.0-flash"},
	TierPro:   {"gemini-2.5-pro"},
}

// Catalog holds the per-tier model lists and quota limits. Model lists may be
// refreshed from upstream through an optional ModelLister; refresh failures
// keep the previous lists.
type Catalog struct {
	mu     sync.RWMutex
	limits map[Tier]TierLimits
	models map[Tier][]string

	lister       interfaces.ModelLister
	refreshEvery time.Duration
	lastRefresh  time.Time

	now func() time.Time
}

// NewCatalog creates a catalog with the given limits. Tiers missing from the
// map fall back to DefaultLimits.
func NewCatalog(limits map[Tier]TierLimits) *Catalog {
	merged := make(map[Tier]TierLimits, len(tierOrder))
	for _, t := range tierOrder {
		if l, ok := limits[t]; ok {
			merged[t] = l
		} else {
			merged[t] = DefaultLimits[t]
		}
	}
	return &Catalog{
		limits: merged,
		models: map[Tier][]string{},
		now:    time.Now,
	}
}

// SetLister attaches an optional dynamic model discovery collaborator with
// the given cache interval.
func (c *Catalog) SetLister(lister interfaces.ModelLister, refreshEvery time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lister = lister
	c.refreshEvery = refreshEvery
}

// Tiers returns the tiers in preference order.
func (c *Catalog) Tiers() []Tier {
	return append([]Tier(nil), tierOrder...)
}

// Limits returns the quota limits for a tier.
func (c *Catalog) Limits(t Tier) TierLimits {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.limits[t]
}

// Models returns the model identifiers for a tier, never empty: when no
// discovered list exists the static default for the tier is returned.
func (c *Catalog) Models(t Tier) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if models := c.models[t]; len(models) > 0 {
		return append([]string(nil), models...)
	}
	return append([]string(nil), defaultModels[t]...)
}

// MaybeRefresh refreshes the per-tier model lists from upstream if a lister
// is attached and the cache interval has elapsed. Discovery failure is never
// fatal: the previous lists (or static defaults) stay in effect.
func (c *Catalog) MaybeRefresh(ctx context.Context) {
	c.mu.RLock()
	lister := c.lister
	due := lister != nil && c.now().Sub(c.lastRefresh) >= c.refreshEvery
	c.mu.RUnlock()
	if !due {
		return
	}

	names, err := lister.ListModels(ctx)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastRefresh = c.now()
	if err != nil {
		logger.Warn(ctx, "Model discovery failed - keeping previous model lists", "error", err)
		return
	}

	discovered := map[Tier][]string{}
	for _, name := range names {
		tier := TierOf(name)
		discovered[tier] = append(discovered[tier], name)
	}
	for _, t := range tierOrder {
		if len(discovered[t]) > 0 {
			c.models[t] = discovered[t]
		}
	}
	logger.Debug(ctx, "Model discovery refreshed",
		"flash_models", len(discovered[TierFlash]),
		"pro_models", len(discovered[TierPro]),
	)
}
