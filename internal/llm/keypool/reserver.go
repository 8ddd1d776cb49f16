package keypool

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"agent-trading-bot/internal/logger"
	"agent-trading-bot/internal/types"
)

// ReservationRequest asks for quota headroom for a known number of
// anticipated calls, optionally pinned to one explicit model.
type ReservationRequest struct {
	EstimatedCalls int
	Model          string
}

// Reservation is an atomically pre-booked quota allocation.
type Reservation struct {
	ID    string
	Conn  types.Connection
	Tier  Tier
	Calls int
}

// Reserver finds and atomically books headroom across the
// (credential x tier) space. Booking all N anticipated calls up front avoids
// the race where several workflows each see "room for one more" and jointly
// overshoot the limit.
type Reserver struct {
	// mu serializes the whole scan, waits included. The pool shares this
	// mutex with the selector.
	mu *sync.Mutex

	catalog   *Catalog
	windows   *UsageWindows
	health    *HealthTracker
	threshold float64
	sleep     func(ctx context.Context, d time.Duration) error
}

func NewReserver(catalog *Catalog, windows *UsageWindows, health *HealthTracker, threshold float64) *Reserver {
	return &Reserver{
		mu:        &sync.Mutex{},
		catalog:   catalog,
		windows:   windows,
		health:    health,
		threshold: threshold,
		sleep:     sleepCtx,
	}
}

type reserveScope struct {
	tier  Tier
	model string
}

// Reserve books headroom for the request and returns the reservation, or a
// QuotaExhaustedError naming the tightest limiting tier when no pair fits.
func (r *Reserver) Reserve(ctx context.Context, req ReservationRequest) (Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	calls := req.EstimatedCalls
	if calls <= 0 {
		calls = 1
	}

	// An explicit model restricts the search to its own tier; otherwise
	// tiers are scanned in preference order using each tier's first model.
	var scopes []reserveScope
	if req.Model != "" {
		scopes = []reserveScope{{TierOf(req.Model), req.Model}}
	} else {
		for _, t := range r.catalog.Tiers() {
			scopes = append(scopes, reserveScope{t, r.catalog.Models(t)[0]})
		}
	}

	bestAvail := -1
	bestTier := scopes[0].tier

	for _, key := range r.health.Eligible(r.threshold) {
		for _, sc := range scopes {
			if res, ok := r.tryReserve(ctx, key, sc, calls); ok {
				return res, nil
			}
			if avail := r.windows.Headroom(key, sc.tier); avail > bestAvail {
				bestAvail = avail
				bestTier = sc.tier
			}
		}
	}

	if bestAvail < 0 {
		bestAvail = 0
	}
	return Reservation{}, &QuotaExhaustedError{Calls: calls, Tier: bestTier, Available: bestAvail}
}

// tryReserve attempts one (credential, tier) pair. When only the minute
// window blocks, it waits out the oldest entry once and re-checks before
// giving up on the pair.
func (r *Reserver) tryReserve(ctx context.Context, key types.Credential, sc reserveScope, calls int) (Reservation, bool) {
	if r.windows.ReserveN(key, sc.tier, calls) {
		return r.booked(ctx, key, sc, calls), true
	}

	wait, ok := r.windows.WaitTime(key, sc.tier)
	if !ok || wait <= 0 {
		return Reservation{}, false
	}
	if err := r.sleep(ctx, wait); err != nil {
		return Reservation{}, false
	}
	if r.windows.ReserveN(key, sc.tier, calls) {
		return r.booked(ctx, key, sc, calls), true
	}
	return Reservation{}, false
}

func (r *Reserver) booked(ctx context.Context, key types.Credential, sc reserveScope, calls int) Reservation {
	res := Reservation{
		ID:    uuid.New().String(),
		Conn:  types.Connection{Key: key, Model: sc.model},
		Tier:  sc.tier,
		Calls: calls,
	}
	logger.Debug(ctx, "Quota reserved",
		"reservation_id", res.ID,
		"credential", key.Masked(),
		"model", sc.model,
		"tier", sc.tier.String(),
		"calls", calls,
	)
	return res
}

// sleepCtx sleeps for d or until the context is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
