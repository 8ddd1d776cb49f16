package keypool

import (
	"context"
	"errors"
	"sync"
	"time"

	"agent-trading-bot/internal/interfaces"
	"agent-trading-bot/internal/logger"
	"agent-trading-bot/internal/trace"
	"agent-trading-bot/internal/types"
)

// probeOutcome steers the selection cascade after one probe attempt.
type probeOutcome int

const (
	outcomeAdmitted    probeOutcome = iota // probe succeeded, pair is usable
	outcomeRateLimited                     // 401/403/429: abandon this credential for the cycle
	outcomeTransient                       // other provider error: try the next model
	outcomeUnexpected                      // transport or unknown failure: abandon the credential
)

func classifyProbe(err error) probeOutcome {
	if err == nil {
		return outcomeAdmitted
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		if pe.AuthOrRateLimited() {
			return outcomeRateLimited
		}
		return outcomeTransient
	}
	return outcomeUnexpected
}

// Selector cascades through eligible credentials and tier-ordered models,
// probing each pair until one works.
type Selector struct {
	// mu serializes whole selection attempts, including the probe and any
	// waits. The pool points the selector and the reserver at one shared
	// mutex so a reservation can never interleave with an in-flight
	// attempt and overshoot a window.
	mu *sync.Mutex

	prober    interfaces.Prober
	catalog   *Catalog
	windows   *UsageWindows
	health    *HealthTracker
	threshold float64
	maxCycles int
	poolWait  time.Duration // wait when no credential is eligible
	cycleWait time.Duration // wait after a full cycle found nothing

	sleep func(ctx context.Context, d time.Duration) error
}

func NewSelector(
	prober interfaces.Prober,
	catalog *Catalog,
	windows *UsageWindows,
	health *HealthTracker,
	threshold float64,
	maxCycles int,
	poolWait, cycleWait time.Duration,
) *Selector {
	return &Selector{
		mu:        &sync.Mutex{},
		prober:    prober,
		catalog:   catalog,
		windows:   windows,
		health:    health,
		threshold: threshold,
		maxCycles: maxCycles,
		poolWait:  poolWait,
		cycleWait: cycleWait,
		sleep:     sleepCtx,
	}
}

// Connect runs the bounded selection state machine and returns a validated
// connection, or an ExhaustedError carrying the last underlying failure.
//
// Within one attempt, credentials are tried in health-score-descending order
// and models in tier-preference order; the cheap tier is exhausted before the
// capable one, never round-robin.
func (s *Selector) Connect(ctx context.Context, explicitModel string) (types.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	models := s.candidateModels(explicitModel)

	var lastErr error
	for cycle := 1; cycle <= s.maxCycles; cycle++ {
		candidates := s.health.Eligible(s.threshold)
		if len(candidates) == 0 {
			logger.Debug(ctx, "No eligible credentials - waiting for backoffs to expire",
				"cycle", cycle, "wait", s.poolWait.String())
			if err := s.sleep(ctx, s.poolWait); err != nil {
				return types.Connection{}, err
			}
			continue
		}

	credentials:
		for _, key := range candidates {
			for _, model := range models {
				tier := TierOf(model)

				wait, satisfiable := s.windows.WaitTime(key, tier)
				if !satisfiable {
					// Day window full: waiting will not help this pair.
					continue
				}
				if wait > 0 {
					logger.Debug(ctx, "Minute window full - waiting",
						"credential", key.Masked(), "model", model, "wait", wait.String())
					if err := s.sleep(ctx, wait); err != nil {
						return types.Connection{}, err
					}
				}

				err := s.probe(ctx, key, model)
				switch classifyProbe(err) {
				case outcomeAdmitted:
					s.health.RecordSuccess(key)
					s.windows.Record(key, tier)
					logger.Selection(ctx, key.Masked(), model, cycle, "tier", tier.String())
					return types.Connection{Key: key, Model: model}, nil

				case outcomeRateLimited:
					lastErr = err
					until, failures := s.health.RecordFailure(key)
					logger.Backoff(ctx, key.Masked(), until, failures, "model", model)
					continue credentials

				case outcomeTransient:
					lastErr = err
					s.health.RecordFailure(key)
					logger.Warn(ctx, "Probe failed - trying next model",
						"credential", key.Masked(), "model", model, "error", err)
					continue

				default:
					lastErr = err
					until, failures := s.health.RecordFailure(key)
					logger.Backoff(ctx, key.Masked(), until, failures, "model", model, "error", err)
					continue credentials
				}
			}
		}

		logger.Warn(ctx, "All candidates exhausted this cycle",
			"cycle", cycle, "candidates", len(candidates), "wait", s.cycleWait.String())
		if err := s.sleep(ctx, s.cycleWait); err != nil {
			return types.Connection{}, err
		}
	}

	return types.Connection{}, &ExhaustedError{Cycles: s.maxCycles, LastErr: lastErr}
}

// candidateModels returns the models to try in order: either the single
// explicit model, or every catalog model across tiers in preference order.
func (s *Selector) candidateModels(explicitModel string) []string {
	if explicitModel != "" {
		return []string{explicitModel}
	}
	var models []string
	for _, t := range s.catalog.Tiers() {
		models = append(models, s.catalog.Models(t)...)
	}
	return models
}

func (s *Selector) probe(ctx context.Context, key types.Credential, model string) error {
	ctx, span := trace.StartSpan(ctx, "llm.probe")
	defer span.End()
	return s.prober.Probe(ctx, key, model)
}
