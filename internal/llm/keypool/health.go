package keypool

import (
	"sort"
	"sync"
	"time"

	"agent-trading-bot/internal/types"
)

// maxBackoff caps the per-credential failure backoff.
const maxBackoff = 60 * time.Second

// HealthRecord is a point-in-time copy of one credential's health state.
type HealthRecord struct {
	Successes    int
	Failures     int
	LastUsed     time.Time
	BackoffUntil time.Time
}

type healthRecord struct {
	successes    int
	failures     int
	lastUsed     time.Time
	backoffUntil time.Time
}

// HealthTracker keeps per-credential success/failure counts, the derived
// health score, and an exponential backoff deadline after failures.
type HealthTracker struct {
	mu      sync.Mutex
	records map[types.Credential]*healthRecord
	order   []types.Credential // registration order, deterministic tie-break
	now     func() time.Time
}

func NewHealthTracker(credentials []types.Credential) *HealthTracker {
	h := &HealthTracker{
		records: make(map[types.Credential]*healthRecord, len(credentials)),
		now:     time.Now,
	}
	for _, c := range credentials {
		if _, ok := h.records[c]; ok {
			continue
		}
		h.records[c] = &healthRecord{}
		h.order = append(h.order, c)
	}
	return h
}

// Score returns the empirical success ratio, or 1.0 for a credential with no
// recorded outcomes yet: new credentials are optimistically eligible.
func (h *HealthTracker) Score(key types.Credential) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.score(key)
}

func (h *HealthTracker) score(key types.Credential) float64 {
	rec, ok := h.records[key]
	if !ok {
		return 1.0
	}
	total := rec.successes + rec.failures
	if total == 0 {
		return 1.0
	}
	return float64(rec.successes) / float64(total)
}

// RecordSuccess increments the success count and clears any backoff penalty.
func (h *HealthTracker) RecordSuccess(key types.Credential) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rec := h.getOrCreate(key)
	now := h.now()
	rec.successes++
	rec.lastUsed = now
	rec.backoffUntil = now
}

// RecordFailure increments the failure count and pushes the backoff deadline
// out to now + min(60s, 2^(failures-1) seconds). The deadline never moves
// backwards across consecutive failures. Returns the deadline and the
// lifetime failure count for logging.
func (h *HealthTracker) RecordFailure(key types.Credential) (until time.Time, failures int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rec := h.getOrCreate(key)
	now := h.now()
	rec.failures++
	rec.lastUsed = now

	deadline := now.Add(backoffFor(rec.failures))
	if deadline.After(rec.backoffUntil) {
		rec.backoffUntil = deadline
	}
	return rec.backoffUntil, rec.failures
}

// backoffFor returns min(60s, 2^(failures-1) seconds).
func backoffFor(failures int) time.Duration {
	if failures < 1 {
		return 0
	}
	if failures > 6 { // 2^6 = 64s already exceeds the cap
		return maxBackoff
	}
	d := time.Duration(1<<uint(failures-1)) * time.Second
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

// Eligible returns credentials that are out of backoff and at or above the
// health threshold, sorted by health score descending. Ties keep registration
// order, so the result is deterministic.
func (h *HealthTracker) Eligible(threshold float64) []types.Credential {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	var eligible []types.Credential
	for _, key := range h.order {
		rec := h.records[key]
		if now.Before(rec.backoffUntil) {
			continue
		}
		if h.score(key) < threshold {
			continue
		}
		eligible = append(eligible, key)
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		return h.score(eligible[i]) > h.score(eligible[j])
	})
	return eligible
}

// Snapshot returns a copy of one credential's health state.
func (h *HealthTracker) Snapshot(key types.Credential) HealthRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	rec, ok := h.records[key]
	if !ok {
		return HealthRecord{}
	}
	return HealthRecord{
		Successes:    rec.successes,
		Failures:     rec.failures,
		LastUsed:     rec.lastUsed,
		BackoffUntil: rec.backoffUntil,
	}
}

func (h *HealthTracker) getOrCreate(key types.Credential) *healthRecord {
	rec, ok := h.records[key]
	if !ok {
		rec = &healthRecord{}
		h.records[key] = rec
		h.order = append(h.order, key)
	}
	return rec
}
