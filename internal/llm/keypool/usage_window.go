package keypool

import (
	"sync"
	"time"

	"agent-trading-bot/internal/types"
)

const (
	minuteWindow = time.Minute
	dayWindow    = 24 * time.Hour

	// waitMargin pads computed minute-window waits so a re-check after the
	// sleep lands strictly past the oldest entry's expiry.
	waitMargin = 500 * time.Millisecond
)

type usageKey struct {
	key  types.Credential
	tier Tier
}

// UsageWindows keeps per-(credential, tier) sliding request counters over the
// trailing minute and the trailing day. Both sequences are time-sorted and
// pruned on every read.
type UsageWindows struct {
	mu     sync.Mutex
	limits func(Tier) TierLimits
	minute map[usageKey][]time.Time
	day    map[usageKey][]time.Time
	now    func() time.Time
}

func NewUsageWindows(limits func(Tier) TierLimits) *UsageWindows {
	return &UsageWindows{
		limits: limits,
		minute: map[usageKey][]time.Time{},
		day:    map[usageKey][]time.Time{},
		now:    time.Now,
	}
}

// Record appends the current timestamp to both windows for the pair.
func (w *UsageWindows) Record(key types.Credential, tier Tier) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.record(usageKey{key, tier}, w.now())
}

// CanAdmit reports whether n additional requests fit inside both windows.
func (w *UsageWindows) CanAdmit(key types.Credential, tier Tier, n int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	k := usageKey{key, tier}
	w.prune(k, w.now())
	return w.fits(k, tier, n)
}

// ReserveN admits and records n requests as one atomic step. Either all n are
// booked or none are.
func (w *UsageWindows) ReserveN(key types.Credential, tier Tier, n int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	k := usageKey{key, tier}
	now := w.now()
	w.prune(k, now)
	if !w.fits(k, tier, n) {
		return false
	}
	for i := 0; i < n; i++ {
		w.record(k, now)
	}
	return true
}

// WaitTime reports how long to wait before one request fits.
//
//	(0, true)  admit now
//	(d, true)  the minute window is full; admits after d
//	(0, false) the day window is full; waiting within this pair will not help
func (w *UsageWindows) WaitTime(key types.Credential, tier Tier) (time.Duration, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	k := usageKey{key, tier}
	now := w.now()
	w.prune(k, now)

	limits := w.limits(tier)
	if len(w.day[k])+1 > limits.RPD {
		return 0, false
	}
	if len(w.minute[k])+1 <= limits.RPM {
		return 0, true
	}

	oldest := w.minute[k][0]
	wait := oldest.Add(minuteWindow).Sub(now) + waitMargin
	if wait < 0 {
		return 0, true
	}
	return wait, true
}

// Headroom returns how many requests currently fit inside both windows.
func (w *UsageWindows) Headroom(key types.Credential, tier Tier) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	k := usageKey{key, tier}
	w.prune(k, w.now())

	limits := w.limits(tier)
	room := limits.RPM - len(w.minute[k])
	if d := limits.RPD - len(w.day[k]); d < room {
		room = d
	}
	if room < 0 {
		room = 0
	}
	return room
}

// Counts returns the pruned minute and day window sizes for the pair.
func (w *UsageWindows) Counts(key types.Credential, tier Tier) (minute, day int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	k := usageKey{key, tier}
	w.prune(k, w.now())
	return len(w.minute[k]), len(w.day[k])
}

// record appends a timestamp. Appends of the current time keep both
// sequences sorted without re-sorting.
func (w *UsageWindows) record(k usageKey, now time.Time) {
	w.minute[k] = append(w.minute[k], now)
	w.day[k] = append(w.day[k], now)
}

func (w *UsageWindows) fits(k usageKey, tier Tier, n int) bool {
	limits := w.limits(tier)
	return len(w.minute[k])+n <= limits.RPM && len(w.day[k])+n <= limits.RPD
}

// prune drops expired entries from both windows. Sequences are sorted, so a
// single scan for the first live entry suffices.
func (w *UsageWindows) prune(k usageKey, now time.Time) {
	w.minute[k] = pruneBefore(w.minute[k], now.Add(-minuteWindow))
	w.day[k] = pruneBefore(w.day[k], now.Add(-dayWindow))
}

func pruneBefore(entries []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(entries) && !entries[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return entries
	}
	return append(entries[:0], entries[i:]...)
}
