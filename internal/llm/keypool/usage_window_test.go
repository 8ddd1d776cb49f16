package keypool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-trading-bot/internal/types"
)

type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func testLimits(t Tier) TierLimits {
	switch t {
	case TierFlash:
		return TierLimits{RPM: 10, RPD: 250, TPM: 250000}
	default:
		return TierLimits{RPM: 5, RPD: 100, TPM: 250000}
	}
}

func newTestWindows(clock *fakeClock) *UsageWindows {
	w := NewUsageWindows(testLimits)
	w.now = clock.Now
	return w
}

func TestMinuteWindowFillsAndRecovers(t *testing.T) {
	clock := newFakeClock()
	w := newTestWindows(clock)
	key := types.Credential("test-key-alpha")

	for i := 0; i < 10; i++ {
		require.True(t, w.CanAdmit(key, TierFlash, 1), "request %d should fit", i+1)
		w.Record(key, TierFlash)
		clock.Advance(time.Second)
	}

	assert.False(t, w.CanAdmit(key, TierFlash, 1), "11th request within the minute must not fit")

	wait, ok := w.WaitTime(key, TierFlash)
	require.True(t, ok)
	// Oldest entry is 10s old, so it expires in 50s plus the safety margin.
	assert.InDelta(t, (50*time.Second + waitMargin).Seconds(), wait.Seconds(), 0.01)

	clock.Advance(wait)
	assert.True(t, w.CanAdmit(key, TierFlash, 1), "request should fit after the oldest entry expires")
}

func TestWaitTimeAdmitsImmediatelyWithRoom(t *testing.T) {
	clock := newFakeClock()
	w := newTestWindows(clock)
	key := types.Credential("test-key-alpha")

	w.Record(key, TierFlash)
	wait, ok := w.WaitTime(key, TierFlash)
	assert.True(t, ok)
	assert.Zero(t, wait)
}

func TestDayWindowBlocksWithoutWait(t *testing.T) {
	clock := newFakeClock()
	w := NewUsageWindows(func(Tier) TierLimits { return TierLimits{RPM: 100, RPD: 3} })
	w.now = clock.Now
	key := types.Credential("test-key-alpha")

	for i := 0; i < 3; i++ {
		w.Record(key, TierFlash)
		clock.Advance(time.Minute)
	}

	wait, ok := w.WaitTime(key, TierFlash)
	assert.False(t, ok, "a full day window is not satisfiable by waiting")
	assert.Zero(t, wait)
}

func TestReserveNIsAllOrNothing(t *testing.T) {
	clock := newFakeClock()
	w := newTestWindows(clock)
	key := types.Credential("test-key-alpha")

	require.True(t, w.ReserveN(key, TierFlash, 8))
	minute, day := w.Counts(key, TierFlash)
	assert.Equal(t, 8, minute)
	assert.Equal(t, 8, day)

	// Only 2 slots remain; a reservation for 3 must not book anything.
	assert.False(t, w.ReserveN(key, TierFlash, 3))
	minute, _ = w.Counts(key, TierFlash)
	assert.Equal(t, 8, minute, "failed reservation must leave no partial bookings")

	assert.True(t, w.ReserveN(key, TierFlash, 2))
	minute, _ = w.Counts(key, TierFlash)
	assert.Equal(t, 10, minute)
}

func TestWindowsAreIndependentPerCredentialAndTier(t *testing.T) {
	clock := newFakeClock()
	w := newTestWindows(clock)
	alpha := types.Credential("test-key-alpha")
	beta := types.Credential("test-key-beta")

	require.True(t, w.ReserveN(alpha, TierFlash, 10))
	assert.False(t, w.CanAdmit(alpha, TierFlash, 1))

	assert.True(t, w.CanAdmit(alpha, TierPro, 1), "same credential, other tier is unaffected")
	assert.True(t, w.CanAdmit(beta, TierFlash, 1), "other credential is unaffected")
}

func TestPruneDropsExpiredEntries(t *testing.T) {
	clock := newFakeClock()
	w := newTestWindows(clock)
	key := types.Credential("test-key-alpha")

	for i := 0; i < 5; i++ {
		w.Record(key, TierFlash)
	}
	clock.Advance(61 * time.Second)

	minute, day := w.Counts(key, TierFlash)
	assert.Zero(t, minute, "minute window entries expire after 60s")
	assert.Equal(t, 5, day, "day window entries persist for 24h")

	clock.Advance(24 * time.Hour)
	_, day = w.Counts(key, TierFlash)
	assert.Zero(t, day)
}

func TestHeadroomIsMinOfBothWindows(t *testing.T) {
	clock := newFakeClock()
	w := NewUsageWindows(func(Tier) TierLimits { return TierLimits{RPM: 10, RPD: 12} })
	w.now = clock.Now
	key := types.Credential("test-key-alpha")

	assert.Equal(t, 10, w.Headroom(key, TierFlash), "empty windows: minute limit binds")

	for i := 0; i < 8; i++ {
		w.Record(key, TierFlash)
	}
	clock.Advance(61 * time.Second)

	// Minute window is clear again but only 4 day slots remain.
	assert.Equal(t, 4, w.Headroom(key, TierFlash))
}
