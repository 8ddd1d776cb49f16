package keypool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-trading-bot/internal/types"
)

func newTestReserver(clock *fakeClock, keys ...types.Credential) (*Reserver, *UsageWindows, *HealthTracker) {
	catalog := NewCatalog(nil)
	catalog.now = clock.Now
	windows := NewUsageWindows(catalog.Limits)
	windows.now = clock.Now
	health := NewHealthTracker(keys)
	health.now = clock.Now
	r := NewReserver(catalog, windows, health, 0.3)
	r.sleep = func(ctx context.Context, d time.Duration) error {
		clock.Advance(d)
		return nil
	}
	return r, windows, health
}

func TestReserveScansCredentialThenTier(t *testing.T) {
	clock := newFakeClock()
	r, windows, _ := newTestReserver(clock, "test-key-alpha", "test-key-beta")

	// alpha's flash window already holds 5 of its 10 slots; a batch of 8
	// does not fit there, nor in any pro window (RPM 5). beta's flash
	// window is the first pair with room.
	require.True(t, windows.ReserveN("test-key-alpha", TierFlash, 5))

	res, err := r.Reserve(context.Background(), ReservationRequest{EstimatedCalls: 8})
	require.NoError(t, err)
	assert.Equal(t, types.Credential("test-key-beta"), res.Conn.Key)
	assert.Equal(t, TierFlash, res.Tier)
	assert.Equal(t, "gemini-2.0-flash", res.Conn.Model)
	assert.Equal(t, 8, res.Calls)
	assert.NotEmpty(t, res.ID)

	minute, _ := windows.Counts("test-key-beta", TierFlash)
	assert.Equal(t, 8, minute, "all 8 calls booked up front")
	minute, _ = windows.Counts("test-key-alpha", TierFlash)
	assert.Equal(t, 5, minute, "losing pair keeps its prior bookings only")
}

func TestReserveFallsBackToProTier(t *testing.T) {
	clock := newFakeClock()
	catalog := NewCatalog(map[Tier]TierLimits{
		TierFlash: {RPM: 10, RPD: 10, TPM: 250000},
	})
	catalog.now = clock.Now
	windows := NewUsageWindows(catalog.Limits)
	windows.now = clock.Now
	health := NewHealthTracker([]types.Credential{"test-key-alpha"})
	health.now = clock.Now
	r := NewReserver(catalog, windows, health, 0.3)

	// Flash day budget is spent; waiting cannot help, so the scan moves on
	// to the pro tier without sleeping.
	require.True(t, windows.ReserveN("test-key-alpha", TierFlash, 10))

	res, err := r.Reserve(context.Background(), ReservationRequest{EstimatedCalls: 3})
	require.NoError(t, err)
	assert.Equal(t, TierPro, res.Tier)
	assert.Equal(t, "gemini-2.5-pro", res.Conn.Model)
}

func TestReserveExplicitModelPinsTier(t *testing.T) {
	clock := newFakeClock()
	r, windows, _ := newTestReserver(clock, "test-key-alpha")

	res, err := r.Reserve(context.Background(), ReservationRequest{
		EstimatedCalls: 3,
		Model:          "gemini-2.5-pro",
	})
	require.NoError(t, err)
	assert.Equal(t, TierPro, res.Tier)
	assert.Equal(t, "gemini-2.5-pro", res.Conn.Model)

	minute, _ := windows.Counts("test-key-alpha", TierPro)
	assert.Equal(t, 3, minute)
	minute, _ = windows.Counts("test-key-alpha", TierFlash)
	assert.Zero(t, minute, "flash tier untouched when the model pins pro")
}

func TestReserveDefaultsToOneCall(t *testing.T) {
	clock := newFakeClock()
	r, windows, _ := newTestReserver(clock, "test-key-alpha")

	res, err := r.Reserve(context.Background(), ReservationRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Calls)

	minute, _ := windows.Counts("test-key-alpha", TierFlash)
	assert.Equal(t, 1, minute)
}

func TestReserveExhaustionNamesTightestTier(t *testing.T) {
	clock := newFakeClock()
	r, _, _ := newTestReserver(clock, "test-key-alpha")

	// 20 calls exceed both tiers' per-minute budgets outright.
	_, err := r.Reserve(context.Background(), ReservationRequest{EstimatedCalls: 20})
	require.Error(t, err)

	var qe *QuotaExhaustedError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, 20, qe.Calls)
	assert.Equal(t, TierFlash, qe.Tier, "flash came closest with 10 free slots")
	assert.Equal(t, 10, qe.Available)
	assert.Contains(t, qe.Error(), "flash")
}

func TestReserveWaitsOutMinuteWindowOnce(t *testing.T) {
	clock := newFakeClock()
	r, windows, _ := newTestReserver(clock, "test-key-alpha")

	// Fill the flash minute window; the pro window cannot take a batch of 6
	// at all, so the reserver waits for flash to clear and re-checks.
	require.True(t, windows.ReserveN("test-key-alpha", TierFlash, 10))

	res, err := r.Reserve(context.Background(), ReservationRequest{EstimatedCalls: 6})
	require.NoError(t, err)
	assert.Equal(t, TierFlash, res.Tier)

	minute, day := windows.Counts("test-key-alpha", TierFlash)
	assert.Equal(t, 6, minute, "old bookings expired during the wait")
	assert.Equal(t, 16, day)
}

func TestReserveSkipsIneligibleCredentials(t *testing.T) {
	clock := newFakeClock()
	r, _, health := newTestReserver(clock, "test-key-alpha", "test-key-beta")

	health.RecordFailure("test-key-alpha")

	res, err := r.Reserve(context.Background(), ReservationRequest{EstimatedCalls: 2})
	require.NoError(t, err)
	assert.Equal(t, types.Credential("test-key-beta"), res.Conn.Key,
		"backed-off credential never enters the scan")
}
