package keypool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-trading-bot/internal/types"
)

// blockingProber parks inside Probe until released, exposing the window
// between a selection attempt's quota check and its usage recording.
type blockingProber struct {
	entered chan struct{}
	release chan struct{}
}

func newBlockingProber() *blockingProber {
	return &blockingProber{entered: make(chan struct{}), release: make(chan struct{})}
}

func (b *blockingProber) Probe(ctx context.Context, key types.Credential, model string) error {
	close(b.entered)
	<-b.release
	return nil
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(Config{}, newFakeProber(), nil)
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestPoolConnectAndReport(t *testing.T) {
	prober := newFakeProber()
	pool, err := New(Config{
		Credentials: []types.Credential{"test-key-alpha"},
	}, prober, nil)
	require.NoError(t, err)

	conn, err := pool.Connect(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, types.Credential("test-key-alpha"), conn.Key)

	pool.ReportSuccess(conn.Key)
	pool.ReportFailure(conn.Key)

	snap := pool.Health(conn.Key)
	assert.Equal(t, 2, snap.Successes, "probe success plus reported success")
	assert.Equal(t, 1, snap.Failures)
}

func TestReservationWaitsForInFlightSelection(t *testing.T) {
	prober := newBlockingProber()
	pool, err := New(Config{
		Credentials: []types.Credential{"test-key-alpha"},
	}, prober, nil)
	require.NoError(t, err)

	// 9 of the 10 flash slots are gone; the in-flight selection attempt
	// will take the last one once its probe returns.
	require.True(t, pool.windows.ReserveN("test-key-alpha", TierFlash, 9))

	connDone := make(chan error, 1)
	go func() {
		_, err := pool.Connect(context.Background(), "")
		connDone <- err
	}()
	<-prober.entered

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	resDone := make(chan Tier, 1)
	go func() {
		conn, err := pool.Reserve(ctx, 1, "")
		if err != nil {
			resDone <- Tier(-1)
			return
		}
		resDone <- TierOf(conn.Model)
	}()

	select {
	case <-resDone:
		t.Fatal("reservation ran while a selection attempt held the gate")
	case <-time.After(50 * time.Millisecond):
	}

	close(prober.release)
	require.NoError(t, <-connDone)

	// The reservation sees flash already full and lands on pro instead of
	// squeezing an 11th entry into the flash minute window.
	assert.Equal(t, TierPro, <-resDone)

	minute, _ := pool.windows.Counts("test-key-alpha", TierFlash)
	assert.Equal(t, 10, minute, "flash minute window must not overshoot its limit")
}

func TestPoolReserveBooksQuota(t *testing.T) {
	pool, err := New(Config{
		Credentials: []types.Credential{"test-key-alpha"},
	}, newFakeProber(), nil)
	require.NoError(t, err)

	conn, err := pool.Reserve(context.Background(), 4, "")
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.0-flash", conn.Model)

	minute, day := pool.Usage(conn.Key, TierFlash)
	assert.Equal(t, 4, minute)
	assert.Equal(t, 4, day)
}
