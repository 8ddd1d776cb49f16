package keypool

import (
	"errors"
	"fmt"
)

// ErrNoCredentials means the pool was constructed without any credentials.
var ErrNoCredentials = errors.New("keypool: no credentials configured")

// ProviderError is a non-2xx response from the upstream provider.
type ProviderError struct {
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("keypool: provider http %d: %s", e.StatusCode, e.Body)
}

// AuthOrRateLimited reports whether the remote status means the credential
// itself must be abandoned for now (bad key or throttled key).
func (e *ProviderError) AuthOrRateLimited() bool {
	switch e.StatusCode {
	case 401, 403, 429:
		return true
	}
	return false
}

// QuotaExhaustedError means a batch reservation could not be satisfied by any
// (credential, tier) combination. Tier names the tightest limiting tier: the
// one that came closest to fitting the request.
type QuotaExhaustedError struct {
	Calls     int
	Tier      Tier
	Available int
}

func (e *QuotaExhaustedError) Error() string {
	return fmt.Sprintf("keypool: cannot reserve %d calls: tier %s has at most %d remaining across eligible credentials",
		e.Calls, e.Tier, e.Available)
}

// ExhaustedError means every credential stayed unhealthy or backed off for
// the full cycle budget. LastErr carries the most recent underlying failure.
type ExhaustedError struct {
	Cycles  int
	LastErr error
}

func (e *ExhaustedError) Error() string {
	if e.LastErr == nil {
		return fmt.Sprintf("keypool: all credentials exhausted after %d cycles", e.Cycles)
	}
	return fmt.Sprintf("keypool: all credentials exhausted after %d cycles: %v", e.Cycles, e.LastErr)
}

func (e *ExhaustedError) Unwrap() error { return e.LastErr }
