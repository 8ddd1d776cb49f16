package types

import "fmt"

// Credential is an opaque upstream API key. It is the identity key for all
// usage and health tracking. The full secret must never appear in logs or
// errors; String/GoString render the masked form so accidental formatting
// stays safe.
type Credential string

// Masked returns a redacted rendering keeping only the last four characters.
func (c Credential) Masked() string {
	s := string(c)
	if len(s) <= 4 {
		return "****"
	}
	return "..." + s[len(s)-4:]
}

func (c Credential) String() string   { return c.Masked() }
func (c Credential) GoString() string { return fmt.Sprintf("types.Credential(%s)", c.Masked()) }

// Secret returns the full credential value for use in request URLs/headers.
func (c Credential) Secret() string { return string(c) }

// Connection is a validated (credential, model) pair ready for upstream calls.
type Connection struct {
	Key   Credential
	Model string
}

// Decision is the parsed output of one LLM trading-decision call.
type Decision struct {
	Action     string  `json:"action"`
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
	Qty        int     `json:"qty,omitempty"`
}
