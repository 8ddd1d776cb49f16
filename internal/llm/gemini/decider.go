package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"agent-trading-bot/internal/interfaces"
	"agent-trading-bot/internal/store"
	"agent-trading-bot/internal/trace"
	"agent-trading-bot/internal/types"
)

// Decider implements the Decider interface using the Gemini API through a
// credential pool. When pinned to a pre-reserved connection it skips per-call
// selection and only reports outcomes back to the pool.
type Decider struct {
	pool   interfaces.ConnectionSource
	client *Client
	cfg    *store.Config

	pinned *types.Connection
}

// NewDecider creates a pool-backed Gemini decider.
func NewDecider(pool interfaces.ConnectionSource, client *Client, cfg *store.Config) *Decider {
	return &Decider{pool: pool, client: client, cfg: cfg}
}

var (
	_ interfaces.Decider         = (*Decider)(nil)
	_ interfaces.ConnectionBound = (*Decider)(nil)
)

// WithConnection returns a copy of the decider pinned to conn for the
// duration of one workflow batch.
func (d *Decider) WithConnection(conn types.Connection) interfaces.Decider {
	pinned := *d
	pinned.pinned = &conn
	return &pinned
}

// Decide makes a trading decision using the Gemini API.
func (d *Decider) Decide(ctx context.Context, symbol string, contextData map[string]any) (types.Decision, error) {
	ctx, span := trace.StartSpan(ctx, "gemini-api-call")
	defer span.End()

	conn, err := d.connection(ctx)
	if err != nil {
		return types.Decision{}, err
	}

	state := map[string]any{
		"symbol":  symbol,
		"context": contextData,
	}
	stateB, _ := json.Marshal(state)

	system := d.cfg.LLM.System
	if system == "" {
		system = "You are a disciplined equities trader. Output STRICT JSON with BUY/SELL/HOLD."
	}
	user := fmt.Sprintf("State:%s\n\nRespond ONLY with compact JSON: {\"action\":\"BUY|SELL|HOLD\",\"reason\":\"...\",\"confidence\":0.0,\"qty\":0}", string(stateB))

	text, err := d.client.GenerateContent(ctx, conn.Key, conn.Model, system, user,
		d.cfg.LLM.MaxTokens, d.cfg.LLM.Temperature)
	if err != nil {
		d.pool.ReportFailure(conn.Key)
		return types.Decision{}, err
	}
	d.pool.ReportSuccess(conn.Key)

	return parseDecisionFromText(text)
}

// connection returns the pinned connection when present, otherwise runs a
// full selection attempt through the pool.
func (d *Decider) connection(ctx context.Context) (types.Connection, error) {
	if d.pinned != nil {
		return *d.pinned, nil
	}
	return d.pool.Connect(ctx, d.cfg.LLM.Model)
}

// parseDecisionFromText tries to locate a JSON object in text and unmarshal
// it into types.Decision.
func parseDecisionFromText(text string) (types.Decision, error) {
	t := strings.TrimSpace(text)

	if strings.HasPrefix(t, "{") {
		var d types.Decision
		if err := json.Unmarshal([]byte(t), &d); err == nil {
			normalizeDecision(&d)
			return d, nil
		}
	}

	// Models often wrap the JSON in prose or code fences.
	start := strings.Index(t, "{")
	end := strings.LastIndex(t, "}")
	if start >= 0 && end > start {
		sub := t[start : end+1]
		var d types.Decision
		if err := json.Unmarshal([]byte(sub), &d); err == nil {
			normalizeDecision(&d)
			return d, nil
		}
	}

	return types.Decision{Action: "HOLD", Reason: "unable_to_parse_gemini_output", Confidence: 0.0}, nil
}

func normalizeDecision(d *types.Decision) {
	d.Action = strings.ToUpper(strings.TrimSpace(d.Action))
	if d.Action != "BUY" && d.Action != "SELL" && d.Action != "HOLD" {
		d.Action = "HOLD"
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		d.Confidence = 0.0
	}
}
