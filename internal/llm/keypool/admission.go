package keypool

import (
	"sync"
	"time"
)

// CoordinatorConfig sizes the admission gate. Budgets are requests per
// minute; unit costs are the worst-case requests one workflow unit issues
// against each dependency. A zero budget leaves that dependency untracked.
type CoordinatorConfig struct {
	HeadroomPct     float64
	LLMBudgetRPM    int
	BrokerBudgetRPM int
	LLMUnitCalls    int
	BrokerUnitCalls int
}

// Coordinator is an advisory admission gate over the process's aggregate
// request rate against its rate-limited dependencies. It answers "is there
// headroom to start another workflow unit right now"; callers that proceed
// anyway are not blocked, only unprotected.
type Coordinator struct {
	mu  sync.Mutex
	cfg CoordinatorConfig

	llm    []time.Time
	broker []time.Time
	now    func() time.Time
}

func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	if cfg.HeadroomPct <= 0 || cfg.HeadroomPct > 1 {
		cfg.HeadroomPct = 0.8
	}
	return &Coordinator{cfg: cfg, now: time.Now}
}

// CanStartUnit reports whether one more workflow unit fits under the safety
// headroom of every tracked dependency.
func (c *Coordinator) CanStartUnit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.llm = pruneBefore(c.llm, now.Add(-minuteWindow))
	c.broker = pruneBefore(c.broker, now.Add(-minuteWindow))

	if !fitsBudget(len(c.llm), c.cfg.LLMUnitCalls, c.cfg.LLMBudgetRPM, c.cfg.HeadroomPct) {
		return false
	}
	return fitsBudget(len(c.broker), c.cfg.BrokerUnitCalls, c.cfg.BrokerBudgetRPM, c.cfg.HeadroomPct)
}

func fitsBudget(current, unit, budget int, headroom float64) bool {
	if budget <= 0 {
		return true
	}
	return float64(current+unit) < headroom*float64(budget)
}

// RecordLLMCalls counts n requests actually issued to the inference provider.
func (c *Coordinator) RecordLLMCalls(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for i := 0; i < n; i++ {
		c.llm = append(c.llm, now)
	}
}

// RecordBrokerCalls counts n requests actually issued to the brokerage.
func (c *Coordinator) RecordBrokerCalls(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for i := 0; i < n; i++ {
		c.broker = append(c.broker, now)
	}
}

// Usage returns the pruned per-minute counts for both dependencies.
func (c *Coordinator) Usage() (llm, broker int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.llm = pruneBefore(c.llm, now.Add(-minuteWindow))
	c.broker = pruneBefore(c.broker, now.Add(-minuteWindow))
	return len(c.llm), len(c.broker)
}
