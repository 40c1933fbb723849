// Package budget implements the session BudgetController (C8): time/cost/
// token ceilings with warning/exceeded latches, a token-velocity ring
// buffer, and a debounced resource gate.
package budget

import (
	"sync"
	"time"
)

// Policy is the enforcement strength for a budget dimension.
type Policy string

const (
	Soft Policy = "Soft"
	Hard Policy = "Hard"
)

// Budget is a session's configured ceilings. Zero on a dimension means
// unlimited on that dimension.
type Budget struct {
	TimeLimitMinutes        int
	CostCeilingUSD          float64
	TokenCeiling            uint64
	WarningThresholdPercent int // default 80
	StartedAt               time.Time
	TimePolicy              Policy
	CostPolicy              Policy
	TokenPolicy             Policy
}

// Signals fired by Controller on budget transitions.
type Signals struct {
	BudgetWarning         func(kind string, percent float64)
	BudgetExceeded        func(kind string)
	ResourceGateTriggered func(reason string)
	ResourceGateCleared   func()
	VelocityUpdated       func()
}

type latch struct {
	warned   bool
	exceeded bool
}

// Controller owns a Budget, a TokenVelocity buffer, and a ResourceGate.
type Controller struct {
	mu            sync.Mutex
	budget        Budget
	time          latch
	cost          latch
	token         latch
	timeExceeded  bool
	costExceeded  bool
	tokenExceeded bool

	velocity Velocity
	gate     *ResourceGate

	Signals Signals
}

// NewController returns a Controller with the given initial budget
// (zero-value Budget means unlimited on every dimension).
func NewController(b Budget) *Controller {
	if b.WarningThresholdPercent == 0 {
		b.WarningThresholdPercent = 80
	}
	return &Controller{budget: b, gate: NewResourceGate(ResourceGate{})}
}

// SetBudget replaces the budget, resetting all latches (but not the
// resource gate, which is a separate concern, nor the velocity buffer).
func (c *Controller) SetBudget(b Budget) {
	if b.WarningThresholdPercent == 0 {
		b.WarningThresholdPercent = 80
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.budget = b
	c.time = latch{}
	c.cost = latch{}
	c.token = latch{}
	c.timeExceeded = false
	c.costExceeded = false
	c.tokenExceeded = false
}

// Budget returns a copy of the current budget.
func (c *Controller) Budget() Budget {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.budget
}

// updateDimension applies the warning/exceeded latch rule for one
// dimension: warning fires once at >= threshold%, exceeded fires once at
// >=100%, never both on the same update unless warning was already past
// due (then only exceeded fires), matching spec invariant #3.
func (c *Controller) updateDimension(kind string, current, ceiling float64, l *latch, exceededFlag *bool) {
	if ceiling <= 0 {
		return
	}
	percent := (current / ceiling) * 100
	threshold := float64(c.budget.WarningThresholdPercent)

	if percent >= 100 {
		if !l.exceeded {
			l.exceeded = true
			*exceededFlag = true
			if c.Signals.BudgetExceeded != nil {
				c.Signals.BudgetExceeded(kind)
			}
		}
		return
	}
	if percent >= threshold && !l.warned {
		l.warned = true
		if c.Signals.BudgetWarning != nil {
			c.Signals.BudgetWarning(kind, percent)
		}
	}
}

// UpdateCost reports current accumulated cost.
func (c *Controller) UpdateCost(costUSD float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updateDimension("cost", costUSD, c.budget.CostCeilingUSD, &c.cost, &c.costExceeded)
}

// UpdateTokens reports current accumulated total tokens, also recording a
// velocity sample.
func (c *Controller) UpdateTokens(totalTokens uint64, costUSD float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updateDimension("token", float64(totalTokens), float64(c.budget.TokenCeiling), &c.token, &c.tokenExceeded)
	c.velocity.Add(time.Now(), totalTokens, costUSD)
	if c.Signals.VelocityUpdated != nil {
		c.Signals.VelocityUpdated()
	}
}

// CheckTime should be invoked by a 60s timer; it reports elapsed minutes
// since the budget's StartedAt.
func (c *Controller) CheckTime(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.budget.StartedAt.IsZero() {
		return
	}
	elapsedMin := now.Sub(c.budget.StartedAt).Minutes()
	c.updateDimension("time", elapsedMin, float64(c.budget.TimeLimitMinutes), &c.time, &c.timeExceeded)
}

// TimeExceeded, CostExceeded, TokenExceeded report latch state.
func (c *Controller) TimeExceeded() bool  { c.mu.Lock(); defer c.mu.Unlock(); return c.timeExceeded }
func (c *Controller) CostExceeded() bool  { c.mu.Lock(); defer c.mu.Unlock(); return c.costExceeded }
func (c *Controller) TokenExceeded() bool { c.mu.Lock(); defer c.mu.Unlock(); return c.tokenExceeded }

// Velocity returns a copy of the velocity buffer for read-only use.
func (c *Controller) Velocity() *Velocity {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.velocity
	return &v
}

// Gate returns the resource gate.
func (c *Controller) Gate() *ResourceGate {
	return c.gate
}

// UpdateResourceUsage feeds one CPU/RSS sample into the resource gate and
// fires the gate signals on edge transitions.
func (c *Controller) UpdateResourceUsage(cpuPercent float64, rssBytes uint64) {
	triggeredNow := c.gate.Update(cpuPercent, rssBytes)
	if triggeredNow {
		if c.Signals.ResourceGateTriggered != nil {
			reason := "cpu"
			if c.gate.rssTripped {
				reason = "rss"
			}
			c.Signals.ResourceGateTriggered(reason)
		}
	} else if c.gate.clearedThisUpdate {
		if c.Signals.ResourceGateCleared != nil {
			c.Signals.ResourceGateCleared()
		}
	}
}

// ShouldBlockYolo reports whether autonomy should be suppressed: any
// dimension exceeded, or the resource gate is triggered.
func (c *Controller) ShouldBlockYolo() bool {
	c.mu.Lock()
	blocked := c.timeExceeded || c.costExceeded || c.tokenExceeded
	c.mu.Unlock()
	return blocked || c.gate.Triggered()
}
