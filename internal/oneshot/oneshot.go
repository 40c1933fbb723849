// Package oneshot implements the C10 OneShotController: a non-owning
// orchestrator that attaches to a Session, waits for its first Idle
// transition to dispatch a configured prompt, monitors the attached
// budget, and finalizes a Result on the session's next NotRunning
// transition.
//
// Grounded directly on original_source/src/claude/OneShotController.cpp:
// the state-driven dispatch-then-finalize protocol and the exact
// formatBudgetStatus/formatStateLabel string renderings are carried
// unchanged in semantics, translated from the Qt signal/slot idiom into
// Go callback fields, per spec §9's re-architecture note.
package oneshot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"konsolai/internal/budget"
	"konsolai/internal/session"
	"konsolai/internal/statemachine"
)

// Config configures a one-shot run.
type Config struct {
	Prompt           string
	WorkingDir       string
	Model            string
	TimeLimitMinutes int
	CostCeilingUSD   float64
	TokenCeiling     uint64
	YoloLevel        int // 1=L1, 2=L1+L2, 3=L1+L2+L3, cumulative
	UseGsd           bool
	QualityScore     int
}

// Result is the outcome of a completed one-shot run.
type Result struct {
	Success         bool
	Summary         string
	CostUSD         float64
	DurationSeconds int
	TotalTokens     uint64
	FilesModified   int
	Commits         int
	Errors          []string
}

// Signals fired by the controller.
type Signals struct {
	PromptSent          func()
	Completed           func(Result)
	BudgetStatusChanged func(status string)
}

// Controller orchestrates one attached Session. It does not own the
// session — it monitors and drives it.
type Controller struct {
	mu sync.Mutex

	cfg        Config
	result     Result
	sess       *session.Session
	running    bool
	promptSent bool
	startedAt  time.Time

	cancelWatch context.CancelFunc

	Signals Signals
}

// New returns a Controller configured with cfg. Call AttachToSession then
// Start to begin monitoring.
func New(cfg Config) *Controller {
	return &Controller{cfg: cfg}
}

// Config returns a copy of the controller's configuration.
func (c *Controller) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// AttachToSession wires budget limits (if any are nonzero) and the
// cumulative yolo levels onto sess, chaining onto whatever
// BudgetController signals the Session already installed rather than
// replacing them.
func (c *Controller) AttachToSession(sess *session.Session) {
	c.mu.Lock()
	c.sess = sess
	c.mu.Unlock()
	if sess == nil {
		return
	}

	if c.cfg.TimeLimitMinutes > 0 || c.cfg.CostCeilingUSD > 0 || c.cfg.TokenCeiling > 0 {
		sess.Budget.SetBudget(budget.Budget{
			TimeLimitMinutes: c.cfg.TimeLimitMinutes,
			CostCeilingUSD:   c.cfg.CostCeilingUSD,
			TokenCeiling:     c.cfg.TokenCeiling,
			StartedAt:        time.Now(),
		})

		prevWarning := sess.Budget.Signals.BudgetWarning
		sess.Budget.Signals.BudgetWarning = func(kind string, percent float64) {
			if prevWarning != nil {
				prevWarning(kind, percent)
			}
			if c.Signals.BudgetStatusChanged != nil {
				c.Signals.BudgetStatusChanged(c.FormatBudgetStatus())
			}
		}
		prevExceeded := sess.Budget.Signals.BudgetExceeded
		sess.Budget.Signals.BudgetExceeded = func(kind string) {
			if prevExceeded != nil {
				prevExceeded(kind)
			}
			c.mu.Lock()
			c.result.Errors = append(c.result.Errors, fmt.Sprintf("Budget exceeded: %s", kind))
			c.mu.Unlock()
			if c.Signals.BudgetStatusChanged != nil {
				c.Signals.BudgetStatusChanged(c.FormatBudgetStatus())
			}
		}
	}

	currentlyWaiting := sess.State.State() == statemachine.WaitingInput
	currentlyIdle := sess.State.State() == statemachine.Idle
	sess.Autonomy.SetL1(c.cfg.YoloLevel >= 1, sess.YoloPath(), currentlyWaiting)
	sess.Autonomy.SetL2(c.cfg.YoloLevel >= 2)
	sess.Autonomy.SetL3(c.cfg.YoloLevel >= 3, currentlyIdle)
}

// Start begins monitoring the attached session's state transitions in a
// background goroutine bound to ctx; cancel ctx (or call Stop) to detach.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	c.running = true
	c.startedAt = time.Now()
	watchCtx, cancel := context.WithCancel(ctx)
	c.cancelWatch = cancel
	c.mu.Unlock()

	go c.watch(watchCtx)
}

// Stop detaches the controller's watch goroutine without altering
// m_running/result state, mirroring the C++ destructor's QPointer-based
// automatic disconnect.
func (c *Controller) Stop() {
	c.mu.Lock()
	cancel := c.cancelWatch
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// IsRunning reports whether the controller is actively monitoring.
func (c *Controller) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Result returns a copy of the current (possibly partial) result.
func (c *Controller) Result() Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := c.result
	r.Errors = append([]string(nil), c.result.Errors...)
	return r
}

func (c *Controller) watch(ctx context.Context) {
	for {
		c.mu.Lock()
		sess := c.sess
		c.mu.Unlock()
		if sess == nil {
			return
		}
		ch := sess.State.StateChanged()
		select {
		case <-ch:
			c.onStateChanged(ctx, sess.State.State())
		case <-ctx.Done():
			return
		}
	}
}

func (c *Controller) onStateChanged(ctx context.Context, state statemachine.State) {
	c.mu.Lock()
	sess := c.sess
	if !c.running || sess == nil {
		c.mu.Unlock()
		return
	}

	if state == statemachine.Idle && !c.promptSent {
		c.promptSent = true
		prompt := c.cfg.Prompt
		useGsd := c.cfg.UseGsd
		c.mu.Unlock()

		if useGsd {
			prompt = "Use /gsd:new-project: " + prompt
		}
		_ = sess.SubmitPrompt(ctx, prompt)
		if c.Signals.PromptSent != nil {
			c.Signals.PromptSent()
		}
		return
	}

	if state == statemachine.NotRunning && c.promptSent {
		c.running = false
		c.result.TotalTokens = sess.TotalTokens()
		c.result.CostUSD = sess.CostUSD()
		c.result.DurationSeconds = int(time.Since(c.startedAt).Seconds())
		c.result.Success = len(c.result.Errors) == 0
		result := c.result
		result.Errors = append([]string(nil), c.result.Errors...)
		c.mu.Unlock()

		if c.Signals.Completed != nil {
			c.Signals.Completed(result)
		}
		return
	}
	c.mu.Unlock()

	if c.Signals.BudgetStatusChanged != nil {
		c.Signals.BudgetStatusChanged(c.FormatBudgetStatus())
	}
}

// FormatBudgetStatus renders "3:24 / 15:00 | $0.14 / $0.50", omitting the
// ceiling half of either part when that dimension has no limit set.
func (c *Controller) FormatBudgetStatus() string {
	c.mu.Lock()
	sess := c.sess
	startedAt := c.startedAt
	cfg := c.cfg
	c.mu.Unlock()
	if sess == nil || startedAt.IsZero() {
		return ""
	}

	elapsed := time.Since(startedAt)
	elapsedMin := int(elapsed.Minutes())
	elapsedSec := int(elapsed.Seconds()) % 60
	currentCost := sess.CostUSD()

	var parts []string
	elapsedStr := fmt.Sprintf("%d:%02d", elapsedMin, elapsedSec)
	if cfg.TimeLimitMinutes > 0 {
		limitSec := cfg.TimeLimitMinutes * 60
		limitStr := fmt.Sprintf("%d:%02d", limitSec/60, limitSec%60)
		parts = append(parts, fmt.Sprintf("%s / %s", elapsedStr, limitStr))
	} else {
		parts = append(parts, elapsedStr)
	}

	if cfg.CostCeilingUSD > 0 {
		parts = append(parts, fmt.Sprintf("$%.2f / $%.2f", currentCost, cfg.CostCeilingUSD))
	} else {
		parts = append(parts, fmt.Sprintf("$%.2f", currentCost))
	}

	return strings.Join(parts, " | ")
}

// FormatStateLabel renders a human label with a lightning-bolt glyph
// (U+03DF) per active L1/L2/L3 level and the total approval count in
// brackets, e.g. "Working ϟϟ [7]".
func (c *Controller) FormatStateLabel() string {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return "No session"
	}

	state := sess.State.State()
	switch state {
	case statemachine.NotRunning:
		return "Stopped"
	case statemachine.Starting:
		return "Starting..."
	case statemachine.Working:
		l1, l2, l3 := sess.Autonomy.Levels()
		var bolts strings.Builder
		if l1 {
			bolts.WriteString("ϟ")
		}
		if l2 {
			bolts.WriteString("ϟ")
		}
		if l3 {
			bolts.WriteString("ϟ")
		}
		label := "Working"
		if bolts.Len() > 0 {
			label += " " + bolts.String()
		}
		if n := sess.Autonomy.TotalApprovals(); n > 0 {
			label += fmt.Sprintf(" [%d]", n)
		}
		return label
	case statemachine.Idle:
		return "Idle"
	case statemachine.WaitingInput:
		return "Waiting for input"
	case statemachine.Error:
		return "Error"
	default:
		return "Unknown"
	}
}
