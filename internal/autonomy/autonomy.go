// Package autonomy implements the tiered yolo AutonomyEngine (C5): three
// orthogonal per-session levels (L1 auto-approve, L2 auto-accept
// suggestions, L3 auto-continue) with delayed keystroke delivery.
//
// Grounded on dcosson-h2/internal/message.deliver's delayed-keystroke-
// then-Enter pattern (a short sleep before the Enter keystroke so the
// child's UI framework can process the typed text first).
package autonomy

import (
	"os"
	"sync"
	"time"
)

// ApprovalEntry is one recorded autonomy approval.
type ApprovalEntry struct {
	Timestamp time.Time
	ToolName  string
	Action    string
	YoloLevel int
}

// KeySender sends keystrokes to the session's multiplexer pane.
type KeySender interface {
	SendKeys(text string) error
	SendKeySequence(seq string) error
}

// BlockChecker reports whether autonomy actions should currently be
// suppressed (BudgetController.ShouldBlockYolo() or an active Pause/
// Adjust/Redirect intervention from the Observer).
type BlockChecker func() bool

// Signals fired on every approval log append.
type Signals struct {
	ApprovalLogged func(ApprovalEntry)
}

// Engine is a session's tiered autonomy policy.
type Engine struct {
	mu sync.Mutex

	L1, L2, L3          bool
	TrySuggestionsFirst bool
	AutoContinuePrompt  string

	sender      KeySender
	shouldBlock BlockChecker
	sessionID   string // used to derive the .yolo sentinel path

	approvals                           []ApprovalEntry
	yoloCount, doubleCount, tripleCount int

	lastL1Trigger time.Time

	Signals Signals

	// sleep is overridable for tests.
	sleep func(time.Duration)
}

// New returns an Engine bound to a key sender, a block-check callback, and
// the session id used for the yolo sentinel path.
func New(sender KeySender, shouldBlock BlockChecker, sessionID string) *Engine {
	return &Engine{
		sender:              sender,
		shouldBlock:         shouldBlock,
		sessionID:           sessionID,
		TrySuggestionsFirst: true,
		sleep:               time.Sleep,
	}
}

func (e *Engine) blocked() bool {
	return e.shouldBlock != nil && e.shouldBlock()
}

func (e *Engine) recordApproval(tool, action string, level int) {
	e.mu.Lock()
	entry := ApprovalEntry{Timestamp: time.Now(), ToolName: tool, Action: action, YoloLevel: level}
	e.approvals = append(e.approvals, entry)
	e.recomputeCountsLocked()
	e.mu.Unlock()
	if e.Signals.ApprovalLogged != nil {
		e.Signals.ApprovalLogged(entry)
	}
}

func (e *Engine) recomputeCountsLocked() {
	e.yoloCount, e.doubleCount, e.tripleCount = 0, 0, 0
	for _, a := range e.approvals {
		switch a.YoloLevel {
		case 1:
			e.yoloCount++
		case 2:
			e.doubleCount++
		case 3:
			e.tripleCount++
		}
	}
}

// Counts returns the running per-level approval counts.
func (e *Engine) Counts() (yolo, double, triple int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.yoloCount, e.doubleCount, e.tripleCount
}

// TotalApprovals returns the total number of recorded approvals.
func (e *Engine) TotalApprovals() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.approvals)
}

// Levels returns the current L1/L2/L3 toggles under lock, for callers
// (e.g. a state-label renderer) that need a consistent snapshot rather
// than racing the exported fields directly.
func (e *Engine) Levels() (l1, l2, l3 bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.L1, e.L2, e.L3
}

// SetL1 toggles auto-approve-permissions, writing/removing the yolo
// sentinel file and firing immediately if a permission prompt is already
// outstanding (handled by the caller passing currentlyWaitingForInput=true).
func (e *Engine) SetL1(on bool, yoloPath string, currentlyWaitingForInput bool) {
	e.mu.Lock()
	e.L1 = on
	e.mu.Unlock()
	if on {
		_ = os.WriteFile(yoloPath, []byte("1"), 0o600)
	} else {
		_ = os.Remove(yoloPath)
	}
	if on && currentlyWaitingForInput {
		e.OnPermissionRequested("")
	}
}

// SetL2 toggles auto-accept-suggestions.
func (e *Engine) SetL2(on bool) {
	e.mu.Lock()
	e.L2 = on
	e.mu.Unlock()
}

// SetL3 toggles auto-continue, firing immediately if the session is
// already idle.
func (e *Engine) SetL3(on bool, currentlyIdle bool) {
	e.mu.Lock()
	e.L3 = on
	e.mu.Unlock()
	if on && currentlyIdle {
		e.OnIdle(nil)
	}
}

// OnPermissionRequested is the L1 hook-triggered path: after 100ms, send a
// single newline (the agent's UI has "Yes" pre-selected).
func (e *Engine) OnPermissionRequested(toolName string) {
	e.mu.Lock()
	on := e.L1
	e.mu.Unlock()
	if !on || e.blocked() {
		return
	}
	e.sleep(100 * time.Millisecond)
	if e.blocked() {
		return
	}
	_ = e.sender.SendKeySequence("Enter")
	e.recordApproval(toolName, "approve", 1)
}

const l1PollCooldown = 2 * time.Second

// OnPermissionPromptDetected is the L1 polling-loop rising-edge path
// (300ms cadence, caller-driven): a 50ms delay before sending approval, a
// 2s cooldown suppresses rapid retriggers.
func (e *Engine) OnPermissionPromptDetected() {
	e.mu.Lock()
	on := e.L1
	now := time.Now()
	if !on || now.Sub(e.lastL1Trigger) < l1PollCooldown {
		e.mu.Unlock()
		return
	}
	e.lastL1Trigger = now
	e.mu.Unlock()
	if e.blocked() {
		return
	}
	e.sleep(50 * time.Millisecond)
	if e.blocked() {
		return
	}
	_ = e.sender.SendKeySequence("Enter")
	e.recordApproval("", "approve", 1)
}

// OnIdle is invoked on every transition to Idle; it fires L2/L3 per the
// TrySuggestionsFirst policy. stillIdle is consulted by the L2-then-L3
// fallback to confirm the session has not left Idle in the interim.
func (e *Engine) OnIdle(stillIdle func() bool) {
	e.mu.Lock()
	l2, l3, tryFirst := e.L2, e.L3, e.TrySuggestionsFirst
	e.mu.Unlock()

	if l2 && !l3 {
		go e.fireL2()
		return
	}
	if l2 && l3 && tryFirst {
		go func() {
			e.fireL2()
			e.sleep(500 * time.Millisecond)
			if stillIdle == nil || stillIdle() {
				e.fireL3()
			}
		}()
		return
	}
	if l3 {
		go e.fireL3()
	}
}

func (e *Engine) fireL2() {
	if e.blocked() {
		return
	}
	e.sleep(1000 * time.Millisecond)
	if e.blocked() {
		return
	}
	_ = e.sender.SendKeySequence("Tab")
	e.sleep(100 * time.Millisecond)
	_ = e.sender.SendKeySequence("Enter")
	e.recordApproval("", "accept_suggestion", 2)
}

func (e *Engine) fireL3() {
	if e.blocked() {
		return
	}
	e.mu.Lock()
	prompt := e.AutoContinuePrompt
	e.mu.Unlock()
	e.sleep(500 * time.Millisecond)
	if e.blocked() {
		return
	}
	_ = e.sender.SendKeys(prompt)
	_ = e.sender.SendKeySequence("Enter")
	e.recordApproval("", "auto_continue", 3)
}
