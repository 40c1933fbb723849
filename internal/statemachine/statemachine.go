// Package statemachine derives the agent's 6-state model from hook events
// and terminal-buffer heuristics (C4). The edge-triggered state-change
// broadcast is generalized from dcosson-h2's
// internal/session/agent/monitor.AgentMonitor: a closed-then-recreated
// channel signals "state changed" to any waiter without requiring a
// subscriber list.
package statemachine

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
)

// State is one of the six agent states. Initial = NotRunning, terminal =
// NotRunning (after cleanup).
type State string

const (
	NotRunning   State = "NotRunning"
	Starting     State = "Starting"
	Idle         State = "Idle"
	Working      State = "Working"
	WaitingInput State = "WaitingInput"
	Error        State = "Error"
)

// Signals fired by HandleHookEvent, delivered synchronously to whatever
// registered callback is set at call time (per §9's callback-registry
// re-architecture of the source's signal/slot pattern).
type Signals struct {
	TaskStarted          func(task string)
	TaskFinished         func()
	ToolUseCompleted     func(toolName string, response json.RawMessage)
	PermissionRequested  func()
	YoloApprovalOccurred func()
	NotificationReceived func(data json.RawMessage)
	SubagentStarted      func(agentType string)
	SubagentStopped      func(agentType string)
	TeammateIdle         func(teammateName string)
	TaskCompleted        func(subject string)
}

// Machine holds the current (state, current_task) pair and dispatches hook
// events onto it. Safe for concurrent use.
type Machine struct {
	mu          sync.Mutex
	state       State
	currentTask string
	stateCh     chan struct{}

	Signals Signals
}

// New returns a Machine in its initial NotRunning state.
func New() *Machine {
	return &Machine{state: NotRunning, stateCh: make(chan struct{})}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// CurrentTask returns the current task description.
func (m *Machine) CurrentTask() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentTask
}

// StateChanged returns a channel closed on the next actual state
// transition (edge-triggered — invariant 4 of spec §8).
func (m *Machine) StateChanged() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateCh
}

// WaitForState blocks until the machine reaches target or ctx is done.
func (m *Machine) WaitForState(ctx context.Context, target State) bool {
	for {
		m.mu.Lock()
		if m.state == target {
			m.mu.Unlock()
			return true
		}
		ch := m.stateCh
		m.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return false
		}
	}
}

// SetState transitions to the given state, emitting state_changed only if
// it actually differs from the current one.
func (m *Machine) SetState(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setStateLocked(s)
}

func (m *Machine) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.state = s
	close(m.stateCh)
	m.stateCh = make(chan struct{})
}

// SetCurrentTask updates the current task description without affecting state.
func (m *Machine) SetCurrentTask(task string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentTask = task
}

type hookPayload struct {
	ToolName     string          `json:"tool_name"`
	Response     json.RawMessage `json:"response"`
	YoloApproved bool            `json:"yolo_approved"`
	Type         string          `json:"type"`
	AgentType    string          `json:"agent_type"`
	SubagentType string          `json:"subagent_type"`
	TeammateName string          `json:"teammate_name"`
	Name         string          `json:"name"`
	TaskSubject  string          `json:"task_subject"`
	Subject      string          `json:"subject"`
}

func (p hookPayload) agentType() string {
	if p.AgentType != "" {
		return p.AgentType
	}
	return p.SubagentType
}

func (p hookPayload) teammateName() string {
	if p.TeammateName != "" {
		return p.TeammateName
	}
	return p.Name
}

func (p hookPayload) taskSubject() string {
	if p.TaskSubject != "" {
		return p.TaskSubject
	}
	return p.Subject
}

// HandleHookEvent dispatches one hook event per spec §4.2's taxonomy.
// Unknown event types are dropped (the caller should log them).
func (m *Machine) HandleHookEvent(eventType string, data json.RawMessage) bool {
	var p hookPayload
	if len(data) > 0 {
		_ = json.Unmarshal(data, &p)
	}

	switch eventType {
	case "Stop":
		m.mu.Lock()
		m.currentTask = ""
		m.setStateLocked(Idle)
		m.mu.Unlock()
		if m.Signals.TaskFinished != nil {
			m.Signals.TaskFinished()
		}
	case "PreToolUse":
		task := "Using tool: " + p.ToolName
		m.mu.Lock()
		m.currentTask = task
		m.setStateLocked(Working)
		m.mu.Unlock()
		if m.Signals.TaskStarted != nil {
			m.Signals.TaskStarted(task)
		}
	case "PostToolUse":
		if m.Signals.ToolUseCompleted != nil {
			m.Signals.ToolUseCompleted(p.ToolName, p.Response)
		}
	case "PermissionRequest":
		if p.YoloApproved {
			if m.Signals.YoloApprovalOccurred != nil {
				m.Signals.YoloApprovalOccurred()
			}
		} else {
			m.SetState(WaitingInput)
			if m.Signals.PermissionRequested != nil {
				m.Signals.PermissionRequested()
			}
		}
	case "Notification":
		if strings.HasPrefix(p.Type, "permission_") {
			m.SetState(WaitingInput)
			if m.Signals.PermissionRequested != nil {
				m.Signals.PermissionRequested()
			}
		} else if strings.HasPrefix(p.Type, "idle_") {
			m.SetState(WaitingInput)
		}
		if m.Signals.NotificationReceived != nil {
			m.Signals.NotificationReceived(data)
		}
	case "SubagentStart":
		if m.Signals.SubagentStarted != nil {
			m.Signals.SubagentStarted(p.agentType())
		}
	case "SubagentStop":
		if m.Signals.SubagentStopped != nil {
			m.Signals.SubagentStopped(p.agentType())
		}
	case "TeammateIdle":
		if m.Signals.TeammateIdle != nil {
			m.Signals.TeammateIdle(p.teammateName())
		}
	case "TaskCompleted":
		if m.Signals.TaskCompleted != nil {
			m.Signals.TaskCompleted(p.taskSubject())
		}
	default:
		return false
	}
	return true
}

// DetectPermissionPrompt scans text line-by-line for a line containing
// both the selector glyph ❯ (U+276F) and the word "Yes" (case-sensitive).
// Pure, side-effect-free; callers should pass only the last ~5 lines.
func DetectPermissionPrompt(text string) bool {
	for _, line := range strings.Split(text, "\n") {
		if strings.Contains(line, "❯") && strings.Contains(line, "Yes") {
			return true
		}
	}
	return false
}

// DetectIdlePrompt reports whether the last non-empty line begins with >
// or ❯ and the buffer does not contain a permission-prompt line.
func DetectIdlePrompt(text string) bool {
	if DetectPermissionPrompt(text) {
		return false
	}
	lines := strings.Split(text, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		return strings.HasPrefix(line, ">") || strings.HasPrefix(line, "❯")
	}
	return false
}
