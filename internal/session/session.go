// Package session implements the C7 composition root: a Session
// exclusively owns its MuxDriver handle, HookServer instance,
// AgentStateMachine, AutonomyEngine, BudgetController, Observer, and
// approval log (the latter held inside the AutonomyEngine), tearing all
// of them down in reverse-creation order on Stop.
//
// Grounded directly on dcosson-h2/internal/session.Session's
// composition-root shape (a struct owning its child process/VT/monitor
// lifecycle, with StartServices/Stop as the symmetric start/teardown
// pair), generalized from "own a PTY and a monitor" to "own a mux
// handle, a hook socket, and the spec's C4/C5/C8/C9 components".
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"konsolai/internal/autonomy"
	"konsolai/internal/budget"
	"konsolai/internal/eventlog"
	"konsolai/internal/hookserver"
	"konsolai/internal/hookwire"
	"konsolai/internal/konsolaiconfig"
	"konsolai/internal/muxdriver"
	"konsolai/internal/notifier"
	"konsolai/internal/observer"
	"konsolai/internal/socketdir"
	"konsolai/internal/statemachine"
)

// Background polling cadences per spec.md §4.4/§4.6/§4.7/§5.
const (
	l1PollInterval       = 300 * time.Millisecond
	budgetPollInterval   = 60 * time.Second
	observerPollInterval = 60 * time.Second
)

// Config configures a new Session.
type Config struct {
	SessionID  string // 8-hex-char id; generated from Driver if empty
	Name       string // mux session name
	Profile    string
	Command    string // agent CLI command used to launch the mux pane
	WorkingDir string

	Driver         muxdriver.Driver
	HookClientPath string // path to the hookclient binary, for the hook config fragment

	Budget         budget.Budget
	ObserverConfig observer.Config
	Notifier       notifier.Notifier

	// EventLogEnabled turns on the per-session JSONL event log. Disabled
	// by default in tests to avoid touching the filesystem.
	EventLogEnabled bool
	EventLogPath    string // overrides the default <config-dir>/logs/<id>.jsonl path

	AutoContinuePrompt string
}

// Session is the C7 composition root.
type Session struct {
	ID         string
	Name       string
	Profile    string
	Command    string
	WorkingDir string

	Driver   muxdriver.Driver
	Hook     *hookserver.Server
	State    *statemachine.Machine
	Autonomy *autonomy.Engine
	Budget   *budget.Controller
	Observer *observer.Observer

	eventLog *eventlog.Logger
	notif    notifier.Notifier

	socketPath     string
	yoloPath       string
	hookClientPath string

	mu                sync.Mutex
	cycleStartTokens  uint64
	lastReportedTotal uint64
	lastReportedCost  float64
	blockedByObserver bool

	cancelBackground context.CancelFunc

	stopOnce sync.Once
}

// New constructs a Session and its owned components, but does not start
// the hook socket or the mux session — call Start for that.
func New(cfg Config) (*Session, error) {
	if cfg.Driver == nil {
		return nil, fmt.Errorf("session: Config.Driver is required")
	}
	if cfg.Name == "" {
		return nil, fmt.Errorf("session: Config.Name is required")
	}
	if cfg.SessionID == "" {
		cfg.SessionID = cfg.Driver.GenerateSessionID()
	}

	notif := cfg.Notifier
	if notif == nil {
		notif = notifier.NoOp{}
	}

	logPath := cfg.EventLogPath
	if logPath == "" {
		logPath = filepath.Join(konsolaiconfig.Dir(), "logs", cfg.SessionID+".jsonl")
	}
	if cfg.EventLogEnabled {
		if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
			return nil, fmt.Errorf("session: create log dir: %w", err)
		}
	}
	lg, err := eventlog.New(cfg.EventLogEnabled, logPath, cfg.SessionID)
	if err != nil {
		return nil, fmt.Errorf("session: open event log: %w", err)
	}

	hookClientPath := cfg.HookClientPath
	if hookClientPath == "" {
		hookClientPath = "hookclient"
	}

	s := &Session{
		ID:             cfg.SessionID,
		Name:           cfg.Name,
		Profile:        cfg.Profile,
		Command:        cfg.Command,
		WorkingDir:     cfg.WorkingDir,
		Driver:         cfg.Driver,
		socketPath:     socketdir.Path(cfg.SessionID),
		yoloPath:       socketdir.YoloPath(cfg.SessionID),
		hookClientPath: hookClientPath,
		eventLog:       lg,
		notif:          notif,
	}

	s.State = statemachine.New()
	s.Observer = observer.New(cfg.ObserverConfig)
	s.Budget = budget.NewController(cfg.Budget)
	s.Autonomy = autonomy.New(&muxKeySender{driver: cfg.Driver, name: cfg.Name}, s.shouldBlockYolo, cfg.SessionID)
	s.Autonomy.AutoContinuePrompt = cfg.AutoContinuePrompt

	s.wireSignals()
	s.Hook = hookserver.New(s.socketPath, s.handleHookEvent)

	return s, nil
}

// muxKeySender adapts a muxdriver.Driver + session name into an
// autonomy.KeySender, bounding every call with the driver's default
// per-call timeout.
type muxKeySender struct {
	driver muxdriver.Driver
	name   string
}

func (k *muxKeySender) SendKeys(text string) error {
	ctx, cancel := context.WithTimeout(context.Background(), muxdriver.DefaultCallTimeout)
	defer cancel()
	return k.driver.SendKeys(ctx, k.name, text)
}

func (k *muxKeySender) SendKeySequence(seq string) error {
	ctx, cancel := context.WithTimeout(context.Background(), muxdriver.DefaultCallTimeout)
	defer cancel()
	return k.driver.SendKeySequence(ctx, k.name, seq)
}

// shouldBlockYolo gates the AutonomyEngine per spec §4.4: blocked while
// the BudgetController has any exceeded dimension/triggered resource
// gate, or while the Observer has an active Pause/Adjust/Redirect/
// Restart intervention.
func (s *Session) shouldBlockYolo() bool {
	if s.Budget.ShouldBlockYolo() {
		return true
	}
	return s.observerBlocking()
}

func (s *Session) observerBlocking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blockedByObserver
}

// wireSignals connects Observer/Budget/Autonomy signal callbacks to the
// event log and notifier. State-transition-driven Observer feeds
// (OnStateTransition, OnPermissionRequested/OnIdle triggers) happen
// centrally in handleHookEvent, since those need the from/to pair that
// the statemachine's per-event Signals do not carry.
func (s *Session) wireSignals() {
	s.State.Signals.YoloApprovalOccurred = func() {
		s.eventLog.PermissionDecision("", "yolo_approve_occurred", "")
	}
	s.State.Signals.SubagentStarted = func(agentType string) {
		s.Observer.OnSubagentStart(time.Now(), agentType)
	}
	s.State.Signals.SubagentStopped = func(agentType string) {
		s.Observer.OnSubagentStop(time.Now(), agentType)
	}

	s.Autonomy.Signals.ApprovalLogged = func(entry autonomy.ApprovalEntry) {
		s.Observer.OnApproval(entry.Timestamp, entry.ToolName)
		s.eventLog.PermissionDecision(entry.ToolName, entry.Action, "")
	}

	s.Budget.Signals.BudgetWarning = func(kind string, percent float64) {
		s.eventLog.BudgetEvent(fmt.Sprintf("%s warning at %.1f%%", kind, percent))
		s.notif.Notify(notifier.Notification{SessionID: s.ID, Title: "Budget warning", Body: fmt.Sprintf("%s at %.0f%%", kind, percent), Severity: notifier.Warning})
	}
	s.Budget.Signals.BudgetExceeded = func(kind string) {
		s.eventLog.BudgetEvent(kind + " exceeded")
		s.notif.Notify(notifier.Notification{SessionID: s.ID, Title: "Budget exceeded", Body: kind, Severity: notifier.Urgent})
	}
	s.Budget.Signals.ResourceGateTriggered = func(reason string) {
		s.eventLog.BudgetEvent("resource gate triggered: " + reason)
	}
	s.Budget.Signals.ResourceGateCleared = func() {
		s.eventLog.BudgetEvent("resource gate cleared")
	}

	s.Observer.Signals.StuckDetected = func(ev observer.Event) {
		s.eventLog.StuckEvent(string(ev.Pattern), ev.Severity, ev.Description)
		s.notif.Notify(notifier.Notification{SessionID: s.ID, Title: string(ev.Pattern), Body: ev.Description, Severity: notifier.Warning})
	}
	s.Observer.Signals.Intervened = func(p observer.Pattern, iv observer.Intervention) {
		switch iv {
		case observer.Pause, observer.Adjust, observer.Redirect, observer.Restart:
			s.mu.Lock()
			s.blockedByObserver = true
			s.mu.Unlock()
		}
	}
	s.Observer.Signals.PatternCleared = func(observer.Pattern) {
		if s.Observer.ComposedSeverity() == 0 {
			s.mu.Lock()
			s.blockedByObserver = false
			s.mu.Unlock()
		}
	}
}

// toolNameFromData best-effort extracts a tool_name field from a hook
// event's data payload; absent/malformed data yields "".
func toolNameFromData(data json.RawMessage) string {
	if len(data) == 0 {
		return ""
	}
	var p struct {
		ToolName string `json:"tool_name"`
	}
	_ = json.Unmarshal(data, &p)
	return p.ToolName
}

// handleHookEvent is the hookserver.Handler wired into s.Hook at
// construction. It dispatches to the state machine, logs the event, and
// drives the Observer/AutonomyEngine off the resulting state transition.
func (s *Session) handleHookEvent(ctx context.Context, ev hookwire.Event) hookwire.Response {
	from := s.State.State()
	recognized := s.State.HandleHookEvent(ev.EventType, ev.Data)
	to := s.State.State()
	now := time.Now()

	s.eventLog.HookEvent(ev.EventType, toolNameFromData(ev.Data))
	if !recognized {
		s.eventLog.Error("unrecognized hook event_type: " + ev.EventType)
	}

	if from != to {
		s.eventLog.StateChange(string(from), string(to))
		s.onStateTransition(from, to, now)
	}

	return hookwire.NewResponse(ev.EventType, hookwire.PermissionDecision{Behavior: "ask"})
}

func (s *Session) onStateTransition(from, to statemachine.State, now time.Time) {
	s.mu.Lock()
	var tokenDelta uint64
	if to == statemachine.Working {
		s.cycleStartTokens = s.lastReportedTotal
	}
	if from == statemachine.Working && to == statemachine.Idle {
		if s.lastReportedTotal > s.cycleStartTokens {
			tokenDelta = s.lastReportedTotal - s.cycleStartTokens
		}
	}
	s.mu.Unlock()

	s.Observer.OnStateTransition(string(from), string(to), now, tokenDelta)

	switch to {
	case statemachine.WaitingInput:
		s.Autonomy.OnPermissionRequested("")
	case statemachine.Idle:
		s.Autonomy.OnIdle(func() bool { return s.State.State() == statemachine.Idle })
	}
}

// ReportTokenUsage feeds a fresh token/cost snapshot into the
// BudgetController and Observer. Callers (e.g. whatever parses the
// agent's own usage telemetry) invoke this as usage updates arrive; it is
// not itself driven by a hook event in this spec.
func (s *Session) ReportTokenUsage(totalTokens uint64, costUSD float64, inputTokens, outputTokens uint64) {
	s.mu.Lock()
	s.lastReportedTotal = totalTokens
	s.lastReportedCost = costUSD
	s.mu.Unlock()

	s.Budget.UpdateTokens(totalTokens, costUSD)
	s.Budget.UpdateCost(costUSD)
	s.Observer.OnTokenUpdate(time.Now(), totalTokens, costUSD, inputTokens, outputTokens)
}

// TotalTokens returns the most recently reported total token count.
func (s *Session) TotalTokens() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastReportedTotal
}

// CostUSD returns the most recently reported estimated cost.
func (s *Session) CostUSD() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastReportedCost
}

// SubmitPrompt sends text to the mux pane followed by Enter, the
// keystroke-delivery idiom shared with AutonomyEngine's own triggers
// (muxKeySender.SendKeys then SendKeySequence).
func (s *Session) SubmitPrompt(ctx context.Context, text string) error {
	if err := s.Driver.SendKeys(ctx, s.Name, text); err != nil {
		return fmt.Errorf("session: submit prompt: %w", err)
	}
	return s.Driver.SendKeySequence(ctx, s.Name, "Enter")
}

// Start creates the mux session pane, starts the hook socket, and writes
// the hook config fragment into WorkingDir/.claude/settings.local.json.
func (s *Session) Start(ctx context.Context) error {
	if err := socketdir.EnsureDir(); err != nil {
		return fmt.Errorf("session: ensure socket dir: %w", err)
	}
	if err := s.Hook.Start(); err != nil {
		return fmt.Errorf("session: start hook server: %w", err)
	}

	if err := s.Driver.NewSession(ctx, s.Name, s.Command, false, s.WorkingDir); err != nil {
		s.Hook.Stop()
		return fmt.Errorf("session: start mux session: %w", err)
	}

	if s.WorkingDir != "" {
		fragment := GenerateHookConfig(s.hookClientPath, s.socketPath)
		settingsPath := filepath.Join(s.WorkingDir, ".claude", "settings.local.json")
		if err := WriteHookConfigFragment(settingsPath, fragment); err != nil {
			return fmt.Errorf("session: write hook config: %w", err)
		}
	}

	s.State.SetState(statemachine.Starting)

	bgCtx, cancel := context.WithCancel(ctx)
	s.cancelBackground = cancel
	go s.pollL1PermissionPrompt(bgCtx)
	go s.pollBudgetTime(bgCtx)
	go s.pollObserverSweep(bgCtx)

	return nil
}

// pollL1PermissionPrompt runs the L1 300ms-cadence permission-prompt poll
// (spec.md §4.4/§5): while L1 is on, it captures the pane's last 5 lines
// and runs DetectPermissionPrompt, feeding a rising edge into the
// AutonomyEngine's own cooldown/blocked gating.
func (s *Session) pollL1PermissionPrompt(ctx context.Context) {
	ticker := time.NewTicker(l1PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.pollL1PermissionPromptOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Session) pollL1PermissionPromptOnce(ctx context.Context) {
	l1, _, _ := s.Autonomy.Levels()
	if !l1 {
		return
	}
	text, err := s.Driver.CapturePane(ctx, s.Name, -5, -1)
	if err != nil {
		return
	}
	if statemachine.DetectPermissionPrompt(text) {
		s.Autonomy.OnPermissionPromptDetected()
	}
}

// pollBudgetTime runs the BudgetController's 60s time-budget check
// (spec.md §4.6/§5) so warnings/exceeded fire off wall-clock time alone,
// independent of token/cost activity.
func (s *Session) pollBudgetTime(ctx context.Context) {
	ticker := time.NewTicker(budgetPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Budget.CheckTime(time.Now())
		case <-ctx.Done():
			return
		}
	}
}

// pollObserverSweep runs the Observer's 60s sweep (spec.md §4.7/§5).
func (s *Session) pollObserverSweep(ctx context.Context) {
	ticker := time.NewTicker(observerPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Observer.Sweep(time.Now())
		case <-ctx.Done():
			return
		}
	}
}

// Stop tears the Session down in reverse-creation order: Observer and
// BudgetController hold no external resources; AutonomyEngine's only
// resource is the .yolo sentinel file; the state machine resets to
// NotRunning; the hook socket is stopped and removed; finally, if
// killMux is set, the mux pane itself is killed (detaching instead just
// leaves it running, per the Registry/MetadataStore split of ownership
// from C6/C13).
func (s *Session) Stop(ctx context.Context, killMux bool) error {
	var stopErr error
	s.stopOnce.Do(func() {
		if s.cancelBackground != nil {
			s.cancelBackground()
		}

		os.Remove(s.yoloPath)
		s.State.SetState(statemachine.NotRunning)

		if err := s.Hook.Stop(); err != nil {
			stopErr = fmt.Errorf("session: stop hook server: %w", err)
		}

		if killMux {
			if err := s.Driver.Kill(ctx, s.Name); err != nil && stopErr == nil {
				stopErr = fmt.Errorf("session: kill mux session: %w", err)
			}
		}

		if err := s.eventLog.Close(); err != nil && stopErr == nil {
			stopErr = fmt.Errorf("session: close event log: %w", err)
		}
	})
	return stopErr
}

// SocketPath returns the session's hook socket path.
func (s *Session) SocketPath() string { return s.socketPath }

// YoloPath returns the session's L1 sentinel path.
func (s *Session) YoloPath() string { return s.yoloPath }
