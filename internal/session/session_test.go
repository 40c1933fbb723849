package session

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"konsolai/internal/budget"
	"konsolai/internal/hookwire"
	"konsolai/internal/muxdriver"
	"konsolai/internal/statemachine"
)

type fakeDriver struct {
	muxdriver.Driver
	newSessionCalls int
	killCalls       int
	keysSent        []string
	seqsSent        []string
	paneContent     string
}

func (f *fakeDriver) GenerateSessionID() string { return "abcd1234" }

func (f *fakeDriver) NewSession(ctx context.Context, name, command string, attachIfExisting bool, workingDir string) error {
	f.newSessionCalls++
	return nil
}

func (f *fakeDriver) Kill(ctx context.Context, name string) error {
	f.killCalls++
	return nil
}

func (f *fakeDriver) SendKeys(ctx context.Context, name, text string) error {
	f.keysSent = append(f.keysSent, text)
	return nil
}

func (f *fakeDriver) SendKeySequence(ctx context.Context, name, seq string) error {
	f.seqsSent = append(f.seqsSent, seq)
	return nil
}

func (f *fakeDriver) CapturePane(ctx context.Context, name string, startLine, endLine int) (string, error) {
	return f.paneContent, nil
}

func newTestSession(t *testing.T, driver *fakeDriver, workingDir string) *Session {
	t.Helper()
	t.Setenv("KONSOLAI_DATA_DIR", t.TempDir())
	s, err := New(Config{
		Name:       "konsolai-default-abcd1234",
		Profile:    "default",
		Command:    "claude",
		WorkingDir: workingDir,
		Driver:     driver,
		Budget:     budget.Budget{},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestNewRequiresDriverAndName(t *testing.T) {
	if _, err := New(Config{Name: "x"}); err == nil {
		t.Error("expected error for missing Driver")
	}
	if _, err := New(Config{Driver: &fakeDriver{}}); err == nil {
		t.Error("expected error for missing Name")
	}
}

func TestStartWritesHookConfigAndStartsSocket(t *testing.T) {
	driver := &fakeDriver{}
	workDir := t.TempDir()
	s := newTestSession(t, driver, workDir)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(context.Background(), false)

	if driver.newSessionCalls != 1 {
		t.Errorf("newSessionCalls = %d, want 1", driver.newSessionCalls)
	}

	settingsPath := filepath.Join(workDir, ".claude", "settings.local.json")
	data, err := os.ReadFile(settingsPath)
	if err != nil {
		t.Fatalf("read settings: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("parse settings: %v", err)
	}
	hooks, ok := doc["hooks"].(map[string]any)
	if !ok {
		t.Fatal("expected a hooks object")
	}
	if _, ok := hooks["PreToolUse"]; !ok {
		t.Error("expected PreToolUse to be present in hooks fragment")
	}

	conn, err := dialRetry(s.SocketPath(), 2*time.Second)
	if err != nil {
		t.Fatalf("dial hook socket: %v", err)
	}
	defer conn.Close()
	if err := hookwire.Encode(conn, hookwire.Event{EventType: "Stop", SessionID: s.ID}); err != nil {
		t.Fatalf("Encode: %v", err)
	}
}

func dialRetry(path string, timeout time.Duration) (net.Conn, error) {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		c, dialErr := net.Dial("unix", path)
		if dialErr == nil {
			return c, nil
		}
		lastErr = dialErr
		time.Sleep(10 * time.Millisecond)
	}
	return nil, lastErr
}

func TestHandleHookEventTransitionsStateAndFiresAutonomy(t *testing.T) {
	driver := &fakeDriver{}
	s := newTestSession(t, driver, "")
	s.Autonomy.SetL1(true, s.YoloPath(), false)

	resp := s.handleHookEvent(context.Background(), hookwire.Event{
		EventType: "PreToolUse",
		Data:      json.RawMessage(`{"tool_name":"Bash"}`),
	})
	if resp.HookSpecificOutput.HookEventName != "PreToolUse" {
		t.Errorf("response event name = %q", resp.HookSpecificOutput.HookEventName)
	}
	if s.State.State() != statemachine.Working {
		t.Errorf("state = %v, want Working", s.State.State())
	}

	s.handleHookEvent(context.Background(), hookwire.Event{EventType: "PermissionRequest", Data: json.RawMessage(`{}`)})
	if s.State.State() != statemachine.WaitingInput {
		t.Fatalf("state = %v, want WaitingInput", s.State.State())
	}

	deadline := time.Now().Add(1 * time.Second)
	for len(driver.seqsSent) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if len(driver.seqsSent) == 0 {
		t.Error("expected L1 autonomy to send a key sequence after PermissionRequest")
	}

	s.handleHookEvent(context.Background(), hookwire.Event{EventType: "Stop", Data: json.RawMessage(`{}`)})
	if s.State.State() != statemachine.Idle {
		t.Errorf("state = %v, want Idle", s.State.State())
	}
}

func TestReportTokenUsageUpdatesBudgetController(t *testing.T) {
	driver := &fakeDriver{}
	s := newTestSession(t, driver, "")
	s.Budget.SetBudget(budget.Budget{TokenCeiling: 100, WarningThresholdPercent: 50})

	var warned bool
	s.Budget.Signals.BudgetWarning = func(kind string, percent float64) {
		if kind == "token" {
			warned = true
		}
	}

	s.ReportTokenUsage(60, 0.01, 40, 20)
	if !warned {
		t.Error("expected a token budget warning at 60% of a 100-token ceiling")
	}
	if s.TotalTokens() != 60 {
		t.Errorf("TotalTokens() = %d, want 60", s.TotalTokens())
	}
}

func TestPollL1PermissionPromptOnceSendsEnterOnDetectedPrompt(t *testing.T) {
	driver := &fakeDriver{paneContent: "some output\n❯ 1. Yes\n  2. No"}
	s := newTestSession(t, driver, "")
	s.Autonomy.SetL1(true, s.YoloPath(), false)

	s.pollL1PermissionPromptOnce(context.Background())

	if len(driver.seqsSent) != 1 || driver.seqsSent[0] != "Enter" {
		t.Errorf("seqsSent = %v, want a single Enter", driver.seqsSent)
	}
}

func TestPollL1PermissionPromptOnceSkipsWhenL1Off(t *testing.T) {
	driver := &fakeDriver{paneContent: "❯ 1. Yes"}
	s := newTestSession(t, driver, "")

	s.pollL1PermissionPromptOnce(context.Background())

	if len(driver.seqsSent) != 0 {
		t.Errorf("seqsSent = %v, want none with L1 off", driver.seqsSent)
	}
}

func TestPollL1PermissionPromptOnceIgnoresNonPromptText(t *testing.T) {
	driver := &fakeDriver{paneContent: "just some regular output"}
	s := newTestSession(t, driver, "")
	s.Autonomy.SetL1(true, s.YoloPath(), false)

	s.pollL1PermissionPromptOnce(context.Background())

	if len(driver.seqsSent) != 0 {
		t.Errorf("seqsSent = %v, want none without a detected prompt", driver.seqsSent)
	}
}

func TestStartWiresBackgroundPollersAndStopCancelsThem(t *testing.T) {
	driver := &fakeDriver{}
	s := newTestSession(t, driver, t.TempDir())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.cancelBackground == nil {
		t.Fatal("expected Start to set cancelBackground")
	}
	if err := s.Stop(context.Background(), false); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestStopIsIdempotentAndRemovesYoloSentinel(t *testing.T) {
	driver := &fakeDriver{}
	s := newTestSession(t, driver, t.TempDir())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Autonomy.SetL1(true, s.YoloPath(), false)
	if _, err := os.Stat(s.YoloPath()); err != nil {
		t.Fatalf("expected yolo sentinel to exist: %v", err)
	}

	if err := s.Stop(context.Background(), true); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if driver.killCalls != 1 {
		t.Errorf("killCalls = %d, want 1", driver.killCalls)
	}
	if _, err := os.Stat(s.YoloPath()); !os.IsNotExist(err) {
		t.Error("expected yolo sentinel to be removed on Stop")
	}

	if err := s.Stop(context.Background(), true); err != nil {
		t.Fatalf("second Stop should be a no-op, got: %v", err)
	}
	if driver.killCalls != 1 {
		t.Errorf("killCalls after second Stop = %d, want still 1", driver.killCalls)
	}
}
