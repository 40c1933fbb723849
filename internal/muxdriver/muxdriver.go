// Package muxdriver shells out to an external terminal multiplexer (tmux)
// on behalf of a Session. It never manages a PTY in-process: the
// multiplexer binary owns the pane, per the core's explicit non-goal of
// implementing the multiplexer protocol itself.
package muxdriver

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/shlex"
)

// DefaultCallTimeout is the default per-call timeout for mux operations.
const DefaultCallTimeout = 10 * time.Second

// SessionInfo describes a multiplexer session as reported by list().
type SessionInfo struct {
	Name     string
	Windows  int
	Created  time.Time
	Attached bool
}

// Driver is the C1 MuxDriver contract. A nonzero exit or timeout surfaces
// as a non-nil error; callers decide what to do (Session transitions to
// Error, or a non-critical path like CapturePane returns empty).
type Driver interface {
	IsAvailable(ctx context.Context) bool
	Version(ctx context.Context) (string, error)
	GenerateSessionID() string
	BuildSessionName(profile, id, template string) string
	NewSession(ctx context.Context, name, command string, attachIfExisting bool, workingDir string) error
	Attach(ctx context.Context, name string) error
	Detach(ctx context.Context, name string) error
	Kill(ctx context.Context, name string) error
	List(ctx context.Context) ([]SessionInfo, error)
	Exists(ctx context.Context, name string) (bool, error)
	SendKeys(ctx context.Context, name, text string) error
	SendKeySequence(ctx context.Context, name, seq string) error
	CapturePane(ctx context.Context, name string, startLine, endLine int) (string, error)
	PaneWorkingDirectory(ctx context.Context, name string) (string, error)
}

// TmuxDriver is the real Driver implementation, shelling out to the tmux
// binary with bounded timeouts, following dcosson-h2's
// internal/bridge.ExecCommand idiom (exec.LookPath, exec.CommandContext
// with a timeout, CombinedOutput).
type TmuxDriver struct {
	// CallTimeout bounds every shell-out. Defaults to DefaultCallTimeout.
	CallTimeout time.Duration
	// Binary overrides the tmux executable name, for tests.
	Binary string
}

// NewTmuxDriver returns a TmuxDriver with default settings.
func NewTmuxDriver() *TmuxDriver {
	return &TmuxDriver{CallTimeout: DefaultCallTimeout, Binary: "tmux"}
}

func (d *TmuxDriver) binary() string {
	if d.Binary != "" {
		return d.Binary
	}
	return "tmux"
}

func (d *TmuxDriver) timeout() time.Duration {
	if d.CallTimeout > 0 {
		return d.CallTimeout
	}
	return DefaultCallTimeout
}

func (d *TmuxDriver) run(ctx context.Context, args ...string) (string, error) {
	path, err := exec.LookPath(d.binary())
	if err != nil {
		return "", fmt.Errorf("muxdriver: tmux not found in PATH: %w", err)
	}
	callCtx, cancel := context.WithTimeout(ctx, d.timeout())
	defer cancel()
	cmd := exec.CommandContext(callCtx, path, args...)
	out, err := cmd.CombinedOutput()
	output := strings.TrimRight(string(out), "\n")
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return output, fmt.Errorf("muxdriver: tmux %v timed out after %s: %s", args, d.timeout(), output)
		}
		return output, fmt.Errorf("muxdriver: tmux %v failed: %w: %s", args, err, output)
	}
	return output, nil
}

// IsAvailable checks whether tmux is reachable and responsive.
func (d *TmuxDriver) IsAvailable(ctx context.Context) bool {
	_, err := d.run(ctx, "-V")
	return err == nil
}

// Version returns tmux's reported version string.
func (d *TmuxDriver) Version(ctx context.Context) (string, error) {
	return d.run(ctx, "-V")
}

// GenerateSessionID returns 8 lowercase hex characters, uniformly random.
func (d *TmuxDriver) GenerateSessionID() string {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand failing is exceptional; fall back to a time-derived
		// id rather than panicking a session-creation path.
		return fmt.Sprintf("%08x", time.Now().UnixNano()&0xffffffff)
	}
	return hex.EncodeToString(b[:])
}

// BuildSessionName renders template, substituting {profile} and {id}, then
// sanitizes the result: colons and periods are forbidden (they collide
// with tmux target syntax) and are replaced with '-'.
func (d *TmuxDriver) BuildSessionName(profile, id, template string) string {
	if template == "" {
		template = "konsolai-{profile}-{id}"
	}
	name := strings.NewReplacer("{profile}", profile, "{id}", id).Replace(template)
	name = strings.ReplaceAll(name, ":", "-")
	name = strings.ReplaceAll(name, ".", "-")
	return name
}

// NewSession idempotently creates-or-attaches a named session.
func (d *TmuxDriver) NewSession(ctx context.Context, name, command string, attachIfExisting bool, workingDir string) error {
	exists, err := d.Exists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		if attachIfExisting {
			return nil
		}
		return fmt.Errorf("muxdriver: session %q already exists", name)
	}
	args := []string{"new-session", "-d", "-s", name}
	if workingDir != "" {
		args = append(args, "-c", workingDir)
	}
	if command != "" {
		argv, err := shlex.Split(command)
		if err != nil {
			return fmt.Errorf("muxdriver: invalid command %q: %w", command, err)
		}
		args = append(args, argv...)
	}
	_, err = d.run(ctx, args...)
	return err
}

// Attach attaches to an existing session (no-op from a headless driver's
// perspective beyond validating it exists; actual terminal attach happens
// client-side outside this process).
func (d *TmuxDriver) Attach(ctx context.Context, name string) error {
	exists, err := d.Exists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("muxdriver: session %q does not exist", name)
	}
	return nil
}

// Detach detaches all clients from a session.
func (d *TmuxDriver) Detach(ctx context.Context, name string) error {
	_, err := d.run(ctx, "detach-client", "-s", name)
	return err
}

// Kill kills a session.
func (d *TmuxDriver) Kill(ctx context.Context, name string) error {
	_, err := d.run(ctx, "kill-session", "-t", name)
	return err
}

var listFormat = "#{session_name}\t#{session_windows}\t#{session_created}\t#{session_attached}"

// List returns all multiplexer sessions (not filtered by prefix; callers
// filter for the core's own sessions).
func (d *TmuxDriver) List(ctx context.Context) ([]SessionInfo, error) {
	out, err := d.run(ctx, "list-sessions", "-F", listFormat)
	if err != nil {
		if strings.Contains(out, "no server running") || strings.Contains(err.Error(), "no server running") {
			return nil, nil
		}
		return nil, err
	}
	return parseSessionList(out), nil
}

func parseSessionList(output string) []SessionInfo {
	if strings.TrimSpace(output) == "" {
		return nil
	}
	var sessions []SessionInfo
	for _, line := range strings.Split(output, "\n") {
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 4 {
			continue
		}
		windows, _ := strconv.Atoi(fields[1])
		createdUnix, _ := strconv.ParseInt(fields[2], 10, 64)
		sessions = append(sessions, SessionInfo{
			Name:     fields[0],
			Windows:  windows,
			Created:  time.Unix(createdUnix, 0),
			Attached: fields[3] == "1",
		})
	}
	return sessions
}

// Exists reports whether a named session currently exists.
func (d *TmuxDriver) Exists(ctx context.Context, name string) (bool, error) {
	_, err := d.run(ctx, "has-session", "-t", name)
	if err != nil {
		if strings.Contains(err.Error(), "can't find session") {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// SendKeys sends literal text to a pane, followed by no implicit Enter.
func (d *TmuxDriver) SendKeys(ctx context.Context, name, text string) error {
	_, err := d.run(ctx, "send-keys", "-t", name, "-l", text)
	return err
}

// SendKeySequence sends one or more named keys (e.g. "C-c", "Tab", "Enter").
func (d *TmuxDriver) SendKeySequence(ctx context.Context, name, seq string) error {
	_, err := d.run(ctx, "send-keys", "-t", name, seq)
	return err
}

// CapturePane returns pane scrollback between startLine and endLine
// (tmux's own -S/-E semantics: negative is "N lines back from bottom").
func (d *TmuxDriver) CapturePane(ctx context.Context, name string, startLine, endLine int) (string, error) {
	out, err := d.run(ctx, "capture-pane", "-t", name, "-p",
		"-S", strconv.Itoa(startLine), "-E", strconv.Itoa(endLine))
	if err != nil {
		return "", err
	}
	return out, nil
}

// PaneWorkingDirectory queries the current working directory of a pane.
func (d *TmuxDriver) PaneWorkingDirectory(ctx context.Context, name string) (string, error) {
	return d.run(ctx, "display-message", "-p", "-t", name, "#{pane_current_path}")
}

// SessionNamePattern matches "<prefix>-<profile>-<id>" names, id being 8
// lowercase hex characters, per spec §3/§4.5.
func SessionNamePattern(prefix string) *regexp.Regexp {
	return regexp.MustCompile(`^` + regexp.QuoteMeta(prefix) + `-(.+)-([a-f0-9]{8})$`)
}
