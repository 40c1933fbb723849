// Command hookclient is the C3 sidecar binary: it reads a single JSON
// hook payload from stdin, augments it with session_id (from
// KONSOLAI_SESSION_ID) and working_dir (from PWD), and writes one framed
// event to the session's HookServer socket.
//
// Grounded on dcosson-h2/internal/cmd/permission_request.go's
// stdin-read + cobra-flag + net.Dial idiom, generalized from a single
// hardcoded hook into a generic event forwarder driven by --event.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"

	"konsolai/internal/hookwire"
)

const (
	exitOK             = 0
	exitBadArgs        = 1
	exitConnectFailure = 2
	exitWriteFailure   = 3
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Environ()))
}

// run builds and executes the hookclient command, returning the process
// exit code. Factored out of main for testability.
func run(args []string, stdin io.Reader, environ []string) int {
	env := parseEnviron(environ)
	exitCode := exitOK

	cmd := newCmd(&exitCode, stdin, env)
	cmd.SetArgs(args)

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "hookclient:", err)
		if exitCode == exitOK {
			exitCode = exitBadArgs
		}
		return exitCode
	}
	return exitOK
}

func parseEnviron(environ []string) map[string]string {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				env[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	return env
}

func newCmd(exitCode *int, stdin io.Reader, env map[string]string) *cobra.Command {
	var (
		socketPath string
		eventType  string
		timeout    time.Duration
	)

	cmd := &cobra.Command{
		Use:           "hookclient",
		Short:         "Forward a hook payload from stdin to a konsolai session socket",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetIn(stdin)
	cmd.Flags().StringVar(&socketPath, "socket", "", "path to the session's hook socket (required)")
	cmd.Flags().StringVar(&eventType, "event", "", "hook event type, e.g. PreToolUse, Stop (required)")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "connect timeout")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		if socketPath == "" || eventType == "" {
			*exitCode = exitBadArgs
			return fmt.Errorf("--socket and --event are required")
		}

		raw, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			*exitCode = exitBadArgs
			return fmt.Errorf("read stdin: %w", err)
		}

		var data map[string]any
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &data); err != nil {
				*exitCode = exitBadArgs
				return fmt.Errorf("parse stdin JSON: %w", err)
			}
		} else {
			data = map[string]any{}
		}

		sessionID := env["KONSOLAI_SESSION_ID"]
		workingDir := env["PWD"]
		if sessionID != "" {
			data["session_id"] = sessionID
		}
		if workingDir != "" {
			data["working_dir"] = workingDir
		}

		payload, err := json.Marshal(data)
		if err != nil {
			*exitCode = exitBadArgs
			return fmt.Errorf("marshal augmented payload: %w", err)
		}

		conn, err := net.DialTimeout("unix", socketPath, timeout)
		if err != nil {
			*exitCode = exitConnectFailure
			return fmt.Errorf("connect to %s: %w", socketPath, err)
		}
		defer conn.Close()

		ev := hookwire.Event{
			EventType:  eventType,
			Data:       payload,
			SessionID:  sessionID,
			WorkingDir: workingDir,
		}
		if err := hookwire.Encode(conn, ev); err != nil {
			*exitCode = exitWriteFailure
			return fmt.Errorf("write event: %w", err)
		}

		return nil
	}

	return cmd
}
