package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"konsolai/internal/observer"
	"konsolai/internal/oneshot"
	"konsolai/internal/registry"
	"konsolai/internal/session"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Create, attach to, list, and stop supervised sessions",
	}
	cmd.AddCommand(newSessionCreateCmd(), newSessionAttachCmd(), newSessionLsCmd(), newSessionStopCmd())
	return cmd
}

// newSessionCreateCmd is the foreground-blocking session driver: there is
// no daemon-fork component in this control plane's package set (unlike
// dcosson-h2's session.ForkDaemon), so the process that runs `session
// create` owns the Session for its whole lifetime, exiting only on
// SIGINT/SIGTERM or (in --prompt mode) when the one-shot run completes.
func newSessionCreateCmd() *cobra.Command {
	var profile, command, workingDir, name, prompt, model string
	var timeLimit int
	var costCeiling float64
	var tokenCeiling uint64
	var yoloLevel int
	var useGsd bool

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Start a new supervised session",
		Long: `Start a new tmux-backed session under supervision.

Without --prompt, blocks in the foreground printing periodic status until
interrupted (Ctrl-C), then tears the session down. With --prompt, drives a
one-shot run: dispatches the prompt on the session's first Idle transition
and exits once the agent reports NotRunning, printing the run's Result as
JSON.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			appCtx, err := loadAppContext()
			if err != nil {
				return err
			}

			if profile == "" {
				profile = "default"
			}
			if command == "" {
				command = "claude"
			}
			if workingDir == "" {
				wd, err := os.Getwd()
				if err != nil {
					return fmt.Errorf("resolve working directory: %w", err)
				}
				workingDir = wd
			}

			id := appCtx.Driver.GenerateSessionID()
			if name == "" {
				tmpl := strings.ReplaceAll(appCtx.Config.NameTemplate, "{prefix}", appCtx.Config.SessionPrefix)
				name = appCtx.Driver.BuildSessionName(profile, id, tmpl)
			}

			sess, err := session.New(session.Config{
				SessionID:       id,
				Name:            name,
				Profile:         profile,
				Command:         command,
				WorkingDir:      workingDir,
				Driver:          appCtx.Driver,
				ObserverConfig:  observer.DefaultConfig(),
				Notifier:        appCtx.Notifier,
				EventLogEnabled: true,
			})
			if err != nil {
				return fmt.Errorf("construct session: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := sess.Start(ctx); err != nil {
				return fmt.Errorf("start session: %w", err)
			}

			if err := appCtx.Registry.Register(registry.Handle{
				Name: name, Profile: profile, ID: id, WorkingDir: workingDir,
			}); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: registry register failed: %v\n", err)
			}

			ctrl := oneshot.New(oneshot.Config{
				Prompt:           prompt,
				WorkingDir:       workingDir,
				Model:            model,
				TimeLimitMinutes: timeLimit,
				CostCeilingUSD:   costCeiling,
				TokenCeiling:     tokenCeiling,
				YoloLevel:        yoloLevel,
				UseGsd:           useGsd,
			})
			ctrl.AttachToSession(sess)

			done := make(chan oneshot.Result, 1)
			ctrl.Signals.Completed = func(r oneshot.Result) { done <- r }
			ctrl.Start(ctx)

			fmt.Fprintf(cmd.ErrOrStderr(), "session %q started in %q\n", name, workingDir)

			if prompt != "" {
				select {
				case result := <-done:
					ctrl.Stop()
					sess.Stop(context.Background(), true)
					appCtx.Registry.Unregister(name)
					return printResult(cmd, result)
				case <-ctx.Done():
					ctrl.Stop()
					sess.Stop(context.Background(), true)
					appCtx.Registry.Unregister(name)
					return nil
				}
			}

			ticker := time.NewTicker(2 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					fmt.Fprintf(cmd.ErrOrStderr(), "%s  %s\n", ctrl.FormatStateLabel(), ctrl.FormatBudgetStatus())
				case <-ctx.Done():
					ctrl.Stop()
					sess.Stop(context.Background(), true)
					appCtx.Registry.Unregister(name)
					return nil
				}
			}
		},
	}

	cmd.Flags().StringVar(&profile, "profile", "default", "Session profile name")
	cmd.Flags().StringVar(&command, "command", "claude", "Agent CLI command to launch in the pane")
	cmd.Flags().StringVar(&workingDir, "dir", "", "Working directory (defaults to cwd)")
	cmd.Flags().StringVar(&name, "name", "", "Session name (auto-generated if omitted)")
	cmd.Flags().StringVar(&prompt, "prompt", "", "Run one-shot with this prompt, exiting on completion")
	cmd.Flags().StringVar(&model, "model", "", "Agent model identifier, recorded in the one-shot configuration")
	cmd.Flags().IntVar(&timeLimit, "time-limit", 0, "Time limit in minutes (0 = unbounded)")
	cmd.Flags().Float64Var(&costCeiling, "cost-ceiling", 0, "Cost ceiling in USD (0 = unbounded)")
	cmd.Flags().Uint64Var(&tokenCeiling, "token-ceiling", 0, "Token ceiling (0 = unbounded)")
	cmd.Flags().IntVar(&yoloLevel, "yolo", 0, "Cumulative autonomy level: 0=none, 1=L1, 2=L1+L2, 3=L1+L2+L3")
	cmd.Flags().BoolVar(&useGsd, "gsd", false, "Prefix the one-shot prompt with 'Use /gsd:new-project: '")

	return cmd
}

func printResult(cmd *cobra.Command, result oneshot.Result) error {
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	if !result.Success {
		return fmt.Errorf("one-shot run finished with errors")
	}
	return nil
}

// newSessionAttachCmd shells directly to the multiplexer binary: per
// muxdriver.Driver.Attach's own contract, the Driver only validates a
// session exists — actual terminal attach happens client-side, outside
// the Driver abstraction entirely.
func newSessionAttachCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "attach <name>",
		Short: "Attach a terminal to a running session's tmux pane",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			appCtx, err := loadAppContext()
			if err != nil {
				return err
			}

			ctx := context.Background()
			if err := appCtx.Driver.Attach(ctx, name); err != nil {
				return sessionConnError(appCtx, name)
			}
			appCtx.Registry.MarkAttached(name)

			tmux := exec.Command("tmux", "attach-session", "-t", name)
			tmux.Stdin = os.Stdin
			tmux.Stdout = os.Stdout
			tmux.Stderr = os.Stderr
			err = tmux.Run()
			appCtx.Registry.MarkDetached(name)
			return err
		},
	}
}

func newSessionLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List known sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			appCtx, err := loadAppContext()
			if err != nil {
				return err
			}
			if err := appCtx.Registry.Refresh(); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: registry refresh failed: %v\n", err)
			}

			states := appCtx.Registry.All()
			if len(states) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No known sessions.")
				return nil
			}
			for _, st := range states {
				flags := appCtx.MetaStore.Get(st.Name)
				symbol := "○"
				if st.Attached {
					symbol = "●"
				}
				suffix := ""
				if flags.IsPinned {
					suffix += " [pinned]"
				}
				if flags.IsArchived {
					suffix += " [archived]"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %-28s %-12s %s%s\n", symbol, st.Name, st.Profile, st.WorkingDir, suffix)
			}
			return nil
		},
	}
}

func newSessionStopCmd() *cobra.Command {
	var kill bool

	cmd := &cobra.Command{
		Use:   "stop <name>",
		Short: "Stop supervising a session, optionally killing its tmux pane",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			appCtx, err := loadAppContext()
			if err != nil {
				return err
			}
			if kill {
				if err := appCtx.Driver.Kill(context.Background(), name); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: kill failed: %v\n", err)
				}
			}
			return appCtx.Registry.Unregister(name)
		},
	}

	cmd.Flags().BoolVar(&kill, "kill", false, "Also kill the underlying tmux session")
	return cmd
}
