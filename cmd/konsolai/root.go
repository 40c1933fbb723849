package main

import (
	"github.com/spf13/cobra"

	"konsolai/internal/konsolaiconfig"
)

// newRootCmd creates the root cobra command with all subcommands,
// following dcosson-h2's NewRootCmd: a PersistentPreRunE that resolves
// shared config/state before every subcommand except the ones that must
// work without it.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "konsolai",
		Short: "Operator control plane for long-running AI coding-agent sessions",
		Long:  "konsolai supervises AI coding-agent sessions running inside tmux: state derivation, budget enforcement, stuck-pattern detection, tiered autonomy, and one-shot orchestration.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch cmd.Name() {
			case "version", "help", "completion":
				return nil
			}
			return konsolaiconfig.EnsureDirExists()
		},
	}

	sessionCmd := newSessionCmd()
	rootCmd.AddCommand(
		sessionCmd,
		newStatusCmd(),
		newBudgetCmd(),
		newTemplatesCmd(),
		newAssessCmd(),
		newVersionCmd(),
	)

	return rootCmd
}
