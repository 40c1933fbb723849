package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"konsolai/internal/promptgate"
)

func newAssessCmd() *cobra.Command {
	var workingDir string

	cmd := &cobra.Command{
		Use:   "assess <prompt>",
		Short: "Score a prompt's quality before starting a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			assessment := promptgate.Assess(args[0], workingDir)
			out, err := json.MarshalIndent(assessment, "", "  ")
			if err != nil {
				return fmt.Errorf("marshal assessment: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&workingDir, "dir", "", "Working directory to check for a CLAUDE.md bonus")
	return cmd
}
