package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"konsolai/internal/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the konsolai version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version.DisplayVersion())
			return nil
		},
	}
}
