package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"konsolai/internal/prompttemplate"
)

func newTemplatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "List, show, and instantiate reusable prompt templates",
	}
	cmd.AddCommand(newTemplatesListCmd(), newTemplatesShowCmd(), newTemplatesInstantiateCmd())
	return cmd
}

func newTemplatesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List built-in and user templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, t := range prompttemplate.AllTemplates() {
				fmt.Fprintf(cmd.OutOrStdout(), "%-10s %-16s yolo=%d cost=$%.2f-$%.2f\n",
					t.ID, t.Name, t.SuggestedYoloLevel, t.EstimatedCostMin, t.EstimatedCostMax)
			}
			return nil
		},
	}
}

func findTemplate(id string) (prompttemplate.Template, bool) {
	for _, t := range prompttemplate.AllTemplates() {
		if t.ID == id {
			return t, true
		}
	}
	return prompttemplate.Template{}, false
}

func newTemplatesShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a template's full definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, ok := findTemplate(args[0])
			if !ok {
				return fmt.Errorf("no template named %q", args[0])
			}
			out, err := json.MarshalIndent(t, "", "  ")
			if err != nil {
				return fmt.Errorf("marshal template: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}

func newTemplatesInstantiateCmd() *cobra.Command {
	var fields []string
	var save bool

	cmd := &cobra.Command{
		Use:   "instantiate <id>",
		Short: "Fill in a template's placeholders and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, ok := findTemplate(args[0])
			if !ok {
				return fmt.Errorf("no template named %q", args[0])
			}

			values := make(map[string]string, len(fields))
			for _, kv := range fields {
				k, v, found := splitKV(kv)
				if !found {
					return fmt.Errorf("--field must be key=value, got %q", kv)
				}
				values[k] = v
			}

			var missing []string
			for _, req := range t.RequiredFields {
				if _, ok := values[req]; !ok {
					missing = append(missing, req)
				}
			}
			if len(missing) > 0 {
				return fmt.Errorf("missing required fields: %v", missing)
			}

			fmt.Fprintln(cmd.OutOrStdout(), prompttemplate.Instantiate(t, values))

			if save {
				return prompttemplate.SaveUserTemplate(t)
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&fields, "field", nil, "key=value substitution, may be repeated")
	cmd.Flags().BoolVar(&save, "save", false, "Persist this template to the user template directory")
	return cmd
}

func splitKV(s string) (key, value string, ok bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == '=' {
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}
