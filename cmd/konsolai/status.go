package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newStatusCmd renders a session's persisted state. There is no live
// status-query RPC in this control plane — HookServer's wire protocol is
// strictly inbound (sidecar-to-session event frames with a permission
// decision reply; see internal/hookserver), so "status" reads the last
// state Registry/MetadataStore observed rather than reaching into a
// running process. `session create` registers the session once at start
// and unregisters it on exit, and `session attach` marks it attached and
// detached; the Registry holds no agent state, so no live state is shown.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <name>",
		Short: "Show a session's last known persisted state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			appCtx, err := loadAppContext()
			if err != nil {
				return err
			}

			if err := appCtx.Registry.Refresh(); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: registry refresh failed: %v\n", err)
			}

			st, ok := appCtx.Registry.Find(name)
			if !ok {
				return sessionConnError(appCtx, name)
			}
			flags := appCtx.MetaStore.Get(name)

			fmt.Fprintf(cmd.OutOrStdout(), "name:          %s\n", st.Name)
			fmt.Fprintf(cmd.OutOrStdout(), "profile:       %s\n", st.Profile)
			fmt.Fprintf(cmd.OutOrStdout(), "id:            %s\n", st.ID)
			fmt.Fprintf(cmd.OutOrStdout(), "working_dir:   %s\n", st.WorkingDir)
			fmt.Fprintf(cmd.OutOrStdout(), "attached:      %v\n", st.Attached)
			fmt.Fprintf(cmd.OutOrStdout(), "created_at:    %s\n", st.CreatedAt.Format("2006-01-02 15:04:05"))
			fmt.Fprintf(cmd.OutOrStdout(), "last_accessed: %s\n", st.LastAccessed.Format("2006-01-02 15:04:05"))
			fmt.Fprintf(cmd.OutOrStdout(), "pinned:        %v\n", flags.IsPinned)
			fmt.Fprintf(cmd.OutOrStdout(), "archived:      %v\n", flags.IsArchived)
			fmt.Fprintf(cmd.OutOrStdout(), "expired:       %v\n", flags.IsExpired)
			return nil
		},
	}
}
