// File: cmd/list.go
package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/pilot-cli/internal/session"
)

// newListCmd creates and configures the `list` command.
func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			sessionsDir, err := cfg.SessionsDir()
			if err != nil {
				return err
			}

			entries, err := session.NewStore(sessionsDir).List()
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("No sessions found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SESSION\tSTATUS\tSTEPS\tMODEL\tSCENARIO")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
					e.ID, e.State.Status, e.State.Step, e.State.Model,
					clip(e.State.Scenario, 60))
			}
			return w.Flush()
		},
	}
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
