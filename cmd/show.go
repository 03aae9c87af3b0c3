// File: cmd/show.go
package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/pilot-cli/internal/pricing"
	"github.com/xkilldash9x/pilot-cli/internal/session"
)

// newShowCmd creates and configures the `show` command.
func newShowCmd() *cobra.Command {
	var (
		last bool
		full bool
	)

	showCmd := &cobra.Command{
		Use:   "show [session-id]",
		Short: "Show the details of a saved session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && !last {
				return fmt.Errorf("provide a session id or --last")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			sessionsDir, err := cfg.SessionsDir()
			if err != nil {
				return err
			}
			store := session.NewStore(sessionsDir)

			var sessionID string
			var state *session.State
			if last {
				entries, err := store.List()
				if err != nil {
					return err
				}
				if len(entries) == 0 {
					return fmt.Errorf("no sessions found")
				}
				sessionID, state = entries[0].ID, entries[0].State
			} else {
				sessionID = args[0]
				state, err = store.Load(sessionID)
				if err != nil {
					return err
				}
			}

			printSession(sessionID, state, full)
			return nil
		},
	}

	showCmd.Flags().BoolVar(&last, "last", false, "show the most recent session")
	showCmd.Flags().BoolVar(&full, "full", false, "include the full conversation transcript")
	return showCmd
}

func printSession(id string, state *session.State, full bool) {
	fmt.Printf("session:   %s\n", id)
	fmt.Printf("status:    %s\n", state.Status)
	fmt.Printf("scenario:  %s\n", state.Scenario)
	fmt.Printf("url:       %s\n", state.URL)
	if state.LastURL != "" && state.LastURL != state.URL {
		fmt.Printf("last url:  %s\n", state.LastURL)
	}
	fmt.Printf("model:     %s\n", state.Model)
	if state.FallbackModel != "" {
		fmt.Printf("fallback:  %s (active: %t)\n", state.FallbackModel, state.UseSmartModel)
	}
	fmt.Printf("steps:     %d\n", state.Step)
	fmt.Printf("elapsed:   %s\n", time.Duration(state.ElapsedSeconds*float64(time.Second)).Round(time.Second))
	fmt.Printf("tokens:    %d in / %d out\n", state.Usage.InputTokens, state.Usage.OutputTokens)

	total := 0.0
	known := false
	for model, usage := range state.UsageByModel {
		if cost, ok := pricing.EstimateCost(model, usage); ok {
			total += cost
			known = true
		}
	}
	if !known {
		if cost, ok := pricing.EstimateCost(state.Model, state.Usage); ok {
			total, known = cost, true
		}
	}
	if known {
		fmt.Printf("cost:      $%.4f\n", total)
	}

	if full {
		fmt.Println("\nconversation:")
		for i, msg := range state.Conversation {
			fmt.Printf("\n[%d] %s:\n%s\n", i+1, msg.Role, msg.Content)
		}
	}
}
