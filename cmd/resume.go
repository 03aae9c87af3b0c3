// File: cmd/resume.go
package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/pilot-cli/internal/agent"
	"github.com/xkilldash9x/pilot-cli/internal/session"
)

// newResumeCmd creates and configures the `resume` command.
func newResumeCmd() *cobra.Command {
	var last bool

	resumeCmd := &cobra.Command{
		Use:   "resume [session-id]",
		Short: "Continue an interrupted or in-progress session",
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
				entry, err := store.FindLatestResumable()
				if err != nil {
					return err
				}
				sessionID, state = entry.ID, entry.State
			} else {
				sessionID = args[0]
				state, err = store.LoadResumable(sessionID)
				if err != nil {
					return err
				}
			}

			resume := &agent.ResumeState{
				Conversation:       session.DeserializeConversation(state.Conversation),
				Step:               state.Step,
				Elapsed:            time.Duration(state.ElapsedSeconds * float64(time.Second)),
				UseSmartModel:      state.UseSmartModel,
				ScreenshotCounts:   state.ScreenshotCounts,
				ScreenshotWarnings: state.ScreenshotWarnings,
				Usage:              state.Usage,
				UsageByModel:       state.UsageByModel,
			}

			startURL := state.LastURL
			if startURL == "" {
				startURL = state.URL
			}

			return executeRun(cmd.Context(), runParams{
				cfg:       cfg,
				store:     store,
				sessionID: sessionID,
				base:      state,
				resume:    resume,
				startURL:  startURL,
				pause:     state.Pause,
			})
		},
	}

	resumeCmd.Flags().BoolVar(&last, "last", false, "resume the most recent resumable session")
	return resumeCmd
}
