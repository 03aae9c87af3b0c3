// File: cmd/run.go
package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xkilldash9x/pilot-cli/internal/session"
)

// newRunCmd creates and configures the `run` command.
func newRunCmd() *cobra.Command {
	var (
		sessionName string
		noHeadless  bool
		pause       bool
	)

	runCmd := &cobra.Command{
		Use:   "run <url> <scenario>",
		Short: "Start a new agent session against the given URL",
		Args:  cobra.ExactArgs(2),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Bind flags to their Viper keys so command-line flags
			// override values from the config file and environment.
			if err := viper.BindPFlag("llm.model", cmd.Flags().Lookup("model")); err != nil {
				return err
			}
			if err := viper.BindPFlag("llm.fallback_model", cmd.Flags().Lookup("fallback-model")); err != nil {
				return err
			}
			if err := viper.BindPFlag("agent.max_steps", cmd.Flags().Lookup("max-steps")); err != nil {
				return err
			}
			if err := viper.BindPFlag("browser.viewport.width", cmd.Flags().Lookup("viewport-width")); err != nil {
				return err
			}
			if err := viper.BindPFlag("browser.viewport.height", cmd.Flags().Lookup("viewport-height")); err != nil {
				return err
			}
			return viper.BindPFlag("agent.save_screenshots", cmd.Flags().Lookup("screenshots"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			url, scenario := args[0], args[1]

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			sessionsDir, err := cfg.SessionsDir()
			if err != nil {
				return err
			}
			store := session.NewStore(sessionsDir)

			sessionID := sessionName
			if sessionID == "" {
				sessionID = session.NewSessionID()
			}

			headless := cfg.Browser.Headless && !noHeadless

			base := &session.State{
				Version:       session.Version,
				Status:        session.StatusInProgress,
				URL:           url,
				LastURL:       url,
				Scenario:      scenario,
				Model:         cfg.LLM.Model,
				FallbackModel: cfg.LLM.FallbackModel,
				Viewport: session.Viewport{
					Width:  cfg.Browser.Viewport.Width,
					Height: cfg.Browser.Viewport.Height,
				},
				Headless: headless,
				Pause:    pause,
				MaxSteps: cfg.Agent.MaxSteps,
			}

			return executeRun(cmd.Context(), runParams{
				cfg:       cfg,
				store:     store,
				sessionID: sessionID,
				base:      base,
				startURL:  url,
				pause:     pause,
			})
		},
	}

	runCmd.Flags().String("model", "", "LLM in provider/model format (default from config)")
	runCmd.Flags().String("fallback-model", "", "smarter model to escalate to when the agent gets stuck")
	runCmd.Flags().Int("max-steps", 0, "maximum number of agent steps (0 = unlimited)")
	runCmd.Flags().Int("viewport-width", 1280, "browser viewport width in pixels")
	runCmd.Flags().Int("viewport-height", 720, "browser viewport height in pixels")
	runCmd.Flags().StringVar(&sessionName, "session", "", "session name (default: generated timestamp id)")
	runCmd.Flags().BoolVar(&noHeadless, "no-headless", false, "run the browser in visible mode")
	runCmd.Flags().BoolVar(&pause, "pause", false, "pause after opening the page so you can log in manually")
	runCmd.Flags().Bool("screenshots", false, "save each step's screenshot into the session directory")

	return runCmd
}
