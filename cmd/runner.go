// File: cmd/runner.go
package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pilot-cli/internal/agent"
	"github.com/xkilldash9x/pilot-cli/internal/browser"
	"github.com/xkilldash9x/pilot-cli/internal/config"
	"github.com/xkilldash9x/pilot-cli/internal/console"
	"github.com/xkilldash9x/pilot-cli/internal/llm"
	"github.com/xkilldash9x/pilot-cli/internal/observability"
	"github.com/xkilldash9x/pilot-cli/internal/pricing"
	"github.com/xkilldash9x/pilot-cli/internal/session"
)

// ErrRunFailed marks a run that finished without accomplishing the
// scenario. main translates it into exit code 1 without re-printing.
var ErrRunFailed = errors.New("scenario failed")

// runParams carries everything executeRun needs, assembled by the run
// and resume commands.
type runParams struct {
	cfg       *config.Config
	store     *session.Store
	sessionID string
	// base holds the static session fields; executeRun fills in the
	// per-step state on every checkpoint.
	base *session.State
	// resume is non-nil when continuing a checkpointed session.
	resume *agent.ResumeState
	// startURL is where the browser navigates before the loop starts.
	startURL string
	pause    bool
}

// executeRun starts the browser, runs the agent loop and persists the
// final session state. It is shared by the run and resume commands.
func executeRun(ctx context.Context, p runParams) error {
	logger := observability.GetLogger()
	printer := console.New()

	primary, err := newDecider(p.base.Model, p.cfg.LLM)
	if err != nil {
		return err
	}
	var fallback agent.Decider
	if p.base.FallbackModel != "" {
		fallback, err = newDecider(p.base.FallbackModel, p.cfg.LLM)
		if err != nil {
			return err
		}
	}

	browserCfg := p.cfg.Browser
	browserCfg.Headless = p.base.Headless
	browserCfg.Viewport = config.Viewport{
		Width:  p.base.Viewport.Width,
		Height: p.base.Viewport.Height,
	}
	br := browser.New(browserCfg)
	if err := br.Start(ctx); err != nil {
		return err
	}
	defer br.Stop()

	if err := br.Navigate(ctx, p.startURL); err != nil {
		return err
	}
	if err := br.Wait(ctx, time.Second); err != nil {
		return err
	}

	if p.pause {
		printer.Notice("Browser is open. Log in manually, then press Enter to start the agent...")
		if err := waitForEnter(ctx); err != nil {
			return err
		}
	}

	var screenshotsDir string
	if p.cfg.Agent.SaveScreenshots {
		screenshotsDir = filepath.Join(p.store.Dir(p.sessionID), "screenshots")
	}

	// last tracks the most recent checkpoint so the final status update
	// reuses the step data already persisted.
	last := p.base
	checkpoint := func(snap agent.Snapshot) error {
		st := *p.base
		st.Status = session.StatusInProgress
		st.LastURL = snap.CurrentURL
		st.UseSmartModel = snap.UseSmartModel
		st.Step = snap.Step
		st.ElapsedSeconds = snap.Elapsed.Seconds()
		st.ScreenshotCounts = snap.ScreenshotCounts
		st.ScreenshotWarnings = snap.ScreenshotWarnings
		st.Conversation = session.SerializeConversation(snap.Conversation)
		st.Usage = snap.Usage
		st.UsageByModel = snap.UsageByModel
		last = &st
		return p.store.Save(p.sessionID, &st)
	}

	onStep := func(ev agent.StepEvent) {
		printer.StepStart(ev.Step)
		printer.StepAction(ev.Response.Reasoning, ev.Response.NextStep, ev.Response.Action.String())
		printer.StepUsage(ev.StepUsage)
	}

	loop := agent.NewLoop(br, primary, fallback, agent.LoopConfig{
		Scenario:          p.base.Scenario,
		MaxSteps:          p.base.MaxSteps,
		Timeout:           p.cfg.Agent.Timeout,
		SettleDelay:       p.cfg.Agent.SettleDelay,
		CompactThreshold:  p.cfg.Agent.CompactThreshold,
		CompactKeepRecent: p.cfg.Agent.CompactKeepRecent,
		StuckRepeatLimit:  p.cfg.Agent.StuckRepeatLimit,
		ScreenshotsDir:    screenshotsDir,
		Checkpoint:        checkpoint,
		OnStep:            onStep,
	})
	if p.resume != nil {
		loop.Restore(*p.resume)
	}

	logger.Info("Starting agent loop.",
		zap.String("session", p.sessionID),
		zap.String("scenario", p.base.Scenario),
		zap.String("model", p.base.Model))

	result, runErr := loop.Run(ctx)

	final := *last
	final.UseSmartModel = loop.UseSmartModel()
	final.Usage = result.Usage
	final.UsageByModel = result.UsageByModel
	switch {
	case runErr != nil && errors.Is(runErr, context.Canceled):
		final.Status = session.StatusInterrupted
	case result.Success:
		final.Status = session.StatusDone
	default:
		final.Status = session.StatusFailed
	}
	if err := p.store.Save(p.sessionID, &final); err != nil {
		logger.Warn("Could not persist the final session state.", zap.Error(err))
	}

	if result.Success {
		printer.Success(result.Summary, result.StepsTaken, result.Usage)
	} else {
		printer.Failure(result.Summary, result.StepsTaken, result.Usage)
	}
	printCost(printer, result.UsageByModel)
	printer.Notice(fmt.Sprintf("session: %s", p.sessionID))

	if runErr != nil {
		return runErr
	}
	if !result.Success {
		return ErrRunFailed
	}
	return nil
}

func newDecider(spec string, cfg config.LLMConfig) (agent.Decider, error) {
	client, err := llm.NewClientFromSpec(spec, llm.Options{
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	}, cfg.MaxRetries, cfg.RequestsPerSecond)
	if err != nil {
		return nil, err
	}
	return agent.NewClientDecider(client), nil
}

// waitForEnter blocks on stdin so the user can prepare the page, while
// still honoring Ctrl+C.
func waitForEnter(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		reader := bufio.NewReader(os.Stdin)
		_, err := reader.ReadString('\n')
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func printCost(printer *console.Printer, usageByModel map[string]llm.UsageStats) {
	total := 0.0
	known := false
	byModel := make(map[string]float64, len(usageByModel))
	for model, usage := range usageByModel {
		if cost, ok := pricing.EstimateCost(model, usage); ok {
			byModel[model] = cost
			total += cost
			known = true
		}
	}
	if known {
		printer.Cost(total, byModel)
	}
}
