// File: internal/agent/loop.go
package agent

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pilot-cli/internal/llm"
	"github.com/xkilldash9x/pilot-cli/internal/observability"
)

// Browser is the surface the loop needs from a browser controller.
// Screenshot returns PNG bytes with the coordinate grid already drawn.
type Browser interface {
	Screenshot(ctx context.Context) ([]byte, error)
	CurrentURL(ctx context.Context) (string, error)
	Click(ctx context.Context, x, y int) error
	DoubleClick(ctx context.Context, x, y int) error
	TypeText(ctx context.Context, text string) error
	PressKey(ctx context.Context, key string) error
	Scroll(ctx context.Context, x, y, deltaX, deltaY int) error
	Drag(ctx context.Context, fromX, fromY, toX, toY int) error
	Wait(ctx context.Context, d time.Duration) error
	Viewport() (width, height int)
}

// Decider produces one structured decision per step. The production
// implementation wraps an llm.Client; tests substitute a scripted one.
type Decider interface {
	ModelSpec() string
	Decide(ctx context.Context, systemPrompt string, history []llm.Message) (*Response, llm.UsageStats, error)
}

// Result is the outcome of a loop run.
type Result struct {
	Success    bool
	Summary    string
	StepsTaken int
	Usage      llm.UsageStats
	UsageByModel map[string]llm.UsageStats
}

// Snapshot is the loop state handed to the checkpoint callback after every
// step.
type Snapshot struct {
	Step               int
	Elapsed            time.Duration
	CurrentURL         string
	UseSmartModel      bool
	Conversation       []llm.Message
	ScreenshotCounts   map[string]int
	ScreenshotWarnings map[string]int
	Usage              llm.UsageStats
	UsageByModel       map[string]llm.UsageStats
}

// ResumeState restores in-memory loop state from a checkpoint.
type ResumeState struct {
	Conversation       []llm.Message
	Step               int
	Elapsed            time.Duration
	UseSmartModel      bool
	ScreenshotCounts   map[string]int
	ScreenshotWarnings map[string]int
	Usage              llm.UsageStats
	UsageByModel       map[string]llm.UsageStats
}

// StepEvent describes one completed decision for rendering.
type StepEvent struct {
	Step       int
	MaxSteps   int
	URL        string
	Model      string
	Response   *Response
	StepUsage  llm.UsageStats
	TotalUsage llm.UsageStats
}

// LoopConfig carries the tunables of a run. Zero values fall back to the
// documented defaults.
type LoopConfig struct {
	Scenario          string
	MaxSteps          int           // 0 = unlimited
	Timeout           time.Duration // wall clock for the whole run
	SettleDelay       time.Duration // pause after page-mutating actions
	CompactThreshold  int
	CompactKeepRecent int
	StuckRepeatLimit  int
	ScreenshotsDir    string // save each step's screenshot here when set

	// Checkpoint is invoked after every step with the current snapshot.
	// A failing checkpoint is logged and the run continues.
	Checkpoint func(Snapshot) error
	// OnStep is invoked after every decision, before execution.
	OnStep func(StepEvent)
	// Pause blocks between decision and execution; returning an error
	// aborts the run. Used for step-by-step interactive mode.
	Pause func(ctx context.Context, step int, resp *Response) error
}

const (
	defaultTimeout           = 30 * time.Minute
	defaultSettleDelay       = 2 * time.Second
	defaultCompactThreshold  = 50
	defaultCompactKeepRecent = 10

	resumeNotice = "Session resumed after an interruption. The browser shows the current page state. Continue working on the scenario from here."
	resumeAckJSON = `{"observation": "Acknowledged the resumed session.", "reasoning": "Continuing the scenario from the restored state.", "action": {"action": "wait", "ms": 0}}`
)

func (c LoopConfig) withDefaults() LoopConfig {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = defaultSettleDelay
	}
	if c.CompactThreshold <= 0 {
		c.CompactThreshold = defaultCompactThreshold
	}
	if c.CompactKeepRecent <= 0 {
		c.CompactKeepRecent = defaultCompactKeepRecent
	}
	return c
}

// Loop drives screenshot -> decide -> act until a terminal action, a limit,
// or a forced stop. It assumes the browser is already on the starting page.
type Loop struct {
	browser  Browser
	primary  Decider
	fallback Decider // nil when no smart model is configured
	cfg      LoopConfig
	logger   *zap.Logger

	conv     *Conversation
	stuck    *StuckTracker
	useSmart bool

	startStep     int
	elapsedOffset time.Duration

	usage        llm.UsageStats
	usageByModel map[string]llm.UsageStats
}

// NewLoop wires a loop. fallback may be nil; escalation is then disabled.
func NewLoop(browser Browser, primary, fallback Decider, cfg LoopConfig) *Loop {
	cfg = cfg.withDefaults()
	return &Loop{
		browser:      browser,
		primary:      primary,
		fallback:     fallback,
		cfg:          cfg,
		logger:       observability.GetLogger().Named("agent"),
		conv:         NewConversation(),
		stuck:        NewStuckTracker(cfg.StuckRepeatLimit),
		usageByModel: make(map[string]llm.UsageStats),
	}
}

// Restore loads checkpointed state and injects a resume-notice turn pair so
// the model knows the history has a gap. The step counter continues from
// the checkpoint.
func (l *Loop) Restore(state ResumeState) {
	l.conv = NewConversationFromMessages(state.Conversation)
	l.conv.Append(llm.NewTextMessage(llm.RoleUser, resumeNotice))
	l.conv.Append(llm.NewTextMessage(llm.RoleAssistant, resumeAckJSON))
	l.stuck.RestoreStuckCounters(state.ScreenshotCounts, state.ScreenshotWarnings)
	l.useSmart = state.UseSmartModel
	l.startStep = state.Step
	l.elapsedOffset = state.Elapsed
	l.usage = state.Usage
	if state.UsageByModel != nil {
		l.usageByModel = make(map[string]llm.UsageStats, len(state.UsageByModel))
		for model, usage := range state.UsageByModel {
			l.usageByModel[model] = usage
		}
	}
}

// UseSmartModel reports whether the sticky escalation has triggered.
func (l *Loop) UseSmartModel() bool { return l.useSmart }

func (l *Loop) decider() Decider {
	if l.useSmart && l.fallback != nil {
		return l.fallback
	}
	return l.primary
}

func (l *Loop) escalate(reason string) {
	if l.useSmart || l.fallback == nil {
		return
	}
	l.useSmart = true
	l.logger.Info("Switching to the smart model for the rest of the session.",
		zap.String("model", l.fallback.ModelSpec()),
		zap.String("reason", reason))
}

func (l *Loop) result(success bool, summary string, steps int) Result {
	return Result{
		Success:      success,
		Summary:      summary,
		StepsTaken:   steps,
		Usage:        l.usage,
		UsageByModel: l.usageByModel,
	}
}

// Run executes the loop until completion. Context cancellation aborts with
// ctx.Err(); the partial result still carries steps and usage so the caller
// can persist an interrupted checkpoint.
func (l *Loop) Run(ctx context.Context) (Result, error) {
	width, height := l.browser.Viewport()
	systemPrompt := BuildSystemPrompt(l.cfg.Scenario, width, height)

	if l.cfg.ScreenshotsDir != "" {
		if err := os.MkdirAll(l.cfg.ScreenshotsDir, 0o755); err != nil {
			return l.result(false, "", 0), fmt.Errorf("creating screenshots dir: %w", err)
		}
		l.logger.Info("Saving step screenshots.", zap.String("dir", l.cfg.ScreenshotsDir))
	}

	start := time.Now()
	step := l.startStep

	for {
		step++

		if l.cfg.MaxSteps > 0 && step > l.cfg.MaxSteps {
			return l.result(false, fmt.Sprintf("Max steps (%d) exceeded", l.cfg.MaxSteps), step-1), nil
		}

		elapsed := l.elapsedOffset + time.Since(start)
		if elapsed > l.cfg.Timeout {
			l.logger.Warn("Run timed out.", zap.Duration("elapsed", elapsed))
			return l.result(false, fmt.Sprintf("Timeout after %ds", int(elapsed.Seconds())), step-1), nil
		}

		if err := ctx.Err(); err != nil {
			return l.result(false, "Interrupted", step-1), err
		}

		png, err := l.browser.Screenshot(ctx)
		if err != nil {
			return l.result(false, fmt.Sprintf("Screenshot failed: %v", err), step-1), err
		}
		currentURL, err := l.browser.CurrentURL(ctx)
		if err != nil {
			return l.result(false, fmt.Sprintf("Reading URL failed: %v", err), step-1), err
		}

		if l.cfg.ScreenshotsDir != "" {
			path := filepath.Join(l.cfg.ScreenshotsDir, fmt.Sprintf("step_%03d.png", step))
			if err := os.WriteFile(path, png, 0o644); err != nil {
				l.logger.Warn("Could not save screenshot.", zap.String("path", path), zap.Error(err))
			}
		}

		report := l.stuck.Observe(ScreenshotHash(png))
		if report.ForceStop {
			l.logger.Error("Stuck warnings exhausted for this screen, force stopping.",
				zap.Int("repeats", report.Repeats))
			return l.result(false, "Force stopped: stuck on the same screen", step), nil
		}
		if report.Hint != "" {
			l.logger.Warn("Same screenshot repeated.",
				zap.Int("repeats", report.Repeats),
				zap.Int("warnings", report.Warnings))
			if report.Warnings >= 2 {
				l.escalate("repeated stuck warnings")
			}
		}

		stepLabel := fmt.Sprintf("Step %d", step)
		if l.cfg.MaxSteps > 0 {
			stepLabel = fmt.Sprintf("Step %d/%d", step, l.cfg.MaxSteps)
		}

		l.conv.Append(llm.NewMultipartMessage(llm.RoleUser,
			llm.ImagePart("image/png", base64.StdEncoding.EncodeToString(png)),
			llm.TextPart(fmt.Sprintf("Current URL: %s\n%s. What should I do next?%s", currentURL, stepLabel, report.Hint)),
		))
		// Only the screenshot just appended stays inline.
		l.conv.ElideStaleImages()

		decider := l.decider()
		l.logger.Info("Calling the model.",
			zap.String("step", stepLabel),
			zap.String("model", decider.ModelSpec()))

		resp, stepUsage, err := decider.Decide(ctx, systemPrompt, l.conv.Messages())
		l.usage.Add(stepUsage)
		perModel := l.usageByModel[decider.ModelSpec()]
		perModel.Add(stepUsage)
		l.usageByModel[decider.ModelSpec()] = perModel
		if err != nil {
			return l.result(false, fmt.Sprintf("Model call failed: %v", err), step), err
		}

		l.logger.Info("Model decided.",
			zap.String("observation", truncate(resp.Observation, 100)),
			zap.String("reasoning", truncate(resp.Reasoning, 100)),
			zap.Stringer("action", resp.Action))

		stored, err := json.MarshalToString(resp)
		if err != nil {
			return l.result(false, fmt.Sprintf("Encoding response failed: %v", err), step), err
		}
		l.conv.Append(llm.NewTextMessage(llm.RoleAssistant, stored))

		l.conv.Compact(l.cfg.CompactThreshold, l.cfg.CompactKeepRecent)

		if resp.RequestSmartModel {
			l.escalate("requested by the model")
		}

		if l.cfg.OnStep != nil {
			l.cfg.OnStep(StepEvent{
				Step:       step,
				MaxSteps:   l.cfg.MaxSteps,
				URL:        currentURL,
				Model:      decider.ModelSpec(),
				Response:   resp,
				StepUsage:  stepUsage,
				TotalUsage: l.usage,
			})
		}

		if l.cfg.Checkpoint != nil {
			snap := Snapshot{
				Step:               step,
				Elapsed:            l.elapsedOffset + time.Since(start),
				CurrentURL:         currentURL,
				UseSmartModel:      l.useSmart,
				Conversation:       l.conv.Messages(),
				ScreenshotCounts:   l.stuck.Counts(),
				ScreenshotWarnings: l.stuck.WarningCounts(),
				Usage:              l.usage,
				UsageByModel:       l.usageByModel,
			}
			if err := l.cfg.Checkpoint(snap); err != nil {
				l.logger.Warn("Checkpoint failed.", zap.Error(err))
			}
		}

		if l.cfg.Pause != nil {
			if err := l.cfg.Pause(ctx, step, resp); err != nil {
				return l.result(false, "Interrupted", step), err
			}
		}

		switch resp.Action.Kind {
		case ActionDone:
			l.logger.Info("Scenario completed.", zap.String("summary", resp.Action.Summary))
			return l.result(true, resp.Action.Summary, step), nil
		case ActionFail:
			l.logger.Warn("Scenario failed.", zap.String("reason", resp.Action.Reason))
			return l.result(false, resp.Action.Reason, step), nil
		}

		if err := l.execute(ctx, resp.Action); err != nil {
			return l.result(false, fmt.Sprintf("Action %s failed: %v", resp.Action, err), step), err
		}
	}
}

// execute performs one non-terminal action and lets the page settle.
// An explicit wait already waited, so it skips the settle delay.
func (l *Loop) execute(ctx context.Context, action Action) error {
	switch action.Kind {
	case ActionClick:
		if err := l.browser.Click(ctx, action.X, action.Y); err != nil {
			return err
		}
	case ActionDoubleClick:
		if err := l.browser.DoubleClick(ctx, action.X, action.Y); err != nil {
			return err
		}
	case ActionType:
		if err := l.browser.TypeText(ctx, action.Text); err != nil {
			return err
		}
	case ActionPressKey:
		if err := l.browser.PressKey(ctx, action.Key); err != nil {
			return err
		}
	case ActionScroll:
		if err := l.browser.Scroll(ctx, action.X, action.Y, action.DeltaX, action.DeltaY); err != nil {
			return err
		}
	case ActionDrag:
		if err := l.browser.Drag(ctx, action.FromX, action.FromY, action.ToX, action.ToY); err != nil {
			return err
		}
	case ActionWait:
		return l.browser.Wait(ctx, time.Duration(action.MS)*time.Millisecond)
	default:
		return fmt.Errorf("unknown action kind %q", action.Kind)
	}
	return l.browser.Wait(ctx, l.cfg.SettleDelay)
}
