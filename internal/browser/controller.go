// File: internal/browser/controller.go
package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pilot-cli/internal/config"
	"github.com/xkilldash9x/pilot-cli/internal/observability"
)

// dragSteps is the number of intermediate mouseMoved events emitted
// during a drag. Pages with drag handlers need the gradual movement to
// register the gesture.
const dragSteps = 20

// Controller drives a single Chromium instance over CDP and exposes
// the primitive actions the agent loop issues. It owns the allocator
// and browser contexts for the lifetime of a run.
type Controller struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	allocCtx    context.Context
	allocCancel context.CancelFunc
	browserCtx  context.Context
	ctxCancel   context.CancelFunc
}

// New returns a Controller for the given browser configuration. Start
// must be called before any other method.
func New(cfg config.BrowserConfig) *Controller {
	return &Controller{
		cfg:    cfg,
		logger: observability.GetLogger().Named("browser"),
	}
}

// Start launches Chromium with the configured viewport, headless mode
// and optional persistent profile directory.
func (c *Controller) Start(ctx context.Context) error {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", c.cfg.Headless),
		chromedp.Flag("disable-gpu", c.cfg.Headless),
		chromedp.WindowSize(c.cfg.Viewport.Width, c.cfg.Viewport.Height),
	)
	if c.cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(c.cfg.UserDataDir))
	}

	c.allocCtx, c.allocCancel = chromedp.NewExecAllocator(ctx, opts...)
	c.browserCtx, c.ctxCancel = chromedp.NewContext(c.allocCtx)

	// Running an empty task forces the browser process to launch now
	// rather than lazily on the first action.
	if err := chromedp.Run(c.browserCtx); err != nil {
		c.Stop()
		return fmt.Errorf("launching browser: %w", err)
	}

	c.logger.Info("Browser started.",
		zap.Bool("headless", c.cfg.Headless),
		zap.Int("viewport_width", c.cfg.Viewport.Width),
		zap.Int("viewport_height", c.cfg.Viewport.Height),
		zap.String("user_data_dir", c.cfg.UserDataDir),
	)
	return nil
}

// Stop tears down the browser and allocator contexts. Safe to call
// multiple times and before Start.
func (c *Controller) Stop() {
	if c.ctxCancel != nil {
		c.ctxCancel()
		c.ctxCancel = nil
	}
	if c.allocCancel != nil {
		c.allocCancel()
		c.allocCancel = nil
	}
}

// Navigate loads the given URL and waits for the document body,
// bounded by the configured navigation timeout.
func (c *Controller) Navigate(ctx context.Context, url string) error {
	if c.browserCtx == nil {
		return fmt.Errorf("browser not started")
	}
	timeout := c.cfg.NavigationTimeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	runCtx, cancel := context.WithTimeout(c.browserCtx, timeout)
	defer cancel()

	c.logger.Debug("Navigating.", zap.String("url", url))
	err := c.run(ctx, runCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("navigating to %s: %w", url, err)
	}
	return nil
}

// Screenshot captures the viewport and overlays the coordinate grid.
func (c *Controller) Screenshot(ctx context.Context) ([]byte, error) {
	var raw []byte
	if err := c.run(ctx, c.browserCtx, chromedp.CaptureScreenshot(&raw)); err != nil {
		return nil, fmt.Errorf("capturing screenshot: %w", err)
	}
	return DrawGrid(raw)
}

// CurrentURL returns the top frame's location.
func (c *Controller) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := c.run(ctx, c.browserCtx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("reading location: %w", err)
	}
	return url, nil
}

// Click moves the mouse to (x, y) and performs a single left click.
func (c *Controller) Click(ctx context.Context, x, y int) error {
	return c.click(ctx, x, y, 1)
}

// DoubleClick moves the mouse to (x, y) and performs a double click.
func (c *Controller) DoubleClick(ctx context.Context, x, y int) error {
	return c.click(ctx, x, y, 2)
}

func (c *Controller) click(ctx context.Context, x, y int, count int64) error {
	fx, fy := float64(x), float64(y)
	err := c.run(ctx, c.browserCtx,
		mouseEvent(input.MouseMoved, fx, fy),
		mouseEvent(input.MousePressed, fx, fy,
			withButton(input.Left), withClickCount(count), withButtons(1)),
		mouseEvent(input.MouseReleased, fx, fy,
			withButton(input.Left), withClickCount(count)),
	)
	if err != nil {
		return fmt.Errorf("clicking at (%d, %d): %w", x, y, err)
	}
	return nil
}

// TypeText sends the text to whatever element currently holds focus.
// The model is expected to click the target field first.
func (c *Controller) TypeText(ctx context.Context, text string) error {
	err := c.run(ctx, c.browserCtx,
		chromedp.SendKeys("document.activeElement", text, chromedp.ByJSPath),
	)
	if err != nil {
		return fmt.Errorf("typing text: %w", err)
	}
	return nil
}

// PressKey presses a single named key (Enter, Tab, ArrowDown, ...) on
// the focused element.
func (c *Controller) PressKey(ctx context.Context, key string) error {
	seq, err := resolveKey(key)
	if err != nil {
		return err
	}
	err = c.run(ctx, c.browserCtx,
		chromedp.SendKeys("document.activeElement", seq, chromedp.ByJSPath),
	)
	if err != nil {
		return fmt.Errorf("pressing key %q: %w", key, err)
	}
	return nil
}

// Scroll moves the mouse to (x, y) and dispatches a wheel event with
// the given deltas. Positive deltaY scrolls down.
func (c *Controller) Scroll(ctx context.Context, x, y, deltaX, deltaY int) error {
	fx, fy := float64(x), float64(y)
	err := c.run(ctx, c.browserCtx,
		mouseEvent(input.MouseMoved, fx, fy),
		mouseEvent(input.MouseWheel, fx, fy,
			withDeltas(float64(deltaX), float64(deltaY))),
	)
	if err != nil {
		return fmt.Errorf("scrolling at (%d, %d): %w", x, y, err)
	}
	return nil
}

// Drag presses the left button at the start point, moves to the end
// point in small increments and releases.
func (c *Controller) Drag(ctx context.Context, fromX, fromY, toX, toY int) error {
	sx, sy := float64(fromX), float64(fromY)
	ex, ey := float64(toX), float64(toY)

	actions := []chromedp.Action{
		mouseEvent(input.MouseMoved, sx, sy),
		mouseEvent(input.MousePressed, sx, sy,
			withButton(input.Left), withClickCount(1), withButtons(1)),
	}
	for i := 1; i <= dragSteps; i++ {
		t := float64(i) / dragSteps
		actions = append(actions,
			mouseEvent(input.MouseMoved, sx+(ex-sx)*t, sy+(ey-sy)*t,
				withButton(input.Left), withButtons(1)))
	}
	actions = append(actions,
		mouseEvent(input.MouseReleased, ex, ey,
			withButton(input.Left), withClickCount(1)))

	if err := c.run(ctx, c.browserCtx, actions...); err != nil {
		return fmt.Errorf("dragging (%d, %d) -> (%d, %d): %w", fromX, fromY, toX, toY, err)
	}
	return nil
}

// Wait blocks for the duration or until the context is cancelled.
func (c *Controller) Wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Viewport reports the configured viewport dimensions.
func (c *Controller) Viewport() (width, height int) {
	return c.cfg.Viewport.Width, c.cfg.Viewport.Height
}

// run executes actions on the browser context. CDP tasks must run on
// the chromedp-managed context, so the caller's context only gates
// entry; runCtx carries any per-call deadline.
func (c *Controller) run(ctx, runCtx context.Context, actions ...chromedp.Action) error {
	if c.browserCtx == nil {
		return fmt.Errorf("browser not started")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return chromedp.Run(runCtx, actions...)
}

type mouseOption func(*input.DispatchMouseEventParams) *input.DispatchMouseEventParams

func mouseEvent(typ input.MouseType, x, y float64, opts ...mouseOption) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		p := input.DispatchMouseEvent(typ, x, y)
		for _, opt := range opts {
			p = opt(p)
		}
		return p.Do(ctx)
	})
}

func withButton(b input.MouseButton) mouseOption {
	return func(p *input.DispatchMouseEventParams) *input.DispatchMouseEventParams {
		return p.WithButton(b)
	}
}

func withClickCount(n int64) mouseOption {
	return func(p *input.DispatchMouseEventParams) *input.DispatchMouseEventParams {
		return p.WithClickCount(n)
	}
}

func withButtons(mask int64) mouseOption {
	return func(p *input.DispatchMouseEventParams) *input.DispatchMouseEventParams {
		return p.WithButtons(mask)
	}
}

func withDeltas(dx, dy float64) mouseOption {
	return func(p *input.DispatchMouseEventParams) *input.DispatchMouseEventParams {
		return p.WithDeltaX(dx).WithDeltaY(dy)
	}
}
