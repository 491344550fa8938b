package browser

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
)

// ChromeDriver drives a headless Chrome instance over the DevTools
// protocol. One browser context is shared for the whole session; most
// automation backends are single-session-stateful, so callers serialize
// access through the Operator.
type ChromeDriver struct {
	actionTimeout time.Duration

	mu       sync.Mutex
	allocCtx context.Context
	cancel   []context.CancelFunc
	browser  context.Context
}

// NewChromeDriver creates a driver with the given per-action timeout.
// The browser process is launched lazily on the first task.
func NewChromeDriver(actionTimeout time.Duration) *ChromeDriver {
	return &ChromeDriver{actionTimeout: actionTimeout}
}

func (d *ChromeDriver) Name() string { return "chromedp" }

func (d *ChromeDriver) ensureBrowser(ctx context.Context) (context.Context, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.browser != nil {
		return d.browser, nil
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	d.allocCtx = allocCtx
	d.browser = browserCtx
	d.cancel = []context.CancelFunc{browserCancel, allocCancel}
	return d.browser, nil
}

// Execute runs the task's actions in order, each bounded by the
// per-action timeout, and returns the rendered body text.
func (d *ChromeDriver) Execute(ctx context.Context, task Task) (*Result, error) {
	browserCtx, err := d.ensureBrowser(ctx)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	for _, action := range task.Actions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		actionCtx, cancel := context.WithTimeout(browserCtx, d.actionTimeout)
		err := d.run(actionCtx, action, result)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("browser action %s: %w", action.Type, err)
		}
		result.ActionsTaken++
	}
	return result, nil
}

func (d *ChromeDriver) run(ctx context.Context, action Action, result *Result) error {
	switch action.Type {
	case ActionNavigate:
		return chromedp.Run(ctx, chromedp.Navigate(action.Target))
	case ActionWait:
		target := action.Target
		if target == "" {
			target = "body"
		}
		return chromedp.Run(ctx, chromedp.WaitReady(target, chromedp.ByQuery))
	case ActionScroll:
		amount, err := strconv.Atoi(action.Value)
		if err != nil || amount <= 0 {
			amount = 1200
		}
		return chromedp.Run(ctx,
			chromedp.Evaluate(fmt.Sprintf("window.scrollBy(0, %d)", amount), nil),
			chromedp.Sleep(500*time.Millisecond),
		)
	case ActionExtract:
		return chromedp.Run(ctx,
			chromedp.Title(&result.Title),
			chromedp.Text("body", &result.Text, chromedp.ByQuery),
		)
	default:
		return fmt.Errorf("unknown action type %q", action.Type)
	}
}

// Close shuts the browser down.
func (d *ChromeDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, cancel := range d.cancel {
		cancel()
	}
	d.browser = nil
	d.cancel = nil
	return nil
}
