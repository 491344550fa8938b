package browser

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/yangwenmai/scout/internal/config"
	"github.com/yangwenmai/scout/internal/model"
	"github.com/yangwenmai/scout/internal/session"
)

// Operator dispatches browser tasks through a Driver while enforcing the
// session-wide browser action budget. Browser sessions are stateful, so
// tasks are serialized through a single mutex rather than run in
// parallel like direct reads.
type Operator struct {
	cfg    config.Config
	driver Driver
	sess   *session.Session

	mu sync.Mutex
}

// NewOperator wraps a driver with budget enforcement for one session.
func NewOperator(cfg config.Config, driver Driver, sess *session.Session) *Operator {
	return &Operator{cfg: cfg, driver: driver, sess: sess}
}

// Render executes the standard render task for a URL. Each driver action
// consumes one unit of the browser step budget; the budget is checked
// before dispatch and the task is refused with ErrBrowserBudget once the
// remaining budget cannot cover it.
func (o *Operator) Render(ctx context.Context, url string) (*Result, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	task := DefaultTask(url)
	used := o.sess.BrowserSteps()
	if used+int64(len(task.Actions)) > int64(o.cfg.BrowserStepBudget) {
		return nil, fmt.Errorf("%w: %d of %d actions used", model.ErrBrowserBudget, used, o.cfg.BrowserStepBudget)
	}

	result, err := o.driver.Execute(ctx, task)

	// Actions attempted count against the budget even when the task
	// fails partway through.
	taken := len(task.Actions)
	if result != nil {
		taken = result.ActionsTaken
	}
	if taken > 0 {
		if _, cerr := o.sess.AddBrowserSteps(ctx, int64(taken)); cerr != nil {
			slog.Error("persist browser step count", "error", cerr)
		}
	}

	if err != nil {
		return nil, &model.FetchError{Kind: model.KindNetwork, URL: url, Err: err}
	}

	result.Text = strings.TrimSpace(result.Text)
	if utf8.RuneCountInString(result.Text) > o.cfg.MaxContentChars {
		runes := []rune(result.Text)
		result.Text = string(runes[:o.cfg.MaxContentChars]) + "\n... [truncated]"
	}
	slog.Info("browser render complete", "url", url, "driver", o.driver.Name(), "actions", taken, "chars", len(result.Text))
	return result, nil
}

// Close releases the underlying driver.
func (o *Operator) Close() error {
	return o.driver.Close()
}
