// Package browser handles sources that need JavaScript rendering. The
// automation surface is a pluggable Driver; the Operator wraps it with
// the session-wide step budget and per-action timeouts.
package browser

import "context"

// Action types a driver may be asked to perform.
const (
	ActionNavigate = "navigate"
	ActionWait     = "wait"
	ActionScroll   = "scroll"
	ActionExtract  = "extract"
)

// Action is one navigation/interaction step of a task.
type Action struct {
	Type   string
	Target string // CSS selector or URL
	Value  string // scroll amount, text to type
}

// Task describes what a driver should accomplish for one source.
type Task struct {
	URL     string
	Actions []Action
}

// DefaultTask builds the standard render-and-extract action sequence:
// navigate, wait for the document body, scroll to trigger lazy content,
// then extract the rendered text.
func DefaultTask(url string) Task {
	return Task{
		URL: url,
		Actions: []Action{
			{Type: ActionNavigate, Target: url},
			{Type: ActionWait, Target: "body"},
			{Type: ActionScroll, Value: "1200"},
			{Type: ActionExtract},
		},
	}
}

// Result is the rendered outcome of a task.
type Result struct {
	Text         string
	Title        string
	ActionsTaken int
}

// Driver abstracts browser automation. Implementations execute the
// task's action sequence with the given per-action timeout and return
// the rendered text.
type Driver interface {
	Name() string
	Execute(ctx context.Context, task Task) (*Result, error)
	Close() error
}
