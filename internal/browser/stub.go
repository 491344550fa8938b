package browser

import (
	"context"
	"errors"
	"sync"
)

// StubDriver returns deterministic rendered content (for development and
// testing). It records every executed task.
type StubDriver struct {
	// Fail makes every task return an error.
	Fail bool
	// Text overrides the default rendered text.
	Text string

	mu    sync.Mutex
	tasks []Task
}

func (d *StubDriver) Name() string { return "stub" }

func (d *StubDriver) Execute(_ context.Context, task Task) (*Result, error) {
	d.mu.Lock()
	d.tasks = append(d.tasks, task)
	d.mu.Unlock()

	if d.Fail {
		return nil, errors.New("stub driver unavailable")
	}
	text := d.Text
	if text == "" {
		text = "Rendered content for " + task.URL + ". This page required script execution to produce its article body, which discusses the research topic in detail."
	}
	return &Result{
		Text:         text,
		Title:        "Rendered: " + task.URL,
		ActionsTaken: len(task.Actions),
	}, nil
}

func (d *StubDriver) Close() error { return nil }

// Tasks returns the tasks executed so far.
func (d *StubDriver) Tasks() []Task {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Task, len(d.tasks))
	copy(out, d.tasks)
	return out
}
