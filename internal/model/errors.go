package model

import (
	"errors"
	"fmt"
)

// Fetch failure kinds. NeedsScript is an escalation signal rather than a
// real failure: it routes the source to browser mode without consuming a
// retry.
const (
	KindNetwork     = "network"
	KindTimeout     = "timeout"
	KindNonText     = "non_text"
	KindNeedsScript = "needs_script"
	KindDenied      = "denied"
)

// Session-fatal sentinels. Everything else is component-local and is
// recorded without aborting the session.
var (
	ErrAllProvidersFailed = errors.New("all search providers failed")
	ErrNoUsableDomains    = errors.New("brief has no satisfiable domain constraints")
	ErrBrowserBudget      = errors.New("browser budget exhausted")
	ErrSessionNotFound    = errors.New("session not found")
)

// FetchError is a typed failure from the reader or browser operator.
type FetchError struct {
	Kind string
	URL  string
	Err  error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Retryable reports whether the failure is transient. Denied domains and
// unsupported content types never retry; a needs-script signal escalates
// instead of retrying.
func (e *FetchError) Retryable() bool {
	switch e.Kind {
	case KindNetwork, KindTimeout:
		return true
	}
	return false
}

// FetchKind extracts the failure kind from an error chain, or "" if the
// error is not a FetchError.
func FetchKind(err error) string {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}
