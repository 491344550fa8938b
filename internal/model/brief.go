package model

import (
	"errors"
	"strings"
	"time"
)

// Research mode constants.
const (
	ModeReaderOnly     = "reader_only"
	ModeBrowserAllowed = "browser_allowed"
	ModeBrowserRequire = "browser_required"
)

// ResearchBrief fully specifies one research run: goal, constraints,
// required outputs and budgets. It is immutable once a session starts.
type ResearchBrief struct {
	Goal string `json:"goal"`

	// Constraints
	RecencyDays    int      `json:"recency_days,omitempty"` // 0 = no limit
	Geography      string   `json:"geography,omitempty"`
	AllowedDomains []string `json:"allowed_domains,omitempty"`
	DeniedDomains  []string `json:"denied_domains,omitempty"`

	// Required outputs and source preferences
	RequiredOutputs  []string `json:"required_outputs,omitempty"`
	PreferredSources []string `json:"preferred_sources,omitempty"`

	// Mode preference
	ModePreference string `json:"mode_preference"`

	// Budgets
	MaxSources        int `json:"max_sources"`
	MaxSteps          int `json:"max_steps"`
	BundleTokenBudget int `json:"bundle_token_budget"`

	// Free-text context for the run
	Context string `json:"context,omitempty"`

	CreatedAt string `json:"created_at"`
}

// NewBrief creates a brief with default budgets and mode.
func NewBrief(goal string) ResearchBrief {
	return ResearchBrief{
		Goal:              goal,
		ModePreference:    ModeBrowserAllowed,
		MaxSources:        12,
		MaxSteps:          40,
		BundleTokenBudget: 1200,
		CreatedAt:         time.Now().UTC().Format(time.RFC3339),
	}
}

// Validate checks that the brief can drive a session.
func (b ResearchBrief) Validate() error {
	if strings.TrimSpace(b.Goal) == "" {
		return errors.New("brief: goal is required")
	}
	if b.MaxSources < 1 {
		return errors.New("brief: max_sources must be >= 1")
	}
	if b.MaxSteps < 1 {
		return errors.New("brief: max_steps must be >= 1")
	}
	if b.BundleTokenBudget < 100 {
		return errors.New("brief: bundle_token_budget must be >= 100")
	}
	switch b.ModePreference {
	case ModeReaderOnly, ModeBrowserAllowed, ModeBrowserRequire:
	default:
		return errors.New("brief: unknown mode preference " + b.ModePreference)
	}
	return nil
}

// EffectiveAllowedDomains returns the allowlist with denied entries removed.
// An empty result with a non-empty allowlist means no domain can ever be
// fetched, which makes the brief unsatisfiable.
func (b ResearchBrief) EffectiveAllowedDomains() []string {
	if len(b.AllowedDomains) == 0 {
		return nil
	}
	var out []string
	for _, a := range b.AllowedDomains {
		denied := false
		for _, d := range b.DeniedDomains {
			if strings.EqualFold(a, d) {
				denied = true
				break
			}
		}
		if !denied {
			out = append(out, a)
		}
	}
	return out
}
