package collector

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// StubProvider returns deterministic results derived from the query
// (for development/testing).
type StubProvider struct {
	// ProviderName overrides the default name "stub".
	ProviderName string
	// Results, when set, is returned verbatim for every query.
	Results []SearchResult
	// Fail makes every search return an error.
	Fail bool
}

func (p *StubProvider) Name() string {
	if p.ProviderName != "" {
		return p.ProviderName
	}
	return "stub"
}

func (p *StubProvider) Search(_ context.Context, query string, opts SearchOptions) ([]SearchResult, error) {
	if p.Fail {
		return nil, errors.New("stub provider unavailable")
	}
	if p.Results != nil {
		return p.Results, nil
	}

	max := opts.MaxResults
	if max <= 0 || max > 5 {
		max = 5
	}
	slug := strings.ReplaceAll(strings.ToLower(query), " ", "-")
	results := make([]SearchResult, 0, max)
	for i := 0; i < max; i++ {
		results = append(results, SearchResult{
			URL:      fmt.Sprintf("https://example%d.com/%s", i, slug),
			Title:    fmt.Sprintf("Result %d for %s", i+1, query),
			Snippet:  fmt.Sprintf("This is a sample result about %s.", query),
			Provider: p.Name(),
			Rank:     i,
		})
	}
	return results, nil
}
