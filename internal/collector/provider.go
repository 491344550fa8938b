package collector

import (
	"context"
	"net/url"
	"strings"
)

// SearchResult is a single result returned by a provider.
type SearchResult struct {
	URL         string
	Title       string
	Snippet     string
	Provider    string
	Rank        int    // 0-based position in the provider's result list
	PublishDate string // RFC3339 when the provider knows it
}

// Domain extracts the lowercased host from the result URL.
func (r SearchResult) Domain() string {
	u, err := url.Parse(r.URL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// SearchOptions constrain a provider query.
type SearchOptions struct {
	MaxResults  int
	RecencyDays int // 0 = no limit
}

// SearchProvider abstracts a search backend. Implementations must
// tolerate being unavailable: a failing provider yields an error for its
// own results only, never a pipeline failure.
type SearchProvider interface {
	Name() string
	Search(ctx context.Context, query string, opts SearchOptions) ([]SearchResult, error)
}
