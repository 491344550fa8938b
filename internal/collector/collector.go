// Package collector turns a research brief into a ranked, deduplicated
// queue of candidate sources gathered from pluggable search providers.
package collector

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/google/uuid"

	"github.com/yangwenmai/scout/internal/config"
	"github.com/yangwenmai/scout/internal/model"
)

// Rank weights. The total is clamped to 1.0.
const (
	weightAuthority = 0.3
	weightRecency   = 0.2
	weightRelevance = 0.3
	weightDiversity = 0.2
)

// Collector queries search providers and produces ranked queue items.
// It remembers seen URLs, content hashes and domains across calls within
// one session, so follow-up collections deduplicate against earlier ones.
type Collector struct {
	cfg       config.Config
	providers []SearchProvider

	seenURLs    map[string]bool
	seenContent map[string]bool
	seenDomains map[string]bool
}

// New creates a collector over the given providers. With no providers a
// deterministic stub is used.
func New(cfg config.Config, providers ...SearchProvider) *Collector {
	if len(providers) == 0 {
		providers = []SearchProvider{&StubProvider{}}
	}
	return &Collector{
		cfg:         cfg,
		providers:   providers,
		seenURLs:    make(map[string]bool),
		seenContent: make(map[string]bool),
		seenDomains: make(map[string]bool),
	}
}

// GenerateQueries derives search queries from the brief: the goal itself,
// goal + required output variants, and recency/geography modifiers,
// capped at five queries.
func (c *Collector) GenerateQueries(brief model.ResearchBrief) []string {
	queries := []string{brief.Goal}

	for i, output := range brief.RequiredOutputs {
		if i >= 3 {
			break
		}
		queries = append(queries, brief.Goal+" "+output)
	}
	if brief.RecencyDays > 0 && brief.RecencyDays <= 30 {
		queries = append(queries, brief.Goal+" latest")
	}
	if brief.Geography != "" {
		queries = append(queries, brief.Goal+" "+brief.Geography)
	}

	if len(queries) > 5 {
		queries = queries[:5]
	}
	return queries
}

// Collect runs the given queries (generated from the brief when nil)
// across all allowed providers and returns ranked, filtered queue items.
// A single failing provider is soft; when every provider fails and no
// results exist, ErrAllProvidersFailed is returned.
func (c *Collector) Collect(ctx context.Context, brief model.ResearchBrief, queries []string) ([]model.SourceQueueItem, error) {
	if len(queries) == 0 {
		queries = c.GenerateQueries(brief)
	}

	var all []SearchResult
	attempts, failures := 0, 0
	for _, query := range queries {
		for _, provider := range c.providers {
			if !c.cfg.ProviderAllowed(provider.Name()) {
				continue
			}
			attempts++
			results, err := provider.Search(ctx, query, SearchOptions{
				MaxResults:  10,
				RecencyDays: brief.RecencyDays,
			})
			if err != nil {
				failures++
				slog.Warn("search provider failed", "provider", provider.Name(), "query", query, "error", err)
				continue
			}
			all = append(all, results...)
		}
	}
	if attempts == 0 {
		return nil, fmt.Errorf("%w: no providers allowed by configuration", model.ErrAllProvidersFailed)
	}
	if len(all) == 0 && failures == attempts {
		return nil, model.ErrAllProvidersFailed
	}

	var items []model.SourceQueueItem
	for _, result := range all {
		domain := result.Domain()
		// Domain filtering happens before anything is enqueued; a denied
		// domain never reaches the fetch path.
		if !c.cfg.IsDomainAllowed(domain) {
			continue
		}
		if !briefDomainAllowed(brief, domain) {
			continue
		}
		if c.isDuplicate(result) {
			continue
		}

		score, reasons := c.rank(result, domain)
		c.seenDomains[domain] = true

		item := model.NewSource(uuid.New().String(), result.URL, domain, brief.ModePreference)
		item.Title = result.Title
		item.Snippet = result.Snippet
		item.RankScore = score
		item.ReasonCodes = reasons
		item.PublishDate = normalizeDate(result.PublishDate)
		items = append(items, item)
	}

	sortByRank(items)
	slog.Info("collected sources", "candidates", len(all), "accepted", len(items), "domains", len(c.seenDomains))
	return items, nil
}

func briefDomainAllowed(brief model.ResearchBrief, domain string) bool {
	for _, denied := range brief.DeniedDomains {
		if strings.Contains(domain, strings.ToLower(denied)) {
			return false
		}
	}
	if len(brief.AllowedDomains) > 0 {
		for _, allowed := range brief.AllowedDomains {
			if strings.Contains(domain, strings.ToLower(allowed)) {
				return true
			}
		}
		return false
	}
	return true
}

// isDuplicate checks the normalized URL and a title+snippet hash against
// everything seen so far, recording the result as seen.
func (c *Collector) isDuplicate(result SearchResult) bool {
	normURL := normalizeURL(result.URL)
	if c.seenURLs[normURL] {
		return true
	}
	hash := contentHash(result.Title, result.Snippet)
	if c.seenContent[hash] {
		return true
	}
	c.seenURLs[normURL] = true
	c.seenContent[hash] = true
	return false
}

// rank computes the weighted score: authority, recency (tiered at
// 7/30/90 days), search-rank relevance decaying per position, and a
// first-sighting diversity bonus.
func (c *Collector) rank(result SearchResult, domain string) (float64, []string) {
	var score float64
	var reasons []string

	authority := DomainAuthority(domain)
	if authority >= c.cfg.MinSourceAuthorityScore {
		score += authority * weightAuthority
		if authority >= 0.8 {
			reasons = append(reasons, model.ReasonAuthority)
		}
	}

	if result.PublishDate != "" {
		if published, err := dateparse.ParseAny(result.PublishDate); err == nil {
			days := int(time.Since(published).Hours() / 24)
			switch {
			case days <= 7:
				score += weightRecency
				reasons = append(reasons, model.ReasonRecency)
			case days <= 30:
				score += 0.15
			case days <= 90:
				score += 0.1
			}
		}
	}

	relevance := weightRelevance - float64(result.Rank)*0.03
	if relevance > 0 {
		score += relevance
	}
	if result.Rank <= 2 {
		reasons = append(reasons, model.ReasonRelevance)
	}

	if !c.seenDomains[domain] {
		score += weightDiversity
		if len(c.seenDomains) < c.cfg.SourceDiversityMinDomains {
			reasons = append(reasons, model.ReasonDiversity)
		}
	}

	if score > 1.0 {
		score = 1.0
	}
	return score, reasons
}

func normalizeURL(raw string) string {
	u := strings.TrimSpace(strings.ToLower(raw))
	u = strings.TrimRight(u, "/")
	// Tracking parameters rarely change the document.
	if idx := strings.Index(u, "?"); idx >= 0 {
		u = u[:idx]
	}
	return u
}

func contentHash(title, snippet string) string {
	sum := md5.Sum([]byte(strings.ToLower(title) + strings.ToLower(snippet)))
	return hex.EncodeToString(sum[:])[:16]
}

func normalizeDate(raw string) string {
	if raw == "" {
		return ""
	}
	t, err := dateparse.ParseAny(raw)
	if err != nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func sortByRank(items []model.SourceQueueItem) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].RankScore > items[j].RankScore
	})
}
