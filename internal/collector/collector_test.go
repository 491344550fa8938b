package collector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/yangwenmai/scout/internal/config"
	"github.com/yangwenmai/scout/internal/model"
)

func testConfig() config.Config {
	return config.Config{
		AllowedSearchProviders:    []string{"stub"},
		SourceDiversityMinDomains: 4,
		MinSourceAuthorityScore:   0.3,
	}
}

func testBrief() model.ResearchBrief {
	return model.NewBrief("golang sqlite performance")
}

func TestGenerateQueries(t *testing.T) {
	c := New(testConfig())
	brief := testBrief()
	brief.RequiredOutputs = []string{"benchmarks", "driver comparison", "WAL tuning", "extra output"}
	brief.RecencyDays = 14
	brief.Geography = "EU"

	queries := c.GenerateQueries(brief)
	want := []string{
		brief.Goal,
		brief.Goal + " benchmarks",
		brief.Goal + " driver comparison",
		brief.Goal + " WAL tuning",
		brief.Goal + " latest",
	}
	if diff := cmp.Diff(want, queries); diff != "" {
		t.Errorf("queries mismatch (-want +got):\n%s", diff)
	}
}

func TestCollect_RanksAndDeduplicates(t *testing.T) {
	provider := &StubProvider{Results: []SearchResult{
		{URL: "https://docs.python.org/guide", Title: "Official guide", Snippet: "authoritative", Rank: 0},
		{URL: "https://docs.python.org/guide/", Title: "Official guide dup", Snippet: "trailing slash", Rank: 1},
		{URL: "https://blog.example.com/post", Title: "Blog post", Snippet: "opinion", Rank: 2},
	}}
	c := New(testConfig(), provider)

	items, err := c.Collect(context.Background(), testBrief(), []string{"q"})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2 (trailing-slash URL deduped)", len(items))
	}
	// Ranked descending; the high-authority docs domain should lead.
	if items[0].Domain != "docs.python.org" {
		t.Errorf("top item domain = %q, want docs.python.org", items[0].Domain)
	}
	if items[0].RankScore < items[1].RankScore {
		t.Error("items not sorted by rank score")
	}
	for _, item := range items {
		if item.Status != model.StatusQueued {
			t.Errorf("status = %s, want QUEUED", item.Status)
		}
		if item.RankScore < 0 || item.RankScore > 1 {
			t.Errorf("rank score %f out of [0,1]", item.RankScore)
		}
	}
}

func TestCollect_RecencyBonus(t *testing.T) {
	fresh := time.Now().UTC().AddDate(0, 0, -2).Format(time.RFC3339)
	old := time.Now().UTC().AddDate(-1, 0, 0).Format(time.RFC3339)
	provider := &StubProvider{Results: []SearchResult{
		{URL: "https://a.com/fresh", Title: "Fresh", Snippet: "s1", Rank: 0, PublishDate: fresh},
		{URL: "https://b.com/old", Title: "Old", Snippet: "s2", Rank: 0, PublishDate: old},
	}}
	c := New(testConfig(), provider)

	items, err := c.Collect(context.Background(), testBrief(), []string{"q"})
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2", len(items))
	}
	if items[0].URL != "https://a.com/fresh" {
		t.Errorf("top item = %s, want the fresh source", items[0].URL)
	}
	if !hasReason(items[0], model.ReasonRecency) {
		t.Errorf("fresh item reasons = %v, want recency", items[0].ReasonCodes)
	}
}

func TestCollect_DomainFiltering(t *testing.T) {
	cfg := testConfig()
	cfg.DomainDenylist = []string{"facebook.com"}
	provider := &StubProvider{Results: []SearchResult{
		{URL: "https://www.facebook.com/page", Title: "Social", Snippet: "s", Rank: 0},
		{URL: "https://example.com/article", Title: "Article", Snippet: "s2", Rank: 1},
	}}
	c := New(cfg, provider)

	brief := testBrief()
	brief.DeniedDomains = []string{"example.org"}
	items, err := c.Collect(context.Background(), brief, []string{"q"})
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].Domain != "example.com" {
		t.Fatalf("items = %+v, want only example.com", items)
	}
}

func TestCollect_BriefAllowlist(t *testing.T) {
	provider := &StubProvider{Results: []SearchResult{
		{URL: "https://docs.example.com/a", Title: "A", Snippet: "s", Rank: 0},
		{URL: "https://other.org/b", Title: "B", Snippet: "s2", Rank: 1},
	}}
	c := New(testConfig(), provider)

	brief := testBrief()
	brief.AllowedDomains = []string{"example.com"}
	items, err := c.Collect(context.Background(), brief, []string{"q"})
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].Domain != "docs.example.com" {
		t.Fatalf("items = %+v, want only docs.example.com", items)
	}
}

func TestCollect_ProviderFailSoft(t *testing.T) {
	failing := &StubProvider{ProviderName: "stub", Fail: true}
	working := &StubProvider{ProviderName: "stub", Results: []SearchResult{
		{URL: "https://example.com/ok", Title: "OK", Snippet: "s", Rank: 0},
	}}
	c := New(testConfig(), failing, working)

	items, err := c.Collect(context.Background(), testBrief(), []string{"q"})
	if err != nil {
		t.Fatalf("Collect with one failing provider: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("items = %d, want 1", len(items))
	}
}

func TestCollect_AllProvidersFailed(t *testing.T) {
	c := New(testConfig(), &StubProvider{Fail: true})

	_, err := c.Collect(context.Background(), testBrief(), []string{"q"})
	if !errors.Is(err, model.ErrAllProvidersFailed) {
		t.Fatalf("err = %v, want ErrAllProvidersFailed", err)
	}
}

func TestCollect_NoProvidersAllowed(t *testing.T) {
	cfg := testConfig()
	cfg.AllowedSearchProviders = []string{"other"}
	c := New(cfg, &StubProvider{})

	_, err := c.Collect(context.Background(), testBrief(), []string{"q"})
	if !errors.Is(err, model.ErrAllProvidersFailed) {
		t.Fatalf("err = %v, want ErrAllProvidersFailed", err)
	}
}

func TestCollect_DeduplicatesAcrossCalls(t *testing.T) {
	provider := &StubProvider{Results: []SearchResult{
		{URL: "https://example.com/a", Title: "A", Snippet: "s", Rank: 0},
	}}
	c := New(testConfig(), provider)
	ctx := context.Background()

	first, err := c.Collect(ctx, testBrief(), []string{"q"})
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 1 {
		t.Fatalf("first collect = %d items, want 1", len(first))
	}

	// A follow-up collection must not re-emit seen URLs.
	second, err := c.Collect(ctx, testBrief(), []string{"q2"})
	if err != nil {
		t.Fatal(err)
	}
	if len(second) != 0 {
		t.Fatalf("second collect = %d items, want 0", len(second))
	}
}

func TestDomainAuthority(t *testing.T) {
	tests := []struct {
		domain string
		want   float64
	}{
		{"docs.python.org", 0.95},
		{"github.com", 0.80},
		{"unknown-blog.net", 0.5},
	}
	for _, tt := range tests {
		if got := DomainAuthority(tt.domain); got != tt.want {
			t.Errorf("DomainAuthority(%q) = %f, want %f", tt.domain, got, tt.want)
		}
	}
}

func hasReason(item model.SourceQueueItem, reason string) bool {
	for _, r := range item.ReasonCodes {
		if r == reason {
			return true
		}
	}
	return false
}
