// Package config provides centralized configuration for scout research
// sessions. All configurable values are loaded from environment variables
// with sensible defaults; the resulting Config value is immutable.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all tunables for a research session.
type Config struct {
	// WorkspaceBaseDir is the base directory for session workspaces.
	WorkspaceBaseDir string

	// MaxSources caps how many sources the queue may hold.
	MaxSources int

	// MaxSteps caps the number of orchestrator steps per session.
	MaxSteps int

	// BundleTokenBudget bounds the size of the final bundle.
	BundleTokenBudget int

	// BrowserStepBudget caps browser actions across the whole session.
	BrowserStepBudget int

	// SourceDiversityMinDomains is the minimum number of distinct domains
	// the reviewer requires; the collector also stops handing out
	// diversity bonuses once this many domains are represented.
	SourceDiversityMinDomains int

	// ReaderFailEscalationCount is the number of consecutive reader
	// failures that escalates a source to browser mode.
	ReaderFailEscalationCount int

	// DefaultMode is the mode for sources when the brief has no preference.
	DefaultMode string

	// AllowedSearchProviders lists provider names the collector may use.
	AllowedSearchProviders []string

	// DomainAllowlist, when non-empty, restricts fetches to matching domains.
	DomainAllowlist []string

	// DomainDenylist blocks matching domains before any fetch.
	DomainDenylist []string

	// CitationRequired makes the reviewer reject uncited findings.
	CitationRequired bool

	// MinSourceAuthorityScore is the quality gate for citation authority.
	MinSourceAuthorityScore float64

	// RecencyThresholdDays marks sources older than this stale (0 = no limit).
	RecencyThresholdDays int

	// PageFetchTimeout bounds a single reader fetch.
	PageFetchTimeout time.Duration

	// BrowserActionTimeout bounds a single browser action.
	BrowserActionTimeout time.Duration

	// MaxContentChars truncates normalized content per source.
	MaxContentChars int

	// FetchParallelism bounds concurrent reader fetches.
	FetchParallelism int

	// DistillEvery is the step cadence for distill+review passes.
	DistillEvery int
}

// Load reads configuration from environment variables, applying defaults.
func Load() Config {
	return Config{
		WorkspaceBaseDir:          envOr("SCOUT_WORKSPACE", "./research_sessions"),
		MaxSources:                envInt("SCOUT_MAX_SOURCES", 12),
		MaxSteps:                  envInt("SCOUT_MAX_STEPS", 40),
		BundleTokenBudget:         envInt("SCOUT_BUNDLE_TOKEN_BUDGET", 1200),
		BrowserStepBudget:         envInt("SCOUT_BROWSER_STEP_BUDGET", 15),
		SourceDiversityMinDomains: envInt("SCOUT_DIVERSITY_MIN_DOMAINS", 4),
		ReaderFailEscalationCount: envInt("SCOUT_READER_FAIL_ESCALATION", 2),
		DefaultMode:               envOr("SCOUT_DEFAULT_MODE", "browser_allowed"),
		AllowedSearchProviders:    envList("SCOUT_SEARCH_PROVIDERS", []string{"stub"}),
		DomainAllowlist:           envList("SCOUT_DOMAIN_ALLOWLIST", nil),
		DomainDenylist:            envList("SCOUT_DOMAIN_DENYLIST", []string{"facebook.com", "twitter.com", "instagram.com", "tiktok.com"}),
		CitationRequired:          envBool("SCOUT_CITATION_REQUIRED", true),
		MinSourceAuthorityScore:   envFloat("SCOUT_MIN_AUTHORITY", 0.3),
		RecencyThresholdDays:      envInt("SCOUT_RECENCY_DAYS", 0),
		PageFetchTimeout:          envDuration("SCOUT_PAGE_FETCH_TIMEOUT", 30*time.Second),
		BrowserActionTimeout:      envDuration("SCOUT_BROWSER_ACTION_TIMEOUT", 60*time.Second),
		MaxContentChars:           envInt("SCOUT_MAX_CONTENT_CHARS", 50000),
		FetchParallelism:          envInt("SCOUT_FETCH_PARALLELISM", 4),
		DistillEvery:              envInt("SCOUT_DISTILL_EVERY", 5),
	}
}

// IsDomainAllowed checks a domain against the denylist first, then the
// allowlist if one is configured. Matching is by substring, so a
// denylist entry of "example.com" also blocks "www.example.com".
func (c Config) IsDomainAllowed(domain string) bool {
	domain = strings.ToLower(domain)
	for _, denied := range c.DomainDenylist {
		if strings.Contains(domain, strings.ToLower(denied)) {
			return false
		}
	}
	if len(c.DomainAllowlist) > 0 {
		for _, allowed := range c.DomainAllowlist {
			if strings.Contains(domain, strings.ToLower(allowed)) {
				return true
			}
		}
		return false
	}
	return true
}

// ProviderAllowed reports whether a search provider name is configured.
func (c Config) ProviderAllowed(name string) bool {
	for _, p := range c.AllowedSearchProviders {
		if p == name {
			return true
		}
	}
	return false
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
