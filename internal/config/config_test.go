package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	envKeys := []string{
		"SCOUT_WORKSPACE", "SCOUT_MAX_SOURCES", "SCOUT_MAX_STEPS",
		"SCOUT_BUNDLE_TOKEN_BUDGET", "SCOUT_BROWSER_STEP_BUDGET",
		"SCOUT_DIVERSITY_MIN_DOMAINS", "SCOUT_READER_FAIL_ESCALATION",
		"SCOUT_DEFAULT_MODE", "SCOUT_SEARCH_PROVIDERS",
		"SCOUT_DOMAIN_ALLOWLIST", "SCOUT_DOMAIN_DENYLIST",
		"SCOUT_CITATION_REQUIRED", "SCOUT_MIN_AUTHORITY",
		"SCOUT_RECENCY_DAYS", "SCOUT_PAGE_FETCH_TIMEOUT",
		"SCOUT_BROWSER_ACTION_TIMEOUT", "SCOUT_MAX_CONTENT_CHARS",
		"SCOUT_FETCH_PARALLELISM", "SCOUT_DISTILL_EVERY",
	}
	saved := make(map[string]string)
	for _, k := range envKeys {
		saved[k] = os.Getenv(k)
		os.Unsetenv(k)
	}
	t.Cleanup(func() {
		for _, k := range envKeys {
			if v := saved[k]; v != "" {
				os.Setenv(k, v)
			} else {
				os.Unsetenv(k)
			}
		}
	})

	cfg := Load()

	if cfg.MaxSources != 12 {
		t.Errorf("MaxSources = %d, want 12", cfg.MaxSources)
	}
	if cfg.MaxSteps != 40 {
		t.Errorf("MaxSteps = %d, want 40", cfg.MaxSteps)
	}
	if cfg.BundleTokenBudget != 1200 {
		t.Errorf("BundleTokenBudget = %d, want 1200", cfg.BundleTokenBudget)
	}
	if cfg.BrowserStepBudget != 15 {
		t.Errorf("BrowserStepBudget = %d, want 15", cfg.BrowserStepBudget)
	}
	if cfg.ReaderFailEscalationCount != 2 {
		t.Errorf("ReaderFailEscalationCount = %d, want 2", cfg.ReaderFailEscalationCount)
	}
	if !cfg.CitationRequired {
		t.Error("CitationRequired = false, want true")
	}
	if cfg.PageFetchTimeout != 30*time.Second {
		t.Errorf("PageFetchTimeout = %v, want 30s", cfg.PageFetchTimeout)
	}
	if len(cfg.DomainDenylist) == 0 {
		t.Error("DomainDenylist is empty, want social-media defaults")
	}
	if len(cfg.AllowedSearchProviders) != 1 || cfg.AllowedSearchProviders[0] != "stub" {
		t.Errorf("AllowedSearchProviders = %v, want [stub]", cfg.AllowedSearchProviders)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	os.Setenv("SCOUT_MAX_SOURCES", "3")
	os.Setenv("SCOUT_SEARCH_PROVIDERS", "stub,serp")
	os.Setenv("SCOUT_CITATION_REQUIRED", "false")
	t.Cleanup(func() {
		os.Unsetenv("SCOUT_MAX_SOURCES")
		os.Unsetenv("SCOUT_SEARCH_PROVIDERS")
		os.Unsetenv("SCOUT_CITATION_REQUIRED")
	})

	cfg := Load()

	if cfg.MaxSources != 3 {
		t.Errorf("MaxSources = %d, want 3", cfg.MaxSources)
	}
	if len(cfg.AllowedSearchProviders) != 2 {
		t.Errorf("AllowedSearchProviders = %v, want two entries", cfg.AllowedSearchProviders)
	}
	if cfg.CitationRequired {
		t.Error("CitationRequired = true, want false")
	}
}

func TestIsDomainAllowed(t *testing.T) {
	tests := []struct {
		name   string
		cfg    Config
		domain string
		want   bool
	}{
		{"no lists", Config{}, "example.com", true},
		{"denied", Config{DomainDenylist: []string{"facebook.com"}}, "facebook.com", false},
		{"denied subdomain", Config{DomainDenylist: []string{"facebook.com"}}, "www.facebook.com", false},
		{"allowlisted", Config{DomainAllowlist: []string{"example.com"}}, "docs.example.com", true},
		{"not on allowlist", Config{DomainAllowlist: []string{"example.com"}}, "other.org", false},
		{"denylist beats allowlist", Config{DomainAllowlist: []string{"example.com"}, DomainDenylist: []string{"example.com"}}, "example.com", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.IsDomainAllowed(tt.domain); got != tt.want {
				t.Errorf("IsDomainAllowed(%q) = %v, want %v", tt.domain, got, tt.want)
			}
		})
	}
}

func TestProviderAllowed(t *testing.T) {
	cfg := Config{AllowedSearchProviders: []string{"stub", "serp"}}
	if !cfg.ProviderAllowed("stub") {
		t.Error("ProviderAllowed(stub) = false, want true")
	}
	if cfg.ProviderAllowed("other") {
		t.Error("ProviderAllowed(other) = true, want false")
	}
}

func TestEnvInt_Invalid(t *testing.T) {
	os.Setenv("TEST_INT_INVALID", "abc")
	t.Cleanup(func() { os.Unsetenv("TEST_INT_INVALID") })

	if got := envInt("TEST_INT_INVALID", 42); got != 42 {
		t.Errorf("envInt with invalid value = %d, want fallback 42", got)
	}
}

func TestEnvDuration_Invalid(t *testing.T) {
	os.Setenv("TEST_DUR_INVALID", "not-a-duration")
	t.Cleanup(func() { os.Unsetenv("TEST_DUR_INVALID") })

	if got := envDuration("TEST_DUR_INVALID", 5*time.Second); got != 5*time.Second {
		t.Errorf("envDuration with invalid value = %v, want fallback 5s", got)
	}
}
