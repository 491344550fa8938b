// Package reader fetches a single URL over direct HTTP and normalizes
// the body to clean text plus extracted metadata. Failures are typed:
// transient network problems retry, unsupported content never does, and
// a detected script-dependent page escalates to browser mode instead of
// erroring.
package reader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	nurl "net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/araddon/dateparse"
	"github.com/go-shiori/go-readability"

	"github.com/yangwenmai/scout/internal/config"
	"github.com/yangwenmai/scout/internal/model"
)

const (
	// minExtractableChars is the threshold below which a page is treated
	// as empty; behind a script shell it means "requires script execution".
	minExtractableChars = 50
	// maxBodySize caps the HTTP response body (5MB).
	maxBodySize = 5 * 1024 * 1024
)

// Page is the normalized result of one successful fetch.
type Page struct {
	URL         string
	Title       string
	Text        string
	Author      string
	PublishDate string // RFC3339
	Description string
	WordCount   int
	Truncated   bool
}

// Reader fetches and normalizes pages.
type Reader struct {
	cfg    config.Config
	client *http.Client
}

// New creates a reader with the configured fetch timeout.
func New(cfg config.Config) *Reader {
	return &Reader{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.PageFetchTimeout,
		},
	}
}

// Read fetches a URL and returns normalized content, or a typed
// *model.FetchError.
func (r *Reader) Read(ctx context.Context, url string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &model.FetchError{Kind: model.KindNetwork, URL: url, Err: err}
	}

	// A realistic browser User-Agent avoids being blocked by many sites.
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := r.client.Do(req)
	if err != nil {
		kind := model.KindNetwork
		if ctx.Err() != nil || isTimeout(err) {
			kind = model.KindTimeout
		}
		return nil, &model.FetchError{Kind: kind, URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		kind := model.KindNetwork
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			kind = model.KindDenied
		}
		return nil, &model.FetchError{Kind: kind, URL: url, Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	}

	contentType := resp.Header.Get("Content-Type")
	if !textContent(contentType) {
		return nil, &model.FetchError{Kind: model.KindNonText, URL: url, Err: fmt.Errorf("unsupported content type %q", contentType)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &model.FetchError{Kind: model.KindNetwork, URL: url, Err: fmt.Errorf("read body: %w", err)}
	}
	html := string(body)

	parsedURL, _ := nurl.Parse(url)
	article, err := readability.FromReader(strings.NewReader(html), parsedURL)
	if err != nil {
		return nil, &model.FetchError{Kind: model.KindNetwork, URL: url, Err: fmt.Errorf("readability: %w", err)}
	}

	text := normalizeText(article.TextContent)

	if utf8.RuneCountInString(text) < minExtractableChars {
		if needsScript(html) {
			return nil, &model.FetchError{Kind: model.KindNeedsScript, URL: url, Err: fmt.Errorf("only %d extractable chars behind a script shell", utf8.RuneCountInString(text))}
		}
		return nil, &model.FetchError{Kind: model.KindNetwork, URL: url, Err: fmt.Errorf("extracted content too short (%d chars)", utf8.RuneCountInString(text))}
	}

	truncated := false
	if utf8.RuneCountInString(text) > r.cfg.MaxContentChars {
		runes := []rune(text)
		text = string(runes[:r.cfg.MaxContentChars]) + "\n... [truncated]"
		truncated = true
	}

	page := &Page{
		URL:         url,
		Title:       article.Title,
		Text:        text,
		Author:      article.Byline,
		Description: article.Excerpt,
		WordCount:   len(strings.Fields(text)),
		Truncated:   truncated,
	}
	if article.PublishedTime != nil && !article.PublishedTime.IsZero() {
		page.PublishDate = article.PublishedTime.UTC().Format(time.RFC3339)
	} else if date := metaPublishDate(html); date != "" {
		page.PublishDate = date
	}
	if page.Author == "" {
		page.Author = metaAuthor(html)
	}
	return page, nil
}

func textContent(contentType string) bool {
	if contentType == "" {
		return true
	}
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "text/html") ||
		strings.Contains(ct, "text/plain") ||
		strings.Contains(ct, "application/xhtml")
}

func isTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "Client.Timeout")
}

// spaIndicators mark client-side-rendered framework shells.
var spaIndicators = []string{
	"window.__INITIAL_STATE__",
	"window.__NUXT__",
	"window.__NEXT_DATA__",
	"__GATSBY",
	"ng-app",
	"data-reactroot",
	`id="root"`,
	`id="app"`,
}

// needsScript reports whether a page with little extractable text looks
// like a JS-rendered shell rather than a genuinely empty document.
func needsScript(html string) bool {
	for _, indicator := range spaIndicators {
		if strings.Contains(html, indicator) {
			return true
		}
	}
	lower := strings.ToLower(html)
	if strings.Contains(lower, "<noscript>") {
		return true
	}
	return strings.Count(lower, "<script") > 10
}

var (
	multiSpace   = regexp.MustCompile(`[ \t]+`)
	multiNewline = regexp.MustCompile(`\n{3,}`)
)

func normalizeText(s string) string {
	s = strings.TrimSpace(s)
	s = multiSpace.ReplaceAllString(s, " ")
	s = multiNewline.ReplaceAllString(s, "\n\n")
	return s
}

var publishDatePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<meta[^>]+property=["']article:published_time["'][^>]+content=["']([^"']+)["']`),
	regexp.MustCompile(`(?i)<meta[^>]+name=["']date["'][^>]+content=["']([^"']+)["']`),
	regexp.MustCompile(`(?i)<time[^>]+datetime=["']([^"']+)["']`),
}

func metaPublishDate(html string) string {
	for _, pattern := range publishDatePatterns {
		if m := pattern.FindStringSubmatch(html); m != nil {
			if t, err := dateparse.ParseAny(m[1]); err == nil {
				return t.UTC().Format(time.RFC3339)
			}
		}
	}
	return ""
}

var authorPattern = regexp.MustCompile(`(?i)<meta[^>]+name=["']author["'][^>]+content=["']([^"']+)["']`)

func metaAuthor(html string) string {
	if m := authorPattern.FindStringSubmatch(html); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}
