package reader

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/yangwenmai/scout/internal/config"
	"github.com/yangwenmai/scout/internal/model"
)

func testConfig() config.Config {
	return config.Config{
		PageFetchTimeout: 5 * time.Second,
		MaxContentChars:  50000,
	}
}

func serve(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func articleHTML(body string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html><head><title>Test Article</title>
<meta property="article:published_time" content="2024-03-15T10:00:00Z">
<meta name="author" content="Jane Doe">
</head><body><article><h1>Test Article</h1><p>%s</p></article></body></html>`, body)
}

func TestRead_Success(t *testing.T) {
	body := strings.Repeat("This paragraph carries enough prose to extract meaningful text. ", 10)
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, articleHTML(body))
	})

	page, err := New(testConfig()).Read(t.Context(), srv.URL)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if page.Title != "Test Article" {
		t.Errorf("Title = %q", page.Title)
	}
	if page.WordCount == 0 {
		t.Error("WordCount = 0")
	}
	if page.PublishDate != "2024-03-15T10:00:00Z" {
		t.Errorf("PublishDate = %q", page.PublishDate)
	}
	if page.Truncated {
		t.Error("short page marked truncated")
	}
}

func TestRead_Truncation(t *testing.T) {
	cfg := testConfig()
	cfg.MaxContentChars = 100
	body := strings.Repeat("Filler prose that keeps going well beyond the limit. ", 50)
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, articleHTML(body))
	})

	page, err := New(cfg).Read(t.Context(), srv.URL)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !page.Truncated {
		t.Fatal("page not truncated")
	}
	if !strings.HasSuffix(page.Text, "[truncated]") {
		t.Errorf("truncated text missing marker: %q", page.Text[len(page.Text)-30:])
	}
}

func TestRead_NeedsScript(t *testing.T) {
	// A framework shell with almost no extractable text must classify as
	// requires-script-execution, not a plain failure.
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<!DOCTYPE html><html><head><title>App</title></head>
<body><div id="root"></div><script>window.__NEXT_DATA__={"page":"/"}</script></body></html>`)
	})

	_, err := New(testConfig()).Read(t.Context(), srv.URL)
	if err == nil {
		t.Fatal("expected error")
	}
	if kind := model.FetchKind(err); kind != model.KindNeedsScript {
		t.Errorf("kind = %q, want needs_script", kind)
	}
	var fe *model.FetchError
	if !errors.As(err, &fe) {
		t.Fatal("error is not a *model.FetchError")
	}
	if fe.Retryable() {
		t.Error("needs_script reported retryable; it must escalate instead")
	}
}

func TestRead_NonTextContent(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Write([]byte("%PDF-1.4"))
	})

	_, err := New(testConfig()).Read(t.Context(), srv.URL)
	if kind := model.FetchKind(err); kind != model.KindNonText {
		t.Errorf("kind = %q, want non_text", kind)
	}
}

func TestRead_ClientErrorIsDenied(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	})

	_, err := New(testConfig()).Read(t.Context(), srv.URL)
	if kind := model.FetchKind(err); kind != model.KindDenied {
		t.Errorf("kind = %q, want denied", kind)
	}
}

func TestRead_ServerErrorIsRetryable(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	_, err := New(testConfig()).Read(t.Context(), srv.URL)
	var fe *model.FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("err = %v, want *model.FetchError", err)
	}
	if !fe.Retryable() {
		t.Error("server error not retryable")
	}
}

func TestRead_Timeout(t *testing.T) {
	cfg := testConfig()
	cfg.PageFetchTimeout = 50 * time.Millisecond
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	})

	_, err := New(cfg).Read(t.Context(), srv.URL)
	if kind := model.FetchKind(err); kind != model.KindTimeout {
		t.Errorf("kind = %q, want timeout", kind)
	}
}

func TestNeedsScript(t *testing.T) {
	tests := []struct {
		name string
		html string
		want bool
	}{
		{"next shell", `<script>window.__NEXT_DATA__={}</script>`, true},
		{"react root", `<div data-reactroot></div>`, true},
		{"noscript", `<body><NOSCRIPT>enable js</NOSCRIPT></body>`, true},
		{"plain page", `<body><p>hello</p></body>`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := needsScript(tt.html); got != tt.want {
				t.Errorf("needsScript = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNormalizeText(t *testing.T) {
	in := "line  one\t\tspaced\n\n\n\n\nline two"
	want := "line one spaced\n\nline two"
	if got := normalizeText(in); got != want {
		t.Errorf("normalizeText = %q, want %q", got, want)
	}
}
