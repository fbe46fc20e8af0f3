package research

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/aster0/aster/internal/log"
)

const articleHTML = `<!DOCTYPE html>
<html><head><title>Test Article</title></head>
<body>
<nav>menu menu menu</nav>
<article>
<h1>Test Article</h1>
<p>Go is a statically typed language designed at Google. It compiles fast
and has a small, orthogonal feature set that favors readability.</p>
<p>Goroutines make concurrent programming approachable without explicit
thread management, and channels carry values between them safely.</p>
</article>
<footer>copyright</footer>
</body></html>`

func TestExtractPage(t *testing.T) {
	t.Parallel()

	u, _ := url.Parse("https://example.com/article")
	page, err := extractPage(u, []byte(articleHTML))
	if err != nil {
		t.Fatalf("extractPage() error: %v", err)
	}
	if page.URL != "https://example.com/article" {
		t.Errorf("URL = %q", page.URL)
	}
	if !strings.Contains(page.Content, "statically typed") {
		t.Errorf("Content missing article text: %q", page.Content)
	}
}

func TestFallbackExtract(t *testing.T) {
	t.Parallel()

	u, _ := url.Parse("https://example.com/x")
	raw := `<html><head><title>Bare Page</title><script>evil()</script></head>
<body><p>only a little text here</p></body></html>`

	page, err := fallbackExtract(u, []byte(raw))
	if err != nil {
		t.Fatalf("fallbackExtract() error: %v", err)
	}
	if page.Title != "Bare Page" {
		t.Errorf("Title = %q", page.Title)
	}
	if strings.Contains(page.Content, "evil") {
		t.Errorf("script text leaked: %q", page.Content)
	}
	if !strings.Contains(page.Content, "only a little text") {
		t.Errorf("Content = %q", page.Content)
	}
}

func TestFetcher_Fetch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			_, _ = w.Write([]byte(articleHTML))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	// httptest binds to loopback, which the guard would reject.
	f := NewFetcher(FetcherConfig{AllowPrivateHosts: true}, log.NewNop())
	pages, err := f.Fetch([]string{srv.URL + "/ok", srv.URL + "/missing"})
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if len(pages) != 1 {
		t.Fatalf("got %d pages, want 1", len(pages))
	}
	if !strings.Contains(pages[0].Content, "Goroutines") {
		t.Errorf("Content = %q", pages[0].Content)
	}
}

func TestFetcher_Fetch_SkipsUnsafeURLs(t *testing.T) {
	t.Parallel()

	f := NewFetcher(FetcherConfig{}, log.NewNop())
	pages, err := f.Fetch([]string{
		"http://127.0.0.1:9/never",
		"file:///etc/passwd",
		"http://169.254.169.254/latest/meta-data/",
	})
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if len(pages) != 0 {
		t.Fatalf("got %d pages, want 0", len(pages))
	}
}

func TestNormalizeSpace(t *testing.T) {
	t.Parallel()

	if got := normalizeSpace("  a\n\tb   c "); got != "a b c" {
		t.Errorf("normalizeSpace() = %q", got)
	}
}

func TestTruncateRunes(t *testing.T) {
	t.Parallel()

	if got := truncateRunes("日本語テキスト", 3); got != "日本語" {
		t.Errorf("truncateRunes() = %q", got)
	}
	if got := truncateRunes("short", 10); got != "short" {
		t.Errorf("truncateRunes() = %q", got)
	}
}
