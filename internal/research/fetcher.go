package research

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"github.com/gocolly/colly/v2"
	"golang.org/x/net/html"

	"github.com/aster0/aster/internal/security"
)

const (
	// DefaultParallelism bounds concurrent page fetches.
	DefaultParallelism = 4

	// DefaultFetchDelay spaces requests to the same domain.
	DefaultFetchDelay = 200 * time.Millisecond

	// DefaultFetchTimeout bounds one page request.
	DefaultFetchTimeout = 10 * time.Second

	// MaxPageBytes caps the body size colly will download.
	MaxPageBytes = 2 << 20

	// MaxContentRunes caps extracted text per page.
	MaxContentRunes = 8000
)

// Page is one fetched and extracted web page.
type Page struct {
	URL     string
	Title   string
	Content string
}

// FetcherConfig tunes the page fetcher. Zero values take defaults.
type FetcherConfig struct {
	Parallelism int
	Delay       time.Duration
	Timeout     time.Duration

	// AllowPrivateHosts disables the SSRF guard. Only for deployments that
	// deliberately search an intranet, and for tests.
	AllowPrivateHosts bool
}

// Fetcher downloads pages concurrently and extracts readable text.
// Target URLs come from search results, so every fetch goes through the
// SSRF guard both before and during connection.
type Fetcher struct {
	cfg    FetcherConfig
	guard  *security.Guard
	logger *slog.Logger
}

// NewFetcher creates a Fetcher.
func NewFetcher(cfg FetcherConfig, logger *slog.Logger) *Fetcher {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = DefaultParallelism
	}
	if cfg.Delay <= 0 {
		cfg.Delay = DefaultFetchDelay
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultFetchTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	f := &Fetcher{cfg: cfg, logger: logger}
	if !cfg.AllowPrivateHosts {
		f.guard = security.NewGuard()
	}
	return f
}

// Fetch downloads the given URLs and returns the pages that yielded usable
// content. Per-page failures are logged and skipped; Fetch errors only when
// the collector itself cannot be configured.
func (f *Fetcher) Fetch(urls []string) ([]Page, error) {
	if len(urls) == 0 {
		return nil, nil
	}

	c := colly.NewCollector(
		colly.MaxBodySize(MaxPageBytes),
		colly.Async(true),
	)
	c.SetRequestTimeout(f.cfg.Timeout)
	if f.guard != nil {
		// The guard's dialer re-validates resolved IPs, so redirects and
		// DNS rebinding cannot reach private addresses either.
		c.WithTransport(f.guard.SafeTransport())
	}
	if err := c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: f.cfg.Parallelism,
		Delay:       f.cfg.Delay,
	}); err != nil {
		return nil, fmt.Errorf("configuring fetch limits: %w", err)
	}

	var mu sync.Mutex
	var pages []Page

	c.OnResponse(func(r *colly.Response) {
		page, err := extractPage(r.Request.URL, r.Body)
		if err != nil {
			f.logger.Debug("page extraction failed", "url", r.Request.URL, "error", err)
			return
		}
		mu.Lock()
		pages = append(pages, page)
		mu.Unlock()
	})
	c.OnError(func(r *colly.Response, err error) {
		f.logger.Debug("page fetch failed", "url", r.Request.URL, "error", err)
	})

	for _, u := range urls {
		if f.guard != nil {
			if err := f.guard.ValidateURL(u); err != nil {
				f.logger.Debug("skipping unsafe url", "url", u, "error", err)
				continue
			}
		}
		if err := c.Visit(u); err != nil {
			f.logger.Debug("skipping url", "url", u, "error", err)
		}
	}
	c.Wait()

	return pages, nil
}

// extractPage pulls readable text from a fetched body, preferring
// readability extraction with a goquery/html fallback.
func extractPage(pageURL *url.URL, body []byte) (Page, error) {
	article, err := readability.FromReader(bytes.NewReader(body), pageURL)
	if err == nil && strings.TrimSpace(article.TextContent) != "" {
		return Page{
			URL:     pageURL.String(),
			Title:   strings.TrimSpace(article.Title),
			Content: truncateRunes(normalizeSpace(article.TextContent), MaxContentRunes),
		}, nil
	}

	page, ferr := fallbackExtract(pageURL, body)
	if ferr != nil {
		if err != nil {
			return Page{}, fmt.Errorf("readability: %w; fallback: %w", err, ferr)
		}
		return Page{}, ferr
	}
	return page, nil
}

// fallbackExtract uses goquery for title and body text when readability
// produces nothing, tolerating broken markup via x/net/html.
func fallbackExtract(pageURL *url.URL, body []byte) (Page, error) {
	node, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return Page{}, fmt.Errorf("parsing html: %w", err)
	}
	doc := goquery.NewDocumentFromNode(node)

	doc.Find("script, style, nav, footer, header").Remove()
	title := strings.TrimSpace(doc.Find("title").First().Text())
	text := normalizeSpace(doc.Find("body").Text())
	if text == "" {
		return Page{}, errors.New("no extractable text")
	}

	return Page{
		URL:     pageURL.String(),
		Title:   title,
		Content: truncateRunes(text, MaxContentRunes),
	}, nil
}

// normalizeSpace collapses runs of whitespace to single spaces.
func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncateRunes cuts s to at most n runes.
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
