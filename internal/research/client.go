// Package research gathers web sources for the search and research modes:
// a SearXNG metasearch client, a page fetcher with content extraction, and a
// pipeline that turns sub-queries into numbered source material.
package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Sentinel errors for search operations.
var (
	// ErrNoResults is returned when the search engine finds nothing.
	ErrNoResults = errors.New("no search results")

	// ErrSearchFailed wraps non-2xx responses from SearXNG.
	ErrSearchFailed = errors.New("search request failed")
)

const (
	// DefaultMaxResults caps results per query when the caller passes 0.
	DefaultMaxResults = 8

	// maxSearchResponseBytes guards against oversized engine responses.
	maxSearchResponseBytes = 4 << 20

	searchTimeout = 15 * time.Second
)

// SearchResult is one hit from the metasearch engine.
type SearchResult struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Snippet string  `json:"content"`
	Engine  string  `json:"engine"`
	Score   float64 `json:"score"`
}

// searxResponse is the shape of SearXNG's JSON format.
type searxResponse struct {
	Results []SearchResult `json:"results"`
}

// Client queries a SearXNG instance over its JSON API.
type Client struct {
	baseURL    string
	maxResults int
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a search client. baseURL is the SearXNG root, e.g.
// "http://localhost:8888".
func NewClient(baseURL string, maxResults int, logger *slog.Logger) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("searxng base URL is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid searxng base URL: %w", err)
	}
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    baseURL,
		maxResults: maxResults,
		httpClient: &http.Client{Timeout: searchTimeout},
		logger:     logger,
	}, nil
}

// Search runs one query and returns up to maxResults hits, engine-ranked.
// maxResults <= 0 uses the client default.
func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	if query == "" {
		return nil, errors.New("query is empty")
	}
	if maxResults <= 0 {
		maxResults = c.maxResults
	}

	u := fmt.Sprintf("%s/search?q=%s&format=json", c.baseURL, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("searching %q: %w", query, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrSearchFailed, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSearchResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading search response: %w", err)
	}

	var parsed searxResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}

	results := filterResults(parsed.Results)
	if len(results) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNoResults, query)
	}
	if len(results) > maxResults {
		results = results[:maxResults]
	}

	c.logger.Debug("search completed", "query", query, "results", len(results))
	return results, nil
}

// filterResults drops hits without a usable URL or title.
func filterResults(in []SearchResult) []SearchResult {
	out := in[:0]
	for _, r := range in {
		if r.URL == "" || r.Title == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
