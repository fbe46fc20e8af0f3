package research

import (
	"context"
	"fmt"
	"log/slog"
)

const (
	// DefaultMaxSources caps how many pages feed one synthesis.
	DefaultMaxSources = 6

	// resultsPerSubQuery is how many hits each sub-query contributes
	// before the URL pool is deduplicated and truncated.
	resultsPerSubQuery = 4
)

// Source is one numbered piece of source material for synthesis.
type Source struct {
	Index   int // 1-based citation index
	Title   string
	URL     string
	Content string
}

// Pipeline turns sub-queries into deduplicated, fetched, numbered sources.
type Pipeline struct {
	client     *Client
	fetcher    *Fetcher
	maxSources int
	logger     *slog.Logger
}

// NewPipeline creates a research pipeline. maxSources <= 0 uses the default.
func NewPipeline(client *Client, fetcher *Fetcher, maxSources int, logger *slog.Logger) (*Pipeline, error) {
	if client == nil {
		return nil, fmt.Errorf("search client is required")
	}
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if maxSources <= 0 {
		maxSources = DefaultMaxSources
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{client: client, fetcher: fetcher, maxSources: maxSources, logger: logger}, nil
}

// Collect searches every sub-query, deduplicates hits by URL (first
// appearance wins), fetches the top pages and returns them as numbered
// sources. Sub-queries that fail are skipped; Collect errors only when no
// source survives.
func (p *Pipeline) Collect(ctx context.Context, queries []string) ([]Source, error) {
	if len(queries) == 0 {
		return nil, fmt.Errorf("no queries to research")
	}

	seen := make(map[string]bool)
	var candidates []SearchResult
	for _, q := range queries {
		results, err := p.client.Search(ctx, q, resultsPerSubQuery)
		if err != nil {
			p.logger.Debug("sub-query search failed", "query", q, "error", err)
			continue
		}
		for _, r := range results {
			if seen[r.URL] {
				continue
			}
			seen[r.URL] = true
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("research: %w", ErrNoResults)
	}
	if len(candidates) > p.maxSources {
		candidates = candidates[:p.maxSources]
	}

	urls := make([]string, len(candidates))
	byURL := make(map[string]SearchResult, len(candidates))
	for i, c := range candidates {
		urls[i] = c.URL
		byURL[c.URL] = c
	}

	pages, err := p.fetcher.Fetch(urls)
	if err != nil {
		return nil, fmt.Errorf("fetching sources: %w", err)
	}

	var sources []Source
	for _, page := range pages {
		title := page.Title
		if title == "" {
			title = byURL[page.URL].Title
		}
		sources = append(sources, Source{
			Index:   len(sources) + 1,
			Title:   title,
			URL:     page.URL,
			Content: page.Content,
		})
	}

	// Fall back to snippets for pages that would not fetch, so a blocked
	// site does not starve the synthesis entirely.
	if len(sources) == 0 {
		for i, c := range candidates {
			sources = append(sources, Source{
				Index:   i + 1,
				Title:   c.Title,
				URL:     c.URL,
				Content: c.Snippet,
			})
		}
	}

	p.logger.Debug("research sources collected",
		"queries", len(queries), "candidates", len(candidates), "sources", len(sources))
	return sources, nil
}
