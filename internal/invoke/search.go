package invoke

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/aster0/aster/internal/dispatch"
	"github.com/aster0/aster/internal/research"
	"github.com/aster0/aster/internal/session"
)

const searchSystemPrompt = `You answer questions using the numbered web
sources provided. Cite every claim taken from a source with its inline
marker, e.g. [1] or [2][3]. Prefer recent sources. If the sources do not
cover the question, say so plainly instead of guessing.`

// Searcher is the slice of the research client the search mode needs.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]research.SearchResult, error)
}

// Search grounds an answer in fresh metasearch results.
type Search struct {
	base
	searcher   Searcher
	maxResults int
}

// NewSearch creates the search invoker.
func NewSearch(g *genkit.Genkit, model string, opts Options, searcher Searcher, maxResults int, logger *slog.Logger) (*Search, error) {
	b, err := newBase(g, model, opts, logger)
	if err != nil {
		return nil, err
	}
	if searcher == nil {
		return nil, errors.New("searcher is required")
	}
	if maxResults <= 0 {
		maxResults = research.DefaultMaxResults
	}
	return &Search{base: b, searcher: searcher, maxResults: maxResults}, nil
}

// Invoke implements dispatch.Invoker.
func (s *Search) Invoke(ctx context.Context, inv dispatch.Invocation, cb ai.ModelStreamCallback) (*dispatch.Result, error) {
	results, err := s.searcher.Search(ctx, inv.Query, s.maxResults)
	if err != nil {
		if !errors.Is(err, research.ErrNoResults) {
			return nil, fmt.Errorf("web search: %w", err)
		}
		s.logger.Debug("no search results", "query", inv.Query)
	}

	prompt := buildSearchPrompt(inv.Query, results)
	system := withMemories(searchSystemPrompt, inv.Memories)
	resp, err := s.generate(ctx, s.generateOptions(system, prompt, inv.History, nil, cb))
	if err != nil {
		return nil, err
	}

	text := resp.Text()
	citations := dedupeByURL(citationsFromResults(results))
	return &dispatch.Result{
		Text:      text,
		Citations: citedCitations(text, citations),
	}, nil
}

// buildSearchPrompt numbers the results and attaches the question.
func buildSearchPrompt(query string, results []research.SearchResult) string {
	var b strings.Builder
	if len(results) == 0 {
		b.WriteString("No web sources were found for this question.\n\n")
	} else {
		b.WriteString("Sources:\n")
		for i, r := range results {
			fmt.Fprintf(&b, "[%d] %s — %s\n%s\n\n", i+1, r.Title, r.URL, r.Snippet)
		}
	}
	fmt.Fprintf(&b, "Question: %s", query)
	return b.String()
}

// citationsFromResults numbers results in order of appearance, 1-based, to
// match the [n] markers in the prompt.
func citationsFromResults(results []research.SearchResult) []session.Citation {
	citations := make([]session.Citation, len(results))
	for i, r := range results {
		citations[i] = session.Citation{Index: i + 1, Title: r.Title, URL: r.URL}
	}
	return citations
}
