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

const (
	// maxSubQueries bounds the expansion step.
	maxSubQueries = 4

	researchSystemPrompt = `You write thorough, well-structured research
reports from the numbered sources provided. Organize with markdown headings,
cite every sourced claim inline with [n] markers, weigh conflicting sources
against each other, and end with a short conclusion. Do not invent sources.`

	expandPromptTemplate = `Decompose the research topic below into %d focused
web search queries that together cover it. Return one query per line, no
numbering, no commentary.

Topic: %s`
)

// SourceCollector is the slice of the research pipeline this mode needs.
type SourceCollector interface {
	Collect(ctx context.Context, queries []string) ([]research.Source, error)
}

// Research runs the deep research pipeline: expand, gather, synthesize.
type Research struct {
	base
	pipeline    SourceCollector
	expandModel string // cheaper model for sub-query expansion
}

// NewResearch creates the research invoker. model does the synthesis;
// expandModel generates sub-queries (falls back to model when empty).
func NewResearch(g *genkit.Genkit, model, expandModel string, opts Options, pipeline SourceCollector, logger *slog.Logger) (*Research, error) {
	b, err := newBase(g, model, opts, logger)
	if err != nil {
		return nil, err
	}
	if pipeline == nil {
		return nil, errors.New("source collector is required")
	}
	if expandModel == "" {
		expandModel = model
	}
	return &Research{base: b, pipeline: pipeline, expandModel: expandModel}, nil
}

// Invoke implements dispatch.Invoker.
func (r *Research) Invoke(ctx context.Context, inv dispatch.Invocation, cb ai.ModelStreamCallback) (*dispatch.Result, error) {
	queries := r.expandQueries(ctx, inv.Query)

	sources, err := r.pipeline.Collect(ctx, queries)
	if err != nil {
		return nil, fmt.Errorf("collecting sources: %w", err)
	}

	prompt := buildSynthesisPrompt(inv.Query, sources)
	resp, err := r.generate(ctx, r.generateOptions(researchSystemPrompt, prompt, nil, nil, cb))
	if err != nil {
		return nil, err
	}

	text := resp.Text()
	citations := make([]session.Citation, len(sources))
	for i, s := range sources {
		citations[i] = session.Citation{Index: s.Index, Title: s.Title, URL: s.URL}
	}
	return &dispatch.Result{
		Text:      text,
		Citations: citedCitations(text, dedupeByURL(citations)),
	}, nil
}

// expandQueries asks a cheap model for sub-queries. The original query is
// always included; expansion failures degrade to it alone.
func (r *Research) expandQueries(ctx context.Context, query string) []string {
	resp, err := genkit.Generate(ctx, r.g,
		ai.WithModelName(r.expandModel),
		ai.WithPrompt(expandPromptTemplate, maxSubQueries-1, query),
	)
	if err != nil {
		r.logger.Debug("sub-query expansion failed", "error", err)
		return []string{query}
	}

	queries := []string{query}
	for _, line := range strings.Split(resp.Text(), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.EqualFold(line, query) {
			continue
		}
		queries = append(queries, line)
		if len(queries) == maxSubQueries {
			break
		}
	}
	return queries
}

// buildSynthesisPrompt lays out the numbered source material.
func buildSynthesisPrompt(query string, sources []research.Source) string {
	var b strings.Builder
	b.WriteString("Source material:\n\n")
	for _, s := range sources {
		fmt.Fprintf(&b, "[%d] %s — %s\n%s\n\n", s.Index, s.Title, s.URL, s.Content)
	}
	fmt.Fprintf(&b, "Research question: %s", query)
	return b.String()
}
