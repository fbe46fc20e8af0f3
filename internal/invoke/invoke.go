// Package invoke implements the per-mode model invokers the dispatch router
// drives. Each invoker assembles its own prompt, calls Genkit, and shapes
// the result (text, citations, artifact refs) for the router.
package invoke

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"google.golang.org/genai"

	"github.com/aster0/aster/internal/session"
)

// Options carries generation settings shared by all invokers.
// Zero values leave the model defaults in place.
type Options struct {
	Temperature float32
	MaxTokens   int32

	// Language forces the answer language. Empty or "auto" lets the model
	// follow the user's language.
	Language string
}

// base holds what every invoker needs for a Genkit call.
type base struct {
	g      *genkit.Genkit
	model  string
	opts   Options
	logger *slog.Logger
}

func newBase(g *genkit.Genkit, model string, opts Options, logger *slog.Logger) (base, error) {
	if g == nil {
		return base{}, errors.New("genkit instance is required")
	}
	if model == "" {
		return base{}, errors.New("model name is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return base{g: g, model: model, opts: opts, logger: logger}, nil
}

// generateOptions builds the common Genkit option set: model, config,
// system prompt, prior messages, the user prompt, and optional streaming.
func (b base) generateOptions(system, prompt string, history []*ai.Message, gcfg *genai.GenerateContentConfig, cb ai.ModelStreamCallback) []ai.GenerateOption {
	if gcfg == nil {
		gcfg = &genai.GenerateContentConfig{}
	}
	if gcfg.Temperature == nil && b.opts.Temperature > 0 {
		t := b.opts.Temperature
		gcfg.Temperature = &t
	}
	if gcfg.MaxOutputTokens == 0 && b.opts.MaxTokens > 0 {
		gcfg.MaxOutputTokens = b.opts.MaxTokens
	}

	if lang := b.opts.Language; lang != "" && lang != "auto" {
		directive := "Always answer in " + lang + "."
		if system == "" {
			system = directive
		} else {
			system += "\n\n" + directive
		}
	}

	opts := []ai.GenerateOption{
		ai.WithModelName(b.model),
		ai.WithConfig(gcfg),
	}
	if system != "" {
		opts = append(opts, ai.WithSystem("%s", system))
	}
	if len(history) > 0 {
		opts = append(opts, ai.WithMessages(history...))
	}
	opts = append(opts, ai.WithPrompt("%s", prompt))
	if cb != nil {
		opts = append(opts, ai.WithStreaming(cb))
	}
	return opts
}

// generate runs one Genkit generation. Callback errors (including the
// router's stream abort) pass through wrapped with %w so errors.Is works.
func (b base) generate(ctx context.Context, opts []ai.GenerateOption) (*ai.ModelResponse, error) {
	resp, err := genkit.Generate(ctx, b.g, opts...)
	if err != nil {
		return nil, fmt.Errorf("generate (%s): %w", b.model, err)
	}
	return resp, nil
}

// withMemories appends the recalled memory block to a system prompt.
func withMemories(system, memories string) string {
	if memories == "" {
		return system
	}
	return system + "\n\nWhat you remember about this user:\n" + memories
}

// citationRe matches inline [n] citation markers.
var citationRe = regexp.MustCompile(`\[(\d+)\]`)

// citedCitations keeps the citations whose [n] marker appears in text, in
// index order. When the model cited nothing, all sources are returned so the
// reader can still see what informed the answer.
func citedCitations(text string, all []session.Citation) []session.Citation {
	used := make(map[int]bool)
	for _, m := range citationRe.FindAllStringSubmatch(text, -1) {
		if n, err := strconv.Atoi(m[1]); err == nil {
			used[n] = true
		}
	}
	if len(used) == 0 {
		return all
	}
	var kept []session.Citation
	for _, c := range all {
		if used[c.Index] {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		return all
	}
	return kept
}

// dedupeByURL keeps the first citation per URL, renumbering is NOT applied:
// indexes must stay stable against the [n] markers already in the text.
func dedupeByURL(citations []session.Citation) []session.Citation {
	seen := make(map[string]bool, len(citations))
	out := citations[:0]
	for _, c := range citations {
		if seen[c.URL] {
			continue
		}
		seen[c.URL] = true
		out = append(out, c)
	}
	return out
}

// firstNonEmpty returns the first non-blank string.
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
