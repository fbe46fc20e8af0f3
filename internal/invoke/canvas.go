package invoke

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/aster0/aster/internal/artifact"
	"github.com/aster0/aster/internal/dispatch"
)

const canvasSystemPrompt = `You produce one standalone document: a complete
code file or a long-form markdown document, whichever the request calls for.
Start with a single line "TITLE: <short descriptive title>", then emit the
document inside one fenced code block. Outside the fence, write at most a
two-sentence summary.`

// fenceRe captures the info string and body of the first fenced block.
var fenceRe = regexp.MustCompile("(?s)```([a-zA-Z0-9_+-]*)\n(.*?)```")

var titleLineRe = regexp.MustCompile(`(?m)^TITLE:\s*(.+)$`)

// Canvas generates a standalone document and stores it as an artifact.
type Canvas struct {
	base
	artifacts ArtifactStore
}

// NewCanvas creates the canvas invoker.
func NewCanvas(g *genkit.Genkit, model string, opts Options, artifacts ArtifactStore, logger *slog.Logger) (*Canvas, error) {
	b, err := newBase(g, model, opts, logger)
	if err != nil {
		return nil, err
	}
	if artifacts == nil {
		return nil, errors.New("artifact store is required")
	}
	return &Canvas{base: b, artifacts: artifacts}, nil
}

// Invoke implements dispatch.Invoker.
func (c *Canvas) Invoke(ctx context.Context, inv dispatch.Invocation, cb ai.ModelStreamCallback) (*dispatch.Result, error) {
	system := withMemories(canvasSystemPrompt, inv.Memories)
	resp, err := c.generate(ctx, c.generateOptions(system, inv.Query, inv.History, nil, cb))
	if err != nil {
		return nil, err
	}

	text := resp.Text()
	title, lang, body := parseCanvasOutput(text)
	if body == "" {
		// No fence: treat the whole output as the document.
		body = strings.TrimSpace(text)
	}
	if body == "" {
		return &dispatch.Result{Text: text}, nil
	}

	art := &artifact.Artifact{
		SessionID: inv.SessionID,
		Kind:      artifact.KindCanvas,
		Title:     firstNonEmpty(title, dispatch.StripTags(inv.Query)),
		MIMEType:  mimeForLanguage(lang),
		Data:      []byte(body),
	}
	if err := c.artifacts.Put(ctx, art); err != nil {
		return nil, fmt.Errorf("storing canvas document: %w", err)
	}

	return &dispatch.Result{
		Text:      text,
		Artifacts: []artifact.Ref{art.Ref()},
	}, nil
}

// parseCanvasOutput pulls the TITLE line and the first fenced block.
func parseCanvasOutput(text string) (title, lang, body string) {
	if m := titleLineRe.FindStringSubmatch(text); m != nil {
		title = strings.TrimSpace(m[1])
	}
	if m := fenceRe.FindStringSubmatch(text); m != nil {
		lang = m[1]
		body = strings.TrimRight(m[2], "\n")
	}
	return title, lang, body
}

// mimeForLanguage maps common fence info strings to MIME types.
func mimeForLanguage(lang string) string {
	switch strings.ToLower(lang) {
	case "html":
		return "text/html"
	case "json":
		return "application/json"
	case "md", "markdown", "":
		return "text/markdown"
	default:
		return "text/plain"
	}
}
