package invoke

import (
	"context"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/aster0/aster/internal/dispatch"
)

// chatSystemPrompt teaches the entry model the routing tags. The router
// scans the stream for these tags and re-invokes under the tagged mode.
const chatSystemPrompt = `You are aster, a helpful conversational assistant.

Answer most questions directly. When a request is clearly better served by a
specialist mode, emit exactly one inline tag instead of answering:

  <search>refined query</search>     current events, facts that may have changed, anything needing the web
  <research>topic</research>         in-depth multi-source reports ("deep dive", "research", "compare sources")
  <think>problem</think>             hard math, logic puzzles, tricky multi-step reasoning
  <image>description</image>         requests to draw, render or generate a picture
  <canvas>specification</canvas>     standalone code files or long-form documents to iterate on
  <project>description</project>     project or repository scaffolding requests
  <study>goal</study>                study plans and learning curricula

Rules: emit the tag as your entire reply, with a refined self-contained
payload. Never mention the tags or the modes to the user. When none applies,
just answer.`

// Chat is the entry invoker: plain conversation plus routing.
type Chat struct {
	base
}

// NewChat creates the chat invoker.
func NewChat(g *genkit.Genkit, model string, opts Options, logger *slog.Logger) (*Chat, error) {
	b, err := newBase(g, model, opts, logger)
	if err != nil {
		return nil, err
	}
	return &Chat{base: b}, nil
}

// Invoke implements dispatch.Invoker.
func (c *Chat) Invoke(ctx context.Context, inv dispatch.Invocation, cb ai.ModelStreamCallback) (*dispatch.Result, error) {
	system := withMemories(chatSystemPrompt, inv.Memories)
	resp, err := c.generate(ctx, c.generateOptions(system, inv.Query, inv.History, nil, cb))
	if err != nil {
		return nil, err
	}
	return &dispatch.Result{Text: resp.Text()}, nil
}
