package invoke

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"google.golang.org/genai"

	"github.com/aster0/aster/internal/dispatch"
)

const thinkSystemPrompt = `You are a careful reasoner. Work through the
problem step by step before answering. You may reason inside
<think>...</think>; everything inside is hidden from the user, so the text
after it must stand alone as the complete answer.`

// DefaultThinkingBudget is the token budget handed to the model's internal
// reasoning phase.
const DefaultThinkingBudget int32 = 8192

// thinkBlockRe removes complete or unclosed reasoning blocks from final text.
var thinkBlockRe = regexp.MustCompile(`(?s)<think>(?:.*?</think>|.*$)\s*`)

// Think invokes a reasoning model and hides its chain of thought.
type Think struct {
	base
	thinkingBudget int32
}

// NewThink creates the think invoker. budget <= 0 uses the default.
func NewThink(g *genkit.Genkit, model string, opts Options, budget int32, logger *slog.Logger) (*Think, error) {
	b, err := newBase(g, model, opts, logger)
	if err != nil {
		return nil, err
	}
	if budget <= 0 {
		budget = DefaultThinkingBudget
	}
	return &Think{base: b, thinkingBudget: budget}, nil
}

// Invoke implements dispatch.Invoker.
func (t *Think) Invoke(ctx context.Context, inv dispatch.Invocation, cb ai.ModelStreamCallback) (*dispatch.Result, error) {
	budget := t.thinkingBudget
	gcfg := &genai.GenerateContentConfig{
		ThinkingConfig: &genai.ThinkingConfig{ThinkingBudget: &budget},
	}

	var filter *thinkFilter
	wrapped := cb
	if cb != nil {
		filter = newThinkFilter()
		wrapped = func(ctx context.Context, chunk *ai.ModelResponseChunk) error {
			for _, part := range chunk.Content {
				if part.Kind != ai.PartText || part.Text == "" {
					continue
				}
				visible := filter.feed(part.Text)
				if visible == "" {
					continue
				}
				out := &ai.ModelResponseChunk{Content: []*ai.Part{ai.NewTextPart(visible)}}
				if err := cb(ctx, out); err != nil {
					return err
				}
			}
			return nil
		}
	}

	system := withMemories(thinkSystemPrompt, inv.Memories)
	resp, err := t.generate(ctx, t.generateOptions(system, inv.Query, inv.History, gcfg, wrapped))
	if err != nil {
		return nil, err
	}

	if filter != nil {
		if tail := filter.finish(); tail != "" && cb != nil {
			out := &ai.ModelResponseChunk{Content: []*ai.Part{ai.NewTextPart(tail)}}
			if err := cb(ctx, out); err != nil {
				return nil, err
			}
		}
	}

	return &dispatch.Result{Text: stripThinkBlocks(resp.Text())}, nil
}

// stripThinkBlocks removes reasoning blocks, closed or dangling, from text.
func stripThinkBlocks(text string) string {
	return strings.TrimSpace(thinkBlockRe.ReplaceAllString(text, ""))
}

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

// thinkFilter drops <think> blocks from a stream of text fragments, holding
// back any suffix that could still become one of the markers.
type thinkFilter struct {
	inside   bool
	heldTail string // partial marker held back between feeds
}

func newThinkFilter() *thinkFilter {
	return &thinkFilter{}
}

// feed consumes one fragment and returns the text safe to display.
func (f *thinkFilter) feed(text string) string {
	buf := f.heldTail + text
	f.heldTail = ""
	var out strings.Builder

	for len(buf) > 0 {
		if f.inside {
			idx := strings.Index(buf, thinkClose)
			if idx < 0 {
				// Keep a possible partial close marker; drop the rest.
				f.heldTail = partialMarkerSuffix(buf, thinkClose)
				return out.String()
			}
			f.inside = false
			buf = buf[idx+len(thinkClose):]
			buf = strings.TrimLeft(buf, " \n")
			continue
		}

		idx := strings.Index(buf, thinkOpen)
		if idx < 0 {
			keep := partialMarkerSuffix(buf, thinkOpen)
			out.WriteString(buf[:len(buf)-len(keep)])
			f.heldTail = keep
			return out.String()
		}
		out.WriteString(buf[:idx])
		f.inside = true
		buf = buf[idx+len(thinkOpen):]
	}
	return out.String()
}

// finish flushes stream end: a held partial marker that never completed is
// ordinary text, an unclosed think block stays hidden.
func (f *thinkFilter) finish() string {
	if f.inside {
		return ""
	}
	tail := f.heldTail
	f.heldTail = ""
	return tail
}

// partialMarkerSuffix returns the longest suffix of buf that is a proper
// prefix of marker.
func partialMarkerSuffix(buf, marker string) string {
	max := min(len(marker)-1, len(buf))
	for n := max; n > 0; n-- {
		if strings.HasPrefix(marker, buf[len(buf)-n:]) {
			return buf[len(buf)-n:]
		}
	}
	return ""
}
