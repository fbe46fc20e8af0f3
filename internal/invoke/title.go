package invoke

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/aster0/aster/internal/session"
)

const (
	titleTimeout       = 5 * time.Second
	titleInputMaxRunes = 500
)

const titlePrompt = `Generate a concise session title (at most %d characters)
for a conversation that starts with this message. Capture the topic or
intent. Return only the title text: no quotes, no trailing punctuation.

Message: %s

Title:`

// GenerateTitle produces a short session title from the first user message.
// Best-effort: returns "" on any failure so callers can fall back to
// truncation.
func GenerateTitle(ctx context.Context, g *genkit.Genkit, model, userMessage string, logger *slog.Logger) string {
	ctx, cancel := context.WithTimeout(ctx, titleTimeout)
	defer cancel()

	runes := []rune(userMessage)
	if len(runes) > titleInputMaxRunes {
		userMessage = string(runes[:titleInputMaxRunes]) + "..."
	}

	resp, err := genkit.Generate(ctx, g,
		ai.WithModelName(model),
		ai.WithPrompt(titlePrompt, session.TitleMaxLength, userMessage),
	)
	if err != nil {
		if logger != nil {
			logger.Debug("title generation failed", "error", err)
		}
		return ""
	}

	return session.TruncateTitle(strings.TrimSpace(resp.Text()))
}
