package dispatch

import (
	"slices"
	"unicode/utf8"

	"github.com/firebase/genkit/go/ai"
)

// TokenBudget bounds how much context a single invocation may carry.
type TokenBudget struct {
	MaxHistoryTokens int // conversation history
	MaxMemoryTokens  int // recalled user memories
}

// DefaultTokenBudget returns conservative defaults for Gemini models.
func DefaultTokenBudget() TokenBudget {
	return TokenBudget{
		MaxHistoryTokens: 8000,
		MaxMemoryTokens:  1500,
	}
}

// estimateTokens is a rough count: rune count divided by 2. Conservative for
// both English (~4 chars/token) and CJK (~1.5 chars/token) text.
func estimateTokens(text string) int {
	return utf8.RuneCountInString(text) / 2
}

// estimateMessagesTokens sums the estimate over all text parts.
func estimateMessagesTokens(msgs []*ai.Message) int {
	total := 0
	for _, msg := range msgs {
		for _, part := range msg.Content {
			total += estimateTokens(part.Text)
		}
	}
	return total
}

// truncateHistory drops the oldest messages until msgs fits the budget.
// A leading system message is always preserved.
func truncateHistory(msgs []*ai.Message, budget int) []*ai.Message {
	if len(msgs) == 0 || estimateMessagesTokens(msgs) <= budget {
		return msgs
	}

	result := make([]*ai.Message, 0, len(msgs))
	start := 0
	if msgs[0].Role == ai.RoleSystem {
		result = append(result, msgs[0])
		start = 1
	}

	remaining := budget - estimateMessagesTokens(result)
	kept := make([]*ai.Message, 0, len(msgs)-start)
	for i := len(msgs) - 1; i >= start; i-- {
		cost := estimateMessagesTokens(msgs[i : i+1])
		if remaining < cost {
			break
		}
		kept = append(kept, msgs[i])
		remaining -= cost
	}
	slices.Reverse(kept)
	return append(result, kept...)
}
