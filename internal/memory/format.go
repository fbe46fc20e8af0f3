package memory

import (
	"fmt"
	"strings"
)

// categoryOrder controls how memory categories appear in the prompt block.
// Stable identity facts first, situational facts last.
var categoryOrder = []Category{
	CategoryIdentity,
	CategoryPreference,
	CategoryProject,
	CategoryContextual,
}

var categoryHeadings = map[Category]string{
	CategoryIdentity:   "About the user",
	CategoryPreference: "Preferences",
	CategoryProject:    "Current work",
	CategoryContextual: "Recent context",
}

// FormatMemories renders memories as a prompt block grouped by category,
// dropping entries once the token budget is exhausted. Returns an empty
// string for no memories or a non-positive budget.
func FormatMemories(memories []*Memory, budget int) string {
	if len(memories) == 0 || budget <= 0 {
		return ""
	}

	grouped := make(map[Category][]*Memory, len(categoryOrder))
	for _, m := range memories {
		grouped[m.Category] = append(grouped[m.Category], m)
	}

	var b strings.Builder
	used := 0
	for _, cat := range categoryOrder {
		entries := grouped[cat]
		if len(entries) == 0 {
			continue
		}
		heading := fmt.Sprintf("%s:\n", categoryHeadings[cat])
		wroteHeading := false
		for _, m := range entries {
			line := fmt.Sprintf("- %s\n", m.Content)
			cost := estimateTokens(line)
			if !wroteHeading {
				cost += estimateTokens(heading)
			}
			if used+cost > budget {
				continue
			}
			if !wroteHeading {
				b.WriteString(heading)
				wroteHeading = true
			}
			b.WriteString(line)
			used += cost
		}
		if wroteHeading {
			b.WriteString("\n")
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

// estimateTokens approximates token count as half the rune count.
// Conservative for prose, which is what memories hold.
func estimateTokens(s string) int {
	n := len([]rune(s))
	return (n + 1) / 2
}
