// Package session manages conversation persistence: sessions and their
// message records, including the dispatch mode and citation metadata each
// assistant message was produced under.
package session

import (
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"

	"github.com/aster0/aster/internal/artifact"
)

// TitleMaxLength is the maximum session title length in runes.
const TitleMaxLength = 80

// Session is a conversation container owned by a single user.
type Session struct {
	ID           uuid.UUID
	OwnerID      string
	Title        string
	MessageCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Citation is a source reference captured by the search and research modes.
// Index is 1-based and stable in order of first appearance; the model is
// instructed to cite inline as [n].
type Citation struct {
	Index int    `json:"index"`
	Title string `json:"title,omitempty"`
	URL   string `json:"url"`
}

// Message is one conversation turn as stored.
//
// Content holds the Genkit message parts (text, media references) as JSONB.
// Mode records which dispatch mode produced an assistant message; user
// messages carry the mode the request was issued under.
type Message struct {
	ID             uuid.UUID
	SessionID      uuid.UUID
	Role           string
	Content        []*ai.Part
	Mode           string
	Citations      []Citation
	Artifacts      []artifact.Ref
	SequenceNumber int
	CreatedAt      time.Time
}

// Roles stored in message records. They mirror ai.Role values.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Text concatenates the message's text parts. Media parts are skipped;
// their artifact references live in the Artifacts field.
func (m *Message) Text() string {
	var b strings.Builder
	for _, p := range m.Content {
		if p != nil && p.IsText() {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// AIMessage converts a stored message to a Genkit message.
func (m *Message) AIMessage() *ai.Message {
	return &ai.Message{
		Role:    ai.Role(m.Role),
		Content: m.Content,
	}
}

// TruncateTitle shortens a title to TitleMaxLength runes with an ellipsis.
func TruncateTitle(title string) string {
	runes := []rune(title)
	if len(runes) <= TitleMaxLength {
		return title
	}
	return string(runes[:TitleMaxLength-3]) + "..."
}
