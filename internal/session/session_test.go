package session

import (
	"strings"
	"testing"

	"github.com/firebase/genkit/go/ai"
)

func TestTruncateTitle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		check func(t *testing.T, got string)
	}{
		{
			name:  "short title unchanged",
			input: "hello",
			check: func(t *testing.T, got string) {
				t.Helper()
				if got != "hello" {
					t.Errorf("got %q, want %q", got, "hello")
				}
			},
		},
		{
			name:  "exactly max length unchanged",
			input: strings.Repeat("a", TitleMaxLength),
			check: func(t *testing.T, got string) {
				t.Helper()
				if len([]rune(got)) != TitleMaxLength {
					t.Errorf("got %d runes, want %d", len([]rune(got)), TitleMaxLength)
				}
			},
		},
		{
			name:  "long title truncated with ellipsis",
			input: strings.Repeat("b", TitleMaxLength+10),
			check: func(t *testing.T, got string) {
				t.Helper()
				if len([]rune(got)) != TitleMaxLength {
					t.Errorf("got %d runes, want %d", len([]rune(got)), TitleMaxLength)
				}
				if !strings.HasSuffix(got, "...") {
					t.Errorf("got %q, want ellipsis suffix", got)
				}
			},
		},
		{
			name:  "multibyte runes counted as runes",
			input: strings.Repeat("日", TitleMaxLength+1),
			check: func(t *testing.T, got string) {
				t.Helper()
				if len([]rune(got)) != TitleMaxLength {
					t.Errorf("got %d runes, want %d", len([]rune(got)), TitleMaxLength)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tt.check(t, TruncateTitle(tt.input))
		})
	}
}

func TestMessage_AIMessage(t *testing.T) {
	t.Parallel()

	msg := &Message{
		Role:    RoleModel,
		Content: []*ai.Part{ai.NewTextPart("the answer")},
	}

	aiMsg := msg.AIMessage()
	if aiMsg.Role != ai.RoleModel {
		t.Errorf("Role = %q, want %q", aiMsg.Role, ai.RoleModel)
	}
	if len(aiMsg.Content) != 1 || aiMsg.Content[0].Text != "the answer" {
		t.Errorf("Content = %+v, want single text part", aiMsg.Content)
	}
}

func TestMarshalOrNil(t *testing.T) {
	t.Parallel()

	if got, err := marshalOrNil([]Citation(nil)); err != nil || got != nil {
		t.Errorf("marshalOrNil(nil) = %v, %v; want nil, nil", got, err)
	}

	got, err := marshalOrNil([]Citation{{Index: 1, URL: "https://example.com"}})
	if err != nil {
		t.Fatalf("marshalOrNil() error: %v", err)
	}
	if !strings.Contains(string(got), "example.com") {
		t.Errorf("marshalOrNil() = %s, want URL present", got)
	}
}

func TestNullableText(t *testing.T) {
	t.Parallel()

	if nullableText("") != nil {
		t.Error("nullableText(\"\") should be nil")
	}
	if p := nullableText("x"); p == nil || *p != "x" {
		t.Errorf("nullableText(\"x\") = %v", p)
	}
}
