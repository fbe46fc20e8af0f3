package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"go.uber.org/goleak"

	"github.com/aster0/aster/internal/dispatch"
	"github.com/aster0/aster/internal/session"
)

// Stream goroutines must not outlive their test. Pollers and HTTP/2
// connection pools belong to shared infrastructure and are ignored.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
		goleak.IgnoreTopFunction("net/http.(*http2clientConnReadLoop).run"),
	)
}

func newTestTUI(t *testing.T) *TUI {
	t.Helper()
	ui, err := New(context.Background(), new(dispatch.Flow), "11111111-1111-1111-1111-111111111111")
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() { ui.cleanup() })
	return ui
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		ctx       context.Context
		flow      *dispatch.Flow
		sessionID string
	}{
		{"nil flow", context.Background(), nil, "s1"},
		{"nil ctx", nil, new(dispatch.Flow), "s1"},
		{"empty session", context.Background(), new(dispatch.Flow), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := New(tt.ctx, tt.flow, tt.sessionID); err == nil {
				t.Error("New() succeeded, want error")
			}
		})
	}
}

func TestAddMessage_Bounded(t *testing.T) {
	t.Parallel()

	ui := newTestTUI(t)
	for i := range maxMessages + 20 {
		ui.addMessage(Message{Role: roleUser, Text: fmt.Sprintf("m%d", i)})
	}
	if len(ui.messages) != maxMessages {
		t.Errorf("len(messages) = %d, want %d", len(ui.messages), maxMessages)
	}
	if got := ui.messages[0].Text; got != "m20" {
		t.Errorf("oldest retained = %q, want %q", got, "m20")
	}
}

func TestModeCommand(t *testing.T) {
	t.Parallel()

	ui := newTestTUI(t)

	ui.handleModeCommand("search")
	if ui.entryMode != dispatch.ModeSearch {
		t.Errorf("entryMode = %q, want search", ui.entryMode)
	}

	ui.handleModeCommand("bogus")
	if ui.entryMode != dispatch.ModeSearch {
		t.Errorf("entryMode changed to %q on invalid input", ui.entryMode)
	}
	last := ui.messages[len(ui.messages)-1]
	if last.Role != roleError {
		t.Errorf("last message role = %q, want error", last.Role)
	}

	// Bare /mode reports the current mode.
	ui.handleModeCommand("")
	last = ui.messages[len(ui.messages)-1]
	if last.Role != roleSystem || !strings.Contains(last.Text, "search") {
		t.Errorf("status message = %+v", last)
	}
}

func TestSlashCommands(t *testing.T) {
	t.Parallel()

	ui := newTestTUI(t)
	ui.addMessage(Message{Role: roleUser, Text: "hi"})

	ui.handleSlashCommand(cmdClear)
	if len(ui.messages) != 0 {
		t.Errorf("messages after /clear = %d, want 0", len(ui.messages))
	}

	ui.handleSlashCommand(cmdHelp)
	if len(ui.messages) != 1 || ui.messages[0].Role != roleSystem {
		t.Fatalf("messages after /help = %+v", ui.messages)
	}
	if !strings.Contains(ui.messages[0].Text, "/mode") {
		t.Error("/help output does not mention /mode")
	}

	ui.handleSlashCommand("/nope")
	last := ui.messages[len(ui.messages)-1]
	if last.Role != roleError {
		t.Errorf("unknown command message role = %q, want error", last.Role)
	}
}

func TestNavigateHistory(t *testing.T) {
	t.Parallel()

	ui := newTestTUI(t)
	ui.history = []string{"first", "second"}
	ui.historyIdx = len(ui.history)

	ui.navigateHistory(-1)
	if got := ui.input.Value(); got != "second" {
		t.Errorf("input = %q, want %q", got, "second")
	}
	ui.navigateHistory(-1)
	if got := ui.input.Value(); got != "first" {
		t.Errorf("input = %q, want %q", got, "first")
	}
	// Past the oldest entry stays at the oldest.
	ui.navigateHistory(-1)
	if got := ui.input.Value(); got != "first" {
		t.Errorf("input = %q, want %q", got, "first")
	}
	// Back down past the newest clears the input.
	ui.navigateHistory(1)
	ui.navigateHistory(1)
	if got := ui.input.Value(); got != "" {
		t.Errorf("input = %q, want empty", got)
	}
}

func TestUpdate_StreamText(t *testing.T) {
	t.Parallel()

	ui := newTestTUI(t)
	ui.state = StateStreaming

	ui.Update(streamTextMsg{text: "hello "})
	ui.Update(streamTextMsg{text: "world"})
	if got := ui.output.String(); got != "hello world" {
		t.Errorf("output = %q, want %q", got, "hello world")
	}
}

func TestUpdate_StreamMode(t *testing.T) {
	t.Parallel()

	ui := newTestTUI(t)
	ui.state = StateStreaming
	ui.output.WriteString("text before the hop")

	ui.Update(streamModeMsg{mode: dispatch.ModeResearch})

	if ui.activeMode != dispatch.ModeResearch {
		t.Errorf("activeMode = %q, want research", ui.activeMode)
	}
	if ui.output.Len() != 0 {
		t.Errorf("output not cleared on mode transition: %q", ui.output.String())
	}
}

func TestUpdate_StreamDone(t *testing.T) {
	t.Parallel()

	ui := newTestTUI(t)
	ui.state = StateStreaming
	ui.output.WriteString("partial")

	ui.Update(streamDoneMsg{output: dispatch.Output{
		Text: "final answer",
		Mode: "search",
		Citations: []session.Citation{
			{Index: 1, Title: "Example", URL: "https://example.com"},
		},
	}})

	if ui.state != StateInput {
		t.Errorf("state = %v, want StateInput", ui.state)
	}
	if ui.activeMode != dispatch.ModeSearch {
		t.Errorf("activeMode = %q, want search", ui.activeMode)
	}

	// Answer message plus a sources message.
	if len(ui.messages) != 2 {
		t.Fatalf("len(messages) = %d, want 2", len(ui.messages))
	}
	if ui.messages[0].Text != "final answer" || ui.messages[0].Mode != dispatch.ModeSearch {
		t.Errorf("answer message = %+v", ui.messages[0])
	}
	if !strings.Contains(ui.messages[1].Text, "https://example.com") {
		t.Errorf("sources message = %q", ui.messages[1].Text)
	}
	if ui.output.Len() != 0 {
		t.Error("output not reset after done")
	}
}

func TestUpdate_StreamDone_FallsBackToChunks(t *testing.T) {
	t.Parallel()

	ui := newTestTUI(t)
	ui.state = StateStreaming
	ui.output.WriteString("accumulated text")

	ui.Update(streamDoneMsg{output: dispatch.Output{}})

	if len(ui.messages) != 1 || ui.messages[0].Text != "accumulated text" {
		t.Errorf("messages = %+v", ui.messages)
	}
}

func TestUpdate_StreamError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		wantRole string
		wantText string
	}{
		{"canceled", context.Canceled, roleSystem, "(Canceled)"},
		{"timeout", context.DeadlineExceeded, roleError, "timeout"},
		{"other", errors.New("model exploded"), roleError, "model exploded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ui := newTestTUI(t)
			ui.state = StateStreaming

			ui.Update(streamErrorMsg{err: tt.err})

			if ui.state != StateInput {
				t.Errorf("state = %v, want StateInput", ui.state)
			}
			last := ui.messages[len(ui.messages)-1]
			if last.Role != tt.wantRole {
				t.Errorf("role = %q, want %q", last.Role, tt.wantRole)
			}
			if !strings.Contains(strings.ToLower(last.Text), strings.ToLower(tt.wantText)) {
				t.Errorf("text = %q, want substring %q", last.Text, tt.wantText)
			}
		})
	}
}

func TestListenForStream(t *testing.T) {
	t.Parallel()

	t.Run("dispatches events in order", func(t *testing.T) {
		t.Parallel()
		ch := make(chan streamEvent, 4)
		ch <- streamEvent{mode: dispatch.ModeSearch}
		ch <- streamEvent{text: "hi"}
		ch <- streamEvent{done: true, output: dispatch.Output{Text: "hi"}}

		if _, ok := listenForStream(ch)().(streamModeMsg); !ok {
			t.Error("first event is not streamModeMsg")
		}
		if _, ok := listenForStream(ch)().(streamTextMsg); !ok {
			t.Error("second event is not streamTextMsg")
		}
		if _, ok := listenForStream(ch)().(streamDoneMsg); !ok {
			t.Error("third event is not streamDoneMsg")
		}
	})

	t.Run("skips empty events", func(t *testing.T) {
		t.Parallel()
		ch := make(chan streamEvent, 2)
		ch <- streamEvent{}
		ch <- streamEvent{text: "after empty"}

		msg, ok := listenForStream(ch)().(streamTextMsg)
		if !ok || msg.text != "after empty" {
			t.Errorf("got %#v, want streamTextMsg{after empty}", msg)
		}
	})

	t.Run("closed channel yields error", func(t *testing.T) {
		t.Parallel()
		ch := make(chan streamEvent)
		close(ch)
		if _, ok := listenForStream(ch)().(streamErrorMsg); !ok {
			t.Error("closed channel did not yield streamErrorMsg")
		}
	})

	t.Run("nil channel yields nil", func(t *testing.T) {
		t.Parallel()
		if msg := listenForStream(nil)(); msg != nil {
			t.Errorf("got %#v, want nil", msg)
		}
	})
}

func TestRenderModeBadge(t *testing.T) {
	t.Parallel()

	s := DefaultStyles()
	for _, name := range dispatch.ModeNames() {
		badge := s.RenderModeBadge(dispatch.Mode(name))
		if !strings.Contains(badge, name) {
			t.Errorf("badge %q does not contain mode name %q", badge, name)
		}
	}
}
