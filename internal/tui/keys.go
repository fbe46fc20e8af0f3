package tui

import (
	"strings"
	"time"

	"charm.land/bubbles/v2/key"
	tea "charm.land/bubbletea/v2"

	"github.com/aster0/aster/internal/dispatch"
)

// Slash command constants.
const (
	cmdHelp  = "/help"
	cmdClear = "/clear"
	cmdMode  = "/mode"
	cmdExit  = "/exit"
	cmdQuit  = "/quit"
)

// keyMap holds key bindings for help bar display.
type keyMap struct {
	Submit     key.Binding
	NewLine    key.Binding
	History    key.Binding
	Cancel     key.Binding
	Quit       key.Binding
	ScrollUp   key.Binding
	ScrollDown key.Binding
	EscCancel  key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		Submit:     key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "send")),
		NewLine:    key.NewBinding(key.WithKeys("shift+enter"), key.WithHelp("s+enter", "newline")),
		History:    key.NewBinding(key.WithKeys("up", "down"), key.WithHelp("↑/↓", "history")),
		Cancel:     key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "cancel")),
		Quit:       key.NewBinding(key.WithKeys("ctrl+d"), key.WithHelp("ctrl+d", "exit")),
		ScrollUp:   key.NewBinding(key.WithKeys("pgup"), key.WithHelp("pgup", "scroll up")),
		ScrollDown: key.NewBinding(key.WithKeys("pgdown"), key.WithHelp("pgdn", "scroll down")),
		EscCancel:  key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "cancel")),
	}
}

//nolint:gocyclo // keyboard handler branches over all key combinations
func (t *TUI) handleKey(msg tea.KeyPressMsg) (tea.Model, tea.Cmd) {
	k := msg.Key()

	if k.Mod&tea.ModCtrl != 0 {
		switch k.Code {
		case 'c':
			return t.handleCtrlC()
		case 'd':
			return t, t.cleanup()
		}
	}

	switch k.Code {
	case tea.KeyEnter:
		// Enter submits; Shift+Enter passes through as a newline.
		if t.state == StateInput && k.Mod&tea.ModShift == 0 {
			return t.handleSubmit()
		}

	case tea.KeyUp:
		// Up at the first line navigates history, otherwise moves the cursor.
		if t.state == StateInput && t.input.Line() == 0 {
			return t.navigateHistory(-1)
		}

	case tea.KeyDown:
		if t.state == StateInput && t.input.Line() == t.input.LineCount()-1 {
			return t.navigateHistory(1)
		}

	case tea.KeyEscape:
		if t.state == StateStreaming || t.state == StateThinking {
			t.cancelStream()
			t.state = StateInput
			t.output.Reset()
			return t, nil
		}

	case tea.KeyPgUp:
		t.viewport.PageUp()
		return t, nil

	case tea.KeyPgDown:
		t.viewport.PageDown()
		return t, nil
	}

	// Typing stays live even during streaming.
	var cmd tea.Cmd
	t.input, cmd = t.input.Update(msg)
	return t, cmd
}

func (t *TUI) handleCtrlC() (tea.Model, tea.Cmd) {
	now := time.Now()

	// Double Ctrl+C within a second quits.
	if now.Sub(t.lastCtrlC) < time.Second {
		return t, t.cleanup()
	}
	t.lastCtrlC = now

	switch t.state {
	case StateInput:
		t.input.Reset()
		return t, nil

	case StateThinking, StateStreaming:
		t.cancelStream()
		t.state = StateInput
		t.output.Reset()
		t.addMessage(Message{Role: roleSystem, Text: "(Canceled)"})
		return t, nil
	}

	return t, nil
}

func (t *TUI) handleSubmit() (tea.Model, tea.Cmd) {
	query := strings.TrimSpace(t.input.Value())
	if query == "" {
		return t, nil
	}

	if strings.HasPrefix(query, "/") {
		return t.handleSlashCommand(query)
	}

	t.history = append(t.history, query)
	if len(t.history) > maxHistory {
		t.history = t.history[len(t.history)-maxHistory:]
	}
	t.historyIdx = len(t.history)

	t.addMessage(Message{Role: roleUser, Text: query})
	t.input.Reset()

	t.state = StateThinking
	t.activeMode = t.entryMode

	return t, tea.Batch(
		t.spinner.Tick,
		t.startStream(query),
	)
}

func (t *TUI) handleSlashCommand(cmd string) (tea.Model, tea.Cmd) {
	name, arg, _ := strings.Cut(cmd, " ")
	switch name {
	case cmdHelp:
		t.addMessage(Message{
			Role: roleSystem,
			Text: "Commands: " + cmdHelp + ", " + cmdMode + " <name>, " + cmdClear + ", " + cmdExit +
				"\nModes: " + strings.Join(dispatch.ModeNames(), ", ") +
				"\nShortcuts:\n  Enter: send message\n  Shift+Enter: new line\n  Ctrl+C: cancel/clear\n  Ctrl+D: exit\n  Up/Down: history\n  PgUp/PgDn: scroll",
		})
	case cmdMode:
		t.handleModeCommand(strings.TrimSpace(arg))
	case cmdClear:
		t.messages = nil
	case cmdExit, cmdQuit:
		return t, t.cleanup()
	default:
		t.addMessage(Message{Role: roleError, Text: "Unknown command: " + cmd})
	}
	t.input.Reset()
	return t, nil
}

// handleModeCommand sets the entry mode for subsequent queries.
func (t *TUI) handleModeCommand(arg string) {
	if arg == "" {
		t.addMessage(Message{
			Role: roleSystem,
			Text: "Current mode: " + string(t.entryMode) + "\nAvailable: " + strings.Join(dispatch.ModeNames(), ", "),
		})
		return
	}
	mode, err := dispatch.ParseMode(arg)
	if err != nil {
		t.addMessage(Message{
			Role: roleError,
			Text: "Unknown mode: " + arg + " (available: " + strings.Join(dispatch.ModeNames(), ", ") + ")",
		})
		return
	}
	t.entryMode = mode
	t.activeMode = mode
	t.addMessage(Message{Role: roleSystem, Text: "Mode set to " + string(mode)})
}

func (t *TUI) navigateHistory(delta int) (tea.Model, tea.Cmd) {
	if len(t.history) == 0 {
		return t, nil
	}

	t.historyIdx += delta
	if t.historyIdx < 0 {
		t.historyIdx = 0
	}
	if t.historyIdx > len(t.history) {
		t.historyIdx = len(t.history)
	}

	if t.historyIdx == len(t.history) {
		t.input.SetValue("")
	} else {
		t.input.SetValue(t.history[t.historyIdx])
		t.input.CursorEnd()
	}

	return t, nil
}

func (t *TUI) cancelStream() {
	if t.streamCancel != nil {
		t.streamCancel()
		t.streamCancel = nil
	}
}

// cleanup cancels any active stream and returns the quit command.
func (t *TUI) cleanup() tea.Cmd {
	if t.ctxCancel != nil {
		t.ctxCancel()
		t.ctxCancel = nil
	}
	t.cancelStream()
	t.streamEventCh = nil
	return tea.Quit
}
