// Package tui provides the Bubble Tea terminal interface for aster.
//
// The interface is a single chat loop: the user types a query, the
// dispatch flow streams the answer, and a mode badge in the status bar
// tracks which mode is currently producing output as the router hops.
package tui

import (
	"context"
	"errors"
	"strings"
	"time"

	"charm.land/bubbles/v2/help"
	"charm.land/bubbles/v2/key"
	"charm.land/bubbles/v2/spinner"
	"charm.land/bubbles/v2/textarea"
	"charm.land/bubbles/v2/viewport"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"

	"github.com/aster0/aster/internal/dispatch"
)

// State represents the TUI state machine.
type State int

// TUI state machine states.
const (
	StateInput     State = iota // awaiting user input
	StateThinking               // request sent, no output yet
	StateStreaming              // response streaming
)

// Memory bounds to prevent unbounded growth.
const (
	maxMessages = 100
	maxHistory  = 100
)

// streamTimeout bounds a single request. Research mode fetches pages, so
// this is generous.
const streamTimeout = 5 * time.Minute

// Message role constants for display.
const (
	roleUser      = "user"
	roleAssistant = "assistant"
	roleSystem    = "system"
	roleError     = "error"
)

// Layout constants for viewport height calculation.
const (
	separatorLines = 2
	helpLines      = 1
	promptLines    = 1
	minViewport    = 3
)

// Message is a conversation message for display. Mode is set on assistant
// messages so the answering mode stays visible in the transcript.
type Message struct {
	Role string
	Text string
	Mode dispatch.Mode
}

// TUI is the Bubble Tea model for the aster terminal interface.
type TUI struct {
	// Input (textarea for multi-line support, Shift+Enter for newline)
	input      textarea.Model
	history    []string
	historyIdx int

	// State
	state     State
	lastCtrlC time.Time

	// Mode tracking. entryMode is what /mode set (queries start there);
	// activeMode follows the router's hops during streaming.
	entryMode  dispatch.Mode
	activeMode dispatch.Mode

	// Output
	spinner  spinner.Model
	output   strings.Builder
	viewBuf  strings.Builder // reusable buffer for View()
	messages []Message

	// Scrollable message viewport
	viewport viewport.Model

	// Help bar
	help help.Model
	keys keyMap

	// Stream management. Bubble Tea's event loop provides synchronization;
	// a single union channel keeps the select logic simple.
	streamCancel  context.CancelFunc
	streamEventCh <-chan streamEvent

	// Dependencies
	flow      *dispatch.Flow
	sessionID string
	ctx       context.Context
	ctxCancel context.CancelFunc

	// Dimensions
	width  int
	height int

	styles   Styles
	markdown *markdownRenderer // nil degrades to plain text
}

// addMessage appends a message and enforces the maxMessages bound.
func (t *TUI) addMessage(msg Message) {
	t.messages = append(t.messages, msg)
	if len(t.messages) > maxMessages {
		t.messages = t.messages[len(t.messages)-maxMessages:]
	}
}

// New creates a TUI model bound to a session.
//
// ctx must be the same context passed to tea.WithContext so cancellation
// behaves consistently.
func New(ctx context.Context, flow *dispatch.Flow, sessionID string) (*TUI, error) {
	if flow == nil {
		return nil, errors.New("tui.New: flow is required")
	}
	if ctx == nil {
		return nil, errors.New("tui.New: ctx is required")
	}
	if sessionID == "" {
		return nil, errors.New("tui.New: session ID is required")
	}

	ctx, cancel := context.WithCancel(ctx)

	ta := textarea.New()
	ta.Placeholder = "Ask anything..."
	ta.SetHeight(1)
	ta.SetWidth(120)
	ta.MaxWidth = 0
	ta.ShowLineNumbers = false

	// Minimal styling: no backgrounds, gray placeholder.
	cleanStyle := textarea.StyleState{
		Base:        lipgloss.NewStyle(),
		Text:        lipgloss.NewStyle(),
		Placeholder: lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		Prompt:      lipgloss.NewStyle(),
	}
	ta.SetStyles(textarea.Styles{Focused: cleanStyle, Blurred: cleanStyle})
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	// Built-in viewport key handling is disabled; handleKey routes keys
	// explicitly to avoid conflicts with the textarea and history.
	vp := viewport.New(viewport.WithWidth(80), viewport.WithHeight(20))
	vp.MouseWheelEnabled = true
	vp.SoftWrap = true
	vp.KeyMap = viewport.KeyMap{}

	return &TUI{
		flow:       flow,
		sessionID:  sessionID,
		ctx:        ctx,
		ctxCancel:  cancel,
		input:      ta,
		spinner:    sp,
		viewport:   vp,
		help:       help.New(),
		keys:       newKeyMap(),
		styles:     DefaultStyles(),
		history:    make([]string, 0, maxHistory),
		markdown:   newMarkdownRenderer(80),
		entryMode:  dispatch.ModeChat,
		activeMode: dispatch.ModeChat,
		width:      80,
	}, nil
}

// Init implements tea.Model.
func (t *TUI) Init() tea.Cmd {
	return tea.Batch(
		textarea.Blink,
		t.spinner.Tick,
		t.input.Focus(),
	)
}

// Update implements tea.Model.
//
//nolint:gocognit,gocyclo // Bubble Tea Update requires a type switch on all message types
func (t *TUI) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		return t.handleKey(msg)

	case tea.WindowSizeMsg:
		t.width = msg.Width
		t.height = msg.Height

		inputHeight := t.input.Height() + promptLines
		fixedHeight := separatorLines + inputHeight + helpLines
		vpHeight := max(msg.Height-fixedHeight, minViewport)

		t.viewport.SetWidth(msg.Width)
		t.viewport.SetHeight(vpHeight)
		t.input.SetWidth(msg.Width - 4) // room for "> " prompt
		t.help.SetWidth(msg.Width)
		t.markdown.UpdateWidth(msg.Width)

		t.rebuildViewportContent()
		return t, nil

	case tea.MouseWheelMsg:
		var cmd tea.Cmd
		t.viewport, cmd = t.viewport.Update(msg)
		return t, cmd

	case spinner.TickMsg:
		var cmd tea.Cmd
		t.spinner, cmd = t.spinner.Update(msg)
		if t.state == StateThinking {
			t.rebuildViewportContent()
		}
		return t, cmd

	case streamStartedMsg:
		t.streamCancel = msg.cancel
		t.streamEventCh = msg.eventCh
		t.state = StateStreaming
		t.rebuildViewportContent()
		t.viewport.GotoBottom()
		return t, listenForStream(msg.eventCh)

	case streamTextMsg:
		t.output.WriteString(msg.text)
		t.rebuildViewportContent()
		t.viewport.GotoBottom()
		return t, listenForStream(t.streamEventCh)

	case streamModeMsg:
		// The router hopped: drop text from the superseded mode and
		// update the badge.
		t.activeMode = msg.mode
		t.output.Reset()
		t.rebuildViewportContent()
		t.viewport.GotoBottom()
		return t, listenForStream(t.streamEventCh)

	case streamDoneMsg:
		return t.handleStreamDone(msg)

	case streamErrorMsg:
		return t.handleStreamError(msg)
	}

	var cmd tea.Cmd
	t.input, cmd = t.input.Update(msg)
	return t, cmd
}

func (t *TUI) handleStreamDone(msg streamDoneMsg) (tea.Model, tea.Cmd) {
	t.state = StateInput

	if t.streamCancel != nil {
		t.streamCancel()
		t.streamCancel = nil
	}
	t.streamEventCh = nil

	// Prefer the flow's final text over accumulated chunks; it is
	// authoritative when the model does not stream.
	finalText := msg.output.Text
	if finalText == "" {
		finalText = t.output.String()
	}
	finalMode := dispatch.Mode(msg.output.Mode)
	if finalMode == "" {
		finalMode = t.activeMode
	}
	t.activeMode = finalMode

	t.addMessage(Message{Role: roleAssistant, Text: finalText, Mode: finalMode})
	if len(msg.output.Citations) > 0 {
		var b strings.Builder
		b.WriteString("Sources:")
		for _, c := range msg.output.Citations {
			b.WriteString("\n  [")
			b.WriteString(strings.TrimSpace(c.Title))
			b.WriteString("] ")
			b.WriteString(c.URL)
		}
		t.addMessage(Message{Role: roleSystem, Text: b.String()})
	}

	t.output.Reset()
	t.rebuildViewportContent()
	t.viewport.GotoBottom()
	return t, t.input.Focus()
}

func (t *TUI) handleStreamError(msg streamErrorMsg) (tea.Model, tea.Cmd) {
	t.state = StateInput

	if t.streamCancel != nil {
		t.streamCancel()
		t.streamCancel = nil
	}
	t.streamEventCh = nil

	switch {
	case errors.Is(msg.err, context.Canceled):
		t.addMessage(Message{Role: roleSystem, Text: "(Canceled)"})
	case errors.Is(msg.err, context.DeadlineExceeded):
		t.addMessage(Message{Role: roleError, Text: "Query timeout (>5 min). Try a simpler query or break it into steps."})
	default:
		t.addMessage(Message{Role: roleError, Text: msg.err.Error()})
	}
	t.output.Reset()
	t.rebuildViewportContent()
	t.viewport.GotoBottom()
	return t, t.input.Focus()
}

// View implements tea.Model.
func (t *TUI) View() tea.View {
	t.viewBuf.Reset()

	_, _ = t.viewBuf.WriteString(t.viewport.View())
	_, _ = t.viewBuf.WriteString("\n")

	_, _ = t.viewBuf.WriteString(t.renderSeparator())
	_, _ = t.viewBuf.WriteString("\n")

	// Input stays live during streaming so the next message can be
	// prepared while the model responds.
	_, _ = t.viewBuf.WriteString(t.styles.Prompt.Render("> "))
	_, _ = t.viewBuf.WriteString(t.input.View())
	_, _ = t.viewBuf.WriteString("\n")

	_, _ = t.viewBuf.WriteString(t.renderSeparator())
	_, _ = t.viewBuf.WriteString("\n")

	_, _ = t.viewBuf.WriteString(t.renderStatusBar())

	v := tea.NewView(t.viewBuf.String())
	v.AltScreen = true
	return v
}

// rebuildViewportContent reconstructs the viewport from messages and state.
func (t *TUI) rebuildViewportContent() {
	var b strings.Builder

	_, _ = b.WriteString(t.styles.RenderBanner())
	_, _ = b.WriteString("\n")
	_, _ = b.WriteString(t.styles.RenderWelcomeTips())
	_, _ = b.WriteString("\n")

	for _, msg := range t.messages {
		switch msg.Role {
		case roleUser:
			_, _ = b.WriteString(t.styles.User.Render("You> "))
			_, _ = b.WriteString(msg.Text)
		case roleAssistant:
			_, _ = b.WriteString(t.styles.Assistant.Render("aster> "))
			if msg.Mode != "" && msg.Mode != dispatch.ModeChat {
				_, _ = b.WriteString(t.styles.RenderModeBadge(msg.Mode))
				_, _ = b.WriteString(" ")
			}
			_, _ = b.WriteString(t.markdown.Render(msg.Text))
		case roleSystem:
			_, _ = b.WriteString(t.styles.System.Render(msg.Text))
		case roleError:
			_, _ = b.WriteString(t.styles.Error.Render("Error: " + msg.Text))
		}
		_, _ = b.WriteString("\n\n")
	}

	if t.state == StateStreaming && t.output.Len() > 0 {
		_, _ = b.WriteString(t.styles.Assistant.Render("aster> "))
		if t.activeMode != dispatch.ModeChat {
			_, _ = b.WriteString(t.styles.RenderModeBadge(t.activeMode))
			_, _ = b.WriteString(" ")
		}
		_, _ = b.WriteString(t.output.String())
		_, _ = b.WriteString("\n\n")
	}

	if t.state == StateThinking {
		_, _ = b.WriteString(t.spinner.View())
		_, _ = b.WriteString(" Thinking...\n\n")
	}

	t.viewport.SetContent(b.String())
}

func (t *TUI) renderSeparator() string {
	width := t.width
	if width <= 0 {
		width = 80
	}
	return t.styles.Separator.Render(strings.Repeat("─", width))
}

// renderStatusBar returns the mode badge plus state-appropriate shortcuts.
func (t *TUI) renderStatusBar() string {
	var bindings []key.Binding
	switch t.state {
	case StateInput:
		bindings = []key.Binding{
			t.keys.Submit, t.keys.NewLine, t.keys.History,
			t.keys.Cancel, t.keys.Quit, t.keys.ScrollUp,
		}
	case StateThinking, StateStreaming:
		bindings = []key.Binding{
			t.keys.EscCancel, t.keys.Cancel,
			t.keys.ScrollUp, t.keys.ScrollDown,
		}
	}

	badge := t.entryMode
	if t.state == StateStreaming || t.state == StateThinking {
		badge = t.activeMode
	}
	return t.styles.RenderModeBadge(badge) + " " + t.help.ShortHelpView(bindings)
}
