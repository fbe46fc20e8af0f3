package tui

import (
	"strings"

	"charm.land/lipgloss/v2"

	"github.com/aster0/aster/internal/dispatch"
)

// Indigo accent for the aster banner and prompt.
const accentColor = "#6C7BFF"

// aster wordmark, block style.
var asterArt = []string{
	"    █████╗ ███████╗████████╗███████╗██████╗ ",
	"   ██╔══██╗██╔════╝╚══██╔══╝██╔════╝██╔══██╗",
	"   ███████║███████╗   ██║   █████╗  ██████╔╝",
	"   ██╔══██║╚════██║   ██║   ██╔══╝  ██╔══██╗",
	"   ██║  ██║███████║   ██║   ███████╗██║  ██║",
	"   ╚═╝  ╚═╝╚══════╝   ╚═╝   ╚══════╝╚═╝  ╚═╝",
}

// Styles contains all lipgloss styles for the TUI.
type Styles struct {
	Banner    lipgloss.Style
	User      lipgloss.Style
	Assistant lipgloss.Style
	System    lipgloss.Style
	Tips      lipgloss.Style
	Error     lipgloss.Style
	Prompt    lipgloss.Style
	Separator lipgloss.Style
	StatusBar lipgloss.Style
	ModeBadge lipgloss.Style
}

// modeColors gives each dispatch mode its badge color so transitions are
// visible at a glance.
var modeColors = map[dispatch.Mode]string{
	dispatch.ModeChat:     "245", // gray, the resting state
	dispatch.ModeSearch:   "39",  // blue
	dispatch.ModeResearch: "99",  // purple
	dispatch.ModeThink:    "214", // orange
	dispatch.ModeImage:    "205", // pink
	dispatch.ModeCanvas:   "42",  // green
	dispatch.ModeProject:  "81",  // cyan
	dispatch.ModeStudy:    "227", // yellow
}

// DefaultStyles returns the default style configuration.
func DefaultStyles() Styles {
	return Styles{
		Banner:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(accentColor)),
		User:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86")),
		Assistant: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(accentColor)),
		System:    lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("240")),
		Tips:      lipgloss.NewStyle().Foreground(lipgloss.Color("255")),
		Error:     lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		Prompt:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86")),
		Separator: lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		StatusBar: lipgloss.NewStyle().Foreground(lipgloss.Color("250")),
		ModeBadge: lipgloss.NewStyle().Bold(true),
	}
}

// RenderModeBadge returns the mode name styled in its badge color.
func (s Styles) RenderModeBadge(mode dispatch.Mode) string {
	color, ok := modeColors[mode]
	if !ok {
		color = "245"
	}
	return s.ModeBadge.Foreground(lipgloss.Color(color)).Render("[" + string(mode) + "]")
}

// RenderBanner returns the aster wordmark as a styled string.
func (s Styles) RenderBanner() string {
	var b strings.Builder
	for _, line := range asterArt {
		_, _ = b.WriteString(s.Banner.Render(line))
		_, _ = b.WriteString("\n")
	}
	return b.String()
}

// welcomeTips is displayed under the banner on startup.
var welcomeTips = []string{
	"Tips for getting started:",
	"  • Ask anything - aster escalates to search, research or other modes when needed",
	"  • Use /mode <name> to force a mode, /help for all commands",
	"  • Press Ctrl+C to cancel, Ctrl+D to exit",
	"  • Up/Down arrows navigate input history",
}

// RenderWelcomeTips returns styled welcome tips.
func (s Styles) RenderWelcomeTips() string {
	var b strings.Builder
	for _, tip := range welcomeTips {
		_, _ = b.WriteString(s.Tips.Render(tip))
		_, _ = b.WriteString("\n")
	}
	return b.String()
}
