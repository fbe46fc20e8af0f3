// Package dispatch routes a user query through LLM invocation modes.
// The model itself signals a mode change by emitting an inline tag such as
// <search>refined query</search> in its streamed output; the router cuts the
// stream, takes the payload as the new query, and re-invokes under the tagged
// mode. Routing is bounded by a hop budget.
package dispatch

import (
	"fmt"
	"regexp"
	"strings"
)

// Mode identifies one LLM invocation mode.
type Mode string

const (
	// ModeChat is the entry mode. It has no inline tag.
	ModeChat Mode = "chat"
	// ModeSearch answers with fresh web results and citations.
	ModeSearch Mode = "search"
	// ModeResearch runs the multi-step deep research pipeline.
	ModeResearch Mode = "research"
	// ModeThink uses a reasoning model with an extended thinking budget.
	ModeThink Mode = "think"
	// ModeImage generates an image and stores it as an artifact.
	ModeImage Mode = "image"
	// ModeCanvas generates a standalone document or code file.
	ModeCanvas Mode = "canvas"
	// ModeProject generates a project scaffold as structured JSON.
	ModeProject Mode = "project"
	// ModeStudy generates a study plan as structured JSON.
	ModeStudy Mode = "study"
)

// routableModes are the modes a tag can dispatch to, in scan order.
// chat is the entry mode and has no tag.
var routableModes = []Mode{
	ModeSearch, ModeResearch, ModeThink, ModeImage,
	ModeCanvas, ModeProject, ModeStudy,
}

// ModeNames returns all known mode names, chat first.
func ModeNames() []string {
	names := make([]string, 0, len(routableModes)+1)
	names = append(names, string(ModeChat))
	for _, m := range routableModes {
		names = append(names, string(m))
	}
	return names
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	if m == ModeChat {
		return true
	}
	for _, r := range routableModes {
		if m == r {
			return true
		}
	}
	return false
}

// ParseMode converts a string to a Mode, defaulting empty to chat.
func ParseMode(s string) (Mode, error) {
	if s == "" {
		return ModeChat, nil
	}
	m := Mode(strings.ToLower(s))
	if !m.Valid() {
		return "", fmt.Errorf("unknown mode %q", s)
	}
	return m, nil
}

// Route is a dispatch decision extracted from model output.
type Route struct {
	Mode    Mode
	Payload string // refined query; empty means reuse the original query
}

// tagRes holds one compiled pattern per routable mode. Each pattern matches
// a complete tag or an unclosed tag running to end of text, capturing the
// payload either way.
var tagRes = func() map[Mode]*regexp.Regexp {
	res := make(map[Mode]*regexp.Regexp, len(routableModes))
	for _, m := range routableModes {
		res[m] = regexp.MustCompile(fmt.Sprintf(`(?s)<%s>(.*?)(?:</%s>|\z)`, m, m))
	}
	return res
}()

// FindRoute scans text for the earliest mode tag. Used on complete
// (non-streamed) model output; the streaming path uses Scanner instead.
func FindRoute(text string) (Route, bool) {
	best := -1
	var route Route
	for _, m := range routableModes {
		loc := tagRes[m].FindStringSubmatchIndex(text)
		if loc == nil {
			continue
		}
		if best == -1 || loc[0] < best {
			best = loc[0]
			route = Route{Mode: m, Payload: strings.TrimSpace(text[loc[2]:loc[3]])}
		}
	}
	return route, best >= 0
}

// StripTags removes all mode tags, payloads included, from text. Applied at
// the hop budget, where a tag no longer dispatches and must not leak to the
// user.
func StripTags(text string) string {
	for _, m := range routableModes {
		text = tagRes[m].ReplaceAllString(text, "")
	}
	return strings.TrimSpace(text)
}

// openTags lists the literal opening tags the stream scanner watches for.
var openTags = func() []string {
	tags := make([]string, len(routableModes))
	for i, m := range routableModes {
		tags[i] = "<" + string(m) + ">"
	}
	return tags
}()
