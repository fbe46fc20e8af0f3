package dispatch

import (
	"context"
	"strings"
)

// forwardFunc receives display text that has been cleared of tag bytes.
type forwardFunc func(ctx context.Context, text string) error

// Scanner detects mode tags in streamed model output.
//
// Chunks arrive at arbitrary boundaries, so a tag may be split across calls.
// The scanner holds back any suffix that could still become a known opening
// tag and forwards it only once the candidate is refuted. Once an opening tag
// is confirmed, forwarding stops and subsequent bytes accumulate as the tag
// payload until the matching close tag or end of stream. Tag bytes therefore
// never reach the forward function.
//
// Scanner is single-use and not safe for concurrent use.
type Scanner struct {
	forward forwardFunc

	pending strings.Builder // held-back bytes that may open a tag
	payload strings.Builder // accumulated payload once inside a tag

	mode     Mode   // open tag's mode, set when confirmed
	closeTag string // literal close tag for mode
	inTag    bool
	routed   bool
}

// NewScanner creates a Scanner. forward may be nil when the caller only
// wants routing detection without display output.
func NewScanner(forward forwardFunc) *Scanner {
	if forward == nil {
		forward = func(context.Context, string) error { return nil }
	}
	return &Scanner{forward: forward}
}

// Routed reports whether a complete tag has been confirmed and closed.
func (s *Scanner) Routed() bool { return s.routed }

// Feed consumes one stream chunk. It returns true once a complete tag has
// been seen; the caller should then abort the model stream and call Route.
func (s *Scanner) Feed(ctx context.Context, chunk string) (bool, error) {
	if s.routed || chunk == "" {
		return s.routed, nil
	}

	if s.inTag {
		s.consumePayload(chunk)
		return s.routed, nil
	}

	s.pending.WriteString(chunk)
	return s.scanPending(ctx)
}

// scanPending walks the held-back buffer, forwarding text that cannot open a
// tag and keeping the smallest suffix that still might.
func (s *Scanner) scanPending(ctx context.Context) (bool, error) {
	buf := s.pending.String()
	s.pending.Reset()

	for len(buf) > 0 {
		lt := strings.IndexByte(buf, '<')
		if lt < 0 {
			return false, s.forward(ctx, buf)
		}
		if lt > 0 {
			if err := s.forward(ctx, buf[:lt]); err != nil {
				return false, err
			}
			buf = buf[lt:]
		}

		switch tag, state := matchOpenTag(buf); state {
		case tagConfirmed:
			s.inTag = true
			s.mode = Mode(strings.Trim(tag, "<>"))
			s.closeTag = "</" + string(s.mode) + ">"
			s.consumePayload(buf[len(tag):])
			return s.routed, nil
		case tagPossible:
			// Hold back until the next chunk settles it.
			s.pending.WriteString(buf)
			return false, nil
		default:
			// A '<' that opens no known tag is ordinary text.
			if err := s.forward(ctx, buf[:1]); err != nil {
				return false, err
			}
			buf = buf[1:]
		}
	}
	return false, nil
}

// consumePayload accumulates payload bytes and watches for the close tag.
func (s *Scanner) consumePayload(chunk string) {
	s.payload.WriteString(chunk)
	if idx := strings.Index(s.payload.String(), s.closeTag); idx >= 0 {
		trimmed := s.payload.String()[:idx]
		s.payload.Reset()
		s.payload.WriteString(trimmed)
		s.routed = true
	}
}

// Finish flushes the stream end. An unclosed open tag still routes, with the
// accumulated text as payload; a dangling partial prefix that never became a
// tag is forwarded as ordinary text.
func (s *Scanner) Finish(ctx context.Context) (Route, bool, error) {
	if s.inTag {
		return s.Route(), true, nil
	}
	if s.pending.Len() > 0 {
		held := s.pending.String()
		s.pending.Reset()
		if err := s.forward(ctx, held); err != nil {
			return Route{}, false, err
		}
	}
	return Route{}, false, nil
}

// Route returns the detected route. Valid only when Routed() is true or the
// stream ended inside an open tag.
func (s *Scanner) Route() Route {
	return Route{Mode: s.mode, Payload: strings.TrimSpace(s.payload.String())}
}

type tagMatch int

const (
	tagNone tagMatch = iota
	tagPossible
	tagConfirmed
)

// matchOpenTag checks whether buf begins with, or could still grow into, a
// known opening tag. buf must start with '<'.
func matchOpenTag(buf string) (string, tagMatch) {
	possible := false
	for _, tag := range openTags {
		if strings.HasPrefix(buf, tag) {
			return tag, tagConfirmed
		}
		if len(buf) < len(tag) && strings.HasPrefix(tag, buf) {
			possible = true
		}
	}
	if possible {
		return "", tagPossible
	}
	return "", tagNone
}
