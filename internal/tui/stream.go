package tui

import (
	"context"
	"fmt"
	"log/slog"

	tea "charm.land/bubbletea/v2"

	"github.com/aster0/aster/internal/dispatch"
)

// streamBufferSize is sized for ~1.5s of chunks at a 60 FPS refresh rate,
// preventing backpressure during UI render delays while keeping memory
// bounded.
const streamBufferSize = 100

// streamEvent is a discriminated union for all stream events. A single
// channel with a union type keeps the select logic simple.
type streamEvent struct {
	// Exactly one of these is set per event.
	text   string          // display text chunk
	mode   dispatch.Mode   // mode transition (when non-empty)
	output dispatch.Output // final output (when done is true)
	err    error
	done   bool
}

// Stream message types for Bubble Tea.
type streamStartedMsg struct {
	eventCh <-chan streamEvent
	cancel  context.CancelFunc
}

type streamTextMsg struct {
	text string
}

type streamModeMsg struct {
	mode dispatch.Mode
}

type streamDoneMsg struct {
	output dispatch.Output
}

type streamErrorMsg struct {
	err error
}

// startStream creates a command that initiates streaming through the
// dispatch flow.
//
// The spawned goroutine exits when the stream completes, the context is
// canceled, or an error occurs. Channel closure signals completion, so no
// WaitGroup is needed.
func (t *TUI) startStream(query string) tea.Cmd {
	mode := t.entryMode
	return func() tea.Msg {
		eventCh := make(chan streamEvent, streamBufferSize)

		ctx, cancel := context.WithTimeout(t.ctx, streamTimeout)

		go func() {
			defer cancel()
			defer close(eventCh)

			// Panic recovery prevents a TUI lockup.
			defer func() {
				if r := recover(); r != nil {
					slog.Error("stream panic recovered", "panic", r)
					select {
					case eventCh <- streamEvent{err: fmt.Errorf("stream panic: %v", r)}:
					default:
					}
				}
			}()

			var chunkCount int

			// Genkit's StreamingFlowValue carries {Stream, Output, Done};
			// Stream here is a dispatch.Chunk. A chunk with empty text and
			// a mode marks a router hop.
			for streamValue, err := range t.flow.Stream(ctx, dispatch.Input{
				Query:     query,
				SessionID: t.sessionID,
				Mode:      string(mode),
			}) {
				if err != nil {
					select {
					case eventCh <- streamEvent{err: fmt.Errorf("chunk %d: %w", chunkCount, err)}:
					case <-ctx.Done():
					}
					return
				}

				if streamValue.Done {
					select {
					case eventCh <- streamEvent{done: true, output: streamValue.Output}:
					case <-ctx.Done():
					}
					return
				}

				chunk := streamValue.Stream
				if chunk.Mode != "" && chunk.Text == "" {
					select {
					case eventCh <- streamEvent{mode: chunk.Mode}:
					case <-ctx.Done():
						return
					}
					continue
				}
				if chunk.Text != "" {
					chunkCount++
					select {
					case eventCh <- streamEvent{text: chunk.Text}:
					case <-ctx.Done():
						return
					}
				}
			}

			// Guarantee a completion signal if the iterator exits without
			// Done: canceled context, zero chunks, or early termination.
			err := ctx.Err()
			if err == nil {
				err = fmt.Errorf("stream ended unexpectedly without completion")
				slog.Warn("stream iterator exited without completion signal")
			}
			select {
			case eventCh <- streamEvent{err: err}:
			default:
			}
		}()

		return streamStartedMsg{
			eventCh: eventCh,
			cancel:  cancel,
		}
	}
}

// listenForStream creates a command that waits for the next stream event.
// Empty events are skipped via a loop instead of recursion.
func listenForStream(eventCh <-chan streamEvent) tea.Cmd {
	return func() tea.Msg {
		if eventCh == nil {
			return nil
		}

		for {
			event, ok := <-eventCh
			if !ok {
				return streamErrorMsg{err: fmt.Errorf("stream ended without completion signal")}
			}

			switch {
			case event.err != nil:
				return streamErrorMsg{err: event.err}
			case event.done:
				return streamDoneMsg{output: event.output}
			case event.mode != "":
				return streamModeMsg{mode: event.mode}
			case event.text != "":
				return streamTextMsg{text: event.text}
			default:
				continue
			}
		}
	}
}
