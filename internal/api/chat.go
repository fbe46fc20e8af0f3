package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/aster0/aster/internal/dispatch"
	"github.com/aster0/aster/internal/session"
)

// chatBodyMaxBytes caps the chat request body.
const chatBodyMaxBytes = 1024 * 1024

// TitleFunc generates a session title from the first user message.
// Implementations are best-effort and return "" on failure.
type TitleFunc func(ctx context.Context, userMessage string) string

// chatHandler serves the dispatch endpoints, synchronous and SSE.
type chatHandler struct {
	flow    *dispatch.Flow
	sm      *sessionManager
	titleFn TitleFunc
	logger  *slog.Logger
}

// SSE event types emitted by the stream endpoint.
const (
	EventChunk     = "chunk"     // partial response text
	EventMode      = "mode"      // dispatcher switched invocation mode
	EventCitations = "citations" // sources cited by search/research
	EventDone      = "done"      // stream completed successfully
	EventError     = "error"     // terminal error
)

// chatRequest is the request body for POST /api/v1/chat and
// POST /api/v1/chat/stream. SessionID falls back to the sid cookie.
type chatRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"sessionId,omitempty"`
	Mode      string `json:"mode,omitempty"`
}

// chatResponse is the JSON body for the synchronous endpoint.
type chatResponse struct {
	Response  string             `json:"response"`
	Mode      string             `json:"mode"`
	Hops      int                `json:"hops"`
	SessionID string             `json:"sessionId"`
	Title     string             `json:"title,omitempty"`
	Citations []session.Citation `json:"citations,omitempty"`
}

// ChunkPayload is the SSE data payload for streaming text.
type ChunkPayload struct {
	Text string `json:"text"`
}

// ModePayload is the SSE data payload for mode transitions.
type ModePayload struct {
	Mode string `json:"mode"`
}

// CitationsPayload is the SSE data payload listing cited sources.
type CitationsPayload struct {
	Citations []session.Citation `json:"citations"`
}

// DonePayload is the SSE data payload when streaming completes.
type DonePayload struct {
	Response  string `json:"response"`
	Mode      string `json:"mode"`
	Hops      int    `json:"hops"`
	SessionID string `json:"sessionId"`
	Title     string `json:"title,omitempty"`
}

// ErrorPayload is the SSE data payload when an error occurs.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// send handles POST /api/v1/chat — synchronous dispatch.
func (h *chatHandler) send(w http.ResponseWriter, r *http.Request) {
	if h.flow == nil {
		WriteError(w, http.StatusServiceUnavailable, "flow_not_configured", "dispatch flow not configured", h.logger)
		return
	}

	input, ok := h.parseBody(w, r)
	if !ok {
		return
	}
	if code, msg := h.validateInput(r, &input); code != "" {
		WriteError(w, http.StatusBadRequest, code, msg, h.logger)
		return
	}

	output, err := h.flow.Run(r.Context(), input)
	if err != nil {
		status, code := dispatchErrorStatus(err)
		h.logger.Error("dispatch failed", "error", err, "session_id", input.SessionID)
		WriteError(w, status, code, "dispatch failed", h.logger)
		return
	}

	title := h.maybeSetTitle(r.Context(), input)

	WriteJSON(w, http.StatusOK, chatResponse{
		Response:  output.Text,
		Mode:      output.Mode,
		Hops:      output.Hops,
		SessionID: output.SessionID,
		Title:     title,
		Citations: output.Citations,
	}, h.logger)
}

// stream handles GET/POST /api/v1/chat/stream — SSE dispatch.
// GET takes q/sessionId/mode query parameters so EventSource clients work;
// POST takes the same JSON body as the synchronous endpoint.
func (h *chatHandler) stream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	var input dispatch.Input
	if r.Method == http.MethodGet {
		input = dispatch.Input{
			Query:     firstParam(r, "q", "query"),
			SessionID: r.URL.Query().Get("sessionId"),
			Mode:      r.URL.Query().Get("mode"),
		}
	} else {
		var req chatRequest
		r.Body = http.MaxBytesReader(w, r.Body, chatBodyMaxBytes)
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			_ = writeEvent(w, flusher, EventError, ErrorPayload{
				Code: "invalid_body", Message: "invalid request body",
			})
			return
		}
		input = dispatch.Input{Query: req.Query, SessionID: req.SessionID, Mode: req.Mode}
	}

	if code, msg := h.validateInput(r, &input); code != "" {
		_ = writeEvent(w, flusher, EventError, ErrorPayload{Code: code, Message: msg})
		return
	}

	if h.flow == nil {
		_ = writeEvent(w, flusher, EventError, ErrorPayload{
			Code: "flow_not_configured", Message: "dispatch flow not configured",
		})
		return
	}

	ctx := r.Context()
	h.logger.Debug("SSE stream started", "session_id", input.SessionID, "mode", input.Mode)

	var (
		finalOutput dispatch.Output
		streamErr   error
		lastMode    string
	)

	for streamValue, err := range h.flow.Stream(ctx, input) {
		select {
		case <-ctx.Done():
			h.logger.Info("client disconnected", "session_id", input.SessionID)
			return
		default:
		}

		if err != nil {
			streamErr = err
			break
		}

		if streamValue.Done {
			finalOutput = streamValue.Output
			break
		}

		chunk := streamValue.Stream

		// A chunk carrying a new mode marks a dispatch transition; it may
		// arrive with empty text (the transition marker itself).
		if chunk.Mode != "" && string(chunk.Mode) != lastMode {
			lastMode = string(chunk.Mode)
			if err := writeEvent(w, flusher, EventMode, ModePayload{Mode: lastMode}); err != nil {
				return
			}
		}

		if chunk.Text != "" {
			if err := writeEvent(w, flusher, EventChunk, ChunkPayload{Text: chunk.Text}); err != nil {
				// Write failure usually means the connection closed.
				h.logger.Debug("writing chunk", "error", err)
				return
			}
		}
	}

	if streamErr != nil {
		h.writeStreamError(w, flusher, streamErr)
		return
	}

	if len(finalOutput.Citations) > 0 {
		_ = writeEvent(w, flusher, EventCitations, CitationsPayload{Citations: finalOutput.Citations})
	}

	title := h.maybeSetTitle(ctx, input)

	_ = writeEvent(w, flusher, EventDone, DonePayload{
		Response:  finalOutput.Text,
		Mode:      finalOutput.Mode,
		Hops:      finalOutput.Hops,
		SessionID: finalOutput.SessionID,
		Title:     title,
	})
}

// parseBody decodes the JSON chat request, capping the body size.
func (h *chatHandler) parseBody(w http.ResponseWriter, r *http.Request) (dispatch.Input, bool) {
	var req chatRequest
	r.Body = http.MaxBytesReader(w, r.Body, chatBodyMaxBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_body", "invalid request body", h.logger)
		return dispatch.Input{}, false
	}
	return dispatch.Input{Query: req.Query, SessionID: req.SessionID, Mode: req.Mode}, true
}

// validateInput fills the session ID from the sid cookie when absent and
// checks required fields. Returns an error code and message, or "" when valid.
func (h *chatHandler) validateInput(r *http.Request, input *dispatch.Input) (string, string) {
	if input.SessionID == "" {
		if sid, ok := sessionIDFromContext(r.Context()); ok {
			input.SessionID = sid.String()
		}
	}
	if input.SessionID == "" {
		return "missing_session_id", "sessionId is required (body field or sid cookie)"
	}
	if input.Query == "" {
		return "missing_query", "query is required"
	}
	return "", ""
}

// maybeSetTitle gives a session a generated title after its first exchange.
// Best-effort: returns the new title, or "" when the session already has one
// or generation is unavailable.
func (h *chatHandler) maybeSetTitle(ctx context.Context, input dispatch.Input) string {
	if h.sm == nil || h.sm.store == nil {
		return ""
	}

	sid, err := uuid.Parse(input.SessionID)
	if err != nil {
		return ""
	}

	sess, err := h.sm.store.Get(ctx, sid)
	if err != nil || sess.Title != "" {
		return ""
	}

	title := ""
	if h.titleFn != nil {
		title = h.titleFn(ctx, input.Query)
	}
	if title == "" {
		title = session.TruncateTitle(input.Query)
	}

	if err := h.sm.store.SetTitle(ctx, sid, title); err != nil {
		h.logger.Warn("setting session title", "error", err, "session_id", sid)
		return ""
	}
	return title
}

// writeStreamError maps dispatch errors to SSE error events.
func (h *chatHandler) writeStreamError(w io.Writer, f http.Flusher, err error) {
	_, code := dispatchErrorStatus(err)
	h.logger.Error("dispatch stream failed", "error", err)
	_ = writeEvent(w, f, EventError, ErrorPayload{Code: code, Message: err.Error()})
}

// dispatchErrorStatus maps dispatch errors to an HTTP status and error code.
func dispatchErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, dispatch.ErrEmptyQuery):
		return http.StatusBadRequest, "empty_query"
	case errors.Is(err, dispatch.ErrUnknownMode):
		return http.StatusBadRequest, "unknown_mode"
	case errors.Is(err, dispatch.ErrCircuitOpen):
		return http.StatusServiceUnavailable, "model_unavailable"
	default:
		return http.StatusInternalServerError, "dispatch_failed"
	}
}

// firstParam returns the first non-empty query parameter among names.
func firstParam(r *http.Request, names ...string) string {
	for _, name := range names {
		if v := r.URL.Query().Get(name); v != "" {
			return v
		}
	}
	return ""
}

// writeEvent writes a single SSE event with JSON-encoded data.
// Format: "event: <type>\ndata: <json>\n\n".
func writeEvent[T any](w io.Writer, flusher http.Flusher, event string, data T) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	flusher.Flush()
	return nil
}
