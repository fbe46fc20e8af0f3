package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/aster0/aster/internal/artifact"
	"github.com/aster0/aster/internal/session"
)

// artifactHandler serves stored artifact payloads.
type artifactHandler struct {
	store    *artifact.Store
	sessions *session.Store
	logger   *slog.Logger
}

// artifactItem is the JSON representation of an artifact reference.
type artifactItem struct {
	ID    string `json:"id"`
	Kind  string `json:"kind"`
	Title string `json:"title,omitempty"`
	URL   string `json:"url"`
}

// toArtifactItem converts an artifact.Ref to its JSON representation.
func toArtifactItem(ref artifact.Ref) artifactItem {
	return artifactItem{
		ID:    ref.ID.String(),
		Kind:  string(ref.Kind),
		Title: ref.Title,
		URL:   "/api/v1/artifacts/" + ref.ID.String(),
	}
}

// getArtifact handles GET /api/v1/artifacts/{id} — serves the raw payload
// with its stored MIME type. Ownership is checked through the artifact's
// session; misses and foreign artifacts both return 404.
func (h *artifactHandler) getArtifact(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r, h.logger)
	if !ok {
		return
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_id", "invalid artifact ID", h.logger)
		return
	}

	a, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "not_found", "artifact not found", h.logger)
			return
		}
		h.logger.Error("getting artifact", "error", err, "artifact_id", id)
		WriteError(w, http.StatusInternalServerError, "get_failed", "failed to get artifact", h.logger)
		return
	}

	sess, err := h.sessions.Get(r.Context(), a.SessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "not_found", "artifact not found", h.logger)
			return
		}
		h.logger.Error("checking artifact ownership", "error", err, "artifact_id", id)
		WriteError(w, http.StatusInternalServerError, "get_failed", "failed to get artifact", h.logger)
		return
	}
	if sess.OwnerID != userID {
		WriteError(w, http.StatusNotFound, "not_found", "artifact not found", h.logger)
		return
	}

	mimeType := a.MIMEType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(a.Data)))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	// Disposition inline: images render in <img> tags, documents in views.
	w.Header().Set("Content-Disposition", "inline")
	w.Header().Set("Cache-Control", "private, max-age=86400")
	if _, err := w.Write(a.Data); err != nil {
		h.logger.Debug("writing artifact body", "error", err)
	}
}

// listSessionArtifacts handles GET /api/v1/sessions/{id}/artifacts.
func (h *artifactHandler) listSessionArtifacts(sm *sessionManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := sm.requireOwnership(w, r)
		if !ok {
			return
		}

		refs, err := h.store.ListBySession(r.Context(), id)
		if err != nil {
			h.logger.Error("listing artifacts", "error", err, "session_id", id)
			WriteError(w, http.StatusInternalServerError, "list_failed", "failed to list artifacts", h.logger)
			return
		}

		items := make([]artifactItem, len(refs))
		for i, ref := range refs {
			items[i] = toArtifactItem(ref)
		}

		WriteJSON(w, http.StatusOK, map[string]any{"items": items}, h.logger)
	}
}
