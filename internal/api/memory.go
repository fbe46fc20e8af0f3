package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/aster0/aster/internal/memory"
)

// memoryHandler serves memory management endpoints.
type memoryHandler struct {
	store  *memory.Store
	logger *slog.Logger
}

// memoryItem is the JSON representation of a memory.
type memoryItem struct {
	ID         string  `json:"id"`
	Content    string  `json:"content"`
	Category   string  `json:"category"`
	Importance float32 `json:"importance"`
	CreatedAt  string  `json:"createdAt"`
	UpdatedAt  string  `json:"updatedAt"`
}

func toMemoryItem(m *memory.Memory) memoryItem {
	return memoryItem{
		ID:         m.ID.String(),
		Content:    m.Content,
		Category:   string(m.Category),
		Importance: m.Importance,
		CreatedAt:  m.CreatedAt.Format(time.RFC3339),
		UpdatedAt:  m.UpdatedAt.Format(time.RFC3339),
	}
}

// listMemories handles GET /api/v1/memories — the caller's active memories.
func (h *memoryHandler) listMemories(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r, h.logger)
	if !ok {
		return
	}

	limit := min(parseIntParam(r, "limit", 50), 200)
	offset := parseIntParam(r, "offset", 0)
	if offset > 10000 {
		WriteError(w, http.StatusBadRequest, "invalid_offset", "offset must be 10000 or less", h.logger)
		return
	}

	memories, err := h.store.List(r.Context(), userID, limit, offset)
	if err != nil {
		h.logger.Error("listing memories", "error", err, "user_id", userID)
		WriteError(w, http.StatusInternalServerError, "list_failed", "failed to list memories", h.logger)
		return
	}

	items := make([]memoryItem, len(memories))
	for i, m := range memories {
		items[i] = toMemoryItem(m)
	}

	WriteJSON(w, http.StatusOK, map[string]any{"items": items}, h.logger)
}

// deleteMemory handles DELETE /api/v1/memories/{id} — soft-deletes a memory.
// The store scopes the update to the caller, so a foreign ID reads as 404
// rather than confirming its existence.
func (h *memoryHandler) deleteMemory(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r, h.logger)
	if !ok {
		return
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_id", "invalid memory ID", h.logger)
		return
	}

	if err := h.store.Deactivate(r.Context(), id, userID); err != nil {
		if errors.Is(err, memory.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "not_found", "memory not found", h.logger)
			return
		}
		h.logger.Error("deactivating memory", "error", err, "memory_id", id)
		WriteError(w, http.StatusInternalServerError, "delete_failed", "failed to delete memory", h.logger)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted"}, h.logger)
}
