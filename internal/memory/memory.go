// Package memory provides persistent user memory backed by PostgreSQL +
// pgvector. Facts about the user are extracted from conversation turns,
// embedded, and recalled by semantic similarity to enrich prompts.
package memory

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Category classifies a memory's longevity and role in prompts.
type Category string

const (
	// CategoryIdentity holds persistent traits (name, location, role).
	CategoryIdentity Category = "identity"
	// CategoryPreference holds opinions and choices.
	CategoryPreference Category = "preference"
	// CategoryProject holds current work context.
	CategoryProject Category = "project"
	// CategoryContextual holds situational, short-lived facts.
	CategoryContextual Category = "contextual"
)

// ValidCategory reports whether c is a known category.
func ValidCategory(c Category) bool {
	switch c {
	case CategoryIdentity, CategoryPreference, CategoryProject, CategoryContextual:
		return true
	}
	return false
}

var (
	// ErrNotFound is returned when the requested memory does not exist.
	ErrNotFound = errors.New("memory not found")

	// ErrEmptyContent is returned for empty memory content.
	ErrEmptyContent = errors.New("memory content is empty")

	// ErrEmptyOwner is returned when no owner ID is provided.
	ErrEmptyOwner = errors.New("owner ID is empty")

	// ErrInvalidCategory is returned for unknown categories.
	ErrInvalidCategory = errors.New("invalid memory category")
)

const (
	// VectorDimension is the embedding dimension stored in the memories
	// table. Must match the migration's VECTOR(768) column.
	VectorDimension int32 = 768

	// MaxContentLength bounds a single memory's content.
	MaxContentLength = 2000

	// EmbedTimeout bounds a single embedding call.
	EmbedTimeout = 10 * time.Second
)

// Memory is one stored fact about a user.
type Memory struct {
	ID              uuid.UUID
	OwnerID         string
	Content         string
	Category        Category
	SourceSessionID uuid.UUID
	Active          bool
	Importance      float32
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// validateAddInput checks Add preconditions.
func validateAddInput(content string, category Category, ownerID string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	if len(content) > MaxContentLength {
		return fmt.Errorf("%w: content exceeds %d bytes", ErrEmptyContent, MaxContentLength)
	}
	if ownerID == "" {
		return ErrEmptyOwner
	}
	if !ValidCategory(category) {
		return fmt.Errorf("%w: %q", ErrInvalidCategory, category)
	}
	return nil
}
