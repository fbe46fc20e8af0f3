// Package artifact persists generated media and documents: images produced
// by the image mode and code/markdown documents produced by the canvas mode.
package artifact

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Kind classifies artifact content.
type Kind string

const (
	// KindImage is a generated image (PNG/JPEG/WebP bytes).
	KindImage Kind = "image"
	// KindCanvas is a generated code or markdown document.
	KindCanvas Kind = "canvas"
)

var (
	// ErrNotFound is returned when the requested artifact does not exist.
	ErrNotFound = errors.New("artifact not found")

	// ErrInvalidKind is returned for kinds other than image/canvas.
	ErrInvalidKind = errors.New("invalid artifact kind")

	// ErrEmptyData is returned when artifact content is empty.
	ErrEmptyData = errors.New("artifact data is empty")
)

// MaxDataBytes caps a single artifact's payload (8 MiB).
// Generated images land well under this; it guards against runaway
// model output being written to the database.
const MaxDataBytes = 8 << 20

// ErrTooLarge is returned when artifact data exceeds MaxDataBytes.
var ErrTooLarge = errors.New("artifact data too large")

// Artifact is a stored generation product.
type Artifact struct {
	ID        uuid.UUID
	SessionID uuid.UUID
	Kind      Kind
	Title     string
	MIMEType  string
	Data      []byte
	CreatedAt time.Time
}

// Ref is the lightweight reference embedded in message records and
// API responses. The payload is fetched separately by ID.
type Ref struct {
	ID    uuid.UUID `json:"id"`
	Kind  Kind      `json:"kind"`
	Title string    `json:"title,omitempty"`
}

// Ref returns the lightweight reference for a.
func (a *Artifact) Ref() Ref {
	return Ref{ID: a.ID, Kind: a.Kind, Title: a.Title}
}

// validate checks invariants before storage.
func (a *Artifact) validate() error {
	if a.Kind != KindImage && a.Kind != KindCanvas {
		return ErrInvalidKind
	}
	if len(a.Data) == 0 {
		return ErrEmptyData
	}
	if len(a.Data) > MaxDataBytes {
		return ErrTooLarge
	}
	return nil
}
