package artifact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// artifactCols is the standard SELECT column list for scanning.
const artifactCols = `id, session_id, kind, title, mime_type, data, created_at`

// Store manages artifact persistence with a PostgreSQL backend.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates an artifact Store.
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}, nil
}

// Put stores a new artifact and fills in its generated ID and timestamp.
func (s *Store) Put(ctx context.Context, a *Artifact) error {
	if err := a.validate(); err != nil {
		return err
	}

	var sessionID any
	if a.SessionID != uuid.Nil {
		sessionID = a.SessionID
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO artifacts (session_id, kind, title, mime_type, data)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		sessionID, string(a.Kind), a.Title, a.MIMEType, a.Data)
	if err := row.Scan(&a.ID, &a.CreatedAt); err != nil {
		return fmt.Errorf("inserting artifact: %w", err)
	}

	s.logger.Debug("stored artifact",
		"id", a.ID, "kind", a.Kind, "bytes", len(a.Data))
	return nil
}

// Get retrieves an artifact by ID, including its payload.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Artifact, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+artifactCols+` FROM artifacts WHERE id = $1`, id)

	a, err := scanArtifact(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("artifact %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting artifact %s: %w", id, err)
	}
	return a, nil
}

// ListBySession returns references (no payload) for all artifacts in a
// session, newest first.
func (s *Store) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]Ref, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, kind, title FROM artifacts
		 WHERE session_id = $1 ORDER BY created_at DESC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing artifacts: %w", err)
	}
	defer rows.Close()

	var refs []Ref
	for rows.Next() {
		var r Ref
		var kind string
		if err := rows.Scan(&r.ID, &kind, &r.Title); err != nil {
			return nil, fmt.Errorf("scanning artifact ref: %w", err)
		}
		r.Kind = Kind(kind)
		refs = append(refs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating artifact refs: %w", err)
	}
	return refs, nil
}

// Delete removes an artifact by ID.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM artifacts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting artifact %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("artifact %s: %w", id, ErrNotFound)
	}
	return nil
}

// scanArtifact scans one artifact row.
func scanArtifact(row pgx.Row) (*Artifact, error) {
	var a Artifact
	var sessionID *uuid.UUID
	var kind string
	if err := row.Scan(&a.ID, &sessionID, &kind, &a.Title, &a.MIMEType, &a.Data, &a.CreatedAt); err != nil {
		return nil, err
	}
	if sessionID != nil {
		a.SessionID = *sessionID
	}
	a.Kind = Kind(kind)
	return &a, nil
}
