package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"google.golang.org/genai"
)

// memoryCols is the standard SELECT column list for scanMemory.
const memoryCols = `id, owner_id, content, category, source_session_id,
	active, importance, created_at, updated_at`

// Store manages persistent memory backed by PostgreSQL + pgvector.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool     *pgxpool.Pool
	embedder ai.Embedder
	logger   *slog.Logger
}

// NewStore creates a memory Store.
func NewStore(pool *pgxpool.Pool, embedder ai.Embedder, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, embedder: embedder, logger: logger}, nil
}

// embed generates a vector embedding for the given text.
func (s *Store) embed(ctx context.Context, text string) (pgvector.Vector, error) {
	dim := VectorDimension
	resp, err := s.embedder.Embed(ctx, &ai.EmbedRequest{
		Input:   []*ai.Document{ai.DocumentFromText(text, nil)},
		Options: &genai.EmbedContentConfig{OutputDimensionality: &dim},
	})
	if err != nil {
		return pgvector.Vector{}, fmt.Errorf("embedding text: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return pgvector.Vector{}, errors.New("empty embedding response")
	}
	return pgvector.NewVector(resp.Embeddings[0].Embedding), nil
}

// Add inserts a new memory. Exact duplicates (same owner, same content) are
// discarded via the partial unique index on md5(content).
func (s *Store) Add(ctx context.Context, ownerID, content string, category Category,
	sessionID uuid.UUID, importance float32) error {
	if err := validateAddInput(content, category, ownerID); err != nil {
		return err
	}
	if importance <= 0 || importance > 1 {
		importance = 0.5
	}

	embedCtx, cancel := context.WithTimeout(ctx, EmbedTimeout)
	defer cancel()
	vec, err := s.embed(embedCtx, content)
	if err != nil {
		return fmt.Errorf("embedding: %w", err)
	}

	var sourceSession any
	if sessionID != uuid.Nil {
		sourceSession = sessionID
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO memories (owner_id, content, embedding, category, source_session_id, importance)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (owner_id, md5(content)) WHERE active = true DO NOTHING`,
		ownerID, content, vec, string(category), sourceSession, importance)
	if err != nil {
		return fmt.Errorf("inserting memory: %w", err)
	}

	s.logger.Debug("stored memory", "owner", ownerID, "category", category)
	return nil
}

// Search returns the k memories most similar to query for ownerID,
// ordered by cosine distance ascending.
func (s *Store) Search(ctx context.Context, ownerID, query string, k int) ([]*Memory, error) {
	if ownerID == "" {
		return nil, ErrEmptyOwner
	}
	if k <= 0 {
		k = 10
	}

	embedCtx, cancel := context.WithTimeout(ctx, EmbedTimeout)
	defer cancel()
	vec, err := s.embed(embedCtx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+memoryCols+` FROM memories
		 WHERE owner_id = $1 AND active = true
		 ORDER BY embedding <=> $2
		 LIMIT $3`, ownerID, vec, k)
	if err != nil {
		return nil, fmt.Errorf("searching memories: %w", err)
	}
	defer rows.Close()

	return collectMemories(rows)
}

// Recall searches memories relevant to query and formats them into a prompt
// block bounded by budget tokens. Returns empty string when nothing relevant
// is stored.
func (s *Store) Recall(ctx context.Context, ownerID, query string, budget int) (string, error) {
	memories, err := s.Search(ctx, ownerID, query, 10)
	if err != nil {
		return "", err
	}
	return FormatMemories(memories, budget), nil
}

// List returns an owner's active memories, newest first.
func (s *Store) List(ctx context.Context, ownerID string, limit, offset int32) ([]*Memory, error) {
	if ownerID == "" {
		return nil, ErrEmptyOwner
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+memoryCols+` FROM memories
		 WHERE owner_id = $1 AND active = true
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`, ownerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing memories: %w", err)
	}
	defer rows.Close()

	return collectMemories(rows)
}

// Deactivate soft-deletes a memory. The owner scope prevents deactivating
// another user's memories by guessed ID.
func (s *Store) Deactivate(ctx context.Context, id uuid.UUID, ownerID string) error {
	if ownerID == "" {
		return ErrEmptyOwner
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE memories SET active = false, updated_at = now()
		 WHERE id = $1 AND owner_id = $2 AND active = true`, id, ownerID)
	if err != nil {
		return fmt.Errorf("deactivating memory %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("memory %s: %w", id, ErrNotFound)
	}
	return nil
}

// collectMemories scans all rows into memories.
func collectMemories(rows pgx.Rows) ([]*Memory, error) {
	var memories []*Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning memory: %w", err)
		}
		memories = append(memories, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating memories: %w", err)
	}
	return memories, nil
}

// scanMemory scans one memory row.
func scanMemory(row pgx.Row) (*Memory, error) {
	var m Memory
	var category string
	var sourceSession *uuid.UUID
	if err := row.Scan(&m.ID, &m.OwnerID, &m.Content, &category, &sourceSession,
		&m.Active, &m.Importance, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	m.Category = Category(category)
	if sourceSession != nil {
		m.SourceSessionID = *sourceSession
	}
	return &m, nil
}
