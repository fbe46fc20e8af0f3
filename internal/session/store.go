package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// sessionCols is the standard SELECT column list for scanning sessions.
const sessionCols = `id, owner_id, title, message_count, created_at, updated_at`

// messageCols is the standard SELECT column list for scanning messages.
const messageCols = `id, session_id, role, content, mode, citations, artifacts,
	sequence_number, created_at`

// Store manages session persistence with a PostgreSQL backend.
//
// Store is safe for concurrent use by multiple goroutines. AppendMessages
// serializes writers per session with SELECT ... FOR UPDATE so sequence
// numbers never collide.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates a session Store.
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}, nil
}

// Create creates a new session for ownerID. Title may be empty; it is
// usually filled in later from the first user message.
func (s *Store) Create(ctx context.Context, ownerID, title string) (*Session, error) {
	title = TruncateTitle(title)

	row := s.pool.QueryRow(ctx,
		`INSERT INTO sessions (owner_id, title) VALUES ($1, $2)
		 RETURNING `+sessionCols, ownerID, nullableText(title))

	sess, err := scanSession(row)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	s.logger.Debug("created session", "id", sess.ID, "owner", ownerID)
	return sess, nil
}

// Get retrieves a session by ID.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Session, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+sessionCols+` FROM sessions WHERE id = $1`, id)

	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting session %s: %w", id, err)
	}
	return sess, nil
}

// List returns sessions for an owner ordered by most recently updated.
func (s *Store) List(ctx context.Context, ownerID string, limit, offset int32) ([]*Session, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+sessionCols+` FROM sessions
		 WHERE owner_id = $1
		 ORDER BY updated_at DESC
		 LIMIT $2 OFFSET $3`, ownerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return sessions, nil
}

// Delete removes a session and all its messages (CASCADE).
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting session %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	s.logger.Debug("deleted session", "id", id)
	return nil
}

// SetTitle updates a session's title.
func (s *Store) SetTitle(ctx context.Context, id uuid.UUID, title string) error {
	title = TruncateTitle(title)
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET title = $2, updated_at = now() WHERE id = $1`, id, title)
	if err != nil {
		return fmt.Errorf("updating session title: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return nil
}

// AppendMessages appends messages to a session in one transaction.
//
// The session row is locked with SELECT ... FOR UPDATE before sequence
// numbers are assigned, so concurrent appends to the same session cannot
// produce duplicate sequence numbers.
func (s *Store) AppendMessages(ctx context.Context, sessionID uuid.UUID, messages []*Message) error {
	if len(messages) == 0 {
		return nil
	}
	for i, msg := range messages {
		for _, part := range msg.Content {
			if part == nil {
				return fmt.Errorf("message %d: %w", i, ErrNilContent)
			}
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			s.logger.Debug("transaction rollback", "error", err)
		}
	}()

	// Lock the session row; also validates it exists.
	var locked uuid.UUID
	err = tx.QueryRow(ctx,
		`SELECT id FROM sessions WHERE id = $1 FOR UPDATE`, sessionID).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("locking session: %w", err)
	}

	var maxSeq int32
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(sequence_number), 0) FROM session_messages
		 WHERE session_id = $1`, sessionID).Scan(&maxSeq)
	if err != nil {
		return fmt.Errorf("reading max sequence number: %w", err)
	}

	for i, msg := range messages {
		contentJSON, err := json.Marshal(msg.Content)
		if err != nil {
			return fmt.Errorf("marshaling message content %d: %w", i, err)
		}

		citationsJSON, err := marshalOrNil(msg.Citations)
		if err != nil {
			return fmt.Errorf("marshaling citations %d: %w", i, err)
		}
		artifactsJSON, err := marshalOrNil(msg.Artifacts)
		if err != nil {
			return fmt.Errorf("marshaling artifact refs %d: %w", i, err)
		}

		mode := msg.Mode
		if mode == "" {
			mode = "chat"
		}

		seq := maxSeq + int32(i) + 1 // #nosec G115 -- i is a loop index bounded by slice length
		if _, err := tx.Exec(ctx,
			`INSERT INTO session_messages
			 (session_id, role, content, mode, citations, artifacts, sequence_number)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			sessionID, msg.Role, contentJSON, mode, citationsJSON, artifactsJSON, seq); err != nil {
			return fmt.Errorf("inserting message %d: %w", i, err)
		}
	}

	newCount := maxSeq + int32(len(messages)) // #nosec G115 -- len bounded by practical message limits
	if _, err := tx.Exec(ctx,
		`UPDATE sessions SET message_count = $2, updated_at = now()
		 WHERE id = $1`, sessionID, newCount); err != nil {
		return fmt.Errorf("updating session metadata: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	s.logger.Debug("appended messages", "session_id", sessionID, "count", len(messages))
	return nil
}

// Messages retrieves a session's messages ordered by sequence number.
func (s *Store) Messages(ctx context.Context, sessionID uuid.UUID, limit, offset int32) ([]*Message, error) {
	if limit <= 0 {
		limit = 1000
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+messageCols+` FROM session_messages
		 WHERE session_id = $1
		 ORDER BY sequence_number ASC
		 LIMIT $2 OFFSET $3`, sessionID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("getting messages for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			s.logger.Warn("skipping malformed message", "session_id", sessionID, "error", err)
			continue
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	return messages, nil
}

// History loads a session's conversation as Genkit messages, bounded to the
// most recent maxMessages turns (0 uses the store default of 100).
func (s *Store) History(ctx context.Context, sessionID uuid.UUID, maxMessages int32) ([]*ai.Message, error) {
	if maxMessages <= 0 {
		maxMessages = 100
	}

	// Fetch the newest N in descending order, then reverse.
	rows, err := s.pool.Query(ctx,
		`SELECT `+messageCols+` FROM session_messages
		 WHERE session_id = $1
		 ORDER BY sequence_number DESC
		 LIMIT $2`, sessionID, maxMessages)
	if err != nil {
		return nil, fmt.Errorf("loading history for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			s.logger.Warn("skipping malformed message in history", "error", err)
			continue
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating history: %w", err)
	}

	history := make([]*ai.Message, len(msgs))
	for i, msg := range msgs {
		history[len(msgs)-1-i] = msg.AIMessage()
	}
	return history, nil
}

// SearchMessages performs a case-insensitive text search across an owner's
// message records, newest first.
func (s *Store) SearchMessages(ctx context.Context, ownerID, query string, limit int32) ([]*Message, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.pool.Query(ctx,
		`SELECT m.id, m.session_id, m.role, m.content, m.mode, m.citations,
		        m.artifacts, m.sequence_number, m.created_at
		 FROM session_messages m
		 JOIN sessions s ON s.id = m.session_id
		 WHERE s.owner_id = $1 AND m.content::text ILIKE '%' || $2 || '%'
		 ORDER BY m.created_at DESC
		 LIMIT $3`, ownerID, query, limit)
	if err != nil {
		return nil, fmt.Errorf("searching messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			continue
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating search results: %w", err)
	}
	return messages, nil
}

// scanSession scans one session row.
func scanSession(row pgx.Row) (*Session, error) {
	var sess Session
	var title *string
	if err := row.Scan(&sess.ID, &sess.OwnerID, &title, &sess.MessageCount,
		&sess.CreatedAt, &sess.UpdatedAt); err != nil {
		return nil, err
	}
	if title != nil {
		sess.Title = *title
	}
	return &sess, nil
}

// scanMessage scans one message row, decoding the JSONB columns.
func scanMessage(row pgx.Row) (*Message, error) {
	var msg Message
	var contentJSON []byte
	var citationsJSON, artifactsJSON []byte
	if err := row.Scan(&msg.ID, &msg.SessionID, &msg.Role, &contentJSON, &msg.Mode,
		&citationsJSON, &artifactsJSON, &msg.SequenceNumber, &msg.CreatedAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(contentJSON, &msg.Content); err != nil {
		return nil, fmt.Errorf("unmarshaling content: %w", err)
	}
	if len(citationsJSON) > 0 {
		if err := json.Unmarshal(citationsJSON, &msg.Citations); err != nil {
			return nil, fmt.Errorf("unmarshaling citations: %w", err)
		}
	}
	if len(artifactsJSON) > 0 {
		if err := json.Unmarshal(artifactsJSON, &msg.Artifacts); err != nil {
			return nil, fmt.Errorf("unmarshaling artifact refs: %w", err)
		}
	}
	return &msg, nil
}

// marshalOrNil marshals v, returning nil (SQL NULL) for empty slices.
func marshalOrNil[T any](v []T) ([]byte, error) {
	if len(v) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// nullableText converts empty strings to nil for nullable columns.
func nullableText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
