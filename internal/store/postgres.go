package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/real-rm/chatrelay/internal/constants"
)

// PgxPool is a minimal abstraction over a Postgres connection pool.
// It is implemented by *pgxpool.Pool and pgxmock.PgxPoolIface.
type PgxPool interface {
	// Exec executes a SQL command and returns the command tag.
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	// Query executes a SELECT and returns a rows iterator.
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	// QueryRow executes a query expected to return at most one row.
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	// Ping verifies the connection to the database is alive.
	Ping(ctx context.Context) error
	// Close shuts down the pool and frees resources.
	Close()
}

// Postgres implements Store on a PostgreSQL pool.
type Postgres struct {
	pool PgxPool
}

// NewPostgres constructs a store over an existing pool.
func NewPostgres(pool PgxPool) *Postgres {
	return &Postgres{pool: pool}
}

// Connect creates a connection pool for the given DSN and wraps it in a store.
func Connect(ctx context.Context, dsn string, connectTimeout time.Duration) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

// Close releases the underlying pool.
func (s *Postgres) Close() {
	s.pool.Close()
}

const insertMessageSQL = `
INSERT INTO messages (sender_id, receiver_id, content, type, reply_to_message_id)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, sender_id, receiver_id, content, type, created_at, is_read, is_edited, is_deleted, reply_to_message_id`

const selectReplySQL = `
SELECT m.content, u.username
FROM messages m
JOIN users u ON m.sender_id = u.id
WHERE m.id = $1`

// InsertMessage persists a new message row and enriches it with the replied
// message's content and author when the reply reference resolves.
func (s *Postgres) InsertMessage(ctx context.Context, p InsertParams) (*Message, error) {
	msgType := p.Type
	if msgType == "" {
		msgType = constants.MessageTypeText
	}

	row := s.pool.QueryRow(ctx, insertMessageSQL,
		p.SenderID, p.ReceiverID, p.Content, msgType, p.ReplyToMessageID)

	var m Message
	if err := row.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Content, &m.Type,
		&m.CreatedAt, &m.IsRead, &m.IsEdited, &m.IsDeleted, &m.ReplyToMessageID); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	// No else needed: plain messages need no enrichment
	if m.ReplyToMessageID != nil {
		var content, username string
		err := s.pool.QueryRow(ctx, selectReplySQL, *m.ReplyToMessageID).Scan(&content, &username)
		switch {
		case err == nil:
			m.ReplyToContent = &content
			m.ReplyToUsername = &username
		case errors.Is(err, pgx.ErrNoRows):
			// Dangling reply reference: deliver the message without enrichment
		default:
			return nil, fmt.Errorf("resolve reply reference: %w", err)
		}
	}

	return &m, nil
}

const tombstoneSQL = `
UPDATE messages
SET is_deleted = TRUE, content = $3, type = $4
WHERE id = $1 AND sender_id = $2`

// TombstoneMessage logically deletes a message owned by senderID.
// Ownership is enforced by the update predicate itself, never by a separate
// authorization read, so concurrent attempts cannot race a check-then-act gap.
func (s *Postgres) TombstoneMessage(ctx context.Context, messageID, senderID int64) error {
	tag, err := s.pool.Exec(ctx, tombstoneSQL,
		messageID, senderID, constants.TombstoneContent, constants.MessageTypeText)
	if err != nil {
		return fmt.Errorf("tombstone message: %w", err)
	}
	// No else needed: early return pattern (guard clause)
	if tag.RowsAffected() == 0 {
		return ErrNotOwner
	}
	return nil
}

const editMessageSQL = `
UPDATE messages
SET content = $1, is_edited = TRUE
WHERE id = $2 AND sender_id = $3
RETURNING id, sender_id, receiver_id, content, type, created_at, is_read, is_edited, is_deleted, reply_to_message_id`

// EditMessage updates the content of a message owned by senderID and
// returns the updated row.
func (s *Postgres) EditMessage(ctx context.Context, messageID, senderID int64, content string) (*Message, error) {
	row := s.pool.QueryRow(ctx, editMessageSQL, content, messageID, senderID)

	var m Message
	if err := row.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Content, &m.Type,
		&m.CreatedAt, &m.IsRead, &m.IsEdited, &m.IsDeleted, &m.ReplyToMessageID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotOwner
		}
		return nil, fmt.Errorf("edit message: %w", err)
	}
	return &m, nil
}

const markReadSQL = `
UPDATE messages
SET is_read = TRUE
WHERE receiver_id = $1 AND sender_id = $2 AND is_read = FALSE`

// MarkConversationRead marks everything senderID sent to readerID as read.
func (s *Postgres) MarkConversationRead(ctx context.Context, readerID, senderID int64) error {
	if _, err := s.pool.Exec(ctx, markReadSQL, readerID, senderID); err != nil {
		return fmt.Errorf("mark conversation read: %w", err)
	}
	return nil
}

const touchLastSeenSQL = `
UPDATE users SET last_seen = NOW() WHERE id = $1 RETURNING last_seen`

// TouchLastSeen records the disconnect time for a user.
func (s *Postgres) TouchLastSeen(ctx context.Context, userID int64) (time.Time, error) {
	var lastSeen time.Time
	if err := s.pool.QueryRow(ctx, touchLastSeenSQL, userID).Scan(&lastSeen); err != nil {
		return time.Time{}, fmt.Errorf("touch last seen: %w", err)
	}
	return lastSeen, nil
}

const listConversationSQL = `
SELECT
  m.id, m.sender_id, m.receiver_id, m.content, m.type, m.created_at,
  m.is_read, m.is_edited, m.is_deleted, m.reply_to_message_id,
  replied_msg.content AS reply_to_content,
  reply_author.username AS reply_to_username
FROM messages m
LEFT JOIN messages replied_msg ON m.reply_to_message_id = replied_msg.id
LEFT JOIN users reply_author ON replied_msg.sender_id = reply_author.id
WHERE ((m.sender_id = $1 AND m.receiver_id = $2) OR (m.sender_id = $2 AND m.receiver_id = $1))
ORDER BY m.created_at ASC`

// ListConversation returns the two-way conversation between two users.
func (s *Postgres) ListConversation(ctx context.Context, userID, otherUserID int64) ([]Message, error) {
	rows, err := s.pool.Query(ctx, listConversationSQL, userID, otherUserID)
	if err != nil {
		return nil, fmt.Errorf("list conversation: %w", err)
	}
	defer rows.Close()

	out := []Message{}
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Content, &m.Type,
			&m.CreatedAt, &m.IsRead, &m.IsEdited, &m.IsDeleted, &m.ReplyToMessageID,
			&m.ReplyToContent, &m.ReplyToUsername); err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Ping verifies the backing database is reachable.
func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
