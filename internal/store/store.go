// Package store provides durable persistence for chat messages and
// last-seen bookkeeping. The relay core issues commands through the Store
// interface; the PostgreSQL implementation lives in postgres.go.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotOwner is returned when a conditional update matched no row,
	// meaning the message does not exist or is not owned by the sender.
	ErrNotOwner = errors.New("message not owned by sender")
)

// Message is a persisted chat message row. Deletion is a tombstone: the row
// is never physically removed, its content is replaced and IsDeleted set.
type Message struct {
	ID               int64     `json:"id"`
	SenderID         int64     `json:"sender_id"`
	ReceiverID       int64     `json:"receiver_id"`
	Content          string    `json:"content"`
	Type             string    `json:"type"`
	CreatedAt        time.Time `json:"created_at"`
	IsRead           bool      `json:"is_read"`
	IsEdited         bool      `json:"is_edited"`
	IsDeleted        bool      `json:"is_deleted"`
	ReplyToMessageID *int64    `json:"reply_to_message_id,omitempty"`

	// Reply enrichment, populated when ReplyToMessageID resolves.
	ReplyToContent  *string `json:"reply_to_content,omitempty"`
	ReplyToUsername *string `json:"reply_to_username,omitempty"`
}

// InsertParams carries the fields of a new message.
type InsertParams struct {
	SenderID         int64
	ReceiverID       int64
	Content          string
	Type             string
	ReplyToMessageID *int64
}

// Store is the durable message store consumed by the relay core.
type Store interface {
	// InsertMessage persists a new message and returns the stored row,
	// enriched with the replied message's content and author when the
	// reply reference resolves.
	InsertMessage(ctx context.Context, p InsertParams) (*Message, error)

	// TombstoneMessage logically deletes a message: content replaced,
	// is_deleted set, type reset to text. The update is conditioned on
	// senderID owning the row; ErrNotOwner is returned when no row matched.
	TombstoneMessage(ctx context.Context, messageID, senderID int64) error

	// EditMessage updates a message's content and sets is_edited,
	// conditioned on senderID owning the row. Returns the updated row, or
	// ErrNotOwner when no row matched.
	EditMessage(ctx context.Context, messageID, senderID int64, content string) (*Message, error)

	// MarkConversationRead marks all unread messages sent by senderID to
	// readerID as read.
	MarkConversationRead(ctx context.Context, readerID, senderID int64) error

	// TouchLastSeen records the user's disconnect time and returns it.
	TouchLastSeen(ctx context.Context, userID int64) (time.Time, error)

	// ListConversation returns the full two-way conversation between two
	// users ordered by creation time, with reply enrichment.
	ListConversation(ctx context.Context, userID, otherUserID int64) ([]Message, error)

	// Ping verifies the backing database is reachable.
	Ping(ctx context.Context) error
}
