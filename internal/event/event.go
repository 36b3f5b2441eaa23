// Package event defines the wire envelope exchanged over relay connections.
// Inbound envelopes form a closed tagged union discriminated by the "type"
// field; outbound envelopes are built through typed constructors so every
// payload shape lives in one place.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Kind is the string discriminator carried in the "type" field.
type Kind string

// Inbound event kinds.
const (
	KindAuth          Kind = "auth"
	KindMessage       Kind = "message"
	KindDeleteMessage Kind = "delete_message"
	KindEditMessage   Kind = "edit_message"
	KindTyping        Kind = "typing"
	KindStopTyping    Kind = "stop_typing"
	KindMessagesRead  Kind = "messages_read"
	KindCallOffer     Kind = "call-offer"
	KindCallAnswer    Kind = "call-answer"
	KindICECandidate  Kind = "ice-candidate"
	KindHangUp        Kind = "hang-up"
)

// Outbound event kinds.
const (
	KindAuthFailed      Kind = "auth_failed"
	KindOnlineUsers     Kind = "online_users_list"
	KindNewMessage      Kind = "new_message"
	KindMessageDeleted  Kind = "message_deleted"
	KindMessageEdited   Kind = "message_edited"
	KindMessagesUpdated Kind = "messages_updated"
	KindUserOffline     Kind = "user_offline"
	KindError           Kind = "error"
)

var (
	// ErrMalformed is returned when an inbound frame is not a JSON object
	// with a string "type" field.
	ErrMalformed = errors.New("malformed event")
	// ErrUnknownKind is returned when the "type" field names no known event.
	ErrUnknownKind = errors.New("unknown event kind")
)

// AuthPayload carries the bearer credential for the auth transition.
type AuthPayload struct {
	Token string `json:"token"`
}

// MessagePayload carries a new chat message.
type MessagePayload struct {
	ReceiverID       int64  `json:"receiver_id"`
	Content          string `json:"content"`
	MessageType      string `json:"messageType,omitempty"`
	ReplyToMessageID *int64 `json:"reply_to_message_id,omitempty"`
}

// DeletePayload names the message to tombstone.
type DeletePayload struct {
	MessageID  int64 `json:"messageId"`
	ReceiverID int64 `json:"receiver_id"`
}

// EditPayload names the message to edit and the replacement content.
type EditPayload struct {
	MessageID  int64  `json:"messageId"`
	NewContent string `json:"newContent"`
	ReceiverID int64  `json:"receiver_id"`
}

// TypingPayload names the peer who should see the typing indicator.
type TypingPayload struct {
	ReceiverID int64 `json:"receiver_id"`
}

// ReadPayload names the chat partner whose messages were read.
type ReadPayload struct {
	ChatID int64 `json:"chatId"`
}

// SignalPayload is a call-signaling event relayed verbatim. Fields holds
// the complete original object so unknown signaling keys survive the relay.
type SignalPayload struct {
	ReceiverID int64
	Fields     map[string]json.RawMessage
}

// Relay marshals the original signaling object with the sender id injected.
// Any sender_id supplied by the client is overwritten.
func (s *SignalPayload) Relay(senderID int64) ([]byte, error) {
	out := make(map[string]json.RawMessage, len(s.Fields)+1)
	for k, v := range s.Fields {
		out[k] = v
	}
	senderJSON, err := json.Marshal(senderID)
	if err != nil {
		return nil, err
	}
	out["sender_id"] = senderJSON
	return json.Marshal(out)
}

// Inbound is a decoded inbound envelope. Exactly one payload field is
// non-nil, matching Kind.
type Inbound struct {
	Kind    Kind
	Auth    *AuthPayload
	Message *MessagePayload
	Delete  *DeletePayload
	Edit    *EditPayload
	Typing  *TypingPayload
	Read    *ReadPayload
	Signal  *SignalPayload
}

// Decode parses a raw inbound frame into an Inbound envelope.
// It returns ErrMalformed for non-JSON or untyped frames and ErrUnknownKind
// for unrecognized discriminators; both are recoverable protocol violations.
func Decode(raw []byte) (*Inbound, error) {
	var head struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if head.Type == "" {
		return nil, fmt.Errorf("%w: missing type field", ErrMalformed)
	}

	in := &Inbound{Kind: head.Type}
	switch head.Type {
	case KindAuth:
		in.Auth = &AuthPayload{}
		return in, decodeBody(raw, in.Auth)
	case KindMessage:
		in.Message = &MessagePayload{}
		return in, decodeBody(raw, in.Message)
	case KindDeleteMessage:
		in.Delete = &DeletePayload{}
		return in, decodeBody(raw, in.Delete)
	case KindEditMessage:
		in.Edit = &EditPayload{}
		return in, decodeBody(raw, in.Edit)
	case KindTyping, KindStopTyping:
		in.Typing = &TypingPayload{}
		return in, decodeBody(raw, in.Typing)
	case KindMessagesRead:
		in.Read = &ReadPayload{}
		return in, decodeBody(raw, in.Read)
	case KindCallOffer, KindCallAnswer, KindICECandidate, KindHangUp:
		sig, err := decodeSignal(raw)
		if err != nil {
			return nil, err
		}
		in.Signal = sig
		return in, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, head.Type)
	}
}

func decodeBody(raw []byte, dst any) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

func decodeSignal(raw []byte) (*SignalPayload, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	sig := &SignalPayload{Fields: fields}
	if rcv, ok := fields["receiver_id"]; ok {
		if err := json.Unmarshal(rcv, &sig.ReceiverID); err != nil {
			return nil, fmt.Errorf("%w: receiver_id: %v", ErrMalformed, err)
		}
	}
	return sig, nil
}

// ErrorInfo contains error details surfaced to a client.
type ErrorInfo struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
	RetryAfter  int    `json:"retry_after,omitempty"` // milliseconds
}

// Outbound envelope shapes. Constructors marshal directly; callers hand the
// bytes to a connection's send channel.

type authFailedEvent struct {
	Type    Kind   `json:"type"`
	Message string `json:"message"`
}

type onlineUsersEvent struct {
	Type    Kind    `json:"type"`
	UserIDs []int64 `json:"userIds"`
}

type dataEvent struct {
	Type Kind `json:"type"`
	Data any  `json:"data"`
}

type typingEvent struct {
	Type     Kind  `json:"type"`
	SenderID int64 `json:"sender_id"`
}

type userOfflineEvent struct {
	Type     Kind      `json:"type"`
	UserID   int64     `json:"userId"`
	LastSeen time.Time `json:"last_seen"`
}

type errorEvent struct {
	Type  Kind       `json:"type"`
	Error *ErrorInfo `json:"error"`
}

// AuthFailed builds an auth_failed envelope.
func AuthFailed(message string) ([]byte, error) {
	return json.Marshal(authFailedEvent{Type: KindAuthFailed, Message: message})
}

// OnlineUsers builds an online_users_list envelope.
func OnlineUsers(userIDs []int64) ([]byte, error) {
	if userIDs == nil {
		userIDs = []int64{}
	}
	return json.Marshal(onlineUsersEvent{Type: KindOnlineUsers, UserIDs: userIDs})
}

// NewMessage builds a new_message envelope carrying the persisted row.
func NewMessage(row any) ([]byte, error) {
	return json.Marshal(dataEvent{Type: KindNewMessage, Data: row})
}

// MessageDeleted builds a message_deleted envelope.
func MessageDeleted(messageID int64) ([]byte, error) {
	return json.Marshal(dataEvent{
		Type: KindMessageDeleted,
		Data: map[string]int64{"messageId": messageID},
	})
}

// MessageEdited builds a message_edited envelope carrying the updated row.
func MessageEdited(row any) ([]byte, error) {
	return json.Marshal(dataEvent{Type: KindMessageEdited, Data: row})
}

// MessagesUpdated builds a messages_updated envelope naming the chat whose
// read state changed.
func MessagesUpdated(chatID int64) ([]byte, error) {
	return json.Marshal(dataEvent{
		Type: KindMessagesUpdated,
		Data: map[string]int64{"chatId": chatID},
	})
}

// Typing builds a typing or stop_typing envelope for the receiver.
func Typing(kind Kind, senderID int64) ([]byte, error) {
	return json.Marshal(typingEvent{Type: kind, SenderID: senderID})
}

// UserOffline builds a user_offline envelope with the last-seen timestamp.
func UserOffline(userID int64, lastSeen time.Time) ([]byte, error) {
	return json.Marshal(userOfflineEvent{Type: KindUserOffline, UserID: userID, LastSeen: lastSeen})
}

// Error builds an error envelope from error details.
func Error(info *ErrorInfo) ([]byte, error) {
	return json.Marshal(errorEvent{Type: KindError, Error: info})
}
