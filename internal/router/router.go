// Package router implements the relay's protocol state machine. It consumes
// inbound events from connections, validates them against the connection
// state, invokes message store operations, and decides fan-out targets using
// the connection registry.
package router

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	relayerrors "github.com/real-rm/chatrelay/internal/errors"
	"github.com/real-rm/chatrelay/internal/event"
	"github.com/real-rm/chatrelay/internal/metrics"
	"github.com/real-rm/chatrelay/internal/ratelimit"
	"github.com/real-rm/chatrelay/internal/registry"
	"github.com/real-rm/chatrelay/internal/store"
	"github.com/real-rm/chatrelay/internal/util"
	"github.com/real-rm/chatrelay/internal/websocket"
)

// TokenVerifier validates a bearer credential and yields a user identity.
type TokenVerifier interface {
	VerifyToken(token string) (int64, error)
}

// PresenceNotifier pushes presence changes to all live connections.
type PresenceNotifier interface {
	BroadcastOnline()
	BroadcastOffline(userID int64, lastSeen time.Time)
}

// Router routes events between connections, the message store, and the
// registry. Each connection's events are processed in the order received on
// that connection's own goroutine; the registry is the only shared state.
type Router struct {
	verifier     TokenVerifier
	store        store.Store
	registry     *registry.Registry
	presence     PresenceNotifier
	limiter      *ratelimit.EventLimiter
	logger       *zap.SugaredLogger
	storeTimeout time.Duration
}

// New creates a router.
func New(verifier TokenVerifier, st store.Store, reg *registry.Registry, presence PresenceNotifier, limiter *ratelimit.EventLimiter, storeTimeout time.Duration, logger *zap.SugaredLogger) *Router {
	return &Router{
		verifier:     verifier,
		store:        st,
		registry:     reg,
		presence:     presence,
		limiter:      limiter,
		logger:       logger.Named("router"),
		storeTimeout: storeTimeout,
	}
}

// HandleFrame processes one inbound frame from a connection. It returns
// false only when the connection must be closed (failed authentication);
// every other failure is contained to the single event that triggered it.
func (r *Router) HandleFrame(conn *websocket.Connection, raw []byte) bool {
	in, err := event.Decode(raw)
	// No else needed: error handling with early return (drops the event)
	if err != nil {
		// Protocol violation: logged and dropped, connection stays open
		r.logger.Warnw("Dropping malformed event",
			"error", err,
			"user_id", conn.UserID(),
			"connection_id", conn.ConnectionID,
			"component", "router")
		metrics.EventErrors.Inc()
		return true
	}

	metrics.EventsReceived.WithLabelValues(string(in.Kind)).Inc()

	// Unauthenticated state: only the auth event is meaningful, everything
	// else is a permissive discard.
	if !conn.Authenticated() {
		// No else needed: early return pattern (guard clause)
		if in.Kind == event.KindAuth {
			return r.handleAuth(conn, in.Auth)
		}
		r.logger.Debugw("Event from unauthenticated connection, ignored",
			"kind", in.Kind,
			"connection_id", conn.ConnectionID,
			"component", "router")
		return true
	}

	senderID := conn.UserID()

	// A repeated auth on an authenticated connection is a no-op
	if in.Kind == event.KindAuth {
		r.logger.Debugw("Repeated auth event ignored",
			"user_id", senderID,
			"connection_id", conn.ConnectionID)
		return true
	}

	// Rate limit inbound events per user
	// No else needed: early return pattern (guard clause)
	if !r.limiter.Allow(senderID) {
		retryAfter := r.limiter.RetryAfter(senderID)
		r.logger.Warnw("Event rate limit exceeded",
			"user_id", senderID,
			"retry_after_ms", retryAfter,
			"component", "router")
		r.sendError(conn, relayerrors.ErrTooManyRequests(retryAfter))
		return true
	}

	switch in.Kind {
	case event.KindMessage:
		r.handleMessage(conn, senderID, in.Message)
	case event.KindDeleteMessage:
		r.handleDelete(conn, senderID, in.Delete)
	case event.KindEditMessage:
		r.handleEdit(conn, senderID, in.Edit)
	case event.KindTyping, event.KindStopTyping:
		r.handleTyping(senderID, in.Kind, in.Typing)
	case event.KindMessagesRead:
		r.handleMessagesRead(conn, senderID, in.Read)
	case event.KindCallOffer, event.KindCallAnswer, event.KindICECandidate, event.KindHangUp:
		r.handleSignal(senderID, in.Signal)
	default:
		// Decode only yields known kinds; a gap here is a programming error
		r.logger.Warnw("Unhandled event kind",
			"kind", in.Kind,
			"user_id", senderID)
		metrics.EventErrors.Inc()
	}
	return true
}

// handleAuth performs the Unauthenticated -> Authenticated transition.
// On verification failure the client is sent auth_failed and the transport
// is closed; there is no retry within the same connection.
func (r *Router) handleAuth(conn *websocket.Connection, payload *event.AuthPayload) bool {
	userID, err := r.verifier.VerifyToken(payload.Token)
	// No else needed: error handling with early return (closes connection)
	if err != nil {
		r.logger.Warnw("WebSocket authentication failed",
			"error", err,
			"connection_id", conn.ConnectionID,
			"component", "router")
		metrics.AuthFailures.Inc()

		if data, mErr := event.AuthFailed(err.Error()); mErr == nil {
			conn.SafeSend(data)
		}
		return false
	}

	conn.BindUser(userID)

	// Admission replaces any prior entry for this user. The replaced
	// connection is not closed, it simply stops being addressable.
	prev := r.registry.Admit(userID, conn)
	if prev != nil && prev != conn {
		r.logger.Infow("Replaced existing connection for user",
			"user_id", userID,
			"old_connection_id", prev.ConnectionID,
			"new_connection_id", conn.ConnectionID)
	}

	r.logger.Infow("Client authenticated",
		"user_id", userID,
		"connection_id", conn.ConnectionID,
		"online_count", r.registry.Size(),
		"component", "router")

	r.presence.BroadcastOnline()
	return true
}

// handleMessage persists a new message and fans it out. Persistence happens
// before any delivery, so the message is durably recorded even if the
// recipient is offline; the sender always receives its own message back,
// including in self-chat.
func (r *Router) handleMessage(conn *websocket.Connection, senderID int64, payload *event.MessagePayload) {
	// No else needed: early return pattern (guard clause)
	if payload.ReceiverID == 0 {
		r.sendError(conn, relayerrors.ErrMissingField("receiver_id"))
		return
	}
	// No else needed: early return pattern (guard clause)
	if payload.Content == "" {
		r.sendError(conn, relayerrors.ErrMissingField("content"))
		return
	}

	ctx, cancel := r.storeContext()
	defer cancel()

	msg, err := r.store.InsertMessage(ctx, store.InsertParams{
		SenderID:         senderID,
		ReceiverID:       payload.ReceiverID,
		Content:          payload.Content,
		Type:             payload.MessageType,
		ReplyToMessageID: payload.ReplyToMessageID,
	})
	// No else needed: error handling with early return (abandons the event)
	if err != nil {
		util.LogError(r.logger, "router", "persist message", err,
			"sender_id", senderID,
			"receiver_id", payload.ReceiverID)
		metrics.StoreErrors.Inc()
		return
	}
	metrics.MessagesPersisted.Inc()

	data, err := event.NewMessage(msg)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		util.LogError(r.logger, "router", "marshal new message", err)
		return
	}

	r.deliverTo(payload.ReceiverID, data, event.KindNewMessage)
	r.echo(conn, data, event.KindNewMessage)
}

// handleDelete tombstones a message. Ownership is enforced by the store's
// conditional update; a denial yields an error envelope to the requester
// and no broadcast.
func (r *Router) handleDelete(conn *websocket.Connection, senderID int64, payload *event.DeletePayload) {
	ctx, cancel := r.storeContext()
	defer cancel()

	err := r.store.TombstoneMessage(ctx, payload.MessageID, senderID)
	switch {
	case errors.Is(err, store.ErrNotOwner):
		r.logger.Infow("Delete denied, sender does not own message",
			"user_id", senderID,
			"message_id", payload.MessageID)
		r.sendError(conn, relayerrors.NewOwnershipError("You cannot delete this message"))
		return
	case err != nil:
		util.LogError(r.logger, "router", "tombstone message", err,
			"user_id", senderID,
			"message_id", payload.MessageID)
		metrics.StoreErrors.Inc()
		return
	}

	data, err := event.MessageDeleted(payload.MessageID)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		util.LogError(r.logger, "router", "marshal message deleted", err)
		return
	}

	r.deliverTo(payload.ReceiverID, data, event.KindMessageDeleted)
	r.echo(conn, data, event.KindMessageDeleted)
}

// handleEdit updates a message's content. Same ownership rules as delete.
func (r *Router) handleEdit(conn *websocket.Connection, senderID int64, payload *event.EditPayload) {
	ctx, cancel := r.storeContext()
	defer cancel()

	msg, err := r.store.EditMessage(ctx, payload.MessageID, senderID, payload.NewContent)
	switch {
	case errors.Is(err, store.ErrNotOwner):
		r.logger.Infow("Edit denied, sender does not own message",
			"user_id", senderID,
			"message_id", payload.MessageID)
		r.sendError(conn, relayerrors.NewOwnershipError("You cannot edit this message"))
		return
	case err != nil:
		util.LogError(r.logger, "router", "edit message", err,
			"user_id", senderID,
			"message_id", payload.MessageID)
		metrics.StoreErrors.Inc()
		return
	}

	data, err := event.MessageEdited(msg)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		util.LogError(r.logger, "router", "marshal message edited", err)
		return
	}

	r.deliverTo(payload.ReceiverID, data, event.KindMessageEdited)
	r.echo(conn, data, event.KindMessageEdited)
}

// handleTyping forwards a typing indicator to the receiver only. Typing
// signals are ephemeral: nothing is persisted and an offline receiver
// simply misses them.
func (r *Router) handleTyping(senderID int64, kind event.Kind, payload *event.TypingPayload) {
	data, err := event.Typing(kind, senderID)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		util.LogError(r.logger, "router", "marshal typing event", err)
		return
	}
	r.deliverTo(payload.ReceiverID, data, kind)
}

// handleMessagesRead bulk-marks every unread message from the named chat
// partner as read and notifies the partner that their messages were seen.
func (r *Router) handleMessagesRead(conn *websocket.Connection, senderID int64, payload *event.ReadPayload) {
	ctx, cancel := r.storeContext()
	defer cancel()

	// No else needed: error handling with early return (abandons the event)
	if err := r.store.MarkConversationRead(ctx, senderID, payload.ChatID); err != nil {
		util.LogError(r.logger, "router", "mark conversation read", err,
			"reader_id", senderID,
			"chat_id", payload.ChatID)
		metrics.StoreErrors.Inc()
		return
	}

	data, err := event.MessagesUpdated(senderID)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		util.LogError(r.logger, "router", "marshal messages updated", err)
		return
	}
	r.deliverTo(payload.ChatID, data, event.KindMessagesUpdated)
}

// handleSignal relays a call-signaling payload verbatim to the receiver,
// with the sender id injected. Pure relay: nothing is persisted and an
// offline receiver misses the signal.
func (r *Router) handleSignal(senderID int64, payload *event.SignalPayload) {
	data, err := payload.Relay(senderID)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		util.LogError(r.logger, "router", "marshal signaling relay", err,
			"sender_id", senderID)
		return
	}
	r.deliverTo(payload.ReceiverID, data, event.KindCallOffer)
}

// HandleDisconnect evicts the connection from the registry, records the
// user's last-seen time, and announces the departure. The eviction is
// handle-guarded: a stale close racing a newer admission for the same user
// must not evict the replacement, and in that case nothing is broadcast.
func (r *Router) HandleDisconnect(conn *websocket.Connection) {
	userID := conn.UserID()
	// No else needed: early return pattern (guard clause)
	if userID == 0 {
		r.logger.Debugw("Unauthenticated connection disconnected",
			"connection_id", conn.ConnectionID)
		return
	}

	// No else needed: early return pattern (guard clause)
	if !r.registry.Evict(userID, conn) {
		r.logger.Debugw("Stale disconnect ignored, user already re-admitted",
			"user_id", userID,
			"connection_id", conn.ConnectionID)
		return
	}

	r.limiter.Forget(userID)

	r.logger.Infow("Client disconnected",
		"user_id", userID,
		"connection_id", conn.ConnectionID,
		"online_count", r.registry.Size(),
		"component", "router")

	ctx, cancel := r.storeContext()
	defer cancel()

	lastSeen, err := r.store.TouchLastSeen(ctx, userID)
	// No else needed: fallback logic for store failure
	if err != nil {
		util.LogError(r.logger, "router", "record last seen", err,
			"user_id", userID)
		metrics.StoreErrors.Inc()
		lastSeen = time.Now()
	}

	r.presence.BroadcastOffline(userID, lastSeen)
}

// deliverTo sends a payload to the target user's live connection if one is
// registered. A missing or closed target is a no-op, never an error.
func (r *Router) deliverTo(userID int64, payload []byte, kind event.Kind) {
	target := r.registry.Lookup(userID)
	// No else needed: delivery miss is a no-op
	if target == nil {
		metrics.DeliveryMisses.Inc()
		return
	}

	if target.SafeSend(payload) {
		metrics.Deliveries.WithLabelValues(string(kind)).Inc()
	} else {
		metrics.DeliveryMisses.Inc()
	}
}

// echo sends a payload back to the originating connection.
func (r *Router) echo(conn *websocket.Connection, payload []byte, kind event.Kind) {
	if conn.SafeSend(payload) {
		metrics.Deliveries.WithLabelValues(string(kind)).Inc()
	}
}

// sendError sends a structured error envelope to the connection.
func (r *Router) sendError(conn *websocket.Connection, relayErr *relayerrors.RelayError) {
	metrics.EventErrors.Inc()
	data, err := event.Error(relayErr.ToErrorInfo())
	// No else needed: early return pattern (guard clause)
	if err != nil {
		util.LogError(r.logger, "router", "marshal error envelope", err)
		return
	}
	conn.SafeSend(data)
}

func (r *Router) storeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), r.storeTimeout)
}
