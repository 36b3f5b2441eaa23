// Package presence derives the online-user set from the registry and pushes
// change notifications to all live connections.
package presence

import (
	"time"

	"go.uber.org/zap"

	"github.com/real-rm/chatrelay/internal/event"
	"github.com/real-rm/chatrelay/internal/metrics"
	"github.com/real-rm/chatrelay/internal/registry"
	"github.com/real-rm/chatrelay/internal/util"
)

// Broadcaster pushes presence changes to every registered connection.
// All broadcasts are fire-and-forget: a send failure to one connection
// never aborts delivery to the others.
type Broadcaster struct {
	registry *registry.Registry
	logger   *zap.SugaredLogger
}

// NewBroadcaster creates a presence broadcaster over the given registry.
func NewBroadcaster(reg *registry.Registry, logger *zap.SugaredLogger) *Broadcaster {
	return &Broadcaster{
		registry: reg,
		logger:   logger.Named("presence"),
	}
}

// BroadcastOnline pushes the current online-id list to every registered
// connection. Called after every successful admission.
func (b *Broadcaster) BroadcastOnline() {
	snapshot := b.registry.Snapshot()
	payload, err := event.OnlineUsers(snapshot)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		util.LogError(b.logger, "presence", "marshal online users list", err)
		return
	}

	b.fanOut(payload, event.KindOnlineUsers)

	b.logger.Debugw("Broadcast presence snapshot",
		"online_count", len(snapshot),
		"component", "presence")
}

// BroadcastOffline pushes an explicit user_offline event carrying the
// evicted user's id and last-seen timestamp, so peers can update without
// recomputing full presence. Called after every eviction.
func (b *Broadcaster) BroadcastOffline(userID int64, lastSeen time.Time) {
	payload, err := event.UserOffline(userID, lastSeen)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		util.LogError(b.logger, "presence", "marshal user offline event", err,
			"user_id", userID)
		return
	}

	b.fanOut(payload, event.KindUserOffline)

	b.logger.Debugw("Broadcast user offline",
		"user_id", userID,
		"component", "presence")
}

// fanOut sends the payload to every registered connection exactly once.
// The connection list is a point-in-time copy, so no channel send happens
// under the registry lock.
func (b *Broadcaster) fanOut(payload []byte, kind event.Kind) {
	for _, conn := range b.registry.Connections() {
		if conn.SafeSend(payload) {
			metrics.Deliveries.WithLabelValues(string(kind)).Inc()
		} else {
			b.logger.Debugw("Presence delivery skipped, connection closing or backed up",
				"user_id", conn.UserID(),
				"connection_id", conn.ConnectionID)
		}
	}
}
