// Package registry provides the authoritative mapping from authenticated
// user identity to its single live connection. It owns presence semantics:
// a user is online exactly while an entry exists.
package registry

import (
	"sort"
	"sync"

	"github.com/samber/lo"

	"github.com/real-rm/chatrelay/internal/metrics"
	"github.com/real-rm/chatrelay/internal/websocket"
)

// Registry maps user ids to their current connection. All methods are safe
// for concurrent use. Entirely in-memory and process-scoped; clients must
// re-authenticate after a restart.
type Registry struct {
	entries map[int64]*websocket.Connection
	mu      sync.RWMutex
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		entries: make(map[int64]*websocket.Connection),
	}
}

// Admit registers conn as the single live connection for userID, replacing
// any existing entry. The previous connection handle is returned (nil if
// none) so the caller may decide whether to notify it; the registry itself
// never closes the replaced transport, it only stops addressing it.
func (r *Registry) Admit(userID int64, conn *websocket.Connection) *websocket.Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.entries[userID]
	r.entries[userID] = conn
	metrics.OnlineUsers.Set(float64(len(r.entries)))
	return prev
}

// Lookup returns the live connection for userID, or nil if the user holds
// no connection.
func (r *Registry) Lookup(userID int64) *websocket.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[userID]
}

// Evict removes the entry for userID only if the stored handle is identical
// to conn. This guards against a stale disconnect racing a newer admission:
// the old connection's close event must not evict the replacement's entry.
// Returns true if an entry was removed.
func (r *Registry) Evict(userID int64, conn *websocket.Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.entries[userID]
	// No else needed: early return pattern (guard clause)
	if !ok || current != conn {
		return false
	}

	delete(r.entries, userID)
	metrics.OnlineUsers.Set(float64(len(r.entries)))
	return true
}

// Snapshot returns a consistent point-in-time view of the presence set,
// sorted ascending for stable broadcasts.
func (r *Registry) Snapshot() []int64 {
	r.mu.RLock()
	ids := lo.Keys(r.entries)
	r.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Connections returns a point-in-time copy of all registered connections,
// for presence fan-out. The copy is taken under the lock so the broadcast
// loop never holds it during channel sends.
func (r *Registry) Connections() []*websocket.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Values(r.entries)
}

// Size returns the number of registered users.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
