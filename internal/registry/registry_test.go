package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/real-rm/chatrelay/internal/websocket"
)

func TestAdmit_FirstConnection(t *testing.T) {
	reg := New()
	conn := websocket.NewConnection("conn-1")

	prev := reg.Admit(42, conn)

	assert.Nil(t, prev)
	assert.Same(t, conn, reg.Lookup(42))
	assert.Equal(t, 1, reg.Size())
}

func TestAdmit_ReplacesExistingConnection(t *testing.T) {
	reg := New()
	oldConn := websocket.NewConnection("conn-old")
	newConn := websocket.NewConnection("conn-new")

	reg.Admit(42, oldConn)
	prev := reg.Admit(42, newConn)

	assert.Same(t, oldConn, prev)
	assert.Same(t, newConn, reg.Lookup(42))
	// Replacement never duplicates the entry
	assert.Equal(t, 1, reg.Size())
}

func TestLookup_UnknownUser(t *testing.T) {
	reg := New()

	assert.Nil(t, reg.Lookup(99))
}

func TestEvict_RemovesMatchingConnection(t *testing.T) {
	reg := New()
	conn := websocket.NewConnection("conn-1")
	reg.Admit(42, conn)

	removed := reg.Evict(42, conn)

	assert.True(t, removed)
	assert.Nil(t, reg.Lookup(42))
	assert.Equal(t, 0, reg.Size())
}

func TestEvict_IgnoresStaleConnection(t *testing.T) {
	reg := New()
	oldConn := websocket.NewConnection("conn-old")
	newConn := websocket.NewConnection("conn-new")

	reg.Admit(42, oldConn)
	reg.Admit(42, newConn)

	// The stale handle's eviction must not remove the replacement
	removed := reg.Evict(42, oldConn)

	assert.False(t, removed)
	assert.Same(t, newConn, reg.Lookup(42))
}

func TestEvict_UnknownUser(t *testing.T) {
	reg := New()
	conn := websocket.NewConnection("conn-1")

	assert.False(t, reg.Evict(42, conn))
}

func TestSnapshot_SortedAscending(t *testing.T) {
	reg := New()
	for _, id := range []int64{30, 10, 20} {
		reg.Admit(id, websocket.NewConnection("conn"))
	}

	snapshot := reg.Snapshot()

	assert.Equal(t, []int64{10, 20, 30}, snapshot)
}

func TestSnapshot_EmptyRegistry(t *testing.T) {
	reg := New()

	assert.Empty(t, reg.Snapshot())
}

func TestSnapshot_IsACopy(t *testing.T) {
	reg := New()
	reg.Admit(1, websocket.NewConnection("conn-1"))

	snapshot := reg.Snapshot()
	reg.Admit(2, websocket.NewConnection("conn-2"))

	// The earlier snapshot is unaffected by later admissions
	assert.Equal(t, []int64{1}, snapshot)
}

func TestConnections_ReturnsAllRegistered(t *testing.T) {
	reg := New()
	conn1 := websocket.NewConnection("conn-1")
	conn2 := websocket.NewConnection("conn-2")
	reg.Admit(1, conn1)
	reg.Admit(2, conn2)

	conns := reg.Connections()

	require.Len(t, conns, 2)
	assert.Contains(t, conns, conn1)
	assert.Contains(t, conns, conn2)
}

func TestRegistry_ConcurrentAdmitEvict(t *testing.T) {
	reg := New()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			conn := websocket.NewConnection("conn")
			reg.Admit(userID, conn)
			reg.Lookup(userID)
			reg.Snapshot()
			reg.Evict(userID, conn)
		}(int64(i%5 + 1))
	}
	wg.Wait()

	// Every admission was either evicted by its own goroutine or replaced
	// and left behind; either way no user appears twice.
	snapshot := reg.Snapshot()
	seen := map[int64]bool{}
	for _, id := range snapshot {
		assert.False(t, seen[id], "user %d appears twice in snapshot", id)
		seen[id] = true
	}
}
