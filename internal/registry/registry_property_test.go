package registry

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/real-rm/chatrelay/internal/websocket"
)

// Property: Single-connection presence
// For any sequence of admissions, each user holds at most one registry entry,
// and Lookup always returns the most recently admitted connection.
func TestProperty_SingleConnectionPerUser(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("repeated admissions never duplicate a user", prop.ForAll(
		func(userIDs []int64) bool {
			reg := New()
			last := map[int64]*websocket.Connection{}

			for _, id := range userIDs {
				conn := websocket.NewConnection("conn")
				reg.Admit(id, conn)
				last[id] = conn
			}

			// Size equals the number of distinct users
			if reg.Size() != len(last) {
				return false
			}

			// Lookup returns the latest connection for each user
			for id, conn := range last {
				if reg.Lookup(id) != conn {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Int64Range(1, 10)),
	))

	properties.Property("admit returns the replaced connection", prop.ForAll(
		func(userID int64) bool {
			reg := New()
			first := websocket.NewConnection("first")
			second := websocket.NewConnection("second")

			if reg.Admit(userID, first) != nil {
				return false
			}
			return reg.Admit(userID, second) == first
		},
		gen.Int64Range(1, 1000000),
	))

	properties.TestingRun(t)
}

// Property: Guarded eviction
// Evicting with a stale handle never removes a newer admission, and evicting
// with the current handle always removes exactly that entry.
func TestProperty_GuardedEviction(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("stale eviction leaves the replacement registered", prop.ForAll(
		func(userID int64) bool {
			reg := New()
			stale := websocket.NewConnection("stale")
			current := websocket.NewConnection("current")

			reg.Admit(userID, stale)
			reg.Admit(userID, current)

			if reg.Evict(userID, stale) {
				return false
			}
			return reg.Lookup(userID) == current
		},
		gen.Int64Range(1, 1000000),
	))

	properties.Property("current eviction removes the entry", prop.ForAll(
		func(userID int64) bool {
			reg := New()
			conn := websocket.NewConnection("conn")
			reg.Admit(userID, conn)

			if !reg.Evict(userID, conn) {
				return false
			}
			return reg.Lookup(userID) == nil && reg.Size() == 0
		},
		gen.Int64Range(1, 1000000),
	))

	properties.TestingRun(t)
}

// Property: Snapshot ordering
// Snapshot always returns the distinct admitted user ids in ascending order.
func TestProperty_SnapshotSortedAndDistinct(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("snapshot is sorted and duplicate-free", prop.ForAll(
		func(userIDs []int64) bool {
			reg := New()
			distinct := map[int64]bool{}
			for _, id := range userIDs {
				reg.Admit(id, websocket.NewConnection("conn"))
				distinct[id] = true
			}

			snapshot := reg.Snapshot()
			if len(snapshot) != len(distinct) {
				return false
			}
			for i := 1; i < len(snapshot); i++ {
				if snapshot[i-1] >= snapshot[i] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Int64Range(1, 20)),
	))

	properties.TestingRun(t)
}
