package presence

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"svyaz/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id string
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(msg models.ServerMessage) bool { return true }

func TestRegistry_OnlineOffline(t *testing.T) {
	r := NewRegistry()
	c1 := &fakeConn{id: "c1"}
	c2 := &fakeConn{id: "c2"}

	users, conns := r.SetOnline("u1", c1)
	assert.Equal(t, []string{"u1"}, users)
	assert.Len(t, conns, 1)

	users, conns = r.SetOnline("u2", c2)
	assert.Equal(t, []string{"u1", "u2"}, users)
	assert.Len(t, conns, 2)

	got, ok := r.Resolve("u1")
	require.True(t, ok)
	assert.Equal(t, "c1", got.ID())

	userID, users, conns, removed := r.SetOffline("c1")
	require.True(t, removed)
	assert.Equal(t, "u1", userID)
	assert.Equal(t, []string{"u2"}, users)
	assert.Len(t, conns, 1)

	_, ok = r.Resolve("u1")
	assert.False(t, ok)

	// Duplicate disconnect is tolerated.
	_, _, _, removed = r.SetOffline("c1")
	assert.False(t, removed)
	assert.Equal(t, 1, r.Count())
}

func TestRegistry_LastConnectWins(t *testing.T) {
	r := NewRegistry()
	oldConn := &fakeConn{id: "old"}
	newConn := &fakeConn{id: "new"}

	r.SetOnline("u1", oldConn)
	r.SetOnline("u1", newConn)

	got, ok := r.Resolve("u1")
	require.True(t, ok)
	assert.Equal(t, "new", got.ID())

	// A stale disconnect of the replaced connection must not drop the user.
	_, _, _, removed := r.SetOffline("old")
	assert.False(t, removed)
	assert.True(t, r.IsOnline("u1"))

	_, _, _, removed = r.SetOffline("new")
	assert.True(t, removed)
	assert.False(t, r.IsOnline("u1"))
}

func TestRegistry_Rebind(t *testing.T) {
	r := NewRegistry()
	c := &fakeConn{id: "c"}

	r.SetOnline("u1", c)
	r.SetOnline("u2", c)

	assert.False(t, r.IsOnline("u1"))
	assert.True(t, r.IsOnline("u2"))
	id, ok := r.UserOf("c")
	require.True(t, ok)
	assert.Equal(t, "u2", id)
}

// The registry holds exactly the identities whose last event was an
// announcement on a connection that has not disconnected since.
func TestRegistry_RandomSequences(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	users := []string{"a", "b", "c", "d"}

	for round := 0; round < 50; round++ {
		r := NewRegistry()
		// expected: user -> conn id of the live binding
		expected := map[string]string{}
		var live []string
		connSeq := 0

		for step := 0; step < 40; step++ {
			if rng.Intn(2) == 0 || len(live) == 0 {
				u := users[rng.Intn(len(users))]
				connSeq++
				id := fmt.Sprintf("c%d", connSeq)
				r.SetOnline(u, &fakeConn{id: id})
				if prev, ok := expected[u]; ok {
					live = remove(live, prev)
				}
				expected[u] = id
				live = append(live, id)
				continue
			}

			idx := rng.Intn(len(live))
			id := live[idx]
			live = append(live[:idx], live[idx+1:]...)
			r.SetOffline(id)
			for u, bound := range expected {
				if bound == id {
					delete(expected, u)
				}
			}
			// Stale ids must be no-ops too.
			r.SetOffline(fmt.Sprintf("c%d", rng.Intn(connSeq+1)+1000))
		}

		require.Equal(t, len(expected), r.Count())
		for u, id := range expected {
			got, ok := r.Resolve(u)
			require.True(t, ok, "round %d: %s should be online", round, u)
			require.Equal(t, id, got.ID())
		}
	}
}

func TestRegistry_Concurrent(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("c%d", i)
			user := fmt.Sprintf("u%d", i%5)
			r.SetOnline(user, &fakeConn{id: id})
			r.Resolve(user)
			r.OnlineUsers()
			if i%2 == 0 {
				r.SetOffline(id)
			}
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, r.Count(), 5)
}

func remove(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
