// Package presence tracks which user is bound to which live connection.
package presence

import (
	"sort"
	"sync"

	"svyaz/internal/models"
)

// Conn is a live client connection.
// Send must not block; it reports false when the event was dropped.
type Conn interface {
	ID() string
	Send(msg models.ServerMessage) bool
}

// Registry maps user id to the connection currently bound to it.
// Last connect wins: binding a user again replaces the old connection
// without closing it.
type Registry struct {
	mu sync.RWMutex
	// userID -> connection
	byUser map[string]Conn
	// connection id -> userID
	byConn map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[string]Conn),
		byConn: make(map[string]string),
	}
}

// SetOnline binds userID to conn and returns the online users and the
// connections that should receive the presence broadcast, snapshotted under
// the same lock.
func (r *Registry) SetOnline(userID string, conn Conn) ([]string, []Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// The connection may have announced itself under another identity before.
	if prev, ok := r.byConn[conn.ID()]; ok && prev != userID {
		if bound, ok := r.byUser[prev]; ok && bound.ID() == conn.ID() {
			delete(r.byUser, prev)
		}
	}

	if old, ok := r.byUser[userID]; ok && old.ID() != conn.ID() {
		delete(r.byConn, old.ID())
	}

	r.byUser[userID] = conn
	r.byConn[conn.ID()] = userID

	return r.onlineUsers(), r.snapshot()
}

// SetOffline removes the entry bound to connID. It is a no-op when the
// connection is unknown or was already replaced by a newer one.
func (r *Registry) SetOffline(connID string) (userID string, users []string, conns []Conn, removed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.byConn[connID]
	if !ok {
		return "", nil, nil, false
	}
	delete(r.byConn, connID)

	if bound, ok := r.byUser[userID]; ok && bound.ID() == connID {
		delete(r.byUser, userID)
	}

	return userID, r.onlineUsers(), r.snapshot(), true
}

func (r *Registry) Resolve(userID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byUser[userID]
	return c, ok
}

// UserOf returns the identity the connection announced, if any.
func (r *Registry) UserOf(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byConn[connID]
	return id, ok
}

func (r *Registry) IsOnline(userID string) bool {
	_, ok := r.Resolve(userID)
	return ok
}

// OnlineUsers returns sorted ids of all online users.
func (r *Registry) OnlineUsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.onlineUsers()
}

// Snapshot returns the online users and their connections as one consistent view.
func (r *Registry) Snapshot() ([]string, []Conn) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.onlineUsers(), r.snapshot()
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

func (r *Registry) onlineUsers() []string {
	users := make([]string, 0, len(r.byUser))
	for id := range r.byUser {
		users = append(users, id)
	}
	sort.Strings(users)
	return users
}

func (r *Registry) snapshot() []Conn {
	conns := make([]Conn, 0, len(r.byUser))
	for _, c := range r.byUser {
		conns = append(conns, c)
	}
	return conns
}
