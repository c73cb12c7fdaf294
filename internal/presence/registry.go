// Package presence owns the in-memory mapping of users to their live
// connections. The registry is pure synchronized state: it reports
// online/offline transitions to its caller and never performs I/O while
// holding its lock, so the websocket handler can orchestrate the global
// and room-scoped presence broadcasts around it.
package presence

import (
	"sort"
	"sync"
	"time"

	"coachline/internal/metrics"
	"coachline/pkg/interfaces"
	"coachline/pkg/types"
)

// Registry tracks which users are online and which connections each user
// owns. Room membership stays per-connection (multi-device users receive
// events on every device); the presence entry is last-writer-wins.
type Registry struct {
	mu          sync.RWMutex
	connsByUser map[string]map[string]interfaces.Conn
	entries     map[string]*types.PresenceEntry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		connsByUser: make(map[string]map[string]interfaces.Conn),
		entries:     make(map[string]*types.PresenceEntry),
	}
}

// RecordConnect upserts the presence entry for the connection's user and
// reports whether the user transitioned offline->online. Idempotent under
// rapid reconnects: re-recording the same connection only refreshes the
// entry.
func (r *Registry) RecordConnect(conn interfaces.Conn) (cameOnline bool) {
	userID := conn.UserID()

	r.mu.Lock()
	defer r.mu.Unlock()

	conns, exists := r.connsByUser[userID]
	if !exists {
		conns = make(map[string]interfaces.Conn)
		r.connsByUser[userID] = conns
	}
	cameOnline = len(conns) == 0
	conns[conn.ID()] = conn

	// Last writer wins for the displayed connection id.
	r.entries[userID] = &types.PresenceEntry{
		UserID:       userID,
		DisplayName:  conn.DisplayName(),
		ConnectionID: conn.ID(),
		LastSeen:     time.Now(),
	}

	if cameOnline {
		metrics.OnlineUsers.Set(float64(len(r.entries)))
	}
	metrics.OpenConnections.Inc()
	return cameOnline
}

// RecordDisconnect removes the connection and reports whether the user
// transitioned online->offline. The presence entry survives as long as
// any other connection for the user remains.
func (r *Registry) RecordDisconnect(conn interfaces.Conn) (wentOffline bool) {
	userID := conn.UserID()

	r.mu.Lock()
	defer r.mu.Unlock()

	conns, exists := r.connsByUser[userID]
	if !exists {
		return false
	}
	if _, tracked := conns[conn.ID()]; !tracked {
		return false
	}
	delete(conns, conn.ID())
	metrics.OpenConnections.Dec()

	if len(conns) > 0 {
		if entry := r.entries[userID]; entry != nil && entry.ConnectionID == conn.ID() {
			// Displayed connection left; promote any surviving one.
			for id := range conns {
				entry.ConnectionID = id
				entry.LastSeen = time.Now()
				break
			}
		}
		return false
	}

	delete(r.connsByUser, userID)
	delete(r.entries, userID)
	metrics.OnlineUsers.Set(float64(len(r.entries)))
	return true
}

// Snapshot returns a stable copy of the current presence list, sorted by
// user id.
func (r *Registry) Snapshot() []types.PresenceEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.PresenceEntry, 0, len(r.entries))
	for _, entry := range r.entries {
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Count returns the number of distinct online users.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Online reports whether the user has at least one live connection.
func (r *Registry) Online(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connsByUser[userID]) > 0
}

// Connections returns the user's live connections.
func (r *Registry) Connections(userID string) []interfaces.Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.connsByUser[userID]
	out := make([]interfaces.Conn, 0, len(conns))
	for _, c := range conns {
		out = append(out, c)
	}
	return out
}
