// Package room manages membership of live connections in named broadcast
// groups and performs multicast emission. Rooms have no durable state;
// they are derived entirely from live membership and rebuilt as clients
// reconnect.
package room

import (
	"sync"

	"coachline/internal/logging"
	"coachline/pkg/interfaces"
	"coachline/pkg/types"
)

// Router is the broadcast fabric shared by the relay and the websocket
// handler. All mutations are synchronous under the lock; sends happen on
// collected member slices after the lock is released so a slow socket
// cannot stall membership changes.
type Router struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]interfaces.Conn
	joined map[string]map[string]struct{}
	conns  map[string]interfaces.Conn
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{
		rooms:  make(map[string]map[string]interfaces.Conn),
		joined: make(map[string]map[string]struct{}),
		conns:  make(map[string]interfaces.Conn),
	}
}

// Join adds the connection to the room. Idempotent. Authorization for
// conversation rooms is the relay's participant check; the router only
// tracks membership.
func (r *Router) Join(conn interfaces.Conn, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, exists := r.rooms[roomID]
	if !exists {
		members = make(map[string]interfaces.Conn)
		r.rooms[roomID] = members
	}
	members[conn.ID()] = conn

	rooms, exists := r.joined[conn.ID()]
	if !exists {
		rooms = make(map[string]struct{})
		r.joined[conn.ID()] = rooms
	}
	rooms[roomID] = struct{}{}
	r.conns[conn.ID()] = conn
}

// Leave removes the connection from the room. No-op for non-members.
func (r *Router) Leave(conn interfaces.Conn, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(conn.ID(), roomID)
}

// LeaveAll removes the connection from every room and forgets it,
// returning the room ids it belonged to. Used on disconnect: the caller
// emits the scoped offline events to the returned rooms.
func (r *Router) LeaveAll(conn interfaces.Conn) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	rooms := r.joined[conn.ID()]
	out := make([]string, 0, len(rooms))
	for roomID := range rooms {
		out = append(out, roomID)
	}
	for _, roomID := range out {
		r.leaveLocked(conn.ID(), roomID)
	}
	delete(r.conns, conn.ID())
	return out
}

func (r *Router) leaveLocked(connID, roomID string) {
	if members, exists := r.rooms[roomID]; exists {
		delete(members, connID)
		if len(members) == 0 {
			delete(r.rooms, roomID)
		}
	}
	if rooms, exists := r.joined[connID]; exists {
		delete(rooms, roomID)
		if len(rooms) == 0 {
			delete(r.joined, connID)
		}
	}
}

// Broadcast delivers the event to every current member of the room except
// the optionally excluded connection ids. Send failures are logged and do
// not stop delivery to the remaining members.
func (r *Router) Broadcast(roomID, event string, payload any, exclude ...string) {
	r.mu.RLock()
	members := make([]interfaces.Conn, 0, len(r.rooms[roomID]))
	for id, conn := range r.rooms[roomID] {
		if contains(exclude, id) {
			continue
		}
		members = append(members, conn)
	}
	r.mu.RUnlock()

	r.deliver(members, event, payload)
}

// BroadcastToUser delivers to every connection in the user's notification
// room, reaching all of the user's devices regardless of which
// conversation each has open.
func (r *Router) BroadcastToUser(userID, event string, payload any) {
	r.Broadcast(types.NotificationRoom(userID), event, payload)
}

// BroadcastAll delivers to every connection the router has seen join any
// room. Used for the global presence snapshot.
func (r *Router) BroadcastAll(event string, payload any) {
	r.mu.RLock()
	members := make([]interfaces.Conn, 0, len(r.conns))
	for _, conn := range r.conns {
		members = append(members, conn)
	}
	r.mu.RUnlock()

	r.deliver(members, event, payload)
}

// Rooms returns the rooms the connection currently belongs to.
func (r *Router) Rooms(conn interfaces.Conn) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.joined[conn.ID()]))
	for roomID := range r.joined[conn.ID()] {
		out = append(out, roomID)
	}
	return out
}

// Members returns the current member count of a room.
func (r *Router) Members(roomID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[roomID])
}

// InRoom reports whether the connection is a member of the room.
func (r *Router) InRoom(conn interfaces.Conn, roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.joined[conn.ID()][roomID]
	return ok
}

func (r *Router) deliver(members []interfaces.Conn, event string, payload any) {
	for _, conn := range members {
		if err := conn.Send(event, payload); err != nil {
			logging.Warn().
				Err(err).
				Str("event", event).
				Str("user_id", conn.UserID()).
				Str("connection_id", conn.ID()).
				Msg("failed to deliver event")
		}
	}
}

func contains(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
