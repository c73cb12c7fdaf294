package ws

import (
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"coachline/internal/config"
	"coachline/internal/logging"
	"coachline/internal/presence"
	"coachline/internal/relay"
	"coachline/internal/room"
	"coachline/pkg/interfaces"
	"coachline/pkg/types"
)

// Handler owns the connection lifecycle: handshake authentication,
// presence registration, the per-connection read loop, and the dual
// (global + room-scoped) presence broadcasts around online/offline
// transitions.
type Handler struct {
	verifier interfaces.TokenVerifier
	registry *presence.Registry
	rooms    *room.Router
	relay    *relay.Relay
	cfg      config.WebSocketConfig
	upgrader websocket.Upgrader
}

// NewHandler wires the websocket handler.
func NewHandler(verifier interfaces.TokenVerifier, registry *presence.Registry, rooms *room.Router, rl *relay.Relay, cfg config.WebSocketConfig) *Handler {
	return &Handler{
		verifier: verifier,
		registry: registry,
		rooms:    rooms,
		relay:    rl,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: cfg.HandshakeTimeout,
			CheckOrigin:      func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP authenticates and admits a connection. The token is verified
// before the upgrade, so an unauthenticated socket never exists: no room
// event can be emitted or received prior to successful authentication.
// Failure is terminal for the attempt; the client reconnects with a
// fresh token.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return
	}

	identity, err := h.verifier.Verify(token)
	if err != nil {
		logging.Debug().Err(err).Msg("connection rejected")
		http.Error(w, "authentication failed", http.StatusUnauthorized)
		return
	}

	sock, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	conn := NewConnection(sock, identity, h.cfg.SendBuffer, h.cfg.WriteTimeout)
	cameOnline := h.registry.RecordConnect(conn)

	// The notification room stays joined for the whole session,
	// independent of which conversation the user has open.
	h.rooms.Join(conn, types.NotificationRoom(conn.UserID()))

	if cameOnline {
		h.emitPresence(conn, types.EventUserOnline, h.rooms.Rooms(conn))
	}

	logging.Info().
		Str("user_id", conn.UserID()).
		Str("connection_id", conn.ID()).
		Str("role", conn.Role()).
		Msg("connection established")

	go h.run(conn)
}

// run is the per-connection read loop with heartbeat monitoring. On exit
// the connection leaves every room and presence is updated, emitting the
// offline transition when this was the user's last connection.
func (h *Handler) run(conn *Connection) {
	defer h.teardown(conn)

	sock := conn.conn
	sock.SetReadLimit(types.MaxContentBytes + 4096)
	if err := sock.SetReadDeadline(time.Now().Add(h.cfg.ReadDeadline)); err != nil {
		return
	}
	sock.SetPongHandler(func(string) error {
		return sock.SetReadDeadline(time.Now().Add(h.cfg.ReadDeadline))
	})

	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ticker.C:
				if err := sock.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.cfg.WriteTimeout)); err != nil {
					return
				}
			case <-conn.ctx.Done():
				return
			}
		}
	}()

	for {
		kind, data, err := sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logging.Warn().Err(err).Str("user_id", conn.UserID()).Msg("websocket read error")
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}

		var event types.ClientEvent
		if err := json.Unmarshal(data, &event); err != nil {
			h.sendError(conn, "", "malformed event")
			continue
		}
		h.dispatch(conn, event)
	}
}

func (h *Handler) dispatch(conn *Connection, event types.ClientEvent) {
	ctx := conn.ctx

	switch event.Event {
	case types.EventJoinRoom:
		// Unauthorized joins fail silently; room semantics live in the
		// relay's participant check.
		if err := h.relay.Authorize(ctx, conn, event.RoomID); err != nil {
			logging.Debug().
				Err(err).
				Str("user_id", conn.UserID()).
				Str("room_id", event.RoomID).
				Msg("join refused")
			return
		}
		h.rooms.Join(conn, event.RoomID)
		if _, ok := types.ParseConversationRoom(event.RoomID); ok {
			h.replayHistory(conn, event.RoomID)
		}

	case types.EventLeaveRoom:
		h.rooms.Leave(conn, event.RoomID)

	case types.EventSendMessage:
		if _, err := h.relay.Send(ctx, conn, event.RoomID, event.Content); err != nil {
			// The sender must be able to tell a failed send from a
			// delivered one.
			h.sendError(conn, event.Event, err.Error())
		}

	case types.EventTypingStart, types.EventTypingStop:
		active := event.Event == types.EventTypingStart
		if err := h.relay.Typing(ctx, conn, event.RoomID, active); err != nil {
			logging.Debug().Err(err).Str("user_id", conn.UserID()).Msg("typing event dropped")
		}

	case types.EventMessageDelivered, types.EventMessageViewed:
		status := types.StatusDelivered
		if event.Event == types.EventMessageViewed {
			status = types.StatusViewed
		}
		if err := h.relay.Acknowledge(ctx, conn, event.RoomID, event.MessageID, status); err != nil {
			h.sendError(conn, event.Event, err.Error())
		}

	default:
		h.sendError(conn, event.Event, "unknown event type")
	}
}

func (h *Handler) teardown(conn *Connection) {
	formerRooms := h.rooms.LeaveAll(conn)
	wentOffline := h.registry.RecordDisconnect(conn)
	_ = conn.Close()

	if wentOffline {
		h.emitPresence(conn, types.EventUserOffline, formerRooms)
	}

	logging.Info().
		Str("user_id", conn.UserID()).
		Str("connection_id", conn.ID()).
		Msg("connection closed")
}

// emitPresence performs the dual notification on a presence transition:
// a global snapshot for dashboards plus a scoped event to every room the
// user belonged to, for conversation participants.
func (h *Handler) emitPresence(conn *Connection, event string, roomIDs []string) {
	snapshot := h.registry.Snapshot()
	h.rooms.BroadcastAll(types.EventOnlineUsers, types.OnlineUsersPayload{
		Count: len(snapshot),
		Users: snapshot,
	})
	for _, roomID := range roomIDs {
		h.rooms.Broadcast(roomID, event, types.PresencePayload{
			UserID:      conn.UserID(),
			DisplayName: conn.DisplayName(),
			RoomID:      roomID,
		}, conn.ID())
	}
}

func (h *Handler) replayHistory(conn *Connection, roomID string) {
	messages, err := h.relay.History(conn.ctx, roomID)
	if err != nil {
		logging.Warn().Err(err).Str("room_id", roomID).Msg("history replay failed")
		return
	}
	if err := conn.Send(types.EventRoomHistory, messages); err != nil {
		logging.Warn().Err(err).Str("room_id", roomID).Msg("failed to send history")
	}
}

func (h *Handler) sendError(conn *Connection, event, message string) {
	if err := conn.Send(types.EventError, types.ErrorPayload{Event: event, Message: message}); err != nil {
		logging.Debug().Err(err).Str("user_id", conn.UserID()).Msg("failed to send error event")
	}
}

func bearerToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return token
	}
	return ""
}
