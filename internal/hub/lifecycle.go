package hub

import (
	"fmt"

	"svyaz/internal/models"
	"svyaz/internal/presence"
)

func (h *Hub) announce(conn presence.Conn, msg models.ClientMessage) ([]Outbound, error) {
	if msg.UserID == "" {
		return nil, fmt.Errorf("%w: announce without user id", ErrInvalidEvent)
	}
	users, conns := h.presence.SetOnline(msg.UserID, conn)
	h.metrics.SetOnlineUsers(len(users))
	return broadcast(users, conns), nil
}

// Disconnect unbinds conn and returns the presence broadcast. Call sessions
// are kept so the user can rejoin after reconnecting.
func (h *Hub) Disconnect(conn presence.Conn) []Outbound {
	_, users, conns, removed := h.presence.SetOffline(conn.ID())
	if !removed {
		return nil
	}
	h.metrics.SetOnlineUsers(len(users))
	return broadcast(users, conns)
}

// Leave disconnects conn and delivers the presence broadcast.
func (h *Hub) Leave(conn presence.Conn) {
	h.broadcastMu.Lock()
	defer h.broadcastMu.Unlock()
	h.Deliver(h.Disconnect(conn))
}

func broadcast(users []string, conns []presence.Conn) []Outbound {
	out := make([]Outbound, 0, len(conns))
	for _, c := range conns {
		out = append(out, Outbound{
			Conn: c,
			Msg: models.ServerMessage{
				Type:  models.ServerMessageTypeOnlineUsers,
				Users: users,
			},
		})
	}
	return out
}
