package ws

import (
	"log"
	"net/http"

	"svyaz/internal/models"

	"github.com/gorilla/websocket"
)

const TokenName = "token"

type authenticator interface {
	GetUserID(token string) (string, error)
	GetUser(id string) (models.User, bool)
}

type Server struct {
	auth       authenticator
	hub        messageHub
	upgrader   *websocket.Upgrader
	bufferSize int
}

func NewServer(auth authenticator, hub messageHub, bufferSize int) *Server {
	return &Server{
		auth:       auth,
		hub:        hub,
		bufferSize: bufferSize,
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Token extracts the session token from the header, cookie or query string,
// in that order. Browsers cannot set headers on websocket upgrades.
func Token(r *http.Request) string {
	if token := r.Header.Get(TokenName); token != "" {
		return token
	}
	if cookie, err := r.Cookie(TokenName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return r.URL.Query().Get(TokenName)
}

func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, err := s.auth.GetUserID(Token(r))
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	user, ok := s.auth.GetUser(userID)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("error upgrading to websocket: %v", err)
		return
	}

	conn := NewConnection(s.hub, ws, user, s.bufferSize)
	if err := conn.Handle(r.Context()); err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		log.Printf("websocket connection %s of user %s closed: %v", conn.ID(), userID, err)
	}
}
