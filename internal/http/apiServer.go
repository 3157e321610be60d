package http

import (
	"context"
	"log"
	"net"
	"net/http"
	"sync"

	"svyaz/internal/api"
	"svyaz/internal/auth"
	"svyaz/internal/ws"
)

type APIServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

// NewAPIServer builds the client-facing server. Requests, websocket sessions
// included, are canceled together with ctx.
func NewAPIServer(ctx context.Context, authService *auth.AuthService, store api.MessageStore, presence api.PresenceView, wsServer *ws.Server, vapidPublicKey, addr string) *APIServer {
	apiHandlers := api.New(authService, store, presence, vapidPublicKey)

	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/login", apiHandlers.LoginHandler)
	mux.HandleFunc("POST /api/logoff", apiHandlers.LogoffHandler)
	mux.HandleFunc("POST /api/register", apiHandlers.RegisterHandler)
	mux.HandleFunc("GET /api/me", apiHandlers.RequireAuth(apiHandlers.MeHandler))
	mux.HandleFunc("GET /api/users", apiHandlers.RequireAuth(apiHandlers.UsersHandler))
	mux.HandleFunc("GET /api/messages", apiHandlers.RequireAuth(apiHandlers.MessagesHandler))
	mux.HandleFunc("POST /api/messages/read", apiHandlers.RequireAuth(apiHandlers.MarkReadHandler))
	mux.HandleFunc("GET /api/push/key", apiHandlers.PushKeyHandler)
	mux.HandleFunc("POST /api/push/subscribe", apiHandlers.RequireAuth(apiHandlers.PushSubscribeHandler))

	// WebSocket endpoint
	mux.HandleFunc("/api/ws", wsServer.HandleConnections)

	if addr == "" {
		addr = ":8080"
	}

	return &APIServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
			BaseContext: func(net.Listener) context.Context {
				return ctx
			},
		},
	}
}

func (s *APIServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *APIServer) Start() error {
	log.Printf("Server started on %s", s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *APIServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
