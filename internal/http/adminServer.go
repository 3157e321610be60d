package http

import (
	"context"
	"log"
	"net/http"
	"sync"

	"svyaz/internal/api"
	"svyaz/internal/auth"
)

type AdminServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

// NewAdminServer serves user provisioning, stats and metrics. It must only be
// reachable from trusted hosts.
func NewAdminServer(authService *auth.AuthService, stats api.StatsSource, metrics http.Handler, baseURL, addr string) *AdminServer {
	adminHandler := api.NewAdminHandler(authService, stats, baseURL)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /admin/users", adminHandler.AddUserHandler)
	mux.HandleFunc("GET /admin/stats", adminHandler.StatsHandler)
	mux.Handle("GET /metrics", metrics)

	if addr == "" {
		addr = "localhost:8081"
	}

	return &AdminServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

func (s *AdminServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *AdminServer) Start() error {
	log.Printf("Admin API started on %s", s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *AdminServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
