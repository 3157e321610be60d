package main

import (
	"context"
	"errors"
	"flag"
	"log"
	oshttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"svyaz/internal/auth"
	"svyaz/internal/calls"
	"svyaz/internal/commands"
	"svyaz/internal/config"
	"svyaz/internal/http"
	"svyaz/internal/hub"
	"svyaz/internal/metrics"
	"svyaz/internal/presence"
	"svyaz/internal/push"
	"svyaz/internal/storage"
	"svyaz/internal/ws"

	"golang.org/x/sync/errgroup"
)

func run(ctx context.Context, addUser string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if addUser != "" {
		return commands.AddUser(addUser, cfg)
	}

	bbStorage, err := storage.NewBboltStorage(cfg.DBFile)
	if err != nil {
		return err
	}
	defer func() { _ = bbStorage.Close() }()

	authService, err := auth.NewAuthService(ctx, auth.Config{TokenExpiry: cfg.TokenExpiry}, bbStorage)
	if err != nil {
		return err
	}

	m, err := metrics.New("svyaz")
	if err != nil {
		return err
	}

	opts := []hub.Option{hub.WithMetrics(m)}

	pushConfig := push.Config{
		VAPIDPublicKey:  cfg.VAPIDPublicKey,
		VAPIDPrivateKey: cfg.VAPIDPrivateKey,
		Subscriber:      cfg.VAPIDSubject,
		BaseURL:         cfg.BaseURL,
	}
	if err := pushConfig.Validate(); err != nil {
		return err
	}
	if pushConfig.Enabled() {
		opts = append(opts, hub.WithNotifier(push.NewNotifier(pushConfig, bbStorage, authService)))
		log.Println("Web Push notifications enabled")
	}

	h := hub.New(hub.Config{
		AudioCallLabel:  cfg.AudioCallLabel,
		VideoCallLabel:  cfg.VideoCallLabel,
		StrictPairCalls: cfg.StrictPairCalls,
	}, presence.NewRegistry(), calls.NewRegistry(), bbStorage, opts...)

	g, gCtx := errgroup.WithContext(ctx)

	wsServer := ws.NewServer(authService, h, cfg.OutboundBuffer)
	adminServer := http.NewAdminServer(authService, h, m.Handler(), cfg.BaseURL, cfg.AdminAddr)
	apiServer := http.NewAPIServer(gCtx, authService, bbStorage, h.Presence(), wsServer, cfg.VAPIDPublicKey, cfg.APIAddr)

	// Start Admin Server
	g.Go(func() error {
		err := adminServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	// Start API Server
	g.Go(func() error {
		err := apiServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	// Wait for context cancellation (signal)
	g.Go(func() error {
		<-gCtx.Done()
		log.Println("Shutting down servers...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Admin server shutdown error: %v", err)
		}
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("API server shutdown error: %v", err)
		}
		return nil
	})

	return g.Wait()
}

func main() {
	addUser := flag.String("add-user", "", "Username to create (creates user with random password and prints details)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *addUser); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Application error: %v", err)
	}
}
