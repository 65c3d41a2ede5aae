package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"studio-sync/internal/config"
	"studio-sync/internal/handler"
	"studio-sync/internal/repository"
	"studio-sync/internal/service"
	"studio-sync/internal/websocket"
	"studio-sync/pkg/jwt"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:           "studio-sync",
		Short:         "Sync state coordinator for studio workspaces",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
	root.AddCommand(newTokenCommand())

	if err := root.Execute(); err != nil {
		log.Fatalf("%v", err)
	}
}

func serve() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Logging.Level == "debug" {
		log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := repository.OpenBlobStore(ctx, cfg.StoreOptions())
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.Store.Backend, err)
	}
	defer closeStore()

	wsManager := websocket.NewManager(
		cfg.WebSocket.MaxConnPerUser,
		cfg.WebSocket.WriteWait,
		cfg.WebSocket.PongWait,
		cfg.WebSocket.PingPeriod,
		cfg.WebSocket.MaxMessageSize,
	)
	go wsManager.Run(ctx)

	coordinator := service.NewSyncCoordinator(store, cfg.Sync.StateKey,
		service.WithActiveThreshold(cfg.Sync.ActiveThreshold),
		service.WithRetryBudget(cfg.Sync.MaxAttempts, cfg.Sync.BackoffInitial, cfg.Sync.BackoffMax),
		service.WithBroadcaster(wsManager),
	)
	wsManager.SetMessageHandler(handler.NewPresenceMessageHandler(coordinator, wsManager))

	router := handler.NewRouter(handler.RouterConfig{
		Sync: handler.NewSyncHandler(coordinator),
		WebSocket: handler.NewWebSocketHandler(wsManager, cfg.JWTSecret(),
			cfg.WebSocket.ReadBufferSize, cfg.WebSocket.WriteBufferSize),
		JWTSecret:      cfg.JWTSecret(),
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		AllowedMethods: cfg.CORS.AllowedMethods,
		AllowedHeaders: cfg.CORS.AllowedHeaders,
	})

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)

	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("Starting Studio Sync Server on %s (env: %s, store: %s, auth: %t)",
			addr, cfg.Server.Env, cfg.Store.Backend, cfg.Auth.Enabled)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("server failed to start: %w", err)
	case <-ctx.Done():
	}

	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("Server stopped gracefully")
	return nil
}

// newTokenCommand issues bearer tokens for agents when auth is enabled.
func newTokenCommand() *cobra.Command {
	var refresh bool

	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue a bearer token for an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if cfg.Auth.JWTSecret == "" {
				return errors.New("JWT_SECRET is not set")
			}

			var token string
			if refresh {
				token, err = jwt.GenerateRefreshToken(args[0], cfg.Auth.JWTRefreshExpiration, cfg.Auth.JWTSecret)
			} else {
				token, err = jwt.GenerateToken(args[0], cfg.Auth.JWTExpiration, cfg.Auth.JWTSecret)
			}
			if err != nil {
				return fmt.Errorf("failed to issue token: %w", err)
			}

			fmt.Fprintln(os.Stdout, token)
			return nil
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "issue a long-lived refresh token")

	return cmd
}
