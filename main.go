package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/isdelr/ender-auth/internal/api"
	"github.com/isdelr/ender-auth/internal/auth"
	"github.com/isdelr/ender-auth/internal/config"
	"github.com/isdelr/ender-auth/internal/database"
	"github.com/isdelr/ender-auth/internal/logger"
	"github.com/isdelr/ender-auth/internal/maintenance"
	"github.com/isdelr/ender-auth/internal/services"
	"github.com/isdelr/ender-auth/internal/websocket"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel)

	// Set up database
	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply database migrations")
	}

	// Set up WebSocket Hub
	hubCtx, stopHub := context.WithCancel(context.Background())
	hub := websocket.NewHub()
	go hub.Run(hubCtx)

	// Set up services
	userService := services.NewUserService(db, cfg.BcryptCost)
	tokenService := services.NewTokenService(db, cfg.TokenTTL, hub)
	eventService := services.NewEventService(db, hub)
	authService := services.NewAuthService(userService, tokenService, eventService, services.AuthOptions{
		SingleSession: cfg.SingleSession,
	})

	// Set up and run the background token pruner
	pruner, err := maintenance.NewTokenPruner(tokenService, cfg.TokenPruneSchedule)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to configure token pruner")
	}
	pruner.Start()

	// Set up router
	router := api.NewRouter(authService, eventService, api.Options{
		AllowedOrigins:    cfg.CORSAllowedOrigins,
		Hub:               hub,
		Throttle:          auth.NewThrottle(cfg.AuthRateLimit),
		TrustProxyHeaders: cfg.TrustProxyHeaders,
	})

	// Set up server
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Info().Int("port", cfg.ServerPort).Bool("single_session", cfg.SingleSession).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("ListenAndServe failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	pruner.Stop()
	stopHub()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exiting")
}
