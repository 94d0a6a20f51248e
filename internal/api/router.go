package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/isdelr/ender-auth/internal/api/handlers"
	"github.com/isdelr/ender-auth/internal/auth"
	"github.com/isdelr/ender-auth/internal/services"
	"github.com/isdelr/ender-auth/internal/websocket"
)

// Options holds the optional parts of the router.
type Options struct {
	// Origins allowed for CORS and for websocket upgrades.
	AllowedOrigins []string
	// Hub mounts GET /me/stream when set.
	Hub *websocket.Hub
	// Throttle limits register and login attempts; nil disables it.
	Throttle *auth.Throttle
	// TrustProxyHeaders takes the client address from X-Forwarded-For and
	// X-Real-IP. Only enable it behind a proxy that overwrites them.
	TrustProxyHeaders bool
}

// NewRouter creates and configures a new Chi router.
func NewRouter(authService services.AuthServiceProvider, eventService services.EventServiceProvider, opts Options) *chi.Mux {
	r := chi.NewRouter()

	// Basic middleware stack
	r.Use(middleware.RequestID)
	if opts.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Bearer tokens travel in a header, so no credentials (cookies) are allowed.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(authService)
	eventHandler := handlers.NewEventHandler(eventService)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/auth", func(r chi.Router) {
		r.With(opts.Throttle.Middleware).Post("/register", authHandler.Register)
		r.With(opts.Throttle.Middleware).Post("/login", authHandler.Login)
		r.With(auth.Middleware(authService)).Post("/logout", authHandler.Logout)
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(authService))
		r.Get("/me", authHandler.Me)
		r.Get("/me/events", eventHandler.GetMine)
		if opts.Hub != nil {
			r.Get("/me/stream", handlers.NewStreamHandler(opts.Hub, opts.AllowedOrigins).Serve)
		}
	})

	return r
}
