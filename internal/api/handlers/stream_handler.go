package handlers

import (
	"net/http"
	"slices"

	"github.com/gorilla/websocket"
	"github.com/isdelr/ender-auth/internal/auth"
	"github.com/isdelr/ender-auth/internal/services"
	ws "github.com/isdelr/ender-auth/internal/websocket"
	"github.com/rs/zerolog/log"
)

// StreamHandler upgrades authenticated requests to a websocket that carries
// the caller's auth events as they happen. The stream lives no longer than
// the token that opened it.
type StreamHandler struct {
	hub      *ws.Hub
	upgrader websocket.Upgrader
}

// NewStreamHandler creates a new StreamHandler. Browser origins must be in
// allowedOrigins ("*" allows any); requests without an Origin header pass.
func NewStreamHandler(hub *ws.Hub, allowedOrigins []string) *StreamHandler {
	return &StreamHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || slices.Contains(allowedOrigins, "*") || slices.Contains(allowedOrigins, origin)
			},
		},
	}
}

// Serve handles the WebSocket connection request.
func (h *StreamHandler) Serve(w http.ResponseWriter, r *http.Request) {
	token, ok := auth.TokenFrom(r.Context())
	if !ok {
		writeError(w, r, services.ErrUnauthenticated)
		return
	}

	// Registered before the handshake completes, so a revocation that follows
	// the upgrade response always finds this client.
	client := ws.NewClient(h.hub, token)
	if !h.hub.Register(client) {
		writeMessage(w, http.StatusServiceUnavailable, "Server shutting down.")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade websocket connection")
		h.hub.Unregister(client)
		return
	}
	client.Start(conn)
}
