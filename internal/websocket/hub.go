package websocket

import (
	"context"
	"encoding/json"

	"github.com/isdelr/ender-auth/internal/models"
	"github.com/rs/zerolog/log"
)

const publishBuffer = 64

type delivery struct {
	userID  string
	message []byte
}

// revocation names the clients to disconnect: those opened with tokenID, or
// every client of userID.
type revocation struct {
	tokenID string
	userID  string
}

// Hub maintains the set of active clients and fans auth events out to the
// connections of the user they belong to.
type Hub struct {
	// Registered clients.
	clients map[*Client]bool

	// A map of user IDs to the set of clients connected as that user.
	subscriptions map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	publish    chan delivery
	revoke     chan revocation
	done       chan struct{}
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		clients:       make(map[*Client]bool),
		subscriptions: make(map[string]map[*Client]bool),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		publish:       make(chan delivery, publishBuffer),
		revoke:        make(chan revocation),
		done:          make(chan struct{}),
	}
}

// Run starts the Hub's message processing loop. It closes every client when
// ctx ends.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.drop(client)
			}
			log.Info().Msg("Event stream hub stopped")
			return
		case client := <-h.register:
			h.clients[client] = true
			h.addSubscription(client)
			log.Info().Int("total_clients", len(h.clients)).Str("user_id", client.UserID).Msg("Client connected")
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.drop(client)
				log.Info().Int("total_clients", len(h.clients)).Str("user_id", client.UserID).Msg("Client disconnected")
			}
		case rv := <-h.revoke:
			for client := range h.clients {
				if (rv.tokenID != "" && client.TokenID == rv.tokenID) || (rv.userID != "" && client.UserID == rv.userID) {
					h.drop(client)
					log.Info().Str("user_id", client.UserID).Str("token_id", client.TokenID).Msg("Closed stream of revoked token")
				}
			}
		case d := <-h.publish:
			for client := range h.subscriptions[d.userID] {
				select {
				case client.Send <- d.message:
				default:
					// Slow consumer.
					h.drop(client)
				}
			}
		}
	}
}

// Register adds a client. It reports false once the hub has stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client and closes its Send channel.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// TokenRevoked closes every stream opened with tokenID. It returns once the
// hub has dropped them, so no later event reaches those streams.
func (h *Hub) TokenRevoked(tokenID string) {
	h.sendRevocation(revocation{tokenID: tokenID})
}

// UserTokensRevoked closes every stream of userID.
func (h *Hub) UserTokensRevoked(userID string) {
	h.sendRevocation(revocation{userID: userID})
}

func (h *Hub) sendRevocation(rv revocation) {
	select {
	case h.revoke <- rv:
	case <-h.done:
	}
}

// NotifyEvent queues event for every connection of its user. Events without a
// user are not streamed. It never blocks: when the queue is full the event is
// dropped, it remains available from the event log.
func (h *Hub) NotifyEvent(event models.Event) {
	if event.UserID == nil {
		return
	}
	message, err := json.Marshal(NewEventMessage(event))
	if err != nil {
		log.Error().Err(err).Str("event_id", event.ID).Msg("Error encoding event message")
		return
	}

	select {
	case h.publish <- delivery{userID: *event.UserID, message: message}:
	case <-h.done:
	default:
		log.Warn().Str("event_id", event.ID).Msg("Event stream queue full, dropping event")
	}
}

func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	h.removeSubscription(client)
	close(client.Send)
}

func (h *Hub) addSubscription(client *Client) {
	if h.subscriptions[client.UserID] == nil {
		h.subscriptions[client.UserID] = make(map[*Client]bool)
	}
	h.subscriptions[client.UserID][client] = true
}

func (h *Hub) removeSubscription(client *Client) {
	subs, ok := h.subscriptions[client.UserID]
	if !ok {
		return
	}
	delete(subs, client)
	if len(subs) == 0 {
		delete(h.subscriptions, client.UserID)
	}
}
