package websocket

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/isdelr/ender-auth/internal/models"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 16
)

// Client is one websocket connection of an authenticated user, bound to the
// token that opened it.
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	Send      chan []byte
	UserID    string
	TokenID   string
	expiresAt *time.Time
}

// NewClient creates a Client for token. The caller registers it with the hub
// and then attaches the connection with Start.
func NewClient(hub *Hub, token models.AccessToken) *Client {
	return &Client{
		hub:       hub,
		Send:      make(chan []byte, sendBuffer),
		UserID:    token.UserID,
		TokenID:   token.ID,
		expiresAt: token.ExpiresAt,
	}
}

// Start attaches conn and runs both pumps.
func (c *Client) Start(conn *websocket.Conn) {
	c.conn = conn
	go c.WritePump()
	go c.ReadPump()
}

// ReadPump drains inbound frames until the connection fails, then
// unregisters the client. The stream is one-way, so payloads are ignored.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("user_id", c.UserID).Msg("Websocket closed unexpectedly")
			}
			return
		}
	}
}

// WritePump forwards queued messages and keeps the connection alive with
// pings. It returns when Send is closed, a write fails or the token expires.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	var expired <-chan time.Time
	if c.expiresAt != nil {
		timer := time.NewTimer(time.Until(*c.expiresAt))
		defer timer.Stop()
		expired = timer.C
	}

	for {
		select {
		case <-expired:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "token expired"))
			return
		case message, ok := <-c.Send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().Err(err).Str("user_id", c.UserID).Msg("Websocket write failed")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
