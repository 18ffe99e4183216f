package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternhq/tern/pkg/events"
	"github.com/ternhq/tern/pkg/protocol"
)

// Client is one websocket connection. A client serves at most one chat at a
// time; ChatID is empty until chat:start or an attach succeeds.
type Client struct {
	ID           string
	ChatID       string
	Conn         *websocket.Conn
	ConnectedAt  time.Time
	LastActivity time.Time

	sink    events.Sink
	writeMu sync.Mutex
}

// WriteEnvelope serializes one frame to the connection. gorilla/websocket
// allows a single concurrent writer, so all writes go through this lock.
func (c *Client) WriteEnvelope(env protocol.Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.Conn.WriteJSON(env)
}

// ClientInfo is a read-only snapshot of a connected client.
type ClientInfo struct {
	ID           string    `json:"id"`
	ChatID       string    `json:"chatId,omitempty"`
	ConnectedAt  time.Time `json:"connectedAt"`
	LastActivity time.Time `json:"lastActivity"`
	Idle         bool      `json:"idle"`
}
