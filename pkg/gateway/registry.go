package gateway

import (
	"sync"
	"time"

	"github.com/ternhq/tern/internal/observability"
)

const idleThreshold = 5 * time.Minute

// ClientRegistry is the connection table. It owns membership only; the
// chat binding on each client is managed by the server's handlers.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{
		clients: make(map[string]*Client),
	}
}

// Add registers a client and updates the connected-clients gauge.
func (r *ClientRegistry) Add(client *Client) {
	r.mu.Lock()
	r.clients[client.ID] = client
	count := len(r.clients)
	r.mu.Unlock()

	observability.SetConnectedClients(count)
}

// Remove drops a client and updates the connected-clients gauge.
func (r *ClientRegistry) Remove(clientID string) {
	r.mu.Lock()
	delete(r.clients, clientID)
	count := len(r.clients)
	r.mu.Unlock()

	observability.SetConnectedClients(count)
}

// All returns every connected client.
func (r *ClientRegistry) All() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clients := make([]*Client, 0, len(r.clients))
	for _, client := range r.clients {
		clients = append(clients, client)
	}
	return clients
}

// GetConnectedClients returns a point-in-time view of every connection,
// flagging those with no traffic for idleThreshold.
func (r *ClientRegistry) GetConnectedClients() []ClientInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := time.Now()
	infos := make([]ClientInfo, 0, len(r.clients))
	for _, client := range r.clients {
		infos = append(infos, ClientInfo{
			ID:           client.ID,
			ChatID:       client.ChatID,
			ConnectedAt:  client.ConnectedAt,
			LastActivity: client.LastActivity,
			Idle:         now.Sub(client.LastActivity) > idleThreshold,
		})
	}
	return infos
}

// UpdateActivity stamps a client's last activity time.
func (r *ClientRegistry) UpdateActivity(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if client, exists := r.clients[clientID]; exists {
		client.LastActivity = time.Now()
	}
}
