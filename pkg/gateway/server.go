package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"github.com/ternhq/tern/pkg/agent"
	"github.com/ternhq/tern/pkg/events"
	"github.com/ternhq/tern/pkg/handoff"
	"github.com/ternhq/tern/pkg/protocol"
	"github.com/ternhq/tern/pkg/runner"
	"github.com/ternhq/tern/pkg/session"
)

// Server is the websocket transport adapter. It owns connection lifecycle
// and framing; all session semantics live behind the runner, coordinator
// and store it delegates to.
type Server struct {
	heartbeat      time.Duration
	upgrader       websocket.Upgrader
	clients        *ClientRegistry
	store          *session.Store
	runner         *runner.Runner
	coordinator    *handoff.Coordinator
	agents         *agent.Registry
	events         *events.Registry
	logger         zerolog.Logger
	isShuttingDown bool
	shutdownMu     sync.RWMutex
	connWG         sync.WaitGroup
}

// Config holds server configuration.
type Config struct {
	Store             *session.Store
	Runner            *runner.Runner
	Coordinator       *handoff.Coordinator
	Agents            *agent.Registry
	Events            *events.Registry
	HeartbeatInterval time.Duration
	Logger            zerolog.Logger
}

// NewServer creates a websocket gateway server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if cfg.Coordinator == nil {
		return nil, fmt.Errorf("handoff coordinator is required")
	}
	if cfg.Agents == nil {
		return nil, fmt.Errorf("agent registry is required")
	}
	if cfg.Events == nil {
		return nil, fmt.Errorf("event registry is required")
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}

	return &Server{
		heartbeat:   cfg.HeartbeatInterval,
		clients:     NewClientRegistry(),
		store:       cfg.Store,
		runner:      cfg.Runner,
		coordinator: cfg.Coordinator,
		agents:      cfg.Agents,
		events:      cfg.Events,
		logger:      cfg.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}, nil
}

// HandleWS upgrades an HTTP request to a websocket connection. A chat_id
// query parameter attaches the connection to an existing session; otherwise
// the client is expected to send chat:start.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	s.shutdownMu.RLock()
	if s.isShuttingDown {
		s.shutdownMu.RUnlock()
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.shutdownMu.RUnlock()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	clientID, _ := gonanoid.New()
	client := &Client{
		ID:           clientID,
		Conn:         conn,
		ConnectedAt:  time.Now(),
		LastActivity: time.Now(),
	}
	s.clients.Add(client)

	s.logger.Info().
		Str("client_id", clientID).
		Str("ip", r.RemoteAddr).
		Msg("Client connected")

	if chatID := r.URL.Query().Get("chat_id"); chatID != "" {
		if err := s.attach(client, chatID); err != nil {
			s.sendError(client, protocol.NewAPIError(
				protocol.CodeSessionNotFound, "unknown chat: %s", chatID))
			conn.Close()
			s.clients.Remove(clientID)
			return
		}
	}

	s.connWG.Add(1)
	go s.handleClient(client)
}

// attach binds the client to an existing session and routes its events to
// this connection. A later connection for the same chat takes over event
// delivery from an earlier one.
func (s *Server) attach(client *Client, chatID string) error {
	if _, err := s.store.Get(chatID); err != nil {
		return err
	}
	client.ChatID = chatID
	client.sink = newConnSink(client, s.logger)
	s.events.Bind(chatID, client.sink)
	return nil
}

// handleClient owns the read loop and heartbeat for one connection.
func (s *Server) handleClient(client *Client) {
	heartbeatDone := make(chan struct{})
	go s.heartbeatLoop(client, heartbeatDone)

	defer func() {
		close(heartbeatDone)
		client.Conn.Close()
		if client.ChatID != "" && client.sink != nil {
			// The session outlives the connection; only event delivery stops.
			s.events.Unbind(client.ChatID, client.sink)
		}
		s.clients.Remove(client.ID)
		s.connWG.Done()
		s.logger.Info().
			Str("client_id", client.ID).
			Str("chat_id", client.ChatID).
			Msg("Client disconnected, session retained")
	}()

	for {
		_, message, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Error().Err(err).Str("client_id", client.ID).Msg("WebSocket error")
			}
			break
		}

		s.clients.UpdateActivity(client.ID)
		s.handleMessage(client, message)
	}
}

// heartbeatLoop sends a ping envelope on a fixed cadence until the
// connection goes away.
func (s *Server) heartbeatLoop(client *Client, done <-chan struct{}) {
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			err := client.WriteEnvelope(protocol.Envelope{
				Type:    protocol.EvtPing,
				Payload: map[string]interface{}{"timestamp": time.Now().UnixMilli()},
			})
			if err != nil {
				return
			}
		}
	}
}

// handleMessage decodes and dispatches a single inbound frame. Malformed
// frames and unknown types are logged and skipped; the connection stays up.
func (s *Server) handleMessage(client *Client, message []byte) {
	var env struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(message, &env); err != nil || env.Type == "" {
		s.logger.Warn().Str("client_id", client.ID).Msg("Malformed frame, skipping")
		return
	}

	if err := protocol.ValidatePayload(env.Type, env.Payload); err != nil {
		s.logger.Warn().
			Err(err).
			Str("client_id", client.ID).
			Str("type", env.Type).
			Msg("Invalid payload, skipping")
		return
	}

	switch env.Type {
	case protocol.MsgChatStart:
		s.handleChatStart(client, env.Payload)
	case protocol.MsgMessageSend:
		s.handleMessageSend(client, env.Payload)
	case protocol.MsgActionExecute:
		s.handleActionExecute(client, env.Payload)
	case protocol.MsgModelSwitch:
		s.handleModelSwitch(client, env.Payload)
	case protocol.MsgSkillToggle:
		s.handleSkillToggle(client, env.Payload)
	case protocol.MsgHandoffApprove:
		s.handleHandoffApprove(client)
	case protocol.MsgChatCancel:
		s.handleChatCancel(client)
	case protocol.MsgPing:
		s.handlePing(client)
	default:
		s.logger.Warn().
			Str("client_id", client.ID).
			Str("type", env.Type).
			Msg("Unknown message type, skipping")
	}
}

// sendError delivers an error envelope to the client.
func (s *Server) sendError(client *Client, apiErr *protocol.APIError) {
	err := client.WriteEnvelope(protocol.Envelope{
		Type:    protocol.EvtError,
		Payload: apiErr.Detail(),
	})
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("client_id", client.ID).
			Msg("Failed to send error frame")
	}
}

// GetConnectedClients returns information about all connected clients.
func (s *Server) GetConnectedClients() []ClientInfo {
	return s.clients.GetConnectedClients()
}

// Shutdown refuses new connections and closes the existing ones.
func (s *Server) Shutdown() {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	for _, client := range s.clients.All() {
		client.Conn.Close()
	}

	done := make(chan struct{})
	go func() {
		s.connWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.logger.Warn().Msg("Shutdown timeout waiting for connections")
	}
	s.logger.Info().Msg("Gateway stopped")
}
