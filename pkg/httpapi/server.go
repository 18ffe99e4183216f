package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/ternhq/tern/internal/observability"
	"github.com/ternhq/tern/internal/tracing"
	"github.com/ternhq/tern/pkg/agent"
	"github.com/ternhq/tern/pkg/events"
	"github.com/ternhq/tern/pkg/gateway"
	"github.com/ternhq/tern/pkg/handoff"
	"github.com/ternhq/tern/pkg/protocol"
	"github.com/ternhq/tern/pkg/runner"
	"github.com/ternhq/tern/pkg/session"
)

// ClientLister reports the gateway's live connections for the admin
// surface.
type ClientLister interface {
	GetConnectedClients() []gateway.ClientInfo
}

// Server is the REST and SSE transport adapter. It shares all session
// semantics with the websocket gateway; only framing differs.
type Server struct {
	store       *session.Store
	runner      *runner.Runner
	coordinator *handoff.Coordinator
	agents      *agent.Registry
	events      *events.Registry
	wsHandler   http.HandlerFunc
	clients     ClientLister
	logger      zerolog.Logger
}

// Config holds server dependencies. WSHandler and Clients are optional;
// without them the websocket mount and the connections listing are absent.
type Config struct {
	Store       *session.Store
	Runner      *runner.Runner
	Coordinator *handoff.Coordinator
	Agents      *agent.Registry
	Events      *events.Registry
	WSHandler   http.HandlerFunc
	Clients     ClientLister
	Logger      zerolog.Logger
}

// NewServer creates the HTTP API server.
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

	return &Server{
		store:       cfg.Store,
		runner:      cfg.Runner,
		coordinator: cfg.Coordinator,
		agents:      cfg.Agents,
		events:      cfg.Events,
		wsHandler:   cfg.WSHandler,
		clients:     cfg.Clients,
		logger:      cfg.Logger,
	}, nil
}

// Handler returns the route table for the API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/chats", s.handleCreateChat)
	mux.HandleFunc("GET /v1/chats/{id}", s.handleGetChat)
	mux.HandleFunc("POST /v1/chats/{id}/messages", s.handleSendMessage)
	mux.HandleFunc("GET /v1/chats/{id}/artifacts", s.handleListArtifacts)
	mux.HandleFunc("POST /v1/chats/{id}/actions", s.handleExecuteAction)
	mux.HandleFunc("POST /v1/chats/{id}/handoff", s.handleHandoff)

	if s.wsHandler != nil {
		mux.HandleFunc("GET /v1/ws", s.wsHandler)
	}
	if s.clients != nil {
		mux.HandleFunc("GET /v1/clients", s.handleListClients)
	}

	mux.Handle("GET /metrics", observability.MetricsHandler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	return mux
}

func (s *Server) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	var req protocol.StartChat
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorStatus(w, http.StatusBadRequest, protocol.NewAPIError(
			protocol.CodeActionFailed, "invalid request body: %v", err))
		return
	}

	if !s.agents.Has(req.AgentType) {
		s.writeError(w, protocol.NewAPIError(
			protocol.CodeAgentNotFound, "unknown agent type: %s", req.AgentType))
		return
	}

	sess := s.store.Create(session.CreateParams{
		AgentType:      req.AgentType,
		Model:          req.Model.ID,
		OrganizationID: req.OrganizationID,
		UserID:         req.UserID,
		Skills:         req.Skills,
		Context:        req.Context,
	})

	if err := s.runner.Bind(sess.ID, req.AgentType); err != nil {
		s.store.Delete(sess.ID)
		s.writeError(w, err)
		return
	}

	logger := tracing.LoggerFromContext(r.Context(), s.logger)
	logger.Info().
		Str("chat_id", sess.ID).
		Str("agent_type", sess.AgentType).
		Msg("Chat created")

	s.writeJSON(w, http.StatusCreated, protocol.ChatCreated{
		ChatID:    sess.ID,
		WSURL:     fmt.Sprintf("/v1/ws?chat_id=%s", sess.ID),
		AgentType: sess.AgentType,
		Model:     sess.Model,
	})
}

func (s *Server) handleGetChat(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("id")
	sess, err := s.store.Snapshot(chatID)
	if err != nil {
		s.writeError(w, protocol.NewAPIError(
			protocol.CodeSessionNotFound, "unknown chat: %s", chatID))
		return
	}
	s.writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("id")
	sess, err := s.store.Snapshot(chatID)
	if err != nil {
		s.writeError(w, protocol.NewAPIError(
			protocol.CodeSessionNotFound, "unknown chat: %s", chatID))
		return
	}
	artifacts := sess.Artifacts
	if artifacts == nil {
		artifacts = []*session.Artifact{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"chatId":    chatID,
		"artifacts": artifacts,
	})
}

func (s *Server) handleListClients(w http.ResponseWriter, _ *http.Request) {
	infos := s.clients.GetConnectedClients()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"clients": infos,
		"count":   len(infos),
	})
}

func (s *Server) handleExecuteAction(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("id")

	var req protocol.ExecuteAction
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorStatus(w, http.StatusBadRequest, protocol.NewAPIError(
			protocol.CodeActionFailed, "invalid request body: %v", err))
		return
	}

	action, err := s.runner.ExecuteAction(chatID, req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"action":  action,
	})
}

func (s *Server) handleHandoff(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("id")

	var req protocol.HandoffRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorStatus(w, http.StatusBadRequest, protocol.NewAPIError(
			protocol.CodeActionFailed, "invalid request body: %v", err))
		return
	}

	hreq := handoff.Request{
		ParentChatID:     chatID,
		ToAgentType:      req.ToAgentType,
		RequiresApproval: req.RequiresApproval,
	}
	if v, ok := req.Context["summary"].(string); ok {
		hreq.ContextSummary = v
	}
	if v, ok := req.Context["task"].(string); ok {
		hreq.Task = v
	}
	if v, ok := req.Context["constraints"].(map[string]interface{}); ok {
		hreq.Constraints = v
	}
	if v, ok := req.Context["messageCount"].(float64); ok {
		hreq.MessageCount = int(v)
	}

	resp, err := s.coordinator.Handoff(hreq)
	if err != nil {
		s.writeError(w, err)
		return
	}

	status := http.StatusOK
	if resp.Pending {
		status = http.StatusAccepted
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

// writeError maps an error to its HTTP status and a JSON ErrorDetail body.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	apiErr := asAPIError(err)
	s.writeErrorStatus(w, statusFor(apiErr.Code), apiErr)
}

func (s *Server) writeErrorStatus(w http.ResponseWriter, status int, apiErr *protocol.APIError) {
	s.writeJSON(w, status, map[string]interface{}{"error": apiErr.Detail()})
}
