package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ternhq/tern/pkg/events"
	"github.com/ternhq/tern/pkg/protocol"
	"github.com/ternhq/tern/pkg/session"
)

// handleChatStart creates a session and binds this connection to it. A
// second chat:start on the same connection starts a fresh chat and rebinds.
func (s *Server) handleChatStart(client *Client, payload json.RawMessage) {
	var req protocol.StartChat
	if err := json.Unmarshal(payload, &req); err != nil {
		s.logger.Warn().Err(err).Str("client_id", client.ID).Msg("Bad chat:start payload")
		return
	}

	if !s.agents.Has(req.AgentType) {
		s.sendError(client, protocol.NewAPIError(
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
		s.sendAPIError(client, err)
		return
	}

	if client.ChatID != "" && client.sink != nil {
		s.events.Unbind(client.ChatID, client.sink)
	}
	client.ChatID = sess.ID
	client.sink = newConnSink(client, s.logger)
	s.events.Bind(sess.ID, client.sink)

	s.events.Emit(sess.ID, events.NewEvent(protocol.EvtChatStarted, protocol.ChatCreated{
		ChatID:    sess.ID,
		WSURL:     fmt.Sprintf("/v1/ws?chat_id=%s", sess.ID),
		AgentType: sess.AgentType,
		Model:     sess.Model,
	}))

	s.logger.Info().
		Str("client_id", client.ID).
		Str("chat_id", sess.ID).
		Str("agent_type", sess.AgentType).
		Msg("Chat started")
}

func (s *Server) handleMessageSend(client *Client, payload json.RawMessage) {
	if client.ChatID == "" {
		s.sendError(client, protocol.NewAPIError(
			protocol.CodeSessionNotFound, "no chat bound to this connection"))
		return
	}

	var req protocol.SendMessage
	if err := json.Unmarshal(payload, &req); err != nil {
		s.logger.Warn().Err(err).Str("client_id", client.ID).Msg("Bad message:send payload")
		return
	}

	if err := s.runner.Dispatch(context.Background(), client.ChatID, req.Content, req.Attachments); err != nil {
		s.sendAPIError(client, err)
	}
}

func (s *Server) handleActionExecute(client *Client, payload json.RawMessage) {
	if client.ChatID == "" {
		s.sendError(client, protocol.NewAPIError(
			protocol.CodeSessionNotFound, "no chat bound to this connection"))
		return
	}

	var req protocol.ExecuteAction
	if err := json.Unmarshal(payload, &req); err != nil {
		s.logger.Warn().Err(err).Str("client_id", client.ID).Msg("Bad action:execute payload")
		return
	}

	if _, err := s.runner.ExecuteAction(client.ChatID, req); err != nil {
		s.sendAPIError(client, err)
	}
}

func (s *Server) handleModelSwitch(client *Client, payload json.RawMessage) {
	if client.ChatID == "" {
		s.sendError(client, protocol.NewAPIError(
			protocol.CodeSessionNotFound, "no chat bound to this connection"))
		return
	}

	var req protocol.SwitchModel
	if err := json.Unmarshal(payload, &req); err != nil {
		s.logger.Warn().Err(err).Str("client_id", client.ID).Msg("Bad model:switch payload")
		return
	}

	if err := s.runner.SwitchModel(client.ChatID, req.NewModelID); err != nil {
		s.sendAPIError(client, err)
	}
}

func (s *Server) handleSkillToggle(client *Client, payload json.RawMessage) {
	if client.ChatID == "" {
		s.sendError(client, protocol.NewAPIError(
			protocol.CodeSessionNotFound, "no chat bound to this connection"))
		return
	}

	var req protocol.ToggleSkill
	if err := json.Unmarshal(payload, &req); err != nil {
		s.logger.Warn().Err(err).Str("client_id", client.ID).Msg("Bad skill:toggle payload")
		return
	}

	if err := s.runner.ToggleSkill(client.ChatID, req.SkillID, req.Enabled); err != nil {
		s.sendAPIError(client, err)
	}
}

func (s *Server) handleHandoffApprove(client *Client) {
	if client.ChatID == "" {
		s.sendError(client, protocol.NewAPIError(
			protocol.CodeSessionNotFound, "no chat bound to this connection"))
		return
	}

	// The coordinator emits handoff:complete on the parent chat itself.
	if _, err := s.coordinator.Approve(client.ChatID); err != nil {
		s.sendAPIError(client, err)
	}
}

func (s *Server) handleChatCancel(client *Client) {
	if client.ChatID == "" {
		return
	}
	if err := s.runner.Cancel(client.ChatID); err != nil {
		s.sendAPIError(client, err)
	}
}

func (s *Server) handlePing(client *Client) {
	err := client.WriteEnvelope(protocol.Envelope{Type: protocol.EvtPong})
	if err != nil {
		s.logger.Warn().Err(err).Str("client_id", client.ID).Msg("Failed to send pong")
	}
}

// sendAPIError maps any error to an error envelope, wrapping non-protocol
// errors as non-recoverable failures.
func (s *Server) sendAPIError(client *Client, err error) {
	var apiErr *protocol.APIError
	if !errors.As(err, &apiErr) {
		apiErr = &protocol.APIError{
			Code:    protocol.CodeActionFailed,
			Message: err.Error(),
		}
	}
	s.sendError(client, apiErr)
}
