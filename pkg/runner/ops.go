package runner

import (
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/ternhq/tern/pkg/events"
	"github.com/ternhq/tern/pkg/protocol"
	"github.com/ternhq/tern/pkg/session"
)

var knownActions = map[session.ActionType]bool{
	session.ActionNavigate:  true,
	session.ActionOpenForm:  true,
	session.ActionFillField: true,
	session.ActionSelect:    true,
	session.ActionCreate:    true,
	session.ActionUpdate:    true,
	session.ActionAssign:    true,
	session.ActionSubmit:    true,
	session.ActionComplete:  true,
	session.ActionError:     true,
}

// ExecuteAction records a client-requested work action against the session
// and emits the matching action:result event.
func (r *Runner) ExecuteAction(chatID string, req protocol.ExecuteAction) (*session.AgentAction, error) {
	actionType := session.ActionType(req.ActionType)
	if !knownActions[actionType] {
		return nil, protocol.NewAPIError(
			protocol.CodeActionNotSupported, "unsupported action type: %s", req.ActionType)
	}

	id, _ := gonanoid.New()
	action := session.AgentAction{
		ID:        id,
		Type:      actionType,
		Status:    "complete",
		Timestamp: time.Now(),
	}
	if v, ok := req.Config["module"].(string); ok {
		action.Module = v
	}
	if v, ok := req.Config["route"].(string); ok {
		action.Route = v
	}
	if v, ok := req.Config["fieldName"].(string); ok {
		action.FieldName = v
	}
	if v, ok := req.Config["fieldValue"]; ok {
		action.FieldValue = v
	}

	if err := r.store.Mutate(chatID, func(sess *session.Session) {
		sess.Actions = append(sess.Actions, action)
	}); err != nil {
		return nil, protocol.NewAPIError(protocol.CodeSessionNotFound, "unknown chat: %s", chatID)
	}

	r.sink.Emit(chatID, events.NewEvent(protocol.EvtActionResult, action))
	return &action, nil
}

// SwitchModel changes the session's model for subsequent runs. Rejected with
// AGENT_BUSY while a run is in flight.
func (r *Runner) SwitchModel(chatID, newModelID string) error {
	if r.IsRunning(chatID) {
		return ErrAgentBusy
	}
	if err := r.store.Mutate(chatID, func(sess *session.Session) {
		sess.Model = newModelID
	}); err != nil {
		return protocol.NewAPIError(protocol.CodeSessionNotFound, "unknown chat: %s", chatID)
	}

	r.sink.Emit(chatID, events.NewEvent(protocol.EvtModelSwitchAck, map[string]interface{}{
		"chatId": chatID,
		"model":  newModelID,
	}))
	r.logger.Info().Str("chat_id", chatID).Str("model", newModelID).Msg("Model switched")
	return nil
}

// ToggleSkill flips one skill flag on the session. Unlike model switching
// this is allowed mid-run; the new setting applies from the next run.
func (r *Runner) ToggleSkill(chatID, skillID string, enabled bool) error {
	sess, err := r.store.Get(chatID)
	if err != nil {
		return protocol.NewAPIError(protocol.CodeSessionNotFound, "unknown chat: %s", chatID)
	}
	if !r.agents.HasSkill(sess.AgentType, skillID) {
		return protocol.NewAPIError(
			protocol.CodeSkillNotFound, "agent %s has no skill %s", sess.AgentType, skillID)
	}

	if err := r.store.Mutate(chatID, func(sess *session.Session) {
		if sess.Skills == nil {
			sess.Skills = make(map[string]bool)
		}
		sess.Skills[skillID] = enabled
	}); err != nil {
		return err
	}

	r.sink.Emit(chatID, events.NewEvent(protocol.EvtSkillToggleAck, map[string]interface{}{
		"chatId":  chatID,
		"skillId": skillID,
		"enabled": enabled,
	}))
	return nil
}
