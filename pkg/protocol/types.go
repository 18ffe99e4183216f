package protocol

import "encoding/json"

// ChatState is the execution state of a chat session as seen on the wire.
type ChatState string

const (
	StateIdle     ChatState = "idle"
	StateThinking ChatState = "thinking"
	StateWorking  ChatState = "working"
	StateWaiting  ChatState = "waiting"
	StateComplete ChatState = "complete"
	StateError    ChatState = "error"
)

// IsTerminal returns true for states that end a run.
func (s ChatState) IsTerminal() bool {
	return s == StateComplete || s == StateError
}

// Envelope is the framing shared by both transports: every websocket frame
// and every SSE data payload is one of these, differing only in framing.
type Envelope struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Client->server message types.
const (
	MsgChatStart      = "chat:start"
	MsgMessageSend    = "message:send"
	MsgActionExecute  = "action:execute"
	MsgModelSwitch    = "model:switch"
	MsgSkillToggle    = "skill:toggle"
	MsgHandoffApprove = "handoff:approve"
	MsgChatCancel     = "chat:cancel"
	MsgPing           = "ping"
)

// Server->client event types.
const (
	EvtChatStarted     = "chat:started"
	EvtStateUpdate     = "state:update"
	EvtArtifactUpdate  = "artifact:update"
	EvtActionResult    = "action:result"
	EvtEntityCreated   = "entity:created"
	EvtMessageComplete = "message:complete"
	EvtModelSwitchAck  = "model:switch:ack"
	EvtSkillToggleAck  = "skill:toggle:ack"
	EvtHandoffComplete = "handoff:complete"
	EvtChatCancelled   = "chat:cancelled"
	EvtError           = "error"
	EvtPing            = "ping"
	EvtPong            = "pong"
)

// StartChat is the payload of a chat:start message and of POST /chats.
type StartChat struct {
	AgentType      string                 `json:"agentType"`
	Model          ModelRef               `json:"model"`
	OrganizationID string                 `json:"organizationId"`
	UserID         string                 `json:"userId"`
	Skills         []string               `json:"skills,omitempty"`
	Context        map[string]interface{} `json:"context,omitempty"`
}

// ModelRef identifies a model. Clients may send either a bare string or an
// object with an id field; both decode to the same value.
type ModelRef struct {
	ID string `json:"id"`
}

// UnmarshalJSON accepts `"m-1"` as well as `{"id":"m-1"}`.
func (m *ModelRef) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return err
		}
		m.ID = id
		return nil
	}
	type alias ModelRef
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*m = ModelRef(a)
	return nil
}

// SendMessage is the payload of message:send and POST /chats/{id}/messages.
type SendMessage struct {
	Content     string   `json:"content"`
	Attachments []string `json:"attachments,omitempty"`
}

// ExecuteAction is the payload of action:execute and POST /chats/{id}/actions.
type ExecuteAction struct {
	ActionType string                 `json:"actionType"`
	Config     map[string]interface{} `json:"config,omitempty"`
	ArtifactID string                 `json:"artifactId,omitempty"`
}

// SwitchModel is the payload of model:switch.
type SwitchModel struct {
	NewModelID string `json:"newModelId"`
}

// ToggleSkill is the payload of skill:toggle.
type ToggleSkill struct {
	SkillID string `json:"skillId"`
	Enabled bool   `json:"enabled"`
}

// HandoffRequest is the payload of POST /chats/{id}/handoff.
type HandoffRequest struct {
	ToAgentType      string                 `json:"toAgentType"`
	Context          map[string]interface{} `json:"context,omitempty"`
	RequiresApproval bool                   `json:"requiresApproval"`
}

// HandoffResponse is returned by handoff operations on both transports.
type HandoffResponse struct {
	Approved     bool   `json:"approved"`
	Pending      bool   `json:"pending,omitempty"`
	HandoffID    string `json:"handoffId,omitempty"`
	NewChatID    string `json:"newChatId,omitempty"`
	NewAgentType string `json:"newAgentType,omitempty"`
	Message      string `json:"message,omitempty"`
}

// ChatCreated is the response to chat:start / POST /chats.
type ChatCreated struct {
	ChatID    string `json:"chatId"`
	WSURL     string `json:"wsUrl"`
	AgentType string `json:"agentType"`
	Model     string `json:"model"`
}

// StateUpdate is an emitted snapshot of a session's execution state. Exactly
// one of the optional payload fields is populated, matching State.
type StateUpdate struct {
	ChatID     string       `json:"chatId"`
	AgentID    string       `json:"agentId,omitempty"`
	State      ChatState    `json:"state"`
	Timestamp  int64        `json:"timestamp"`
	Progress   *Progress    `json:"progress,omitempty"`
	WaitingFor *WaitingFor  `json:"waitingFor,omitempty"`
	Completion *Completion  `json:"completion,omitempty"`
	Error      *ErrorDetail `json:"error,omitempty"`
}

// Progress describes forward movement during WORKING.
type Progress struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Label   string `json:"label,omitempty"`
}

// WaitingFor describes the input the agent is blocked on during WAITING.
type WaitingFor struct {
	Kind           string   `json:"kind"`
	Prompt         string   `json:"prompt"`
	Options        []string `json:"options,omitempty"`
	Required       bool     `json:"required"`
	TimeoutMinutes int      `json:"timeoutMinutes,omitempty"`
}

// Completion is the payload of a COMPLETE state update.
type Completion struct {
	Summary          string   `json:"summary"`
	ArtifactIDs      []string `json:"artifactIds,omitempty"`
	SuggestedActions []string `json:"suggestedActions,omitempty"`
}

// ErrorDetail is the payload of an ERROR state update and of error frames.
type ErrorDetail struct {
	Code        ErrorCode `json:"code"`
	Message     string    `json:"message"`
	Recoverable bool      `json:"recoverable"`
	RetryAfter  int       `json:"retryAfter,omitempty"`
}
