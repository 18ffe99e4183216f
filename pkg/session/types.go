package session

import (
	"time"

	"github.com/ternhq/tern/pkg/protocol"
)

// Message is a single conversation turn.
type Message struct {
	Role      string                 `json:"role"`
	Content   string                 `json:"content"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// ArtifactType enumerates the kinds of work products agents build.
type ArtifactType string

const (
	ArtifactDocument   ArtifactType = "document"
	ArtifactDeck       ArtifactType = "deck"
	ArtifactReport     ArtifactType = "report"
	ArtifactTable      ArtifactType = "table"
	ArtifactChart      ArtifactType = "chart"
	ArtifactScript     ArtifactType = "script"
	ArtifactStoryboard ArtifactType = "storyboard"
	ArtifactContract   ArtifactType = "contract"
)

// ArtifactStatus tracks an artifact through its lifecycle.
type ArtifactStatus string

const (
	ArtifactBuilding ArtifactStatus = "building"
	ArtifactDraft    ArtifactStatus = "draft"
	ArtifactFinal    ArtifactStatus = "final"
)

// Artifact is a versioned work product owned by one session. Version is
// monotonic per artifact id; a final artifact is immutable.
type Artifact struct {
	ID      string                 `json:"id"`
	Type    ArtifactType           `json:"type"`
	Status  ArtifactStatus         `json:"status"`
	Version int                    `json:"version"`
	Title   string                 `json:"title,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Preview string                 `json:"preview,omitempty"`
	ChatID  string                 `json:"chatId"`
}

// ActionType enumerates work-protocol action kinds.
type ActionType string

const (
	ActionNavigate  ActionType = "navigate"
	ActionOpenForm  ActionType = "open-form"
	ActionFillField ActionType = "fill-field"
	ActionSelect    ActionType = "select"
	ActionCreate    ActionType = "create"
	ActionUpdate    ActionType = "update"
	ActionAssign    ActionType = "assign"
	ActionSubmit    ActionType = "submit"
	ActionComplete  ActionType = "complete"
	ActionError     ActionType = "error"
)

// AgentAction records the agent operating an external system on the user's
// behalf. The per-session action log is append-only.
type AgentAction struct {
	ID         string      `json:"id"`
	Type       ActionType  `json:"type"`
	Module     string      `json:"module,omitempty"`
	Route      string      `json:"route,omitempty"`
	FieldName  string      `json:"fieldName,omitempty"`
	FieldValue interface{} `json:"fieldValue,omitempty"`
	Status     string      `json:"status"`
	Timestamp  time.Time   `json:"timestamp"`
}

// CreatedEntity is emitted once per entity the agent caused to exist in the
// external system.
type CreatedEntity struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Title  string `json:"title"`
	Module string `json:"module,omitempty"`
	URL    string `json:"url,omitempty"`
}

// HandoffContext is the package transplanted from a parent session to a
// child session. Created once at approval time, immutable thereafter.
type HandoffContext struct {
	ParentChatID    string                 `json:"parentChatId"`
	ParentAgentType string                 `json:"parentAgentType"`
	Summary         string                 `json:"summary"`
	Artifacts       []Artifact             `json:"artifacts,omitempty"`
	Messages        []Message              `json:"messages,omitempty"`
	Task            string                 `json:"task"`
	Constraints     map[string]interface{} `json:"constraints,omitempty"`
}

// Session is one logical conversation bound to one agent instance.
type Session struct {
	ID             string                 `json:"chatId"`
	AgentType      string                 `json:"agentType"`
	Model          string                 `json:"model"`
	OrganizationID string                 `json:"organizationId,omitempty"`
	UserID         string                 `json:"userId,omitempty"`
	Skills         map[string]bool        `json:"skills,omitempty"`
	Context        map[string]interface{} `json:"context,omitempty"`
	Messages       []Message              `json:"messages"`
	Artifacts      []*Artifact            `json:"artifacts"`
	Actions        []AgentAction          `json:"actions,omitempty"`
	Entities       []CreatedEntity        `json:"createdEntities,omitempty"`
	State          protocol.ChatState     `json:"state"`
	CreatedAt      time.Time              `json:"createdAt"`
	Handoff        *HandoffContext        `json:"handoff,omitempty"`
}

// FindArtifact returns the artifact with the given id, or nil.
func (s *Session) FindArtifact(id string) *Artifact {
	for _, a := range s.Artifacts {
		if a.ID == id {
			return a
		}
	}
	return nil
}
