package agent

import (
	"context"

	"github.com/ternhq/tern/pkg/session"
)

// Task is one unit of work handed to an agent: the user's message plus the
// session context the runner assembled for it.
type Task struct {
	ChatID      string
	Prompt      string
	Attachments []string
	Model       string
	Skills      map[string]bool
	Context     map[string]interface{}
	History     []session.Message
	Handoff     *session.HandoffContext

	// RequestInput blocks until the user answers, the request times out, or
	// the run is cancelled. Supplied by the runner; agents call it when they
	// cannot proceed without input.
	RequestInput func(ctx context.Context, req InputRequest) (string, error)
}

// InputRequest describes what the agent is blocked on.
type InputRequest struct {
	Kind           string
	Prompt         string
	Options        []string
	Required       bool
	TimeoutMinutes int
}

// UpdateKind discriminates incremental updates streamed during a run.
type UpdateKind string

const (
	UpdateProgress UpdateKind = "progress"
	UpdateArtifact UpdateKind = "artifact"
	UpdateAction   UpdateKind = "action"
	UpdateEntity   UpdateKind = "entity"
)

// Update is one incremental chunk reported while a task runs. Exactly one
// field matching Kind is set.
type Update struct {
	Kind     UpdateKind
	Current  int
	Total    int
	Label    string
	Artifact *ArtifactDraft
	Action   *session.AgentAction
	Entity   *session.CreatedEntity
}

// ArtifactDraft is an agent's view of an artifact revision. The runner owns
// id assignment and version bookkeeping; a draft with an ID revises the
// existing artifact.
type ArtifactDraft struct {
	ID      string
	Type    session.ArtifactType
	Status  session.ArtifactStatus
	Title   string
	Data    map[string]interface{}
	Preview string
}

// Outcome is the final result of a completed task.
type Outcome struct {
	Summary          string
	SuggestedActions []string
}

// Agent executes tasks for one agent kind. Implementations must observe ctx
// at tool-call boundaries so cancellation stays cooperative, and must
// release their own resources in Close.
type Agent interface {
	Kind() string
	Execute(ctx context.Context, task Task, emit func(Update)) (Outcome, error)
	Close() error
}
