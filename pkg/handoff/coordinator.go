package handoff

import (
	"fmt"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/ternhq/tern/internal/observability"
	"github.com/ternhq/tern/pkg/events"
	"github.com/ternhq/tern/pkg/protocol"
	"github.com/ternhq/tern/pkg/session"
)

// Binder binds a freshly created session to its agent instance. Implemented
// by the execution runner.
type Binder interface {
	Bind(chatID, agentType string) error
}

// AgentCatalog answers whether an agent kind exists.
type AgentCatalog interface {
	Has(kind string) bool
}

// Request describes one agent-to-agent handoff.
type Request struct {
	ParentChatID     string
	FromAgentType    string
	ToAgentType      string
	ContextSummary   string
	Task             string
	Constraints      map[string]interface{}
	MessageCount     int // how many trailing parent messages to transplant
	RequiresApproval bool
}

// pending is a handoff waiting on user approval.
type pending struct {
	id        string
	req       Request
	createdAt time.Time
}

// Coordinator creates child sessions from parent sessions with transplanted
// context. The parent session is never mutated or deleted.
type Coordinator struct {
	store   *session.Store
	catalog AgentCatalog
	binder  Binder
	sink    events.Sink
	ttl     time.Duration
	logger  zerolog.Logger

	mu      sync.Mutex
	pending map[string]*pending // keyed by parent chat id
	cron    *cron.Cron
}

// Config holds coordinator configuration.
type Config struct {
	Store      *session.Store
	Catalog    AgentCatalog
	Binder     Binder
	Sink       events.Sink
	PendingTTL time.Duration
	Logger     zerolog.Logger
}

// NewCoordinator creates a handoff coordinator.
func NewCoordinator(cfg Config) (*Coordinator, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("agent catalog is required")
	}
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = 30 * time.Minute
	}

	observability.EnsureRegistered()
	return &Coordinator{
		store:   cfg.Store,
		catalog: cfg.Catalog,
		binder:  cfg.Binder,
		sink:    cfg.Sink,
		ttl:     cfg.PendingTTL,
		logger:  cfg.Logger,
		pending: make(map[string]*pending),
	}, nil
}

// Start launches the sweeper that expires stale pending approvals.
func (c *Coordinator) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cron != nil {
		return
	}
	c.cron = cron.New()
	_, _ = c.cron.AddFunc("@every 1m", c.sweep)
	c.cron.Start()
}

// Stop halts the sweeper.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	cr := c.cron
	c.cron = nil
	c.mu.Unlock()
	if cr != nil {
		cr.Stop()
	}
}

func (c *Coordinator) sweep() {
	cutoff := time.Now().Add(-c.ttl)
	removed := 0

	c.mu.Lock()
	for key, p := range c.pending {
		if p.createdAt.Before(cutoff) {
			delete(c.pending, key)
			removed++
		}
	}
	count := len(c.pending)
	c.mu.Unlock()

	observability.SetPendingHandoffs(count)
	if removed > 0 {
		c.logger.Info().Int("expired", removed).Msg("Expired pending handoffs")
	}
}

// Handoff transfers a task to a new agent. With RequiresApproval it parks a
// pending descriptor and creates nothing until Approve is called.
func (c *Coordinator) Handoff(req Request) (protocol.HandoffResponse, error) {
	if !c.catalog.Has(req.ToAgentType) {
		observability.RecordHandoff("agent_not_found")
		return protocol.HandoffResponse{}, protocol.NewAPIError(
			protocol.CodeAgentNotFound, "unknown agent type: %s", req.ToAgentType)
	}
	if _, err := c.store.Get(req.ParentChatID); err != nil {
		return protocol.HandoffResponse{}, protocol.NewAPIError(
			protocol.CodeSessionNotFound, "unknown chat: %s", req.ParentChatID)
	}

	if req.RequiresApproval {
		id, _ := gonanoid.New()
		c.mu.Lock()
		c.pending[req.ParentChatID] = &pending{id: id, req: req, createdAt: time.Now()}
		count := len(c.pending)
		c.mu.Unlock()

		observability.SetPendingHandoffs(count)
		observability.RecordHandoff("pending")
		c.logger.Info().
			Str("parent_chat_id", req.ParentChatID).
			Str("to_agent", req.ToAgentType).
			Str("handoff_id", id).
			Msg("Handoff pending approval")

		return protocol.HandoffResponse{
			Pending:      true,
			HandoffID:    id,
			NewAgentType: req.ToAgentType,
			Message:      fmt.Sprintf("handoff to %s requires approval", req.ToAgentType),
		}, nil
	}

	return c.create(req)
}

// Approve executes the pending handoff for a parent session.
func (c *Coordinator) Approve(parentChatID string) (protocol.HandoffResponse, error) {
	c.mu.Lock()
	p, ok := c.pending[parentChatID]
	if ok {
		delete(c.pending, parentChatID)
	}
	count := len(c.pending)
	c.mu.Unlock()

	observability.SetPendingHandoffs(count)
	if !ok {
		return protocol.HandoffResponse{}, fmt.Errorf("no pending handoff for chat %s", parentChatID)
	}
	return c.create(p.req)
}

// create builds the child session with HandoffContext transplanted from the
// parent's current artifacts and the requested slice of its messages.
func (c *Coordinator) create(req Request) (protocol.HandoffResponse, error) {
	parent, err := c.store.Snapshot(req.ParentChatID)
	if err != nil {
		return protocol.HandoffResponse{}, protocol.NewAPIError(
			protocol.CodeSessionNotFound, "unknown chat: %s", req.ParentChatID)
	}

	fromAgent := req.FromAgentType
	if fromAgent == "" {
		fromAgent = parent.AgentType
	}

	artifacts := make([]session.Artifact, 0, len(parent.Artifacts))
	for _, a := range parent.Artifacts {
		artifacts = append(artifacts, *a)
	}

	var messages []session.Message
	if req.MessageCount > 0 && len(parent.Messages) > 0 {
		start := len(parent.Messages) - req.MessageCount
		if start < 0 {
			start = 0
		}
		messages = append(messages, parent.Messages[start:]...)
	}

	child := c.store.Create(session.CreateParams{
		AgentType:      req.ToAgentType,
		Model:          parent.Model,
		OrganizationID: parent.OrganizationID,
		UserID:         parent.UserID,
		Context: map[string]interface{}{
			"parentChatId":   req.ParentChatID,
			"handoffSummary": req.ContextSummary,
		},
		Handoff: &session.HandoffContext{
			ParentChatID:    req.ParentChatID,
			ParentAgentType: fromAgent,
			Summary:         req.ContextSummary,
			Artifacts:       artifacts,
			Messages:        messages,
			Task:            req.Task,
			Constraints:     req.Constraints,
		},
	})

	if c.binder != nil {
		if err := c.binder.Bind(child.ID, req.ToAgentType); err != nil {
			c.store.Delete(child.ID)
			observability.RecordHandoff("bind_failed")
			return protocol.HandoffResponse{}, err
		}
	}

	resp := protocol.HandoffResponse{
		Approved:     true,
		NewChatID:    child.ID,
		NewAgentType: req.ToAgentType,
		Message:      fmt.Sprintf("task handed off from %s to %s", fromAgent, req.ToAgentType),
	}
	if c.sink != nil {
		c.sink.Emit(req.ParentChatID, events.NewEvent(protocol.EvtHandoffComplete, resp))
	}

	observability.RecordHandoff("approved")
	c.logger.Info().
		Str("parent_chat_id", req.ParentChatID).
		Str("child_chat_id", child.ID).
		Str("from_agent", fromAgent).
		Str("to_agent", req.ToAgentType).
		Msg("Handoff complete")

	return resp, nil
}

// PendingFor returns whether a pending handoff exists for the parent chat.
func (c *Coordinator) PendingFor(parentChatID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[parentChatID]
	return ok
}
