package session

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/ternhq/tern/internal/observability"
	"github.com/ternhq/tern/pkg/protocol"
)

// ErrNotFound is returned when a session id is unknown. Callers surface it
// as a SESSION_NOT_FOUND condition, never a crash.
var ErrNotFound = fmt.Errorf("session not found")

// CreateParams holds the caller-supplied fields of a new session.
type CreateParams struct {
	AgentType      string
	Model          string
	OrganizationID string
	UserID         string
	Skills         []string
	Context        map[string]interface{}
	Handoff        *HandoffContext
}

// Store is the process-wide session registry. It is an injectable value,
// not package-global state, so tests can run many isolated instances.
//
// The lock guards the map and session field access. Ordering of a session's
// mutations is still the runner's job: at most one runner drives a given
// session at a time, so Mutate calls for one session never race each other.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	logger   zerolog.Logger
}

// NewStore creates an empty session store.
func NewStore(logger zerolog.Logger) *Store {
	observability.EnsureRegistered()
	return &Store{
		sessions: make(map[string]*Session),
		logger:   logger,
	}
}

// Create registers a new session and returns it.
func (st *Store) Create(params CreateParams) *Session {
	skills := make(map[string]bool, len(params.Skills))
	for _, s := range params.Skills {
		skills[s] = true
	}
	ctx := params.Context
	if ctx == nil {
		ctx = make(map[string]interface{})
	}

	sess := &Session{
		ID:             uuid.New().String(),
		AgentType:      params.AgentType,
		Model:          params.Model,
		OrganizationID: params.OrganizationID,
		UserID:         params.UserID,
		Skills:         skills,
		Context:        ctx,
		Messages:       []Message{},
		Artifacts:      []*Artifact{},
		State:          protocol.StateIdle,
		CreatedAt:      time.Now(),
		Handoff:        params.Handoff,
	}

	st.mu.Lock()
	st.sessions[sess.ID] = sess
	count := len(st.sessions)
	st.mu.Unlock()

	observability.SetActiveSessions(count)
	st.logger.Info().
		Str("chat_id", sess.ID).
		Str("agent_type", sess.AgentType).
		Str("model", sess.Model).
		Msg("Session created")

	return sess
}

// Get returns the session for an id, or ErrNotFound.
func (st *Store) Get(id string) (*Session, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	sess, ok := st.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return sess, nil
}

// Mutate applies fn to the session's mutable fields. The single-writer
// invariant means fn never races another mutation of the same session; the
// store lock only protects readers taking snapshots.
func (st *Store) Mutate(id string, fn func(*Session)) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	sess, ok := st.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	fn(sess)
	return nil
}

// Snapshot returns a deep copy of the session safe to serialize while the
// runner keeps mutating the original.
func (st *Store) Snapshot(id string) (*Session, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	sess, ok := st.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot session: %w", err)
	}
	var copy Session
	if err := json.Unmarshal(data, &copy); err != nil {
		return nil, fmt.Errorf("failed to snapshot session: %w", err)
	}
	return &copy, nil
}

// Delete removes a session. Deleting an unknown id is a no-op.
func (st *Store) Delete(id string) {
	st.mu.Lock()
	delete(st.sessions, id)
	count := len(st.sessions)
	st.mu.Unlock()

	observability.SetActiveSessions(count)
	st.logger.Info().Str("chat_id", id).Msg("Session deleted")
}

// List returns all sessions in no particular order.
func (st *Store) List() []*Session {
	st.mu.RLock()
	defer st.mu.RUnlock()

	out := make([]*Session, 0, len(st.sessions))
	for _, sess := range st.sessions {
		out = append(out, sess)
	}
	return out
}

// Count returns the number of live sessions.
func (st *Store) Count() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}
