package runner

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"github.com/ternhq/tern/internal/observability"
	"github.com/ternhq/tern/internal/tracing"
	"github.com/ternhq/tern/pkg/agent"
	"github.com/ternhq/tern/pkg/events"
	"github.com/ternhq/tern/pkg/protocol"
	"github.com/ternhq/tern/pkg/session"
	"github.com/ternhq/tern/pkg/state"
	"go.opentelemetry.io/otel/codes"
)

// ErrAgentBusy is returned when a message arrives while a run is already
// active for the session. The message is rejected, never queued.
var ErrAgentBusy = &protocol.APIError{
	Code:    protocol.CodeAgentBusy,
	Message: "agent is already working on a message for this chat",
}

// run tracks one in-flight execution.
type run struct {
	id        string
	cancel    context.CancelFunc
	cancelled atomic.Bool
	timedOut  atomic.Bool
	waiting   atomic.Bool
	working   atomic.Bool
	inputCh   chan string
}

// Runner drives agent executions: at most one concurrently-scheduled unit
// of work per session, feeding the state machine and event sink as the
// collaborator reports progress.
type Runner struct {
	store    *session.Store
	machine  *state.Machine
	sink     events.Sink
	agents   *agent.Registry
	logger   zerolog.Logger
	waitUnit time.Duration

	mu     sync.Mutex
	bound  map[string]agent.Agent
	active map[string]*run
}

// Config holds runner dependencies.
type Config struct {
	Store   *session.Store
	Machine *state.Machine
	Sink    events.Sink
	Agents  *agent.Registry
	Logger  zerolog.Logger

	// WaitUnit scales InputRequest.TimeoutMinutes into a wall-clock wait.
	// Zero means one minute per unit.
	WaitUnit time.Duration
}

// New creates an execution runner.
func New(cfg Config) (*Runner, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if cfg.Machine == nil {
		return nil, fmt.Errorf("state machine is required")
	}
	if cfg.Sink == nil {
		return nil, fmt.Errorf("event sink is required")
	}
	if cfg.Agents == nil {
		return nil, fmt.Errorf("agent registry is required")
	}

	waitUnit := cfg.WaitUnit
	if waitUnit <= 0 {
		waitUnit = time.Minute
	}

	observability.EnsureRegistered()
	return &Runner{
		store:    cfg.Store,
		machine:  cfg.Machine,
		sink:     cfg.Sink,
		agents:   cfg.Agents,
		logger:   cfg.Logger,
		waitUnit: waitUnit,
		bound:    make(map[string]agent.Agent),
		active:   make(map[string]*run),
	}, nil
}

// Bind resolves the session's agent kind once, at session-start time.
func (r *Runner) Bind(chatID, agentType string) error {
	ag, err := r.agents.Resolve(agentType)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.bound[chatID] = ag
	r.mu.Unlock()
	return nil
}

// Release closes and forgets the session's agent instance.
func (r *Runner) Release(chatID string) {
	r.mu.Lock()
	ag := r.bound[chatID]
	delete(r.bound, chatID)
	r.mu.Unlock()

	if ag != nil {
		if err := ag.Close(); err != nil {
			r.logger.Warn().Err(err).Str("chat_id", chatID).Msg("Agent close failed")
		}
	}
}

// IsRunning reports whether a run is active for the session.
func (r *Runner) IsRunning(chatID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[chatID]
	return ok
}

// Dispatch starts one unit of work for an inbound message. If the session
// is WAITING on input, the message resumes the paused run instead. A
// message while a run is otherwise active fails with AGENT_BUSY.
func (r *Runner) Dispatch(ctx context.Context, chatID, content string, attachments []string) error {
	sess, err := r.store.Get(chatID)
	if err != nil {
		return protocol.NewAPIError(protocol.CodeSessionNotFound, "unknown chat: %s", chatID)
	}

	r.mu.Lock()
	if current, ok := r.active[chatID]; ok {
		if current.waiting.Load() {
			r.mu.Unlock()
			return r.resume(current, chatID, content)
		}
		r.mu.Unlock()
		return ErrAgentBusy
	}

	ag, ok := r.bound[chatID]
	r.mu.Unlock()
	if !ok {
		if err := r.Bind(chatID, sess.AgentType); err != nil {
			return err
		}
		r.mu.Lock()
		ag = r.bound[chatID]
		r.mu.Unlock()
	}

	// Capture history before this message; the agent receives the prompt
	// separately.
	snapshot, err := r.store.Snapshot(chatID)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	runCtx = tracing.NewRunContext(runCtx, chatID, sess.AgentType)

	rn := &run{
		id:      tracing.GetRunID(runCtx),
		cancel:  cancel,
		inputCh: make(chan string, 1),
	}

	r.mu.Lock()
	if _, ok := r.active[chatID]; ok {
		r.mu.Unlock()
		cancel()
		return ErrAgentBusy
	}
	r.active[chatID] = rn
	r.mu.Unlock()

	if _, err := r.machine.Apply(chatID, rn.id, state.SubmitMessage, state.Payload{}); err != nil {
		r.unregister(chatID)
		cancel()
		return err
	}

	if err := r.store.Mutate(chatID, func(sess *session.Session) {
		sess.Messages = append(sess.Messages, session.Message{
			Role:      "user",
			Content:   content,
			Timestamp: time.Now(),
		})
	}); err != nil {
		r.unregister(chatID)
		cancel()
		return err
	}

	task := agent.Task{
		ChatID:      chatID,
		Prompt:      content,
		Attachments: attachments,
		Model:       snapshot.Model,
		Skills:      snapshot.Skills,
		Context:     snapshot.Context,
		History:     snapshot.Messages,
		Handoff:     snapshot.Handoff,
	}

	go r.execute(runCtx, chatID, ag, task, rn)
	return nil
}

// Resume delivers user input to a run paused in WAITING.
func (r *Runner) Resume(chatID, input string) error {
	r.mu.Lock()
	rn, ok := r.active[chatID]
	r.mu.Unlock()
	if !ok || !rn.waiting.Load() {
		return fmt.Errorf("no run waiting for input on chat %s", chatID)
	}
	return r.resume(rn, chatID, input)
}

func (r *Runner) resume(rn *run, chatID, input string) error {
	select {
	case rn.inputCh <- input:
		return nil
	default:
		return fmt.Errorf("input already pending for chat %s", chatID)
	}
}

// Cancel cooperatively stops the session's active run. The cancel
// transition is the last StateUpdate emitted for the run; an in-flight
// collaborator call may finish but its result is discarded.
func (r *Runner) Cancel(chatID string) error {
	r.mu.Lock()
	rn, ok := r.active[chatID]
	r.mu.Unlock()

	if !ok {
		// Nothing running; reset a non-terminal session for completeness.
		if _, err := r.machine.Apply(chatID, "", state.Cancel, state.Payload{}); err != nil {
			r.logger.Debug().Str("chat_id", chatID).Msg("Cancel with no active run")
		}
		return nil
	}

	rn.cancelled.Store(true)
	rn.cancel()

	if _, err := r.machine.Apply(chatID, rn.id, state.Cancel, state.Payload{}); err != nil {
		return err
	}
	r.sink.Emit(chatID, events.NewEvent(protocol.EvtChatCancelled, map[string]interface{}{
		"chatId": chatID,
	}))
	return nil
}

func (r *Runner) unregister(chatID string) {
	r.mu.Lock()
	delete(r.active, chatID)
	r.mu.Unlock()
}

// execute is the body of one run. It owns all mutation of the session for
// the duration of the run.
func (r *Runner) execute(ctx context.Context, chatID string, ag agent.Agent, task agent.Task, rn *run) {
	defer r.unregister(chatID)

	ctx, span := tracing.StartSpan(ctx, "tern.runner", "runner.execute")
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, r.logger)
	start := time.Now()

	// The session stays in THINKING until the collaborator's first update;
	// an input request made before any update pauses the run straight from
	// THINKING into WAITING.
	var artifactIDs []string
	task.RequestInput = func(reqCtx context.Context, req agent.InputRequest) (string, error) {
		return r.awaitInput(reqCtx, chatID, rn, req)
	}

	outcome, err := ag.Execute(ctx, task, func(up agent.Update) {
		if rn.cancelled.Load() {
			return
		}
		r.handleUpdate(chatID, rn, up, &artifactIDs)
	})

	if rn.cancelled.Load() {
		logger.Info().Msg("Run cancelled, result discarded")
		observability.RecordAgentRun(ag.Kind(), time.Since(start), "cancelled")
		return
	}

	if err != nil {
		if rn.timedOut.Load() {
			observability.RecordAgentRun(ag.Kind(), time.Since(start), "timeout")
			return
		}
		apiErr := agent.ClassifyError(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().Err(err).Str("code", string(apiErr.Code)).Msg("Agent run failed")

		// Fail is only legal from WORKING; a run that errored before its
		// first update passes through WORKING on the way out.
		if _, werr := r.ensureWorking(chatID, rn, nil); werr != nil {
			logger.Error().Err(werr).Msg("Failed to enter working state")
		}
		if _, aerr := r.machine.Apply(chatID, rn.id, state.Fail, state.Payload{
			Error: apiErr.Detail(),
		}); aerr != nil {
			logger.Error().Err(aerr).Msg("Failed to enter error state")
		}
		observability.RecordAgentRun(ag.Kind(), time.Since(start), "error")
		return
	}

	if err := r.store.Mutate(chatID, func(sess *session.Session) {
		sess.Messages = append(sess.Messages, session.Message{
			Role:      "assistant",
			Content:   outcome.Summary,
			Timestamp: time.Now(),
		})
	}); err != nil {
		logger.Error().Err(err).Msg("Failed to record assistant message")
	}

	completion := &protocol.Completion{
		Summary:          outcome.Summary,
		ArtifactIDs:      artifactIDs,
		SuggestedActions: outcome.SuggestedActions,
	}
	if _, werr := r.ensureWorking(chatID, rn, nil); werr != nil {
		logger.Error().Err(werr).Msg("Failed to enter working state")
		return
	}
	if _, err := r.machine.Apply(chatID, rn.id, state.Succeed, state.Payload{
		Completion: completion,
	}); err != nil {
		logger.Error().Err(err).Msg("Failed to enter complete state")
		return
	}

	r.sink.Emit(chatID, events.NewEvent(protocol.EvtMessageComplete, map[string]interface{}{
		"chatId":           chatID,
		"summary":          outcome.Summary,
		"artifactIds":      artifactIDs,
		"suggestedActions": outcome.SuggestedActions,
	}))
	observability.RecordAgentRun(ag.Kind(), time.Since(start), "success")
	logger.Info().Dur("duration", time.Since(start)).Msg("Run complete")
}

// ensureWorking moves the run into WORKING on the collaborator's first
// signal of real work. The transition carries the triggering progress, or a
// bare marker when the first signal is not a progress report. Reports
// whether this call performed the transition.
func (r *Runner) ensureWorking(chatID string, rn *run, progress *protocol.Progress) (bool, error) {
	if !rn.working.CompareAndSwap(false, true) {
		return false, nil
	}
	if progress == nil {
		progress = &protocol.Progress{Label: "working"}
	}
	if _, err := r.machine.Apply(chatID, rn.id, state.BeginExecution, state.Payload{
		Progress: progress,
	}); err != nil {
		rn.working.Store(false)
		return false, err
	}
	return true, nil
}

// handleUpdate applies one incremental collaborator update to the session
// and emits the matching protocol event, preserving production order.
func (r *Runner) handleUpdate(chatID string, rn *run, up agent.Update, artifactIDs *[]string) {
	switch up.Kind {
	case agent.UpdateProgress:
		progress := &protocol.Progress{Current: up.Current, Total: up.Total, Label: up.Label}
		entered, err := r.ensureWorking(chatID, rn, progress)
		if err != nil {
			r.logger.Warn().Err(err).Str("chat_id", chatID).Msg("Progress update dropped")
			return
		}
		if entered {
			return
		}
		if _, err := r.machine.Apply(chatID, rn.id, state.Progress, state.Payload{
			Progress: progress,
		}); err != nil {
			r.logger.Warn().Err(err).Str("chat_id", chatID).Msg("Progress update dropped")
		}

	case agent.UpdateArtifact:
		if up.Artifact == nil {
			return
		}
		if _, err := r.ensureWorking(chatID, rn, nil); err != nil {
			r.logger.Warn().Err(err).Str("chat_id", chatID).Msg("Failed to enter working state")
		}
		var emitted *session.Artifact
		err := r.store.Mutate(chatID, func(sess *session.Session) {
			emitted = r.upsertArtifact(sess, up.Artifact, artifactIDs)
		})
		if err != nil {
			r.logger.Warn().Err(err).Str("chat_id", chatID).Msg("Artifact update dropped")
			return
		}
		if emitted != nil {
			copy := *emitted
			r.sink.Emit(chatID, events.NewEvent(protocol.EvtArtifactUpdate, &copy))
		}

	case agent.UpdateAction:
		if up.Action == nil {
			return
		}
		if _, err := r.ensureWorking(chatID, rn, nil); err != nil {
			r.logger.Warn().Err(err).Str("chat_id", chatID).Msg("Failed to enter working state")
		}
		action := *up.Action
		if action.ID == "" {
			action.ID, _ = gonanoid.New()
		}
		if action.Timestamp.IsZero() {
			action.Timestamp = time.Now()
		}
		if err := r.store.Mutate(chatID, func(sess *session.Session) {
			sess.Actions = append(sess.Actions, action)
		}); err != nil {
			r.logger.Warn().Err(err).Str("chat_id", chatID).Msg("Action update dropped")
			return
		}
		r.sink.Emit(chatID, events.NewEvent(protocol.EvtActionResult, action))

	case agent.UpdateEntity:
		if up.Entity == nil {
			return
		}
		if _, err := r.ensureWorking(chatID, rn, nil); err != nil {
			r.logger.Warn().Err(err).Str("chat_id", chatID).Msg("Failed to enter working state")
		}
		entity := *up.Entity
		if entity.ID == "" {
			entity.ID, _ = gonanoid.New()
		}
		if err := r.store.Mutate(chatID, func(sess *session.Session) {
			sess.Entities = append(sess.Entities, entity)
		}); err != nil {
			r.logger.Warn().Err(err).Str("chat_id", chatID).Msg("Entity update dropped")
			return
		}
		r.sink.Emit(chatID, events.NewEvent(protocol.EvtEntityCreated, entity))
	}
}

// upsertArtifact creates or revises an artifact. Final artifacts are
// immutable; revisions against them are ignored and logged.
func (r *Runner) upsertArtifact(sess *session.Session, draft *agent.ArtifactDraft, artifactIDs *[]string) *session.Artifact {
	if draft.ID != "" {
		existing := sess.FindArtifact(draft.ID)
		if existing != nil {
			if existing.Status == session.ArtifactFinal {
				r.logger.Warn().
					Str("chat_id", sess.ID).
					Str("artifact_id", existing.ID).
					Msg("Revision of final artifact ignored")
				return nil
			}
			existing.Version++
			if draft.Status != "" {
				existing.Status = draft.Status
			}
			if draft.Title != "" {
				existing.Title = draft.Title
			}
			if draft.Data != nil {
				existing.Data = draft.Data
			}
			if draft.Preview != "" {
				existing.Preview = draft.Preview
			}
			return existing
		}
	}

	id := draft.ID
	if id == "" {
		id, _ = gonanoid.New()
	}
	status := draft.Status
	if status == "" {
		status = session.ArtifactBuilding
	}
	created := &session.Artifact{
		ID:      id,
		Type:    draft.Type,
		Status:  status,
		Version: 1,
		Title:   draft.Title,
		Data:    draft.Data,
		Preview: draft.Preview,
		ChatID:  sess.ID,
	}
	sess.Artifacts = append(sess.Artifacts, created)
	*artifactIDs = append(*artifactIDs, id)
	return created
}

// awaitInput parks the run in WAITING until the user answers, the request
// times out, or the run is cancelled.
func (r *Runner) awaitInput(ctx context.Context, chatID string, rn *run, req agent.InputRequest) (string, error) {
	waitingFor := &protocol.WaitingFor{
		Kind:           req.Kind,
		Prompt:         req.Prompt,
		Options:        req.Options,
		Required:       req.Required,
		TimeoutMinutes: req.TimeoutMinutes,
	}
	if _, err := r.machine.Apply(chatID, rn.id, state.NeedsInput, state.Payload{
		WaitingFor: waitingFor,
	}); err != nil {
		return "", err
	}
	rn.waiting.Store(true)
	defer rn.waiting.Store(false)

	// Absent a timeout the wait never auto-fails; cancel is the way out.
	var timeoutCh <-chan time.Time
	var timer *time.Timer
	if req.TimeoutMinutes > 0 {
		timer = time.NewTimer(time.Duration(req.TimeoutMinutes) * r.waitUnit)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case input := <-rn.inputCh:
		// Back to THINKING; the collaborator's next update re-enters
		// WORKING.
		if _, err := r.machine.Apply(chatID, rn.id, state.Resume, state.Payload{}); err != nil {
			return "", err
		}
		return input, nil

	case <-timeoutCh:
		rn.timedOut.Store(true)
		timeoutErr := &protocol.APIError{
			Code:    protocol.CodeAgentTimeout,
			Message: fmt.Sprintf("no input received within %d minutes", req.TimeoutMinutes),
		}
		if _, err := r.machine.Apply(chatID, rn.id, state.Timeout, state.Payload{
			Error: timeoutErr.Detail(),
		}); err != nil {
			r.logger.Error().Err(err).Str("chat_id", chatID).Msg("Failed to apply wait timeout")
		}
		return "", timeoutErr

	case <-ctx.Done():
		return "", ctx.Err()
	}
}
