package state

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/ternhq/tern/internal/observability"
	"github.com/ternhq/tern/pkg/events"
	"github.com/ternhq/tern/pkg/protocol"
	"github.com/ternhq/tern/pkg/session"
)

// Input is a state machine input symbol.
type Input string

const (
	SubmitMessage  Input = "submit_message"
	BeginExecution Input = "begin_execution"
	NeedsInput     Input = "needs_input"
	Progress       Input = "progress"
	Succeed        Input = "succeed"
	Fail           Input = "fail"
	Resume         Input = "resume"
	Timeout        Input = "timeout"
	Cancel         Input = "cancel"
)

// transitions is the full legal transition table. Anything absent here is
// rejected with the session state left unchanged.
var transitions = map[protocol.ChatState]map[Input]protocol.ChatState{
	protocol.StateIdle: {
		SubmitMessage: protocol.StateThinking,
		Cancel:        protocol.StateIdle,
	},
	protocol.StateComplete: {
		SubmitMessage: protocol.StateThinking,
	},
	protocol.StateError: {
		SubmitMessage: protocol.StateThinking,
	},
	protocol.StateThinking: {
		BeginExecution: protocol.StateWorking,
		NeedsInput:     protocol.StateWaiting,
		Cancel:         protocol.StateIdle,
	},
	protocol.StateWorking: {
		Progress: protocol.StateWorking,
		Succeed:  protocol.StateComplete,
		Fail:     protocol.StateError,
		Cancel:   protocol.StateIdle,
	},
	protocol.StateWaiting: {
		Resume:  protocol.StateThinking,
		Timeout: protocol.StateError,
		Cancel:  protocol.StateIdle,
	},
}

// Next computes the state after applying input to current. It returns an
// error for transitions outside the table.
func Next(current protocol.ChatState, input Input) (protocol.ChatState, error) {
	if next, ok := transitions[current][input]; ok {
		return next, nil
	}
	return current, fmt.Errorf("illegal transition: %s --%s-->", current, input)
}

// Payload carries the state-specific half of a StateUpdate. At most one
// field may be set, and it must match the target state.
type Payload struct {
	Progress   *protocol.Progress
	WaitingFor *protocol.WaitingFor
	Completion *protocol.Completion
	Error      *protocol.ErrorDetail
}

func (p Payload) validate(next protocol.ChatState) error {
	set := 0
	if p.Progress != nil {
		set++
		if next != protocol.StateWorking {
			return fmt.Errorf("progress payload requires state %s, got %s", protocol.StateWorking, next)
		}
	}
	if p.WaitingFor != nil {
		set++
		if next != protocol.StateWaiting {
			return fmt.Errorf("waitingFor payload requires state %s, got %s", protocol.StateWaiting, next)
		}
	}
	if p.Completion != nil {
		set++
		if next != protocol.StateComplete {
			return fmt.Errorf("completion payload requires state %s, got %s", protocol.StateComplete, next)
		}
	}
	if p.Error != nil {
		set++
		if next != protocol.StateError {
			return fmt.Errorf("error payload requires state %s, got %s", protocol.StateError, next)
		}
	}
	if set > 1 {
		return fmt.Errorf("state update must carry at most one payload, got %d", set)
	}
	switch next {
	case protocol.StateWorking:
		if p.Progress == nil {
			return fmt.Errorf("state %s requires a progress payload", next)
		}
	case protocol.StateWaiting:
		if p.WaitingFor == nil {
			return fmt.Errorf("state %s requires a waitingFor payload", next)
		}
	case protocol.StateComplete:
		if p.Completion == nil {
			return fmt.Errorf("state %s requires a completion payload", next)
		}
	case protocol.StateError:
		if p.Error == nil {
			return fmt.Errorf("state %s requires an error payload", next)
		}
	}
	return nil
}

// Machine applies transitions to stored sessions and emits one StateUpdate
// per accepted transition, in the order they are applied.
type Machine struct {
	store  *session.Store
	sink   events.Sink
	logger zerolog.Logger
}

// NewMachine creates a state machine bound to a store and an event sink.
func NewMachine(store *session.Store, sink events.Sink, logger zerolog.Logger) *Machine {
	observability.EnsureRegistered()
	return &Machine{store: store, sink: sink, logger: logger}
}

// Apply transitions the session and emits the resulting StateUpdate. A
// rejected transition is logged, leaves the session untouched, and emits
// nothing.
func (m *Machine) Apply(chatID, agentID string, input Input, payload Payload) (protocol.StateUpdate, error) {
	var update protocol.StateUpdate
	var applyErr error

	err := m.store.Mutate(chatID, func(sess *session.Session) {
		next, terr := Next(sess.State, input)
		if terr != nil {
			m.logger.Warn().
				Str("chat_id", chatID).
				Str("state", string(sess.State)).
				Str("input", string(input)).
				Msg("Transition rejected")
			observability.RecordRejectedTransition()
			applyErr = terr
			return
		}
		if verr := payload.validate(next); verr != nil {
			applyErr = verr
			return
		}
		sess.State = next
		update = protocol.StateUpdate{
			ChatID:     chatID,
			AgentID:    agentID,
			State:      next,
			Timestamp:  time.Now().UnixMilli(),
			Progress:   payload.Progress,
			WaitingFor: payload.WaitingFor,
			Completion: payload.Completion,
			Error:      payload.Error,
		}
	})
	if err != nil {
		return protocol.StateUpdate{}, err
	}
	if applyErr != nil {
		return protocol.StateUpdate{}, applyErr
	}

	m.sink.Emit(chatID, events.NewEvent(protocol.EvtStateUpdate, update))
	observability.RecordStateTransition(string(update.State))
	return update, nil
}
