package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/ternhq/tern/internal/observability"
)

// Event is one protocol event addressed to a single session. Name is a
// server->client event type; Payload is serialized by the owning transport.
type Event struct {
	Name      string
	Payload   interface{}
	Timestamp int64
}

// NewEvent stamps an event with the current time.
func NewEvent(name string, payload interface{}) Event {
	return Event{Name: name, Payload: payload, Timestamp: time.Now().UnixMilli()}
}

// Sink accepts protocol events for one session. Emit must not block the
// caller beyond the time it takes to enqueue or write; it never mutates the
// session itself.
type Sink interface {
	Emit(chatID string, ev Event)
}

// Registry routes events to whichever sink currently owns each session.
// Events for a session without a bound sink are dropped and counted.
type Registry struct {
	mu     sync.RWMutex
	sinks  map[string]Sink
	logger zerolog.Logger
}

// NewRegistry creates an empty sink registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	observability.EnsureRegistered()
	return &Registry{
		sinks:  make(map[string]Sink),
		logger: logger,
	}
}

// Bind makes sink the owner of the session's events and returns the sink it
// displaced, if any. A later bind replaces an earlier one; the replaced sink
// stops receiving events immediately.
func (r *Registry) Bind(chatID string, sink Sink) Sink {
	r.mu.Lock()
	prev := r.sinks[chatID]
	r.sinks[chatID] = sink
	r.mu.Unlock()
	return prev
}

// Unbind removes sink as the owner of the session's events. If another sink
// has already taken over, Unbind leaves it in place.
func (r *Registry) Unbind(chatID string, sink Sink) {
	r.mu.Lock()
	if current, ok := r.sinks[chatID]; ok && current == sink {
		delete(r.sinks, chatID)
	}
	r.mu.Unlock()
}

// Release undoes a Bind: if sink still owns the session, ownership goes
// back to the sink it displaced (or to nobody). If another sink has already
// taken over, Release leaves it in place.
func (r *Registry) Release(chatID string, sink, prev Sink) {
	r.mu.Lock()
	if current, ok := r.sinks[chatID]; ok && current == sink {
		if prev != nil {
			r.sinks[chatID] = prev
		} else {
			delete(r.sinks, chatID)
		}
	}
	r.mu.Unlock()
}

// Emit delivers the event to the session's current sink, in call order.
func (r *Registry) Emit(chatID string, ev Event) {
	r.mu.RLock()
	sink, ok := r.sinks[chatID]
	r.mu.RUnlock()

	if !ok {
		observability.RecordEventDropped()
		r.logger.Debug().
			Str("chat_id", chatID).
			Str("event", ev.Name).
			Msg("No transport bound, event dropped")
		return
	}

	sink.Emit(chatID, ev)
	observability.RecordEventEmitted(ev.Name)
}
