package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ternhq/tern/internal/tracing"
	"github.com/ternhq/tern/pkg/events"
	"github.com/ternhq/tern/pkg/protocol"
)

const sseHeartbeatInterval = 15 * time.Second

// sseWriter serializes frames onto one response. The heartbeat goroutine
// and the event loop both write, so frames go through a lock.
type sseWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

func (sw *sseWriter) event(name string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	sw.mu.Lock()
	defer sw.mu.Unlock()
	if _, err := fmt.Fprintf(sw.w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	sw.flusher.Flush()
	return nil
}

func (sw *sseWriter) done() {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	fmt.Fprint(sw.w, "data: [DONE]\n\n")
	sw.flusher.Flush()
}

func (sw *sseWriter) comment(text string) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	fmt.Fprintf(sw.w, ": %s\n\n", text)
	sw.flusher.Flush()
}

// handleSendMessage dispatches a message and streams the run's events back
// as SSE until the run reaches a terminal state. The stream ends with a
// [DONE] marker on success or a single error frame on failure, never both.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("id")

	var req protocol.SendMessage
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorStatus(w, http.StatusBadRequest, protocol.NewAPIError(
			protocol.CodeActionFailed, "invalid request body: %v", err))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	// Subscribe before dispatch so the THINKING update is not missed. The
	// queue only borrows the binding: when the stream ends, or when dispatch
	// rejects the message, whichever sink was bound before gets it back.
	queue := events.NewQueue()
	prev := s.events.Bind(chatID, queue)
	defer func() {
		s.events.Release(chatID, queue, prev)
		queue.Close()
	}()

	ctx := tracing.NewRequestContext(r.Context())
	logger := tracing.LoggerFromContext(ctx, s.logger)

	if err := s.runner.Dispatch(ctx, chatID, req.Content, req.Attachments); err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sw := &sseWriter{w: w, flusher: flusher}
	sw.comment("connected")

	heartbeatDone := make(chan struct{})
	defer close(heartbeatDone)
	go func() {
		ticker := time.NewTicker(sseHeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-heartbeatDone:
				return
			case <-ticker.C:
				sw.comment("ping")
			}
		}
	}()

	for {
		ev, ok := queue.Next(ctx)
		if !ok {
			return
		}

		if update, isUpdate := ev.Payload.(protocol.StateUpdate); isUpdate && update.State == protocol.StateError {
			// Terminal failure: the error frame is the last thing written.
			if werr := sw.event(protocol.EvtError, update.Error); werr != nil {
				logger.Warn().Err(werr).Str("chat_id", chatID).Msg("SSE write failed")
			}
			return
		}

		if err := sw.event(ev.Name, ev.Payload); err != nil {
			logger.Warn().Err(err).Str("chat_id", chatID).Msg("SSE write failed, ending stream")
			return
		}

		switch ev.Name {
		case protocol.EvtMessageComplete:
			sw.done()
			return
		case protocol.EvtChatCancelled:
			sw.done()
			return
		}
	}
}
