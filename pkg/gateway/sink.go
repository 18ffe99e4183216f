package gateway

import (
	"github.com/rs/zerolog"
	"github.com/ternhq/tern/pkg/events"
	"github.com/ternhq/tern/pkg/protocol"
)

// connSink adapts one websocket client to the event sink interface. Writes
// are best-effort: a failed write is logged and dropped, never retried, so a
// dead connection cannot stall a run.
type connSink struct {
	client *Client
	logger zerolog.Logger
}

func newConnSink(client *Client, logger zerolog.Logger) *connSink {
	return &connSink{client: client, logger: logger}
}

func (s *connSink) Emit(chatID string, ev events.Event) {
	err := s.client.WriteEnvelope(protocol.Envelope{
		Type:    ev.Name,
		Payload: ev.Payload,
	})
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("client_id", s.client.ID).
			Str("chat_id", chatID).
			Str("event", ev.Name).
			Msg("Event write failed, dropping")
	}
}
