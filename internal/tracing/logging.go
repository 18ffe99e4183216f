package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// LoggerFromContext returns a logger annotated with whatever tracing fields
// the context carries.
func LoggerFromContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	if traceID := GetTraceID(ctx); traceID != "" {
		logger = logger.With().Str("trace_id", traceID).Logger()
	}
	if runID := GetRunID(ctx); runID != "" {
		logger = logger.With().Str("run_id", runID).Logger()
	}
	if chatID := GetChatID(ctx); chatID != "" {
		logger = logger.With().Str("chat_id", chatID).Logger()
	}
	if agentType := GetAgentType(ctx); agentType != "" {
		logger = logger.With().Str("agent_type", agentType).Logger()
	}
	return logger
}
