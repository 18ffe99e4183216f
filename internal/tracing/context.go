package tracing

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const (
	traceIDKey   contextKey = "trace_id"
	runIDKey     contextKey = "run_id"
	chatIDKey    contextKey = "chat_id"
	agentTypeKey contextKey = "agent_type"
)

// NewTraceID generates a fresh trace ID.
func NewTraceID() string {
	return uuid.New().String()
}

// NewRunID generates a fresh run ID.
func NewRunID() string {
	return uuid.New().String()
}

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

func WithChatID(ctx context.Context, chatID string) context.Context {
	return context.WithValue(ctx, chatIDKey, chatID)
}

func WithAgentType(ctx context.Context, agentType string) context.Context {
	return context.WithValue(ctx, agentTypeKey, agentType)
}

func GetTraceID(ctx context.Context) string { return stringValue(ctx, traceIDKey) }

func GetRunID(ctx context.Context) string { return stringValue(ctx, runIDKey) }

func GetChatID(ctx context.Context) string { return stringValue(ctx, chatIDKey) }

func GetAgentType(ctx context.Context) string { return stringValue(ctx, agentTypeKey) }

func stringValue(ctx context.Context, key contextKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// NewRequestContext starts a trace for one inbound request.
func NewRequestContext(ctx context.Context) context.Context {
	return WithTraceID(ctx, NewTraceID())
}

// NewRunContext creates the context for one agent run: the trace ID is kept
// (or minted if absent) and a fresh run ID, chat ID, and agent type are
// attached.
func NewRunContext(ctx context.Context, chatID, agentType string) context.Context {
	if GetTraceID(ctx) == "" {
		ctx = WithTraceID(ctx, NewTraceID())
	}
	ctx = WithRunID(ctx, NewRunID())
	ctx = WithChatID(ctx, chatID)
	return WithAgentType(ctx, agentType)
}
