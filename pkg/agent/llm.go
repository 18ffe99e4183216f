package agent

import (
	"context"
	"errors"
	"strings"

	"github.com/ternhq/tern/pkg/protocol"
)

// LLMAgent is the chat-completion-backed agent kind: a thin orchestrator
// that turns session history plus the new prompt into one provider call.
type LLMAgent struct {
	kind         string
	systemPrompt string
	defaultModel string
	temperature  float64
	maxTokens    int
	provider     Provider
}

// LLMAgentConfig configures an LLM-backed agent kind.
type LLMAgentConfig struct {
	Kind         string
	SystemPrompt string
	Model        string
	Temperature  float64
	MaxTokens    int
	Provider     Provider
}

// NewLLMAgent creates an LLM-backed agent.
func NewLLMAgent(cfg LLMAgentConfig) *LLMAgent {
	return &LLMAgent{
		kind:         cfg.Kind,
		systemPrompt: cfg.SystemPrompt,
		defaultModel: cfg.Model,
		temperature:  cfg.Temperature,
		maxTokens:    cfg.MaxTokens,
		provider:     cfg.Provider,
	}
}

// Kind returns the agent kind.
func (a *LLMAgent) Kind() string {
	return a.kind
}

// Execute runs one task to completion against the provider.
func (a *LLMAgent) Execute(ctx context.Context, task Task, emit func(Update)) (Outcome, error) {
	model := task.Model
	if model == "" {
		model = a.defaultModel
	}

	messages := make([]ChatMessage, 0, len(task.History)+1)
	for _, msg := range task.History {
		if msg.Role == "user" || msg.Role == "assistant" {
			messages = append(messages, ChatMessage{Role: msg.Role, Content: msg.Content})
		}
	}
	messages = append(messages, ChatMessage{Role: "user", Content: task.Prompt})

	systemPrompt := a.systemPrompt
	if task.Handoff != nil && task.Handoff.Summary != "" {
		systemPrompt += "\n\n# Handoff context from " + task.Handoff.ParentAgentType + "\n\n" + task.Handoff.Summary
	}

	emit(Update{Kind: UpdateProgress, Current: 1, Total: 2, Label: "calling model"})

	response, err := a.provider.Complete(ctx, ChatRequest{
		Model:        model,
		SystemPrompt: systemPrompt,
		Messages:     messages,
		Temperature:  a.temperature,
		MaxTokens:    a.maxTokens,
	})
	if err != nil {
		return Outcome{}, ClassifyError(err)
	}

	emit(Update{Kind: UpdateProgress, Current: 2, Total: 2, Label: "done"})

	return Outcome{Summary: response.Content}, nil
}

// Close releases provider resources. Chat providers hold nothing beyond
// their HTTP client.
func (a *LLMAgent) Close() error {
	return nil
}

// ClassifyError maps a collaborator fault to the protocol error taxonomy.
// APIErrors pass through; everything else is inspected for known provider
// failure shapes and defaults to SKILL_EXECUTION_FAILED.
func ClassifyError(err error) *protocol.APIError {
	var apiErr *protocol.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	msg := err.Error()
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "rate limit") || strings.Contains(msg, "429"):
		return &protocol.APIError{Code: protocol.CodeModelRateLimited, Message: msg, RetryAfter: 30}
	case strings.Contains(lower, "context length") || strings.Contains(lower, "context_length") ||
		strings.Contains(lower, "prompt is too long"):
		return &protocol.APIError{Code: protocol.CodeModelContextExceeded, Message: msg}
	case errors.Is(err, context.DeadlineExceeded) || strings.Contains(lower, "timeout"):
		return &protocol.APIError{Code: protocol.CodeAgentTimeout, Message: msg}
	case strings.Contains(lower, "model") && strings.Contains(lower, "not"):
		return &protocol.APIError{Code: protocol.CodeModelNotAvailable, Message: msg}
	default:
		return &protocol.APIError{Code: protocol.CodeSkillExecutionFailed, Message: msg}
	}
}
