package agent

import (
	"context"
	"fmt"
)

// ChatMessage is one turn sent to a chat-completion provider.
type ChatMessage struct {
	Role    string
	Content string
}

// ChatRequest contains the parameters for one provider call.
type ChatRequest struct {
	Model        string
	SystemPrompt string
	Messages     []ChatMessage
	Temperature  float64
	MaxTokens    int
}

// TokenUsage tracks token consumption for one call.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ChatResponse is the provider's reply.
type ChatResponse struct {
	Content string
	Usage   *TokenUsage
}

// Provider is a chat-completion backend.
type Provider interface {
	// Complete makes one model call.
	Complete(ctx context.Context, request ChatRequest) (*ChatResponse, error)

	// Name returns the provider name.
	Name() string
}

// NewProvider creates a provider by name.
func NewProvider(name, apiKey string) (Provider, error) {
	switch name {
	case "anthropic":
		return NewAnthropicProvider(apiKey), nil
	case "openai":
		return NewOpenAIProvider(apiKey), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", name)
	}
}
