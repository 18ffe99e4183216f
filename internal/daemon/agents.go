package daemon

import (
	"fmt"
	"os"
	"strings"

	"github.com/ternhq/tern/internal/config"
	"github.com/ternhq/tern/pkg/agent"
)

// buildAgentRegistry registers one agent kind per configured agent. API keys
// come from the provider config, with an environment fallback such as
// TERN_ANTHROPIC_API_KEY or ANTHROPIC_API_KEY.
func buildAgentRegistry(cfg *config.Config) (*agent.Registry, error) {
	keys := make(map[string]string, len(cfg.Providers))
	for _, p := range cfg.Providers {
		keys[p.Name] = p.APIKey
	}

	registry := agent.NewRegistry()
	for _, ac := range cfg.Agents {
		ac := ac
		apiKey := keys[ac.Provider]
		if apiKey == "" {
			apiKey = apiKeyFromEnv(ac.Provider)
		}
		if apiKey == "" {
			return nil, fmt.Errorf("no API key for provider %q (agent %s)", ac.Provider, ac.Type)
		}

		providerName := ac.Provider
		err := registry.Register(ac.Type, ac.Skills, func() (agent.Agent, error) {
			provider, err := agent.NewProvider(providerName, apiKey)
			if err != nil {
				return nil, err
			}
			return agent.NewLLMAgent(agent.LLMAgentConfig{
				Kind:         ac.Type,
				SystemPrompt: ac.SystemPrompt,
				Model:        ac.Model,
				Temperature:  ac.Temperature,
				MaxTokens:    ac.MaxTokens,
				Provider:     provider,
			}), nil
		})
		if err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func apiKeyFromEnv(provider string) string {
	upper := strings.ToUpper(provider)
	if v := os.Getenv("TERN_" + upper + "_API_KEY"); v != "" {
		return v
	}
	return os.Getenv(upper + "_API_KEY")
}
