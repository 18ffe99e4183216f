package config

// Config is the root daemon configuration.
type Config struct {
	Server    ServerConfig     `json:"server" mapstructure:"server"`
	Agents    []AgentConfig    `json:"agents" mapstructure:"agents"`
	Providers []ProviderConfig `json:"providers" mapstructure:"providers"`
	Handoff   HandoffConfig    `json:"handoff" mapstructure:"handoff"`
	Logging   LoggingConfig    `json:"logging" mapstructure:"logging"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	HTTPPort         int `json:"http_port" mapstructure:"http_port"`
	HeartbeatSeconds int `json:"heartbeat_seconds" mapstructure:"heartbeat_seconds"`
}

// AgentConfig describes one registerable agent kind.
type AgentConfig struct {
	Type         string   `json:"type" mapstructure:"type"`
	Name         string   `json:"name" mapstructure:"name"`
	Provider     string   `json:"provider" mapstructure:"provider"`
	Model        string   `json:"model" mapstructure:"model"`
	SystemPrompt string   `json:"system_prompt" mapstructure:"system_prompt"`
	Skills       []string `json:"skills" mapstructure:"skills"`
	Temperature  float64  `json:"temperature" mapstructure:"temperature"`
	MaxTokens    int      `json:"max_tokens" mapstructure:"max_tokens"`
}

// ProviderConfig holds one model provider's credentials.
type ProviderConfig struct {
	Name   string `json:"name" mapstructure:"name"`
	APIKey string `json:"api_key" mapstructure:"api_key"`
}

// HandoffConfig tunes the handoff coordinator.
type HandoffConfig struct {
	PendingTTLMinutes int `json:"pending_ttl_minutes" mapstructure:"pending_ttl_minutes"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `json:"level" mapstructure:"level"`
	File    string `json:"file" mapstructure:"file"`
	Console bool   `json:"console" mapstructure:"console"`
	Pretty  bool   `json:"pretty" mapstructure:"pretty"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:         8420,
			HeartbeatSeconds: 30,
		},
		Agents: []AgentConfig{
			{
				Type:         "general",
				Name:         "General Assistant",
				Provider:     "anthropic",
				Model:        "claude-sonnet-4-20250514",
				SystemPrompt: "You are a helpful assistant.",
				Temperature:  0.7,
				MaxTokens:    4096,
			},
		},
		Handoff: HandoffConfig{
			PendingTTLMinutes: 30,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			Pretty:  true,
		},
	}
}
