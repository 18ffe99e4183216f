package config

import "fmt"

// Validate checks a configuration for values the daemon cannot run with.
func Validate(cfg *Config) error {
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port: %d", cfg.Server.HTTPPort)
	}
	if cfg.Server.HeartbeatSeconds < 0 {
		return fmt.Errorf("invalid heartbeat_seconds: %d", cfg.Server.HeartbeatSeconds)
	}

	if len(cfg.Agents) == 0 {
		return fmt.Errorf("at least one agent must be configured")
	}
	seen := make(map[string]bool, len(cfg.Agents))
	for i, a := range cfg.Agents {
		if a.Type == "" {
			return fmt.Errorf("agents[%d]: type is required", i)
		}
		if seen[a.Type] {
			return fmt.Errorf("agents[%d]: duplicate agent type %q", i, a.Type)
		}
		seen[a.Type] = true
		if a.Model == "" {
			return fmt.Errorf("agents[%d] (%s): model is required", i, a.Type)
		}
		if a.Provider == "" {
			return fmt.Errorf("agents[%d] (%s): provider is required", i, a.Type)
		}
		if a.Temperature < 0 || a.Temperature > 2 {
			return fmt.Errorf("agents[%d] (%s): temperature must be in [0, 2]", i, a.Type)
		}
	}

	providers := make(map[string]bool, len(cfg.Providers))
	for i, p := range cfg.Providers {
		if p.Name == "" {
			return fmt.Errorf("providers[%d]: name is required", i)
		}
		providers[p.Name] = true
	}
	for _, a := range cfg.Agents {
		if len(cfg.Providers) > 0 && !providers[a.Provider] {
			return fmt.Errorf("agent %s references unknown provider %q", a.Type, a.Provider)
		}
	}

	if cfg.Handoff.PendingTTLMinutes < 0 {
		return fmt.Errorf("invalid pending_ttl_minutes: %d", cfg.Handoff.PendingTTLMinutes)
	}

	switch cfg.Logging.Level {
	case "", "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level: %s", cfg.Logging.Level)
	}

	return nil
}
