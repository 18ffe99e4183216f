package daemon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternhq/tern/internal/config"
	"github.com/ternhq/tern/internal/logger"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Providers = []config.ProviderConfig{{Name: "anthropic", APIKey: "test-key"}}
	cfg.Logging.Console = false
	return cfg
}

func newTestDaemon(t *testing.T) *Daemon {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "error"})
	require.NoError(t, err)
	d, err := New(testConfig(), log)
	require.NoError(t, err)
	return d
}

func TestReconfigureRebuildsAgentCatalog(t *testing.T) {
	d := newTestDaemon(t)
	require.True(t, d.agents.Has("general"))
	require.False(t, d.agents.Has("analyst"))

	next := testConfig()
	next.Agents = append(next.Agents, config.AgentConfig{
		Type:     "analyst",
		Name:     "Analyst",
		Provider: "anthropic",
		Model:    "claude-sonnet-4-20250514",
		Skills:   []string{"analysis"},
	})
	require.NoError(t, d.Reconfigure(next))

	// Sessions started after the reload resolve against the new catalog.
	assert.True(t, d.agents.Has("analyst"))
	assert.True(t, d.agents.HasSkill("analyst", "analysis"))
	assert.True(t, d.agents.Has("general"))
}

func TestReconfigureRejectsBrokenConfig(t *testing.T) {
	d := newTestDaemon(t)
	t.Setenv("TERN_GHOSTPROV_API_KEY", "")
	t.Setenv("GHOSTPROV_API_KEY", "")

	bad := testConfig()
	bad.Providers = nil
	bad.Agents = []config.AgentConfig{{Type: "ghost", Provider: "ghostprov", Model: "m-1"}}

	assert.Error(t, d.Reconfigure(bad))
	// The previous catalog survives a rejected reload.
	assert.True(t, d.agents.Has("general"))
	assert.False(t, d.agents.Has("ghost"))
}
