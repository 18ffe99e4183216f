package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModelRefUnmarshal(t *testing.T) {
	t.Run("accepts bare string", func(t *testing.T) {
		var req StartChat
		err := json.Unmarshal([]byte(`{"agentType":"general","model":"claude-sonnet-4"}`), &req)
		require.NoError(t, err)
		assert.Equal(t, "claude-sonnet-4", req.Model.ID)
	})

	t.Run("accepts object form", func(t *testing.T) {
		var req StartChat
		err := json.Unmarshal([]byte(`{"agentType":"general","model":{"id":"gpt-4.1"}}`), &req)
		require.NoError(t, err)
		assert.Equal(t, "gpt-4.1", req.Model.ID)
	})
}

func TestStateUpdateJSON(t *testing.T) {
	update := StateUpdate{
		ChatID:    "chat-1",
		State:     StateWorking,
		Timestamp: 1700000000000,
		Progress:  &Progress{Current: 2, Total: 5, Label: "building"},
	}

	data, err := json.Marshal(update)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "working", decoded["state"])
	assert.Contains(t, decoded, "progress")
	assert.NotContains(t, decoded, "waitingFor")
	assert.NotContains(t, decoded, "completion")
	assert.NotContains(t, decoded, "error")
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, StateComplete.IsTerminal())
	assert.True(t, StateError.IsTerminal())
	assert.False(t, StateIdle.IsTerminal())
	assert.False(t, StateWorking.IsTerminal())
	assert.False(t, StateWaiting.IsTerminal())
}

func TestErrorCodes(t *testing.T) {
	t.Run("recoverable set", func(t *testing.T) {
		recoverable := []ErrorCode{
			CodeAgentBusy, CodeAgentTimeout, CodeModelNotAvailable,
			CodeModelRateLimited, CodeWorkAPIError,
		}
		for _, code := range recoverable {
			assert.True(t, code.Recoverable(), "expected %s to be recoverable", code)
		}

		terminal := []ErrorCode{
			CodeAgentNotFound, CodeModelContextExceeded, CodeSkillNotFound,
			CodeUnauthorized, CodeForbidden, CodeSessionNotFound,
		}
		for _, code := range terminal {
			assert.False(t, code.Recoverable(), "expected %s to be terminal", code)
		}
	})

	t.Run("detail carries recoverability", func(t *testing.T) {
		apiErr := NewAPIError(CodeModelRateLimited, "slow down")
		apiErr.RetryAfter = 30

		detail := apiErr.Detail()
		assert.Equal(t, CodeModelRateLimited, detail.Code)
		assert.True(t, detail.Recoverable)
		assert.Equal(t, 30, detail.RetryAfter)
	})

	t.Run("error string", func(t *testing.T) {
		apiErr := NewAPIError(CodeAgentNotFound, "unknown agent type: %s", "ghost")
		assert.Equal(t, "AGENT_NOT_FOUND: unknown agent type: ghost", apiErr.Error())
	})
}
