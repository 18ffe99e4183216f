package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePayload(t *testing.T) {
	t.Run("valid chat:start", func(t *testing.T) {
		payload := json.RawMessage(`{"agentType":"general","model":"m-1","userId":"u-1"}`)
		assert.NoError(t, ValidatePayload(MsgChatStart, payload))
	})

	t.Run("chat:start requires agentType", func(t *testing.T) {
		payload := json.RawMessage(`{"model":"m-1"}`)
		err := ValidatePayload(MsgChatStart, payload)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "agentType")
	})

	t.Run("message:send rejects empty content", func(t *testing.T) {
		assert.Error(t, ValidatePayload(MsgMessageSend, json.RawMessage(`{"content":""}`)))
		assert.Error(t, ValidatePayload(MsgMessageSend, json.RawMessage(`{}`)))
		assert.NoError(t, ValidatePayload(MsgMessageSend, json.RawMessage(`{"content":"hi"}`)))
	})

	t.Run("skill:toggle requires both fields", func(t *testing.T) {
		assert.Error(t, ValidatePayload(MsgSkillToggle, json.RawMessage(`{"skillId":"s-1"}`)))
		assert.NoError(t, ValidatePayload(MsgSkillToggle, json.RawMessage(`{"skillId":"s-1","enabled":false}`)))
	})

	t.Run("empty payload allowed for parameterless messages", func(t *testing.T) {
		assert.NoError(t, ValidatePayload(MsgPing, nil))
		assert.NoError(t, ValidatePayload(MsgChatCancel, nil))
	})

	t.Run("null payload allowed for parameterless messages", func(t *testing.T) {
		// An envelope without a payload serializes it as literal null.
		data, err := json.Marshal(Envelope{Type: MsgPing})
		require.NoError(t, err)
		var env struct {
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		require.NoError(t, json.Unmarshal(data, &env))

		assert.NoError(t, ValidatePayload(MsgPing, env.Payload))
		assert.NoError(t, ValidatePayload(MsgChatCancel, json.RawMessage(`null`)))
		assert.NoError(t, ValidatePayload(MsgHandoffApprove, json.RawMessage(` null `)))
	})

	t.Run("null payload still fails required fields", func(t *testing.T) {
		assert.Error(t, ValidatePayload(MsgMessageSend, json.RawMessage(`null`)))
	})

	t.Run("unknown message types pass", func(t *testing.T) {
		assert.NoError(t, ValidatePayload("something:else", json.RawMessage(`"whatever"`)))
	})

	t.Run("malformed JSON rejected", func(t *testing.T) {
		assert.Error(t, ValidatePayload(MsgMessageSend, json.RawMessage(`{not json`)))
	})
}
