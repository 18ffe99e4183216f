package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Payload schemas for client->server messages. Validation happens once at
// the transport boundary; handlers can assume shape after it passes.
var payloadSchemas = map[string]string{
	MsgChatStart: `{
		"type": "object",
		"properties": {
			"agentType": {"type": "string", "minLength": 1},
			"model": {},
			"organizationId": {"type": "string"},
			"userId": {"type": "string"},
			"skills": {"type": "array", "items": {"type": "string"}},
			"context": {"type": "object"}
		},
		"required": ["agentType"]
	}`,
	MsgMessageSend: `{
		"type": "object",
		"properties": {
			"content": {"type": "string", "minLength": 1},
			"attachments": {"type": "array", "items": {"type": "string"}}
		},
		"required": ["content"]
	}`,
	MsgActionExecute: `{
		"type": "object",
		"properties": {
			"actionType": {"type": "string", "minLength": 1},
			"config": {"type": "object"},
			"artifactId": {"type": "string"}
		},
		"required": ["actionType"]
	}`,
	MsgModelSwitch: `{
		"type": "object",
		"properties": {
			"newModelId": {"type": "string", "minLength": 1}
		},
		"required": ["newModelId"]
	}`,
	MsgSkillToggle: `{
		"type": "object",
		"properties": {
			"skillId": {"type": "string", "minLength": 1},
			"enabled": {"type": "boolean"}
		},
		"required": ["skillId", "enabled"]
	}`,
	MsgHandoffApprove: `{"type": "object"}`,
	MsgChatCancel:     `{"type": "object"}`,
	MsgPing:           `{"type": "object"}`,
}

var compiledSchemas = func() map[string]*gojsonschema.Schema {
	out := make(map[string]*gojsonschema.Schema, len(payloadSchemas))
	for msgType, raw := range payloadSchemas {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(raw))
		if err != nil {
			panic(fmt.Sprintf("invalid schema for %s: %v", msgType, err))
		}
		out[msgType] = schema
	}
	return out
}()

// ValidatePayload checks a raw payload against the schema for its message
// type. Message types without a schema pass (the dispatcher decides whether
// to ignore them).
func ValidatePayload(msgType string, payload json.RawMessage) error {
	schema, ok := compiledSchemas[msgType]
	if !ok {
		return nil
	}
	// An omitted payload serializes as absent or as literal null; both mean
	// "no fields" and validate like an empty object.
	if len(payload) == 0 || string(bytes.TrimSpace(payload)) == "null" {
		payload = json.RawMessage(`{}`)
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return fmt.Errorf("payload is not valid JSON: %w", err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, desc.String())
	}
	return fmt.Errorf("invalid %s payload: %s", msgType, strings.Join(msgs, "; "))
}
