package highlight

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msg(role, content string) ChatMessage {
	b, _ := json.Marshal(content)
	return ChatMessage{Role: role, Content: b}
}

func TestFormatPromptScalarContent(t *testing.T) {
	got := FormatPrompt([]ChatMessage{
		msg("system", "You are terse."),
		msg("user", "Hi"),
	})
	assert.Equal(t, "system: You are terse.\n\nuser: Hi", got)
}

func TestFormatPromptMultiPartContent(t *testing.T) {
	got := FormatPrompt([]ChatMessage{
		{Role: "user", Content: json.RawMessage(`[{"type":"text","text":"first"},{"type":"text","text":"second"}]`)},
	})
	assert.Equal(t, "user: first\n\nuser: second", got)
}

func TestFormatPromptToolCalls(t *testing.T) {
	got := FormatPrompt([]ChatMessage{
		{Role: "assistant", ToolCalls: json.RawMessage(`[{"id": "call_1", "type": "function"}]`)},
	})
	assert.Equal(t, `assistant: [{"id":"call_1","type":"function"}]`, got)
}

func TestFormatPromptToolResult(t *testing.T) {
	m := msg("tool", "42")
	m.ToolCallID = "call_1"
	got := FormatPrompt([]ChatMessage{m})
	assert.Contains(t, got, "tool: 42")
	assert.Contains(t, got, "tool: tool_call_id: call_1 42")
}

func TestFormatPromptSkipsMalformedContent(t *testing.T) {
	got := FormatPrompt([]ChatMessage{
		{Role: "user", Content: json.RawMessage(`{"unexpected":"object"}`)},
		msg("user", "still here"),
	})
	assert.Equal(t, "user: still here", got)
}

func TestConvertTools(t *testing.T) {
	assert.NotNil(t, ConvertTools(nil))
	assert.Empty(t, ConvertTools(nil))

	out := ConvertTools([]Tool{{
		Type: "function",
		Function: ToolFunction{
			Name:        "get_weather",
			Description: "Current weather",
			Parameters:  json.RawMessage(`{"type":"object"}`),
		},
	}})
	require.Len(t, out, 1)
	assert.Equal(t, "get_weather", out[0].Name)
	assert.Equal(t, "Current weather", out[0].Description)
}
