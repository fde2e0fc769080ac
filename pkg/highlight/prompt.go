package highlight

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ChatMessage mirrors the OpenAI chat message shape loosely enough to accept
// both scalar and multi-part content.
type ChatMessage struct {
	Role       string          `json:"role"`
	Content    json.RawMessage `json:"content,omitempty"`
	ToolCalls  json.RawMessage `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
}

type contentPart struct {
	Type string `json:"type,omitempty"`
	Text string `json:"text,omitempty"`
}

type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

type ToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// BackendTool is the chat backend's tool declaration shape.
type BackendTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// FormatPrompt flattens a chat transcript into the single newline-delimited
// prompt string the backend consumes. Each message contributes one
// "role: content" line per scalar content, one line per multi-part element,
// plus lines for tool-call invocations and tool-call results. Blocks are
// joined by blank lines.
func FormatPrompt(messages []ChatMessage) string {
	var lines []string
	for _, m := range messages {
		if m.Role == "" {
			continue
		}
		scalar, parts := splitContent(m.Content)
		if scalar != "" {
			lines = append(lines, m.Role+": "+scalar)
		}
		for _, p := range parts {
			lines = append(lines, m.Role+": "+p.Text)
		}
		if calls := compactJSON(m.ToolCalls); calls != "" {
			lines = append(lines, m.Role+": "+calls)
		}
		if m.ToolCallID != "" {
			lines = append(lines, fmt.Sprintf("%s: tool_call_id: %s %s", m.Role, m.ToolCallID, scalar))
		}
	}
	return strings.Join(lines, "\n\n")
}

// splitContent decodes content as either a plain string or a part array.
// Content that is neither (or absent) yields nothing; a bad message never
// fails the whole transcript.
func splitContent(raw json.RawMessage) (string, []contentPart) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var parts []contentPart
	if err := json.Unmarshal(raw, &parts); err == nil {
		return "", parts
	}
	return "", nil
}

func compactJSON(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return ""
	}
	return buf.String()
}

// ConvertTools maps OpenAI function tools onto the backend's declaration
// shape. A nil tool list is an empty declaration list, never an error.
func ConvertTools(tools []Tool) []BackendTool {
	out := make([]BackendTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, BackendTool{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			Parameters:  t.Function.Parameters,
		})
	}
	return out
}
