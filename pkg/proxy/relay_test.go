package proxy

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
)

const upstreamStream = `data: {"type":"text","content":"Hel"}
data: {"type":"text","content":"lo"}
data: {"type":"tool_use","content":"ignored"}
data: {"type":"text","content":""}
garbage line without prefix
data: not json at all
data: {"type":"text","content":"!"}
`

func decodeChunks(t *testing.T, body string) []completionChunk {
	t.Helper()
	var chunks []completionChunk
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data: ") || line == "data: [DONE]" {
			continue
		}
		var c completionChunk
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &c); err != nil {
			t.Fatalf("bad chunk %q: %v", line, err)
		}
		chunks = append(chunks, c)
	}
	return chunks
}

func TestRelayStreamChunkSequence(t *testing.T) {
	rec := httptest.NewRecorder()
	relayStream(rec, strings.NewReader(upstreamStream), "gpt-4o")

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	body := rec.Body.String()
	if !strings.HasSuffix(body, "data: [DONE]\n\n") {
		t.Fatalf("stream must end with [DONE], got tail %q", body[max(0, len(body)-40):])
	}

	chunks := decodeChunks(t, body)
	// Role delta + three text fragments + finish chunk.
	if len(chunks) != 5 {
		t.Fatalf("expected 5 chunks, got %d", len(chunks))
	}
	if chunks[0].Choices[0].Delta.Role != "assistant" {
		t.Fatalf("first chunk must carry the role delta, got %+v", chunks[0])
	}
	var content strings.Builder
	for _, c := range chunks[1:4] {
		content.WriteString(c.Choices[0].Delta.Content)
	}
	if content.String() != "Hello!" {
		t.Fatalf("unexpected relayed content %q", content.String())
	}
	last := chunks[len(chunks)-1]
	if last.Choices[0].FinishReason == nil || *last.Choices[0].FinishReason != "stop" {
		t.Fatalf("final chunk must carry finish_reason stop, got %+v", last)
	}

	for _, c := range chunks {
		if c.Object != chatObjectChunk {
			t.Fatalf("unexpected object %q", c.Object)
		}
		if !strings.HasPrefix(c.ID, "chatcmpl-") {
			t.Fatalf("unexpected completion id %q", c.ID)
		}
		if c.ID != chunks[0].ID {
			t.Fatal("all chunks must share one completion id")
		}
		if c.Model != "gpt-4o" {
			t.Fatalf("unexpected model %q", c.Model)
		}
	}
}

func TestRelayStreamEmptyUpstream(t *testing.T) {
	rec := httptest.NewRecorder()
	relayStream(rec, strings.NewReader(""), "gpt-4o")

	chunks := decodeChunks(t, rec.Body.String())
	// Role delta and finish chunk only.
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks for empty upstream, got %d", len(chunks))
	}
	if !strings.HasSuffix(rec.Body.String(), "data: [DONE]\n\n") {
		t.Fatal("empty stream must still terminate with [DONE]")
	}
}

type brokenReader struct{ data string }

func (b *brokenReader) Read(p []byte) (int, error) {
	if b.data != "" {
		n := copy(p, b.data)
		b.data = b.data[n:]
		return n, nil
	}
	return 0, errors.New("connection reset")
}

func TestRelayStreamMidStreamErrorEmitsErrorEvent(t *testing.T) {
	rec := httptest.NewRecorder()
	relayStream(rec, &brokenReader{data: "data: {\"type\":\"text\",\"content\":\"partial\"}\n"}, "gpt-4o")

	body := rec.Body.String()
	if strings.HasSuffix(body, "data: [DONE]\n\n") {
		t.Fatal("broken stream must not terminate with [DONE]")
	}
	if !strings.Contains(body, "upstream_error") {
		t.Fatalf("expected in-band error event, got %q", body)
	}
	// The fragments read before the failure still reach the client.
	if !strings.Contains(body, "partial") {
		t.Fatal("expected partial content before the error event")
	}
}

func TestCollectResponseAggregates(t *testing.T) {
	rec := httptest.NewRecorder()
	collectResponse(rec, strings.NewReader(upstreamStream), "gpt-4o")

	if rec.Code != 200 {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	var resp completionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Object != chatObject {
		t.Fatalf("unexpected object %q", resp.Object)
	}
	if len(resp.Choices) != 1 {
		t.Fatalf("expected one choice, got %d", len(resp.Choices))
	}
	choice := resp.Choices[0]
	if choice.Message.Role != "assistant" || choice.Message.Content != "Hello!" {
		t.Fatalf("unexpected message %+v", choice.Message)
	}
	if choice.FinishReason != "stop" {
		t.Fatalf("unexpected finish reason %q", choice.FinishReason)
	}
	// The backend reports no token counts; usage must be present but zeroed.
	if resp.Usage.TotalTokens != 0 || resp.Usage.PromptTokens != 0 {
		t.Fatalf("expected zero usage, got %+v", resp.Usage)
	}
}
