package proxy

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/quietgrid/hlgateway/pkg/metrics"
)

const chatObjectChunk = "chat.completion.chunk"
const chatObject = "chat.completion"

// errClientGone marks a write failure toward the client, as opposed to a
// read failure from the upstream.
var errClientGone = errors.New("client write failed")

type chunkDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

type chunkChoice struct {
	Index        int        `json:"index"`
	Delta        chunkDelta `json:"delta"`
	FinishReason *string    `json:"finish_reason"`
}

type completionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []chunkChoice `json:"choices"`
}

type completionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionChoice struct {
	Index        int               `json:"index"`
	Message      completionMessage `json:"message"`
	FinishReason string            `json:"finish_reason"`
}

type completionUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type completionResponse struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []completionChoice `json:"choices"`
	Usage   completionUsage    `json:"usage"`
}

func newCompletionID() string {
	return "chatcmpl-" + uuid.NewString()
}

func writeStreamHeaders(w http.ResponseWriter) {
	setCORSHeaders(w.Header())
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
}

// writeErrorEvent pushes a single in-band error event. No [DONE] follows:
// the stream ends on the error.
func writeErrorEvent(w http.ResponseWriter, err error) {
	b, _ := json.Marshal(map[string]any{"error": map[string]string{"message": err.Error(), "type": "upstream_error"}})
	fmt.Fprintf(w, "data: %s\n\n", b)
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

// relayStreamError reports a chat call that failed before any bytes arrived.
// Streaming clients have already committed to an event stream, so the error
// travels in-band on a 200 rather than as a JSON error response.
func relayStreamError(w http.ResponseWriter, err error) {
	log.Debug("chat stream rejected upstream", "err", err)
	writeStreamHeaders(w)
	writeErrorEvent(w, err)
}

// textEvents walks the backend's line-delimited event stream and calls emit
// for every text fragment. Lines that are not data-prefixed, not JSON, not
// type "text", or carry empty content are skipped. Returns on upstream EOF.
func textEvents(body io.Reader, emit func(string) error) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || !gjson.Valid(payload) {
			continue
		}
		if gjson.Get(payload, "type").String() != "text" {
			continue
		}
		content := gjson.Get(payload, "content").String()
		if content == "" {
			continue
		}
		if err := emit(content); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return err
	}
	return nil
}

// relayStream converts the backend event stream into OpenAI SSE chunks: one
// role delta first, one chunk per text fragment, a finish chunk, then [DONE].
func relayStream(w http.ResponseWriter, upstream io.Reader, model string) {
	writeStreamHeaders(w)

	flusher, _ := w.(http.Flusher)
	id := newCompletionID()
	created := time.Now().Unix()

	send := func(c completionChunk) error {
		b, err := json.Marshal(c)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", b); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	}
	base := func() completionChunk {
		return completionChunk{ID: id, Object: chatObjectChunk, Created: created, Model: model}
	}

	role := base()
	role.Choices = []chunkChoice{{Delta: chunkDelta{Role: "assistant"}}}
	if err := send(role); err != nil {
		return
	}

	err := textEvents(upstream, func(content string) error {
		c := base()
		c.Choices = []chunkChoice{{Delta: chunkDelta{Content: content}}}
		metrics.StreamChunksTotal.Inc()
		if err := send(c); err != nil {
			return fmt.Errorf("%w: %v", errClientGone, err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errClientGone) {
			log.Debug("stream relay ended early, client gone", "err", err)
			return
		}
		// Upstream broke mid-stream; tell the client in-band and close.
		log.Debug("upstream stream failed", "err", err)
		writeErrorEvent(w, err)
		return
	}

	stop := "stop"
	fin := base()
	fin.Choices = []chunkChoice{{Delta: chunkDelta{}, FinishReason: &stop}}
	if err := send(fin); err != nil {
		return
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	if flusher != nil {
		flusher.Flush()
	}
}

// collectResponse drains the backend stream into a single non-streaming chat
// completion. Token accounting is not available from the backend, so usage is
// reported as zeros.
func collectResponse(w http.ResponseWriter, upstream io.Reader, model string) {
	var sb strings.Builder
	err := textEvents(upstream, func(content string) error {
		sb.WriteString(content)
		return nil
	})
	if err != nil {
		writeError(w, &UpstreamError{Status: http.StatusBadGateway, Body: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, completionResponse{
		ID:      newCompletionID(),
		Object:  chatObject,
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []completionChoice{{
			Message:      completionMessage{Role: "assistant", Content: sb.String()},
			FinishReason: "stop",
		}},
	})
}
