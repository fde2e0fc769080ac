package proxy

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/quietgrid/hlgateway/pkg/highlight"
)

const defaultModel = "gpt-4o"

type chatCompletionRequest struct {
	Model    string                  `json:"model"`
	Messages []highlight.ChatMessage `json:"messages"`
	Stream   bool                    `json:"stream"`
	Tools    []highlight.Tool        `json:"tools"`
}

// handleChatCompletions is the OpenAI-compatible chat endpoint. It resolves
// the caller's session into a backend access token, flattens the transcript,
// and relays the backend stream in whichever shape the caller asked for.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	sess, err := sessionFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req chatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errBadRequest("decode request body: %v", err))
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, errBadRequest("messages must not be empty"))
		return
	}
	modelName := strings.TrimSpace(req.Model)
	if modelName == "" {
		modelName = defaultModel
	}

	ctx := r.Context()
	accessToken, err := s.tokens.AccessToken(ctx, sess.RefreshToken)
	if err != nil {
		writeError(w, err)
		return
	}
	model, err := s.models.Resolve(ctx, accessToken, modelName)
	if err != nil {
		writeError(w, err)
		return
	}

	identifier := ""
	if sess.UserID != "" {
		identifier, err = highlight.Identifier(sess.UserID, sess.ClientUUID)
		if err != nil {
			log.Warn("build chat identifier", "err", err)
			identifier = ""
		}
	}

	payload := highlight.NewChatPayload(
		highlight.FormatPrompt(req.Messages),
		model.ID,
		highlight.ConvertTools(req.Tools),
		s.timezone,
	)
	resp, err := s.upstream.Chat(ctx, accessToken, identifier, payload)
	if err != nil {
		writeError(w, &UpstreamError{Status: http.StatusBadGateway, Body: err.Error()})
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if resp.StatusCode == http.StatusUnauthorized {
			s.tokens.Invalidate(sess.RefreshToken)
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		upErr := &UpstreamError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		if req.Stream {
			// The caller asked for an event stream, so the error goes in-band.
			relayStreamError(w, upErr)
			return
		}
		writeError(w, upErr)
		return
	}

	if req.Stream {
		relayStream(w, resp.Body, modelName)
		return
	}
	collectResponse(w, resp.Body, modelName)
}

// handleListModels serves the catalog in the OpenAI list shape. Model names
// become IDs because that is what clients send back in chat requests.
func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	sess, err := sessionFromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	ctx := r.Context()
	accessToken, err := s.tokens.AccessToken(ctx, sess.RefreshToken)
	if err != nil {
		writeError(w, err)
		return
	}
	models, err := s.models.List(ctx, accessToken)
	if err != nil {
		writeError(w, err)
		return
	}

	type modelEntry struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		Created int64  `json:"created"`
		OwnedBy string `json:"owned_by"`
	}
	entries := make([]modelEntry, 0, len(models))
	for _, m := range models {
		owner := m.Provider
		if owner == "" {
			owner = "highlight"
		}
		entries = append(entries, modelEntry{ID: m.Name, Object: "model", OwnedBy: owner})
	}
	writeJSON(w, http.StatusOK, map[string]any{"object": "list", "data": entries})
}
