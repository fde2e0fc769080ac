package highlight

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// UserAgent is the desktop client identity the backend expects on every call.
const UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Highlight/1.3.61 Chrome/132.0.6834.210 Electron/34.5.8 Safari/537.36"

// HTTPError reports a non-success response from the chat backend.
type HTTPError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("highlight %s status %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// Client talks to the Highlight chat backend. The zero timeout on the chat
// transport is deliberate: chat responses stream for as long as the model
// generates.
type Client struct {
	baseURL    string
	httpClient *http.Client
	chatClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		chatClient: &http.Client{},
	}
}

// Model is one catalog entry as the backend reports it.
type Model struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Provider string `json:"provider"`
	Pricing  struct {
		IsFree bool `json:"isFree"`
	} `json:"pricing"`
}

// ChatPayload is the backend's chat request shape. FixedDefaults fills the
// fields the OpenAI surface does not expose.
type ChatPayload struct {
	Prompt          string        `json:"prompt"`
	AttachedContext []any         `json:"attachedContext"`
	ModelID         string        `json:"modelId"`
	AdditionalTools []BackendTool `json:"additionalTools"`
	BackendPlugins  []any         `json:"backendPlugins"`
	UseMemory       bool          `json:"useMemory"`
	UseKnowledge    bool          `json:"useKnowledge"`
	Ephemeral       bool          `json:"ephemeral"`
	Timezone        string        `json:"timezone"`
}

func NewChatPayload(prompt, modelID string, tools []BackendTool, timezone string) ChatPayload {
	if tools == nil {
		tools = []BackendTool{}
	}
	return ChatPayload{
		Prompt:          prompt,
		AttachedContext: []any{},
		ModelID:         modelID,
		AdditionalTools: tools,
		BackendPlugins:  []any{},
		Timezone:        timezone,
	}
}

type successEnvelope struct {
	Success bool            `json:"success"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) postJSON(ctx context.Context, endpoint string, body any, headers map[string]string) (*http.Response, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", endpoint, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.httpClient.Do(req)
}

func decodeEnvelope(endpoint string, resp *http.Response, out any) error {
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &HTTPError{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	var env successEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	if !env.Success {
		msg := strings.TrimSpace(env.Error)
		if msg == "" {
			msg = "request rejected"
		}
		return fmt.Errorf("highlight %s: %s", endpoint, msg)
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode %s data: %w", endpoint, err)
		}
	}
	return nil
}

// Refresh trades a refresh credential for a fresh access token.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (string, error) {
	resp, err := c.postJSON(ctx, "/api/v1/auth/refresh", map[string]string{"refreshToken": refreshToken}, nil)
	if err != nil {
		return "", fmt.Errorf("refresh access token: %w", err)
	}
	var data struct {
		AccessToken string `json:"accessToken"`
	}
	if err := decodeEnvelope("/api/v1/auth/refresh", resp, &data); err != nil {
		return "", err
	}
	if strings.TrimSpace(data.AccessToken) == "" {
		return "", fmt.Errorf("refresh access token: empty token in response")
	}
	return data.AccessToken, nil
}

// ListModels fetches the full model catalog.
func (c *Client) ListModels(ctx context.Context, accessToken string) ([]Model, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/models", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("User-Agent", UserAgent)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	var models []Model
	if err := decodeEnvelope("/api/v1/models", resp, &models); err != nil {
		return nil, err
	}
	return models, nil
}

// Chat starts a chat call and hands back the raw response for the stream
// relay to consume. The response is returned even on non-2xx status so the
// relay can report it in-band; the caller owns closing the body.
func (c *Client) Chat(ctx context.Context, accessToken, identifier string, payload ChatPayload) (*http.Response, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode chat request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/chat", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Language", "zh-CN")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", UserAgent)
	if identifier != "" {
		req.Header.Set("identifier", identifier)
	}
	return c.chatClient.Do(req)
}

// LoginResult is everything a client needs to mint its session token.
type LoginResult struct {
	RefreshToken string `json:"rt"`
	UserID       string `json:"user_id"`
	Email        string `json:"email"`
	ClientUUID   string `json:"client_uuid"`
}

// ExchangeCode redeems a one-time authorization code.
func (c *Client) ExchangeCode(ctx context.Context, code, amplitudeDeviceID string) (accessToken, refreshToken string, err error) {
	resp, err := c.postJSON(ctx, "/api/v1/auth/exchange", map[string]string{
		"code":              code,
		"amplitudeDeviceId": amplitudeDeviceID,
	}, nil)
	if err != nil {
		return "", "", fmt.Errorf("exchange code: %w", err)
	}
	var data struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
	}
	if err := decodeEnvelope("/api/v1/auth/exchange", resp, &data); err != nil {
		return "", "", err
	}
	return data.AccessToken, data.RefreshToken, nil
}

// RegisterClient announces the device UUID. Callers treat failure as
// non-fatal; the backend works without the registration.
func (c *Client) RegisterClient(ctx context.Context, accessToken, clientUUID string) error {
	resp, err := c.postJSON(ctx, "/api/v1/users/me/client", map[string]string{"client_uuid": clientUUID}, map[string]string{
		"Authorization": "Bearer " + accessToken,
	})
	if err != nil {
		return fmt.Errorf("register client: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &HTTPError{Endpoint: "/api/v1/users/me/client", StatusCode: resp.StatusCode}
	}
	return nil
}

// Profile fetches the authenticated user's identity. Unlike the other
// endpoints, the backend returns the profile object bare, without the
// success envelope.
func (c *Client) Profile(ctx context.Context, accessToken string) (userID, email string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/auth/profile", nil)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("User-Agent", UserAgent)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("fetch profile: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", "", &HTTPError{Endpoint: "/api/v1/auth/profile", StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	var data struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", "", fmt.Errorf("decode /api/v1/auth/profile response: %w", err)
	}
	return data.ID, data.Email, nil
}
