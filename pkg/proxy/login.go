package proxy

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/quietgrid/hlgateway/pkg/highlight"
)

type loginRequest struct {
	Code string `json:"code"`
}

// handleLogin redeems a one-time authorization code for the credential bundle
// clients base64-encode into their API key. Client registration is best
// effort; the exchange and profile calls are not.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errBadRequest("decode request body: %v", err))
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		writeError(w, errBadRequest("code must not be empty"))
		return
	}

	ctx := r.Context()
	amplitudeDeviceID := uuid.NewString()
	clientUUID := uuid.NewString()

	accessToken, refreshToken, err := s.upstream.ExchangeCode(ctx, req.Code, amplitudeDeviceID)
	if err != nil {
		writeError(w, errAuth("exchange authorization code: %v", err))
		return
	}
	if err := s.upstream.RegisterClient(ctx, accessToken, clientUUID); err != nil {
		log.Warn("client registration failed, continuing", "err", err)
	}
	userID, email, err := s.upstream.Profile(ctx, accessToken)
	if err != nil {
		writeError(w, errAuth("fetch profile: %v", err))
		return
	}

	log.Info("login succeeded", "user", userID, "email", email)
	writeJSON(w, http.StatusOK, highlight.LoginResult{
		RefreshToken: refreshToken,
		UserID:       userID,
		Email:        email,
		ClientUUID:   clientUUID,
	})
}
