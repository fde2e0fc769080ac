package proxy

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
)

// Session is the client credential carried in the Authorization header: the
// base64 of a JSON object minted at login time. Only the refresh token is
// mandatory; the identity fields feed the chat identifier when present.
type Session struct {
	RefreshToken string `json:"rt"`
	UserID       string `json:"user_id"`
	Email        string `json:"email"`
	ClientUUID   string `json:"client_uuid"`
}

func bearerToken(r *http.Request) (string, error) {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return "", errAuth("missing Authorization header")
	}
	token := raw
	if len(raw) >= 7 && strings.EqualFold(raw[:7], "Bearer ") {
		token = strings.TrimSpace(raw[7:])
	}
	if token == "" {
		return "", errAuth("empty bearer token")
	}
	return token, nil
}

// sessionFromRequest decodes the bearer credential. Both standard and URL-safe
// base64 are accepted, with or without padding; desktop exports vary.
func sessionFromRequest(r *http.Request) (Session, error) {
	var sess Session
	token, err := bearerToken(r)
	if err != nil {
		return sess, err
	}
	decoded, err := decodeBase64Lenient(token)
	if err != nil {
		return sess, errAuth("api key is not valid base64")
	}
	if err := json.Unmarshal(decoded, &sess); err != nil {
		return sess, errAuth("api key payload is not valid JSON")
	}
	if strings.TrimSpace(sess.RefreshToken) == "" {
		return sess, errAuth("api key is missing the refresh token")
	}
	return sess, nil
}

func decodeBase64Lenient(s string) ([]byte, error) {
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, nil
		}
	}
	return base64.StdEncoding.DecodeString(s)
}
