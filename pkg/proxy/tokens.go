package proxy

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"

	"github.com/quietgrid/hlgateway/pkg/cache"
	"github.com/quietgrid/hlgateway/pkg/metrics"
)

// expiryMargin is how close to expiry a cached access token may get before it
// is treated as stale. Covers clock skew and upstream call latency.
const expiryMargin = 60 * time.Second

const defaultTokenLifetime = time.Hour

type refresher interface {
	Refresh(ctx context.Context, refreshToken string) (string, error)
}

// TokenManager caches access tokens per refresh credential and coalesces
// concurrent refreshes for the same credential into one upstream call.
type TokenManager struct {
	upstream refresher
	tokens   *cache.TTLMap[string, string]
	group    singleflight.Group
	now      func() time.Time
}

func NewTokenManager(upstream refresher) *TokenManager {
	return &TokenManager{
		upstream: upstream,
		tokens:   cache.NewTTLMap[string, string](),
		now:      time.Now,
	}
}

// AccessToken returns a token valid for at least the expiry margin, refreshing
// through the backend only when the cache misses.
func (m *TokenManager) AccessToken(ctx context.Context, refreshToken string) (string, error) {
	if tok, ok := m.tokens.GetFresh(refreshToken, m.now().Add(expiryMargin)); ok {
		return tok, nil
	}
	v, err, _ := m.group.Do(refreshToken, func() (any, error) {
		if tok, ok := m.tokens.GetFresh(refreshToken, m.now().Add(expiryMargin)); ok {
			return tok, nil
		}
		tok, err := m.upstream.Refresh(ctx, refreshToken)
		if err != nil {
			metrics.TokenRefreshesTotal.WithLabelValues("error").Inc()
			return "", err
		}
		metrics.TokenRefreshesTotal.WithLabelValues("ok").Inc()
		expiry := tokenExpiry(tok, m.now())
		m.tokens.SetWithExpiry(refreshToken, tok, expiry)
		log.Debug("access token refreshed", "expires", expiry.Format(time.RFC3339))
		return tok, nil
	})
	if err != nil {
		return "", errAuth("refresh access token: %v", err)
	}
	return v.(string), nil
}

// Invalidate drops the cached token for a credential, forcing the next call
// to refresh.
func (m *TokenManager) Invalidate(refreshToken string) {
	m.tokens.Delete(refreshToken)
}

// tokenExpiry reads the exp claim out of a JWT access token. Tokens that do
// not parse as JWTs get a fixed one-hour lifetime.
func tokenExpiry(token string, now time.Time) time.Time {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return now.Add(defaultTokenLifetime)
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return now.Add(defaultTokenLifetime)
	}
	var claims struct {
		Exp int64 `json:"exp"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil || claims.Exp <= 0 {
		return now.Add(defaultTokenLifetime)
	}
	return time.Unix(claims.Exp, 0)
}
