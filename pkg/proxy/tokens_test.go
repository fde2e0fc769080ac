package proxy

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeRefresher struct {
	calls atomic.Int64
	token func() (string, error)
}

func (f *fakeRefresher) Refresh(ctx context.Context, refreshToken string) (string, error) {
	f.calls.Add(1)
	return f.token()
}

func jwtWithExp(exp time.Time) string {
	payload := base64.RawURLEncoding.EncodeToString([]byte(fmt.Sprintf(`{"exp":%d}`, exp.Unix())))
	return "header." + payload + ".sig"
}

func TestAccessTokenCachedUntilMargin(t *testing.T) {
	fr := &fakeRefresher{token: func() (string, error) {
		return jwtWithExp(time.Now().Add(time.Hour)), nil
	}}
	mgr := NewTokenManager(fr)

	tok1, err := mgr.AccessToken(context.Background(), "rt-1")
	if err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	tok2, err := mgr.AccessToken(context.Background(), "rt-1")
	if err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	if tok1 != tok2 {
		t.Fatal("expected cached token on second call")
	}
	if got := fr.calls.Load(); got != 1 {
		t.Fatalf("expected 1 upstream refresh, got %d", got)
	}
}

func TestAccessTokenRefreshesInsideExpiryMargin(t *testing.T) {
	fr := &fakeRefresher{token: func() (string, error) {
		// Expires 30s out, inside the 60s margin, so every call refreshes.
		return jwtWithExp(time.Now().Add(30 * time.Second)), nil
	}}
	mgr := NewTokenManager(fr)

	if _, err := mgr.AccessToken(context.Background(), "rt-1"); err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	if _, err := mgr.AccessToken(context.Background(), "rt-1"); err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	if got := fr.calls.Load(); got != 2 {
		t.Fatalf("expected 2 upstream refreshes, got %d", got)
	}
}

func TestAccessTokenPerCredentialCaching(t *testing.T) {
	fr := &fakeRefresher{token: func() (string, error) {
		return jwtWithExp(time.Now().Add(time.Hour)), nil
	}}
	mgr := NewTokenManager(fr)

	if _, err := mgr.AccessToken(context.Background(), "rt-1"); err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	if _, err := mgr.AccessToken(context.Background(), "rt-2"); err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	if got := fr.calls.Load(); got != 2 {
		t.Fatalf("expected one refresh per credential, got %d", got)
	}
}

func TestAccessTokenCoalescesConcurrentRefreshes(t *testing.T) {
	release := make(chan struct{})
	fr := &fakeRefresher{token: func() (string, error) {
		<-release
		return jwtWithExp(time.Now().Add(time.Hour)), nil
	}}
	mgr := NewTokenManager(fr)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := mgr.AccessToken(context.Background(), "rt-1"); err != nil {
				t.Errorf("AccessToken: %v", err)
			}
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := fr.calls.Load(); got != 1 {
		t.Fatalf("expected concurrent callers to share 1 refresh, got %d", got)
	}
}

func TestInvalidateForcesRefresh(t *testing.T) {
	fr := &fakeRefresher{token: func() (string, error) {
		return jwtWithExp(time.Now().Add(time.Hour)), nil
	}}
	mgr := NewTokenManager(fr)

	if _, err := mgr.AccessToken(context.Background(), "rt-1"); err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	mgr.Invalidate("rt-1")
	if _, err := mgr.AccessToken(context.Background(), "rt-1"); err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	if got := fr.calls.Load(); got != 2 {
		t.Fatalf("expected refresh after invalidate, got %d", got)
	}
}

func TestAccessTokenRefreshFailureIsAuthError(t *testing.T) {
	fr := &fakeRefresher{token: func() (string, error) {
		return "", fmt.Errorf("credential revoked")
	}}
	mgr := NewTokenManager(fr)

	_, err := mgr.AccessToken(context.Background(), "rt-1")
	if err == nil {
		t.Fatal("expected error")
	}
	if _, ok := err.(*AuthError); !ok {
		t.Fatalf("expected AuthError, got %T", err)
	}
}

func TestTokenExpiryParsing(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	exp := now.Add(2 * time.Hour)

	if got := tokenExpiry(jwtWithExp(exp), now); !got.Equal(time.Unix(exp.Unix(), 0)) {
		t.Fatalf("expected exp claim %v, got %v", exp, got)
	}
	// Opaque tokens fall back to a fixed lifetime.
	if got := tokenExpiry("not-a-jwt", now); !got.Equal(now.Add(defaultTokenLifetime)) {
		t.Fatalf("expected fallback lifetime, got %v", got)
	}
	if got := tokenExpiry("a.!!!.c", now); !got.Equal(now.Add(defaultTokenLifetime)) {
		t.Fatalf("expected fallback for undecodable payload, got %v", got)
	}
}
