package proxy

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/quietgrid/hlgateway/pkg/highlight"
)

func TestSessionFromRequestDecodesKey(t *testing.T) {
	key := base64.StdEncoding.EncodeToString([]byte(`{"rt":"refresh-1","user_id":"u1","email":"u@example.com","client_uuid":"c1"}`))
	r := httptest.NewRequest("GET", "/v1/models", nil)
	r.Header.Set("Authorization", "Bearer "+key)

	sess, err := sessionFromRequest(r)
	if err != nil {
		t.Fatalf("sessionFromRequest: %v", err)
	}
	if sess.RefreshToken != "refresh-1" || sess.UserID != "u1" || sess.ClientUUID != "c1" {
		t.Fatalf("unexpected session: %+v", sess)
	}
}

func TestSessionFromRequestAcceptsRawKeyWithoutBearerPrefix(t *testing.T) {
	key := base64.StdEncoding.EncodeToString([]byte(`{"rt":"refresh-1"}`))
	r := httptest.NewRequest("GET", "/v1/models", nil)
	r.Header.Set("Authorization", key)

	sess, err := sessionFromRequest(r)
	if err != nil {
		t.Fatalf("sessionFromRequest: %v", err)
	}
	if sess.RefreshToken != "refresh-1" {
		t.Fatalf("unexpected session: %+v", sess)
	}
}

func TestSessionRoundTripsLoginResult(t *testing.T) {
	creds := highlight.LoginResult{
		RefreshToken: "rt-xyz",
		UserID:       "user-9",
		Email:        "u@example.com",
		ClientUUID:   "client-7",
	}
	raw, err := json.Marshal(creds)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	r := httptest.NewRequest("GET", "/v1/models", nil)
	r.Header.Set("Authorization", "Bearer "+base64.StdEncoding.EncodeToString(raw))

	sess, err := sessionFromRequest(r)
	if err != nil {
		t.Fatalf("sessionFromRequest: %v", err)
	}
	if sess.RefreshToken != creds.RefreshToken || sess.UserID != creds.UserID ||
		sess.Email != creds.Email || sess.ClientUUID != creds.ClientUUID {
		t.Fatalf("round trip mismatch: %+v vs %+v", sess, creds)
	}
}

func TestSessionFromRequestRejections(t *testing.T) {
	cases := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"empty bearer", "Bearer "},
		{"not base64", "Bearer %%%"},
		{"not json", "Bearer " + base64.StdEncoding.EncodeToString([]byte("plain text"))},
		{"missing rt", "Bearer " + base64.StdEncoding.EncodeToString([]byte(`{"user_id":"u1"}`))},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/v1/models", nil)
			if tc.header != "" {
				r.Header.Set("Authorization", tc.header)
			}
			_, err := sessionFromRequest(r)
			if err == nil {
				t.Fatal("expected error")
			}
			var authErr *AuthError
			if !errors.As(err, &authErr) {
				t.Fatalf("expected AuthError, got %T: %v", err, err)
			}
		})
	}
}
