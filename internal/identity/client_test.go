package identity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"igrejaportal.org/internal/auth"
)

// fakeProvider serves discovery, userinfo, token and admin endpoints.
func fakeProvider(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var srv *httptest.Server

	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                 srv.URL,
			"authorization_endpoint": srv.URL + "/authorize",
			"token_endpoint":         srv.URL + "/token",
			"userinfo_endpoint":      srv.URL + "/userinfo",
			"jwks_uri":               srv.URL + "/jwks",
		})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good-token" {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"sub":           "u-1",
			"email":         "ana@example.org",
			"user_metadata": map[string]any{"nome": "Ana"},
		})
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.PostForm.Get("grant_type") != "refresh_token" || r.PostForm.Get("refresh_token") != "rt-1" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"good-token","refresh_token":"rt-2","token_type":"bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/admin/users/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("apikey") != "service-key" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		id := strings.TrimPrefix(r.URL.Path, "/admin/users/")
		switch id {
		case "u-1":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id":            "u-1",
				"email":         "ana@example.org",
				"user_metadata": map[string]any{"full_name": "Ana Souza"},
			})
		case "boom":
			http.Error(w, "upstream failure", http.StatusBadGateway)
		default:
			http.NotFound(w, r)
		}
	})

	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, key string) *Client {
	t.Helper()
	srv := fakeProvider(t)
	c, err := NewClient(context.Background(), Config{
		IssuerURL:    srv.URL,
		ClientID:     "portal",
		ClientSecret: "secret",
		ServiceKey:   key,
	})
	require.NoError(t, err)
	return c
}

func TestUserInfo(t *testing.T) {
	c := newTestClient(t, "service-key")

	id, err := c.UserInfo(context.Background(), "good-token")
	require.NoError(t, err)
	assert.Equal(t, "u-1", id.ID)
	assert.Equal(t, "ana@example.org", id.Email)
	assert.Equal(t, "Ana", *id.DisplayName())

	_, err = c.UserInfo(context.Background(), "bad-token")
	assert.Error(t, err)
}

func TestRefresh(t *testing.T) {
	c := newTestClient(t, "service-key")

	tokens, err := c.Refresh(context.Background(), "rt-1")
	require.NoError(t, err)
	assert.Equal(t, "good-token", tokens.AccessToken)
	assert.Equal(t, "rt-2", tokens.RefreshToken)
	assert.False(t, tokens.Expiry.IsZero())

	_, err = c.Refresh(context.Background(), "revoked")
	assert.Error(t, err)
}

func TestUserByID(t *testing.T) {
	c := newTestClient(t, "service-key")

	u, err := c.UserByID(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Equal(t, "Ana Souza", *u.DisplayName())

	_, err = c.UserByID(context.Background(), "gone")
	assert.True(t, errors.Is(err, auth.ErrNotFound))

	_, err = c.UserByID(context.Background(), "boom")
	assert.ErrorContains(t, err, "502")
}

func TestUserByIDRequiresServiceKey(t *testing.T) {
	c := newTestClient(t, "")
	_, err := c.UserByID(context.Background(), "u-1")
	assert.ErrorContains(t, err, "403")
}

func TestNewClientRequiresIssuer(t *testing.T) {
	_, err := NewClient(context.Background(), Config{})
	assert.Error(t, err)
}

func TestClientSatisfiesResolverChain(t *testing.T) {
	c := newTestClient(t, "service-key")
	r := auth.NewResolver(nil, auth.VerifiedUser{Provider: c}, auth.RefreshedSession{Provider: c})

	sess := &auth.Session{AccessToken: "expired", RefreshToken: "rt-1"}
	res := r.ResolveIdentity(auth.ContextWithSession(context.Background(), sess))
	require.NotNil(t, res.User)
	assert.Equal(t, "refreshed", res.Via)
	rotated, ok := sess.Rotated()
	require.True(t, ok)
	assert.Equal(t, "rt-2", rotated.RefreshToken)
}
