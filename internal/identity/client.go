// Package identity talks to the hosted identity provider: OIDC userinfo for
// the current user, OAuth2 refresh for rotated sessions and the admin REST
// endpoint for looking users up by id.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"igrejaportal.org/internal/auth"
)

// Config locates the provider.
type Config struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	AdminURL     string
	ServiceKey   string
	Timeout      time.Duration
}

// Client implements auth.IdentityProvider and audit.UserDirectory.
type Client struct {
	provider *oidc.Provider
	oauth    oauth2.Config
	http     *http.Client
	adminURL string
	key      string
}

// userClaims is the subset of the userinfo document the portal reads.
type userClaims struct {
	Sub          string         `json:"sub"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
}

// adminUser is the admin endpoint's user document.
type adminUser struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
}

// NewClient runs OIDC discovery against cfg.IssuerURL.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.IssuerURL) == "" {
		return nil, errors.New("identity: issuer URL is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}

	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, httpClient), cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("identity: discovery: %w", err)
	}
	adminURL := strings.TrimRight(strings.TrimSpace(cfg.AdminURL), "/")
	if adminURL == "" {
		adminURL = strings.TrimRight(cfg.IssuerURL, "/") + "/admin"
	}
	return &Client{
		provider: provider,
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     provider.Endpoint(),
		},
		http:     httpClient,
		adminURL: adminURL,
		key:      cfg.ServiceKey,
	}, nil
}

// UserInfo re-verifies accessToken with the provider.
func (c *Client) UserInfo(ctx context.Context, accessToken string) (*auth.Identity, error) {
	ctx = oidc.ClientContext(ctx, c.http)
	info, err := c.provider.UserInfo(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}))
	if err != nil {
		return nil, fmt.Errorf("identity: userinfo: %w", err)
	}
	var claims userClaims
	if err := info.Claims(&claims); err != nil {
		return nil, fmt.Errorf("identity: decode userinfo: %w", err)
	}
	email := claims.Email
	if email == "" {
		email = info.Email
	}
	return &auth.Identity{ID: info.Subject, Email: email, Metadata: claims.UserMetadata}, nil
}

// Refresh exchanges refreshToken for a new token set.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (auth.Tokens, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
	tok, err := c.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return auth.Tokens{}, fmt.Errorf("identity: refresh: %w", err)
	}
	return auth.Tokens{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken, Expiry: tok.Expiry}, nil
}

// UserByID reads the current profile of a user. Unknown users yield
// auth.ErrNotFound.
func (c *Client) UserByID(ctx context.Context, id string) (*auth.Identity, error) {
	endpoint := c.adminURL + "/users/" + url.PathEscape(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if c.key != "" {
		req.Header.Set("Authorization", "Bearer "+c.key)
		req.Header.Set("apikey", c.key)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity: lookup %s: %w", id, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, auth.ErrNotFound
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("identity: lookup %s: status %d: %s", id, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var u adminUser
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return nil, fmt.Errorf("identity: decode user: %w", err)
	}
	if u.ID == "" {
		u.ID = id
	}
	return &auth.Identity{ID: u.ID, Email: u.Email, Metadata: u.UserMetadata}, nil
}
