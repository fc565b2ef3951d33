package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultSessionTTL = 8 * time.Hour

// sessionClaims is the payload of the cached session cookie.
type sessionClaims struct {
	Email        string         `json:"email,omitempty"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
	jwt.RegisteredClaims
}

// SessionCodec signs and reads the locally cached session cookie (HS256).
type SessionCodec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// SessionOption configures a SessionCodec.
type SessionOption func(*SessionCodec) error

// WithSessionTTL overrides the session lifetime.
func WithSessionTTL(ttl time.Duration) SessionOption {
	return func(c *SessionCodec) error {
		if ttl > 0 {
			c.ttl = ttl
		}
		return nil
	}
}

// WithSessionClock injects the time source.
func WithSessionClock(now func() time.Time) SessionOption {
	return func(c *SessionCodec) error {
		if now == nil {
			return errors.New("auth: clock cannot be nil")
		}
		c.now = now
		return nil
	}
}

func NewSessionCodec(secret string, opts ...SessionOption) (*SessionCodec, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, fmt.Errorf("%w: session secret is required", ErrInvalidInput)
	}
	c := &SessionCodec{secret: []byte(secret), ttl: defaultSessionTTL, now: time.Now}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Encode produces a signed session token for id.
func (c *SessionCodec) Encode(id Identity) (string, error) {
	if id.ID == "" {
		return "", fmt.Errorf("%w: identity id is required", ErrInvalidInput)
	}
	now := c.now().UTC()
	claims := sessionClaims{
		Email:        id.Email,
		UserMetadata: id.Metadata,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}

// Decode verifies token and returns the identity it carries.
func (c *SessionCodec) Decode(token string) (*Identity, error) {
	var claims sessionClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("auth: decode session: %w", err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: session has no subject", ErrInvalidInput)
	}
	return &Identity{ID: claims.Subject, Email: claims.Email, Metadata: claims.UserMetadata}, nil
}
