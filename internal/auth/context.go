package auth

import (
	"context"
	"sync"
)

type sessionContextKey struct{}

// Session carries the credentials presented with a request. Strategies that
// obtain fresh tokens record them with Rotate so the transport can hand them
// back to the client.
type Session struct {
	AccessToken  string
	RefreshToken string
	SessionToken string

	mu      sync.Mutex
	rotated *Tokens
}

// Rotate records a refreshed credential set.
func (s *Session) Rotate(t Tokens) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.AccessToken = t.AccessToken
	if t.RefreshToken != "" {
		s.RefreshToken = t.RefreshToken
	}
	if t.SessionToken != "" {
		s.SessionToken = t.SessionToken
	}
	cp := t
	s.rotated = &cp
}

// Rotated returns the tokens recorded by Rotate, if any.
func (s *Session) Rotated() (Tokens, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rotated == nil {
		return Tokens{}, false
	}
	return *s.rotated, true
}

func (s *Session) empty() bool {
	return s.AccessToken == "" && s.RefreshToken == "" && s.SessionToken == ""
}

// ContextWithSession attaches the request session to the context.
func ContextWithSession(ctx context.Context, s *Session) context.Context {
	if s == nil {
		return ctx
	}
	return context.WithValue(ctx, sessionContextKey{}, s)
}

// SessionFromContext extracts the request session from the context.
func SessionFromContext(ctx context.Context) (*Session, bool) {
	if ctx == nil {
		return nil, false
	}
	s, ok := ctx.Value(sessionContextKey{}).(*Session)
	if !ok || s == nil {
		return nil, false
	}
	return s, true
}
