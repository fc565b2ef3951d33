// Package authtest provides in-memory collaborators for tests that exercise
// the role directory and the identity resolver.
package authtest

import (
	"context"
	"errors"
	"sync"
	"time"

	"igrejaportal.org/internal/auth"
)

// RoleStore is an in-memory auth.RoleStore. Setting LookupErr, HasAnyErr or
// InsertErr makes the matching call fail.
type RoleStore struct {
	mu   sync.Mutex
	rows map[string]auth.RoleAssignment

	LookupErr error
	HasAnyErr error
	InsertErr error

	Lookups int
	Inserts int
}

func NewRoleStore(seed ...auth.RoleAssignment) *RoleStore {
	s := &RoleStore{rows: map[string]auth.RoleAssignment{}}
	for _, a := range seed {
		s.rows[a.UserID] = a
	}
	return s
}

func (s *RoleStore) Lookup(_ context.Context, userID string) (auth.RoleAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Lookups++
	if s.LookupErr != nil {
		return auth.RoleAssignment{}, s.LookupErr
	}
	a, ok := s.rows[userID]
	if !ok {
		return auth.RoleAssignment{}, auth.ErrNotFound
	}
	return a, nil
}

func (s *RoleStore) HasAny(context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.HasAnyErr != nil {
		return false, s.HasAnyErr
	}
	return len(s.rows) > 0, nil
}

func (s *RoleStore) Insert(_ context.Context, a auth.RoleAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.InsertErr != nil {
		return s.InsertErr
	}
	if _, ok := s.rows[a.UserID]; ok {
		return auth.ErrConflict
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	s.rows[a.UserID] = a
	s.Inserts++
	return nil
}

// InsertFirstAdmin makes the store usable in advisory mode.
func (s *RoleStore) InsertFirstAdmin(ctx context.Context, a auth.RoleAssignment) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.HasAnyErr != nil {
		return false, s.HasAnyErr
	}
	if len(s.rows) > 0 {
		return false, nil
	}
	if s.InsertErr != nil {
		return false, s.InsertErr
	}
	s.rows[a.UserID] = a
	s.Inserts++
	return true, nil
}

// Admins returns the ids of every admin row.
func (s *RoleStore) Admins() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for id, a := range s.rows {
		if a.Role == auth.RoleAdmin {
			out = append(out, id)
		}
	}
	return out
}

// Provider is a scripted auth.IdentityProvider keyed by access token.
type Provider struct {
	mu sync.Mutex

	Users      map[string]auth.Identity
	Refreshed  map[string]auth.Tokens
	UserErr    error
	RefreshErr error

	UserInfoCalls int
	RefreshCalls  int
}

func NewProvider() *Provider {
	return &Provider{Users: map[string]auth.Identity{}, Refreshed: map[string]auth.Tokens{}}
}

func (p *Provider) UserInfo(_ context.Context, accessToken string) (*auth.Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.UserInfoCalls++
	if p.UserErr != nil {
		return nil, p.UserErr
	}
	u, ok := p.Users[accessToken]
	if !ok {
		return nil, errors.New("invalid access token")
	}
	return &u, nil
}

func (p *Provider) Refresh(_ context.Context, refreshToken string) (auth.Tokens, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.RefreshCalls++
	if p.RefreshErr != nil {
		return auth.Tokens{}, p.RefreshErr
	}
	t, ok := p.Refreshed[refreshToken]
	if !ok {
		return auth.Tokens{}, errors.New("invalid refresh token")
	}
	return t, nil
}

// SignedIn returns a context whose session carries accessToken.
func SignedIn(ctx context.Context, accessToken string) context.Context {
	return auth.ContextWithSession(ctx, &auth.Session{AccessToken: accessToken})
}
