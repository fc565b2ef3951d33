package auth

import "context"

// RoleStore persists role assignments.
type RoleStore interface {
	// Lookup returns ErrNotFound when the user holds no role.
	Lookup(ctx context.Context, userID string) (RoleAssignment, error)
	// HasAny reports whether at least one assignment exists.
	HasAny(ctx context.Context) (bool, error)
	// Insert returns ErrConflict when the user already holds a role.
	Insert(ctx context.Context, a RoleAssignment) error
}

// AtomicBootstrapper is implemented by stores that can run the first-admin
// check and insert as one serialized unit.
type AtomicBootstrapper interface {
	// InsertFirstAdmin inserts a as long as no assignment exists and reports
	// whether the row was written.
	InsertFirstAdmin(ctx context.Context, a RoleAssignment) (bool, error)
}

// Locker serializes work across processes.
type Locker interface {
	// Acquire returns a release func, or an error when the lock is held.
	Acquire(ctx context.Context, key string) (release func(context.Context) error, err error)
}

// IdentityProvider is the hosted identity service as seen by the resolver.
type IdentityProvider interface {
	UserInfo(ctx context.Context, accessToken string) (*Identity, error)
	Refresh(ctx context.Context, refreshToken string) (Tokens, error)
}
