package auth

import (
	"strings"
	"time"
)

// Identity is a user as reported by the hosted identity provider. The
// portal never stores it; it is read per request.
type Identity struct {
	ID       string
	Email    string
	Metadata map[string]any
}

// DisplayName prefers the "nome" metadata field, then "full_name".
func (i Identity) DisplayName() *string {
	for _, key := range []string{"nome", "full_name"} {
		if v, ok := i.Metadata[key].(string); ok && strings.TrimSpace(v) != "" {
			name := v
			return &name
		}
	}
	return nil
}

// Role is the single back-office role a user may hold.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperador Role = "operador"
)

// ParseRole accepts the wire value of a role, case-insensitively.
func ParseRole(s string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleAdmin:
		return RoleAdmin, true
	case RoleOperador:
		return RoleOperador, true
	}
	return "", false
}

func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleOperador
}

func (r Role) String() string { return string(r) }

// RoleAssignment maps a user to its role. A user has at most one.
type RoleAssignment struct {
	UserID    string
	Role      Role
	CreatedBy string
	CreatedAt time.Time
}

// Tokens is the credential set handed out by the identity provider.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	SessionToken string
	Expiry       time.Time
}
