// Package gate is the authorization checkpoint every back-office operation
// passes before touching data.
package gate

import (
	"context"
	"database/sql"
	"errors"

	"github.com/sirupsen/logrus"

	"igrejaportal.org/internal/audit"
	"igrejaportal.org/internal/auth"
	"igrejaportal.org/internal/obs"
)

// IdentityResolver produces the user behind the current request.
type IdentityResolver interface {
	ResolveIdentity(ctx context.Context) auth.Resolution
}

// RoleDirectory resolves the role of a user, failing closed.
type RoleDirectory interface {
	RoleOf(ctx context.Context, userID string) (auth.Role, bool)
}

// Recorder appends audit entries on a best-effort basis.
type Recorder interface {
	Record(ctx context.Context, ev audit.Event) audit.WriteResult
}

// Grant is handed to the caller after a successful check.
type Grant struct {
	DB       *sql.DB
	Identity auth.Identity
	Role     auth.Role
}

// Actor returns the audit actor for the granted user.
func (g Grant) Actor() *audit.Actor {
	role := g.Role
	return audit.ActorOf(g.Identity.ID, &role)
}

// Gate combines identity, role and audit-on-denial.
type Gate struct {
	identities IdentityResolver
	roles      RoleDirectory
	recorder   Recorder
	db         *sql.DB
	log        logrus.FieldLogger
}

// Option configures a Gate.
type Option func(*Gate)

func WithDB(db *sql.DB) Option { return func(g *Gate) { g.db = db } }

func WithLogger(l logrus.FieldLogger) Option {
	return func(g *Gate) {
		if l != nil {
			g.log = l
		}
	}
}

func New(identities IdentityResolver, roles RoleDirectory, recorder Recorder, opts ...Option) (*Gate, error) {
	if identities == nil || roles == nil || recorder == nil {
		return nil, errors.New("gate: resolver, directory and recorder are required")
	}
	g := &Gate{identities: identities, roles: roles, recorder: recorder, log: obs.Logger()}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g, nil
}

// RequireBackofficeUser succeeds for any user holding a role.
func (g *Gate) RequireBackofficeUser(ctx context.Context, scope Scope) (Grant, error) {
	return g.require(ctx, scope, false)
}

// RequireAdmin succeeds only for admins.
func (g *Gate) RequireAdmin(ctx context.Context, scope Scope) (Grant, error) {
	return g.require(ctx, scope, true)
}

func (g *Gate) require(ctx context.Context, scope Scope, adminOnly bool) (Grant, error) {
	name := "backoffice"
	required := "backoffice"
	if adminOnly {
		name = "admin"
		required = string(auth.RoleAdmin)
	}

	res := g.identities.ResolveIdentity(ctx)
	if res.User == nil {
		g.deny(ctx, name, scope, required, &audit.Actor{}, nil)
		return Grant{}, auth.Unauthenticated()
	}
	user := *res.User

	role, has := g.roles.RoleOf(ctx, user.ID)
	allowed := has && (!adminOnly || role == auth.RoleAdmin)
	if !allowed {
		var current *auth.Role
		if has {
			current = &role
		}
		g.deny(ctx, name, scope, required, audit.ActorOf(user.ID, current), current)
		return Grant{}, auth.Forbidden(adminOnly)
	}

	obs.GateDecisions.WithLabelValues(name, "allowed").Inc()
	return Grant{DB: g.db, Identity: user, Role: role}, nil
}

// deny records exactly one ACCESS_DENIED entry. Its failure is logged by
// the recorder and never replaces the denial.
func (g *Gate) deny(ctx context.Context, gateName string, scope Scope, required string, actor *audit.Actor, current *auth.Role) {
	outcome := "forbidden"
	if actor.UserID == "" {
		outcome = "unauthenticated"
	}
	obs.GateDecisions.WithLabelValues(gateName, outcome).Inc()

	var currentRole any
	if current != nil {
		currentRole = string(*current)
	}
	res := g.recorder.Record(ctx, audit.Event{
		Action:       audit.ActionAccessDenied,
		ResourceType: audit.ResourceAuthorization,
		ResourceID:   string(scope),
		Payload: map[string]any{
			"requiredRole": required,
			"currentRole":  currentRole,
			"scope":        string(scope),
		},
		Actor: actor,
	})
	g.log.WithFields(logrus.Fields{
		"gate":    gateName,
		"scope":   string(scope),
		"outcome": outcome,
		"user_id": actor.UserID,
		"audited": res.Dropped == nil,
	}).Info("access denied")
}
