package backoffice_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"igrejaportal.org/internal/audit"
	"igrejaportal.org/internal/audit/audittest"
	"igrejaportal.org/internal/auth"
	"igrejaportal.org/internal/auth/authtest"
	"igrejaportal.org/internal/backoffice"
	"igrejaportal.org/internal/gate"
	"igrejaportal.org/internal/obs"
)

var createBanner = backoffice.ActionSpec{
	Scope:        gate.ScopeBannersCreate,
	Action:       audit.ActionBannerCreate,
	ResourceType: audit.ResourceBanners,
}

func setup(t *testing.T) (*backoffice.Runner, *audittest.Store, *authtest.Provider) {
	t.Helper()
	quiet := obs.NewLogger("panic", "json", &bytes.Buffer{})
	provider := authtest.NewProvider()
	provider.Users["op-token"] = auth.Identity{ID: "op"}
	provider.Users["root-token"] = auth.Identity{ID: "root"}
	roles := authtest.NewRoleStore(
		auth.RoleAssignment{UserID: "root", Role: auth.RoleAdmin, CreatedBy: "root"},
		auth.RoleAssignment{UserID: "op", Role: auth.RoleOperador, CreatedBy: "root"},
	)
	dir, err := auth.NewDirectory(roles, auth.WithDirectoryLogger(quiet))
	require.NoError(t, err)
	store := audittest.NewStore()
	log, err := audit.NewLog(store, audit.WithLogger(quiet))
	require.NoError(t, err)
	g, err := gate.New(auth.NewResolver(quiet, auth.VerifiedUser{Provider: provider}), dir, log, gate.WithLogger(quiet))
	require.NoError(t, err)
	r, err := backoffice.NewRunner(g, log)
	require.NoError(t, err)
	return r, store, provider
}

func TestPerformRecordsMutation(t *testing.T) {
	r, store, _ := setup(t)
	ctx := authtest.SignedIn(context.Background(), "op-token")

	out := r.Perform(ctx, createBanner, func(ctx context.Context, g gate.Grant) (string, map[string]any, error) {
		return "banner-1", map[string]any{"title": "Santa Ceia"}, nil
	})
	require.NoError(t, out.Err)
	require.NoError(t, out.Audit.Dropped)
	assert.Equal(t, "banner-1", out.ResourceID)

	rows := store.ByAction(audit.ActionBannerCreate)
	require.Len(t, rows, 1)
	assert.Equal(t, "op", *rows[0].ActorUserID)
	assert.Equal(t, "operador", *rows[0].ActorRole)
	assert.Equal(t, "banner-1", *rows[0].ResourceID)
}

func TestPerformAuditFailureKeepsSuccess(t *testing.T) {
	r, store, _ := setup(t)
	store.InsertErr = errors.New("disk full")
	ctx := authtest.SignedIn(context.Background(), "op-token")

	mutated := false
	out := r.Perform(ctx, createBanner, func(ctx context.Context, g gate.Grant) (string, map[string]any, error) {
		mutated = true
		return "banner-2", nil, nil
	})
	assert.True(t, mutated)
	assert.NoError(t, out.Err)
	assert.Equal(t, "banner-2", out.ResourceID)
	assert.Error(t, out.Audit.Dropped)
}

func TestPerformDeniedSkipsMutation(t *testing.T) {
	r, store, _ := setup(t)
	ctx := authtest.SignedIn(context.Background(), "op-token")

	spec := backoffice.ActionSpec{Scope: gate.ScopeRolesGrant, AdminOnly: true, Action: audit.ActionRoleGrant, ResourceType: audit.ResourceRoleAssignments}
	out := r.Perform(ctx, spec, func(context.Context, gate.Grant) (string, map[string]any, error) {
		t.Fatal("mutation must not run")
		return "", nil, nil
	})
	assert.True(t, auth.IsForbidden(out.Err))
	assert.Empty(t, store.ByAction(audit.ActionRoleGrant))
	assert.Len(t, store.ByAction(audit.ActionAccessDenied), 1)
}

func TestPerformMutationErrorIsNotRecorded(t *testing.T) {
	r, store, _ := setup(t)
	ctx := authtest.SignedIn(context.Background(), "root-token")

	boom := errors.New("constraint violated")
	out := r.Perform(ctx, createBanner, func(context.Context, gate.Grant) (string, map[string]any, error) {
		return "", nil, boom
	})
	assert.ErrorIs(t, out.Err, boom)
	assert.Empty(t, store.All())
}
