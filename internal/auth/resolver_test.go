package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"igrejaportal.org/internal/auth"
	"igrejaportal.org/internal/auth/authtest"
)

func newChain(t *testing.T, p *authtest.Provider, codec *auth.SessionCodec) *auth.Resolver {
	t.Helper()
	return auth.NewResolver(nil,
		auth.VerifiedUser{Provider: p},
		auth.CachedSession{Codec: codec},
		auth.RefreshedSession{Provider: p, Codec: codec},
	)
}

func testCodec(t *testing.T) *auth.SessionCodec {
	t.Helper()
	c, err := auth.NewSessionCodec("session-secret")
	require.NoError(t, err)
	return c
}

func TestResolveAnonymous(t *testing.T) {
	r := newChain(t, authtest.NewProvider(), testCodec(t))

	assert.Nil(t, r.ResolveIdentity(context.Background()).User)
	ctx := auth.ContextWithSession(context.Background(), &auth.Session{})
	assert.Nil(t, r.ResolveIdentity(ctx).User)
}

func TestResolveVerifiedFirst(t *testing.T) {
	p := authtest.NewProvider()
	p.Users["good"] = auth.Identity{ID: "u1", Email: "u1@example.org"}
	codec := testCodec(t)
	cached, err := codec.Encode(auth.Identity{ID: "stale"})
	require.NoError(t, err)

	ctx := auth.ContextWithSession(context.Background(), &auth.Session{AccessToken: "good", SessionToken: cached})
	res := newChain(t, p, codec).ResolveIdentity(ctx)
	require.NotNil(t, res.User)
	assert.Equal(t, "u1", res.User.ID)
	assert.Equal(t, "verified", res.Via)
}

func TestResolveFallsBackToCachedSession(t *testing.T) {
	p := authtest.NewProvider()
	p.UserErr = errors.New("token not yet propagated")
	codec := testCodec(t)
	cached, err := codec.Encode(auth.Identity{ID: "u2", Email: "u2@example.org", Metadata: map[string]any{"nome": "Maria"}})
	require.NoError(t, err)

	ctx := auth.ContextWithSession(context.Background(), &auth.Session{AccessToken: "fresh", SessionToken: cached})
	res := newChain(t, p, codec).ResolveIdentity(ctx)
	require.NotNil(t, res.User)
	assert.Equal(t, "u2", res.User.ID)
	assert.Equal(t, "cached", res.Via)
	require.NotNil(t, res.User.DisplayName())
	assert.Equal(t, "Maria", *res.User.DisplayName())
	assert.Equal(t, 0, p.RefreshCalls)
}

func TestResolveRefreshesAndRotates(t *testing.T) {
	p := authtest.NewProvider()
	p.Refreshed["rt-1"] = auth.Tokens{AccessToken: "at-2", RefreshToken: "rt-2", Expiry: time.Now().Add(time.Hour)}
	p.Users["at-2"] = auth.Identity{ID: "u3", Email: "u3@example.org"}
	codec := testCodec(t)

	sess := &auth.Session{AccessToken: "expired", RefreshToken: "rt-1", SessionToken: "garbage"}
	ctx := auth.ContextWithSession(context.Background(), sess)
	res := newChain(t, p, codec).ResolveIdentity(ctx)
	require.NotNil(t, res.User)
	assert.Equal(t, "u3", res.User.ID)
	assert.Equal(t, "refreshed", res.Via)

	rotated, ok := sess.Rotated()
	require.True(t, ok)
	assert.Equal(t, "at-2", rotated.AccessToken)
	assert.Equal(t, "rt-2", rotated.RefreshToken)
	require.NotEmpty(t, rotated.SessionToken)

	again, err := codec.Decode(rotated.SessionToken)
	require.NoError(t, err)
	assert.Equal(t, "u3", again.ID)
}

func TestResolveExhaustedChainIsAnonymous(t *testing.T) {
	p := authtest.NewProvider()
	p.RefreshErr = errors.New("refresh token revoked")
	ctx := auth.ContextWithSession(context.Background(), &auth.Session{AccessToken: "x", RefreshToken: "y", SessionToken: "z"})

	res := newChain(t, p, testCodec(t)).ResolveIdentity(ctx)
	assert.Nil(t, res.User)
	assert.Empty(t, res.Via)
	assert.Equal(t, 1, p.UserInfoCalls)
	assert.Equal(t, 1, p.RefreshCalls)
}

func TestSessionCodecRejectsExpiredAndForeign(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	c, err := auth.NewSessionCodec("s1", auth.WithSessionTTL(time.Hour), auth.WithSessionClock(clock))
	require.NoError(t, err)

	tok, err := c.Encode(auth.Identity{ID: "u"})
	require.NoError(t, err)
	_, err = c.Decode(tok)
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	_, err = c.Decode(tok)
	assert.Error(t, err)

	other, err := auth.NewSessionCodec("s2")
	require.NoError(t, err)
	foreign, err := other.Encode(auth.Identity{ID: "u"})
	require.NoError(t, err)
	_, err = c.Decode(foreign)
	assert.Error(t, err)

	_, err = auth.NewSessionCodec(" ")
	assert.ErrorIs(t, err, auth.ErrInvalidInput)
}

func TestDisplayNamePreference(t *testing.T) {
	id := auth.Identity{Metadata: map[string]any{"full_name": "Full", "nome": "Nome"}}
	require.NotNil(t, id.DisplayName())
	assert.Equal(t, "Nome", *id.DisplayName())

	id = auth.Identity{Metadata: map[string]any{"full_name": "Full"}}
	assert.Equal(t, "Full", *id.DisplayName())

	assert.Nil(t, auth.Identity{}.DisplayName())
}

func TestAuthorizationErrorHelpers(t *testing.T) {
	var err error = auth.Unauthenticated()
	assert.True(t, auth.IsUnauthenticated(err))
	assert.False(t, auth.IsForbidden(err))

	err = auth.Forbidden(true)
	assert.True(t, auth.IsForbidden(err))
	assert.Contains(t, err.Error(), "FORBIDDEN")
	assert.False(t, auth.IsForbidden(errors.New("plain")))
}
