package auth

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"igrejaportal.org/internal/obs"
)

// Strategy is one tier of identity resolution. Returning (nil, nil) means
// the tier has nothing to offer for this session.
type Strategy interface {
	Name() string
	Resolve(ctx context.Context, s *Session) (*Identity, error)
}

// Resolution is the outcome of ResolveIdentity. User is nil for anonymous
// requests; Via names the tier that produced the user.
type Resolution struct {
	User *Identity
	Via  string
}

// Resolver tries its strategies in order and stops at the first user.
type Resolver struct {
	strategies []Strategy
	log        logrus.FieldLogger
}

func NewResolver(log logrus.FieldLogger, strategies ...Strategy) *Resolver {
	kept := make([]Strategy, 0, len(strategies))
	for _, s := range strategies {
		if s != nil {
			kept = append(kept, s)
		}
	}
	return &Resolver{strategies: kept, log: obs.Or(log)}
}

// ResolveIdentity never fails: strategy errors are logged and the chain moves on.
func (r *Resolver) ResolveIdentity(ctx context.Context) Resolution {
	sess, ok := SessionFromContext(ctx)
	if !ok || sess.empty() {
		obs.IdentityResolutions.WithLabelValues("none").Inc()
		return Resolution{}
	}
	for _, strategy := range r.strategies {
		user, err := strategy.Resolve(ctx, sess)
		if err != nil {
			r.log.WithError(err).WithField("strategy", strategy.Name()).Debug("identity strategy failed")
			continue
		}
		if user != nil && user.ID != "" {
			obs.IdentityResolutions.WithLabelValues(strategy.Name()).Inc()
			return Resolution{User: user, Via: strategy.Name()}
		}
	}
	obs.IdentityResolutions.WithLabelValues("none").Inc()
	return Resolution{}
}

// VerifiedUser asks the provider for the user behind the access token.
type VerifiedUser struct {
	Provider IdentityProvider
}

func (VerifiedUser) Name() string { return "verified" }

func (v VerifiedUser) Resolve(ctx context.Context, s *Session) (*Identity, error) {
	if s.AccessToken == "" {
		return nil, nil
	}
	if v.Provider == nil {
		return nil, errors.New("identity provider unavailable")
	}
	return v.Provider.UserInfo(ctx, s.AccessToken)
}

// CachedSession trusts the signed session cookie without calling the provider.
type CachedSession struct {
	Codec *SessionCodec
}

func (CachedSession) Name() string { return "cached" }

func (c CachedSession) Resolve(_ context.Context, s *Session) (*Identity, error) {
	if s.SessionToken == "" || c.Codec == nil {
		return nil, nil
	}
	return c.Codec.Decode(s.SessionToken)
}

// RefreshedSession exchanges the refresh token and reads the user again with
// the fresh access token. The new tokens are recorded on the session; when a
// codec is set a new session cookie is minted as well.
type RefreshedSession struct {
	Provider IdentityProvider
	Codec    *SessionCodec
}

func (RefreshedSession) Name() string { return "refreshed" }

func (r RefreshedSession) Resolve(ctx context.Context, s *Session) (*Identity, error) {
	if s.RefreshToken == "" {
		return nil, nil
	}
	if r.Provider == nil {
		return nil, errors.New("identity provider unavailable")
	}
	tokens, err := r.Provider.Refresh(ctx, s.RefreshToken)
	if err != nil {
		return nil, err
	}
	user, err := r.Provider.UserInfo(ctx, tokens.AccessToken)
	if err != nil {
		s.Rotate(tokens)
		return nil, err
	}
	if user != nil && r.Codec != nil {
		if cookie, err := r.Codec.Encode(*user); err == nil {
			tokens.SessionToken = cookie
		}
	}
	s.Rotate(tokens)
	return user, nil
}
