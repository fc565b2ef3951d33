package auth

import "context"

// ActorLookup resolves who is acting in the current request.
type ActorLookup struct {
	Resolver  *Resolver
	Directory *Directory
}

// CurrentActor returns the resolved user id and, when the user holds one,
// its role. ok is false for anonymous requests.
func (a ActorLookup) CurrentActor(ctx context.Context) (userID string, role *Role, ok bool) {
	if a.Resolver == nil {
		return "", nil, false
	}
	res := a.Resolver.ResolveIdentity(ctx)
	if res.User == nil {
		return "", nil, false
	}
	if a.Directory != nil {
		if r, has := a.Directory.RoleOf(ctx, res.User.ID); has {
			return res.User.ID, &r, true
		}
	}
	return res.User.ID, nil, true
}
