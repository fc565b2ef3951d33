package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"igrejaportal.org/internal/obs"
)

// BootstrapMode selects how the first-admin rule is serialized.
type BootstrapMode string

const (
	// BootstrapCheckThenInsert runs the existence check and the insert as two
	// independent round trips. Concurrent first logins by different users may
	// both be promoted.
	BootstrapCheckThenInsert BootstrapMode = "check-then-insert"
	// BootstrapAdvisory delegates to the store, which runs both steps in one
	// transaction under an advisory lock.
	BootstrapAdvisory BootstrapMode = "advisory"
	// BootstrapRedisLock wraps check-then-insert in a cross-instance lock.
	BootstrapRedisLock BootstrapMode = "redis"
)

const bootstrapLockKey = "portal:bootstrap-first-admin"

// ParseBootstrapMode accepts the configured mode; empty selects the default.
func ParseBootstrapMode(s string) (BootstrapMode, error) {
	switch m := BootstrapMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return BootstrapCheckThenInsert, nil
	case BootstrapCheckThenInsert, BootstrapAdvisory, BootstrapRedisLock:
		return m, nil
	}
	return "", fmt.Errorf("%w: unknown bootstrap mode %q", ErrInvalidInput, s)
}

// BootstrapResult reports what the first-admin rule did. Dropped holds an
// error that was logged and otherwise ignored.
type BootstrapResult struct {
	Promoted bool
	Dropped  error
}

// Directory maps users to roles and owns the first-admin bootstrap.
type Directory struct {
	store  RoleStore
	mode   BootstrapMode
	locker Locker
	log    logrus.FieldLogger
}

// DirectoryOption configures a Directory.
type DirectoryOption func(*Directory) error

func WithBootstrapMode(mode BootstrapMode) DirectoryOption {
	return func(d *Directory) error {
		if mode == "" {
			return nil
		}
		d.mode = mode
		return nil
	}
}

// WithLocker supplies the lock used by BootstrapRedisLock.
func WithLocker(l Locker) DirectoryOption {
	return func(d *Directory) error {
		d.locker = l
		return nil
	}
}

func WithDirectoryLogger(l logrus.FieldLogger) DirectoryOption {
	return func(d *Directory) error {
		if l != nil {
			d.log = l
		}
		return nil
	}
}

func NewDirectory(store RoleStore, opts ...DirectoryOption) (*Directory, error) {
	if store == nil {
		return nil, errors.New("auth: role store is required")
	}
	d := &Directory{store: store, mode: BootstrapCheckThenInsert, log: obs.Logger()}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	switch d.mode {
	case BootstrapCheckThenInsert:
	case BootstrapAdvisory:
		if _, ok := store.(AtomicBootstrapper); !ok {
			return nil, fmt.Errorf("%w: store does not support advisory bootstrap", ErrInvalidInput)
		}
	case BootstrapRedisLock:
		if d.locker == nil {
			return nil, fmt.Errorf("%w: redis bootstrap requires a locker", ErrInvalidInput)
		}
	default:
		return nil, fmt.Errorf("%w: unknown bootstrap mode %q", ErrInvalidInput, d.mode)
	}
	return d, nil
}

// Lookup returns the stored role without triggering the bootstrap rule.
func (d *Directory) Lookup(ctx context.Context, userID string) (Role, error) {
	a, err := d.store.Lookup(ctx, userID)
	if err != nil {
		return "", err
	}
	return a.Role, nil
}

// RoleOf resolves the role of userID, running the bootstrap rule on a miss.
// ok is false when the user holds no role or the lookup failed.
func (d *Directory) RoleOf(ctx context.Context, userID string) (Role, bool) {
	if strings.TrimSpace(userID) == "" {
		return "", false
	}
	a, err := d.store.Lookup(ctx, userID)
	switch {
	case err == nil:
		return a.Role, a.Role.Valid()
	case !errors.Is(err, ErrNotFound):
		d.log.WithError(err).WithField("user_id", userID).Warn("role lookup failed")
		return "", false
	}

	d.BootstrapFirstAdminIfEmpty(ctx, userID)

	a, err = d.store.Lookup(ctx, userID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			d.log.WithError(err).WithField("user_id", userID).Warn("role lookup failed")
		}
		return "", false
	}
	return a.Role, a.Role.Valid()
}

// BootstrapFirstAdminIfEmpty promotes userID to admin when no assignment
// exists yet. It never fails; problems are logged and returned in Dropped.
func (d *Directory) BootstrapFirstAdminIfEmpty(ctx context.Context, userID string) BootstrapResult {
	a := RoleAssignment{UserID: userID, Role: RoleAdmin, CreatedBy: userID}

	var res BootstrapResult
	switch d.mode {
	case BootstrapAdvisory:
		promoted, err := d.store.(AtomicBootstrapper).InsertFirstAdmin(ctx, a)
		res = BootstrapResult{Promoted: promoted, Dropped: err}
	case BootstrapRedisLock:
		res = d.lockedCheckThenInsert(ctx, a)
	default:
		res = d.checkThenInsert(ctx, a)
	}

	log := d.log.WithFields(logrus.Fields{"user_id": userID, "mode": string(d.mode)})
	if res.Dropped != nil {
		log.WithError(res.Dropped).Warn("first admin bootstrap dropped")
	}
	if res.Promoted {
		obs.BootstrapPromotions.Inc()
		log.Info("first admin bootstrapped")
	}
	return res
}

func (d *Directory) checkThenInsert(ctx context.Context, a RoleAssignment) BootstrapResult {
	exists, err := d.store.HasAny(ctx)
	if err != nil {
		return BootstrapResult{Dropped: fmt.Errorf("check assignments: %w", err)}
	}
	if exists {
		return BootstrapResult{}
	}
	if err := d.store.Insert(ctx, a); err != nil {
		if errors.Is(err, ErrConflict) {
			return BootstrapResult{}
		}
		return BootstrapResult{Dropped: fmt.Errorf("insert first admin: %w", err)}
	}
	return BootstrapResult{Promoted: true}
}

func (d *Directory) lockedCheckThenInsert(ctx context.Context, a RoleAssignment) BootstrapResult {
	release, err := d.locker.Acquire(ctx, bootstrapLockKey)
	if err != nil {
		return BootstrapResult{Dropped: fmt.Errorf("acquire bootstrap lock: %w", err)}
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			d.log.WithError(err).Warn("release bootstrap lock")
		}
	}()
	return d.checkThenInsert(ctx, a)
}

// Grant stores an explicit assignment. Existing assignments are never
// changed; a second grant for the same user yields ErrConflict.
func (d *Directory) Grant(ctx context.Context, a RoleAssignment) error {
	a.UserID = strings.TrimSpace(a.UserID)
	a.CreatedBy = strings.TrimSpace(a.CreatedBy)
	if a.UserID == "" || a.CreatedBy == "" {
		return fmt.Errorf("%w: user and grantor are required", ErrInvalidInput)
	}
	if !a.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidInput, a.Role)
	}
	return d.store.Insert(ctx, a)
}
