package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"igrejaportal.org/internal/ids"
	"igrejaportal.org/internal/obs"
)

const (
	DefaultRetentionDays = 30
	defaultEnrichLimit   = 8
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for local audit lines.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Log records, queries and prunes audit entries.
type Log struct {
	store       Store
	actors      ActorResolver
	users       UserDirectory
	log         logrus.FieldLogger
	now         func() time.Time
	enrichLimit int
}

// LogOption configures a Log.
type LogOption func(*Log) error

// WithClock injects the time source used for timestamps and retention.
func WithClock(now func() time.Time) LogOption {
	return func(l *Log) error {
		if now == nil {
			return errors.New("audit: clock cannot be nil")
		}
		l.now = now
		return nil
	}
}

// WithActorResolver sets how Record identifies the actor when the caller
// does not.
func WithActorResolver(r ActorResolver) LogOption {
	return func(l *Log) error {
		l.actors = r
		return nil
	}
}

// WithUserDirectory enables actor enrichment on queries.
func WithUserDirectory(d UserDirectory) LogOption {
	return func(l *Log) error {
		l.users = d
		return nil
	}
}

func WithLogger(log logrus.FieldLogger) LogOption {
	return func(l *Log) error {
		if log != nil {
			l.log = log
		}
		return nil
	}
}

// WithEnrichConcurrency bounds parallel identity lookups per page.
func WithEnrichConcurrency(n int) LogOption {
	return func(l *Log) error {
		if n <= 0 {
			return fmt.Errorf("audit: enrich concurrency must be positive, got %d", n)
		}
		l.enrichLimit = n
		return nil
	}
}

func NewLog(store Store, opts ...LogOption) (*Log, error) {
	if store == nil {
		return nil, errors.New("audit: store is required")
	}
	l := &Log{store: store, log: obs.Logger(), now: time.Now, enrichLimit: defaultEnrichLimit}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(l); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// Record appends an entry. It never fails the caller: a rejected or failed
// write is mirrored to the process log and returned in Dropped.
func (l *Log) Record(ctx context.Context, ev Event) WriteResult {
	entry := Entry{
		Action:       ev.Action,
		ResourceType: ev.ResourceType,
		ResourceID:   strPtr(ev.ResourceID),
		Payload:      copyPayload(ev.Payload),
	}

	actor := ev.Actor
	if actor == nil && l.actors != nil {
		if userID, role, ok := l.actors.CurrentActor(ctx); ok {
			actor = ActorOf(userID, role)
		}
	}
	if actor != nil {
		entry.ActorUserID = strPtr(actor.UserID)
		if actor.Role != nil {
			entry.ActorRole = strPtr(actor.Role.String())
		}
	}

	if !ev.Action.Valid() || !ev.ResourceType.Valid() {
		err := fmt.Errorf("%w: action %q resource %q", ErrInvalidEvent, ev.Action, ev.ResourceType)
		return l.drop(ctx, entry, err)
	}

	now := l.now().UTC()
	entry.ID = ids.NewAt(now)
	entry.CreatedAt = now
	if err := l.store.Insert(ctx, entry); err != nil {
		return l.drop(ctx, entry, err)
	}
	obs.AuditWrites.WithLabelValues("stored").Inc()
	return WriteResult{ID: entry.ID}
}

func (l *Log) drop(ctx context.Context, e Entry, err error) WriteResult {
	obs.AuditWrites.WithLabelValues("dropped").Inc()
	LogLocal(ctx, l.log, e, err)
	return WriteResult{Dropped: err}
}

// LogLocal mirrors an entry that could not be stored as one structured line
// so the event is not lost entirely.
func LogLocal(ctx context.Context, log logrus.FieldLogger, e Entry, cause error) {
	fields := logrus.Fields{
		"type":          "audit",
		"event":         string(e.Action),
		"resource_type": string(e.ResourceType),
		"payload":       e.Payload,
	}
	if e.ResourceID != nil {
		fields["resource_id"] = *e.ResourceID
	}
	if e.ActorUserID != nil {
		fields["user_id"] = *e.ActorUserID
	}
	if e.ActorRole != nil {
		fields["role"] = *e.ActorRole
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		fields["request_id"] = rid
	}
	obs.Or(log).WithFields(fields).WithError(cause).Error("audit write dropped")
}

func copyPayload(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
