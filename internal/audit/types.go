package audit

import (
	"context"
	"errors"
	"strings"
	"time"

	"igrejaportal.org/internal/auth"
)

var ErrInvalidEvent = errors.New("audit: invalid event")

// Entry is one stored audit record. ActorUserEmail and ActorUserName are
// filled at query time from the live identity directory and are never
// written back.
type Entry struct {
	ID           string         `json:"id"`
	ActorUserID  *string        `json:"actor_user_id"`
	ActorRole    *string        `json:"actor_role"`
	Action       Action         `json:"action"`
	ResourceType ResourceType   `json:"resource_type"`
	ResourceID   *string        `json:"resource_id"`
	Payload      map[string]any `json:"payload"`
	CreatedAt    time.Time      `json:"created_at"`

	ActorUserEmail *string `json:"actor_user_email"`
	ActorUserName  *string `json:"actor_user_name"`
}

// Actor identifies who performed an action. A zero Actor records a
// system-initiated event.
type Actor struct {
	UserID string
	Role   *auth.Role
}

// ActorOf builds the Actor for a resolved user and role.
func ActorOf(userID string, role *auth.Role) *Actor {
	return &Actor{UserID: userID, Role: role}
}

// Event is a request to record an entry. A nil Actor asks the log to
// resolve the current user at write time.
type Event struct {
	Action       Action
	ResourceType ResourceType
	ResourceID   string
	Payload      map[string]any
	Actor        *Actor
}

// WriteResult reports the outcome of Record. Dropped holds the error of a
// write that was logged locally and otherwise ignored.
type WriteResult struct {
	ID      string
	Dropped error
}

// Filter narrows a query. Action and ResourceType match case-insensitive
// substrings; From and To are inclusive bounds on CreatedAt.
type Filter struct {
	Action       string
	ResourceType string
	From         *time.Time
	To           *time.Time
}

// Query asks for one page of entries.
type Query struct {
	Page     int
	PageSize int
	Filter
}

// Page is always renderable. Error is set when the store failed and the
// page was degraded to empty.
type Page struct {
	Entries  []Entry `json:"entries"`
	Total    int     `json:"total"`
	Page     int     `json:"page"`
	PageSize int     `json:"page_size"`
	Error    string  `json:"error,omitempty"`
}

// CleanupResult reports a retention sweep.
type CleanupResult struct {
	Deleted   int64     `json:"deleted"`
	Threshold time.Time `json:"threshold"`
	Error     string    `json:"error,omitempty"`
}

// Store persists audit entries. Search orders newest first with id as the
// tie-break.
type Store interface {
	Insert(ctx context.Context, e Entry) error
	Search(ctx context.Context, f Filter, limit, offset int) ([]Entry, error)
	Count(ctx context.Context, f Filter) (int, error)
	DeleteOlderThan(ctx context.Context, threshold time.Time) (int64, error)
}

// ActorResolver finds the current user and role of a request.
type ActorResolver interface {
	CurrentActor(ctx context.Context) (userID string, role *auth.Role, ok bool)
}

// UserDirectory looks users up by id for enrichment.
type UserDirectory interface {
	UserByID(ctx context.Context, id string) (*auth.Identity, error)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// LikePattern turns user input into a substring pattern for LIKE/ILIKE with
// the backslash escape character.
func LikePattern(s string) string {
	return "%" + likeEscaper.Replace(s) + "%"
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
