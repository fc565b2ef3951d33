package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"igrejaportal.org/internal/audit"
	"igrejaportal.org/internal/auth"
	"igrejaportal.org/internal/backoffice"
	"igrejaportal.org/internal/obs"
)

const serviceName = "igreja-portal-backoffice"

// Pinger is anything that can report whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe checks the database and, when configured, Redis.
type ReadyProbe struct {
	DB    *sql.DB
	Redis Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			return err
		}
	}
	if rp.Redis != nil {
		return rp.Redis.Ping(ctx)
	}
	return nil
}

// Readiness is satisfied by ReadyProbe and by test doubles.
type Readiness interface {
	Check(ctx context.Context) error
}

// AuditLog is the audit surface the handlers use.
type AuditLog interface {
	Record(ctx context.Context, ev audit.Event) audit.WriteResult
	Query(ctx context.Context, q audit.Query) audit.Page
	Cleanup(ctx context.Context, retentionDays int) audit.CleanupResult
}

// RoleAdmin reads and grants role assignments.
type RoleAdmin interface {
	Lookup(ctx context.Context, userID string) (auth.Role, error)
	Grant(ctx context.Context, a auth.RoleAssignment) error
}

// Deps are the collaborators wired by the composition root.
type Deps struct {
	Gate   backoffice.Authorizer
	Runner *backoffice.Runner
	Audit  AuditLog
	Roles  RoleAdmin
	Ready  Readiness
	Logger logrus.FieldLogger
}

// Options tune the HTTP surface.
type Options struct {
	Version        string
	RetentionDays  int
	SweepOnView    bool
	Cookies        CookieConfig
	AllowedOrigins []string
	RateLimitRPS   float64
	RateLimitBurst int
	MaxBodyBytes   int64
}

// API is the HTTP layer of the back office.
type API struct {
	router *mux.Router
	deps   Deps
	opts   Options
	log    logrus.FieldLogger
}

func New(deps Deps, opts Options) (*API, error) {
	if deps.Gate == nil || deps.Runner == nil || deps.Audit == nil || deps.Roles == nil {
		return nil, errors.New("httpapi: gate, runner, audit log and roles are required")
	}
	if deps.Ready == nil {
		deps.Ready = ReadyProbe{}
	}
	if opts.RetentionDays <= 0 {
		opts.RetentionDays = audit.DefaultRetentionDays
	}
	opts.Cookies = opts.Cookies.withDefaults()

	a := &API{
		router: mux.NewRouter(),
		deps:   deps,
		opts:   opts,
		log:    obs.Or(deps.Logger),
	}

	a.router.HandleFunc("/healthz", a.Healthz)
	a.router.HandleFunc("/readyz", a.Ready)
	a.router.HandleFunc("/v1/info", a.Info)
	a.router.Handle("/metrics", obs.Handler())

	a.router.HandleFunc("/v1/me", a.Me)
	admin := a.router.PathPrefix("/v1/admin").Subrouter()
	admin.HandleFunc("/audit-logs", a.ListAuditLogs)
	admin.HandleFunc("/audit-logs/cleanup", a.CleanupAuditLogs)
	admin.HandleFunc("/roles", a.GrantRole)
	admin.HandleFunc("/roles/{user_id}", a.GetRole)

	a.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})
	return a, nil
}

// Handler returns the router wrapped in the middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = Sessions(a.router, a.opts.Cookies)
	h = obs.Instrument(h)
	if a.opts.MaxBodyBytes > 0 {
		h = MaxBodyBytes(h, a.opts.MaxBodyBytes)
	}
	if a.opts.RateLimitRPS > 0 {
		h = RateLimit(h, a.opts.RateLimitBurst, a.opts.RateLimitRPS)
	}
	h = CORS(h, a.opts.AllowedOrigins)
	h = SecurityHeaders(h)
	h = Logging(h, a.log)
	return RequestID(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.opts.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.deps.Ready.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.opts.Version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// writeAuthError renders a gate denial. It reports false when err is not an
// authorization error.
func writeAuthError(w http.ResponseWriter, r *http.Request, err error) bool {
	authErr, ok := auth.AsAuthorizationError(err)
	if !ok {
		return false
	}
	payload := map[string]any{
		"code":    string(authErr.Code),
		"message": authErr.Message,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	if authErr.Code == auth.CodeUnauthenticated {
		payload["login"] = "/login"
		w.Header().Set("WWW-Authenticate", `Bearer realm="backoffice"`)
		writeJSON(w, http.StatusUnauthorized, payload)
		return true
	}
	writeJSON(w, http.StatusForbidden, payload)
	return true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}
