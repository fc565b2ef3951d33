package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"igrejaportal.org/internal/audit"
	"igrejaportal.org/internal/auth"
	"igrejaportal.org/internal/backoffice"
	"igrejaportal.org/internal/gate"
)

const dateOnly = "2006-01-02"

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// validationMessage reports the first failing field.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		e := verrs[0]
		return fmt.Sprintf("field %s failed on the '%s' rule", strings.ToLower(e.Field()), e.Tag())
	}
	return err.Error()
}

type grantRoleRequest struct {
	UserID string `json:"user_id" validate:"required,max=128"`
	Role   string `json:"role" validate:"required,oneof=admin operador"`
}

type cleanupRequest struct {
	RetentionDays *int `json:"retention_days" validate:"omitempty,min=1,max=3650"`
}

type roleResponse struct {
	UserID    string `json:"user_id"`
	Role      string `json:"role"`
	CreatedBy string `json:"created_by,omitempty"`
}

var errCleanupFailed = errors.New("audit cleanup failed")

// requestError is a malformed body. Bodies are read inside the mutation,
// after the gate has admitted the caller.
type requestError struct{ msg string }

func (e *requestError) Error() string { return e.msg }

func badRequest(msg string) error { return &requestError{msg: msg} }

// Me reports the signed-in back-office user.
func (a *API) Me(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	g, err := a.deps.Gate.RequireBackofficeUser(r.Context(), gate.ScopeSessionMe)
	if err != nil {
		a.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":    g.Identity.ID,
		"email": g.Identity.Email,
		"name":  g.Identity.DisplayName(),
		"role":  string(g.Role),
	})
}

// ListAuditLogs sweeps expired entries when enabled, then returns one page.
func (a *API) ListAuditLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, err := a.deps.Gate.RequireAdmin(r.Context(), gate.ScopeAuditLogsView); err != nil {
		a.writeFailure(w, r, err)
		return
	}
	q, err := parseAuditQuery(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if a.opts.SweepOnView {
		a.deps.Audit.Cleanup(r.Context(), a.opts.RetentionDays)
	}
	writeJSON(w, http.StatusOK, a.deps.Audit.Query(r.Context(), q))
}

// CleanupAuditLogs runs an explicit retention sweep and records it.
func (a *API) CleanupAuditLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var result audit.CleanupResult
	out := a.deps.Runner.Perform(r.Context(), backoffice.ActionSpec{
		Scope:        gate.ScopeAuditLogsCleanup,
		AdminOnly:    true,
		Action:       audit.ActionAuditCleanup,
		ResourceType: audit.ResourceAuditLogs,
	}, func(ctx context.Context, _ gate.Grant) (string, map[string]any, error) {
		var req cleanupRequest
		if r.ContentLength != 0 {
			if err := decodeJSON(w, r, &req); err != nil {
				return "", nil, badRequest(err.Error())
			}
		}
		if err := getValidator().Struct(req); err != nil {
			return "", nil, badRequest(validationMessage(err))
		}
		days := a.opts.RetentionDays
		if req.RetentionDays != nil {
			days = *req.RetentionDays
		}
		result = a.deps.Audit.Cleanup(ctx, days)
		if result.Error != "" {
			return "", nil, errCleanupFailed
		}
		return "", map[string]any{
			"retentionDays": days,
			"deleted":       result.Deleted,
		}, nil
	})
	if out.Err != nil {
		a.writeFailure(w, r, out.Err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GrantRole assigns a role to a user that has none.
func (a *API) GrantRole(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var granted auth.RoleAssignment
	out := a.deps.Runner.Perform(r.Context(), backoffice.ActionSpec{
		Scope:        gate.ScopeRolesGrant,
		AdminOnly:    true,
		Action:       audit.ActionRoleGrant,
		ResourceType: audit.ResourceRoleAssignments,
	}, func(ctx context.Context, g gate.Grant) (string, map[string]any, error) {
		var req grantRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			return "", nil, badRequest(err.Error())
		}
		req.UserID = strings.TrimSpace(req.UserID)
		if err := getValidator().Struct(req); err != nil {
			return "", nil, badRequest(validationMessage(err))
		}
		granted = auth.RoleAssignment{
			UserID:    req.UserID,
			Role:      auth.Role(req.Role),
			CreatedBy: g.Identity.ID,
		}
		if err := a.deps.Roles.Grant(ctx, granted); err != nil {
			return "", nil, err
		}
		return granted.UserID, map[string]any{"role": req.Role}, nil
	})
	if out.Err != nil {
		a.writeFailure(w, r, out.Err)
		return
	}
	writeJSON(w, http.StatusCreated, roleResponse{
		UserID:    granted.UserID,
		Role:      string(granted.Role),
		CreatedBy: granted.CreatedBy,
	})
}

// GetRole reads a user's role without bootstrapping.
func (a *API) GetRole(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, err := a.deps.Gate.RequireAdmin(r.Context(), gate.ScopeRolesView); err != nil {
		a.writeFailure(w, r, err)
		return
	}
	userID := mux.Vars(r)["user_id"]
	role, err := a.deps.Roles.Lookup(r.Context(), userID)
	if err != nil {
		a.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, roleResponse{UserID: userID, Role: string(role)})
}

func (a *API) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	if writeAuthError(w, r, err) {
		return
	}
	var reqErr *requestError
	switch {
	case errors.As(err, &reqErr):
		writeError(w, r, http.StatusBadRequest, reqErr.msg)
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, "user already has a role")
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "role not found")
	case errors.Is(err, errCleanupFailed):
		writeError(w, r, http.StatusServiceUnavailable, err.Error())
	default:
		a.log.WithError(err).WithField("path", r.URL.Path).Error("request failed")
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func parseAuditQuery(r *http.Request) (audit.Query, error) {
	v := r.URL.Query()
	var q audit.Query
	var err error
	if q.Page, err = intParam(v.Get("page")); err != nil {
		return q, fmt.Errorf("invalid page: %w", err)
	}
	if q.PageSize, err = intParam(v.Get("page_size")); err != nil {
		return q, fmt.Errorf("invalid page_size: %w", err)
	}
	q.Action = strings.TrimSpace(v.Get("action"))
	q.ResourceType = strings.TrimSpace(v.Get("resource_type"))
	if q.From, err = timeParam(v.Get("date_from"), false); err != nil {
		return q, fmt.Errorf("invalid date_from: %w", err)
	}
	if q.To, err = timeParam(v.Get("date_to"), true); err != nil {
		return q, fmt.Errorf("invalid date_to: %w", err)
	}
	return q, nil
}

func intParam(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

// timeParam accepts RFC3339 or a bare date. A bare date used as an upper
// bound covers the whole day.
func timeParam(s string, endOfDay bool) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		t = t.UTC()
		return &t, nil
	}
	t, err := time.Parse(dateOnly, s)
	if err != nil {
		return nil, fmt.Errorf("expected RFC3339 or %s", dateOnly)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}
