// Package backoffice runs content mutations behind the authorization gate
// and records what they did.
package backoffice

import (
	"context"
	"errors"

	"igrejaportal.org/internal/audit"
	"igrejaportal.org/internal/gate"
)

// Authorizer is the gate as seen by the runner.
type Authorizer interface {
	RequireBackofficeUser(ctx context.Context, scope gate.Scope) (gate.Grant, error)
	RequireAdmin(ctx context.Context, scope gate.Scope) (gate.Grant, error)
}

// ActionSpec describes one kind of back-office mutation.
type ActionSpec struct {
	Scope        gate.Scope
	AdminOnly    bool
	Action       audit.Action
	ResourceType audit.ResourceType
}

// Mutation performs the data change with the granted handle and returns the
// affected resource id and the payload to record.
type Mutation func(ctx context.Context, g gate.Grant) (resourceID string, payload map[string]any, err error)

// Outcome is the result of Perform. Err is either an *auth.AuthorizationError
// or the mutation's own error. Audit reports the best-effort audit write.
type Outcome struct {
	Grant      gate.Grant
	ResourceID string
	Err        error
	Audit      audit.WriteResult
}

type Runner struct {
	gate     Authorizer
	recorder gate.Recorder
}

func NewRunner(a Authorizer, r gate.Recorder) (*Runner, error) {
	if a == nil || r == nil {
		return nil, errors.New("backoffice: authorizer and recorder are required")
	}
	return &Runner{gate: a, recorder: r}, nil
}

// Perform gates, mutates, then records. The audit write never changes the
// outcome of a successful mutation.
func (r *Runner) Perform(ctx context.Context, spec ActionSpec, m Mutation) Outcome {
	var (
		grant gate.Grant
		err   error
	)
	if spec.AdminOnly {
		grant, err = r.gate.RequireAdmin(ctx, spec.Scope)
	} else {
		grant, err = r.gate.RequireBackofficeUser(ctx, spec.Scope)
	}
	if err != nil {
		return Outcome{Err: err}
	}

	resourceID, payload, err := m(ctx, grant)
	if err != nil {
		return Outcome{Grant: grant, Err: err}
	}

	res := r.recorder.Record(ctx, audit.Event{
		Action:       spec.Action,
		ResourceType: spec.ResourceType,
		ResourceID:   resourceID,
		Payload:      payload,
		Actor:        grant.Actor(),
	})
	return Outcome{Grant: grant, ResourceID: resourceID, Audit: res}
}
