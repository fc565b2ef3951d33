package auth

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("auth: not found")
	ErrConflict     = errors.New("auth: already exists")
	ErrInvalidInput = errors.New("auth: invalid input")
)

// Code classifies an authorization failure.
type Code string

const (
	CodeUnauthenticated Code = "UNAUTHENTICATED"
	CodeForbidden       Code = "FORBIDDEN"
)

const (
	msgUnauthenticated = "Your session has expired or you are not signed in. Please sign in again."
	msgBackoffice      = "You do not have permission to access the back office."
	msgAdminOnly       = "This action requires administrator privileges."
)

// AuthorizationError is the only failure a gate hands back to its caller.
type AuthorizationError struct {
	Code    Code
	Message string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unauthenticated builds the failure returned when no identity resolves.
func Unauthenticated() *AuthorizationError {
	return &AuthorizationError{Code: CodeUnauthenticated, Message: msgUnauthenticated}
}

// Forbidden builds the failure returned when the role is insufficient.
// adminOnly selects the admin wording over the back-office one.
func Forbidden(adminOnly bool) *AuthorizationError {
	if adminOnly {
		return &AuthorizationError{Code: CodeForbidden, Message: msgAdminOnly}
	}
	return &AuthorizationError{Code: CodeForbidden, Message: msgBackoffice}
}

// AsAuthorizationError unwraps err into an *AuthorizationError.
func AsAuthorizationError(err error) (*AuthorizationError, bool) {
	var ae *AuthorizationError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

func IsUnauthenticated(err error) bool {
	ae, ok := AsAuthorizationError(err)
	return ok && ae.Code == CodeUnauthenticated
}

func IsForbidden(err error) bool {
	ae, ok := AsAuthorizationError(err)
	return ok && ae.Code == CodeForbidden
}
