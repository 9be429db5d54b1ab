package security

import (
	"errors"
	"fmt"

	"github.com/strukta/bastion/internal/auth"
	"github.com/strukta/bastion/internal/rbac"
)

// CredentialReason narrows why a credential was rejected. The reason is
// a generic code suitable for a 401 body; it never says whether the
// underlying account exists.
type CredentialReason string

const (
	ReasonExpired  CredentialReason = "expired"
	ReasonInvalid  CredentialReason = "invalid"
	ReasonRevoked  CredentialReason = "revoked"
	ReasonMissing  CredentialReason = "missing"
	ReasonBadLogin CredentialReason = "bad_credentials"
)

// CredentialError reports a failed authentication. Recoverable by
// re-authenticating; callers map it to 401 semantics.
type CredentialError struct {
	Reason CredentialReason
	err    error
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("credential rejected: %s", e.Reason)
}

func (e *CredentialError) Unwrap() error { return e.err }

// AuthzError reports a valid principal lacking a permission. Not
// retriable; callers map it to 403 semantics.
type AuthzError struct {
	Role       rbac.Role
	Permission rbac.Permission
}

func (e *AuthzError) Error() string {
	return fmt.Sprintf("permission denied: %s lacks %s", e.Role, e.Permission)
}

// credentialError wraps the token layer's sentinel errors into the
// typed taxonomy. System failures pass through untouched so they are
// never mistaken for a 401.
func credentialError(err error) error {
	switch {
	case errors.Is(err, auth.ErrTokenExpired):
		return &CredentialError{Reason: ReasonExpired, err: err}
	case errors.Is(err, auth.ErrTokenRevoked):
		return &CredentialError{Reason: ReasonRevoked, err: err}
	case errors.Is(err, auth.ErrTokenMissing):
		return &CredentialError{Reason: ReasonMissing, err: err}
	case errors.Is(err, auth.ErrSigningKeyUnavailable):
		return err
	case errors.Is(err, auth.ErrTokenInvalid), errors.Is(err, auth.ErrWrongTokenKind):
		return &CredentialError{Reason: ReasonInvalid, err: err}
	default:
		return &CredentialError{Reason: ReasonInvalid, err: err}
	}
}
