package auth

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Authentication and authorization outcomes. All of them are expected results
// returned to the caller; only ErrStoreUnavailable is worth retrying.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account locked")
	ErrAccountInactive    = errors.New("account inactive")
	ErrTokenExpired       = errors.New("token expired")
	ErrTokenInvalid       = errors.New("token invalid")
	ErrWrongTokenType     = errors.New("wrong token type")
	ErrAPIKeyExpired      = errors.New("api key expired")
	ErrDuplicateUsername  = errors.New("username already exists")
	ErrDuplicateEmail     = errors.New("email already registered")
	ErrDuplicateRole      = errors.New("role already exists")
	ErrWeakPassword       = errors.New("password does not meet policy")
	ErrPasswordUnchanged  = errors.New("new password must differ from current password")
	ErrUserNotFound       = errors.New("user not found")
	ErrRoleNotFound       = errors.New("role not found")
	ErrAPIKeyNotFound     = errors.New("api key not found")
	ErrForbidden          = errors.New("forbidden")
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrStoreUnavailable   = errors.New("credential store unavailable")
	ErrInvalidInput       = errors.New("invalid input")
)

// LockedError reports a locked account together with the time the lock lapses.
// It matches ErrAccountLocked under errors.Is.
type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked until %s", e.Until.UTC().Format(time.RFC3339))
}

func (e *LockedError) Is(target error) bool {
	return target == ErrAccountLocked
}

// StoreError wraps an infrastructure failure from the credential store.
func StoreError(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
}

// errorKinds is ordered: the first match wins.
var errorKinds = []struct {
	err    error
	kind   string
	status int
}{
	{ErrInvalidCredentials, "invalid_credentials", http.StatusUnauthorized},
	{ErrAccountLocked, "account_locked", http.StatusForbidden},
	{ErrAccountInactive, "account_inactive", http.StatusForbidden},
	{ErrTokenExpired, "token_expired", http.StatusUnauthorized},
	{ErrTokenInvalid, "token_invalid", http.StatusUnauthorized},
	{ErrWrongTokenType, "wrong_token_type", http.StatusUnauthorized},
	{ErrAPIKeyExpired, "api_key_expired", http.StatusUnauthorized},
	{ErrUnauthenticated, "unauthenticated", http.StatusUnauthorized},
	{ErrForbidden, "forbidden", http.StatusForbidden},
	{ErrDuplicateUsername, "duplicate_username", http.StatusConflict},
	{ErrDuplicateEmail, "duplicate_email", http.StatusConflict},
	{ErrDuplicateRole, "duplicate_role", http.StatusConflict},
	{ErrWeakPassword, "weak_password", http.StatusUnprocessableEntity},
	{ErrPasswordUnchanged, "password_unchanged", http.StatusUnprocessableEntity},
	{ErrUserNotFound, "user_not_found", http.StatusNotFound},
	{ErrRoleNotFound, "role_not_found", http.StatusNotFound},
	{ErrAPIKeyNotFound, "api_key_not_found", http.StatusNotFound},
	{ErrStoreUnavailable, "store_unavailable", http.StatusServiceUnavailable},
	{ErrInvalidInput, "validation_error", http.StatusBadRequest},
}

// ErrorKind returns the stable machine-readable name of err's category,
// or "internal_error" when err is not part of the taxonomy.
func ErrorKind(err error) string {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "internal_error"
}

// HTTPStatus maps err onto the status code the transport layer should send.
func HTTPStatus(err error) int {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.status
		}
	}
	return http.StatusInternalServerError
}
