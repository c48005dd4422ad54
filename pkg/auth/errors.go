package auth

import "errors"

var (
	// ErrInvalidCredentials is returned for an unknown user or a wrong
	// password. Callers must not be able to tell the two apart.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidOrExpiredToken is returned for a tampered, malformed or
	// expired session token.
	ErrInvalidOrExpiredToken = errors.New("invalid or expired token")

	// ErrAuthenticationRequired is returned when no session token was sent.
	ErrAuthenticationRequired = errors.New("authentication required")

	// ErrInsufficientPrivilege is returned for a valid token whose principal
	// is not an admin.
	ErrInsufficientPrivilege = errors.New("insufficient privilege")

	// ErrInvalidCSRFToken is returned when the supplied CSRF token does not
	// match the one stored for the session.
	ErrInvalidCSRFToken = errors.New("invalid csrf token")

	// ErrMissingCSRFToken is returned when no CSRF token was supplied.
	ErrMissingCSRFToken = errors.New("missing csrf token")

	// ErrTooManyAttempts is returned when a rate-limit window is exhausted.
	ErrTooManyAttempts = errors.New("too many attempts")

	// ErrServerMisconfigured is returned when the token signing secret is
	// absent.
	ErrServerMisconfigured = errors.New("server misconfigured")

	// ErrPersistenceUnavailable wraps credential store failures.
	ErrPersistenceUnavailable = errors.New("persistence unavailable")

	// ErrWeakPassword is returned when a new password fails the policy.
	ErrWeakPassword = errors.New("password does not meet the policy")
)
