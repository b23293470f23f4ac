package authcore

import "errors"

var (
	// ErrInvalidCredentials is returned for unknown identifiers, wrong secrets
	// and inactive principals alike.
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrUsernameExists is returned by Register when the username is taken (case-sensitive).
	ErrUsernameExists = errors.New("username already exists")
	// ErrEmailExists is returned by Register when the email is taken.
	ErrEmailExists = errors.New("email already exists")
	// ErrNotFound is returned when the subject of a valid token no longer exists.
	ErrNotFound = errors.New("user not found")
	// ErrValidation is returned when registration input fails field rules.
	ErrValidation = errors.New("validation failed")
	// ErrLoginRateLimited is returned when the failed-login budget is spent.
	ErrLoginRateLimited = errors.New("login rate limited")

	// ErrTokenInvalid is returned by Refresh for any refresh token that is not
	// the currently pinned one, and for tokens of the wrong kind or with
	// rejected claims.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrTokenExpired is returned when a token is past its exp claim.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenMalformed is returned when a token cannot be parsed.
	ErrTokenMalformed = errors.New("token malformed")
	// ErrTokenSignature is returned when a token signature does not verify.
	ErrTokenSignature = errors.New("token signature invalid")
	// ErrTokenBlacklisted is returned by Authenticate for logged-out access tokens.
	ErrTokenBlacklisted = errors.New("token has been revoked")
	// ErrLogoutFailed is returned when logout cannot complete.
	ErrLogoutFailed = errors.New("logout failed")

	// ErrCacheUnavailable is returned when the session cache fails and the
	// engine is configured fail-closed.
	ErrCacheUnavailable = errors.New("session cache unavailable")
	// ErrEngineNotReady is returned when a nil or unbuilt Engine is used.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrCredentialStore wraps unexpected CredentialStore or RoleStore failures.
	ErrCredentialStore = errors.New("credential store failure")
)
