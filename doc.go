// Package authcore provides a session/token lifecycle engine: registration,
// login, current-user lookup, refresh-token rotation and logout, backed by
// signed JWTs and a Redis session cache.
//
// The package is designed for concurrent server workloads: Engine methods are safe to call
// from multiple goroutines after initialization through [Builder.Build].
//
// # Session model
//
// Each principal has at most one live refresh token, pinned in the cache under
// its subject id. Logging in anywhere supersedes the previous session. Logout
// blacklists the presented access token for its remaining lifetime and removes
// the pointer.
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Engine], [Builder], [Config], and value types
// ([AuthResponse], [Profile], [AuthResult]). Flow orchestration, login throttling and audit
// dispatch live under internal/ and are never exported. Credentials are reached only through
// the [CredentialStore] and [RoleStore] contracts.
//
// # What this package must NOT do
//
//   - Expose Redis clients or cache key layout in its public API.
//   - Perform I/O outside of Engine methods (construction via Builder is allocation-only
//     until Build).
//   - Import any sub-package that re-imports authcore (no import cycles).
package authcore
