// Package flows contains the orchestration behind every Engine operation.
//
// Each flow function (RunRegister, RunLogin, RunRefresh, RunLogout,
// RunAuthenticate) accepts a typed dependency struct and returns either a
// result or a classified failure. Flows never touch Redis, the credential
// table or the signer directly; every side effect goes through a field of the
// deps struct, so tests drive them with plain closures.
//
// # Architecture boundaries
//
// Flow functions coordinate the token signer, the session cache, the login
// throttle, audit and metrics. They do NOT own any of these resources;
// ownership stays with the Engine.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import authcore (to avoid import cycles).
//   - Decide the cache failure policy. Write failures are handed to
//     OnCacheWriteError and the Engine decides whether they are fatal.
package flows
