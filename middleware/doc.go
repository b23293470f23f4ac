// Package middleware adapts [authcore.Engine.Authenticate] to net/http.
//
// [Guard] reads the Authorization header, rejects tokens that fail
// verification or were blacklisted at logout, and stores the accepted
// [authcore.AuthResult] on the request context. It makes no decisions of
// its own beyond pass or reject.
package middleware
