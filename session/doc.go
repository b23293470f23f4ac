// Package session owns the Redis state behind token sessions: a single
// refresh-token pointer per subject and a blacklist of revoked access tokens.
//
// # Key layout
//
//	<prefix>:refresh:<subjectID>   -> refresh token, TTL = pointer lifetime
//	<prefix>:blacklist:<token>     -> "blacklisted", TTL = token's remaining lifetime
//
// # Architecture boundaries
//
// This package stores opaque strings. It does NOT parse JWTs, decide whether a
// cache failure is fatal, or know about principals; those responsibilities
// belong to the Engine.
package session
