// Package rate provides Redis-backed fixed-window counters used to throttle
// failed login attempts.
//
// # Window semantics
//
// Fixed-window counters: a Lua script runs INCR and arms PEXPIRE on the first
// hit. Identifiers are case-sensitive. Key layout:
//   - <prefix>:login:user:<identifier>: failed logins per identifier
//   - <prefix>:login:ip:<ip>: failed logins per client IP
//
// # What this package must NOT do
//
//   - Decide whether a Redis failure blocks a login (the Engine does that).
//   - Be imported outside the authcore module.
package rate
