package authcore

import (
	"fmt"
	"strings"
	"time"
)

// LintSeverity ranks a configuration warning.
type LintSeverity int

const (
	LintInfo LintSeverity = iota
	LintWarn
	LintHigh
)

func (s LintSeverity) String() string {
	switch s {
	case LintInfo:
		return "INFO"
	case LintWarn:
		return "WARN"
	case LintHigh:
		return "HIGH"
	default:
		return "UNKNOWN"
	}
}

// LintWarning is a configuration that is valid but worth a second look.
type LintWarning struct {
	Code     string
	Severity LintSeverity
	Message  string
}

// LintResult is the list of warnings produced by [Config.Lint].
type LintResult []LintWarning

// Codes returns the warning codes in order.
func (r LintResult) Codes() []string {
	out := make([]string, 0, len(r))
	for _, w := range r {
		out = append(out, w.Code)
	}
	return out
}

// BySeverity returns the warnings at or above min.
func (r LintResult) BySeverity(min LintSeverity) LintResult {
	var out LintResult
	for _, w := range r {
		if w.Severity >= min {
			out = append(out, w)
		}
	}
	return out
}

// AsError folds every warning at or above min into one error, or nil.
func (r LintResult) AsError(min LintSeverity) error {
	selected := r.BySeverity(min)
	if len(selected) == 0 {
		return nil
	}
	parts := make([]string, 0, len(selected))
	for _, w := range selected {
		parts = append(parts, fmt.Sprintf("[%s] %s: %s", w.Severity, w.Code, w.Message))
	}
	return fmt.Errorf("config lint: %s", strings.Join(parts, "; "))
}

// Lint reports settings that pass [Config.Validate] but weaken the session
// model. It never mutates c.
func (c Config) Lint() LintResult {
	var out LintResult
	add := func(code string, sev LintSeverity, msg string) {
		out = append(out, LintWarning{Code: code, Severity: sev, Message: msg})
	}

	if c.JWT.Leeway > time.Minute {
		add("leeway_large", LintWarn, "JWT leeway above 1m extends every token's life")
	}
	if c.JWT.AccessTTL > 24*time.Hour {
		add("access_ttl_long", LintWarn, "access tokens live longer than a day")
	}
	if c.JWT.RefreshTTL > 14*24*time.Hour {
		add("refresh_ttl_long", LintWarn, "refresh tokens live longer than 14 days")
	}
	if c.Session.RefreshPointerTTL < c.JWT.RefreshTTL {
		add("pointer_shorter_than_refresh", LintWarn, "refresh pointer expires before the refresh token it pins")
	}
	if !c.Session.AtomicRotation {
		add("rotation_not_atomic", LintInfo, "concurrent refreshes of one token may both succeed")
	}
	if c.Cache.FailOpen {
		add("cache_fail_open", LintInfo, "logout and session pinning tolerate cache write failures")
	}
	if c.Security.ProductionMode && c.Cache.FailOpen {
		add("production_fail_open", LintHigh, "revocation is best-effort while the cache is down")
	}
	if !c.Security.EnableLoginThrottle {
		add("login_throttle_disabled", LintWarn, "failed logins are not rate limited")
	}
	if !c.Audit.Enabled {
		add("audit_disabled", LintInfo, "security events are not audited")
	}
	if strings.EqualFold(c.JWT.SigningMethod, "hs256") || strings.EqualFold(c.JWT.SigningMethod, "hs512") {
		add("signing_hmac", LintInfo, "verifiers share the signing secret")
	}
	if c.Password.Memory < 64*1024 {
		add("argon2_memory_low", LintWarn, "argon2 memory below 64 MB")
	}
	if c.Password.AcceptLegacyBcrypt {
		add("legacy_bcrypt_accepted", LintInfo, "bcrypt hashes still verify")
	}

	return out
}
