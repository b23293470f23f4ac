package flows

import (
	"context"
	"errors"
	"time"

	"github.com/smartportfolio/authcore/internal/rate"
)

// LoginSubjectRecord is the credential view of a principal needed to decide a login.
type LoginSubjectRecord struct {
	ID           int64
	Active       bool
	PasswordHash string
}

type LoginMetrics struct {
	LoginSuccess     int
	LoginFailure     int
	LoginRateLimited int
}

type LoginEvents struct {
	LoginSuccess     string
	LoginFailure     string
	LoginRateLimited string
}

type LoginErrors struct {
	EngineNotReady     error
	InvalidCredentials error
	LoginRateLimited   error
	NotFound           error
}

// LoginDeps captures login flow dependencies.
type LoginDeps struct {
	Now                 func() time.Time
	ClientIPFromContext func(context.Context) string

	// Throttle hooks are nil when login throttling is off.
	CheckLoginRate     func(ctx context.Context, identifier, ip string) error
	IncrementLoginRate func(ctx context.Context, identifier, ip string) error
	ResetLoginRate     func(ctx context.Context, identifier, ip string) error

	FindByIdentifier     func(context.Context, string) (LoginSubjectRecord, error)
	VerifyPassword       func(password, encodedHash string) (bool, error)
	PasswordNeedsUpgrade func(string) (bool, error)
	HashPassword         func(string) (string, error)
	// UpdatePasswordHash is nil when the credential store cannot rehash.
	UpdatePasswordHash func(ctx context.Context, subjectID int64, encodedHash string) error
	TouchLastLogin     func(ctx context.Context, subjectID int64, at time.Time) error
	IssueSession       func(context.Context, int64) (*SessionTokens, error)

	Warn      func(string, ...any)
	MetricInc func(int)
	EmitAudit AuditFunc

	Metrics LoginMetrics
	Events  LoginEvents
	Errors  LoginErrors
}

// RunLogin authenticates identifier (username or email) and secret and, on
// success, issues a pair that supersedes any previous session. Unknown
// identifiers, inactive principals and wrong secrets all return
// Errors.InvalidCredentials.
func RunLogin(ctx context.Context, identifier, secret string, deps LoginDeps) (*SessionTokens, error) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.MetricInc == nil {
		deps.MetricInc = noopMetric
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = noopAudit
	}
	if deps.Warn == nil {
		deps.Warn = noopWarn
	}
	if deps.ClientIPFromContext == nil {
		deps.ClientIPFromContext = func(context.Context) string { return "" }
	}
	if deps.FindByIdentifier == nil || deps.VerifyPassword == nil || deps.IssueSession == nil {
		return nil, deps.Errors.EngineNotReady
	}

	ip := deps.ClientIPFromContext(ctx)
	rateLimited := func(subjectID int64) (*SessionTokens, error) {
		deps.MetricInc(deps.Metrics.LoginRateLimited)
		deps.EmitAudit(ctx, deps.Events.LoginRateLimited, false, subjectID, "", deps.Errors.LoginRateLimited, func() map[string]string {
			return map[string]string{
				"identifier": identifier,
			}
		})
		return nil, deps.Errors.LoginRateLimited
	}

	if deps.CheckLoginRate != nil {
		if err := deps.CheckLoginRate(ctx, identifier, ip); err != nil {
			if errors.Is(err, rate.ErrRateLimited) {
				return rateLimited(0)
			}
			deps.Warn("authcore: login throttle read failed", "error", err)
		}
	}

	rejected := func(subjectID int64, reason string) (*SessionTokens, error) {
		if deps.IncrementLoginRate != nil {
			if err := deps.IncrementLoginRate(ctx, identifier, ip); err != nil {
				deps.Warn("authcore: login throttle update failed", "error", err)
			}
		}
		deps.MetricInc(deps.Metrics.LoginFailure)
		deps.EmitAudit(ctx, deps.Events.LoginFailure, false, subjectID, "", deps.Errors.InvalidCredentials, func() map[string]string {
			return map[string]string{
				"identifier": identifier,
				"reason":     reason,
			}
		})
		return nil, deps.Errors.InvalidCredentials
	}

	if identifier == "" {
		return rejected(0, "empty_identifier")
	}
	if secret == "" {
		return rejected(0, "empty_password")
	}

	subject, err := deps.FindByIdentifier(ctx, identifier)
	if err != nil {
		if deps.Errors.NotFound != nil && !errors.Is(err, deps.Errors.NotFound) {
			deps.Warn("authcore: credential lookup failed", "error", err)
		}
		return rejected(0, "user_not_found")
	}

	ok, err := deps.VerifyPassword(secret, subject.PasswordHash)
	if err != nil || !ok {
		return rejected(subject.ID, "password_mismatch")
	}
	if !subject.Active {
		return rejected(subject.ID, "inactive")
	}

	if deps.UpdatePasswordHash != nil && deps.PasswordNeedsUpgrade != nil && deps.HashPassword != nil {
		if needsUpgrade, err := deps.PasswordNeedsUpgrade(subject.PasswordHash); err == nil && needsUpgrade {
			if upgraded, err := deps.HashPassword(secret); err == nil {
				if err := deps.UpdatePasswordHash(ctx, subject.ID, upgraded); err != nil {
					deps.Warn("authcore: password hash upgrade update failed", "subject_id", subject.ID, "error", err)
				}
			} else {
				deps.Warn("authcore: password hash upgrade generation failed", "subject_id", subject.ID, "error", err)
			}
		}
	}
	secret = ""

	tokens, err := deps.IssueSession(ctx, subject.ID)
	if err != nil {
		deps.MetricInc(deps.Metrics.LoginFailure)
		deps.EmitAudit(ctx, deps.Events.LoginFailure, false, subject.ID, "", err, func() map[string]string {
			return map[string]string{
				"identifier": identifier,
				"reason":     "issue_session",
			}
		})
		return nil, err
	}

	if deps.ResetLoginRate != nil {
		if err := deps.ResetLoginRate(ctx, identifier, ip); err != nil {
			deps.Warn("authcore: login throttle reset failed", "error", err)
		}
	}
	if deps.TouchLastLogin != nil {
		if err := deps.TouchLastLogin(ctx, subject.ID, deps.Now()); err != nil {
			deps.Warn("authcore: last login update failed", "subject_id", subject.ID, "error", err)
		}
	}

	deps.MetricInc(deps.Metrics.LoginSuccess)
	deps.EmitAudit(ctx, deps.Events.LoginSuccess, true, subject.ID, "", nil, func() map[string]string {
		return map[string]string{
			"identifier": identifier,
		}
	})
	return tokens, nil
}
