package flows

import (
	"context"
	"time"
)

// LogoutFailureKind classifies logout failures for root-level mapping.
type LogoutFailureKind int

const (
	LogoutFailureNone LogoutFailureKind = iota
	LogoutFailureDecode
	LogoutFailureBlacklist
	LogoutFailureUnpin
)

// LogoutResult reports what logout managed to do.
type LogoutResult struct {
	Failure     LogoutFailureKind
	Err         error
	SubjectID   int64
	Blacklisted bool
	Degraded    bool
}

// LogoutCache is the slice of the session cache used by logout.
type LogoutCache interface {
	Blacklist(ctx context.Context, token string, ttl time.Duration) error
	UnpinRefreshToken(ctx context.Context, subjectID int64) error
}

// LogoutDeps captures logout flow dependencies.
type LogoutDeps struct {
	// SubjectOf must accept expired but correctly signed tokens.
	SubjectOf         func(string) (int64, error)
	RemainingLifetime func(string) time.Duration
	Cache             LogoutCache
	OnCacheWriteError CacheWriteErrorFunc
}

// RunLogoutByAccessToken blacklists accessToken for the rest of its life and
// drops the subject's refresh pointer. The pointer is removed by subject id;
// no refresh token is compared.
func RunLogoutByAccessToken(ctx context.Context, accessToken string, deps LogoutDeps) LogoutResult {
	subjectID, err := deps.SubjectOf(accessToken)
	if err != nil {
		return LogoutResult{
			Failure: LogoutFailureDecode,
			Err:     err,
		}
	}

	result := LogoutResult{SubjectID: subjectID}

	if remaining := deps.RemainingLifetime(accessToken); remaining > 0 {
		if err := deps.Cache.Blacklist(ctx, accessToken, remaining); err != nil {
			if policyErr := deps.OnCacheWriteError(ctx, OpBlacklist, subjectID, err); policyErr != nil {
				result.Failure = LogoutFailureBlacklist
				result.Err = policyErr
			} else {
				result.Degraded = true
			}
		} else {
			result.Blacklisted = true
		}
	}

	// The pointer is dropped even when the blacklist write failed.
	if err := deps.Cache.UnpinRefreshToken(ctx, subjectID); err != nil {
		if policyErr := deps.OnCacheWriteError(ctx, OpUnpin, subjectID, err); policyErr != nil {
			if result.Failure == LogoutFailureNone {
				result.Failure = LogoutFailureUnpin
				result.Err = policyErr
			}
		} else {
			result.Degraded = true
		}
	}

	return result
}
