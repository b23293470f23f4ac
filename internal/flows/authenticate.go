package flows

import (
	"context"

	"github.com/smartportfolio/authcore/jwt"
)

// AuthenticateFailureKind classifies gateway check failures for root-level mapping.
type AuthenticateFailureKind int

const (
	AuthenticateFailureNone AuthenticateFailureKind = iota
	AuthenticateFailureToken
	AuthenticateFailureBlacklisted
	AuthenticateFailureCacheRead
)

// AuthenticateResult returns either accepted claims or a classified failure.
type AuthenticateResult struct {
	Failure   AuthenticateFailureKind
	Err       error
	SubjectID int64
	Claims    *jwt.Claims

	// Degraded is set when the blacklist could not be read and the token was
	// accepted under a fail-open policy.
	Degraded bool
}

// BlacklistReader is the slice of the session cache used by the gateway check.
type BlacklistReader interface {
	IsBlacklisted(ctx context.Context, token string) (bool, error)
}

// AuthenticateDeps captures gateway check dependencies.
type AuthenticateDeps struct {
	// VerifyAccess returns the claims of a correctly signed, unexpired access token.
	VerifyAccess func(string) (*jwt.Claims, error)
	Cache        BlacklistReader
	FailOpen     bool
}

// RunAuthenticate verifies an access token and rejects it if it was logged out.
func RunAuthenticate(ctx context.Context, accessToken string, deps AuthenticateDeps) AuthenticateResult {
	claims, err := deps.VerifyAccess(accessToken)
	if err != nil {
		return AuthenticateResult{
			Failure: AuthenticateFailureToken,
			Err:     err,
		}
	}
	subjectID, err := claims.SubjectID()
	if err != nil {
		return AuthenticateResult{
			Failure: AuthenticateFailureToken,
			Err:     err,
		}
	}

	blacklisted, err := deps.Cache.IsBlacklisted(ctx, accessToken)
	if err != nil {
		if !deps.FailOpen {
			return AuthenticateResult{
				Failure:   AuthenticateFailureCacheRead,
				Err:       err,
				SubjectID: subjectID,
				Claims:    claims,
			}
		}
		return AuthenticateResult{
			Failure:   AuthenticateFailureNone,
			Err:       err,
			SubjectID: subjectID,
			Claims:    claims,
			Degraded:  true,
		}
	}
	if blacklisted {
		return AuthenticateResult{
			Failure:   AuthenticateFailureBlacklisted,
			SubjectID: subjectID,
			Claims:    claims,
		}
	}

	return AuthenticateResult{
		Failure:   AuthenticateFailureNone,
		SubjectID: subjectID,
		Claims:    claims,
	}
}
