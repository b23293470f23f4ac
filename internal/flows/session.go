package flows

import (
	"context"
	"time"

	"github.com/smartportfolio/authcore/jwt"
)

// SessionTokens is a freshly minted access/refresh pair for one subject.
type SessionTokens struct {
	SubjectID    int64
	AccessToken  string
	RefreshToken string
	AccessTTL    time.Duration

	// Degraded is set when the refresh pointer write failed and
	// OnCacheWriteError accepted the failure.
	Degraded bool
}

// SessionPinner is the slice of the session cache used to pin a refresh token.
type SessionPinner interface {
	PinRefreshToken(ctx context.Context, subjectID int64, token string, ttl time.Duration) error
}

type SessionMetrics struct {
	SessionPinned int
}

type SessionErrors struct {
	EngineNotReady error
}

// SessionDeps captures token issuance and pointer pinning dependencies.
type SessionDeps struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	PointerTTL time.Duration

	IssueToken        func(subjectID int64, kind jwt.Kind, lifetime time.Duration) (string, error)
	Cache             SessionPinner
	OnCacheWriteError CacheWriteErrorFunc

	MetricInc func(int)
	Metrics   SessionMetrics
	Errors    SessionErrors
}

// RunMintPair signs a new access/refresh pair without touching the cache.
func RunMintPair(subjectID int64, deps SessionDeps) (*SessionTokens, error) {
	if deps.IssueToken == nil {
		return nil, deps.Errors.EngineNotReady
	}

	access, err := deps.IssueToken(subjectID, jwt.KindAccess, deps.AccessTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := deps.IssueToken(subjectID, jwt.KindRefresh, deps.RefreshTTL)
	if err != nil {
		return nil, err
	}

	return &SessionTokens{
		SubjectID:    subjectID,
		AccessToken:  access,
		RefreshToken: refresh,
		AccessTTL:    deps.AccessTTL,
	}, nil
}

// RunIssueSession mints a pair and pins its refresh token as the subject's
// only live one, replacing whatever was pinned before.
func RunIssueSession(ctx context.Context, subjectID int64, deps SessionDeps) (*SessionTokens, error) {
	if deps.MetricInc == nil {
		deps.MetricInc = noopMetric
	}
	if deps.Cache == nil || deps.OnCacheWriteError == nil {
		return nil, deps.Errors.EngineNotReady
	}

	tokens, err := RunMintPair(subjectID, deps)
	if err != nil {
		return nil, err
	}

	if err := deps.Cache.PinRefreshToken(ctx, subjectID, tokens.RefreshToken, deps.PointerTTL); err != nil {
		if policyErr := deps.OnCacheWriteError(ctx, OpPin, subjectID, err); policyErr != nil {
			return nil, policyErr
		}
		tokens.Degraded = true
		return tokens, nil
	}

	deps.MetricInc(deps.Metrics.SessionPinned)
	return tokens, nil
}
