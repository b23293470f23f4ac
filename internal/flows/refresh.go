package flows

import (
	"context"
	"errors"
	"time"

	"github.com/smartportfolio/authcore/session"
)

// RefreshFailureKind classifies refresh flow failures for root-level mapping.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureVerify
	RefreshFailurePointerMissing
	RefreshFailurePointerRead
	RefreshFailureMismatch
	RefreshFailureSubject
	RefreshFailureIssue
	RefreshFailurePin
)

// RefreshResult carries either the rotated pair or failure metadata.
type RefreshResult struct {
	Failure   RefreshFailureKind
	Err       error
	SubjectID int64
	Tokens    *SessionTokens
}

// RefreshCache is the slice of the session cache used by refresh.
type RefreshCache interface {
	CurrentRefreshToken(ctx context.Context, subjectID int64) (string, error)
	RotateRefreshToken(ctx context.Context, subjectID int64, presented, next string, ttl time.Duration) error
}

// RefreshDeps captures refresh flow dependencies.
type RefreshDeps struct {
	// AtomicRotation replaces read-compare-pin with one compare-and-set.
	AtomicRotation bool
	PointerTTL     time.Duration

	// VerifyRefresh returns the subject of a correctly signed, unexpired
	// refresh token.
	VerifyRefresh func(string) (int64, error)
	// CheckSubject fails when the principal no longer exists.
	CheckSubject func(context.Context, int64) error
	MintPair     func(int64) (*SessionTokens, error)
	IssueSession func(context.Context, int64) (*SessionTokens, error)
	Cache        RefreshCache
}

// RunRefresh exchanges the pinned refresh token for a new pair.
//
// Anything short of "the presented token is the one currently pinned" fails:
// a missing pointer, a different pointer and an unreadable cache all look the
// same to the caller. Without AtomicRotation two concurrent refreshes of one
// token can both pass the comparison; the later pin wins.
func RunRefresh(ctx context.Context, refreshToken string, deps RefreshDeps) RefreshResult {
	subjectID, err := deps.VerifyRefresh(refreshToken)
	if err != nil {
		return RefreshResult{
			Failure: RefreshFailureVerify,
			Err:     err,
		}
	}

	if !deps.AtomicRotation {
		pinned, err := deps.Cache.CurrentRefreshToken(ctx, subjectID)
		if err != nil {
			failure := RefreshFailurePointerRead
			if errors.Is(err, session.ErrNotFound) {
				failure = RefreshFailurePointerMissing
			}
			return RefreshResult{
				Failure:   failure,
				Err:       err,
				SubjectID: subjectID,
			}
		}
		if pinned != refreshToken {
			return RefreshResult{
				Failure:   RefreshFailureMismatch,
				Err:       session.ErrMismatch,
				SubjectID: subjectID,
			}
		}
	}

	if deps.CheckSubject != nil {
		if err := deps.CheckSubject(ctx, subjectID); err != nil {
			return RefreshResult{
				Failure:   RefreshFailureSubject,
				Err:       err,
				SubjectID: subjectID,
			}
		}
	}

	if !deps.AtomicRotation {
		tokens, err := deps.IssueSession(ctx, subjectID)
		if err != nil {
			return RefreshResult{
				Failure:   RefreshFailurePin,
				Err:       err,
				SubjectID: subjectID,
			}
		}
		return RefreshResult{
			Failure:   RefreshFailureNone,
			SubjectID: subjectID,
			Tokens:    tokens,
		}
	}

	tokens, err := deps.MintPair(subjectID)
	if err != nil {
		return RefreshResult{
			Failure:   RefreshFailureIssue,
			Err:       err,
			SubjectID: subjectID,
		}
	}

	if err := deps.Cache.RotateRefreshToken(ctx, subjectID, refreshToken, tokens.RefreshToken, deps.PointerTTL); err != nil {
		failure := RefreshFailurePointerRead
		switch {
		case errors.Is(err, session.ErrNotFound):
			failure = RefreshFailurePointerMissing
		case errors.Is(err, session.ErrMismatch):
			failure = RefreshFailureMismatch
		}
		return RefreshResult{
			Failure:   failure,
			Err:       err,
			SubjectID: subjectID,
		}
	}

	return RefreshResult{
		Failure:   RefreshFailureNone,
		SubjectID: subjectID,
		Tokens:    tokens,
	}
}
