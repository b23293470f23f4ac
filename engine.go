package authcore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	internalaudit "github.com/smartportfolio/authcore/internal/audit"
	"github.com/smartportfolio/authcore/internal/flows"
	"github.com/smartportfolio/authcore/internal/rate"
	"github.com/smartportfolio/authcore/jwt"
	"github.com/smartportfolio/authcore/password"
	"github.com/smartportfolio/authcore/session"
)

// Engine coordinates registration, login, refresh rotation, logout and the
// gateway blacklist check. Build one with [New] and share it; all methods
// are safe for concurrent use.
//
// Engine instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Engine struct {
	config       Config
	credentials  CredentialStore
	roles        RoleStore
	cache        session.Cache
	rateLimiter  *rate.Limiter
	audit        *internalaudit.Dispatcher
	metrics      *Metrics
	passwordHash *password.Argon2
	jwtManager   *jwt.Manager
	logger       *zap.Logger
	degraded     DegradedReporter
	clock        func() time.Time
	flow         flows.Service
}

const tokenTypeBearer = "Bearer"

// Close flushes pending audit events. The engine must not be used afterwards.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		if err := e.audit.Close(); err != nil {
			e.logger.Warn("audit sink close failed", zap.Error(err))
		}
	}
	_ = e.logger.Sync()
}

// AuditDropped reports how many audit events were discarded because the
// buffer was full. It is zero when auditing is disabled.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) ready() bool {
	return e != nil && e.flow.Initialized()
}

// Register validates in, creates the principal with the default role and
// signs it in exactly like [Engine.Login].
func (e *Engine) Register(ctx context.Context, in RegisterInput) (*AuthResponse, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	if err := in.Validate(); err != nil {
		e.metricInc(MetricRegisterFailure)
		e.emitAudit(ctx, auditEventRegisterFailure, false, 0, "", err, func() map[string]string {
			return map[string]string{
				"username": in.Username,
				"reason":   "validation",
			}
		})
		return nil, err
	}

	tokens, err := e.flow.Register(ctx, flows.RegisterRequest{
		Username:    in.Username,
		Email:       in.Email,
		Password:    in.Password,
		FirstName:   in.FirstName,
		LastName:    in.LastName,
		PhoneNumber: in.PhoneNumber,
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("user registered",
		zap.Int64("subject_id", tokens.SubjectID),
		zap.String("username", in.Username),
		zap.Bool("degraded", tokens.Degraded),
	)
	return e.authResponse(ctx, tokens)
}

// Login authenticates by username or email. Any previous session of the
// principal is superseded: its refresh token stops being accepted.
func (e *Engine) Login(ctx context.Context, usernameOrEmail, secret string) (*AuthResponse, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	tokens, err := e.flow.Login(ctx, usernameOrEmail, secret)
	if err != nil {
		return nil, err
	}

	e.logger.Info("user logged in",
		zap.Int64("subject_id", tokens.SubjectID),
		zap.Bool("degraded", tokens.Degraded),
	)
	return e.authResponse(ctx, tokens)
}

// CurrentUser returns the profile behind a valid access token. It does not
// consult the blacklist; protected routes go through [Engine.Authenticate].
func (e *Engine) CurrentUser(ctx context.Context, accessToken string) (*Profile, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	claims, err := e.verifyKind(accessToken, jwt.KindAccess)
	if err != nil {
		return nil, mapTokenError(err)
	}
	subjectID, err := claims.SubjectID()
	if err != nil {
		return nil, ErrTokenInvalid
	}

	p, err := e.credentials.FindByID(ctx, subjectID)
	if err != nil {
		return nil, mapStoreError(err)
	}
	profile := ProfileOf(p)
	return &profile, nil
}

// Refresh exchanges the currently pinned refresh token for a new pair. Any
// other refresh token, including one that was valid before the last
// rotation, fails with [ErrTokenInvalid].
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*AuthResponse, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	res := e.flow.Refresh(ctx, refreshToken)
	switch res.Failure {
	case flows.RefreshFailureNone:
	case flows.RefreshFailureVerify:
		return nil, e.refreshRejected(ctx, res, "verify_failed")
	case flows.RefreshFailurePointerMissing:
		return nil, e.refreshRejected(ctx, res, "pointer_missing")
	case flows.RefreshFailurePointerRead:
		e.onCacheReadError(ctx, "refresh_pointer", res.SubjectID, res.Err)
		return nil, e.refreshRejected(ctx, res, "pointer_unreadable")
	case flows.RefreshFailureMismatch:
		e.metricInc(MetricRefreshMismatch)
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshMismatch, false, res.SubjectID, "", ErrTokenInvalid, nil)
		e.logger.Info("refresh token is not the pinned one", zap.Int64("subject_id", res.SubjectID))
		return nil, ErrTokenInvalid
	case flows.RefreshFailureSubject:
		e.metricInc(MetricRefreshFailure)
		err := mapStoreError(res.Err)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, res.SubjectID, "", err, func() map[string]string {
			return map[string]string{
				"reason": "subject_lookup",
			}
		})
		return nil, err
	default:
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, res.SubjectID, "", res.Err, func() map[string]string {
			return map[string]string{
				"reason": "issue_failed",
			}
		})
		return nil, res.Err
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, res.SubjectID, "", nil, nil)
	e.logger.Info("token refreshed",
		zap.Int64("subject_id", res.SubjectID),
		zap.Bool("degraded", res.Tokens.Degraded),
	)
	return e.authResponse(ctx, res.Tokens)
}

func (e *Engine) refreshRejected(ctx context.Context, res flows.RefreshResult, reason string) error {
	e.metricInc(MetricRefreshFailure)
	e.emitAudit(ctx, auditEventRefreshInvalid, false, res.SubjectID, "", ErrTokenInvalid, func() map[string]string {
		return map[string]string{
			"reason": reason,
		}
	})
	e.logger.Info("refresh rejected",
		zap.Int64("subject_id", res.SubjectID),
		zap.String("reason", reason),
		zap.NamedError("cause", res.Err),
	)
	return ErrTokenInvalid
}

// Logout blacklists accessToken for the rest of its lifetime and drops the
// principal's refresh pointer. The access token may already be expired.
// refreshToken is accepted for API compatibility and is not compared: the
// pointer is removed by subject id.
func (e *Engine) Logout(ctx context.Context, accessToken, refreshToken string) (*MessageResponse, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	res := e.flow.LogoutByAccessToken(ctx, accessToken)
	if res.Failure != flows.LogoutFailureNone {
		reason := "cache_write"
		if res.Failure == flows.LogoutFailureDecode {
			reason = "undecodable_token"
		}
		err := fmt.Errorf("%w: %v", ErrLogoutFailed, res.Err)
		e.metricInc(MetricLogoutFailure)
		e.emitAudit(ctx, auditEventLogoutFailure, false, res.SubjectID, "", err, func() map[string]string {
			return map[string]string{
				"reason": reason,
			}
		})
		e.logger.Error("logout failed",
			zap.Int64("subject_id", res.SubjectID),
			zap.String("reason", reason),
			zap.Error(res.Err),
		)
		return nil, err
	}

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogout, true, res.SubjectID, "", nil, func() map[string]string {
		return map[string]string{
			"blacklisted":            strconv.FormatBool(res.Blacklisted),
			"refresh_token_supplied": strconv.FormatBool(refreshToken != ""),
		}
	})
	e.logger.Info("user logged out",
		zap.Int64("subject_id", res.SubjectID),
		zap.Bool("blacklisted", res.Blacklisted),
		zap.Bool("degraded", res.Degraded),
	)

	return &MessageResponse{
		Message:   "Logged out successfully",
		Success:   true,
		Timestamp: e.now().UTC(),
		Degraded:  res.Degraded,
	}, nil
}

// Authenticate is the gateway check for protected requests: the access
// token must verify and must not be blacklisted.
func (e *Engine) Authenticate(ctx context.Context, accessToken string) (*AuthResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if e.metrics != nil && e.metrics.LatencyEnabled() {
		start := time.Now()
		defer func() {
			e.metrics.Observe(MetricAuthenticateLatency, time.Since(start))
		}()
	}

	res := e.flow.Authenticate(ctx, accessToken)
	switch res.Failure {
	case flows.AuthenticateFailureNone:
	case flows.AuthenticateFailureToken:
		e.metricInc(MetricAuthenticateFailure)
		return nil, mapTokenError(res.Err)
	case flows.AuthenticateFailureBlacklisted:
		e.metricInc(MetricAuthenticateFailure)
		e.metricInc(MetricBlacklistHit)
		e.emitAudit(ctx, auditEventBlacklistHit, false, res.SubjectID, res.Claims.ID, ErrTokenBlacklisted, nil)
		return nil, ErrTokenBlacklisted
	case flows.AuthenticateFailureCacheRead:
		e.metricInc(MetricAuthenticateFailure)
		e.onCacheReadError(ctx, "blacklist_lookup", res.SubjectID, res.Err)
		return nil, fmt.Errorf("%w: %v", ErrCacheUnavailable, res.Err)
	default:
		e.metricInc(MetricAuthenticateFailure)
		return nil, ErrTokenInvalid
	}

	if res.Degraded {
		e.onCacheReadError(ctx, "blacklist_lookup", res.SubjectID, res.Err)
	}

	e.metricInc(MetricAuthenticateSuccess)
	out := &AuthResult{
		SubjectID: res.SubjectID,
		TokenID:   res.Claims.ID,
	}
	if res.Claims.ExpiresAt != nil {
		out.ExpiresAt = res.Claims.ExpiresAt.Time
	}
	return out, nil
}

// RemoveFromBlacklist is the administrative override that re-admits a
// logged-out access token before it expires.
func (e *Engine) RemoveFromBlacklist(ctx context.Context, accessToken string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if err := e.cache.RemoveFromBlacklist(ctx, accessToken); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}

	subjectID, _ := e.jwtManager.SubjectOf(accessToken)
	e.metricInc(MetricBlacklistRemoved)
	e.emitAudit(ctx, auditEventBlacklistRemoved, true, subjectID, "", nil, nil)
	e.logger.Warn("blacklist entry removed by override", zap.Int64("subject_id", subjectID))
	return nil
}

// Health pings the session cache and reports its round-trip latency.
func (e *Engine) Health(ctx context.Context) (bool, time.Duration) {
	if e == nil || e.cache == nil {
		return false, 0
	}
	latency, err := e.cache.Ping(ctx)
	if err != nil {
		e.logger.Warn("session cache health check failed", zap.Error(err))
		return false, latency
	}
	return true, latency
}

// GetLoginAttempts returns the failed-login counter for identifier. It is
// zero when login throttling is off.
func (e *Engine) GetLoginAttempts(ctx context.Context, identifier string) (int, error) {
	if e == nil || e.rateLimiter == nil {
		return 0, nil
	}
	n, err := e.rateLimiter.GetLoginAttempts(ctx, identifier)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return n, nil
}

func (e *Engine) authResponse(ctx context.Context, tokens *flows.SessionTokens) (*AuthResponse, error) {
	p, err := e.credentials.FindByID(ctx, tokens.SubjectID)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return &AuthResponse{
		Token:        tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		TokenType:    tokenTypeBearer,
		ExpiresIn:    int64(tokens.AccessTTL / time.Second),
		User:         ProfileOf(p),
		Degraded:     tokens.Degraded,
	}, nil
}

// verifyKind verifies token and requires its "typ" claim to be kind. Errors
// are the jwt package's; callers map them with mapTokenError.
func (e *Engine) verifyKind(token string, kind jwt.Kind) (*jwt.Claims, error) {
	claims, err := e.jwtManager.Verify(token)
	if err != nil {
		return nil, err
	}
	if claims.Kind != kind {
		return nil, jwt.ErrClaimsInvalid
	}
	return claims, nil
}

func mapTokenError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrSignatureInvalid):
		return ErrTokenSignature
	case errors.Is(err, jwt.ErrMalformed):
		return ErrTokenMalformed
	default:
		return ErrTokenInvalid
	}
}

func mapStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return ErrNotFound
	default:
		return fmt.Errorf("%w: %v", ErrCredentialStore, err)
	}
}
