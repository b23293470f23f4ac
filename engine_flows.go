package authcore

import (
	"context"

	"github.com/smartportfolio/authcore/internal/flows"
	"github.com/smartportfolio/authcore/jwt"
)

func (e *Engine) buildFlows() flows.Service {
	sessionDeps := e.sessionFlowDeps()
	issueSession := func(ctx context.Context, subjectID int64) (*flows.SessionTokens, error) {
		return flows.RunIssueSession(ctx, subjectID, sessionDeps)
	}

	return flows.New(flows.Deps{
		Session:      sessionDeps,
		Register:     e.registerFlowDeps(issueSession),
		Login:        e.loginFlowDeps(issueSession),
		Refresh:      e.refreshFlowDeps(sessionDeps, issueSession),
		Logout:       e.logoutFlowDeps(),
		Authenticate: e.authenticateFlowDeps(),
	})
}

func (e *Engine) flowMetricInc(id int) {
	e.metricInc(MetricID(id))
}

func (e *Engine) flowWarn(msg string, keysAndValues ...any) {
	e.logger.Sugar().Warnw(msg, keysAndValues...)
}

func (e *Engine) sessionFlowDeps() flows.SessionDeps {
	return flows.SessionDeps{
		AccessTTL:         e.config.JWT.AccessTTL,
		RefreshTTL:        e.config.JWT.RefreshTTL,
		PointerTTL:        e.config.Session.RefreshPointerTTL,
		IssueToken:        e.jwtManager.Issue,
		Cache:             e.cache,
		OnCacheWriteError: e.onCacheWriteError,
		MetricInc:         e.flowMetricInc,
		Metrics: flows.SessionMetrics{
			SessionPinned: int(MetricSessionPinned),
		},
		Errors: flows.SessionErrors{
			EngineNotReady: ErrEngineNotReady,
		},
	}
}

func (e *Engine) registerFlowDeps(issueSession func(context.Context, int64) (*flows.SessionTokens, error)) flows.RegisterDeps {
	return flows.RegisterDeps{
		DefaultRole:            e.config.Account.DefaultRole,
		DefaultRoleDescription: e.config.Account.DefaultRoleDescription,
		ExistsByUsername:       e.credentials.ExistsByUsername,
		ExistsByEmail:          e.credentials.ExistsByEmail,
		HashPassword:           e.passwordHash.Hash,
		EnsureRole:             e.roles.EnsureRole,
		CreateSubject: func(ctx context.Context, in flows.RegisterCreateInput) (int64, error) {
			p, err := e.credentials.Create(ctx, NewPrincipal{
				Username:      in.Username,
				Email:         in.Email,
				PasswordHash:  in.PasswordHash,
				FirstName:     in.FirstName,
				LastName:      in.LastName,
				PhoneNumber:   in.PhoneNumber,
				Active:        true,
				EmailVerified: false,
				Roles:         []string{in.Role},
			})
			if err != nil {
				return 0, err
			}
			return p.ID, nil
		},
		IssueSession: issueSession,
		MetricInc:    e.flowMetricInc,
		EmitAudit:    e.emitAudit,
		Metrics: flows.RegisterMetrics{
			RegisterSuccess:   int(MetricRegisterSuccess),
			RegisterDuplicate: int(MetricRegisterDuplicate),
			RegisterFailure:   int(MetricRegisterFailure),
		},
		Events: flows.RegisterEvents{
			RegisterSuccess:   auditEventRegisterSuccess,
			RegisterFailure:   auditEventRegisterFailure,
			RegisterDuplicate: auditEventRegisterDuplicate,
		},
		Errors: flows.RegisterErrors{
			EngineNotReady:  ErrEngineNotReady,
			UsernameExists:  ErrUsernameExists,
			EmailExists:     ErrEmailExists,
			CredentialStore: ErrCredentialStore,
		},
	}
}

func (e *Engine) loginFlowDeps(issueSession func(context.Context, int64) (*flows.SessionTokens, error)) flows.LoginDeps {
	deps := flows.LoginDeps{
		Now:                 e.now,
		ClientIPFromContext: clientIPFromContext,
		FindByIdentifier: func(ctx context.Context, identifier string) (flows.LoginSubjectRecord, error) {
			p, err := e.credentials.FindByIdentifier(ctx, identifier)
			if err != nil {
				return flows.LoginSubjectRecord{}, err
			}
			return flows.LoginSubjectRecord{
				ID:           p.ID,
				Active:       p.Active,
				PasswordHash: p.PasswordHash,
			}, nil
		},
		VerifyPassword:       e.passwordHash.Verify,
		PasswordNeedsUpgrade: e.passwordHash.NeedsUpgrade,
		HashPassword:         e.passwordHash.Hash,
		TouchLastLogin:       e.credentials.TouchLastLogin,
		IssueSession:         issueSession,
		Warn:                 e.flowWarn,
		MetricInc:            e.flowMetricInc,
		EmitAudit:            e.emitAudit,
		Metrics: flows.LoginMetrics{
			LoginSuccess:     int(MetricLoginSuccess),
			LoginFailure:     int(MetricLoginFailure),
			LoginRateLimited: int(MetricLoginRateLimited),
		},
		Events: flows.LoginEvents{
			LoginSuccess:     auditEventLoginSuccess,
			LoginFailure:     auditEventLoginFailure,
			LoginRateLimited: auditEventLoginRateLimited,
		},
		Errors: flows.LoginErrors{
			EngineNotReady:     ErrEngineNotReady,
			InvalidCredentials: ErrInvalidCredentials,
			LoginRateLimited:   ErrLoginRateLimited,
			NotFound:           ErrNotFound,
		},
	}

	if updater, ok := e.credentials.(PasswordHashUpdater); ok {
		deps.UpdatePasswordHash = updater.UpdatePasswordHash
	}
	if e.rateLimiter != nil {
		deps.CheckLoginRate = e.rateLimiter.CheckLogin
		deps.IncrementLoginRate = e.rateLimiter.IncrementLogin
		deps.ResetLoginRate = e.rateLimiter.ResetLogin
	}
	return deps
}

func (e *Engine) refreshFlowDeps(
	sessionDeps flows.SessionDeps,
	issueSession func(context.Context, int64) (*flows.SessionTokens, error),
) flows.RefreshDeps {
	return flows.RefreshDeps{
		AtomicRotation: e.config.Session.AtomicRotation,
		PointerTTL:     e.config.Session.RefreshPointerTTL,
		VerifyRefresh: func(token string) (int64, error) {
			claims, err := e.verifyKind(token, jwt.KindRefresh)
			if err != nil {
				return 0, err
			}
			return claims.SubjectID()
		},
		CheckSubject: func(ctx context.Context, subjectID int64) error {
			_, err := e.credentials.FindByID(ctx, subjectID)
			return err
		},
		MintPair: func(subjectID int64) (*flows.SessionTokens, error) {
			return flows.RunMintPair(subjectID, sessionDeps)
		},
		IssueSession: issueSession,
		Cache:        e.cache,
	}
}

func (e *Engine) logoutFlowDeps() flows.LogoutDeps {
	return flows.LogoutDeps{
		SubjectOf:         e.jwtManager.SubjectOf,
		RemainingLifetime: e.jwtManager.RemainingLifetime,
		Cache:             e.cache,
		OnCacheWriteError: e.onCacheWriteError,
	}
}

func (e *Engine) authenticateFlowDeps() flows.AuthenticateDeps {
	return flows.AuthenticateDeps{
		VerifyAccess: func(token string) (*jwt.Claims, error) {
			return e.verifyKind(token, jwt.KindAccess)
		},
		Cache:    e.cache,
		FailOpen: e.config.Cache.FailOpen,
	}
}
