package flows

import (
	"context"
	"errors"
	"fmt"
)

// RegisterRequest is already validated by the caller.
type RegisterRequest struct {
	Username    string
	Email       string
	Password    string
	FirstName   string
	LastName    string
	PhoneNumber string
}

// RegisterCreateInput is handed to CreateSubject.
type RegisterCreateInput struct {
	Username     string
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	PhoneNumber  string
	Role         string
}

type RegisterMetrics struct {
	RegisterSuccess   int
	RegisterDuplicate int
	RegisterFailure   int
}

type RegisterEvents struct {
	RegisterSuccess   string
	RegisterFailure   string
	RegisterDuplicate string
}

type RegisterErrors struct {
	EngineNotReady  error
	UsernameExists  error
	EmailExists     error
	CredentialStore error
}

// RegisterDeps captures registration flow dependencies.
type RegisterDeps struct {
	DefaultRole            string
	DefaultRoleDescription string

	ExistsByUsername func(context.Context, string) (bool, error)
	ExistsByEmail    func(context.Context, string) (bool, error)
	HashPassword     func(string) (string, error)
	EnsureRole       func(ctx context.Context, name, description string) (string, error)
	CreateSubject    func(context.Context, RegisterCreateInput) (int64, error)
	IssueSession     func(context.Context, int64) (*SessionTokens, error)

	MetricInc func(int)
	EmitAudit AuditFunc

	Metrics RegisterMetrics
	Events  RegisterEvents
	Errors  RegisterErrors
}

// RunRegister creates a principal with the default role and signs it in.
// Username and email uniqueness are checked in that order, so a request that
// collides on both reports the username.
func RunRegister(ctx context.Context, req RegisterRequest, deps RegisterDeps) (*SessionTokens, error) {
	if deps.MetricInc == nil {
		deps.MetricInc = noopMetric
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = noopAudit
	}
	if deps.ExistsByUsername == nil ||
		deps.ExistsByEmail == nil ||
		deps.HashPassword == nil ||
		deps.EnsureRole == nil ||
		deps.CreateSubject == nil ||
		deps.IssueSession == nil {
		return nil, deps.Errors.EngineNotReady
	}

	fail := func(err error, reason string) (*SessionTokens, error) {
		deps.MetricInc(deps.Metrics.RegisterFailure)
		deps.EmitAudit(ctx, deps.Events.RegisterFailure, false, 0, "", err, func() map[string]string {
			return map[string]string{
				"username": req.Username,
				"reason":   reason,
			}
		})
		return nil, err
	}
	duplicate := func(err error, field string) (*SessionTokens, error) {
		deps.MetricInc(deps.Metrics.RegisterDuplicate)
		deps.EmitAudit(ctx, deps.Events.RegisterDuplicate, false, 0, "", err, func() map[string]string {
			return map[string]string{
				"username": req.Username,
				"field":    field,
			}
		})
		return nil, err
	}

	taken, err := deps.ExistsByUsername(ctx, req.Username)
	if err != nil {
		return fail(fmt.Errorf("%w: %v", deps.Errors.CredentialStore, err), "username_lookup")
	}
	if taken {
		return duplicate(deps.Errors.UsernameExists, "username")
	}

	taken, err = deps.ExistsByEmail(ctx, req.Email)
	if err != nil {
		return fail(fmt.Errorf("%w: %v", deps.Errors.CredentialStore, err), "email_lookup")
	}
	if taken {
		return duplicate(deps.Errors.EmailExists, "email")
	}

	hash, err := deps.HashPassword(req.Password)
	if err != nil {
		return fail(err, "hash_password")
	}

	role, err := deps.EnsureRole(ctx, deps.DefaultRole, deps.DefaultRoleDescription)
	if err != nil {
		return fail(fmt.Errorf("%w: %v", deps.Errors.CredentialStore, err), "ensure_role")
	}

	subjectID, err := deps.CreateSubject(ctx, RegisterCreateInput{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		PhoneNumber:  req.PhoneNumber,
		Role:         role,
	})
	if err != nil {
		switch {
		case errors.Is(err, deps.Errors.UsernameExists):
			return duplicate(deps.Errors.UsernameExists, "username")
		case errors.Is(err, deps.Errors.EmailExists):
			return duplicate(deps.Errors.EmailExists, "email")
		default:
			return fail(fmt.Errorf("%w: %v", deps.Errors.CredentialStore, err), "create")
		}
	}

	tokens, err := deps.IssueSession(ctx, subjectID)
	if err != nil {
		return fail(err, "issue_session")
	}

	deps.MetricInc(deps.Metrics.RegisterSuccess)
	deps.EmitAudit(ctx, deps.Events.RegisterSuccess, true, subjectID, "", nil, func() map[string]string {
		return map[string]string{
			"username": req.Username,
			"role":     role,
		}
	})
	return tokens, nil
}
