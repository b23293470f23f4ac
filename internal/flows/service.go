package flows

import "context"

// Service is the centralized flow runner built once by the root engine.
type Service struct {
	deps Deps
}

// New returns a flow service with immutable dependency wiring.
func New(deps Deps) Service {
	return Service{deps: deps}
}

// Initialized reports whether the service has been wired with flow deps.
func (s Service) Initialized() bool {
	return s.deps.Session.IssueToken != nil && s.deps.Authenticate.VerifyAccess != nil
}

func (s Service) Register(ctx context.Context, req RegisterRequest) (*SessionTokens, error) {
	return RunRegister(ctx, req, s.deps.Register)
}

func (s Service) Login(ctx context.Context, identifier, secret string) (*SessionTokens, error) {
	return RunLogin(ctx, identifier, secret, s.deps.Login)
}

func (s Service) Refresh(ctx context.Context, refreshToken string) RefreshResult {
	return RunRefresh(ctx, refreshToken, s.deps.Refresh)
}

func (s Service) LogoutByAccessToken(ctx context.Context, accessToken string) LogoutResult {
	return RunLogoutByAccessToken(ctx, accessToken, s.deps.Logout)
}

func (s Service) Authenticate(ctx context.Context, accessToken string) AuthenticateResult {
	return RunAuthenticate(ctx, accessToken, s.deps.Authenticate)
}
