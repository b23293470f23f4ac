package flows

import "context"

// Deps groups flow dependency sets. Root engine builds this once and delegates
// request methods to the matching flow implementation.
type Deps struct {
	Session      SessionDeps
	Register     RegisterDeps
	Login        LoginDeps
	Refresh      RefreshDeps
	Logout       LogoutDeps
	Authenticate AuthenticateDeps
}

// AuditFunc emits one audit event. meta is only invoked when auditing is on.
type AuditFunc func(ctx context.Context, eventType string, success bool, subjectID int64, tokenID string, err error, meta func() map[string]string)

// CacheWriteErrorFunc is called whenever a session cache write fails. A nil
// return means the caller accepted the failure and the flow continues
// degraded; a non-nil return aborts the flow with that error.
type CacheWriteErrorFunc func(ctx context.Context, op string, subjectID int64, err error) error

// Cache operation names passed to CacheWriteErrorFunc.
const (
	OpPin       = "pin_refresh"
	OpUnpin     = "unpin_refresh"
	OpBlacklist = "blacklist"
)

func noopMetric(int) {}

func noopAudit(context.Context, string, bool, int64, string, error, func() map[string]string) {}

func noopWarn(string, ...any) {}
