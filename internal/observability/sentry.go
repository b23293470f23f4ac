// Package observability wires error reporting for the authcore server.
package observability

import (
	"context"
	"fmt"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/getsentry/sentry-go"
)

// InitSentry configures the global Sentry client. An empty DSN disables it.
func InitSentry(dsn, environment, release string) error {
	if dsn == "" {
		return nil
	}

	return sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		Release:          release,
		AttachStacktrace: true,
	})
}

func FlushSentry() {
	sentry.Flush(2 * time.Second)
}

// SentryReporter captures fail-open session cache writes as warnings.
type SentryReporter struct {
	hub *sentry.Hub
}

// NewSentryReporter reports to hub, or to the current hub when hub is nil.
func NewSentryReporter(hub *sentry.Hub) *SentryReporter {
	return &SentryReporter{hub: hub}
}

func (r *SentryReporter) ReportDegraded(ctx context.Context, op string, subjectID int64, err error) {
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = r.hub
	}
	if hub == nil {
		hub = sentry.CurrentHub()
	}

	if err == nil {
		err = fmt.Errorf("session cache %s failed", op)
	}
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelWarning)
		scope.SetTag("component", "session_cache")
		scope.SetTag("op", op)
		if subjectID > 0 {
			scope.SetTag("subject_id", strconv.FormatInt(subjectID, 10))
		}
		hub.CaptureException(err)
	})
}

// ReportPanic sends a recovered request panic with its stack.
func ReportPanic(hub *sentry.Hub, rec any, method, path string) {
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("method", method)
		scope.SetTag("path", path)
		scope.SetExtra("panic", fmt.Sprint(rec))
		scope.SetExtra("stack", string(debug.Stack()))
		hub.CaptureMessage("panic in request")
	})
}
