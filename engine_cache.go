package authcore

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// onCacheWriteError applies Config.Cache.FailOpen to a failed session cache
// write. It returns nil when the caller should carry on degraded.
func (e *Engine) onCacheWriteError(ctx context.Context, op string, subjectID int64, err error) error {
	e.metricInc(MetricCacheWriteFailure)

	if !e.config.Cache.FailOpen {
		e.logger.Error("session cache write failed",
			zap.String("op", op),
			zap.Int64("subject_id", subjectID),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %s: %v", ErrCacheUnavailable, op, err)
	}

	e.logger.Warn("session cache write failed, continuing degraded",
		zap.String("op", op),
		zap.Int64("subject_id", subjectID),
		zap.Error(err),
	)
	if e.degraded != nil {
		e.degraded.ReportDegraded(ctx, op, subjectID, err)
	}
	e.emitAudit(ctx, auditEventCacheDegraded, false, subjectID, "", ErrCacheUnavailable, func() map[string]string {
		return map[string]string{
			"op": op,
		}
	})
	return nil
}

func (e *Engine) onCacheReadError(ctx context.Context, op string, subjectID int64, err error) {
	e.metricInc(MetricCacheReadFailure)
	e.logger.Warn("session cache read failed",
		zap.String("op", op),
		zap.Int64("subject_id", subjectID),
		zap.Bool("fail_open", e.config.Cache.FailOpen),
		zap.Error(err),
	)
	if e.config.Cache.FailOpen && e.degraded != nil {
		e.degraded.ReportDegraded(ctx, op, subjectID, err)
	}
}
