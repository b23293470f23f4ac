package httpapi

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/smartportfolio/authcore"
	"github.com/smartportfolio/authcore/internal/logging"
	"github.com/smartportfolio/authcore/internal/observability"
	"github.com/smartportfolio/authcore/middleware"
)

const (
	ctxLogger      = "logger"
	ctxRequestID   = "request_id"
	ctxAuthResult  = "auth_result"
	ctxAccessToken = "access_token"

	headerRequestID = "X-Request-ID"
)

// requestContext assigns a request id, attaches a request-scoped logger and
// carries the client IP and user agent into the engine's context.
func requestContext(base *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(headerRequestID)
		if _, err := uuid.Parse(requestID); err != nil {
			requestID = uuid.New().String()
		}
		c.Set(ctxRequestID, requestID)
		c.Header(headerRequestID, requestID)

		log := logging.WithRequestID(base, requestID)
		c.Set(ctxLogger, log)

		ctx := authcore.WithClientIP(c.Request.Context(), c.ClientIP())
		ctx = authcore.WithUserAgent(ctx, c.Request.UserAgent())
		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.Int("size", c.Writer.Size()),
			zap.String("client_ip", c.ClientIP()),
		}
		if res, ok := AuthResultFrom(c); ok {
			fields = append(fields, zap.Int64("subject_id", res.SubjectID))
		}
		log.Info("request completed", fields...)
	}
}

func requestLogger(c *gin.Context) *zap.Logger {
	if v, ok := c.Get(ctxLogger); ok {
		if log, ok := v.(*zap.Logger); ok {
			return log
		}
	}
	return zap.NewNop()
}

// recovery turns handler panics into a 500 error body and reports them to
// Sentry.
func recovery(hub *sentry.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				observability.ReportPanic(hub, rec, c.Request.Method, c.Request.URL.Path)
				requestLogger(c).Error("panic recovered",
					zap.Any("panic", rec),
					zap.ByteString("stack", debug.Stack()),
					zap.String("method", c.Request.Method),
					zap.String("path", c.Request.URL.Path),
				)
				abortWithStatus(c, http.StatusInternalServerError, msgInternal)
			}
		}()

		c.Next()
	}
}

// RequireAuth admits requests whose bearer token passes
// [authcore.Engine.Authenticate], blacklist included.
func RequireAuth(svc AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := middleware.BearerToken(c.GetHeader("Authorization"))
		if !ok {
			abortWithStatus(c, http.StatusUnauthorized, msgBadHeader)
			return
		}

		res, err := svc.Authenticate(c.Request.Context(), token)
		if err != nil {
			abortWithError(c, err)
			return
		}

		c.Set(ctxAuthResult, res)
		c.Set(ctxAccessToken, token)
		c.Next()
	}
}

// AuthResultFrom returns the result stored by [RequireAuth].
func AuthResultFrom(c *gin.Context) (*authcore.AuthResult, bool) {
	v, ok := c.Get(ctxAuthResult)
	if !ok {
		return nil, false
	}
	res, ok := v.(*authcore.AuthResult)
	return res, ok
}
