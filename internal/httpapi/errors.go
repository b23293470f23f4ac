package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/smartportfolio/authcore"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Timestamp time.Time `json:"timestamp"`
	Status    int       `json:"status"`
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Path      string    `json:"path"`
}

const (
	msgInternal    = "An unexpected error occurred"
	msgUnavailable = "Session service temporarily unavailable"
	msgBadHeader   = "Missing or malformed Authorization header"
)

// StatusFor maps engine errors to an HTTP status and the client-facing
// message. Unknown errors are 500 with a generic message.
func StatusFor(err error) (int, string) {
	var verr *authcore.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, verr.Error()
	case errors.Is(err, authcore.ErrValidation):
		return http.StatusBadRequest, authcore.ErrValidation.Error()
	case errors.Is(err, authcore.ErrUsernameExists):
		return http.StatusConflict, authcore.ErrUsernameExists.Error()
	case errors.Is(err, authcore.ErrEmailExists):
		return http.StatusConflict, authcore.ErrEmailExists.Error()
	case errors.Is(err, authcore.ErrInvalidCredentials):
		return http.StatusUnauthorized, authcore.ErrInvalidCredentials.Error()
	case errors.Is(err, authcore.ErrLoginRateLimited):
		return http.StatusTooManyRequests, "Too many failed login attempts, try again later"
	case errors.Is(err, authcore.ErrTokenBlacklisted),
		errors.Is(err, authcore.ErrTokenExpired),
		errors.Is(err, authcore.ErrTokenMalformed),
		errors.Is(err, authcore.ErrTokenSignature),
		errors.Is(err, authcore.ErrTokenInvalid):
		return http.StatusUnauthorized, unwrapSentinel(err).Error()
	case errors.Is(err, authcore.ErrNotFound):
		return http.StatusNotFound, authcore.ErrNotFound.Error()
	case errors.Is(err, authcore.ErrLogoutFailed):
		return http.StatusBadRequest, authcore.ErrLogoutFailed.Error()
	case errors.Is(err, authcore.ErrCacheUnavailable):
		return http.StatusServiceUnavailable, msgUnavailable
	default:
		return http.StatusInternalServerError, msgInternal
	}
}

func unwrapSentinel(err error) error {
	for _, s := range []error{
		authcore.ErrTokenBlacklisted,
		authcore.ErrTokenExpired,
		authcore.ErrTokenMalformed,
		authcore.ErrTokenSignature,
	} {
		if errors.Is(err, s) {
			return s
		}
	}
	return authcore.ErrTokenInvalid
}

func abortWithError(c *gin.Context, err error) {
	status, message := StatusFor(err)
	log := requestLogger(c)
	if status >= http.StatusInternalServerError {
		log.Error("request failed",
			zap.Int("status", status),
			zap.String("path", c.Request.URL.Path),
			zap.Error(err),
		)
	} else {
		log.Info("request rejected",
			zap.Int("status", status),
			zap.String("path", c.Request.URL.Path),
			zap.Error(err),
		)
	}
	abortWithStatus(c, status, message)
}

func abortWithStatus(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, ErrorBody{
		Timestamp: time.Now().UTC(),
		Status:    status,
		Error:     http.StatusText(status),
		Message:   message,
		Path:      c.Request.URL.Path,
	})
}
