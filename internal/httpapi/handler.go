package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/smartportfolio/authcore"
	"github.com/smartportfolio/authcore/middleware"
)

// AuthService is the engine surface the HTTP layer needs. *authcore.Engine
// implements it.
type AuthService interface {
	Register(ctx context.Context, in authcore.RegisterInput) (*authcore.AuthResponse, error)
	Login(ctx context.Context, usernameOrEmail, secret string) (*authcore.AuthResponse, error)
	CurrentUser(ctx context.Context, accessToken string) (*authcore.Profile, error)
	Refresh(ctx context.Context, refreshToken string) (*authcore.AuthResponse, error)
	Logout(ctx context.Context, accessToken, refreshToken string) (*authcore.MessageResponse, error)
	Authenticate(ctx context.Context, accessToken string) (*authcore.AuthResult, error)
	Health(ctx context.Context) (bool, time.Duration)
}

var _ AuthService = (*authcore.Engine)(nil)

type registerRequest struct {
	Username    string `json:"username" binding:"required,min=3,max=100,username"`
	Email       string `json:"email" binding:"required,email,max=150"`
	Password    string `json:"password" binding:"required,min=8,max=100,strongpassword"`
	FirstName   string `json:"firstName" binding:"required,notblank,max=100"`
	LastName    string `json:"lastName" binding:"required,notblank,max=100"`
	PhoneNumber string `json:"phoneNumber" binding:"omitempty,phone"`
}

type loginRequest struct {
	UsernameOrEmail string `json:"usernameOrEmail" binding:"required"`
	Password        string `json:"password" binding:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

type logoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type healthResponse struct {
	Status         string `json:"status"`
	CacheLatencyMS int64  `json:"cacheLatencyMs"`
}

// Handler serves the /auth routes.
type Handler struct {
	svc AuthService
}

func NewHandler(svc AuthService) *Handler {
	return &Handler{svc: svc}
}

// Register handles POST /auth/register.
func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithStatus(c, http.StatusBadRequest, bindingMessage(err))
		return
	}

	resp, err := h.svc.Register(c.Request.Context(), authcore.RegisterInput{
		Username:    req.Username,
		Email:       req.Email,
		Password:    req.Password,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		PhoneNumber: req.PhoneNumber,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// Login handles POST /auth/login.
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithStatus(c, http.StatusBadRequest, bindingMessage(err))
		return
	}

	resp, err := h.svc.Login(c.Request.Context(), req.UsernameOrEmail, req.Password)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Me handles GET /auth/me. It runs behind [RequireAuth].
func (h *Handler) Me(c *gin.Context) {
	token := c.GetString(ctxAccessToken)
	profile, err := h.svc.CurrentUser(c.Request.Context(), token)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

// Logout handles POST /auth/logout. Only the header shape is checked here:
// an expired access token can still log out.
func (h *Handler) Logout(c *gin.Context) {
	token, ok := middleware.BearerToken(c.GetHeader("Authorization"))
	if !ok {
		abortWithStatus(c, http.StatusUnauthorized, msgBadHeader)
		return
	}

	// The body is optional; an empty one of any declared length means no
	// refresh token.
	var req logoutRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		abortWithStatus(c, http.StatusBadRequest, bindingMessage(err))
		return
	}

	resp, err := h.svc.Logout(c.Request.Context(), token, req.RefreshToken)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Refresh handles POST /auth/refresh.
func (h *Handler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithStatus(c, http.StatusBadRequest, bindingMessage(err))
		return
	}

	resp, err := h.svc.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Health handles GET /healthz.
func (h *Handler) Health(c *gin.Context) {
	ok, latency := h.svc.Health(c.Request.Context())
	body := healthResponse{Status: "ok", CacheLatencyMS: latency.Milliseconds()}
	if !ok {
		body.Status = "unavailable"
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	c.JSON(http.StatusOK, body)
}
