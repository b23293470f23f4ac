package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/smartportfolio/authcore"
	"github.com/smartportfolio/authcore/store/memory"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testSecret = "0123456789abcdef0123456789abcdef"

type testServer struct {
	router *gin.Engine
	engine *authcore.Engine
	mr     *miniredis.Miniredis
	reg    *prometheus.Registry
}

func newTestServer(t *testing.T, mutate func(*authcore.Config)) *testServer {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := authcore.DefaultConfig()
	cfg.JWT.PrivateKey = []byte(testSecret)
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	if mutate != nil {
		mutate(&cfg)
	}

	engine, err := authcore.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithCredentialStore(memory.New()).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	reg := prometheus.NewRegistry()
	router, err := NewRouter(Options{
		Service:    engine,
		Registerer: reg,
		Gatherer:   reg,
	})
	require.NoError(t, err)

	return &testServer{router: router, engine: engine, mr: mr, reg: reg}
}

func serveJSON(t *testing.T, h http.Handler, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func registration(username, email string) map[string]string {
	return map[string]string{
		"username":  username,
		"email":     email,
		"password":  "Sup3r$ecret",
		"firstName": "Ada",
		"lastName":  "Lovelace",
	}
}

func (s *testServer) register(t *testing.T, username, email string) authcore.AuthResponse {
	t.Helper()

	rec := serveJSON(t, s.router, http.MethodPost, "/auth/register", registration(username, email), "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[authcore.AuthResponse](t, rec)
}

type mockService struct {
	mock.Mock
}

func (m *mockService) Register(ctx context.Context, in authcore.RegisterInput) (*authcore.AuthResponse, error) {
	args := m.Called(ctx, in)
	resp, _ := args.Get(0).(*authcore.AuthResponse)
	return resp, args.Error(1)
}

func (m *mockService) Login(ctx context.Context, usernameOrEmail, secret string) (*authcore.AuthResponse, error) {
	args := m.Called(ctx, usernameOrEmail, secret)
	resp, _ := args.Get(0).(*authcore.AuthResponse)
	return resp, args.Error(1)
}

func (m *mockService) CurrentUser(ctx context.Context, accessToken string) (*authcore.Profile, error) {
	args := m.Called(ctx, accessToken)
	p, _ := args.Get(0).(*authcore.Profile)
	return p, args.Error(1)
}

func (m *mockService) Refresh(ctx context.Context, refreshToken string) (*authcore.AuthResponse, error) {
	args := m.Called(ctx, refreshToken)
	resp, _ := args.Get(0).(*authcore.AuthResponse)
	return resp, args.Error(1)
}

func (m *mockService) Logout(ctx context.Context, accessToken, refreshToken string) (*authcore.MessageResponse, error) {
	args := m.Called(ctx, accessToken, refreshToken)
	resp, _ := args.Get(0).(*authcore.MessageResponse)
	return resp, args.Error(1)
}

func (m *mockService) Authenticate(ctx context.Context, accessToken string) (*authcore.AuthResult, error) {
	args := m.Called(ctx, accessToken)
	res, _ := args.Get(0).(*authcore.AuthResult)
	return res, args.Error(1)
}

func (m *mockService) Health(ctx context.Context) (bool, time.Duration) {
	args := m.Called(ctx)
	return args.Bool(0), args.Get(1).(time.Duration)
}

func serveJSONWithHeaders(t *testing.T, h http.Handler, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}
