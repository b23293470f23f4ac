package authcore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/smartportfolio/authcore/session"
)

const testSigningKey = "0123456789abcdef0123456789abcdef"

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.PrivateKey = []byte(testSigningKey)
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	return cfg
}

type memStore struct {
	mu     sync.Mutex
	nextID int64
	users  map[int64]*Principal
	roles  map[string]string

	createErr error
	findErr   error
}

func newMemStore() *memStore {
	return &memStore{
		users: map[int64]*Principal{},
		roles: map[string]string{},
	}
}

func (s *memStore) FindByIdentifier(_ context.Context, usernameOrEmail string) (*Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	for _, p := range s.users {
		if p.Username == usernameOrEmail || p.Email == usernameOrEmail {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memStore) FindByID(_ context.Context, id int64) (*Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	p, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *memStore) ExistsByUsername(_ context.Context, username string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.users {
		if p.Username == username {
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) ExistsByEmail(_ context.Context, email string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.users {
		if p.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) Create(_ context.Context, np NewPrincipal) (*Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return nil, s.createErr
	}
	s.nextID++
	now := time.Now().UTC()
	p := &Principal{
		ID:            s.nextID,
		Username:      np.Username,
		Email:         np.Email,
		PasswordHash:  np.PasswordHash,
		FirstName:     np.FirstName,
		LastName:      np.LastName,
		PhoneNumber:   np.PhoneNumber,
		Active:        np.Active,
		EmailVerified: np.EmailVerified,
		Roles:         append([]string(nil), np.Roles...),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.users[p.ID] = p
	cp := *p
	return &cp, nil
}

func (s *memStore) TouchLastLogin(_ context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	ts := at
	p.LastLogin = &ts
	return nil
}

func (s *memStore) UpdatePasswordHash(_ context.Context, id int64, encodedHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	p.PasswordHash = encodedHash
	return nil
}

func (s *memStore) EnsureRole(_ context.Context, name, description string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[name]; !ok {
		s.roles[name] = description
	}
	return name, nil
}

func (s *memStore) seed(username, email, hash string, active bool) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.users[s.nextID] = &Principal{
		ID:           s.nextID,
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Active:       active,
		Roles:        []string{"USER"},
	}
	return s.nextID
}

func (s *memStore) remove(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, id)
}

func (s *memStore) passwordHash(id int64) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[id].PasswordHash
}

// flakyCache fails the selected operations of an otherwise working cache.
type flakyCache struct {
	session.Cache

	mu           sync.Mutex
	pinErr       error
	unpinErr     error
	blacklistErr error
	readErr      error
}

var errCacheDown = errors.New("dial tcp: connection refused")

func (c *flakyCache) set(fn func(c *flakyCache)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c)
}

func (c *flakyCache) PinRefreshToken(ctx context.Context, subjectID int64, token string, ttl time.Duration) error {
	c.mu.Lock()
	err := c.pinErr
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return c.Cache.PinRefreshToken(ctx, subjectID, token, ttl)
}

func (c *flakyCache) CurrentRefreshToken(ctx context.Context, subjectID int64) (string, error) {
	c.mu.Lock()
	err := c.readErr
	c.mu.Unlock()
	if err != nil {
		return "", err
	}
	return c.Cache.CurrentRefreshToken(ctx, subjectID)
}

func (c *flakyCache) UnpinRefreshToken(ctx context.Context, subjectID int64) error {
	c.mu.Lock()
	err := c.unpinErr
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return c.Cache.UnpinRefreshToken(ctx, subjectID)
}

func (c *flakyCache) Blacklist(ctx context.Context, token string, ttl time.Duration) error {
	c.mu.Lock()
	err := c.blacklistErr
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return c.Cache.Blacklist(ctx, token, ttl)
}

func (c *flakyCache) IsBlacklisted(ctx context.Context, token string) (bool, error) {
	c.mu.Lock()
	err := c.readErr
	c.mu.Unlock()
	if err != nil {
		return false, err
	}
	return c.Cache.IsBlacklisted(ctx, token)
}

type recordingReporter struct {
	mu  sync.Mutex
	ops []string
}

func (r *recordingReporter) ReportDegraded(_ context.Context, op string, _ int64, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, op)
}

func (r *recordingReporter) Ops() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ops...)
}

type testEngine struct {
	*Engine
	mr    *miniredis.Miniredis
	rdb   *redis.Client
	store *memStore
}

func buildTestEngine(t *testing.T, cfg Config, configure ...func(*Builder)) testEngine {
	t.Helper()

	mr, rdb := newTestRedis(t)
	store := newMemStore()

	b := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithCredentialStore(store)
	for _, fn := range configure {
		fn(b)
	}

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return testEngine{Engine: engine, mr: mr, rdb: rdb, store: store}
}

func validRegistration(username, email string) RegisterInput {
	return RegisterInput{
		Username:  username,
		Email:     email,
		Password:  "Sup3r$ecret",
		FirstName: "Ada",
		LastName:  "Lovelace",
	}
}

func mustRegister(t *testing.T, e testEngine, username, email string) *AuthResponse {
	t.Helper()

	resp, err := e.Register(context.Background(), validRegistration(username, email))
	if err != nil {
		t.Fatalf("Register(%q) failed: %v", username, err)
	}
	return resp
}

func mustLogin(t *testing.T, e testEngine, identifier, secret string) *AuthResponse {
	t.Helper()

	resp, err := e.Login(context.Background(), identifier, secret)
	if err != nil {
		t.Fatalf("Login(%q) failed: %v", identifier, err)
	}
	return resp
}
