package flows

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/smartportfolio/authcore/jwt"
	"github.com/smartportfolio/authcore/session"
)

var errPolicy = errors.New("cache unavailable")

type fakeCache struct {
	mu        sync.Mutex
	pointers  map[int64]string
	blacklist map[string]time.Duration

	pinErr       error
	readErr      error
	unpinErr     error
	blacklistErr error
	existsErr    error
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		pointers:  map[int64]string{},
		blacklist: map[string]time.Duration{},
	}
}

func (c *fakeCache) PinRefreshToken(_ context.Context, subjectID int64, token string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pinErr != nil {
		return c.pinErr
	}
	c.pointers[subjectID] = token
	return nil
}

func (c *fakeCache) CurrentRefreshToken(_ context.Context, subjectID int64) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return "", c.readErr
	}
	token, ok := c.pointers[subjectID]
	if !ok {
		return "", session.ErrNotFound
	}
	return token, nil
}

func (c *fakeCache) RotateRefreshToken(_ context.Context, subjectID int64, presented, next string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return c.readErr
	}
	current, ok := c.pointers[subjectID]
	if !ok {
		return session.ErrNotFound
	}
	if current != presented {
		return session.ErrMismatch
	}
	c.pointers[subjectID] = next
	return nil
}

func (c *fakeCache) UnpinRefreshToken(_ context.Context, subjectID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.unpinErr != nil {
		return c.unpinErr
	}
	delete(c.pointers, subjectID)
	return nil
}

func (c *fakeCache) Blacklist(_ context.Context, token string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.blacklistErr != nil {
		return c.blacklistErr
	}
	c.blacklist[token] = ttl
	return nil
}

func (c *fakeCache) IsBlacklisted(_ context.Context, token string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.existsErr != nil {
		return false, c.existsErr
	}
	_, ok := c.blacklist[token]
	return ok, nil
}

// fakeSigner issues opaque "kind:subject:n" tokens and remembers their subject.
type fakeSigner struct {
	mu       sync.Mutex
	n        int
	subjects map[string]int64
}

func newFakeSigner() *fakeSigner {
	return &fakeSigner{subjects: map[string]int64{}}
}

func (s *fakeSigner) issue(subjectID int64, kind jwt.Kind, _ time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	token := fmt.Sprintf("%s:%d:%d", kind, subjectID, s.n)
	s.subjects[token] = subjectID
	return token, nil
}

func (s *fakeSigner) subjectOf(token string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.subjects[token]
	if !ok {
		return 0, jwt.ErrMalformed
	}
	return id, nil
}

type recordedMetrics struct {
	mu     sync.Mutex
	counts map[int]int
}

func newRecordedMetrics() *recordedMetrics {
	return &recordedMetrics{counts: map[int]int{}}
}

func (m *recordedMetrics) inc(id int) {
	m.mu.Lock()
	m.counts[id]++
	m.mu.Unlock()
}

func (m *recordedMetrics) get(id int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[id]
}

func failOpenPolicy(degraded *[]string) CacheWriteErrorFunc {
	return func(_ context.Context, op string, _ int64, _ error) error {
		*degraded = append(*degraded, op)
		return nil
	}
}

func failClosedPolicy(context.Context, string, int64, error) error {
	return errPolicy
}

func testSessionDeps(cache *fakeCache, signer *fakeSigner, policy CacheWriteErrorFunc, metrics *recordedMetrics) SessionDeps {
	return SessionDeps{
		AccessTTL:         24 * time.Hour,
		RefreshTTL:        7 * 24 * time.Hour,
		PointerTTL:        7 * 24 * time.Hour,
		IssueToken:        signer.issue,
		Cache:             cache,
		OnCacheWriteError: policy,
		MetricInc:         metrics.inc,
		Metrics:           SessionMetrics{SessionPinned: 1},
		Errors:            SessionErrors{EngineNotReady: errors.New("not ready")},
	}
}
