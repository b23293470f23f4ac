package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable wraps every Redis I/O failure returned by [Store].
var ErrUnavailable = errors.New("session cache unavailable")

// ErrNotFound is returned when no refresh pointer exists for a subject.
var ErrNotFound = errors.New("refresh pointer not found")

// ErrMismatch is returned when the presented refresh token is not the pinned one.
var ErrMismatch = errors.New("refresh pointer mismatch")

const blacklistedValue = "blacklisted"

const (
	rotateStatusNotFound int64 = 0
	rotateStatusMismatch int64 = 2
	rotateStatusRotated  int64 = 3
)

const rotateRefreshScript = `
local current = redis.call("GET", KEYS[1])
if not current then
  return 0
end
if current ~= ARGV[1] then
  return 2
end
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
return 3
`

var rotateRefreshLua = redis.NewScript(rotateRefreshScript)

// Cache is the key/value contract the engine needs for session state: one
// refresh pointer per subject and a blacklist of revoked access tokens.
type Cache interface {
	PinRefreshToken(ctx context.Context, subjectID int64, token string, ttl time.Duration) error
	CurrentRefreshToken(ctx context.Context, subjectID int64) (string, error)
	UnpinRefreshToken(ctx context.Context, subjectID int64) error
	RotateRefreshToken(ctx context.Context, subjectID int64, presented, next string, ttl time.Duration) error
	Blacklist(ctx context.Context, token string, ttl time.Duration) error
	IsBlacklisted(ctx context.Context, token string) (bool, error)
	RemoveFromBlacklist(ctx context.Context, token string) error
	Ping(ctx context.Context) (time.Duration, error)
}

// Store is the Redis-backed [Cache].
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

var _ Cache = (*Store)(nil)

// NewStore creates a session [Store] backed by the given Redis client.
// prefix sets the Redis key namespace.
func NewStore(redis redis.UniversalClient, prefix string) *Store {
	return &Store{
		redis:  redis,
		prefix: prefix,
	}
}

func (s *Store) refreshKey(subjectID int64) string {
	return s.namespaced("refresh:" + strconv.FormatInt(subjectID, 10))
}

func (s *Store) blacklistKey(token string) string {
	return s.namespaced("blacklist:" + token)
}

func (s *Store) namespaced(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + ":" + key
}

// PinRefreshToken makes token the only live refresh token for subjectID,
// overwriting whatever was pinned before.
//
//	Performance: 1 Redis SET.
func (s *Store) PinRefreshToken(ctx context.Context, subjectID int64, token string, ttl time.Duration) error {
	if err := s.redis.Set(ctx, s.refreshKey(subjectID), token, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// CurrentRefreshToken returns the pinned refresh token or [ErrNotFound].
//
//	Performance: 1 Redis GET.
func (s *Store) CurrentRefreshToken(ctx context.Context, subjectID int64) (string, error) {
	token, err := s.redis.Get(ctx, s.refreshKey(subjectID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return token, nil
}

// UnpinRefreshToken removes the pointer. Removing an absent pointer is not an error.
func (s *Store) UnpinRefreshToken(ctx context.Context, subjectID int64) error {
	if err := s.redis.Del(ctx, s.refreshKey(subjectID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// RotateRefreshToken replaces presented with next only if presented is still
// the pinned token. Concurrent callers racing on the same presented token
// see exactly one success.
//
//	Performance: 1 Lua EVALSHA (atomic compare-and-swap).
//	Security: CAS prevents two refreshes of one token from both winning.
func (s *Store) RotateRefreshToken(ctx context.Context, subjectID int64, presented, next string, ttl time.Duration) error {
	result, err := rotateRefreshLua.Run(
		ctx,
		s.redis,
		[]string{s.refreshKey(subjectID)},
		presented,
		next,
		ttl.Milliseconds(),
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	switch result {
	case rotateStatusNotFound:
		return ErrNotFound
	case rotateStatusMismatch:
		return ErrMismatch
	case rotateStatusRotated:
		return nil
	default:
		return fmt.Errorf("%w: unknown rotate script status %d", ErrUnavailable, result)
	}
}

// Blacklist records token as revoked for ttl. Callers pass the token's
// remaining lifetime so the entry never outlives the token.
func (s *Store) Blacklist(ctx context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := s.redis.Set(ctx, s.blacklistKey(token), blacklistedValue, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// IsBlacklisted reports whether token has a live blacklist entry.
func (s *Store) IsBlacklisted(ctx context.Context, token string) (bool, error) {
	n, err := s.redis.Exists(ctx, s.blacklistKey(token)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n > 0, nil
}

// RemoveFromBlacklist drops a blacklist entry ahead of its natural expiry.
func (s *Store) RemoveFromBlacklist(ctx context.Context, token string) error {
	if err := s.redis.Del(ctx, s.blacklistKey(token)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Ping returns a point-in-time Redis availability check and latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return time.Since(start), nil
}
