package flows

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smartportfolio/authcore/internal/rate"
)

var (
	errInvalidCredentials = errors.New("invalid credentials")
	errLoginRateLimited   = errors.New("login rate limited")
	errNotFound           = errors.New("not found")
)

type loginFixture struct {
	subjects  map[string]LoginSubjectRecord
	attempts  map[string]int
	limit     int
	touched   map[int64]time.Time
	rehashed  map[int64]string
	issued    []int64
	warnings  []string
	audits    []string
	metrics   *recordedMetrics
	upgradeOK bool
}

func newLoginFixture() *loginFixture {
	f := &loginFixture{
		subjects: map[string]LoginSubjectRecord{},
		attempts: map[string]int{},
		touched:  map[int64]time.Time{},
		rehashed: map[int64]string{},
		metrics:  newRecordedMetrics(),
	}
	alice := LoginSubjectRecord{ID: 1, Active: true, PasswordHash: "pw:correct-horse"}
	f.subjects["alice"] = alice
	f.subjects["alice@example.com"] = alice
	f.subjects["mallory"] = LoginSubjectRecord{ID: 2, Active: false, PasswordHash: "pw:correct-horse"}
	return f
}

func (f *loginFixture) deps() LoginDeps {
	deps := LoginDeps{
		Now: func() time.Time { return time.Unix(1_700_000_000, 0) },
		FindByIdentifier: func(_ context.Context, id string) (LoginSubjectRecord, error) {
			s, ok := f.subjects[id]
			if !ok {
				return LoginSubjectRecord{}, errNotFound
			}
			return s, nil
		},
		VerifyPassword: func(p, h string) (bool, error) { return "pw:"+p == h, nil },
		TouchLastLogin: func(_ context.Context, id int64, at time.Time) error {
			f.touched[id] = at
			return nil
		},
		IssueSession: func(_ context.Context, id int64) (*SessionTokens, error) {
			f.issued = append(f.issued, id)
			return &SessionTokens{SubjectID: id}, nil
		},
		Warn:      func(msg string, _ ...any) { f.warnings = append(f.warnings, msg) },
		MetricInc: f.metrics.inc,
		EmitAudit: func(_ context.Context, eventType string, _ bool, _ int64, _ string, _ error, _ func() map[string]string) {
			f.audits = append(f.audits, eventType)
		},
		Metrics: LoginMetrics{LoginSuccess: 1, LoginFailure: 2, LoginRateLimited: 3},
		Events:  LoginEvents{LoginSuccess: "login_success", LoginFailure: "login_failure", LoginRateLimited: "login_rate_limited"},
		Errors: LoginErrors{
			EngineNotReady:     errors.New("not ready"),
			InvalidCredentials: errInvalidCredentials,
			LoginRateLimited:   errLoginRateLimited,
			NotFound:           errNotFound,
		},
	}
	if f.limit > 0 {
		deps.CheckLoginRate = func(_ context.Context, id, _ string) error {
			if f.attempts[id] >= f.limit {
				return rate.ErrRateLimited
			}
			return nil
		}
		deps.IncrementLoginRate = func(_ context.Context, id, _ string) error {
			f.attempts[id]++
			return nil
		}
		deps.ResetLoginRate = func(_ context.Context, id, _ string) error {
			delete(f.attempts, id)
			return nil
		}
	}
	if f.upgradeOK {
		deps.PasswordNeedsUpgrade = func(string) (bool, error) { return true, nil }
		deps.HashPassword = func(p string) (string, error) { return "pw2:" + p, nil }
		deps.UpdatePasswordHash = func(_ context.Context, id int64, h string) error {
			f.rehashed[id] = h
			return nil
		}
	}
	return deps
}

func TestLoginByUsernameOrEmail(t *testing.T) {
	f := newLoginFixture()

	for _, identifier := range []string{"alice", "alice@example.com"} {
		tokens, err := RunLogin(context.Background(), identifier, "correct-horse", f.deps())
		if err != nil {
			t.Fatalf("login %s: %v", identifier, err)
		}
		if tokens.SubjectID != 1 {
			t.Fatalf("expected subject 1, got %d", tokens.SubjectID)
		}
	}
	if len(f.issued) != 2 {
		t.Fatalf("expected two sessions, got %d", len(f.issued))
	}
	if f.touched[1].IsZero() {
		t.Fatal("expected last login updated")
	}
	if f.metrics.get(1) != 2 {
		t.Fatalf("expected two success metrics, got %d", f.metrics.get(1))
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	f := newLoginFixture()

	_, unknownErr := RunLogin(context.Background(), "nobody", "correct-horse", f.deps())
	_, wrongErr := RunLogin(context.Background(), "alice", "wrong", f.deps())
	_, inactiveErr := RunLogin(context.Background(), "mallory", "correct-horse", f.deps())

	for _, err := range []error{unknownErr, wrongErr, inactiveErr} {
		if !errors.Is(err, errInvalidCredentials) {
			t.Fatalf("expected invalid credentials, got %v", err)
		}
		if err.Error() != unknownErr.Error() {
			t.Fatalf("expected identical messages, got %q vs %q", err.Error(), unknownErr.Error())
		}
	}
	if len(f.issued) != 0 {
		t.Fatal("expected no session for failed logins")
	}
	if len(f.touched) != 0 {
		t.Fatal("expected last login untouched")
	}
}

func TestLoginThrottle(t *testing.T) {
	f := newLoginFixture()
	f.limit = 2

	for i := 0; i < 2; i++ {
		if _, err := RunLogin(context.Background(), "alice", "wrong", f.deps()); !errors.Is(err, errInvalidCredentials) {
			t.Fatalf("attempt %d: expected invalid credentials, got %v", i, err)
		}
	}
	if _, err := RunLogin(context.Background(), "alice", "correct-horse", f.deps()); !errors.Is(err, errLoginRateLimited) {
		t.Fatalf("expected rate limited, got %v", err)
	}
	if f.metrics.get(3) != 1 {
		t.Fatal("expected rate limited metric")
	}
}

func TestLoginSuccessResetsThrottle(t *testing.T) {
	f := newLoginFixture()
	f.limit = 3

	if _, err := RunLogin(context.Background(), "alice", "wrong", f.deps()); err == nil {
		t.Fatal("expected failure")
	}
	if _, err := RunLogin(context.Background(), "alice", "correct-horse", f.deps()); err != nil {
		t.Fatalf("login: %v", err)
	}
	if f.attempts["alice"] != 0 {
		t.Fatalf("expected throttle reset, got %d", f.attempts["alice"])
	}
}

func TestLoginUpgradesLegacyHash(t *testing.T) {
	f := newLoginFixture()
	f.upgradeOK = true

	if _, err := RunLogin(context.Background(), "alice", "correct-horse", f.deps()); err != nil {
		t.Fatalf("login: %v", err)
	}
	if f.rehashed[1] != "pw2:correct-horse" {
		t.Fatalf("expected rehash, got %q", f.rehashed[1])
	}
}

func TestLoginEmptySecretRejected(t *testing.T) {
	f := newLoginFixture()

	if _, err := RunLogin(context.Background(), "alice", "", f.deps()); !errors.Is(err, errInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if len(f.audits) != 1 || f.audits[0] != "login_failure" {
		t.Fatalf("expected failure audit, got %v", f.audits)
	}
}
