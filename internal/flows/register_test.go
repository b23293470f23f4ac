package flows

import (
	"context"
	"errors"
	"testing"
)

var (
	errUsernameExists  = errors.New("username exists")
	errEmailExists     = errors.New("email exists")
	errCredentialStore = errors.New("credential store")
)

type registerFixture struct {
	usernames map[string]bool
	emails    map[string]bool
	created   []RegisterCreateInput
	roles     []string
	issued    []int64
	createErr error
	metrics   *recordedMetrics
}

func newRegisterFixture() *registerFixture {
	return &registerFixture{
		usernames: map[string]bool{},
		emails:    map[string]bool{},
		metrics:   newRecordedMetrics(),
	}
}

func (f *registerFixture) deps() RegisterDeps {
	return RegisterDeps{
		DefaultRole:            "USER",
		DefaultRoleDescription: "Default role",
		ExistsByUsername: func(_ context.Context, username string) (bool, error) {
			return f.usernames[username], nil
		},
		ExistsByEmail: func(_ context.Context, email string) (bool, error) {
			return f.emails[email], nil
		},
		HashPassword: func(p string) (string, error) { return "hashed:" + p, nil },
		EnsureRole: func(_ context.Context, name, _ string) (string, error) {
			f.roles = append(f.roles, name)
			return name, nil
		},
		CreateSubject: func(_ context.Context, in RegisterCreateInput) (int64, error) {
			if f.createErr != nil {
				return 0, f.createErr
			}
			f.created = append(f.created, in)
			return int64(len(f.created)), nil
		},
		IssueSession: func(_ context.Context, id int64) (*SessionTokens, error) {
			f.issued = append(f.issued, id)
			return &SessionTokens{SubjectID: id, AccessToken: "a", RefreshToken: "r"}, nil
		},
		MetricInc: f.metrics.inc,
		Metrics:   RegisterMetrics{RegisterSuccess: 1, RegisterDuplicate: 2, RegisterFailure: 3},
		Errors: RegisterErrors{
			EngineNotReady:  errors.New("not ready"),
			UsernameExists:  errUsernameExists,
			EmailExists:     errEmailExists,
			CredentialStore: errCredentialStore,
		},
	}
}

func TestRegisterCreatesPrincipalWithDefaultRole(t *testing.T) {
	f := newRegisterFixture()

	tokens, err := RunRegister(context.Background(), RegisterRequest{
		Username: "alice",
		Email:    "alice@example.com",
		Password: "Secret1!",
	}, f.deps())
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if tokens.SubjectID != 1 || len(f.issued) != 1 {
		t.Fatalf("expected session issued for new subject, got %+v", tokens)
	}
	if got := f.created[0]; got.PasswordHash != "hashed:Secret1!" || got.Role != "USER" {
		t.Fatalf("unexpected create input %+v", got)
	}
	if f.metrics.get(1) != 1 {
		t.Fatal("expected success metric")
	}
}

func TestRegisterDuplicateUsernameIsCaseSensitive(t *testing.T) {
	f := newRegisterFixture()
	f.usernames["alice"] = true

	_, err := RunRegister(context.Background(), RegisterRequest{Username: "alice", Email: "new@example.com", Password: "Secret1!"}, f.deps())
	if !errors.Is(err, errUsernameExists) {
		t.Fatalf("expected username exists, got %v", err)
	}
	if len(f.created) != 0 {
		t.Fatal("expected no principal created")
	}

	if _, err := RunRegister(context.Background(), RegisterRequest{Username: "Alice", Email: "new@example.com", Password: "Secret1!"}, f.deps()); err != nil {
		t.Fatalf("expected differently cased username to register, got %v", err)
	}
	if f.metrics.get(2) != 1 {
		t.Fatalf("expected one duplicate metric, got %d", f.metrics.get(2))
	}
}

func TestRegisterUsernameCheckedBeforeEmail(t *testing.T) {
	f := newRegisterFixture()
	f.usernames["bob"] = true
	f.emails["bob@example.com"] = true

	_, err := RunRegister(context.Background(), RegisterRequest{Username: "bob", Email: "bob@example.com", Password: "Secret1!"}, f.deps())
	if !errors.Is(err, errUsernameExists) {
		t.Fatalf("expected username error first, got %v", err)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	f := newRegisterFixture()
	f.emails["carol@example.com"] = true

	_, err := RunRegister(context.Background(), RegisterRequest{Username: "carol", Email: "carol@example.com", Password: "Secret1!"}, f.deps())
	if !errors.Is(err, errEmailExists) {
		t.Fatalf("expected email exists, got %v", err)
	}
}

func TestRegisterCreateRaceMapsDuplicate(t *testing.T) {
	f := newRegisterFixture()
	f.createErr = errEmailExists

	_, err := RunRegister(context.Background(), RegisterRequest{Username: "dave", Email: "dave@example.com", Password: "Secret1!"}, f.deps())
	if !errors.Is(err, errEmailExists) {
		t.Fatalf("expected email exists from store, got %v", err)
	}
}

func TestRegisterStoreFailureWrapped(t *testing.T) {
	f := newRegisterFixture()
	f.createErr = errors.New("connection reset")

	_, err := RunRegister(context.Background(), RegisterRequest{Username: "erin", Email: "erin@example.com", Password: "Secret1!"}, f.deps())
	if !errors.Is(err, errCredentialStore) {
		t.Fatalf("expected credential store error, got %v", err)
	}
	if len(f.issued) != 0 {
		t.Fatal("expected no session on failure")
	}
}
