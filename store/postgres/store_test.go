package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartportfolio/authcore"
)

func newStoreWithMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return New(db), mock
}

var principalColumns = []string{
	"id", "username", "email", "password", "first_name", "last_name", "phone_number",
	"is_active", "is_email_verified", "last_login", "created_at", "updated_at",
}

const (
	selectByIdentifierQuery = `(?s)^SELECT\s+id,\s*username,.*FROM\s+users\s+WHERE\s+username\s*=\s*\$1\s+OR\s+email\s*=\s*\$1`
	selectByIDQuery         = `(?s)^SELECT\s+id,\s*username,.*FROM\s+users\s+WHERE\s+id\s*=\s*\$1`
	selectRolesQuery        = `(?s)^SELECT\s+r\.name\s+FROM\s+roles\s+r\s+JOIN\s+user_roles`
	insertUserQuery         = `(?s)^INSERT\s+INTO\s+users\s*\(username,\s*email,\s*password,.*RETURNING\s+id,\s*created_at,\s*updated_at`
	insertUserRoleQuery     = `(?s)^INSERT\s+INTO\s+user_roles`
)

func TestFindByIdentifierFound(t *testing.T) {
	s, mock := newStoreWithMock(t)
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectQuery(selectByIdentifierQuery).
		WithArgs("ada@example.com").
		WillReturnRows(sqlmock.NewRows(principalColumns).
			AddRow(int64(7), "ada", "ada@example.com", "$argon2id$h", "Ada", nil, nil, true, false, nil, created, created))
	mock.ExpectQuery(selectRolesQuery).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("USER"))

	p, err := s.FindByIdentifier(context.Background(), "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(7), p.ID)
	assert.Equal(t, "Ada", p.FirstName)
	assert.Empty(t, p.LastName)
	assert.Nil(t, p.LastLogin)
	assert.Equal(t, []string{"USER"}, p.Roles)
	assert.True(t, p.Active)
}

func TestFindByIDNotFound(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectQuery(selectByIDQuery).
		WithArgs(int64(99)).
		WillReturnError(sql.ErrNoRows)

	_, err := s.FindByID(context.Background(), 99)
	assert.ErrorIs(t, err, authcore.ErrNotFound)
}

func TestFindByIDDBError(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectQuery(selectByIDQuery).
		WithArgs(int64(1)).
		WillReturnError(errors.New("db down"))

	_, err := s.FindByID(context.Background(), 1)
	require.Error(t, err)
	assert.NotErrorIs(t, err, authcore.ErrNotFound)
	assert.Contains(t, err.Error(), "db down")
}

func TestExistsByUsername(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectQuery(`(?s)^SELECT\s+EXISTS\s*\(SELECT\s+1\s+FROM\s+users\s+WHERE\s+username\s*=\s*\$1\)`).
		WithArgs("ada").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := s.ExistsByUsername(context.Background(), "ada")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCreateSuccess(t *testing.T) {
	s, mock := newStoreWithMock(t)
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(insertUserQuery).
		WithArgs("ada", "ada@example.com", "$argon2id$h", "Ada", "Lovelace", nil, true, false).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(1), created, created))
	mock.ExpectExec(insertUserRoleQuery).
		WithArgs(int64(1), "USER").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	p, err := s.Create(context.Background(), authcore.NewPrincipal{
		Username:     "ada",
		Email:        "ada@example.com",
		PasswordHash: "$argon2id$h",
		FirstName:    "Ada",
		LastName:     "Lovelace",
		Active:       true,
		Roles:        []string{"USER"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.ID)
	assert.Equal(t, created, p.CreatedAt)
	assert.Equal(t, []string{"USER"}, p.Roles)
}

func TestCreateMapsUniqueViolations(t *testing.T) {
	cases := map[string]error{
		"users_username_key": authcore.ErrUsernameExists,
		"users_email_key":    authcore.ErrEmailExists,
	}
	for constraint, want := range cases {
		t.Run(constraint, func(t *testing.T) {
			s, mock := newStoreWithMock(t)

			mock.ExpectBegin()
			mock.ExpectQuery(insertUserQuery).
				WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: constraint})
			mock.ExpectRollback()

			_, err := s.Create(context.Background(), authcore.NewPrincipal{
				Username: "ada",
				Email:    "ada@example.com",
				Active:   true,
			})
			assert.ErrorIs(t, err, want)
		})
	}
}

func TestTouchLastLoginNotFound(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectExec(`(?s)^UPDATE\s+users\s+SET\s+last_login\s*=\s*\$2`).
		WithArgs(int64(5), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.TouchLastLogin(context.Background(), 5, time.Now())
	assert.ErrorIs(t, err, authcore.ErrNotFound)
}

func TestUpdatePasswordHash(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectExec(`(?s)^UPDATE\s+users\s+SET\s+password\s*=\s*\$2`).
		WithArgs(int64(5), "$argon2id$new").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.UpdatePasswordHash(context.Background(), 5, "$argon2id$new"))
}

func TestEnsureRole(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectExec(`(?s)^INSERT\s+INTO\s+roles\s*\(name,\s*description\).*ON\s+CONFLICT\s*\(name\)\s+DO\s+NOTHING`).
		WithArgs("USER", "Default role for registered users").
		WillReturnResult(sqlmock.NewResult(1, 1))

	name, err := s.EnsureRole(context.Background(), "USER", "Default role for registered users")
	require.NoError(t, err)
	assert.Equal(t, "USER", name)
}

func TestMigrateUsesEmbeddedFS(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	var gotDir string
	orig := gooseUpContext
	gooseUpContext = func(ctx context.Context, _ *sql.DB, dir string, _ ...goose.OptionsFunc) error {
		gotDir = dir
		return nil
	}
	defer func() { gooseUpContext = orig }()

	require.NoError(t, Migrate(context.Background(), db))
	assert.Equal(t, ".", gotDir)
}

func TestMigrateWrapsError(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	orig := gooseUpContext
	gooseUpContext = func(context.Context, *sql.DB, string, ...goose.OptionsFunc) error {
		return errors.New("boom")
	}
	defer func() { gooseUpContext = orig }()

	err = Migrate(context.Background(), db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run migrations")
}
