// Package postgres is the PostgreSQL CredentialStore and RoleStore. It talks
// to the database through database/sql with the pgx driver; the schema is
// managed by goose (see [Migrate]).
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/smartportfolio/authcore"
)

const uniqueViolation = "23505"

const (
	constraintUsername = "users_username_key"
	constraintEmail    = "users_email_key"
)

// DBTX is the subset of database/sql used by the store. Both *sql.DB and
// *sql.Tx satisfy it.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store persists principals in the users, roles and user_roles tables.
type Store struct {
	db *sql.DB
}

var (
	_ authcore.CredentialStore     = (*Store)(nil)
	_ authcore.RoleStore           = (*Store)(nil)
	_ authcore.PasswordHashUpdater = (*Store)(nil)
)

// New wraps an open database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const selectPrincipal = `SELECT id, username, email, password, first_name, last_name, phone_number,
       is_active, is_email_verified, last_login, created_at, updated_at
  FROM users`

func (s *Store) FindByIdentifier(ctx context.Context, usernameOrEmail string) (*authcore.Principal, error) {
	return s.findOne(ctx, selectPrincipal+` WHERE username = $1 OR email = $1 ORDER BY id LIMIT 1`, usernameOrEmail)
}

func (s *Store) FindByID(ctx context.Context, id int64) (*authcore.Principal, error) {
	return s.findOne(ctx, selectPrincipal+` WHERE id = $1`, id)
}

func (s *Store) findOne(ctx context.Context, query string, arg any) (*authcore.Principal, error) {
	var (
		p                          authcore.Principal
		firstName, lastName, phone sql.NullString
		lastLogin                  sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&p.ID, &p.Username, &p.Email, &p.PasswordHash,
		&firstName, &lastName, &phone,
		&p.Active, &p.EmailVerified, &lastLogin, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, authcore.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	p.FirstName = firstName.String
	p.LastName = lastName.String
	p.PhoneNumber = phone.String
	if lastLogin.Valid {
		ts := lastLogin.Time
		p.LastLogin = &ts
	}

	roles, err := rolesOf(ctx, s.db, p.ID)
	if err != nil {
		return nil, err
	}
	p.Roles = roles
	return &p, nil
}

func rolesOf(ctx context.Context, db DBTX, userID int64) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT r.name FROM roles r
		   JOIN user_roles ur ON ur.role_id = r.id
		  WHERE ur.user_id = $1
		  ORDER BY r.name`, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var roles []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		roles = append(roles, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return roles, nil
}

func (s *Store) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	return s.exists(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE username = $1)`, username)
}

func (s *Store) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	return s.exists(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE email = $1)`, email)
}

func (s *Store) exists(ctx context.Context, query, arg string) (bool, error) {
	var ok bool
	if err := s.db.QueryRowContext(ctx, query, arg).Scan(&ok); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return ok, nil
}

// Create inserts the principal and its role links in one transaction. A
// unique violation on username or email maps to the engine's duplicate
// errors.
func (s *Store) Create(ctx context.Context, np authcore.NewPrincipal) (out *authcore.Principal, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	out = &authcore.Principal{
		Username:      np.Username,
		Email:         np.Email,
		PasswordHash:  np.PasswordHash,
		FirstName:     np.FirstName,
		LastName:      np.LastName,
		PhoneNumber:   np.PhoneNumber,
		Active:        np.Active,
		EmailVerified: np.EmailVerified,
	}
	err = tx.QueryRowContext(ctx,
		`INSERT INTO users (username, email, password, first_name, last_name, phone_number, is_active, is_email_verified)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id, created_at, updated_at`,
		np.Username, np.Email, np.PasswordHash,
		nullString(np.FirstName), nullString(np.LastName), nullString(np.PhoneNumber),
		np.Active, np.EmailVerified,
	).Scan(&out.ID, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return nil, mapInsertError(err)
	}

	for _, role := range np.Roles {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO user_roles (user_id, role_id)
			 SELECT $1, id FROM roles WHERE name = $2
			 ON CONFLICT DO NOTHING`, out.ID, role); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	out.Roles = append([]string(nil), np.Roles...)
	return out, nil
}

func mapInsertError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		switch pgErr.ConstraintName {
		case constraintUsername:
			return authcore.ErrUsernameExists
		case constraintEmail:
			return authcore.ErrEmailExists
		}
	}
	return fmt.Errorf("db error: %w", err)
}

func (s *Store) TouchLastLogin(ctx context.Context, id int64, at time.Time) error {
	return s.updateOne(ctx, `UPDATE users SET last_login = $2, updated_at = now() WHERE id = $1`, id, at.UTC())
}

func (s *Store) UpdatePasswordHash(ctx context.Context, id int64, encodedHash string) error {
	return s.updateOne(ctx, `UPDATE users SET password = $2, updated_at = now() WHERE id = $1`, id, encodedHash)
}

func (s *Store) updateOne(ctx context.Context, query string, id int64, value any) error {
	res, err := s.db.ExecContext(ctx, query, id, value)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return authcore.ErrNotFound
	}
	return nil
}

// EnsureRole fetches or creates the role called name.
func (s *Store) EnsureRole(ctx context.Context, name, description string) (string, error) {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO roles (name, description) VALUES ($1, $2)
		 ON CONFLICT (name) DO NOTHING`, name, nullString(description)); err != nil {
		return "", fmt.Errorf("db error: %w", err)
	}
	return name, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
