package authcore

import (
	"context"
	"io"
	"time"

	internalaudit "github.com/smartportfolio/authcore/internal/audit"
)

// Principal is a stored user account as the engine sees it.
//
// PasswordHash is argon2id PHC or, for imported accounts, bcrypt.
type Principal struct {
	ID            int64
	Username      string
	Email         string
	PasswordHash  string
	FirstName     string
	LastName      string
	PhoneNumber   string
	Active        bool
	EmailVerified bool
	LastLogin     *time.Time
	Roles         []string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewPrincipal is what the engine asks a [CredentialStore] to persist on
// registration. The store assigns the id and timestamps.
type NewPrincipal struct {
	Username      string
	Email         string
	PasswordHash  string
	FirstName     string
	LastName      string
	PhoneNumber   string
	Active        bool
	EmailVerified bool
	Roles         []string
}

// Profile is the client-facing view of a principal. It never carries the
// password hash.
type Profile struct {
	ID              int64      `json:"id"`
	Username        string     `json:"username"`
	Email           string     `json:"email"`
	FirstName       string     `json:"firstName,omitempty"`
	LastName        string     `json:"lastName,omitempty"`
	PhoneNumber     string     `json:"phoneNumber,omitempty"`
	IsActive        bool       `json:"isActive"`
	IsEmailVerified bool       `json:"isEmailVerified"`
	LastLogin       *time.Time `json:"lastLogin,omitempty"`
	Roles           []string   `json:"roles"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// ProfileOf builds the client view of p.
func ProfileOf(p *Principal) Profile {
	if p == nil {
		return Profile{}
	}
	roles := make([]string, len(p.Roles))
	copy(roles, p.Roles)
	return Profile{
		ID:              p.ID,
		Username:        p.Username,
		Email:           p.Email,
		FirstName:       p.FirstName,
		LastName:        p.LastName,
		PhoneNumber:     p.PhoneNumber,
		IsActive:        p.Active,
		IsEmailVerified: p.EmailVerified,
		LastLogin:       p.LastLogin,
		Roles:           roles,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}

// AuthResponse is returned by Register, Login and Refresh.
type AuthResponse struct {
	Token        string  `json:"token"`
	RefreshToken string  `json:"refreshToken"`
	TokenType    string  `json:"tokenType"`
	ExpiresIn    int64   `json:"expiresIn"`
	User         Profile `json:"user"`

	// Degraded is set when the pair was issued but the refresh pointer
	// could not be written under a fail-open cache policy. A degraded
	// refresh token will not be accepted by Refresh.
	Degraded bool `json:"-"`
}

// MessageResponse is returned by Logout.
type MessageResponse struct {
	Message   string    `json:"message"`
	Success   bool      `json:"success"`
	Timestamp time.Time `json:"timestamp"`

	// Degraded is set when a blacklist or unpin write failed under a
	// fail-open cache policy.
	Degraded bool `json:"-"`
}

// AuthResult is returned by [Engine.Authenticate] for an accepted access token.
type AuthResult struct {
	SubjectID int64
	TokenID   string
	ExpiresAt time.Time
}

// CredentialStore is the persistence contract for principals.
//
// Find methods return [ErrNotFound] when nothing matches. Create returns
// [ErrUsernameExists] or [ErrEmailExists] when a uniqueness constraint
// fires between the engine's existence check and the insert.
type CredentialStore interface {
	FindByIdentifier(ctx context.Context, usernameOrEmail string) (*Principal, error)
	FindByID(ctx context.Context, id int64) (*Principal, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	Create(ctx context.Context, p NewPrincipal) (*Principal, error)
	TouchLastLogin(ctx context.Context, id int64, at time.Time) error
}

// PasswordHashUpdater is implemented by credential stores that can replace a
// stored hash. When the configured store implements it, Login migrates
// bcrypt and under-cost argon2id hashes to the current parameters.
type PasswordHashUpdater interface {
	UpdatePasswordHash(ctx context.Context, id int64, encodedHash string) error
}

// RoleStore resolves role names, creating them on first use.
type RoleStore interface {
	EnsureRole(ctx context.Context, name, description string) (string, error)
}

// DegradedReporter is notified whenever a session cache write fails and the
// engine continues under its fail-open policy.
type DegradedReporter interface {
	ReportDegraded(ctx context.Context, op string, subjectID int64, err error)
}

// AuditEvent is a security event emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives audit events from the async dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink drops audit events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink forwards audit events into a buffered channel.
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes one JSON audit event per line.
type JSONWriterSink = internalaudit.JSONWriterSink

// NewChannelSink creates a [ChannelSink] with the given buffer.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] over w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}
