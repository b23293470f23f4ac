// Package memory is a mutex-guarded CredentialStore and RoleStore for tests,
// load tests and single-process development runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/smartportfolio/authcore"
)

// Store keeps principals and roles in process memory. Username matching is
// case-sensitive; email matching is exact.
type Store struct {
	mu      sync.RWMutex
	nextID  int64
	byID    map[int64]*authcore.Principal
	byName  map[string]int64
	byEmail map[string]int64
	roles   map[string]string
	now     func() time.Time
}

var (
	_ authcore.CredentialStore     = (*Store)(nil)
	_ authcore.RoleStore           = (*Store)(nil)
	_ authcore.PasswordHashUpdater = (*Store)(nil)
)

// New returns an empty Store.
func New() *Store {
	return &Store{
		byID:    map[int64]*authcore.Principal{},
		byName:  map[string]int64{},
		byEmail: map[string]int64{},
		roles:   map[string]string{},
		now:     time.Now,
	}
}

func (s *Store) FindByIdentifier(_ context.Context, usernameOrEmail string) (*authcore.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byName[usernameOrEmail]
	if !ok {
		id, ok = s.byEmail[usernameOrEmail]
	}
	if !ok {
		return nil, authcore.ErrNotFound
	}
	return clonePrincipal(s.byID[id]), nil
}

func (s *Store) FindByID(_ context.Context, id int64) (*authcore.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.byID[id]
	if !ok {
		return nil, authcore.ErrNotFound
	}
	return clonePrincipal(p), nil
}

func (s *Store) ExistsByUsername(_ context.Context, username string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byName[username]
	return ok, nil
}

func (s *Store) ExistsByEmail(_ context.Context, email string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byEmail[email]
	return ok, nil
}

// Create inserts np. Uniqueness is re-checked under the write lock, so a
// registration that raced past the engine's existence check still gets
// [authcore.ErrUsernameExists] or [authcore.ErrEmailExists].
func (s *Store) Create(_ context.Context, np authcore.NewPrincipal) (*authcore.Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byName[np.Username]; ok {
		return nil, authcore.ErrUsernameExists
	}
	if _, ok := s.byEmail[np.Email]; ok {
		return nil, authcore.ErrEmailExists
	}

	s.nextID++
	now := s.now().UTC()
	p := &authcore.Principal{
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
	s.byID[p.ID] = p
	s.byName[p.Username] = p.ID
	s.byEmail[p.Email] = p.ID

	return clonePrincipal(p), nil
}

func (s *Store) TouchLastLogin(_ context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[id]
	if !ok {
		return authcore.ErrNotFound
	}
	ts := at.UTC()
	p.LastLogin = &ts
	p.UpdatedAt = s.now().UTC()
	return nil
}

func (s *Store) UpdatePasswordHash(_ context.Context, id int64, encodedHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[id]
	if !ok {
		return authcore.ErrNotFound
	}
	p.PasswordHash = encodedHash
	p.UpdatedAt = s.now().UTC()
	return nil
}

// SetActive toggles the active flag. Inactive principals cannot log in.
func (s *Store) SetActive(id int64, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[id]
	if !ok {
		return authcore.ErrNotFound
	}
	p.Active = active
	return nil
}

// Delete removes a principal. Its outstanding tokens keep verifying but
// [authcore.Engine.CurrentUser] and Refresh will report ErrNotFound.
func (s *Store) Delete(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[id]
	if !ok {
		return
	}
	delete(s.byName, p.Username)
	delete(s.byEmail, p.Email)
	delete(s.byID, id)
}

// EnsureRole returns name, recording it with description on first use.
func (s *Store) EnsureRole(_ context.Context, name, description string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.roles[name]; !ok {
		s.roles[name] = description
	}
	return name, nil
}

// Roles lists known role names in order.
func (s *Store) Roles() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.roles))
	for name := range s.roles {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Len reports the number of stored principals.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func clonePrincipal(p *authcore.Principal) *authcore.Principal {
	cp := *p
	cp.Roles = append([]string(nil), p.Roles...)
	if p.LastLogin != nil {
		ts := *p.LastLogin
		cp.LastLogin = &ts
	}
	return &cp
}
