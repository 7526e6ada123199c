package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/pharmalink/pharmagate/internal/domain/auth"
)

// UserStore implements auth.UserStore with in-memory maps.
// Thread-safe for concurrent access.
type UserStore struct {
	byID    map[string]*auth.User
	byEmail map[string]*auth.User
	mu      sync.RWMutex
}

// NewUserStore creates an empty user store.
func NewUserStore() *UserStore {
	return &UserStore{
		byID:    make(map[string]*auth.User),
		byEmail: make(map[string]*auth.User),
	}
}

// AddUser registers u. Emails are matched case-insensitively.
func (s *UserStore) AddUser(u auth.User) error {
	if u.ID == "" || u.Email == "" {
		return fmt.Errorf("user requires an id and an email")
	}
	email := strings.ToLower(strings.TrimSpace(u.Email))
	u.Email = email

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[u.ID]; ok {
		return fmt.Errorf("duplicate user id %q", u.ID)
	}
	if _, ok := s.byEmail[email]; ok {
		return fmt.Errorf("duplicate user email %q", email)
	}
	s.byID[u.ID] = &u
	s.byEmail[email] = &u
	return nil
}

// GetUserByEmail implements auth.UserStore.
func (s *UserStore) GetUserByEmail(_ context.Context, email string) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, auth.ErrUserNotFound
	}
	// Return a copy to prevent mutation
	userCopy := *u
	return &userCopy, nil
}

// GetUser implements auth.UserStore.
func (s *UserStore) GetUser(_ context.Context, id string) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byID[id]
	if !ok {
		return nil, auth.ErrUserNotFound
	}
	userCopy := *u
	return &userCopy, nil
}

// Len returns the number of users.
func (s *UserStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// Compile-time interface verification.
var _ auth.UserStore = (*UserStore)(nil)
