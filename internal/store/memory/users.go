package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/avieira/authgate/internal/domain/user"
	"github.com/avieira/authgate/internal/security"
)

var (
	ErrUserNotFound     = errors.New("user not found")
	ErrEmailAlreadyUsed = errors.New("email already in use")
)

// UsersStore holds all user records in process memory. Nothing is persisted;
// a restart starts from an empty (or freshly seeded) store.
//
// Reads and inserts may run on concurrent request goroutines, so every
// access goes through the mutex. IDs are assigned sequentially under the
// same lock, which keeps them unique under parallel registration.
type UsersStore struct {
	mu     sync.RWMutex
	byID   map[int64]user.User
	byMail map[string]int64
	nextID int64
}

func NewUsersStore() *UsersStore {
	return &UsersStore{
		byID:   make(map[int64]user.User),
		byMail: make(map[string]int64),
		nextID: 1,
	}
}

type Draft struct {
	Email        string
	PasswordHash string
	Name         string
	Role         string
}

// Insert assigns the next sequential id, timestamps the record and stores it.
// A draft whose email is already taken is rejected with ErrEmailAlreadyUsed.
func (s *UsersStore) Insert(ctx context.Context, draft Draft) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byMail[draft.Email]; taken {
		return user.User{}, ErrEmailAlreadyUsed
	}

	u := user.User{
		ID:           s.nextID,
		Email:        draft.Email,
		PasswordHash: draft.PasswordHash,
		Name:         draft.Name,
		Role:         draft.Role,
		CreatedAt:    time.Now().UTC(),
	}

	s.nextID++
	s.byID[u.ID] = u
	s.byMail[u.Email] = u.ID

	return u, nil
}

func (s *UsersStore) GetByEmail(ctx context.Context, email string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byMail[email]
	if !ok {
		return user.User{}, ErrUserNotFound
	}

	return s.byID[id], nil
}

func (s *UsersStore) GetByID(ctx context.Context, id int64) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byID[id]
	if !ok {
		return user.User{}, ErrUserNotFound
	}

	return u, nil
}

// Len reports the number of stored records.
func (s *UsersStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.byID)
}

// EnsureAdminUser seeds the configured admin account once at startup.
// Seeding is skipped when no admin credentials are configured or the
// account already exists.
func (s *UsersStore) EnsureAdminUser(ctx context.Context, email, password, name string) error {
	if email == "" || password == "" {
		return nil
	}

	if _, err := s.GetByEmail(ctx, email); err == nil {
		return nil
	}

	hash, err := security.HashPassword(password)
	if err != nil {
		return err
	}

	_, err = s.Insert(ctx, Draft{
		Email:        email,
		PasswordHash: hash,
		Name:         name,
		Role:         user.RoleAdmin,
	})

	return err
}
