package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"portaria.org/internal/ids"
)

var (
	ErrInvalidInput       = errors.New("auth: invalid input")
	ErrNotFound           = errors.New("auth: not found")
	ErrAlreadyExists      = errors.New("auth: already exists")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
)

// Porter is a staff account allowed to operate the management API.
type Porter struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	Roles        []string  `json:"roles"`
	CreatedAt    time.Time `json:"created_at"`
}

// PorterStore persists porter accounts.
type PorterStore interface {
	Create(ctx context.Context, p Porter) (Porter, error)
	FindByEmail(ctx context.Context, email string) (Porter, error)
}

// Porters issues session tokens for porter accounts.
type Porters struct {
	store    PorterStore
	tokenTTL time.Duration
}

// NewPorters wires the login service over a store.
func NewPorters(store PorterStore, tokenTTL time.Duration) (*Porters, error) {
	if store == nil {
		return nil, errors.New("auth: porter store is required")
	}
	if tokenTTL <= 0 {
		tokenTTL = 15 * time.Minute
	}
	return &Porters{store: store, tokenTTL: tokenTTL}, nil
}

// Register creates a porter account with a hashed password.
func (s *Porters) Register(ctx context.Context, email, name, password string, roles []string) (Porter, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return Porter{}, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	name = strings.TrimSpace(name)
	if password == "" {
		return Porter{}, fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return Porter{}, err
	}
	roles = dedupeRoles(roles)
	if len(roles) == 0 {
		roles = []string{RolePorter}
	}
	return s.store.Create(ctx, Porter{
		ID:           ids.New(),
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		Roles:        roles,
		CreatedAt:    time.Now().UTC(),
	})
}

// Login verifies credentials and returns a signed session token.
func (s *Porters) Login(ctx context.Context, email, password string) (string, Porter, time.Time, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return "", Porter{}, time.Time{}, ErrInvalidCredentials
	}
	p, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", Porter{}, time.Time{}, ErrInvalidCredentials
		}
		return "", Porter{}, time.Time{}, err
	}
	if err := VerifyPassword(p.PasswordHash, password); err != nil {
		return "", Porter{}, time.Time{}, ErrInvalidCredentials
	}
	token, err := GenerateToken(p.ID, p.Roles, s.tokenTTL)
	if err != nil {
		return "", Porter{}, time.Time{}, err
	}
	return token, p, time.Now().UTC().Add(s.tokenTTL), nil
}

// InMemoryPorterStore keeps porter accounts in process, for dev and tests.
type InMemoryPorterStore struct {
	mu      sync.RWMutex
	byEmail map[string]Porter
}

func NewInMemoryPorterStore() *InMemoryPorterStore {
	return &InMemoryPorterStore{byEmail: make(map[string]Porter)}
}

func (s *InMemoryPorterStore) Create(ctx context.Context, p Porter) (Porter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[p.Email]; ok {
		return Porter{}, ErrAlreadyExists
	}
	s.byEmail[p.Email] = p
	return p, nil
}

func (s *InMemoryPorterStore) FindByEmail(ctx context.Context, email string) (Porter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byEmail[email]
	if !ok {
		return Porter{}, ErrNotFound
	}
	return p, nil
}
