package users

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("user account not found")

type UserAccount struct {
	PrincipalID uuid.UUID `json:"principal_id"`
	ScopeID     uuid.UUID `json:"scope_id"`
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
	Email       string    `json:"email,omitempty"`
	Created     int64     `json:"created"`
	UserLevel   int       `json:"user_level"`
	UserFlags   int       `json:"user_flags"`
}

func (a UserAccount) Name() string { return a.FirstName + " " + a.LastName }

type Service interface {
	GetUserAccount(ctx context.Context, scope, id uuid.UUID) (*UserAccount, error)
	GetUserAccountByName(ctx context.Context, scope uuid.UUID, first, last string) (*UserAccount, error)
	StoreUserAccount(ctx context.Context, acc UserAccount) error
}

func nameKey(first, last string) string {
	return strings.ToLower(strings.TrimSpace(first)) + " " + strings.ToLower(strings.TrimSpace(last))
}

// MemoryService keeps accounts in process.
type MemoryService struct {
	mu       sync.RWMutex
	accounts map[uuid.UUID]UserAccount
}

func NewMemoryService() *MemoryService {
	return &MemoryService{accounts: map[uuid.UUID]UserAccount{}}
}

func (m *MemoryService) GetUserAccount(_ context.Context, scope, id uuid.UUID) (*UserAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[id]
	if !ok || (scope != uuid.Nil && a.ScopeID != scope) {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (m *MemoryService) GetUserAccountByName(_ context.Context, scope uuid.UUID, first, last string) (*UserAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key := nameKey(first, last)
	for _, a := range m.accounts {
		if nameKey(a.FirstName, a.LastName) == key && (scope == uuid.Nil || a.ScopeID == scope) {
			a := a
			return &a, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryService) StoreUserAccount(_ context.Context, acc UserAccount) error {
	if acc.PrincipalID == uuid.Nil {
		return errors.New("account has no principal id")
	}
	if acc.Created == 0 {
		acc.Created = time.Now().Unix()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[acc.PrincipalID] = acc
	return nil
}
