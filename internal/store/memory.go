package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"chatrelay/internal/auth"

	"github.com/google/uuid"
)

// MemoryStore 是进程内的凭据目录，进程退出即丢失。
type MemoryStore struct {
	mu     sync.RWMutex
	byName map[string]*Identity
	byID   map[string]*Identity
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byName: make(map[string]*Identity), byID: make(map[string]*Identity)}
}

func (s *MemoryStore) Register(_ context.Context, username, password string) (Identity, error) {
	name, err := ValidateUsername(username)
	if err != nil {
		return Identity{}, err
	}
	if err := ValidatePassword(password); err != nil {
		return Identity{}, err
	}
	s.mu.RLock()
	_, taken := s.byName[name]
	s.mu.RUnlock()
	if taken {
		return Identity{}, ErrDuplicateUsername
	}
	// bcrypt is slow; hash outside the lock and re-check on insert
	hash, err := auth.HashPassword(password)
	if err != nil {
		return Identity{}, err
	}
	id := &Identity{ID: uuid.NewString(), DisplayName: name, PasswordHash: hash, CreatedAt: time.Now()}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byName[name]; taken {
		return Identity{}, ErrDuplicateUsername
	}
	s.byName[name] = id
	s.byID[id.ID] = id
	return *id, nil
}

func (s *MemoryStore) Verify(_ context.Context, username, password string) (Identity, error) {
	s.mu.RLock()
	id, ok := s.byName[strings.TrimSpace(username)]
	s.mu.RUnlock()
	if !ok {
		return Identity{}, ErrUnknownUsername
	}
	if !auth.VerifyPassword(id.PasswordHash, password) {
		return Identity{}, ErrWrongPassword
	}
	return *id, nil
}

func (s *MemoryStore) Lookup(_ context.Context, identityID string) (Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byID[identityID]
	if !ok {
		return Identity{}, ErrUnknownIdentity
	}
	return *id, nil
}
