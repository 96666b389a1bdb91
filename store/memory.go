// Package store provides UserStore implementations: an in-process reference
// store, a Redis store with WATCH-based compare-and-swap, and a MySQL store
// with a guarded UPDATE.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/solvein/authcore"
)

// Memory is an in-process [authcore.UserStore]. All operations serialize on
// one mutex, which trivially satisfies the per-record atomicity the security
// swap requires. Intended for tests and single-process deployments.
type Memory struct {
	mu      sync.Mutex
	byID    map[string]authcore.UserRecord
	byEmail map[string]string
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		byID:    make(map[string]authcore.UserRecord),
		byEmail: make(map[string]string),
		now:     time.Now,
	}
}

func (m *Memory) FindByEmail(ctx context.Context, email string) (authcore.UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byEmail[email]
	if !ok {
		return authcore.UserRecord{}, authcore.ErrUserNotFound
	}
	return m.byID[id], nil
}

func (m *Memory) FindByID(ctx context.Context, id string) (authcore.UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.byID[id]
	if !ok {
		return authcore.UserRecord{}, authcore.ErrUserNotFound
	}
	return user, nil
}

func (m *Memory) Insert(ctx context.Context, user authcore.UserRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byEmail[user.Email]; ok {
		return authcore.ErrEmailTaken
	}

	m.byID[user.ID] = user
	m.byEmail[user.Email] = user.ID

	return nil
}

func (m *Memory) CompareAndSwapSecurity(ctx context.Context, id string, expected, next authcore.SecurityState) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.byID[id]
	if !ok {
		return false, authcore.ErrUserNotFound
	}

	if user.FailedAttempts != expected.FailedAttempts || !sameInstant(user.LockedUntil, expected.LockedUntil) {
		return false, nil
	}

	now := m.now()
	user.FailedAttempts = next.FailedAttempts
	user.LockedUntil = next.LockedUntil
	user.LastAttemptAt = &now
	m.byID[id] = user

	return true, nil
}

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
