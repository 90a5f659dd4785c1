package store

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Memory is the in-process implementation of Accounts and Projects.
type Memory struct {
	mu sync.RWMutex

	accounts       map[string]*Account // by ID
	emails         map[string]string   // lowercased email -> ID
	sessionKeys    map[string]map[string]struct{}
	rememberTokens map[string]tokenRecord // hash -> record
	resetTokens    map[string]tokenRecord
	projects       map[string]*Project
}

type tokenRecord struct {
	accountID string
	expiresAt time.Time
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		accounts:       make(map[string]*Account),
		emails:         make(map[string]string),
		sessionKeys:    make(map[string]map[string]struct{}),
		rememberTokens: make(map[string]tokenRecord),
		resetTokens:    make(map[string]tokenRecord),
		projects:       make(map[string]*Project),
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (m *Memory) CreateAccount(_ context.Context, a *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := normalizeEmail(a.Email)
	if _, taken := m.emails[key]; taken {
		return &ValidationError{Message: "email is already taken"}
	}
	cp := *a
	m.accounts[a.ID] = &cp
	m.emails[key] = a.ID
	return nil
}

func (m *Memory) AccountByID(_ context.Context, id string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *Memory) AccountByEmail(_ context.Context, email string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.emails[normalizeEmail(email)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.accounts[id]
	return &cp, nil
}

func (m *Memory) UpdateAccount(_ context.Context, a *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.accounts[a.ID]
	if !ok {
		return ErrNotFound
	}

	oldKey, newKey := normalizeEmail(old.Email), normalizeEmail(a.Email)
	if oldKey != newKey {
		if _, taken := m.emails[newKey]; taken {
			return &ValidationError{Message: "email is already taken"}
		}
		delete(m.emails, oldKey)
		m.emails[newKey] = a.ID
	}

	cp := *a
	m.accounts[a.ID] = &cp
	return nil
}

func (m *Memory) AddSessionKey(_ context.Context, accountID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys, ok := m.sessionKeys[accountID]
	if !ok {
		keys = make(map[string]struct{})
		m.sessionKeys[accountID] = keys
	}
	keys[sessionID] = struct{}{}
	return nil
}

func (m *Memory) SessionKeyValid(_ context.Context, accountID, sessionID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.sessionKeys[accountID][sessionID]
	return ok, nil
}

func (m *Memory) RemoveSessionKey(_ context.Context, accountID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessionKeys[accountID], sessionID)
	return nil
}

func (m *Memory) RemoveOtherSessionKeys(_ context.Context, accountID, keepSessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for sid := range m.sessionKeys[accountID] {
		if sid != keepSessionID {
			delete(m.sessionKeys[accountID], sid)
		}
	}
	return nil
}

func (m *Memory) SetRememberToken(_ context.Context, accountID, tokenHash string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// One remember token per account.
	for hash, rec := range m.rememberTokens {
		if rec.accountID == accountID {
			delete(m.rememberTokens, hash)
		}
	}
	m.rememberTokens[tokenHash] = tokenRecord{accountID: accountID, expiresAt: expiresAt}
	return nil
}

func (m *Memory) RememberedAccount(_ context.Context, tokenHash string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.rememberTokens[tokenHash]
	if !ok || time.Now().After(rec.expiresAt) {
		return "", ErrNotFound
	}
	return rec.accountID, nil
}

func (m *Memory) ClearRememberToken(_ context.Context, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for hash, rec := range m.rememberTokens {
		if rec.accountID == accountID {
			delete(m.rememberTokens, hash)
		}
	}
	return nil
}

func (m *Memory) SetResetToken(_ context.Context, accountID, tokenHash string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.resetTokens[tokenHash] = tokenRecord{accountID: accountID, expiresAt: expiresAt}
	return nil
}

func (m *Memory) ConsumeResetToken(_ context.Context, tokenHash string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.resetTokens[tokenHash]
	if !ok {
		return "", ErrNotFound
	}
	delete(m.resetTokens, tokenHash)
	if time.Now().After(rec.expiresAt) {
		return "", ErrNotFound
	}
	return rec.accountID, nil
}

func (m *Memory) CreateProject(_ context.Context, p *Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.projects {
		if existing.AccountID == p.AccountID && existing.Name == p.Name {
			return &ValidationError{Message: "project name is already taken"}
		}
	}
	cp := *p
	m.projects[p.ID] = &cp
	return nil
}

func (m *Memory) ProjectsByAccount(_ context.Context, accountID string) ([]*Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Project
	for _, p := range m.projects {
		if p.AccountID == accountID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}
