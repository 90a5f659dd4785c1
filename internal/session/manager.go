package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/arborcloud/console/internal/cookie"
)

const (
	defaultCookieName = "_console_session"
	defaultMaxAge     = 30 * 24 * time.Hour
)

// Manager owns the session lifecycle: loading from the signed cookie,
// creation, token rotation after authentication, and destruction.
type Manager struct {
	store      Store
	jar        *cookie.Jar
	cookieName string
	maxAge     time.Duration
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithCookieName overrides the session cookie name.
func WithCookieName(name string) ManagerOption {
	return func(m *Manager) {
		if name != "" {
			m.cookieName = name
		}
	}
}

// WithMaxAge overrides the session lifetime.
func WithMaxAge(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.maxAge = d
		}
	}
}

// NewManager creates a Manager persisting to store and signing cookie tokens
// with jar.
func NewManager(store Store, jar *cookie.Jar, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:      store,
		jar:        jar,
		cookieName: defaultCookieName,
		maxAge:     defaultMaxAge,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Load resolves the request's session from the signed cookie.
// Verification failures, unknown tokens, and expired sessions all yield
// (nil, nil): the request proceeds anonymous, never errors. Only store
// infrastructure failures propagate.
func (m *Manager) Load(ctx context.Context, r *http.Request) (*Session, error) {
	token, err := m.jar.GetSigned(r, m.cookieName)
	if err != nil {
		return nil, nil
	}
	if token == "" {
		return nil, nil
	}

	sess, err := m.store.Get(ctx, token)
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrExpired) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// CookieToken returns the verified session token carried by the request
// cookie, or "" when absent or tampered. It needs no store access, so the
// CSRF stage can run before the session itself is loaded.
func (m *Manager) CookieToken(r *http.Request) string {
	token, err := m.jar.GetSigned(r, m.cookieName)
	if err != nil {
		return ""
	}
	return token
}

// Create persists a fresh anonymous session.
func (m *Manager) Create(ctx context.Context) (*Session, error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}

	sess := New(uuid.NewString(), token, time.Now().Add(m.maxAge))
	if err := m.store.Create(ctx, sess); err != nil {
		return nil, err
	}
	sess.ClearNew()
	sess.ClearDirty()
	return sess, nil
}

// Write sets the signed session cookie for sess.
func (m *Manager) Write(w http.ResponseWriter, sess *Session) error {
	return m.jar.SetSigned(w, m.cookieName, sess.Token, int(m.maxAge.Seconds()))
}

// Rotate replaces the session token. Called after authentication so a
// pre-login token captured by an attacker stops working (session fixation).
func (m *Manager) Rotate(ctx context.Context, sess *Session) error {
	old := sess.Token
	token, err := newToken()
	if err != nil {
		return err
	}
	sess.Token = token
	sess.MarkDirty()

	if err := m.store.Update(ctx, sess); err != nil {
		sess.Token = old
		return err
	}
	return nil
}

// Save persists dirty sessions. Invoked by the response writer's
// before-write hook so mutations made anywhere in the pipeline are flushed.
func (m *Manager) Save(ctx context.Context, sess *Session) error {
	if sess == nil || !sess.Dirty() {
		return nil
	}
	if err := m.store.Update(ctx, sess); err != nil {
		return err
	}
	sess.ClearDirty()
	return nil
}

// Destroy deletes the session record and expires the cookie.
func (m *Manager) Destroy(ctx context.Context, w http.ResponseWriter, sess *Session) error {
	if sess != nil {
		if err := m.store.Delete(ctx, sess.ID); err != nil {
			return err
		}
	}
	m.jar.Delete(w, m.cookieName)
	return nil
}

// DestroyAllForAccount removes every session bound to an account. Used by
// close-account.
func (m *Manager) DestroyAllForAccount(ctx context.Context, accountID string) error {
	return m.store.DeleteByAccountID(ctx, accountID)
}

func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("session: generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
