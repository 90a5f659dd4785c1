// Package session provides store-backed sessions carried by an HMAC-signed
// cookie token. Session contents are only trusted after the cookie signature
// verifies; any decode or lookup failure degrades the request to anonymous.
package session

import "time"

// Session is the per-visitor server-side record. The cookie carries only the
// random Token; everything else lives in the Store.
type Session struct {
	CreatedAt time.Time
	ExpiresAt time.Time

	// AccountID is empty for anonymous sessions.
	AccountID string
	Values    map[string]any
	ID        string
	Token     string

	dirty bool
	isNew bool
}

// New creates a session that still has to be persisted.
func New(id, token string, expiresAt time.Time) *Session {
	return &Session{
		ID:        id,
		Token:     token,
		Values:    make(map[string]any),
		CreatedAt: time.Now(),
		ExpiresAt: expiresAt,
		isNew:     true,
		dirty:     true,
	}
}

// Authenticated reports whether an account is bound to the session.
func (s *Session) Authenticated() bool {
	return s.AccountID != ""
}

// Set stores a value and marks the session dirty.
func (s *Session) Set(key string, val any) {
	if s.Values == nil {
		s.Values = make(map[string]any)
	}
	s.Values[key] = val
	s.dirty = true
}

// Get retrieves a value.
func (s *Session) Get(key string) (any, bool) {
	val, ok := s.Values[key]
	return val, ok
}

// GetString retrieves a string value, returning "" on absence or type
// mismatch.
func (s *Session) GetString(key string) string {
	if v, ok := s.Values[key]; ok {
		if str, ok := v.(string); ok {
			return str
		}
	}
	return ""
}

// Delete removes a value, marking the session dirty only if it existed.
func (s *Session) Delete(key string) {
	if _, ok := s.Values[key]; ok {
		delete(s.Values, key)
		s.dirty = true
	}
}

// Dirty reports whether the session has unsaved changes.
func (s *Session) Dirty() bool { return s.dirty }

// MarkDirty forces a save on response flush.
func (s *Session) MarkDirty() { s.dirty = true }

// ClearDirty marks the session as persisted.
func (s *Session) ClearDirty() { s.dirty = false }

// IsNew reports whether the session has never been persisted.
func (s *Session) IsNew() bool { return s.isNew }

// ClearNew marks the session as persisted for the first time.
func (s *Session) ClearNew() { s.isNew = false }

// Expired reports whether the session is past its expiry.
func (s *Session) Expired() bool {
	return time.Now().After(s.ExpiresAt)
}
