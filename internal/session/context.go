package session

import "context"

type ctxKey struct{}

// NewContext binds a session to a request context. The pipeline attaches
// the loaded session so downstream handlers can read it back.
func NewContext(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, sess)
}

// FromContext returns the session attached to ctx, or nil for anonymous
// requests with no session yet.
func FromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(ctxKey{}).(*Session)
	return sess
}
