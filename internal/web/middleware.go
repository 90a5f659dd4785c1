package web

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/google/uuid"
)

// PanicError carries a recovered panic value with the stack captured at the
// recovery site, so the classifier logs where it actually happened.
type PanicError struct {
	value any
	stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.value) }

// Stack returns the goroutine stack captured when the panic was recovered.
func (e *PanicError) Stack() []byte { return e.stack }

type requestIDKey struct{}

// RequestIDFromContext returns the request ID, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// RequestIDExtractor feeds the request ID into every log line produced
// under the request context. It satisfies logger.Extractor.
func RequestIDExtractor(ctx context.Context) (slog.Attr, bool) {
	if id := RequestIDFromContext(ctx); id != "" {
		return slog.String("request_id", id), true
	}
	return slog.Attr{}, false
}

// requestID accepts an inbound X-Request-Id or generates one, echoes it on
// the response, and binds it to the request context.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

// securityHeaders sets the fixed response-hardening headers on every
// response, error pages included.
func securityHeaders(next http.Handler) http.Handler {
	const csp = "default-src 'none'; style-src 'self'; img-src 'self'; " +
		"form-action 'self'; connect-src 'self'; " +
		"script-src 'self' https://cdn.jsdelivr.net; " +
		"base-uri 'none'; frame-ancestors 'none'"

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Frame-Options", "deny")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Content-Security-Policy", csp)
		next.ServeHTTP(w, r)
	})
}

// recoverPanics converts handler panics into a PanicError delivered to the
// error boundary, so a panicking route renders the same 500 page as any
// other unexpected failure.
func recoverPanics(onError func(w http.ResponseWriter, r *http.Request, err error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if v := recover(); v != nil {
					if v == http.ErrAbortHandler {
						panic(v)
					}
					onError(w, r, &PanicError{value: v, stack: debug.Stack()})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
