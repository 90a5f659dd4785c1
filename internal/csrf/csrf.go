// Package csrf issues and verifies per-session CSRF tokens. The token is an
// HMAC-SHA256 of the session ID under the process secret, so it needs no
// storage of its own and rotates with the session.
package csrf

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"
)

// FieldName is the form field checked on state-changing requests.
const FieldName = "_csrf"

// HeaderName is the header alternative for non-form clients.
const HeaderName = "X-CSRF-Token"

// ErrInvalidToken is raised when a non-safe request carries a missing or
// mismatched token. The classifier maps it to 419.
var ErrInvalidToken = errors.New("csrf: invalid or missing security token")

// Token derives the CSRF token for a session.
func Token(secret []byte, sessionID string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(sessionID))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// SafeMethod reports whether the request method is read-only and therefore
// exempt from CSRF verification.
func SafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	}
	return false
}

// Verify checks the request token against the session. Safe methods pass
// unconditionally. A request without a session cannot carry a valid token:
// state-changing requests require an established session.
func Verify(r *http.Request, secret []byte, sessionID string) error {
	if SafeMethod(r.Method) {
		return nil
	}

	submitted := r.PostFormValue(FieldName)
	if submitted == "" {
		submitted = r.Header.Get(HeaderName)
	}
	if submitted == "" || sessionID == "" {
		return ErrInvalidToken
	}

	expected := Token(secret, sessionID)
	if !hmac.Equal([]byte(submitted), []byte(expected)) {
		return ErrInvalidToken
	}
	return nil
}
