// Package authz defines the authorization failures the error classifier
// maps to 403 responses.
package authz

import "errors"

// ErrAuthenticationRequired is raised when a protected route is reached
// without an authenticated account.
var ErrAuthenticationRequired = errors.New("authentication required")

// Denied is an authorization failure carrying the action that was refused.
type Denied struct {
	Action string
}

func (d *Denied) Error() string {
	if d.Action == "" {
		return "authorization denied"
	}
	return "authorization denied: " + d.Action
}

// IsDenial reports whether err is an authorization failure of either kind.
func IsDenial(err error) bool {
	var d *Denied
	return errors.Is(err, ErrAuthenticationRequired) || errors.As(err, &d)
}
