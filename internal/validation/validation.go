// Package validation carries field-level validation failures from form
// handling to the error classifier, plus the small rule helpers the auth
// and settings forms share.
package validation

import (
	"fmt"
	"net/mail"
	"sort"
	"strings"
)

// Errors maps field names to their failure messages.
type Errors map[string][]string

// Failed is the domain validation failure: a 400 with per-field details.
type Failed struct {
	Errors Errors
}

func (f *Failed) Error() string {
	if len(f.Errors) == 0 {
		return "validation failed"
	}
	fields := make([]string, 0, len(f.Errors))
	for field := range f.Errors {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return "validation failed: " + strings.Join(fields, ", ")
}

// Check accumulates field errors and produces a Failed when any were added.
type Check struct {
	errs Errors
}

// Add records a failure message for a field.
func (c *Check) Add(field, format string, args ...any) {
	if c.errs == nil {
		c.errs = make(Errors)
	}
	c.errs[field] = append(c.errs[field], fmt.Sprintf(format, args...))
}

// Require adds an error when value is blank. Returns whether it was present.
func (c *Check) Require(field, value string) bool {
	if strings.TrimSpace(value) == "" {
		c.Add(field, "is required")
		return false
	}
	return true
}

// Email adds an error unless value parses as an address.
func (c *Check) Email(field, value string) {
	if _, err := mail.ParseAddress(value); err != nil {
		c.Add(field, "is not a valid email address")
	}
}

// MinLen adds an error when value is shorter than n bytes.
func (c *Check) MinLen(field, value string, n int) {
	if len(value) < n {
		c.Add(field, "must be at least %d characters", n)
	}
}

// Equal adds an error on field when a and b differ.
func (c *Check) Equal(field, a, b string) {
	if a != b {
		c.Add(field, "does not match")
	}
}

// Err returns a *Failed when any rule failed, nil otherwise.
func (c *Check) Err() error {
	if len(c.errs) == 0 {
		return nil
	}
	return &Failed{Errors: c.errs}
}
