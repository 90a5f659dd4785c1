// Package errdesc maps arbitrary failures to the structured descriptors the
// error view renders. Classification is total: every error value, including
// ones nothing anticipated, produces a fully populated descriptor.
package errdesc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/arborcloud/console/internal/authz"
	"github.com/arborcloud/console/internal/csrf"
	"github.com/arborcloud/console/internal/store"
	"github.com/arborcloud/console/internal/validation"
)

// Descriptor describes an error response. Details is non-nil only for
// field-validation failures.
type Descriptor struct {
	Details map[string][]string
	Title   string
	Message string
	Code    int
}

// StatusUnprocessableToken is the CSRF failure status. 419 is not a
// registered HTTP status but is the de-facto convention for expired or
// invalid security tokens in form-driven web apps.
const StatusUnprocessableToken = 419

// NotFound is the fixed descriptor for unmatched routes. A miss is a normal
// routing outcome, not a failure, so it never passes through Classify.
func NotFound() Descriptor {
	return Descriptor{
		Code:    http.StatusNotFound,
		Title:   "Resource not found",
		Message: "Sorry, we couldn't find the resource you're looking for.",
	}
}

// stackTracer is implemented by failures that captured a stack when they
// were raised (recovered panics).
type stackTracer interface {
	Stack() []byte
}

// Classifier turns failures into descriptors. Unclassified failures are
// logged with their type and a stack trace to the operational sink before
// the generic descriptor is returned.
type Classifier struct {
	log *slog.Logger
}

// New creates a Classifier logging unknowns to log.
func New(log *slog.Logger) *Classifier {
	return &Classifier{log: log}
}

// Classify maps err to a descriptor. The table is ordered; the first match
// wins. Classify never returns an error and never panics.
func (c *Classifier) Classify(ctx context.Context, err error) Descriptor {
	var (
		storeErr *store.ValidationError
		fieldErr *validation.Failed
	)

	switch {
	case errors.As(err, &storeErr):
		return Descriptor{
			Code:    http.StatusBadRequest,
			Title:   "Invalid request",
			Message: storeErr.Message,
		}

	case errors.As(err, &fieldErr):
		return Descriptor{
			Code:    http.StatusBadRequest,
			Title:   "Invalid request",
			Message: "Failed validations",
			Details: fieldErr.Errors,
		}

	case errors.Is(err, csrf.ErrInvalidToken):
		return Descriptor{
			Code:    StatusUnprocessableToken,
			Title:   "Invalid Security Token",
			Message: "An invalid security token was submitted with this request, and this request could not be processed.",
		}

	case authz.IsDenial(err):
		return Descriptor{
			Code:    http.StatusForbidden,
			Title:   "Forbidden",
			Message: "Sorry, you don't have permission to continue with this request.",
		}

	default:
		var stack []byte
		var st stackTracer
		if errors.As(err, &st) {
			stack = st.Stack()
		} else {
			stack = debug.Stack()
		}
		c.log.ErrorContext(ctx, "unhandled error",
			slog.String("error", err.Error()),
			slog.String("type", fmt.Sprintf("%T", err)),
			slog.String("stack", string(stack)),
		)
		return Descriptor{
			Code:    http.StatusInternalServerError,
			Title:   "Unexpected Error",
			Message: "Sorry, we couldn't process your request because of an unexpected error.",
		}
	}
}

// Recoverable reports whether the descriptor represents a validation
// failure whose inputs should be preserved and replayed on the originating
// form.
func (d Descriptor) Recoverable() bool {
	return d.Code == http.StatusBadRequest
}
