package intercept

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/halcorn/halcorn/go/models"
)

var ErrNotFound = errors.New("no intercept bound")

// RegistrationError reports a single intercept that could not be set up.
type RegistrationError struct {
	Function string
	Class    string
	Addr     models.RawAddr
	Err      error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("register %s (%s) at %#x: %v", e.Function, e.Class, uint64(e.Addr), e.Err)
}

func (e *RegistrationError) Cause() error  { return e.Err }
func (e *RegistrationError) Unwrap() error { return e.Err }

// HandlerError wraps an error or panic raised by a handler. Emulated state
// may be inconsistent afterwards.
type HandlerError struct {
	Class    string
	Method   string
	Function string
	Addr     models.Addr
	Err      error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %s.%s for %s at %s: %v", e.Class, e.Method, e.Function, e.Addr, e.Err)
}

func (e *HandlerError) Cause() error  { return e.Err }
func (e *HandlerError) Unwrap() error { return e.Err }
