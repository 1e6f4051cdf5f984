package models

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrArgIndex        = errors.New("argument index out of calling convention range")
	ErrUnknownArch     = errors.New("unknown architecture")
	ErrInvalidRegister = errors.New("invalid register")
)

// FaultError is raised by ApplyReturn when a handler requested a fault
// injection. It is distinct from every error a normal return can produce.
type FaultError struct {
	Addr  Addr
	Value uint64
}

func (f *FaultError) Error() string {
	return fmt.Sprintf("injected fault at %s (return value %#x)", f.Addr, f.Value)
}

func IsFault(err error) bool {
	_, ok := errors.Cause(err).(*FaultError)
	return ok
}

func ArgIndexError(i int) error {
	return errors.Wrapf(ErrArgIndex, "index %d", i)
}
