package models

import (
	"fmt"

	"github.com/pkg/errors"
)

// Result is what an intercept handler asks the dispatcher to do.
type Result struct {
	// Intercept bypasses the original function by forcing a return.
	Intercept bool
	Value     uint64
	HasValue  bool
	// Explode raises a fault after the return value is injected.
	Explode bool
}

// Return bypasses the function and returns val.
func Return(val uint64) Result { return Result{Intercept: true, Value: val, HasValue: true} }

// ReturnVoid bypasses the function without touching the return register.
func ReturnVoid() Result { return Result{Intercept: true} }

// Passthrough lets the original function run.
func Passthrough() Result { return Result{} }

func Explode(val uint64) Result {
	return Result{Intercept: true, Value: val, HasValue: true, Explode: true}
}

func (r Result) String() string {
	s := "passthrough"
	if r.Intercept {
		if r.HasValue {
			s = fmt.Sprintf("return %#x", r.Value)
		} else {
			s = "return"
		}
	}
	if r.Explode {
		s += " (explode)"
	}
	return s
}

// LegacyResult converts an (intercept, value) pair where intercept is either
// a bool or a two element (intercept, explode) sequence, and value is nil or
// an integer.
func LegacyResult(intercept, value interface{}) (Result, error) {
	var r Result
	switch v := intercept.(type) {
	case bool:
		r.Intercept = v
	case [2]bool:
		r.Intercept, r.Explode = v[0], v[1]
	case []bool:
		if len(v) != 2 {
			return r, errors.Errorf("intercept pair has %d elements", len(v))
		}
		r.Intercept, r.Explode = v[0], v[1]
	case nil:
	default:
		return r, errors.Errorf("unsupported intercept type %T", intercept)
	}
	if value == nil {
		return r, nil
	}
	r.HasValue = true
	switch v := value.(type) {
	case int:
		r.Value = uint64(v)
	case int32:
		r.Value = uint64(v)
	case int64:
		r.Value = uint64(v)
	case uint32:
		r.Value = uint64(v)
	case uint64:
		r.Value = v
	case float64:
		r.Value = uint64(int64(v))
	case bool:
		if v {
			r.Value = 1
		}
	default:
		return r, errors.Errorf("unsupported return value type %T", value)
	}
	return r, nil
}
