package models

import (
	"strconv"

	"github.com/pkg/errors"
)

// Args carries the opaque registration_args/class_args maps from
// configuration. Values come from YAML and may be ints, strings or nested maps.
type Args map[string]interface{}

func (a Args) Has(key string) bool {
	_, ok := a[key]
	return ok
}

func (a Args) Uint(key string, def uint64) (uint64, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return uint64(n), nil
	case int64:
		return uint64(n), nil
	case uint64:
		return n, nil
	case uint32:
		return uint64(n), nil
	case float64:
		return uint64(n), nil
	case string:
		u, err := strconv.ParseUint(n, 0, 64)
		return u, errors.Wrapf(err, "arg %q", key)
	}
	return def, errors.Errorf("arg %q: expected integer, got %T", key, v)
}

func (a Args) Int(key string, def int) (int, error) {
	u, err := a.Uint(key, uint64(def))
	return int(u), err
}

func (a Args) String(key, def string) string {
	if v, ok := a[key].(string); ok {
		return v
	}
	return def
}

func (a Args) Bool(key string, def bool) bool {
	if v, ok := a[key].(bool); ok {
		return v
	}
	return def
}

// Map returns a nested argument map, converting the generic YAML map types.
func (a Args) Map(key string) Args {
	switch m := a[key].(type) {
	case map[string]interface{}:
		return Args(m)
	case Args:
		return m
	case map[interface{}]interface{}:
		out := make(Args, len(m))
		for k, v := range m {
			if s, ok := k.(string); ok {
				out[s] = v
			}
		}
		return out
	}
	return nil
}
