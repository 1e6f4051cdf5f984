package lua

import (
	"github.com/pkg/errors"
	"github.com/yuin/gopher-lua"

	"github.com/halcorn/halcorn/go/bus"
)

func interceptValue(v lua.LValue) (interface{}, error) {
	switch t := v.(type) {
	case lua.LBool:
		return bool(t), nil
	case *lua.LTable:
		if t.Len() != 2 {
			return nil, errors.Errorf("intercept pair has %d elements", t.Len())
		}
		return []bool{lua.LVAsBool(t.RawGetInt(1)), lua.LVAsBool(t.RawGetInt(2))}, nil
	}
	if v == lua.LNil {
		return nil, nil
	}
	return nil, errors.Errorf("intercept must be a boolean or pair, got %s", v.Type())
}

// goValue converts a scalar or array-like table.
func goValue(v lua.LValue) interface{} {
	switch t := v.(type) {
	case lua.LNumber:
		f := float64(t)
		if f == float64(int64(f)) {
			return int64(f)
		}
		return f
	case lua.LString:
		return string(t)
	case lua.LBool:
		return bool(t)
	case *lua.LTable:
		if t.Len() > 0 {
			out := make([]interface{}, t.Len())
			for i := range out {
				out[i] = goValue(t.RawGetInt(i + 1))
			}
			return out
		}
		return tablePayload(t)
	}
	return nil
}

func tablePayload(t *lua.LTable) bus.Payload {
	p := make(bus.Payload)
	t.ForEach(func(k, v lua.LValue) {
		if key, ok := k.(lua.LString); ok {
			p[string(key)] = goValue(v)
		}
	})
	return p
}
