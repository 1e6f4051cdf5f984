package lua

import (
	"strconv"

	"github.com/yuin/gopher-lua"

	"github.com/halcorn/halcorn/go/models"
)

func (s *Script) args(L *lua.LState) []lua.LValue {
	lv := make([]lua.LValue, L.GetTop())
	for i := range lv {
		lv[i] = L.CheckAny(i + 1)
	}
	return lv
}

func (s *Script) printFunc(L *lua.LState) int {
	s.log.Info(s.PrettyDump(s.args(L)))
	return 0
}

func (s *Script) intFunc(L *lua.LState) int {
	switch v := L.CheckAny(1).(type) {
	case lua.LString:
		n, err := strconv.ParseInt(string(v), 0, 64)
		if err == nil {
			L.Push(lua.LNumber(n))
			return 1
		}
	case lua.LNumber:
		L.Push(lua.LNumber(int64(v)))
		return 1
	}
	return 0
}

// cpuOrRaise returns the processor of the running handler.
func (s *Script) cpuOrRaise(L *lua.LState) models.Cpu {
	if s.cpu == nil {
		L.RaiseError("no processor outside an intercept")
	}
	return s.cpu
}

func (s *Script) check(L *lua.LState, err error) {
	if err != nil {
		L.RaiseError("%s", err.Error())
	}
}

func (s *Script) regFunc(L *lua.LState) int {
	val, err := s.cpuOrRaise(L).ReadRegister(L.CheckString(1))
	s.check(L, err)
	L.Push(lua.LNumber(val))
	return 1
}

func (s *Script) setRegFunc(L *lua.LState) int {
	err := s.cpuOrRaise(L).WriteRegister(L.CheckString(1), uint64(L.CheckInt64(2)))
	s.check(L, err)
	return 0
}

func (s *Script) argFunc(L *lua.LState) int {
	val, err := s.env.Profile.GetArg(s.cpuOrRaise(L), L.CheckInt(1))
	s.check(L, err)
	L.Push(lua.LNumber(val))
	return 1
}

func (s *Script) setArgFunc(L *lua.LState) int {
	err := s.env.Profile.SetArg(s.cpuOrRaise(L), L.CheckInt(1), uint64(L.CheckInt64(2)))
	s.check(L, err)
	return 0
}

// read(addr, width=1, count=1) returns a number, or a table when count > 1.
func (s *Script) readFunc(L *lua.LState) int {
	addr := uint64(L.CheckInt64(1))
	width := L.OptInt(2, 1)
	count := L.OptInt(3, 1)
	vals, err := s.cpuOrRaise(L).ReadMemory(addr, width, count)
	s.check(L, err)
	if count == 1 && len(vals) == 1 {
		L.Push(lua.LNumber(vals[0]))
		return 1
	}
	tbl := L.NewTable()
	for i, v := range vals {
		tbl.RawSetInt(i+1, lua.LNumber(v))
	}
	L.Push(tbl)
	return 1
}

// write(addr, width, v...) where each v is a number or a table of numbers.
func (s *Script) writeFunc(L *lua.LState) int {
	addr := uint64(L.CheckInt64(1))
	width := L.CheckInt(2)
	var vals []uint64
	for i := 3; i <= L.GetTop(); i++ {
		switch v := L.CheckAny(i).(type) {
		case lua.LNumber:
			vals = append(vals, uint64(int64(v)))
		case *lua.LTable:
			for j := 1; j <= v.Len(); j++ {
				n, ok := v.RawGetInt(j).(lua.LNumber)
				if !ok {
					L.ArgError(i, "expected numbers")
				}
				vals = append(vals, uint64(int64(n)))
			}
		default:
			L.ArgError(i, "expected number or table")
		}
	}
	s.check(L, s.cpuOrRaise(L).WriteMemory(addr, width, vals...))
	return 0
}

func (s *Script) cstringFunc(L *lua.LState) int {
	str, err := models.ReadCString(s.cpuOrRaise(L), uint64(L.CheckInt64(1)), L.OptInt(2, 4096))
	s.check(L, err)
	L.Push(lua.LString(str))
	return 1
}

// publish(model, event, table) sends a message to the external devices.
func (s *Script) publishFunc(L *lua.LState) int {
	if s.env.Bus == nil {
		L.RaiseError("no peripheral bus")
	}
	p := tablePayload(L.CheckTable(3))
	s.check(L, s.env.Bus.Tx(L.CheckString(1), L.CheckString(2), p))
	return 0
}

func (s *Script) callableFunc(L *lua.LState) int {
	addr, err := s.env.Callable(L.CheckString(1))
	s.check(L, err)
	L.Push(lua.LNumber(addr))
	return 1
}

func (s *Script) loadBindings() error {
	for name, fn := range map[string]lua.LGFunction{
		"print":    s.printFunc,
		"int":      s.intFunc,
		"reg":      s.regFunc,
		"set_reg":  s.setRegFunc,
		"arg":      s.argFunc,
		"set_arg":  s.setArgFunc,
		"read":     s.readFunc,
		"write":    s.writeFunc,
		"cstring":  s.cstringFunc,
		"publish":  s.publishFunc,
		"callable": s.callableFunc,
	} {
		s.L.SetGlobal(name, s.L.NewFunction(fn))
	}
	return s.L.DoString(sugarRc)
}
