package lua

import (
	"fmt"
	"strings"

	"github.com/yuin/gopher-lua"
)

func (s *Script) prettydump(lv []lua.LValue, implicit bool, seen map[lua.LValue]bool) []string {
	pretty := make([]string, len(lv))
	for i, v := range lv {
		switch t := v.(type) {
		case *lua.LTable:
			// seen[v] is used to skip recursive table references
			if seen[v] {
				pretty[i] = "{\"<skipped recursion>\"}"
				continue
			}
			seen[v] = true

			table := make([]string, 0, t.Len())
			idx := 1
			t.ForEach(func(k, v lua.LValue) {
				tmp := s.prettydump([]lua.LValue{k, v}, true, seen)
				if n, ok := k.(lua.LNumber); ok && int(n) == idx {
					idx += 1
					table = append(table, tmp[1])
				} else {
					table = append(table, strings.Join(tmp, " = "))
				}
			})
			seen[v] = false
			pretty[i] = "{" + strings.Join(table, ", ") + "}"
		case lua.LNumber:
			f := float64(t)
			if f != float64(int64(f)) {
				pretty[i] = fmt.Sprintf("%f", f)
			} else if n := int64(f); n >= 0 && n < 10 {
				pretty[i] = fmt.Sprintf("%d", n)
			} else if n > 0x10000 {
				pretty[i] = fmt.Sprintf("%#x", n)
			} else {
				pretty[i] = fmt.Sprintf("%#x(%d)", n, n)
			}
		case lua.LString:
			if implicit {
				pretty[i] = fmt.Sprintf("%q", string(t))
			} else {
				pretty[i] = string(t)
			}
		default:
			pretty[i] = v.String()
		}
	}
	return pretty
}

// PrettyDump formats values the way print shows them.
func (s *Script) PrettyDump(lv []lua.LValue) string {
	return strings.Join(s.prettydump(lv, false, make(map[lua.LValue]bool)), " ")
}
