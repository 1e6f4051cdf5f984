package stats

import (
	"fmt"
	"io"
	"sort"

	"github.com/mgutz/ansi"
)

var (
	hotColor  = ansi.ColorFunc("green+b")
	coldColor = ansi.ColorFunc("black+h")
)

// Print writes a human readable report: intercepts by hit count, then every
// set. Unhit intercepts are dimmed when color is set.
func (r *Report) Print(w io.Writer, color bool) {
	ids := make([]int, 0, len(r.Intercepts))
	for id := range r.Intercepts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := r.Intercepts[ids[i]], r.Intercepts[ids[j]]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return ids[i] < ids[j]
	})
	fmt.Fprintf(w, "intercepts:\n")
	for _, id := range ids {
		i := r.Intercepts[id]
		line := fmt.Sprintf("  %3d %#010x %-32s %s.%s %d", id, i.Addr, i.Function, i.Class, i.Method, i.Count)
		if color {
			if i.Count > 0 {
				line = hotColor(line)
			} else {
				line = coldColor(line)
			}
		}
		fmt.Fprintln(w, line)
	}
	names := make([]string, 0, len(r.Sets))
	for name := range r.Sets {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "%s (%d):\n", name, len(r.Sets[name]))
		for _, v := range r.Sets[name] {
			fmt.Fprintf(w, "  %s\n", v)
		}
	}
}
