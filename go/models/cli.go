package models

import (
	"flag"
	"fmt"
	"io"
	"strings"
)

// PrintFlags writes flag help wrapped to 80 columns.
func PrintFlags(w io.Writer, flags []*flag.Flag) {
	wname := 0
	wdef := 0
	for _, f := range flags {
		if len(f.Name) > wname {
			wname = len(f.Name)
		}
		if len(f.DefValue) > wdef {
			wdef = len(f.DefValue)
		}
	}
	wdesc := 80 - wname - wdef - 7
	if wdesc < 20 {
		wdesc = 20
	}

	namefmt := fmt.Sprintf("%%-%ds", wname)
	deffmt := fmt.Sprintf("%%-%ds ", wdef+2)
	lpad := strings.Repeat(" ", wname+wdef+7)
	for _, f := range flags {
		fmt.Fprintf(w, "  -"+namefmt, f.Name)
		if f.DefValue != "" && f.DefValue != "[]" {
			fmt.Fprintf(w, " "+deffmt, "("+f.DefValue+")")
		} else {
			fmt.Fprintf(w, " "+deffmt, "  ")
		}
		usage := f.Usage
		for first := true; len(usage) > 0; first = false {
			if !first {
				fmt.Fprint(w, lpad)
			}
			l := len(usage)
			if l > wdesc {
				l = wdesc
				// break on the last newline or space
				if s := strings.LastIndexAny(usage[:l], " \n"); s > 0 {
					l = s
				}
			}
			fmt.Fprintln(w, usage[:l])
			usage = strings.TrimLeft(usage[l:], " \n")
		}
		if f.Usage == "" {
			fmt.Fprintln(w)
		}
	}
}
