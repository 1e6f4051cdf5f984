package cmd

import (
	"bytes"
	"reflect"
	"strings"
	"testing"
)

func testLauncher(ran *[]string) *Launcher {
	l := NewLauncher()
	for _, name := range []string{"rehost", "haltrace", "stats", "symtool"} {
		name := name
		l.Add(&Subcommand{Name: name, Desc: name + " desc", Main: func(args []string) {
			*ran = append(*ran, args...)
		}})
	}
	return l
}

func TestDispatch(t *testing.T) {
	var ran []string
	l := testLauncher(&ran)
	var out bytes.Buffer
	if code := l.Dispatch([]string{"halcorn", "rehost", "-config", "fw.yaml"}, &out); code != 0 {
		t.Fatalf("exit %d", code)
	}
	expected := []string{"halcorn rehost", "-config", "fw.yaml"}
	if !reflect.DeepEqual(ran, expected) {
		t.Fatalf("args = %q, expected %q", ran, expected)
	}
}

func TestDispatchPrefix(t *testing.T) {
	var ran []string
	l := testLauncher(&ran)
	var out bytes.Buffer
	l.Dispatch([]string{"halcorn", "hal"}, &out)
	if len(ran) != 1 || ran[0] != "halcorn haltrace" {
		t.Fatalf("prefix ran %q", ran)
	}
	// "s" matches both stats and symtool
	ran = nil
	if code := l.Dispatch([]string{"halcorn", "s"}, &out); code != 1 || len(ran) != 0 {
		t.Fatalf("ambiguous prefix ran %q (exit %d)", ran, code)
	}
}

func TestDispatchUsage(t *testing.T) {
	var ran []string
	l := testLauncher(&ran)
	var out bytes.Buffer
	if code := l.Dispatch([]string{"halcorn"}, &out); code != 1 {
		t.Fatalf("no command: exit %d", code)
	}
	usage := out.String()
	if strings.Index(usage, "haltrace") > strings.Index(usage, "symtool") {
		t.Fatalf("commands not sorted:\n%s", usage)
	}
	out.Reset()
	if code := l.Dispatch([]string{"halcorn", "bochs"}, &out); code != 1 {
		t.Fatalf("unknown command: exit %d", code)
	}
	if !strings.Contains(out.String(), `unknown command "bochs"`) {
		t.Fatalf("output:\n%s", out.String())
	}
	out.Reset()
	if code := l.Dispatch([]string{"halcorn", "help"}, &out); code != 0 || !strings.Contains(out.String(), "rehost desc") {
		t.Fatalf("help: exit %d\n%s", code, out.String())
	}
}
