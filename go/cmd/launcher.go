package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/lunixbochs/fvbommel-util/sortorder"
)

// Subcommand is one tool reachable through the halcorn binary.
type Subcommand struct {
	Name string
	Desc string
	Main func(args []string)
}

// Launcher picks a subcommand from the first argument.
type Launcher struct {
	cmds map[string]*Subcommand
}

func NewLauncher() *Launcher {
	return &Launcher{cmds: make(map[string]*Subcommand)}
}

var launcher = NewLauncher()

// Register adds a subcommand to the default launcher. Called from init.
func Register(name, desc string, main func(args []string)) {
	launcher.Add(&Subcommand{Name: name, Desc: desc, Main: main})
}

func (l *Launcher) Add(c *Subcommand) {
	if _, dup := l.cmds[c.Name]; dup {
		panic("duplicate command " + c.Name)
	}
	l.cmds[c.Name] = c
}

// Lookup finds a command by name or by an unambiguous prefix.
func (l *Launcher) Lookup(name string) (*Subcommand, bool) {
	if c, ok := l.cmds[name]; ok {
		return c, true
	}
	var found *Subcommand
	for n, c := range l.cmds {
		if strings.HasPrefix(n, name) {
			if found != nil {
				return nil, false
			}
			found = c
		}
	}
	return found, found != nil && name != ""
}

func (l *Launcher) Usage(w io.Writer, prog string) {
	names := make([]string, 0, len(l.cmds))
	pad := 0
	for name := range l.cmds {
		names = append(names, name)
		if len(name) > pad {
			pad = len(name)
		}
	}
	sort.Sort(sortorder.Natural(names))
	fmt.Fprintf(w, "Usage: %s <command> [options]\n\nCommands:\n", prog)
	for _, name := range names {
		fmt.Fprintf(w, "  %-*s  %s\n", pad, name, l.cmds[name].Desc)
	}
	fmt.Fprintf(w, "\nExample: %s rehost -config firmware.yaml -addrs firmware_addrs.yaml\n", prog)
}

// Dispatch runs the command named by args[1] and returns an exit status
// for the cases it handles itself.
func (l *Launcher) Dispatch(args []string, stderr io.Writer) int {
	if len(args) < 2 {
		l.Usage(stderr, args[0])
		return 1
	}
	switch args[1] {
	case "help", "-h", "-help", "--help":
		l.Usage(stderr, args[0])
		return 0
	}
	c, ok := l.Lookup(args[1])
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n\n", args[1])
		l.Usage(stderr, args[0])
		return 1
	}
	// flag sets report errors as "halcorn rehost: ..."
	c.Main(append([]string{args[0] + " " + c.Name}, args[2:]...))
	return 0
}

func Main() {
	os.Exit(launcher.Dispatch(os.Args, os.Stderr))
}
