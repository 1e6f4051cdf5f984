// Package shell is the interactive console of the CAN device.
package shell

import (
	"fmt"
	"io"
	"reflect"
	"sort"
	"strconv"

	"github.com/lunixbochs/argjoy"
	"github.com/mattn/go-shellwords"
	"github.com/pkg/errors"

	"github.com/halcorn/halcorn/go/device"
)

type Command struct {
	Name string
	Desc string
	Run  interface{}
}

var Commands = make(map[string]*Command)

func cmd(c *Command) *Command {
	fn := reflect.ValueOf(c.Run)
	if !fn.IsValid() || fn.Kind() != reflect.Func {
		panic(fmt.Sprintf("Command.Run must be a func: got (%T) %#v\n", c.Run, c.Run))
	}
	Commands[c.Name] = c
	return c
}

// ErrExit is returned by commands that end the session.
var ErrExit = errors.New("exit")

type Context struct {
	io.Writer
	CAN *device.CAN
}

func (c *Context) Printf(format string, a ...interface{}) (n int, err error) {
	return fmt.Fprintf(c, format, a...)
}

// numbers on the command line are hex with 0x, otherwise decimal
func strCodec(arg interface{}, vals []interface{}) error {
	s, ok := vals[0].(string)
	if !ok {
		return argjoy.NoMatch
	}
	switch v := arg.(type) {
	case *uint64:
		n, err := strconv.ParseUint(s, 0, 64)
		*v = n
		return err
	case *int:
		n, err := strconv.ParseInt(s, 0, 64)
		*v = int(n)
		return err
	}
	return argjoy.NoMatch
}

var aj = argjoy.NewArgjoy(strCodec)

// Run parses and executes one line. Command errors are printed; only
// ErrExit is returned.
func Run(c *Context, line string) error {
	args, err := shellwords.Parse(line)
	if err != nil {
		c.Printf("parse error: %v\n", err)
		return nil
	}
	if len(args) == 0 {
		return nil
	}
	name := args[0]
	cmd, ok := Commands[name]
	if !ok {
		c.Printf("command not found: %s (try help)\n", name)
		return nil
	}
	out, err := aj.Call(cmd.Run, c, args[1:])
	if err != nil {
		c.Printf("error: %v\n", err)
		return nil
	}
	if len(out) > 0 {
		if err, ok := out[0].(error); ok {
			if err == ErrExit {
				return err
			}
			c.Printf("error: %v\n", err)
		}
	}
	return nil
}

var HelpCmd = cmd(&Command{
	Name: "help",
	Desc: "List commands.",
	Run: func(c *Context) error {
		names := make([]string, 0, len(Commands))
		for name := range Commands {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			c.Printf("  %-14s %s\n", name, Commands[name].Desc)
		}
		return nil
	},
})

var ExitCmd = cmd(&Command{
	Name: "exit",
	Desc: "Exit the virtual CAN device.",
	Run: func(c *Context) error {
		return ErrExit
	},
})
