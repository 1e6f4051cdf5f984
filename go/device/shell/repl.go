package shell

import (
	"io"
	"os"
	"path/filepath"

	"github.com/chzyer/readline"
	"github.com/mgutz/ansi"
	"github.com/shibukawa/configdir"

	"github.com/halcorn/halcorn/go/device"
)

var prompt = ansi.Color("[CAN] ", "cyan+b")

// Repl reads commands from the terminal until exit or EOF.
func Repl(can *device.CAN, out io.Writer) error {
	var history string
	dirs := configdir.New("halcorn", "can")
	if cache := dirs.QueryCacheFolder(); cache != nil {
		if err := os.MkdirAll(cache.Path, 0755); err == nil {
			history = filepath.Join(cache.Path, "history")
		}
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     history,
		InterruptPrompt: "^C",
		Stdout:          out,
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	c := &Context{Writer: rl.Stdout(), CAN: can}
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		} else if err == io.EOF {
			return nil
		} else if err != nil {
			return err
		}
		if err := Run(c, line); err == ErrExit {
			return nil
		}
	}
}
