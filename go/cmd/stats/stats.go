package stats

import (
	"flag"
	"os"

	"github.com/mattn/go-isatty"

	"github.com/halcorn/halcorn/go/cmd"
	"github.com/halcorn/halcorn/go/stats"
)

func Main(args []string) {
	fs := flag.NewFlagSet(args[0], flag.ExitOnError)
	noColor := fs.Bool("nocolor", false, "disable color output")
	fs.Usage = cmd.Usage(fs, "<stats.yaml>", nil, "tmp/uart/stats.yaml")
	fs.Parse(args[1:])
	if fs.NArg() != 1 {
		fs.Usage()
		os.Exit(1)
	}
	r, err := stats.Load(fs.Arg(0))
	if err != nil {
		cmd.Fatal(err)
	}
	color := !*noColor && isatty.IsTerminal(os.Stdout.Fd())
	r.Print(os.Stdout, color)
}

func init() {
	cmd.Register("stats", "summarize a session's stats.yaml", Main)
}
