package haltrace

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/ianlancetaylor/demangle"
	"github.com/pkg/errors"

	"github.com/halcorn/halcorn/go/cmd"
	"github.com/halcorn/halcorn/go/config"
)

// Trace rewrites QEMU exec trace lines ("0x<pc>: ...") as "0x<pc> - <symbol>".
// Other lines are skipped. With demangled set, C++ symbols are printed in
// source form.
func Trace(in io.Reader, out io.Writer, a *config.AddressFile, demangled bool) error {
	s := bufio.NewScanner(in)
	w := bufio.NewWriter(out)
	for s.Scan() {
		line := s.Text()
		if !strings.HasPrefix(line, "0x") {
			continue
		}
		pcstr := line
		if i := strings.IndexByte(line, ':'); i >= 0 {
			pcstr = line[:i]
		}
		pc, err := strconv.ParseUint(strings.TrimSpace(pcstr[2:]), 16, 64)
		if err != nil {
			continue
		}
		name := a.Symbol(pc)
		if demangled {
			name = demangle.Filter(name)
		}
		fmt.Fprintf(w, "0x%08x - %s\n", pc, name)
	}
	if err := s.Err(); err != nil {
		return errors.Wrap(err, "read trace")
	}
	return w.Flush()
}

func Main(args []string) {
	fs := flag.NewFlagSet(args[0], flag.ExitOnError)
	addrs := fs.String("a", "", "address file")
	outfile := fs.String("o", "", "output file (default stdout)")
	mangled := fs.Bool("mangled", false, "print C++ symbols as they appear in the address file")
	fs.Usage = cmd.Usage(fs, "-a <addrs.yaml> [-o <file>] < trace", nil,
		"-a bins/uart/addrs.yaml -o trace.txt < qemu_asm.log")
	fs.Parse(args[1:])
	if *addrs == "" {
		fs.Usage()
		os.Exit(1)
	}
	a, err := config.LoadAddressFile(*addrs)
	if err != nil {
		cmd.Fatal(err)
	}
	var out io.Writer = os.Stdout
	if *outfile != "" {
		f, err := os.Create(*outfile)
		if err != nil {
			cmd.Fatal(err)
		}
		defer f.Close()
		out = io.MultiWriter(os.Stdout, f)
	}
	fmt.Fprintf(os.Stderr, "reading trace from stdin, symbols from %s\n", *addrs)
	if err := Trace(os.Stdin, out, a, !*mangled); err != nil {
		cmd.Fatal(err)
	}
}

func init() {
	cmd.Register("haltrace", "annotate a QEMU exec trace with symbols", Main)
}
