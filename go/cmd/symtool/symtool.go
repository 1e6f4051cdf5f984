package symtool

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ianlancetaylor/demangle"

	"github.com/halcorn/halcorn/go/cmd"
	"github.com/halcorn/halcorn/go/config"
	"github.com/halcorn/halcorn/go/loader"
)

// AddressFile converts the function symbols of an ELF build.
func AddressFile(info *loader.ElfInfo) *config.AddressFile {
	return &config.AddressFile{
		Architecture: info.Arch.String(),
		EntryPoint:   info.Entry,
		Symbols:      info.Functions,
	}
}

// List prints one "0x<addr>  <name>" line per function in address order.
// Address files keep the linker's names; only the listing is demangled.
func List(w io.Writer, info *loader.ElfInfo) {
	addrs := make([]uint64, 0, len(info.Functions))
	for addr := range info.Functions {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	for _, addr := range addrs {
		fmt.Fprintf(w, "0x%08x  %s\n", addr, demangle.Filter(info.Functions[addr]))
	}
}

func Main(args []string) {
	fs := flag.NewFlagSet(args[0], flag.ExitOnError)
	bin := fs.String("b", "", "ELF file to read symbols from")
	outfile := fs.String("o", "", "address file to write (default: <bin>_addrs.yaml)")
	list := fs.Bool("l", false, "list functions with demangled names instead of writing a file")
	fs.Usage = cmd.Usage(fs, "-b <elf> [-o <file>] [-l]", nil, "-b bins/uart/uart.elf", "-l -b bins/amp/amp.elf")
	fs.Parse(args[1:])
	if *bin == "" {
		fs.Usage()
		os.Exit(1)
	}
	if *outfile == "" {
		*outfile = strings.TrimSuffix(*bin, filepath.Ext(*bin)) + "_addrs.yaml"
	}
	f, err := os.Open(*bin)
	if err != nil {
		cmd.Fatal(err)
	}
	defer f.Close()
	info, err := loader.ReadElf(f)
	if err != nil {
		cmd.Fatal(err)
	}
	if *list {
		List(os.Stdout, info)
		return
	}
	if err := AddressFile(info).Save(*outfile); err != nil {
		cmd.Fatal(err)
	}
	fmt.Fprintf(os.Stderr, "%d functions written to %s\n", len(info.Functions), *outfile)
}

func init() {
	cmd.Register("symtool", "extract an address file from an ELF build", Main)
}
