package cmd

import (
	"flag"
	"fmt"
	"os"
	"runtime/pprof"
	"strings"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/pkg/errors"

	"github.com/halcorn/halcorn/go/models"
)

// StrSlice is a repeatable string flag.
type StrSlice []string

func (s *StrSlice) String() string {
	return fmt.Sprintf("%v", *s)
}

func (s *StrSlice) Set(value string) error {
	*s = append(*s, value)
	return nil
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// PrintError prints an error, and a stacktrace if available.
func PrintError(err error) {
	fmt.Fprintf(os.Stderr, "%s\n", strings.Repeat("-", 40))
	fmt.Fprintf(os.Stderr, "Error: %s\n", err)
	var st stackTracer
	if !errors.As(err, &st) {
		return
	}
	// parse full path and method name for each stack frame
	var frames [][]string
	for _, f := range st.StackTrace() {
		fullpath := ""
		fileline := fmt.Sprintf("%s:%d", f, f)
		method := fmt.Sprintf("%n", f)

		frame := fmt.Sprintf("%+s", f)
		tmp := strings.SplitN(frame, "\n", 3)
		if len(tmp) == 2 {
			pathsplit := strings.Split(tmp[0], "/")
			method = pathsplit[len(pathsplit)-1]
			fullpath = strings.TrimSpace(tmp[1])
		}
		frames = append(frames, []string{fullpath, fileline, method})
		if method == "main.main" {
			break
		}
	}
	widths := make([]int, 2)
	for _, f := range frames {
		for i := 0; i < 2; i++ {
			if len(f[i]) > widths[i] {
				widths[i] = len(f[i])
			}
		}
	}
	for _, f := range frames {
		for i := 0; i < 2; i++ {
			if widths[i] > 0 {
				pad := strings.Repeat(" ", widths[i]-len(f[i]))
				fmt.Fprintf(os.Stderr, "%s%s | ", f[i], pad)
			}
		}
		fmt.Fprintf(os.Stderr, "%s()\n", f[2])
	}
}

// Fatal prints err and exits with status 1.
func Fatal(err error) {
	PrintError(err)
	os.Exit(1)
}

// SetupLogging installs the terminal log handler.
func SetupLogging(verbose bool) {
	log.SetHandler(cli.New(os.Stderr))
	if verbose {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}
}

// Usage builds a flag.FlagSet usage function. Flags named in groups are
// listed under their own heading.
func Usage(fs *flag.FlagSet, synopsis string, groups map[string][]string, examples ...string) func() {
	return func() {
		fmt.Fprintf(os.Stderr, "Usage: %s %s\n\nOptions:\n", fs.Name(), synopsis)
		grouped := make(map[string][]*flag.Flag)
		var flags []*flag.Flag
		fs.VisitAll(func(f *flag.Flag) {
			for title, names := range groups {
				for _, name := range names {
					if name == f.Name {
						grouped[title] = append(grouped[title], f)
						return
					}
				}
			}
			flags = append(flags, f)
		})
		models.PrintFlags(os.Stderr, flags)
		for title, flags := range grouped {
			fmt.Fprintf(os.Stderr, "\n%s:\n", title)
			models.PrintFlags(os.Stderr, flags)
		}
		if len(examples) > 0 {
			fmt.Fprintf(os.Stderr, "\nExample:\n")
			for _, e := range examples {
				fmt.Fprintf(os.Stderr, "  %s %s\n", fs.Name(), e)
			}
		}
	}
}

// Profiler holds the -cpuprofile and -memprofile flags.
type Profiler struct {
	cpu, mem *string
}

func AddProfileFlags(fs *flag.FlagSet) *Profiler {
	return &Profiler{
		cpu: fs.String("cpuprofile", "", "write cpu profile to <file>"),
		mem: fs.String("memprofile", "", "write mem profile to <file>"),
	}
}

func (p *Profiler) Start() error {
	if *p.cpu == "" {
		return nil
	}
	f, err := os.Create(*p.cpu)
	if err != nil {
		return errors.WithStack(err)
	}
	return pprof.StartCPUProfile(f)
}

func (p *Profiler) Stop() {
	if *p.cpu != "" {
		pprof.StopCPUProfile()
	}
	if *p.mem != "" {
		f, err := os.Create(*p.mem)
		if err != nil {
			fmt.Fprintf(os.Stderr, "could not write heap profile: %s\n", err)
			return
		}
		pprof.WriteHeapProfile(f)
		f.Close()
	}
}
