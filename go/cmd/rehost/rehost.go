package rehost

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/apex/log"
	"github.com/pkg/errors"

	"github.com/halcorn/halcorn/go/arch"
	"github.com/halcorn/halcorn/go/cmd"
	"github.com/halcorn/halcorn/go/config"
	"github.com/halcorn/halcorn/go/intercept"
	"github.com/halcorn/halcorn/go/models"
	"github.com/halcorn/halcorn/go/session"

	_ "github.com/halcorn/halcorn/go/handlers/avr"
	_ "github.com/halcorn/halcorn/go/handlers/stm32f4"
	_ "github.com/halcorn/halcorn/go/lua"
)

func Main(args []string) {
	fs := flag.NewFlagSet(args[0], flag.ExitOnError)
	confPath := fs.String("config", "", "project configuration (yaml)")
	addrs := fs.String("addrs", "", "address file overriding intercept addresses")
	name := fs.String("name", "", "session name (default: projectname from the config)")
	outdir := fs.String("o", "", "output directory (default: <config dir>/tmp/<name>)")
	verbose := fs.Bool("v", false, "verbose output")

	target := fs.String("target", session.TargetGdb, "emulator backend: gdb, unicorn or sim")
	gdbAddr := fs.String("gdb", "", "gdbstub address (default: config, $"+config.GdbEnv+", then "+session.DefaultGdbAddr+")")
	qmpAddr := fs.String("qmp", "", "QEMU monitor address for interrupt injection")

	rx := fs.Int("rx", 0, "peripheral bus receive port (default: config, then 5555)")
	tx := fs.Int("tx", 0, "peripheral bus transmit port (default: config, then 5556)")
	record := fs.String("record", "", "capture bus traffic to <file>")
	timeout := fs.Duration("timeout", 0, "bound blocking peripheral reads (0 waits forever)")
	statsFile := fs.String("stats", "", "statistics file (default: <output dir>/stats.yaml)")
	listClasses := fs.Bool("classes", false, "list handler classes and exit")
	prof := cmd.AddProfileFlags(fs)

	fs.Usage = cmd.Usage(fs, "-config <file> [options]", map[string][]string{
		"Target":         {"target", "gdb", "qmp"},
		"Peripheral Bus": {"rx", "tx", "record", "timeout"},
	}, "-config bins/uart/config.yaml -addrs bins/uart/addrs.yaml")
	fs.Parse(args[1:])
	if *listClasses {
		for _, name := range intercept.Classes() {
			fmt.Println(name)
		}
		return
	}
	if *confPath == "" {
		fs.Usage()
		os.Exit(1)
	}
	cmd.SetupLogging(*verbose)

	proj, err := config.Load(*confPath)
	if err != nil {
		cmd.Fatal(err)
	}
	if *addrs != "" {
		a, err := config.LoadAddressFile(*addrs)
		if err != nil {
			cmd.Fatal(err)
		}
		archID, _ := arch.Find(proj.Architecture)
		proj.Override(a, archID)
	}
	conf := &models.Config{
		Name:        proj.Name,
		Verbose:     *verbose,
		BaseDir:     proj.BaseDir,
		OutputDir:   *outdir,
		Target:      *target,
		GdbAddr:     *gdbAddr,
		QmpAddr:     *qmpAddr,
		RxPort:      proj.IPC.RxPort,
		TxPort:      proj.IPC.TxPort,
		BusRecord:   *record,
		ReadTimeout: *timeout,
		StatsFile:   *statsFile,
	}
	if *name != "" {
		conf.Name = *name
	}
	if *rx > 0 {
		conf.RxPort = *rx
	}
	if *tx > 0 {
		conf.TxPort = *tx
	}

	if err := prof.Start(); err != nil {
		cmd.Fatal(err)
	}
	err = run(conf, proj)
	prof.Stop()
	if err != nil {
		cmd.Fatal(err)
	}
}

func run(conf *models.Config, proj *config.Project) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := session.New(ctx, conf, proj)
	if err != nil {
		return errors.Wrap(err, "session setup")
	}
	err = s.Run()
	if cerr := s.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		log.Info("session finished")
	}
	return err
}

func init() {
	cmd.Register("rehost", "rehost firmware against an emulator", Main)
}
