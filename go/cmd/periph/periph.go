package periph

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mgutz/ansi"
	"github.com/pkg/errors"

	"github.com/halcorn/halcorn/go/cmd"
	"github.com/halcorn/halcorn/go/config"
	"github.com/halcorn/halcorn/go/device"
	"github.com/halcorn/halcorn/go/device/shell"
)

var devices = []string{"rs232", "can", "led"}

func Main(args []string) {
	fs := flag.NewFlagSet(args[0], flag.ExitOnError)
	host := fs.String("host", "localhost", "emulator host")
	rx := fs.Int("rx", config.DefaultRxPort, "emulator receive port")
	tx := fs.Int("tx", config.DefaultTxPort, "emulator transmit port")
	verbose := fs.Bool("v", false, "verbose output")
	var leds cmd.StrSlice
	fs.Var(&leds, "led", "LED to watch (repeatable, led device only)")
	fs.Usage = cmd.Usage(fs, "[options] <"+strings.Join(devices, "|")+">", nil,
		"rs232", "can -rx 5555 -tx 5556", "-led LD2 -led LD3 led")
	fs.Parse(args[1:])
	if fs.NArg() != 1 {
		fs.Usage()
		os.Exit(1)
	}
	cmd.SetupLogging(*verbose)

	conn, err := device.Dial(*host, *rx, *tx)
	if err != nil {
		cmd.Fatal(err)
	}
	defer conn.Close()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch kind := fs.Arg(0); kind {
	case "rs232":
		err = rs232(ctx, conn)
	case "can":
		err = can(ctx, conn)
	case "led":
		err = led(ctx, conn, leds)
	default:
		err = errors.Errorf("unknown device %q (want one of %s)", kind, strings.Join(devices, ", "))
	}
	if err != nil {
		cmd.Fatal(err)
	}
}

func rs232(ctx context.Context, conn *device.Conn) error {
	p, err := device.NewPrinter(conn, os.Stdout)
	if err != nil {
		return err
	}
	if err := conn.Start(ctx); err != nil {
		return err
	}
	go func() {
		if err := p.Forward(os.Stdin); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}()
	<-ctx.Done()
	return nil
}

func can(ctx context.Context, conn *device.Conn) error {
	d, err := device.NewCAN(conn)
	if err != nil {
		return err
	}
	rxColor := ansi.ColorFunc("yellow")
	d.OnReceive(func(id uint64, data []byte) {
		fmt.Fprint(os.Stderr, rxColor(fmt.Sprintf("\r<- %#x: % x\n", id, data)))
	})
	if err := conn.Start(ctx); err != nil {
		return err
	}
	return shell.Repl(d, os.Stdout)
}

func led(ctx context.Context, conn *device.Conn, names []string) error {
	if len(names) == 0 {
		return errors.New("no LEDs named (use -led <name>)")
	}
	l, err := device.NewLEDs(conn, os.Stdout, names...)
	if err != nil {
		return err
	}
	if err := conn.Start(ctx); err != nil {
		return err
	}
	l.Render(os.Stdout)
	<-ctx.Done()
	fmt.Println()
	return nil
}

func init() {
	cmd.Register("periph", "run an external peripheral device", Main)
}
