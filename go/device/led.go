package device

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/mgutz/ansi"

	"github.com/halcorn/halcorn/go/bus"
	"github.com/halcorn/halcorn/go/peripherals"
)

var (
	ledOn  = ansi.ColorFunc("green+b")
	ledOff = ansi.ColorFunc("black+h")
)

// LEDs shows the state of memory-mapped LEDs as the firmware writes them.
type LEDs struct {
	conn *Conn
	out  io.Writer

	mu     sync.Mutex
	names  []string
	state  map[string]uint64
	notify func(name string, value uint64)
}

func NewLEDs(c *Conn, out io.Writer, names ...string) (*LEDs, error) {
	l := &LEDs{conn: c, out: out, state: make(map[string]uint64)}
	l.names = append(l.names, names...)
	sort.Strings(l.names)
	for _, name := range l.names {
		if err := c.Handle(peripherals.LEDName, name+".write", l.write); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// OnChange sets a callback run after each LED update.
func (l *LEDs) OnChange(fn func(name string, value uint64)) {
	l.mu.Lock()
	l.notify = fn
	l.mu.Unlock()
}

func (l *LEDs) write(p bus.Payload) error {
	name, err := p.String("name")
	if err != nil {
		return err
	}
	val, err := p.Uint("value")
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.state[name] = val
	fn := l.notify
	l.mu.Unlock()
	if l.out != nil {
		l.Render(l.out)
	}
	if fn != nil {
		fn(name, val)
	}
	return nil
}

func (l *LEDs) Value(name string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state[name]
}

// Render prints one line with every LED.
func (l *LEDs) Render(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	line := "\r"
	for _, name := range l.names {
		dot := ledOff("o")
		if l.state[name] != 0 {
			dot = ledOn("*")
		}
		line += fmt.Sprintf("%s %s  ", dot, name)
	}
	fmt.Fprint(w, line)
}

// Set overrides an LED value on the emulator side.
func (l *LEDs) Set(name string, value uint64) error {
	return l.conn.Tx(peripherals.LEDName, "ext_change", bus.Payload{"name": name, "value": value})
}
