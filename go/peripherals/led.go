package peripherals

import (
	"sort"
	"sync"

	"github.com/apex/log"
	"github.com/pkg/errors"

	"github.com/halcorn/halcorn/go/bus"
)

const LEDName = "MMIOLED"

// DefaultLEDs are the register addresses of the four dashboard LEDs on the
// reference board.
var DefaultLEDs = map[uint64]string{
	0x40000034: "led_left_outer",
	0x40000038: "led_left_inner",
	0x40000040: "led_right_inner",
	0x40002034: "led_right_outer",
}

type ledState struct {
	value uint64
	size  int
}

// LED models memory-mapped LEDs. Each write publishes "<name>.write" with
// the new value; the device side may push a value back with "ext_change".
type LED struct {
	pub bus.Publisher
	log log.Interface

	mu   sync.Mutex
	leds map[string]*ledState
}

func NewLED(pub bus.Publisher) *LED {
	return &LED{pub: pub, log: log.WithField("model", LEDName), leds: make(map[string]*ledState)}
}

// Add declares an LED register of size bytes. Must be called before the
// model is added to a registry.
func (l *LED) Add(name string, size int, initial uint64) {
	if size <= 0 {
		size = 4
	}
	l.mu.Lock()
	l.leds[name] = &ledState{value: initial, size: size}
	l.mu.Unlock()
}

func (l *LED) Name() string { return LEDName }

func (l *LED) Tx() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.leds))
	for name := range l.leds {
		out = append(out, name+".write")
	}
	sort.Strings(out)
	return out
}

func (l *LED) Rx() map[string]bus.RxFunc {
	return map[string]bus.RxFunc{"ext_change": l.extChange}
}

func (l *LED) get(name string) (*ledState, error) {
	s, ok := l.leds[name]
	if !ok {
		return nil, errors.Errorf("no LED named %q", name)
	}
	return s, nil
}

// Write stores size bytes of value at offset within the LED register and
// publishes the result.
func (l *LED) Write(name string, offset, size int, value uint64) error {
	l.mu.Lock()
	s, err := l.get(name)
	if err != nil {
		l.mu.Unlock()
		return err
	}
	if offset < 0 || size <= 0 || offset+size > s.size {
		l.mu.Unlock()
		return errors.Errorf("LED %s: write of %d bytes at offset %d out of bounds", name, size, offset)
	}
	s.value = value << (8 * uint(offset))
	v := s.value
	l.mu.Unlock()
	l.log.WithField("led", name).Debugf("write %#x", v)
	return l.pub.Tx(LEDName, name+".write", bus.Payload{"name": name, "value": v})
}

func (l *LED) Read(name string, offset, size int) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, err := l.get(name)
	if err != nil {
		return 0, err
	}
	if offset < 0 || size <= 0 || offset+size > s.size {
		return 0, errors.Errorf("LED %s: read of %d bytes at offset %d out of bounds", name, size, offset)
	}
	v := s.value >> (8 * uint(offset))
	if size < 8 {
		v &= 1<<(8*uint(size)) - 1
	}
	return v, nil
}

func (l *LED) Value(name string) (uint64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.leds[name]
	if !ok {
		return 0, false
	}
	return s.value, true
}

func (l *LED) extChange(p bus.Payload) error {
	name, err := p.String("name")
	if err != nil {
		return err
	}
	val, err := p.Uint("value")
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	s, err := l.get(name)
	if err != nil {
		return err
	}
	s.value = val
	return nil
}
