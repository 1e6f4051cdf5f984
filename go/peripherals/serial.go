// Package peripherals holds the emulator-side peripheral models. Handlers
// call into them; they exchange events with external devices over the bus.
package peripherals

import (
	"context"
	"time"

	"github.com/apex/log"

	"github.com/halcorn/halcorn/go/bus"
)

const SerialName = "RS232Publisher"

// Serial is a UART byte stream. Firmware output is published as "write"
// and device input arrives on "rx_data".
type Serial struct {
	name string
	pub  bus.Publisher
	rx   *bus.Queue[byte]
	log  log.Interface
}

func NewSerial(name string, pub bus.Publisher) *Serial {
	if name == "" {
		name = SerialName
	}
	return &Serial{
		name: name,
		pub:  pub,
		rx:   bus.NewQueue[byte](),
		log:  log.WithField("model", name),
	}
}

func (s *Serial) Name() string { return s.name }
func (s *Serial) Tx() []string { return []string{"write"} }
func (s *Serial) Rx() map[string]bus.RxFunc {
	return map[string]bus.RxFunc{"rx_data": s.rxData}
}

// SetReadTimeout bounds blocking reads.
func (s *Serial) SetReadTimeout(d time.Duration) { s.rx.Timeout = d }

func (s *Serial) Write(data []byte) error {
	s.log.Debugf("write %q", data)
	return s.pub.Tx(s.name, "write", bus.Payload{"data": data})
}

// Read returns up to n received bytes, waiting for all n when block is set.
func (s *Serial) Read(ctx context.Context, n int, block bool) ([]byte, error) {
	return s.rx.Read(ctx, n, block)
}

func (s *Serial) Available() int { return s.rx.Len() }

func (s *Serial) rxData(p bus.Payload) error {
	data, err := p.Bytes("data")
	if err != nil {
		return err
	}
	s.rx.Push(data...)
	return nil
}

// Close wakes blocked readers.
func (s *Serial) Close() { s.rx.Close() }
