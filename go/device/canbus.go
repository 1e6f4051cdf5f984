package device

import (
	"sort"
	"sync"

	"github.com/apex/log"
	"github.com/pkg/errors"

	"github.com/halcorn/halcorn/go/bus"
	"github.com/halcorn/halcorn/go/peripherals"
)

const CanFrameSize = 8

// AMPBreakID is the extended id of the cruise control vehicle speed PGN
// (0xFEF1) the AMP firmware listens for.
const AMPBreakID = 0xFEF1 << 8

// AMPBreak is a vehicle speed frame with the brake switch set and the
// speed at its minimum.
var AMPBreak = []byte{0x00, 0x00, 0x00, 0x80, 0x0C, 0x00, 0x00, 0x00}

// CAN is a bus node on the emulated controller's CAN bus. Frames the
// firmware transmits are queued per id.
type CAN struct {
	conn *Conn
	log  log.Interface

	mu       sync.Mutex
	received map[uint64][][]byte
	notify   func(id uint64, data []byte)
}

func NewCAN(c *Conn) (*CAN, error) {
	d := &CAN{conn: c, log: log.WithField("device", "can"), received: make(map[uint64][][]byte)}
	if err := c.Handle(peripherals.CanBusName, "write", d.write); err != nil {
		return nil, err
	}
	return d, nil
}

// OnReceive sets a callback run for every frame the firmware sends.
func (d *CAN) OnReceive(fn func(id uint64, data []byte)) {
	d.mu.Lock()
	d.notify = fn
	d.mu.Unlock()
}

func (d *CAN) write(p bus.Payload) error {
	id, err := p.Uint("id")
	if err != nil {
		return err
	}
	data, err := p.Bytes("data")
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.received[id] = append(d.received[id], data)
	fn := d.notify
	d.mu.Unlock()
	if fn != nil {
		fn(id, data)
	}
	return nil
}

// Send delivers one frame to the firmware.
func (d *CAN) Send(id uint64, data []byte) error {
	if len(data) != CanFrameSize {
		return errors.Errorf("CAN frames carry %d bytes, got %d", CanFrameSize, len(data))
	}
	d.log.Debugf("send id %#x % x", id, data)
	return d.conn.Tx(peripherals.CanBusName, "rx_data", bus.Payload{"id": id, "data": data})
}

func (d *CAN) SendBreak() error {
	return d.Send(AMPBreakID, AMPBreak)
}

// Received returns the frames queued for id.
func (d *CAN) Received(id uint64) [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]byte(nil), d.received[id]...)
}

// IDs lists ids with queued frames.
func (d *CAN) IDs() []uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]uint64, 0, len(d.received))
	for id, q := range d.received {
		if len(q) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Clear drops queued frames for ids, or for every id when none are given.
func (d *CAN) Clear(ids ...uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(ids) == 0 {
		d.received = make(map[uint64][][]byte)
		return
	}
	for _, id := range ids {
		delete(d.received, id)
	}
}
