package peripherals

import (
	"context"
	"time"

	"github.com/apex/log"
	"github.com/pkg/errors"

	"github.com/halcorn/halcorn/go/bus"
)

const (
	CanBusName = "CanBus"
	CanFifos   = 2
)

type CanFrame struct {
	ID    uint32
	ExtID uint32
	Data  []byte
}

func frameFromPayload(p bus.Payload) (CanFrame, error) {
	var f CanFrame
	id, err := p.Uint("id")
	if err != nil {
		return f, err
	}
	f.ID = uint32(id)
	if _, ok := p["extid"]; ok {
		ext, err := p.Uint("extid")
		if err != nil {
			return f, err
		}
		f.ExtID = uint32(ext)
	}
	if f.Data, err = p.Bytes("data"); err != nil {
		return f, err
	}
	return f, nil
}

// CanBus queues received frames per receive FIFO.
type CanBus struct {
	pub   bus.Publisher
	fifos [CanFifos]*bus.Queue[CanFrame]
	log   log.Interface
}

func NewCanBus(pub bus.Publisher) *CanBus {
	c := &CanBus{pub: pub, log: log.WithField("model", CanBusName)}
	for i := range c.fifos {
		c.fifos[i] = bus.NewQueue[CanFrame]()
	}
	return c
}

func (c *CanBus) Name() string { return CanBusName }
func (c *CanBus) Tx() []string { return []string{"write"} }
func (c *CanBus) Rx() map[string]bus.RxFunc {
	return map[string]bus.RxFunc{"rx_data": c.rxData}
}

func (c *CanBus) SetReadTimeout(d time.Duration) {
	for _, q := range c.fifos {
		q.Timeout = d
	}
}

func (c *CanBus) fifo(n int) (*bus.Queue[CanFrame], error) {
	if n < 0 || n >= CanFifos {
		return nil, errors.Errorf("no CAN rx fifo %d", n)
	}
	return c.fifos[n], nil
}

func (c *CanBus) Write(f CanFrame) error {
	c.log.WithField("id", f.ID).Debugf("write % x", f.Data)
	return c.pub.Tx(CanBusName, "write", bus.Payload{"id": uint64(f.ID), "data": f.Data})
}

// Pop takes the oldest frame from fifo. Without block an empty fifo is an
// error.
func (c *CanBus) Pop(ctx context.Context, fifo int, block bool) (CanFrame, error) {
	q, err := c.fifo(fifo)
	if err != nil {
		return CanFrame{}, err
	}
	frames, err := q.Read(ctx, 1, block)
	if err != nil {
		return CanFrame{}, err
	}
	if len(frames) == 0 {
		return CanFrame{}, errors.Errorf("CAN rx fifo %d empty", fifo)
	}
	return frames[0], nil
}

// FillLevel reports how many frames wait in fifo.
func (c *CanBus) FillLevel(fifo int) int {
	q, err := c.fifo(fifo)
	if err != nil {
		return 0
	}
	return q.Len()
}

func (c *CanBus) rxData(p bus.Payload) error {
	f, err := frameFromPayload(p)
	if err != nil {
		return err
	}
	fifo := 0
	if _, ok := p["fifo"]; ok {
		n, err := p.Uint("fifo")
		if err != nil {
			return err
		}
		fifo = int(n)
	}
	q, err := c.fifo(fifo)
	if err != nil {
		return err
	}
	c.log.WithField("id", f.ID).Debugf("rx % x", f.Data)
	q.Push(f)
	return nil
}

func (c *CanBus) Close() {
	for _, q := range c.fifos {
		q.Close()
	}
}
