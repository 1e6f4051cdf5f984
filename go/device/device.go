// Package device implements the external ends of peripheral models: the
// processes a user runs next to the emulator to watch and drive its I/O.
package device

import (
	"context"

	"github.com/pkg/errors"

	"github.com/halcorn/halcorn/go/bus"
)

// Conn is a device's side of the peripheral bus. Topics are the emulator's:
// devices handle what models publish and send what models consume.
type Conn struct {
	*bus.Bus
}

func NewConn(t bus.Transport) *Conn {
	return &Conn{bus.New(t, nil)}
}

// Dial connects to an emulator listening on emuRx/emuTx at host.
func Dial(host string, emuRx, emuTx int) (*Conn, error) {
	t, err := bus.DialZMQ(host, emuTx, emuRx)
	if err != nil {
		return nil, err
	}
	return NewConn(t), nil
}

// Handle binds a callback to an emulator topic. Call before Start.
func (c *Conn) Handle(model, event string, fn bus.RxFunc) error {
	return errors.Wrap(c.Registry.Handle(bus.MakeTopic(model, event), fn), "device")
}

func (c *Conn) Start(ctx context.Context) error {
	return c.Bus.Start(ctx)
}
