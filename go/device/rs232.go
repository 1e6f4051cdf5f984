package device

import (
	"io"

	"github.com/halcorn/halcorn/go/bus"
	"github.com/halcorn/halcorn/go/peripherals"
)

// Printer echoes firmware UART output and can feed input back to it.
type Printer struct {
	conn *Conn
	out  io.Writer
	name string
}

func NewPrinter(c *Conn, out io.Writer) (*Printer, error) {
	p := &Printer{conn: c, out: out, name: peripherals.SerialName}
	if err := c.Handle(p.name, "write", p.write); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Printer) write(msg bus.Payload) error {
	data, err := msg.Bytes("data")
	if err != nil {
		return err
	}
	_, err = p.out.Write(data)
	return err
}

// Send queues data on the firmware's receive side.
func (p *Printer) Send(data []byte) error {
	return p.conn.Tx(p.name, "rx_data", bus.Payload{"data": data})
}

// Forward sends everything read from r until EOF or an error.
func (p *Printer) Forward(r io.Reader) error {
	buf := make([]byte, 256)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if err := p.Send(append([]byte(nil), buf[:n]...)); err != nil {
				return err
			}
		}
		if err == io.EOF {
			return nil
		} else if err != nil {
			return err
		}
	}
}
