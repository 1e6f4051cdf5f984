package shell

import (
	"github.com/pkg/errors"
)

var SendCmd = cmd(&Command{
	Name: "send",
	Desc: "Send a frame: send <id> <b0> ... <b7>",
	Run: func(c *Context, id uint64, data ...uint64) error {
		frame := make([]byte, len(data))
		for i, b := range data {
			if b > 0xff {
				return errors.Errorf("byte %d out of range: %#x", i, b)
			}
			frame[i] = byte(b)
		}
		return c.CAN.Send(id, frame)
	},
})

var RecvCmd = cmd(&Command{
	Name: "recv",
	Desc: "Show frames received from the firmware: recv [id]",
	Run: func(c *Context, ids ...uint64) error {
		if len(ids) == 0 {
			ids = c.CAN.IDs()
		}
		for _, id := range ids {
			for _, data := range c.CAN.Received(id) {
				c.Printf("%#x: % x\n", id, data)
			}
		}
		return nil
	},
})

var ClearCmd = cmd(&Command{
	Name: "clearrx",
	Desc: "Drop received frames: clearrx [id]",
	Run: func(c *Context, ids ...uint64) error {
		c.CAN.Clear(ids...)
		return nil
	},
})

var BreakCmd = cmd(&Command{
	Name: "amp_sendbreak",
	Desc: "Send the brake-pedal frame to the AMP firmware.",
	Run: func(c *Context) error {
		return c.CAN.SendBreak()
	},
})
