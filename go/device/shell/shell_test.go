package shell

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/halcorn/halcorn/go/bus"
	"github.com/halcorn/halcorn/go/device"
	"github.com/halcorn/halcorn/go/peripherals"
)

func setup(t *testing.T) (*Context, *bytes.Buffer, *peripherals.CanBus) {
	a, b := bus.NewLoopback()
	emu := bus.New(a, nil)
	model := peripherals.NewCanBus(emu)
	if err := emu.Registry.Add(model); err != nil {
		t.Fatal(err)
	}
	conn := device.NewConn(b)
	can, err := device.NewCAN(conn)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := emu.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := conn.Start(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		conn.Close()
		emu.Close()
	})
	var out bytes.Buffer
	return &Context{Writer: &out, CAN: can}, &out, model
}

func TestSend(t *testing.T) {
	c, out, model := setup(t)
	if err := Run(c, "send 0x42 1 2 3 4 5 6 7 0xff"); err != nil {
		t.Fatal(err)
	}
	if out.Len() != 0 {
		t.Fatalf("unexpected output: %s", out)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	f, err := model.Pop(ctx, 0, true)
	if err != nil {
		t.Fatal(err)
	}
	if f.ID != 0x42 || !bytes.Equal(f.Data, []byte{1, 2, 3, 4, 5, 6, 7, 0xff}) {
		t.Fatalf("firmware got %+v", f)
	}
}

func TestSendErrors(t *testing.T) {
	c, out, _ := setup(t)
	Run(c, "send 0x42 1 2")
	if !strings.Contains(out.String(), "error") {
		t.Fatalf("short frame not reported: %q", out)
	}
	out.Reset()
	Run(c, "send 1 1 2 3 4 5 6 7 256")
	if !strings.Contains(out.String(), "out of range") {
		t.Fatalf("bad byte not reported: %q", out)
	}
}

func TestRecv(t *testing.T) {
	c, out, model := setup(t)
	if err := model.Write(peripherals.CanFrame{ID: 7, Data: []byte{0xaa, 0xbb}}); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for len(c.CAN.IDs()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("frame never arrived")
		}
		time.Sleep(5 * time.Millisecond)
	}
	Run(c, "recv")
	if got := out.String(); got != "0x7: aa bb\n" {
		t.Fatalf("recv printed %q", got)
	}
	Run(c, "clearrx 7")
	out.Reset()
	Run(c, "recv 7")
	if out.Len() != 0 {
		t.Fatalf("clearrx left %q", out)
	}
}

func TestMisc(t *testing.T) {
	c, out, _ := setup(t)
	Run(c, "nope")
	if !strings.Contains(out.String(), "command not found") {
		t.Fatalf("got %q", out)
	}
	out.Reset()
	Run(c, "help")
	for _, name := range []string{"send", "recv", "clearrx", "amp_sendbreak", "exit"} {
		if !strings.Contains(out.String(), name) {
			t.Fatalf("help missing %s", name)
		}
	}
	if err := Run(c, "exit"); err != ErrExit {
		t.Fatalf("exit returned %v", err)
	}
	if err := Run(c, "   "); err != nil {
		t.Fatal(err)
	}
}
