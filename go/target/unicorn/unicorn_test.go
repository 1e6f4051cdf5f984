package unicorn

import (
	"context"
	"sync"
	"testing"
	"time"

	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"

	"github.com/halcorn/halcorn/go/arch/cortexm"
	"github.com/halcorn/halcorn/go/bus"
	"github.com/halcorn/halcorn/go/models"
	"github.com/halcorn/halcorn/go/peripherals"
)

const (
	flash = 0x1000
	mmio  = 0x40000000
)

type fakePub struct {
	mu   sync.Mutex
	msgs []bus.Payload
}

func (f *fakePub) Tx(model, event string, p bus.Payload) error {
	f.mu.Lock()
	f.msgs = append(f.msgs, p)
	f.mu.Unlock()
	return nil
}

func thumb(ins ...uint16) []byte {
	out := make([]byte, 0, len(ins)*2)
	for _, i := range ins {
		out = append(out, byte(i), byte(i>>8))
	}
	return out
}

func makeTarget(t *testing.T, code []byte) *Target {
	tg, err := New(cortexm.Profile)
	if err != nil {
		t.Fatal(err)
	}
	if err := tg.Map(0, 0x4000, uc.PROT_ALL, nil); err != nil {
		t.Fatal(err)
	}
	if err := models.WriteBytes(tg, flash, code); err != nil {
		t.Fatal(err)
	}
	if err := tg.Map(0x20000000, 0x1000, uc.PROT_READ|uc.PROT_WRITE, nil); err != nil {
		t.Fatal(err)
	}
	tg.WriteRegister("sp", 0x20001000)
	tg.WriteRegister("pc", flash)
	return tg
}

func wait(t *testing.T, tg *Target) *models.Stop {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := tg.Wait(ctx)
	if err != nil {
		t.Fatal(err)
	}
	return st
}

func TestBreakpoints(t *testing.T) {
	// movs r0, #5; nop; nop; b .
	tg := makeTarget(t, thumb(0x2005, 0xbf00, 0xbf00, 0xe7fe))
	defer tg.Close()
	first, err := tg.SetBreakpoint(flash + 2)
	if err != nil {
		t.Fatal(err)
	}
	second, err := tg.SetBreakpoint(flash + 6)
	if err != nil {
		t.Fatal(err)
	}
	if first == second {
		t.Fatalf("breakpoint ids collide: %d", first)
	}
	if _, err := tg.SetBreakpoint(flash + 2); err == nil {
		t.Fatal("duplicate breakpoint accepted")
	}

	if err := tg.Continue(); err != nil {
		t.Fatal(err)
	}
	st := wait(t, tg)
	if st.Breakpoint != first || st.Addr != flash+2 {
		t.Fatalf("first stop: %+v", st)
	}
	if r0, _ := tg.ReadRegister("r0"); r0 != 5 {
		t.Fatalf("r0 = %d", r0)
	}
	if pc, _ := tg.ReadRegister("pc"); pc != flash+2 {
		t.Fatalf("pc = %#x", pc)
	}

	// resuming on a breakpoint must step over it
	if err := tg.Continue(); err != nil {
		t.Fatal(err)
	}
	st = wait(t, tg)
	if st.Breakpoint != second || st.Addr != flash+6 {
		t.Fatalf("second stop: %+v", st)
	}
}

func TestForcedReturn(t *testing.T) {
	// movs r0, #1; blx r4; b .; nop
	// callee at 0x1008: movs r0, #2; bx lr
	code := thumb(0x2001, 0x47a0, 0xe7fe, 0xbf00, 0x2002, 0x4770)
	tg := makeTarget(t, code)
	defer tg.Close()
	tg.WriteRegister("r4", flash+8|1)
	callee, _ := tg.SetBreakpoint(flash + 8)
	after, _ := tg.SetBreakpoint(flash + 4)

	tg.Continue()
	st := wait(t, tg)
	if st.Breakpoint != callee {
		t.Fatalf("expected callee stop, got %+v", st)
	}
	if err := cortexm.Profile.ApplyReturn(tg, 0x42, true, false); err != nil {
		t.Fatal(err)
	}
	tg.Continue()
	st = wait(t, tg)
	if st.Breakpoint != after {
		t.Fatalf("expected return stop, got %+v", st)
	}
	if r0, _ := tg.ReadRegister("r0"); r0 != 0x42 {
		t.Fatalf("r0 = %#x, callee body ran", r0)
	}
}

func TestMMIO(t *testing.T) {
	// movs r0, #5; ldr r1, [r2]; str r0, [r2, #4]; b .
	tg := makeTarget(t, thumb(0x2005, 0x6811, 0x6050, 0xe7fe))
	defer tg.Close()
	pub := &fakePub{}
	led := peripherals.NewLED(pub)
	led.Add("leds", 4, 0x55)
	led.Add("status", 4, 0)
	region, err := peripherals.NewRegion("leds", mmio, 0x100,
		[]peripherals.Range{{Offset: 0, Size: 4, Action: peripherals.ActionModel}}, led, nil)
	if err != nil {
		t.Fatal(err)
	}
	region.LEDs[mmio+4] = "status"
	if err := tg.AttachMMIO(region); err != nil {
		t.Fatal(err)
	}
	tg.WriteRegister("r2", mmio)
	bp, _ := tg.SetBreakpoint(flash + 6)

	tg.Continue()
	if st := wait(t, tg); st.Breakpoint != bp {
		t.Fatalf("stop: %+v", st)
	}
	if r1, _ := tg.ReadRegister("r1"); r1 != 0x55 {
		t.Fatalf("mmio load = %#x", r1)
	}
	if v, _ := led.Value("status"); v != 5 {
		t.Fatalf("status led = %d", v)
	}
	pub.mu.Lock()
	n := len(pub.msgs)
	pub.mu.Unlock()
	if n != 1 {
		t.Fatalf("%d publishes", n)
	}
}

func TestInterrupt(t *testing.T) {
	code := make([]byte, 0x200)
	// thread: nop; b .
	copy(code, thumb(0xbf00, 0xe7fe))
	// handler at 0x1100: movs r3, #7; bx lr
	copy(code[0x100:], thumb(0x2307, 0x4770))
	tg := makeTarget(t, code)
	defer tg.Close()
	// SysTick vector
	if err := tg.WriteMemory(15*4, 4, 0x1101); err != nil {
		t.Fatal(err)
	}
	bp, _ := tg.SetBreakpoint(flash + 2)
	if err := tg.TriggerInterrupt(15); err != nil {
		t.Fatal(err)
	}
	tg.Continue()
	st := wait(t, tg)
	if st.Breakpoint != bp {
		t.Fatalf("stop: %+v", st)
	}
	if r3, _ := tg.ReadRegister("r3"); r3 != 7 {
		t.Fatalf("handler did not run, r3 = %d", r3)
	}
	if sp, _ := tg.ReadRegister("sp"); sp != 0x20001000 {
		t.Fatalf("sp not restored: %#x", sp)
	}
	if lr, _ := tg.ReadRegister("lr"); lr == excReturnLR {
		t.Fatal("lr not restored")
	}
}

func TestArch(t *testing.T) {
	p := &models.Profile{Arch: models.AVR8}
	if _, err := New(p); err == nil {
		t.Fatal("non CortexM profile accepted")
	}
}
