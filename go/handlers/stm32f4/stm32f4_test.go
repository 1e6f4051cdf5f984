package stm32f4

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/halcorn/halcorn/go/arch/cortexm"
	"github.com/halcorn/halcorn/go/bus"
	"github.com/halcorn/halcorn/go/intercept"
	"github.com/halcorn/halcorn/go/models"
	"github.com/halcorn/halcorn/go/models/cpu"
	"github.com/halcorn/halcorn/go/peripherals"
)

type fakePub struct {
	mu     sync.Mutex
	topics []string
	last   bus.Payload
}

func (f *fakePub) Tx(model, event string, p bus.Payload) error {
	f.mu.Lock()
	f.topics = append(f.topics, bus.MakeTopic(model, event))
	f.last = p
	f.mu.Unlock()
	return nil
}

type fixture struct {
	env *intercept.Env
	pub *fakePub
	sim *cpu.Sim
}

func newFixture(t *testing.T) *fixture {
	pub := &fakePub{}
	sim := cpu.NewSim(cortexm.Profile)
	set := peripherals.NewSet(pub, sim)
	t.Cleanup(set.Close)
	return &fixture{
		env: &intercept.Env{
			Ctx:         context.Background(),
			Profile:     cortexm.Profile,
			Interrupter: sim,
			Peripherals: set,
			Callables:   map[string]models.Addr{periodElapsed: 0x08000600},
		},
		pub: pub,
		sim: sim,
	}
}

func (f *fixture) call(t *testing.T, h intercept.Handler, function string) models.Result {
	m, _, err := h.RegisterHandler(0x08001000, function, nil)
	if err != nil {
		t.Fatal(err)
	}
	res, err := m(f.sim, 0x08001000)
	if err != nil {
		t.Fatalf("%s: %v", function, err)
	}
	return res
}

func (f *fixture) args(vals ...uint64) {
	for i, v := range vals {
		cortexm.Profile.SetArg(f.sim, i, v)
	}
}

func TestCANRx(t *testing.T) {
	f := newFixture(t)
	h, err := NewCAN(f.env, nil)
	if err != nil {
		t.Fatal(err)
	}
	rx := f.env.Peripherals.CAN.Rx()["rx_data"]
	rx(bus.Payload{"id": 1, "extid": 0xFEF100, "data": []byte{0, 0, 0, 0x80, 0x0c, 0, 0, 0}})
	rx(bus.Payload{"id": 2, "data": []byte{1}})

	f.args(0x20000000, 0)
	if res := f.call(t, h, "HAL_CAN_GetRxFifoFillLevel"); res != models.Return(2) {
		t.Fatalf("fill level = %v", res)
	}
	f.args(0x20000000, 1)
	if res := f.call(t, h, "HAL_CAN_GetRxFifoFillLevel"); res != models.Passthrough() {
		t.Fatalf("fifo 1 = %v", res)
	}

	f.args(0x20000000, 0, 0x20000100, 0x20000200)
	if res := f.call(t, h, "HAL_CAN_GetRxMessage"); res != models.Return(0) {
		t.Fatalf("rx = %v", res)
	}
	data, _ := models.ReadBytes(f.sim, 0x20000200, 8)
	if data[3] != 0x80 || data[4] != 0x0c {
		t.Fatalf("data = % x", data)
	}
	if ide, _ := models.ReadUint(f.sim, 0x20000108, 4); ide != canIDExt {
		t.Fatalf("IDE = %d", ide)
	}
	if ext, _ := models.ReadUint(f.sim, 0x20000104, 4); ext != 0xFEF100 {
		t.Fatalf("ExtId = %#x", ext)
	}
	// the second frame is short
	m, _, _ := h.RegisterHandler(0, "HAL_CAN_GetRxMessage", nil)
	if _, err := m(f.sim, 0); err == nil {
		t.Fatal("short frame accepted")
	}
	if _, err := m(f.sim, 0); err == nil {
		t.Fatal("empty fifo accepted")
	}
}

func TestCANTx(t *testing.T) {
	f := newFixture(t)
	h, _ := NewCAN(f.env, nil)
	f.sim.WriteMemory(0x20000100, 4, 0x123, 0xFEF1, canIDExt, 0, 3)
	models.WriteBytes(f.sim, 0x20000200, []byte{1, 2, 3, 4})
	f.args(0x20000000, 0x20000100, 0x20000200, 0x20000300)
	if res := f.call(t, h, "HAL_CAN_AddTxMessage"); res != models.Passthrough() {
		t.Fatalf("tx = %v", res)
	}
	if len(f.pub.topics) != 1 || f.pub.topics[0] != "Peripheral.CanBus.write" {
		t.Fatalf("published %v", f.pub.topics)
	}
	if id := f.pub.last["id"]; id != uint64(0xFEF1) {
		t.Fatalf("id = %v", id)
	}
	if data := f.pub.last["data"].([]byte); len(data) != 3 {
		t.Fatalf("data = % x", data)
	}
	f.sim.WriteMemory(0x20000000, 4, 0x40006400)
	if res := f.call(t, h, "HAL_CAN_Init"); res != models.ReturnVoid() {
		t.Fatalf("init = %v", res)
	}
}

func TestTIM(t *testing.T) {
	f := newFixture(t)
	h, err := NewTIM(f.env, models.Args{"tick": "1ms", "isrs": map[string]interface{}{"0x40000000": 28}})
	if err != nil {
		t.Fatal(err)
	}
	timer := f.env.Peripherals.Timer
	f.sim.WriteMemory(0x20000000, 4, 0x40000000)
	f.args(0x20000000)
	if res := f.call(t, h, "HAL_TIM_Base_Start_IT"); res != models.ReturnVoid() {
		t.Fatalf("start = %v", res)
	}
	if !timer.Running("0x40000000") {
		t.Fatal("timer not started")
	}
	deadline := time.Now().Add(time.Second)
	for len(f.sim.Interrupts()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no interrupt raised")
		}
		time.Sleep(time.Millisecond)
	}
	if irq := f.sim.Interrupts()[0]; irq != 28 {
		t.Fatalf("irq = %d", irq)
	}
	if res := f.call(t, h, "HAL_TIM_Base_Stop_IT"); res != models.Return(0) {
		t.Fatalf("stop = %v", res)
	}
	if timer.Running("0x40000000") {
		t.Fatal("timer still running")
	}

	f.sim.WriteRegister("lr", 0x08000123)
	if res := f.call(t, h, "HAL_TIM_IRQHandler"); res != models.Passthrough() {
		t.Fatalf("isr = %v", res)
	}
	if pc, _ := f.sim.ReadRegister("pc"); pc != 0x08000600 {
		t.Fatalf("pc = %#x", pc)
	}
	if lr, _ := f.sim.ReadRegister("lr"); lr != 0x08000123 {
		t.Fatal("isr redirect touched lr")
	}

	if res := f.call(t, h, "HAL_SYSTICK_Config"); res != models.Return(0) || !timer.Running("SysTick") {
		t.Fatalf("systick = %v", res)
	}
	if res := f.call(t, h, "HAL_Delay"); res != models.Return(0) {
		t.Fatalf("delay = %v", res)
	}
}

func TestTIMMissingCallable(t *testing.T) {
	f := newFixture(t)
	f.env.Callables = nil
	h, _ := NewTIM(f.env, nil)
	m, _, _ := h.RegisterHandler(0, "HAL_TIM_IRQHandler", nil)
	if _, err := m(f.sim, 0); err == nil {
		t.Fatal("redirect without callable succeeded")
	}
}

func TestAMP(t *testing.T) {
	f := newFixture(t)
	h, _ := NewAMP(f.env, nil)
	f.args(0, 0x20000010)
	f.sim.WriteMemory(0x20000010, 1, 0x55)
	if res := f.call(t, h, "_Z16rx_brake_routinePhP6Bumper"); res != models.Passthrough() {
		t.Fatalf("rx = %v", res)
	}
	if v, _ := models.ReadUint(f.sim, 0x20000010, 1); v != 0x55 {
		t.Fatal("bumper patched without data")
	}
	f.env.Peripherals.AMP.Rx()["rx_data"](bus.Payload{"data": []interface{}{nil, int64(0x80), nil}})
	f.call(t, h, "_Z16rx_brake_routinePhP6Bumper")
	if v, _ := models.ReadUint(f.sim, 0x20000010, 1); v != 0x80 {
		t.Fatalf("bumper = %#x", v)
	}
}

func TestUART(t *testing.T) {
	f := newFixture(t)
	h, _ := NewUART(f.env, nil)
	models.WriteBytes(f.sim, 0x20000100, []byte("hello"))
	f.args(0x20000000, 0x20000100, 5)
	if res := f.call(t, h, "HAL_UART_Transmit"); res != models.Return(halOK) {
		t.Fatalf("tx = %v", res)
	}
	if string(f.pub.last["data"].([]byte)) != "hello" {
		t.Fatalf("published %v", f.pub.last)
	}
	f.env.Peripherals.Serial.Rx()["rx_data"](bus.Payload{"data": "abc"})
	f.args(0x20000000, 0x20000200, 3)
	if res := f.call(t, h, "HAL_UART_Receive"); res != models.Return(halOK) {
		t.Fatalf("rx = %v", res)
	}
	if s, _ := models.ReadCString(f.sim, 0x20000200, 3); s != "abc" {
		t.Fatalf("received %q", s)
	}
}

func TestGPIO(t *testing.T) {
	f := newFixture(t)
	h, err := NewGPIO(f.env, models.Args{"pins": map[string]interface{}{
		"led_green": map[string]interface{}{"port": 0x40020c00, "pin": 0x1000},
	}})
	if err != nil {
		t.Fatal(err)
	}
	f.args(0x40020c00, 0x1000, 1)
	f.call(t, h, "HAL_GPIO_WritePin")
	if f.pub.topics[0] != "Peripheral.MMIOLED.led_green.write" {
		t.Fatalf("published %v", f.pub.topics)
	}
	if res := f.call(t, h, "HAL_GPIO_ReadPin"); res != models.Return(1) {
		t.Fatalf("read = %v", res)
	}
	f.call(t, h, "HAL_GPIO_TogglePin")
	if res := f.call(t, h, "HAL_GPIO_ReadPin"); res != models.Return(0) {
		t.Fatalf("read after toggle = %v", res)
	}
	f.args(0x40020000, 0x1, 1)
	f.call(t, h, "HAL_GPIO_WritePin")
	if len(f.pub.topics) != 2 {
		t.Fatalf("unmapped pin published: %v", f.pub.topics)
	}
}

func TestUARTReadShutdown(t *testing.T) {
	sim := cpu.NewSim(cortexm.Profile)
	set := peripherals.NewSet(&fakePub{}, sim)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env := &intercept.Env{Ctx: ctx, Profile: cortexm.Profile, Interrupter: sim, Peripherals: set}
	reg := intercept.NewRegistry(env, sim)
	b, err := reg.Register(intercept.Descriptor{Function: "HAL_UART_Receive", Addr: 0x08001001, Class: "stm32f4.UART"})
	if err != nil {
		t.Fatal(err)
	}
	disp := intercept.NewDispatcher(reg, cortexm.Profile, nil)
	done := make(chan error, 1)
	go func() { done <- disp.Run(ctx, sim) }()

	cortexm.Profile.SetArg(sim, 0, 0x20000000)
	cortexm.Profile.SetArg(sim, 1, 0x20000200)
	cortexm.Profile.SetArg(sim, 2, 4)
	sim.Hit(uint64(b.Addr))
	time.Sleep(20 * time.Millisecond)
	cancel()
	set.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v on shutdown", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("blocked read was not woken")
	}
}
