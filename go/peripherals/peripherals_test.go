package peripherals

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/halcorn/halcorn/go/bus"
	"github.com/halcorn/halcorn/go/stats"
)

type sent struct {
	topic   string
	payload bus.Payload
}

type fakePub struct {
	mu   sync.Mutex
	msgs []sent
}

func (f *fakePub) Tx(model, event string, p bus.Payload) error {
	f.mu.Lock()
	f.msgs = append(f.msgs, sent{bus.MakeTopic(model, event), p})
	f.mu.Unlock()
	return nil
}

func (f *fakePub) last(t *testing.T) sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.msgs) == 0 {
		t.Fatal("nothing published")
	}
	return f.msgs[len(f.msgs)-1]
}

type fakeIRQ struct {
	mu   sync.Mutex
	irqs []int
}

func (f *fakeIRQ) TriggerInterrupt(n int) error {
	f.mu.Lock()
	f.irqs = append(f.irqs, n)
	f.mu.Unlock()
	return nil
}

func (f *fakeIRQ) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.irqs)
}

func TestSerial(t *testing.T) {
	pub := &fakePub{}
	s := NewSerial("", pub)
	if err := s.Write([]byte("hi")); err != nil {
		t.Fatal(err)
	}
	m := pub.last(t)
	if m.topic != "Peripheral.RS232Publisher.write" || string(m.payload["data"].([]byte)) != "hi" {
		t.Fatalf("bad publish: %+v", m)
	}
	if err := s.Rx()["rx_data"](bus.Payload{"data": "abc"}); err != nil {
		t.Fatal(err)
	}
	got, err := s.Read(context.Background(), 2, true)
	if err != nil || string(got) != "ab" {
		t.Fatalf("Read = %q, %v", got, err)
	}
	got, _ = s.Read(context.Background(), 5, false)
	if string(got) != "c" {
		t.Fatalf("non-blocking read = %q", got)
	}
	s.SetReadTimeout(10 * time.Millisecond)
	if _, err := s.Read(context.Background(), 1, true); err != bus.ErrTimeout {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestSerialCloseAborts(t *testing.T) {
	s := NewSerial("", &fakePub{})
	done := make(chan error, 1)
	go func() {
		_, err := s.Read(context.Background(), 1, true)
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	s.Close()
	select {
	case err := <-done:
		if err != bus.ErrAborted {
			t.Fatalf("expected ErrAborted, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("reader not woken by Close")
	}
}

func TestCanBus(t *testing.T) {
	pub := &fakePub{}
	c := NewCanBus(pub)
	rx := c.Rx()["rx_data"]
	for i := 0; i < 3; i++ {
		err := rx(bus.Payload{"id": i, "extid": 0xFEF100 + i, "data": []interface{}{1, 2, 3, 4, 5, 6, 7, i}})
		if err != nil {
			t.Fatal(err)
		}
	}
	if err := rx(bus.Payload{"id": 9, "data": []byte{1}, "fifo": 1}); err != nil {
		t.Fatal(err)
	}
	if c.FillLevel(0) != 3 || c.FillLevel(1) != 1 {
		t.Fatalf("fill levels %d/%d", c.FillLevel(0), c.FillLevel(1))
	}
	for i := 0; i < 3; i++ {
		f, err := c.Pop(context.Background(), 0, false)
		if err != nil {
			t.Fatal(err)
		}
		if f.ID != uint32(i) || f.ExtID != uint32(0xFEF100+i) || f.Data[7] != byte(i) {
			t.Fatalf("frame %d out of order: %+v", i, f)
		}
	}
	if _, err := c.Pop(context.Background(), 0, false); err == nil {
		t.Fatal("Pop on empty fifo should fail")
	}
	if _, err := c.Pop(context.Background(), 5, false); err == nil {
		t.Fatal("Pop on missing fifo should fail")
	}
	if err := rx(bus.Payload{"data": []byte{1}}); err == nil {
		t.Fatal("frame without id accepted")
	}
	c.Write(CanFrame{ID: 0x100, Data: []byte{9}})
	if m := pub.last(t); m.topic != "Peripheral.CanBus.write" || m.payload["id"] != uint64(0x100) {
		t.Fatalf("bad publish: %+v", m)
	}
}

func TestCanBusBlockingPop(t *testing.T) {
	c := NewCanBus(&fakePub{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Pop(ctx, 0, true)
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if errors.Cause(err) != bus.ErrAborted {
			t.Fatalf("expected ErrAborted, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked Pop ignored cancellation")
	}
}

func TestAMP(t *testing.T) {
	a := NewAMP()
	if _, ok := a.Last(); ok {
		t.Fatal("empty AMP reported a value")
	}
	rx := a.Rx()["rx_data"]
	if err := rx(bus.Payload{"data": []interface{}{nil, int64(3), nil, int64(0x80), nil}}); err != nil {
		t.Fatal(err)
	}
	if v, ok := a.Last(); !ok || v != 0x80 {
		t.Fatalf("Last = %#x, %v", v, ok)
	}
	rx(bus.Payload{"data": []interface{}{nil, nil}})
	if _, ok := a.Last(); ok {
		t.Fatal("all-nil vector reported a value")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, seq, err := a.Wait(ctx, 0)
	if err != nil || seq != 2 {
		t.Fatalf("Wait = %d, %v", seq, err)
	}
}

func TestLED(t *testing.T) {
	pub := &fakePub{}
	l := NewLED(pub)
	l.Add("led_left_outer", 4, 0)
	if tx := l.Tx(); len(tx) != 1 || tx[0] != "led_left_outer.write" {
		t.Fatalf("Tx = %v", tx)
	}
	if err := l.Write("led_left_outer", 1, 1, 0x1); err != nil {
		t.Fatal(err)
	}
	m := pub.last(t)
	if m.topic != "Peripheral.MMIOLED.led_left_outer.write" || m.payload["value"] != uint64(0x100) {
		t.Fatalf("bad publish: %+v", m)
	}
	if v, _ := l.Read("led_left_outer", 1, 1); v != 1 {
		t.Fatalf("Read = %#x", v)
	}
	if err := l.Write("led_left_outer", 3, 2, 0); err == nil {
		t.Fatal("out of bounds write accepted")
	}
	if err := l.Write("nope", 0, 1, 0); err == nil {
		t.Fatal("unknown LED accepted")
	}
	l.Rx()["ext_change"](bus.Payload{"name": "led_left_outer", "value": 7})
	if v, _ := l.Value("led_left_outer"); v != 7 {
		t.Fatalf("ext_change not applied: %d", v)
	}
}

func TestRegion(t *testing.T) {
	pub := &fakePub{}
	st := stats.New(filepath.Join(t.TempDir(), "stats.yaml"))
	led := NewLED(pub)
	led.Add("gpio", 0x10, 0)
	led.Add("led_left_outer", 4, 0)
	r, err := NewRegion("gpio", 0x40000000, 0x3000, []Range{{Offset: 0x100, Size: 0x10, Action: ActionModel}}, led, st)
	if err != nil {
		t.Fatal(err)
	}
	for addr, name := range DefaultLEDs {
		r.LEDs[addr] = name
	}
	if v, err := r.Read(0x40000010, 4, 0x08000100); err != nil || v != 0 {
		t.Fatalf("logged read = %#x, %v", v, err)
	}
	if err := r.Write(0x40000034, 4, 1, 0x08000200); err != nil {
		t.Fatal(err)
	}
	if m := pub.last(t); m.topic != "Peripheral.MMIOLED.led_left_outer.write" {
		t.Fatalf("LED write not published: %+v", m)
	}
	if err := r.Write(0x40000104, 1, 0xaa, 0); err != nil {
		t.Fatal(err)
	}
	if v, _ := r.Read(0x40000104, 1, 0); v != 0xaa {
		t.Fatalf("model read = %#x", v)
	}
	if got := st.Set(stats.MMIOAddrs); len(got) != 2 {
		t.Fatalf("MMIO addresses = %v", got)
	}
	want := "0x40000034,0x08000200,w"
	found := false
	for _, s := range st.Set(stats.MMIOAddrPC) {
		found = found || s == want
	}
	if !found {
		t.Fatalf("missing %s in %v", want, st.Set(stats.MMIOAddrPC))
	}
	if _, err := NewRegion("x", 0, 0x10, []Range{{Offset: 8, Size: 16, Action: ActionLog}}, nil, nil); err == nil {
		t.Fatal("oversized range accepted")
	}
}

func TestTimer(t *testing.T) {
	irq := &fakeIRQ{}
	tm := NewTimer(irq)
	if err := tm.Start("SysTick", 15, time.Millisecond); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(time.Second)
	for irq.count() < 3 {
		if time.Now().After(deadline) {
			t.Fatal("timer never fired")
		}
		time.Sleep(time.Millisecond)
	}
	if !tm.Stop("SysTick") || tm.Running("SysTick") {
		t.Fatal("Stop did not stop the timer")
	}
	if tm.Stop("SysTick") {
		t.Fatal("second Stop reported a running timer")
	}
	tm.Start("a", 32, time.Hour)
	tm.Close()
	if tm.Running("a") {
		t.Fatal("Close left a timer running")
	}
	if err := NewTimer(nil).Start("x", 1, time.Second); err == nil {
		t.Fatal("timer without interrupter started")
	}
}
