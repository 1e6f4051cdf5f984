// Package unicorn runs CortexM firmware in-process on the Unicorn engine.
// Breakpoints are code hooks that stop the engine and surface a models.Stop.
package unicorn

import (
	"context"
	"fmt"
	"sync"

	"github.com/apex/log"
	"github.com/pkg/errors"
	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"
	"go.uber.org/atomic"

	"github.com/halcorn/halcorn/go/models"
	"github.com/halcorn/halcorn/go/models/cpu"
	"github.com/halcorn/halcorn/go/peripherals"
)

const (
	pageSize = 0x1000
	// EXC_RETURN values live in 0xfffffff0-0xffffffff
	excReturnBase = 0xfffffff0
	excReturnLR   = 0xfffffff9
	sigTrap       = 5
	sigSegv       = 11
)

var (
	ErrRunning = errors.New("target is running")
	ErrClosed  = errors.New("target closed")
)

var regMap = map[string]int{
	"r0": uc.ARM_REG_R0, "r1": uc.ARM_REG_R1, "r2": uc.ARM_REG_R2, "r3": uc.ARM_REG_R3,
	"r4": uc.ARM_REG_R4, "r5": uc.ARM_REG_R5, "r6": uc.ARM_REG_R6, "r7": uc.ARM_REG_R7,
	"r8": uc.ARM_REG_R8, "r9": uc.ARM_REG_R9, "r10": uc.ARM_REG_R10, "r11": uc.ARM_REG_R11,
	"r12":  uc.ARM_REG_R12,
	"sp":   uc.ARM_REG_SP,
	"lr":   uc.ARM_REG_LR,
	"pc":   uc.ARM_REG_PC,
	"xpsr": uc.ARM_REG_XPSR,
}

// exception frame pushed on entry, lowest address first
var frameRegs = []string{"r0", "r1", "r2", "r3", "r12", "lr", "pc", "xpsr"}

type stopResult struct {
	stop *models.Stop
	err  error
}

// Target implements models.Target and models.Interrupter. Register and
// memory access is only valid while the engine is stopped.
type Target struct {
	u       uc.Unicorn
	profile *models.Profile
	log     log.Interface
	nextID  *atomic.Int64

	mu      sync.Mutex
	running bool
	closed  bool
	bps     map[uint64]int
	skip    uint64
	hasSkip bool
	pending *models.Stop
	excRet  bool
	irqs    []int
	depth   int
	vtor    uint64

	stops chan stopResult
	done  chan struct{}
}

func New(p *models.Profile) (*Target, error) {
	if p.Arch != models.CortexM {
		return nil, errors.Wrapf(models.ErrUnknownArch, "unicorn target does not support %s", p.Arch)
	}
	u, err := uc.NewUnicorn(uc.ARCH_ARM, uc.MODE_THUMB|uc.MODE_MCLASS)
	if err != nil {
		return nil, errors.Wrap(err, "NewUnicorn() failed")
	}
	t := &Target{
		u:       u,
		profile: p,
		log:     log.WithField("target", "unicorn"),
		nextID:  atomic.NewInt64(0),
		bps:     make(map[uint64]int),
		stops:   make(chan stopResult, 1),
		done:    make(chan struct{}),
	}
	cb := func(_ uc.Unicorn, access int, addr uint64, size int, val int64) bool {
		return t.fetchUnmapped(addr)
	}
	if _, err := u.HookAdd(uc.HOOK_MEM_FETCH_UNMAPPED, cb, 1, 0); err != nil {
		u.Close()
		return nil, errors.Wrap(err, "hook exception return")
	}
	return t, nil
}

func align(addr, size uint64) (uint64, uint64) {
	start := addr &^ (pageSize - 1)
	end := (addr + size + pageSize - 1) &^ (pageSize - 1)
	return start, end - start
}

// Map maps size bytes at addr with unicorn protection flags prot and
// copies data to the start of the mapping.
func (t *Target) Map(addr, size uint64, prot int, data []byte) error {
	start, n := align(addr, size)
	if err := t.u.MemMapProt(start, n, prot); err != nil {
		return errors.Wrapf(err, "map %#x+%#x", start, n)
	}
	if len(data) > 0 {
		if uint64(len(data)) > size {
			data = data[:size]
		}
		if err := t.u.MemWrite(addr, data); err != nil {
			return errors.Wrapf(err, "load %d bytes at %#x", len(data), addr)
		}
	}
	return nil
}

// AttachMMIO routes loads and stores inside r to the region. The window is
// mapped if no memory map entry covers it.
func (t *Target) AttachMMIO(r *peripherals.Region) error {
	if _, err := t.u.MemRead(r.Base, 1); err != nil {
		if err := t.Map(r.Base, r.Size, uc.PROT_READ|uc.PROT_WRITE, nil); err != nil {
			return err
		}
	}
	cb := func(_ uc.Unicorn, access int, addr uint64, size int, val int64) {
		pc, _ := t.u.RegRead(uc.ARM_REG_PC)
		switch access {
		case uc.MEM_READ:
			v, err := r.Read(addr, size, pc)
			if err != nil {
				t.log.WithError(err).Warnf("mmio read at %#x", addr)
				return
			}
			buf, err := cpu.PackUint(t.profile.Order, size, nil, v)
			if err == nil {
				err = t.u.MemWrite(addr, buf)
			}
			if err != nil {
				t.log.WithError(err).Warnf("mmio read at %#x", addr)
			}
		case uc.MEM_WRITE:
			if err := r.Write(addr, size, uint64(val), pc); err != nil {
				t.log.WithError(err).Warnf("mmio write at %#x", addr)
			}
		}
	}
	_, err := t.u.HookAdd(uc.HOOK_MEM_READ|uc.HOOK_MEM_WRITE, cb, r.Base, r.Base+r.Size-1)
	return errors.Wrapf(err, "hook mmio region %s", r.Name)
}

func (t *Target) reg(name string) (int, error) {
	if _, ok := t.profile.Reg(name); !ok {
		return 0, errors.Wrap(models.ErrInvalidRegister, name)
	}
	enum, ok := regMap[name]
	if !ok {
		return 0, errors.Wrap(models.ErrInvalidRegister, name)
	}
	return enum, nil
}

func (t *Target) ReadRegister(name string) (uint64, error) {
	enum, err := t.reg(name)
	if err != nil {
		return 0, err
	}
	val, err := t.u.RegRead(enum)
	if err != nil {
		return 0, errors.Wrapf(err, "read %s", name)
	}
	if name == t.profile.PC {
		val &^= 1
	}
	return val, nil
}

func (t *Target) WriteRegister(name string, val uint64) error {
	enum, err := t.reg(name)
	if err != nil {
		return err
	}
	// M profile cores only execute Thumb code
	if name == t.profile.PC {
		val |= 1
	}
	return errors.Wrapf(t.u.RegWrite(enum, val), "write %s", name)
}

func (t *Target) ReadMemory(addr uint64, width, count int) ([]uint64, error) {
	mem, err := t.u.MemRead(addr, uint64(width*count))
	if err != nil {
		return nil, errors.Wrapf(err, "read %d bytes at %#x", width*count, addr)
	}
	out := make([]uint64, count)
	for i := range out {
		if out[i], err = cpu.UnpackUint(t.profile.Order, width, mem[i*width:]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (t *Target) WriteMemory(addr uint64, width int, vals ...uint64) error {
	buf := make([]byte, width*len(vals))
	for i, v := range vals {
		if _, err := cpu.PackUint(t.profile.Order, width, buf[i*width:], v); err != nil {
			return err
		}
	}
	return errors.Wrapf(t.u.MemWrite(addr, buf), "write %d bytes at %#x", len(buf), addr)
}

func (t *Target) SetBreakpoint(addr uint64) (int, error) {
	addr &^= 1
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return 0, ErrRunning
	}
	if _, ok := t.bps[addr]; ok {
		return 0, errors.Errorf("breakpoint already set at %#x", addr)
	}
	cb := func(_ uc.Unicorn, addr uint64, size uint32) { t.hit(addr) }
	if _, err := t.u.HookAdd(uc.HOOK_CODE, cb, addr, addr); err != nil {
		return 0, errors.Wrapf(err, "hook %#x", addr)
	}
	id := int(t.nextID.Inc())
	t.bps[addr] = id
	return id, nil
}

func (t *Target) hit(addr uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.hasSkip && t.skip == addr {
		t.hasSkip = false
		return
	}
	id, ok := t.bps[addr]
	if !ok {
		return
	}
	t.pending = &models.Stop{Addr: models.Addr(addr), Breakpoint: id, Signal: sigTrap}
	t.u.Stop()
}

// fetchUnmapped catches the branch to an EXC_RETURN value at the end of an
// interrupt handler.
func (t *Target) fetchUnmapped(addr uint64) bool {
	if addr&^0xf != excReturnBase {
		return false
	}
	t.mu.Lock()
	if t.depth > 0 {
		t.excRet = true
	}
	t.mu.Unlock()
	return false
}

// SetVectorTableBase sets where interrupt handlers are looked up.
func (t *Target) SetVectorTableBase(base uint64) error {
	t.mu.Lock()
	t.vtor = base
	t.mu.Unlock()
	return nil
}

// TriggerInterrupt queues exception num. It is taken the next time the
// engine runs outside another handler.
func (t *Target) TriggerInterrupt(num int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	t.irqs = append(t.irqs, num)
	if t.running && t.depth == 0 {
		t.u.Stop()
	}
	return nil
}

func (t *Target) pushException(num int) error {
	t.mu.Lock()
	vtor := t.vtor
	t.mu.Unlock()
	handler, err := models.ReadUint(t, vtor+uint64(num)*4, 4)
	if err != nil {
		return errors.Wrapf(err, "vector %d", num)
	}
	frame := make([]uint64, len(frameRegs))
	for i, name := range frameRegs {
		if frame[i], err = t.ReadRegister(name); err != nil {
			return err
		}
	}
	sp, err := t.ReadRegister("sp")
	if err != nil {
		return err
	}
	// keep the frame 8-byte aligned, noting the padding in xpsr bit 9
	if sp&4 != 0 {
		sp -= 4
		frame[7] |= 1 << 9
	}
	sp -= uint64(len(frame) * 4)
	if err := t.WriteMemory(sp, 4, frame...); err != nil {
		return err
	}
	// IPSR is left alone so the engine never sees handler mode and the
	// EXC_RETURN branch faults into fetchUnmapped
	for _, w := range []struct {
		name string
		val  uint64
	}{{"sp", sp}, {"lr", excReturnLR}, {"pc", handler}} {
		if err := t.WriteRegister(w.name, w.val); err != nil {
			return err
		}
	}
	t.log.Debugf("exception %d -> %#x", num, handler&^1)
	return nil
}

func (t *Target) popException() error {
	sp, err := t.ReadRegister("sp")
	if err != nil {
		return err
	}
	frame, err := t.ReadMemory(sp, 4, len(frameRegs))
	if err != nil {
		return err
	}
	sp += uint64(len(frame) * 4)
	if frame[7]&(1<<9) != 0 {
		sp += 4
		frame[7] &^= 1 << 9
	}
	for i, name := range frameRegs {
		if err := t.WriteRegister(name, frame[i]); err != nil {
			return err
		}
	}
	return t.WriteRegister("sp", sp)
}

// service handles exception return and entry between engine runs.
func (t *Target) service() error {
	t.mu.Lock()
	ret := t.excRet
	t.excRet = false
	if ret {
		t.depth--
	}
	var irq int
	take := t.depth == 0 && len(t.irqs) > 0
	if take {
		irq = t.irqs[0]
		t.irqs = t.irqs[1:]
		t.depth++
	}
	t.mu.Unlock()
	if ret {
		if err := t.popException(); err != nil {
			return errors.Wrap(err, "exception return")
		}
	}
	if take {
		if err := t.pushException(irq); err != nil {
			return errors.Wrap(err, "exception entry")
		}
	}
	return nil
}

func (t *Target) Continue() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	if t.running {
		t.mu.Unlock()
		return ErrRunning
	}
	pc, err := t.ReadRegister(t.profile.PC)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	_, t.hasSkip = t.bps[pc]
	t.skip = pc
	t.running = true
	t.mu.Unlock()
	go t.run()
	return nil
}

func (t *Target) run() {
	var res stopResult
	for {
		if res.err = t.service(); res.err != nil {
			break
		}
		pc, err := t.ReadRegister(t.profile.PC)
		if err != nil {
			res.err = err
			break
		}
		err = t.u.Start(pc|1, 0)

		t.mu.Lock()
		st := t.pending
		t.pending = nil
		again := t.excRet || (t.depth == 0 && len(t.irqs) > 0)
		closed := t.closed
		t.mu.Unlock()
		if closed {
			t.u.Close()
			return
		}
		if st != nil {
			// the engine can stop on the following instruction
			t.WriteRegister(t.profile.PC, uint64(st.Addr))
			res.stop = st
			break
		}
		if again {
			continue
		}
		addr, _ := t.ReadRegister(t.profile.PC)
		if err != nil {
			t.log.WithError(err).Errorf("emulation fault at %#x", addr)
			res.stop = &models.Stop{Addr: models.Addr(addr), Breakpoint: models.NoBreakpoint, Signal: sigSegv}
		} else {
			res.stop = &models.Stop{Addr: models.Addr(addr), Breakpoint: models.NoBreakpoint, Signal: sigTrap}
		}
		break
	}
	t.mu.Lock()
	t.running = false
	t.mu.Unlock()
	select {
	case t.stops <- res:
	case <-t.done:
	}
}

func (t *Target) Wait(ctx context.Context) (*models.Stop, error) {
	select {
	case res := <-t.stops:
		return res.stop, res.err
	case <-t.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *Target) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	running := t.running
	close(t.done)
	if running {
		t.u.Stop()
	}
	t.mu.Unlock()
	if running {
		// the engine is released by the run goroutine's Start returning
		return nil
	}
	return errors.Wrap(t.u.Close(), "close unicorn")
}

func (t *Target) String() string {
	return fmt.Sprintf("<unicorn %s>", t.profile.Name)
}
