package cpu

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/halcorn/halcorn/go/models"
)

var ErrBreakpointExists = errors.New("breakpoint already set")
var ErrBreakpointLimit = errors.New("no free breakpoint slots")

// Sim is a simulated processor: a register file and memory with no
// instruction semantics. Tests and dry runs drive it by injecting stops.
type Sim struct {
	*Regs
	Mem     *Mem
	Profile *models.Profile
	// MaxBreakpoints limits SetBreakpoint; zero means unlimited.
	MaxBreakpoints int

	mu          sync.Mutex
	nextID      int
	breakpoints map[uint64]int
	continues   int
	irqs        []int
	closed      bool

	stops chan *models.Stop
	done  chan struct{}
}

func NewSim(p *models.Profile) *Sim {
	return &Sim{
		Regs:        NewRegs(p.Regs),
		Mem:         NewMem(p.Order),
		Profile:     p,
		nextID:      1,
		breakpoints: make(map[uint64]int),
		stops:       make(chan *models.Stop, 64),
		done:        make(chan struct{}),
	}
}

func (s *Sim) ReadRegister(name string) (uint64, error) { return s.RegRead(name) }

func (s *Sim) WriteRegister(name string, val uint64) error { return s.RegWrite(name, val) }

func (s *Sim) ReadMemory(addr uint64, width, count int) ([]uint64, error) {
	return s.Mem.ReadUints(addr, width, count)
}

func (s *Sim) WriteMemory(addr uint64, width int, vals ...uint64) error {
	return s.Mem.WriteUints(addr, width, vals)
}

func (s *Sim) SetBreakpoint(addr uint64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.breakpoints[addr]; ok {
		return 0, errors.Wrapf(ErrBreakpointExists, "%#x", addr)
	}
	if s.MaxBreakpoints > 0 && len(s.breakpoints) >= s.MaxBreakpoints {
		return 0, ErrBreakpointLimit
	}
	id := s.nextID
	s.nextID++
	s.breakpoints[addr] = id
	return id, nil
}

func (s *Sim) Breakpoint(addr uint64) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.breakpoints[addr]
	return id, ok
}

func (s *Sim) Continue() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("target closed")
	}
	s.continues++
	return nil
}

// Continues reports how many times execution was resumed.
func (s *Sim) Continues() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.continues
}

func (s *Sim) TriggerInterrupt(num int) error {
	s.mu.Lock()
	s.irqs = append(s.irqs, num)
	s.mu.Unlock()
	return nil
}

func (s *Sim) Interrupts() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.irqs...)
}

// Hit stops at addr, reporting the breakpoint set there (if any). The
// program counter is moved to addr first.
func (s *Sim) Hit(addr uint64) *models.Stop {
	id, ok := s.Breakpoint(addr)
	if !ok {
		id = models.NoBreakpoint
	}
	return s.stop(addr, id)
}

// Trap stops at addr without a breakpoint number.
func (s *Sim) Trap(addr uint64) *models.Stop {
	return s.stop(addr, models.NoBreakpoint)
}

func (s *Sim) stop(addr uint64, id int) *models.Stop {
	s.RegWrite(s.Profile.PC, addr)
	st := &models.Stop{Addr: models.Addr(addr), Breakpoint: id, Signal: 5}
	select {
	case s.stops <- st:
	case <-s.done:
	}
	return st
}

func (s *Sim) Wait(ctx context.Context) (*models.Stop, error) {
	select {
	case st := <-s.stops:
		return st, nil
	case <-s.done:
		return nil, errors.New("target closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	return nil
}
