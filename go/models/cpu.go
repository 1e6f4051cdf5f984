package models

import (
	"context"

	"github.com/pkg/errors"
)

// NoBreakpoint marks a stop that did not come from a numbered breakpoint
// (a bare trap); the dispatcher resolves those by address.
const NoBreakpoint = -1

// Cpu abstracts the minimum functionality the intercept core requires of an
// emulated processor.
type Cpu interface {
	ReadRegister(name string) (uint64, error)
	WriteRegister(name string, val uint64) error

	// ReadMemory reads count values of width bytes each.
	ReadMemory(addr uint64, width, count int) ([]uint64, error)
	// WriteMemory writes one width-sized value per element of vals.
	WriteMemory(addr uint64, width int, vals ...uint64) error

	SetBreakpoint(addr uint64) (int, error)
	Continue() error
}

// Stop is reported by a Target when execution halts.
type Stop struct {
	Addr       Addr
	Breakpoint int
	Signal     int
}

type Target interface {
	Cpu
	// Wait blocks until the processor stops or ctx is cancelled.
	Wait(ctx context.Context) (*Stop, error)
	Close() error
}

// Interrupter is implemented by targets able to raise interrupts.
type Interrupter interface {
	TriggerInterrupt(num int) error
}

func ReadBytes(c Cpu, addr uint64, n int) ([]byte, error) {
	vals, err := c.ReadMemory(addr, 1, n)
	if err != nil {
		return nil, err
	}
	p := make([]byte, len(vals))
	for i, v := range vals {
		p[i] = byte(v)
	}
	return p, nil
}

func WriteBytes(c Cpu, addr uint64, p []byte) error {
	vals := make([]uint64, len(p))
	for i, b := range p {
		vals[i] = uint64(b)
	}
	return c.WriteMemory(addr, 1, vals...)
}

func ReadUint(c Cpu, addr uint64, width int) (uint64, error) {
	vals, err := c.ReadMemory(addr, width, 1)
	if err != nil {
		return 0, err
	}
	if len(vals) != 1 {
		return 0, errors.Errorf("short read at %#x", addr)
	}
	return vals[0], nil
}

// ReadCString reads a NUL-terminated string of at most max bytes.
func ReadCString(c Cpu, addr uint64, max int) (string, error) {
	var out []byte
	for i := 0; i < max; i++ {
		b, err := ReadUint(c, addr+uint64(i), 1)
		if err != nil {
			return string(out), err
		}
		if b == 0 {
			break
		}
		out = append(out, byte(b))
	}
	return string(out), nil
}
