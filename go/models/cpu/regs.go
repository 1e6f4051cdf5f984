package cpu

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/halcorn/halcorn/go/models"
)

// Regs is a named register file. Writes are truncated to each register's width.
type Regs struct {
	sync.Mutex
	masks map[string]uint64
	vals  map[string]uint64
}

func NewRegs(regs []models.Reg) *Regs {
	r := &Regs{
		masks: make(map[string]uint64, len(regs)),
		vals:  make(map[string]uint64, len(regs)),
	}
	for _, reg := range regs {
		size := reg.Size
		if size <= 0 || size > 8 {
			size = 8
		}
		r.masks[reg.Name] = ^uint64(0) >> uint(64-size*8)
		r.vals[reg.Name] = 0
	}
	return r
}

func (r *Regs) RegRead(name string) (uint64, error) {
	r.Lock()
	defer r.Unlock()
	if val, ok := r.vals[name]; !ok {
		return 0, errors.Wrap(models.ErrInvalidRegister, name)
	} else {
		return val, nil
	}
}

func (r *Regs) RegWrite(name string, val uint64) error {
	r.Lock()
	defer r.Unlock()
	mask, ok := r.masks[name]
	if !ok {
		return errors.Wrap(models.ErrInvalidRegister, name)
	}
	r.vals[name] = val & mask
	return nil
}

// ContextSave snapshots every register value.
func (r *Regs) ContextSave() map[string]uint64 {
	r.Lock()
	defer r.Unlock()
	m := make(map[string]uint64, len(r.vals))
	for k, v := range r.vals {
		m[k] = v
	}
	return m
}

func (r *Regs) ContextRestore(ctx map[string]uint64) error {
	r.Lock()
	defer r.Unlock()
	for k, v := range ctx {
		mask, ok := r.masks[k]
		if !ok {
			return errors.Wrap(models.ErrInvalidRegister, k)
		}
		r.vals[k] = v & mask
	}
	return nil
}
