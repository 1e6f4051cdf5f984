package cpu

import (
	"encoding/binary"
	"sync"

	"github.com/pkg/errors"
)

type region struct {
	addr, size uint64
}

// Mem is a sparse byte-addressed memory. With no regions mapped every
// address is readable and reads as zero.
type Mem struct {
	sync.Mutex
	order   binary.ByteOrder
	bytes   map[uint64]byte
	regions []region
}

func NewMem(order binary.ByteOrder) *Mem {
	return &Mem{order: order, bytes: make(map[uint64]byte)}
}

// Map restricts access to the union of mapped regions.
func (m *Mem) Map(addr, size uint64) {
	m.Lock()
	m.regions = append(m.regions, region{addr, size})
	m.Unlock()
}

func (m *Mem) valid(addr, size uint64) bool {
	if len(m.regions) == 0 {
		return true
	}
	for _, r := range m.regions {
		if addr >= r.addr && addr+size <= r.addr+r.size {
			return true
		}
	}
	return false
}

func (m *Mem) Read(addr uint64, p []byte) error {
	m.Lock()
	defer m.Unlock()
	if !m.valid(addr, uint64(len(p))) {
		return errors.Errorf("read of unmapped memory at %#x", addr)
	}
	for i := range p {
		p[i] = m.bytes[addr+uint64(i)]
	}
	return nil
}

func (m *Mem) Write(addr uint64, p []byte) error {
	m.Lock()
	defer m.Unlock()
	if !m.valid(addr, uint64(len(p))) {
		return errors.Errorf("write to unmapped memory at %#x", addr)
	}
	for i, b := range p {
		m.bytes[addr+uint64(i)] = b
	}
	return nil
}

func (m *Mem) ReadUints(addr uint64, width, count int) ([]uint64, error) {
	if width < 1 || width > 8 {
		return nil, errors.Errorf("unsupported width %d", width)
	}
	buf := make([]byte, width*count)
	if err := m.Read(addr, buf); err != nil {
		return nil, err
	}
	out := make([]uint64, count)
	for i := range out {
		v, err := UnpackUint(m.order, width, buf[i*width:])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (m *Mem) WriteUints(addr uint64, width int, vals []uint64) error {
	buf := make([]byte, width*len(vals))
	for i, v := range vals {
		if _, err := PackUint(m.order, width, buf[i*width:], v); err != nil {
			return err
		}
	}
	return m.Write(addr, buf)
}
