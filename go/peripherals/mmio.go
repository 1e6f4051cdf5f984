package peripherals

import (
	"fmt"

	"github.com/apex/log"
	"github.com/pkg/errors"

	"github.com/halcorn/halcorn/go/stats"
)

const (
	ActionLog   = "log"
	ActionModel = "model"
)

// Range routes part of a region either to the access log or to the LED
// model registered under the region name.
type Range struct {
	Offset uint64 `yaml:"offset"`
	Size   uint64 `yaml:"size"`
	Action string `yaml:"action"`
}

// Region is an emulated MMIO window. Accesses outside every range are
// logged. Writes to an address in LEDs are also published through the LED
// model.
type Region struct {
	Name   string
	Base   uint64
	Size   uint64
	Ranges []Range
	LEDs   map[uint64]string

	led   *LED
	stats *stats.Stats
	log   log.Interface
}

func NewRegion(name string, base, size uint64, ranges []Range, led *LED, st *stats.Stats) (*Region, error) {
	for _, r := range ranges {
		if r.Offset+r.Size > size {
			return nil, errors.Errorf("%s: range %#x+%#x exceeds region size %#x", name, r.Offset, r.Size, size)
		}
		switch r.Action {
		case ActionLog:
		case ActionModel:
			if led == nil {
				return nil, errors.Errorf("%s: model range without an LED model", name)
			}
		default:
			return nil, errors.Errorf("%s: unknown range action %q", name, r.Action)
		}
	}
	return &Region{
		Name:   name,
		Base:   base,
		Size:   size,
		Ranges: ranges,
		LEDs:   make(map[uint64]string),
		led:    led,
		stats:  st,
		log:    log.WithField("mmio", name),
	}, nil
}

func (r *Region) Contains(addr uint64) bool {
	return addr >= r.Base && addr-r.Base < r.Size
}

func (r *Region) lookup(addr uint64) *Range {
	off := addr - r.Base
	for i := range r.Ranges {
		rg := &r.Ranges[i]
		if off >= rg.Offset && off-rg.Offset < rg.Size {
			return rg
		}
	}
	return nil
}

func (r *Region) record(addr, pc uint64, dir string) {
	if r.stats == nil {
		return
	}
	hex := fmt.Sprintf("%#x", addr)
	set := stats.MMIOReadAddrs
	if dir == "w" {
		set = stats.MMIOWriteAddrs
	}
	for _, kv := range [][2]string{
		{set, hex},
		{stats.MMIOAddrs, hex},
		{stats.MMIOAddrPC, fmt.Sprintf("0x%08x,0x%08x,%s", addr, pc, dir)},
	} {
		if err := r.stats.WriteOnUpdate(kv[0], kv[1]); err != nil {
			r.log.WithError(err).Warn("writing stats")
		}
	}
}

// Read services a load of size bytes at addr. Logged addresses read as 0.
func (r *Region) Read(addr uint64, size int, pc uint64) (uint64, error) {
	if rg := r.lookup(addr); rg != nil && rg.Action == ActionModel {
		return r.led.Read(r.Name, int(addr-r.Base-rg.Offset), size)
	}
	r.log.Infof("read from 0x%08x size %d, pc 0x%08x", addr, size, pc)
	r.record(addr, pc, "r")
	return 0, nil
}

func (r *Region) Write(addr uint64, size int, val, pc uint64) error {
	if rg := r.lookup(addr); rg != nil && rg.Action == ActionModel {
		return r.led.Write(r.Name, int(addr-r.Base-rg.Offset), size, val)
	}
	r.log.Infof("write to 0x%08x size %d value 0x%08x, pc 0x%08x", addr, size, val, pc)
	r.record(addr, pc, "w")
	if name, ok := r.LEDs[addr]; ok && r.led != nil {
		return r.led.Write(name, 0, size, val)
	}
	return nil
}
