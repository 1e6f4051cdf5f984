package config

import (
	"io/ioutil"
	"sort"

	"github.com/apex/log"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/halcorn/halcorn/go/models"
)

// AddressFile maps firmware addresses to symbol names, as produced by a
// symbol extraction tool for one build of the firmware.
type AddressFile struct {
	Architecture string            `yaml:"architecture,omitempty"`
	BaseAddress  uint64            `yaml:"base_address"`
	EntryPoint   uint64            `yaml:"entry_point"`
	Symbols      map[uint64]string `yaml:"symbols"`

	byName map[string]uint64
}

func LoadAddressFile(path string) (*AddressFile, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read address file")
	}
	var a AddressFile
	if err := yaml.Unmarshal(data, &a); err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	if a.Symbols == nil {
		return nil, errors.Errorf("%s: no symbol table", path)
	}
	a.index()
	return &a, nil
}

// Save writes a in the format LoadAddressFile reads.
func (a *AddressFile) Save(path string) error {
	data, err := yaml.Marshal(a)
	if err != nil {
		return errors.Wrap(err, "marshal address file")
	}
	return errors.WithStack(ioutil.WriteFile(path, data, 0644))
}

func (a *AddressFile) index() {
	a.byName = make(map[string]uint64, len(a.Symbols))
	addrs := make([]uint64, 0, len(a.Symbols))
	for addr := range a.Symbols {
		addrs = append(addrs, addr)
	}
	// lowest address wins for aliased names
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] > addrs[j] })
	for _, addr := range addrs {
		a.byName[a.Symbols[addr]] = addr
	}
}

// Lookup returns the address of name.
func (a *AddressFile) Lookup(name string) (uint64, bool) {
	if a.byName == nil {
		a.index()
	}
	addr, ok := a.byName[name]
	return addr, ok
}

// Symbol returns the name at addr, or "".
func (a *AddressFile) Symbol(addr uint64) string {
	return a.Symbols[addr]
}

// Override replaces intercept addresses with the ones in a, drops
// intercepts left without an address and fills the callables table. The
// Thumb bit is cleared on CortexM.
func (p *Project) Override(a *AddressFile, arch models.Arch) {
	if a.byName == nil {
		a.index()
	}
	var mask uint64 = ^uint64(0)
	if arch == models.CortexM {
		mask = ^uint64(1)
	}
	kept := p.Intercepts[:0]
	for _, ic := range p.Intercepts {
		if addr, ok := a.Lookup(ic.Function); ok {
			raw := models.RawAddr(addr & mask)
			ic.Addr = &raw
			log.WithField("function", ic.Function).Infof("replacing address with %#x", addr)
		} else if ic.Addr == nil {
			log.WithField("function", ic.Function).Info("removing intercept without address")
			continue
		}
		kept = append(kept, ic)
	}
	p.Intercepts = kept
	if p.Callables == nil {
		p.Callables = make(map[string]uint64)
	}
	for name, addr := range a.byName {
		p.Callables[name] = addr
	}
}

// CallableAddrs normalizes the callables table for handler use.
func (p *Project) CallableAddrs(prof *models.Profile) map[string]models.Addr {
	out := make(map[string]models.Addr, len(p.Callables))
	for name, addr := range p.Callables {
		out[name] = prof.Normalize(models.RawAddr(addr))
	}
	return out
}
