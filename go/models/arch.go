package models

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/lunixbochs/fvbommel-util/sortorder"
)

type Arch int

const (
	Unknown Arch = iota
	CortexM
	AVR8
)

func (a Arch) String() string {
	switch a {
	case CortexM:
		return "cortexm"
	case AVR8:
		return "avr8"
	}
	return "unknown"
}

// ReturnPolicy declares what ApplyReturn does with the return register when
// a handler does not provide a value.
type ReturnPolicy int

const (
	LeaveReturn ReturnPolicy = iota
	ZeroReturn
)

func (r ReturnPolicy) String() string {
	if r == ZeroReturn {
		return "zero"
	}
	return "leave"
}

// Reg describes one register as exposed by the remote debug stub.
type Reg struct {
	Name string
	Num  int
	Size int
}

type RegVal struct {
	Reg
	Val uint64
}

type regList []Reg

func (r regList) Len() int           { return len(r) }
func (r regList) Swap(i, j int)      { r[i], r[j] = r[j], r[i] }
func (r regList) Less(i, j int) bool { return sortorder.NaturalLess(r[i].Name, r[j].Name) }

// ABI holds the calling-convention transforms of one architecture.
type ABI interface {
	GetArg(c Cpu, i int) (uint64, error)
	SetArg(c Cpu, i int, val uint64) error
	ReturnAddr(c Cpu) (uint64, error)
	SetReturnAddr(c Cpu, addr uint64) error
	// ApplyReturn forces the intercepted function to return. With explode set
	// the return value is still written, but a *FaultError is returned and
	// the program counter is left on the intercepted function.
	ApplyReturn(c Cpu, val uint64, hasVal, explode bool) error
}

type Profile struct {
	ABI

	Arch  Arch
	Name  string
	Bits  int
	Order binary.ByteOrder

	// Mask clears tag bits (the Thumb bit on CortexM); Scale converts
	// configuration addresses into emulator addresses (AVR word addressing).
	Mask  uint64
	Scale uint64
	// DataBase is where the debug stub exposes data memory.
	DataBase uint64

	PC, SP, LR string
	ArgRegs    []string
	RetRegs    []string
	// StackSlot is the width of one stack-passed argument.
	StackSlot int
	// UnknownReturn is applied when a forced return carries no value.
	UnknownReturn ReturnPolicy

	Regs []Reg

	regMap  map[string]Reg
	regList regList
}

// Normalize turns a configuration address into an emulator address.
func (p *Profile) Normalize(raw RawAddr) Addr {
	return Addr((uint64(raw) & p.Mask) * p.Scale)
}

// Canonical strips tag bits from an address the emulator reported. Scaling
// is never reapplied, so Canonical(Normalize(x)) == Normalize(x).
func (p *Profile) Canonical(a Addr) Addr {
	return Addr(uint64(a) & p.Mask)
}

// Init builds the register lookup tables. Profiles are shared between
// goroutines, so it must run before first use.
func (p *Profile) Init() *Profile {
	p.regMap = make(map[string]Reg, len(p.Regs))
	for _, r := range p.Regs {
		p.regMap[r.Name] = r
	}
	p.regList = make(regList, len(p.Regs))
	copy(p.regList, p.Regs)
	sort.Sort(p.regList)
	return p
}

func (p *Profile) Reg(name string) (Reg, bool) {
	r, ok := p.regMap[name]
	return r, ok
}

func (p *Profile) RegDump(c Cpu) ([]RegVal, error) {
	ret := make([]RegVal, len(p.regList))
	for i, r := range p.regList {
		val, err := c.ReadRegister(r.Name)
		if err != nil {
			return nil, err
		}
		ret[i] = RegVal{r, val}
	}
	return ret, nil
}

func (p *Profile) String() string {
	return fmt.Sprintf("<Profile %s>", p.Name)
}

// RawAddr is an address as written in configuration or symbol files.
type RawAddr uint64

// Addr is an address in the emulated processor's address space.
type Addr uint64

func (a Addr) String() string { return fmt.Sprintf("%#x", uint64(a)) }
