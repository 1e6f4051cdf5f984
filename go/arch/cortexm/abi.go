package cortexm

import (
	"github.com/halcorn/halcorn/go/models"
)

type abi struct{}

func (abi) stackArg(c models.Cpu, i int) (uint64, error) {
	sp, err := c.ReadRegister(Profile.SP)
	if err != nil {
		return 0, err
	}
	return sp + uint64(Profile.StackSlot*(i-len(Profile.ArgRegs))), nil
}

func (a abi) GetArg(c models.Cpu, i int) (uint64, error) {
	if i < 0 {
		return 0, models.ArgIndexError(i)
	}
	if i < len(Profile.ArgRegs) {
		return c.ReadRegister(Profile.ArgRegs[i])
	}
	addr, err := a.stackArg(c, i)
	if err != nil {
		return 0, err
	}
	return models.ReadUint(c, addr, Profile.StackSlot)
}

func (a abi) SetArg(c models.Cpu, i int, val uint64) error {
	if i < 0 {
		return models.ArgIndexError(i)
	}
	if i < len(Profile.ArgRegs) {
		return c.WriteRegister(Profile.ArgRegs[i], val)
	}
	addr, err := a.stackArg(c, i)
	if err != nil {
		return err
	}
	return c.WriteMemory(addr, Profile.StackSlot, val)
}

func (abi) ReturnAddr(c models.Cpu) (uint64, error) {
	return c.ReadRegister(Profile.LR)
}

func (abi) SetReturnAddr(c models.Cpu, addr uint64) error {
	return c.WriteRegister(Profile.LR, addr)
}

// ApplyReturn leaves r0 untouched when no value is given, so a void handler
// does not clobber whatever the caller expects to survive.
func (a abi) ApplyReturn(c models.Cpu, val uint64, hasVal, explode bool) error {
	if hasVal {
		if err := c.WriteRegister(Profile.RetRegs[0], val&0xffffffff); err != nil {
			return err
		}
	}
	if explode {
		pc, err := c.ReadRegister(Profile.PC)
		if err != nil {
			return err
		}
		return &models.FaultError{Addr: models.Addr(pc), Value: val}
	}
	lr, err := a.ReturnAddr(c)
	if err != nil {
		return err
	}
	return c.WriteRegister(Profile.PC, uint64(Profile.Canonical(models.Addr(lr))))
}
