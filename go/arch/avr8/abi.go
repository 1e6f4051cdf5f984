package avr8

import (
	"github.com/halcorn/halcorn/go/models"
)

// size of the return address a call pushes
const retSize = 2

type abi struct{}

func data(addr uint64) uint64 { return Profile.DataBase + addr }

func readPair(c models.Cpu, hi, lo string) (uint64, error) {
	h, err := c.ReadRegister(hi)
	if err != nil {
		return 0, err
	}
	l, err := c.ReadRegister(lo)
	if err != nil {
		return 0, err
	}
	return (h&0xff)<<8 | l&0xff, nil
}

func writePair(c models.Cpu, hi, lo string, val uint64) error {
	if err := c.WriteRegister(lo, val&0xff); err != nil {
		return err
	}
	return c.WriteRegister(hi, (val>>8)&0xff)
}

func (abi) stackArg(c models.Cpu, i int) (uint64, error) {
	sp, err := c.ReadRegister(Profile.SP)
	if err != nil {
		return 0, err
	}
	return data(sp + 1 + retSize + uint64(Profile.StackSlot*(i-len(argPairs)))), nil
}

func (a abi) GetArg(c models.Cpu, i int) (uint64, error) {
	if i < 0 {
		return 0, models.ArgIndexError(i)
	}
	if i < len(argPairs) {
		return readPair(c, argPairs[i][0], argPairs[i][1])
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
	if i < len(argPairs) {
		return writePair(c, argPairs[i][0], argPairs[i][1], val)
	}
	addr, err := a.stackArg(c, i)
	if err != nil {
		return err
	}
	return c.WriteMemory(addr, Profile.StackSlot, val)
}

// ReturnAddr reads the word address a call pushed (high byte at the lower
// address) and converts it to a byte address.
func (abi) ReturnAddr(c models.Cpu) (uint64, error) {
	sp, err := c.ReadRegister(Profile.SP)
	if err != nil {
		return 0, err
	}
	b, err := models.ReadBytes(c, data(sp+1), retSize)
	if err != nil {
		return 0, err
	}
	return (uint64(b[0])<<8 | uint64(b[1])) * Profile.Scale, nil
}

func (abi) SetReturnAddr(c models.Cpu, addr uint64) error {
	sp, err := c.ReadRegister(Profile.SP)
	if err != nil {
		return err
	}
	word := addr / Profile.Scale
	return models.WriteBytes(c, data(sp+1), []byte{byte(word >> 8), byte(word)})
}

// ApplyReturn emulates a ret: the return address is popped and the 16-bit
// result lands in r25:r24.
func (a abi) ApplyReturn(c models.Cpu, val uint64, hasVal, explode bool) error {
	if !hasVal {
		val = 0
	}
	if hasVal || Profile.UnknownReturn == models.ZeroReturn {
		if err := writePair(c, "r25", "r24", val); err != nil {
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
	ret, err := a.ReturnAddr(c)
	if err != nil {
		return err
	}
	sp, err := c.ReadRegister(Profile.SP)
	if err != nil {
		return err
	}
	if err := c.WriteRegister(Profile.SP, sp+retSize); err != nil {
		return err
	}
	return c.WriteRegister(Profile.PC, ret)
}
