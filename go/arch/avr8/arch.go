package avr8

import (
	"encoding/binary"
	"fmt"

	"github.com/halcorn/halcorn/go/models"
)

func regs() []models.Reg {
	r := make([]models.Reg, 0, 35)
	for i := 0; i < 32; i++ {
		r = append(r, models.Reg{Name: fmt.Sprintf("r%d", i), Num: i, Size: 1})
	}
	return append(r,
		models.Reg{Name: "sreg", Num: 32, Size: 1},
		models.Reg{Name: "sp", Num: 33, Size: 2},
		models.Reg{Name: "pc", Num: 34, Size: 4},
	)
}

// argument pairs, high byte first
var argPairs = [][2]string{
	{"r25", "r24"}, {"r23", "r22"}, {"r21", "r20"},
	{"r19", "r18"}, {"r17", "r16"}, {"r15", "r14"},
	{"r13", "r12"}, {"r11", "r10"}, {"r9", "r8"},
}

// Configuration and symbol files carry word addresses; gdb and the emulator
// use byte addresses, so Scale is 2. Data memory sits at DataBase.
var Profile = (&models.Profile{
	Arch:  models.AVR8,
	Name:  "avr8",
	Bits:  8,
	Order: binary.LittleEndian,

	Mask:     ^uint64(0),
	Scale:    2,
	DataBase: 0x800000,

	PC:            "pc",
	SP:            "sp",
	ArgRegs:       []string{"r24", "r22", "r20", "r18", "r16", "r14", "r12", "r10", "r8"},
	RetRegs:       []string{"r24", "r25"},
	StackSlot:     2,
	UnknownReturn: models.ZeroReturn,

	Regs: regs(),
}).Init()

func init() {
	Profile.ABI = abi{}
}
