package cortexm

import (
	"encoding/binary"
	"fmt"

	"github.com/halcorn/halcorn/go/models"
)

// register numbers follow the gdb target description of the M profile
func regs() []models.Reg {
	var r []models.Reg
	for i := 0; i <= 12; i++ {
		r = append(r, models.Reg{Name: fmt.Sprintf("r%d", i), Num: i, Size: 4})
	}
	return append(r,
		models.Reg{Name: "sp", Num: 13, Size: 4},
		models.Reg{Name: "lr", Num: 14, Size: 4},
		models.Reg{Name: "pc", Num: 15, Size: 4},
		models.Reg{Name: "xpsr", Num: 25, Size: 4},
	)
}

var Profile = (&models.Profile{
	Arch:  models.CortexM,
	Name:  "cortexm",
	Bits:  32,
	Order: binary.LittleEndian,

	Mask:  ^uint64(1),
	Scale: 1,

	PC:            "pc",
	SP:            "sp",
	LR:            "lr",
	ArgRegs:       []string{"r0", "r1", "r2", "r3"},
	RetRegs:       []string{"r0"},
	StackSlot:     4,
	UnknownReturn: models.LeaveReturn,

	Regs: regs(),
}).Init()

func init() {
	Profile.ABI = abi{}
}
