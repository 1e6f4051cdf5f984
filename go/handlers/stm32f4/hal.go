package stm32f4

import (
	"github.com/halcorn/halcorn/go/models"
)

// instance dereferences the handle passed in the first argument, giving the
// peripheral base address stored in its Instance field.
func instance(p *models.Profile, c models.Cpu) (uint64, error) {
	obj, err := p.GetArg(c, 0)
	if err != nil {
		return 0, err
	}
	return models.ReadUint(c, obj, 4)
}
