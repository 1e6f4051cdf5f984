package stm32f4

import (
	"github.com/apex/log"
	"github.com/pkg/errors"

	"github.com/halcorn/halcorn/go/intercept"
	"github.com/halcorn/halcorn/go/models"
	"github.com/halcorn/halcorn/go/peripherals"
)

func init() {
	intercept.RegisterClass("stm32f4.AMP", NewAMP)
}

// AMP patches the brake byte the dashboard sent into the bumper passed to
// rx_brake_routine, then lets the routine run.
type AMP struct {
	intercept.Table
	env   *intercept.Env
	model *peripherals.AMP
	log   log.Interface
}

func NewAMP(env *intercept.Env, args models.Args) (intercept.Handler, error) {
	if env.Peripherals == nil {
		return nil, errors.New("AMP handler needs peripheral models")
	}
	h := &AMP{env: env, model: env.Peripherals.AMP, log: log.WithField("handler", "stm32f4.AMP")}
	h.Bind("rx", h.rx, "_Z16rx_brake_routinePhP6Bumper")
	return h, nil
}

func (h *AMP) rx(c models.Cpu, addr models.Addr) (models.Result, error) {
	bumper, err := h.env.Profile.GetArg(c, 1)
	if err != nil {
		return models.Result{}, err
	}
	val, ok := h.model.Last()
	if !ok {
		return models.Passthrough(), nil
	}
	if err := c.WriteMemory(bumper, 1, uint64(val)); err != nil {
		return models.Result{}, err
	}
	h.log.Infof("rx_brake_routine: patched %#02x", val)
	return models.Passthrough(), nil
}
