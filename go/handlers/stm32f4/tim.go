package stm32f4

import (
	"fmt"
	"strconv"
	"time"

	"github.com/apex/log"
	"github.com/pkg/errors"

	"github.com/halcorn/halcorn/go/intercept"
	"github.com/halcorn/halcorn/go/models"
	"github.com/halcorn/halcorn/go/peripherals"
)

const (
	systickIRQ  = 15
	systickRate = 5
	timerRate   = 2

	periodElapsed = "HAL_TIM_PeriodElapsedCallback"
)

// Timer base address -> interrupt number.
var defaultISRs = map[uint64]int{
	0x40012c00: 32, // TIM1
	0x40000400: 32, // TIM3
	0x40002000: 32, // TIM14
}

func init() {
	intercept.RegisterClass("stm32f4.TIM", NewTIM)
}

type TIM struct {
	intercept.Table
	env    *intercept.Env
	timer  *peripherals.Timer
	isrs   map[uint64]int
	tick   time.Duration
	starts int
	log    log.Interface
}

// NewTIM accepts class_args "tick" (the period of one rate unit, default 1s)
// and "isrs", a map of timer base address to interrupt number.
func NewTIM(env *intercept.Env, args models.Args) (intercept.Handler, error) {
	if env.Peripherals == nil {
		return nil, errors.New("TIM handler needs peripheral models")
	}
	h := &TIM{
		env:   env,
		timer: env.Peripherals.Timer,
		isrs:  make(map[uint64]int),
		tick:  time.Second,
		log:   log.WithField("handler", "stm32f4.TIM"),
	}
	for k, v := range defaultISRs {
		h.isrs[k] = v
	}
	if d := args.String("tick", ""); d != "" {
		var err error
		if h.tick, err = time.ParseDuration(d); err != nil {
			return nil, errors.Wrap(err, "tick")
		}
	}
	isrs := args.Map("isrs")
	for k := range isrs {
		base, err := strconv.ParseUint(k, 0, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "isrs key %q", k)
		}
		irq, err := isrs.Int(k, 0)
		if err != nil {
			return nil, err
		}
		h.isrs[base] = irq
	}
	h.Bind("init", h.init, "HAL_TIM_Base_Init")
	h.Bind("deinit", h.ok, "HAL_TIM_Base_DeInit", "HAL_TIM_ConfigClockSource", "HAL_TIMEx_MasterConfigSynchronization")
	h.Bind("start", h.start, "HAL_TIM_Base_Start_IT")
	h.Bind("stop", h.stop, "HAL_TIM_Base_Stop_IT")
	h.Bind("isr_handler", h.isr, "HAL_TIM_IRQHandler")
	h.Bind("sleep", h.sleep, "HAL_Delay")
	h.Bind("systick_config", h.systick, "HAL_SYSTICK_Config")
	return h, nil
}

func timerName(base uint64) string { return fmt.Sprintf("%#08x", base) }

func (h *TIM) init(c models.Cpu, addr models.Addr) (models.Result, error) {
	base, err := instance(h.env.Profile, c)
	if err != nil {
		return models.Result{}, err
	}
	h.log.Infof("init, base: %#08x", base)
	return models.Passthrough(), nil
}

func (h *TIM) ok(c models.Cpu, addr models.Addr) (models.Result, error) {
	base, err := instance(h.env.Profile, c)
	if err != nil {
		return models.Result{}, err
	}
	h.log.Debugf("base: %#08x", base)
	return models.Return(0), nil
}

func (h *TIM) start(c models.Cpu, addr models.Addr) (models.Result, error) {
	base, err := instance(h.env.Profile, c)
	if err != nil {
		return models.Result{}, err
	}
	h.starts++
	h.log.WithField("starts", h.starts).Infof("start, base: %#08x", base)
	if irq, ok := h.isrs[base]; ok {
		if err := h.timer.Start(timerName(base), irq, timerRate*h.tick); err != nil {
			return models.Result{}, err
		}
	}
	return models.ReturnVoid(), nil
}

func (h *TIM) stop(c models.Cpu, addr models.Addr) (models.Result, error) {
	base, err := instance(h.env.Profile, c)
	if err != nil {
		return models.Result{}, err
	}
	h.timer.Stop(timerName(base))
	return models.Return(0), nil
}

// isr redirects the IRQ handler to the period elapsed callback, leaving the
// argument registers and return address as the firmware set them.
func (h *TIM) isr(c models.Cpu, addr models.Addr) (models.Result, error) {
	target, err := h.env.Callable(periodElapsed)
	if err != nil {
		return models.Result{}, err
	}
	if base, err := instance(h.env.Profile, c); err == nil {
		h.log.Debugf("tick: timer %#08x", base)
	}
	if err := c.WriteRegister(h.env.Profile.PC, uint64(target)); err != nil {
		return models.Result{}, err
	}
	return models.Passthrough(), nil
}

func (h *TIM) sleep(c models.Cpu, addr models.Addr) (models.Result, error) {
	ms, err := h.env.Profile.GetArg(c, 0)
	if err != nil {
		return models.Result{}, err
	}
	h.log.Debugf("skipping delay of %dms", ms)
	return models.Return(0), nil
}

func (h *TIM) systick(c models.Cpu, addr models.Addr) (models.Result, error) {
	h.log.Infof("setting SysTick rate to %d", systickRate)
	if err := h.timer.Start("SysTick", systickIRQ, systickRate*h.tick); err != nil {
		return models.Result{}, err
	}
	return models.Return(0), nil
}
