package stm32f4

import (
	"strconv"

	"github.com/apex/log"
	"github.com/pkg/errors"

	"github.com/halcorn/halcorn/go/intercept"
	"github.com/halcorn/halcorn/go/models"
	"github.com/halcorn/halcorn/go/peripherals"
)

func init() {
	intercept.RegisterClass("stm32f4.GPIO", NewGPIO)
}

type pin struct {
	port uint64
	mask uint64
}

// GPIO maps named pins onto the LED model. class_args "pins" maps an LED
// name to {port, pin}, for example {led_green: {port: 0x40020c00, pin: 0x1000}}.
type GPIO struct {
	intercept.Table
	env  *intercept.Env
	led  *peripherals.LED
	pins map[pin]string
	log  log.Interface
}

func NewGPIO(env *intercept.Env, args models.Args) (intercept.Handler, error) {
	if env.Peripherals == nil {
		return nil, errors.New("GPIO handler needs peripheral models")
	}
	h := &GPIO{
		env:  env,
		led:  env.Peripherals.LED,
		pins: make(map[pin]string),
		log:  log.WithField("handler", "stm32f4.GPIO"),
	}
	pins := args.Map("pins")
	for name := range pins {
		m := pins.Map(name)
		port, err := m.Uint("port", 0)
		if err != nil {
			return nil, err
		}
		mask, err := m.Uint("pin", 0)
		if err != nil {
			return nil, err
		}
		if port == 0 || mask == 0 {
			return nil, errors.Errorf("pin %s needs port and pin", name)
		}
		h.pins[pin{port, mask}] = name
		h.led.Add(name, 1, 0)
	}
	h.Bind("init", h.init, "HAL_GPIO_Init", "HAL_GPIO_DeInit")
	h.Bind("write", h.write, "HAL_GPIO_WritePin")
	h.Bind("toggle", h.toggle, "HAL_GPIO_TogglePin")
	h.Bind("read", h.read, "HAL_GPIO_ReadPin")
	return h, nil
}

func (h *GPIO) init(c models.Cpu, addr models.Addr) (models.Result, error) {
	return models.ReturnVoid(), nil
}

// lookup resolves the (GPIOx, GPIO_Pin) arguments.
func (h *GPIO) lookup(c models.Cpu) (string, bool, error) {
	p := h.env.Profile
	port, err := p.GetArg(c, 0)
	if err != nil {
		return "", false, err
	}
	mask, err := p.GetArg(c, 1)
	if err != nil {
		return "", false, err
	}
	name, ok := h.pins[pin{port, mask & 0xffff}]
	if !ok {
		name = "gpio_" + strconv.FormatUint(port, 16) + "_" + strconv.FormatUint(mask&0xffff, 16)
	}
	return name, ok, nil
}

func (h *GPIO) set(name string, v uint64) error {
	h.log.WithField("pin", name).Debugf("set %d", v)
	return h.led.Write(name, 0, 1, v)
}

func (h *GPIO) write(c models.Cpu, addr models.Addr) (models.Result, error) {
	name, ok, err := h.lookup(c)
	if err != nil {
		return models.Result{}, err
	}
	state, err := h.env.Profile.GetArg(c, 2)
	if err != nil {
		return models.Result{}, err
	}
	if ok {
		if err := h.set(name, state&1); err != nil {
			return models.Result{}, err
		}
	} else {
		h.log.WithField("pin", name).Debugf("write %d to unmapped pin", state&1)
	}
	return models.ReturnVoid(), nil
}

func (h *GPIO) toggle(c models.Cpu, addr models.Addr) (models.Result, error) {
	name, ok, err := h.lookup(c)
	if err != nil {
		return models.Result{}, err
	}
	if ok {
		v, _ := h.led.Value(name)
		if err := h.set(name, (v^1)&1); err != nil {
			return models.Result{}, err
		}
	}
	return models.ReturnVoid(), nil
}

func (h *GPIO) read(c models.Cpu, addr models.Addr) (models.Result, error) {
	name, ok, err := h.lookup(c)
	if err != nil {
		return models.Result{}, err
	}
	if !ok {
		return models.Return(0), nil
	}
	v, _ := h.led.Value(name)
	return models.Return(v & 1), nil
}
