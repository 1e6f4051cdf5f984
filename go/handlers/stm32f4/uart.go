package stm32f4

import (
	"github.com/apex/log"
	"github.com/pkg/errors"

	"github.com/halcorn/halcorn/go/intercept"
	"github.com/halcorn/halcorn/go/models"
	"github.com/halcorn/halcorn/go/peripherals"
)

const halOK = 0

func init() {
	intercept.RegisterClass("stm32f4.UART", NewUART)
}

// UART routes the blocking, IT and DMA transfer calls to the serial model.
type UART struct {
	intercept.Table
	env   *intercept.Env
	model *peripherals.Serial
	log   log.Interface
}

func NewUART(env *intercept.Env, args models.Args) (intercept.Handler, error) {
	if env.Peripherals == nil {
		return nil, errors.New("UART handler needs peripheral models")
	}
	h := &UART{env: env, model: env.Peripherals.Serial, log: log.WithField("handler", "stm32f4.UART")}
	h.Bind("init", h.init, "HAL_UART_Init", "HAL_UART_MspInit", "HAL_UART_DeInit")
	h.Bind("write", h.write, "HAL_UART_Transmit", "HAL_UART_Transmit_IT", "HAL_UART_Transmit_DMA")
	h.Bind("read", h.read, "HAL_UART_Receive", "HAL_UART_Receive_IT", "HAL_UART_Receive_DMA")
	return h, nil
}

func (h *UART) init(c models.Cpu, addr models.Addr) (models.Result, error) {
	base, err := instance(h.env.Profile, c)
	if err != nil {
		return models.Result{}, err
	}
	h.log.Infof("init, base: %#08x", base)
	return models.Return(halOK), nil
}

// buffer returns the (pData, Size) argument pair.
func (h *UART) buffer(c models.Cpu) (uint64, int, error) {
	p := h.env.Profile
	data, err := p.GetArg(c, 1)
	if err != nil {
		return 0, 0, err
	}
	size, err := p.GetArg(c, 2)
	if err != nil {
		return 0, 0, err
	}
	return data, int(size & 0xffff), nil
}

func (h *UART) write(c models.Cpu, addr models.Addr) (models.Result, error) {
	data, size, err := h.buffer(c)
	if err != nil {
		return models.Result{}, err
	}
	p, err := models.ReadBytes(c, data, size)
	if err != nil {
		return models.Result{}, err
	}
	if err := h.model.Write(p); err != nil {
		return models.Result{}, err
	}
	return models.Return(halOK), nil
}

// read blocks until the device sent Size bytes.
func (h *UART) read(c models.Cpu, addr models.Addr) (models.Result, error) {
	data, size, err := h.buffer(c)
	if err != nil {
		return models.Result{}, err
	}
	p, err := h.model.Read(h.env.Ctx, size, true)
	if err != nil {
		return models.Result{}, errors.Wrap(err, "uart read")
	}
	if err := models.WriteBytes(c, data, p); err != nil {
		return models.Result{}, err
	}
	return models.Return(halOK), nil
}
