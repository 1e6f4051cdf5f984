// Package stm32f4 intercepts the STM32F4 HAL and forwards it to the
// peripheral models.
package stm32f4

import (
	"time"

	"github.com/apex/log"
	"github.com/pkg/errors"

	"github.com/halcorn/halcorn/go/intercept"
	"github.com/halcorn/halcorn/go/models"
	"github.com/halcorn/halcorn/go/peripherals"
)

const (
	canDataLen = 8
	// CAN_ID_EXT
	canIDExt = 4
)

// CAN_TxHeaderTypeDef / CAN_RxHeaderTypeDef field offsets.
const (
	hdrStdID = 0
	hdrExtID = 4
	hdrIDE   = 8
	hdrDLC   = 16
)

func init() {
	intercept.RegisterClass("stm32f4.CAN", NewCAN)
}

type CAN struct {
	intercept.Table
	env   *intercept.Env
	model *peripherals.CanBus
	delay time.Duration
	log   log.Interface
}

// NewCAN accepts class_args "delay", a pause applied after each receive.
func NewCAN(env *intercept.Env, args models.Args) (intercept.Handler, error) {
	if env.Peripherals == nil {
		return nil, errors.New("CAN handler needs peripheral models")
	}
	h := &CAN{env: env, model: env.Peripherals.CAN, log: log.WithField("handler", "stm32f4.CAN")}
	if d := args.String("delay", ""); d != "" {
		var err error
		if h.delay, err = time.ParseDuration(d); err != nil {
			return nil, errors.Wrap(err, "delay")
		}
	}
	h.Bind("init", h.init, "HAL_CAN_MspInit", "HAL_CAN_Init", "HAL_CAN_Start")
	h.Bind("deinit", h.init, "HAL_CAN_MspDeInit")
	h.Bind("tx", h.tx, "HAL_CAN_AddTxMessage")
	h.Bind("rx", h.rx, "HAL_CAN_GetRxMessage")
	h.Bind("fifolevel", h.fifoLevel, "HAL_CAN_GetRxFifoFillLevel")
	return h, nil
}

func (h *CAN) init(c models.Cpu, addr models.Addr) (models.Result, error) {
	base, err := instance(h.env.Profile, c)
	if err != nil {
		return models.Result{}, err
	}
	h.log.Infof("init, base: %#08x", base)
	return models.ReturnVoid(), nil
}

// HAL_CAN_AddTxMessage(hcan, pHeader, aData[], pTxMailbox)
func (h *CAN) tx(c models.Cpu, addr models.Addr) (models.Result, error) {
	p := h.env.Profile
	hdr, err := p.GetArg(c, 1)
	if err != nil {
		return models.Result{}, err
	}
	data, err := p.GetArg(c, 2)
	if err != nil {
		return models.Result{}, err
	}
	fields, err := c.ReadMemory(hdr, 4, 5)
	if err != nil {
		return models.Result{}, err
	}
	dlc := int(fields[hdrDLC/4])
	if dlc > canDataLen {
		dlc = canDataLen
	}
	payload, err := models.ReadBytes(c, data, dlc)
	if err != nil {
		return models.Result{}, err
	}
	f := peripherals.CanFrame{ID: uint32(fields[hdrStdID/4]), Data: payload}
	if fields[hdrIDE/4] == canIDExt {
		f.ID = uint32(fields[hdrExtID/4])
	}
	if err := h.model.Write(f); err != nil {
		h.log.WithError(err).Warn("publishing frame")
	}
	return models.Passthrough(), nil
}

// HAL_CAN_GetRxMessage(hcan, RxFifo, pHeader, aData[])
func (h *CAN) rx(c models.Cpu, addr models.Addr) (models.Result, error) {
	p := h.env.Profile
	args := make([]uint64, 4)
	for i := range args {
		var err error
		if args[i], err = p.GetArg(c, i); err != nil {
			return models.Result{}, err
		}
	}
	hdr, data := args[2], args[3]
	f, err := h.model.Pop(h.env.Ctx, 0, false)
	if err != nil {
		return models.Result{}, err
	}
	if len(f.Data) != canDataLen {
		return models.Result{}, errors.Errorf("CAN frame has %d data bytes, expected %d", len(f.Data), canDataLen)
	}
	if err := models.WriteBytes(c, data, f.Data); err != nil {
		return models.Result{}, err
	}
	if err := c.WriteMemory(hdr+hdrIDE, 4, canIDExt); err != nil {
		return models.Result{}, err
	}
	if err := c.WriteMemory(hdr+hdrExtID, 4, uint64(f.ExtID)); err != nil {
		return models.Result{}, err
	}
	h.log.WithField("extid", f.ExtID).Debugf("rx % x", f.Data)
	if h.delay > 0 {
		time.Sleep(h.delay)
	}
	return models.Return(0), nil
}

// HAL_CAN_GetRxFifoFillLevel(hcan, RxFifo). Only FIFO 0 is modelled.
func (h *CAN) fifoLevel(c models.Cpu, addr models.Addr) (models.Result, error) {
	fifo, err := h.env.Profile.GetArg(c, 1)
	if err != nil {
		return models.Result{}, err
	}
	if fifo != 0 {
		h.log.Infof("fifo %d requested, ignoring", fifo)
		return models.Passthrough(), nil
	}
	n := h.model.FillLevel(0)
	if n != 0 {
		h.log.Debugf("rx fifo holds %d frames", n)
	}
	return models.Return(uint64(n)), nil
}
