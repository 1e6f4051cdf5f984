// Package avr intercepts the Arduino core on AVR8 targets.
package avr

import (
	"github.com/apex/log"
	"github.com/pkg/errors"

	"github.com/halcorn/halcorn/go/intercept"
	"github.com/halcorn/halcorn/go/models"
	"github.com/halcorn/halcorn/go/peripherals"
)

const (
	serialBufferSize = 255
	// HardwareSerial lives at this offset into SRAM; the byte being
	// written sits at txByte within the object.
	sramOffset = 0x100
	txByte     = 0x16
)

func init() {
	intercept.RegisterClass("avr8.Serial", NewSerial)
	intercept.RegisterClass("avr8.IVT", NewIVT)
}

// Serial publishes every byte written through HardwareSerial. Output is not
// buffered, but the occupancy the firmware believes in is tracked until the
// next flush.
type Serial struct {
	intercept.Table
	env        *intercept.Env
	model      *peripherals.Serial
	bufferHead uint64
	log        log.Interface
}

func NewSerial(env *intercept.Env, args models.Args) (intercept.Handler, error) {
	if env.Peripherals == nil {
		return nil, errors.New("serial handler needs peripheral models")
	}
	h := &Serial{env: env, model: env.Peripherals.Serial, log: log.WithField("handler", "avr8.Serial")}
	h.Bind("status", h.status, "_ZN14HardwareSerial9availableEv")
	h.Bind("write_status", h.writeStatus, "_ZN14HardwareSerial17availableForWriteEv")
	h.Bind("write", h.write, "_ZN14HardwareSerial5writeEh")
	h.Bind("flush", h.flush, "_ZN14HardwareSerial5flushEv")
	h.Bind("other", h.other,
		"_ZN14HardwareSerial4readEv",
		"_ZN14HardwareSerial4peekEv",
		"_ZN14HardwareSerial17_tx_udr_empty_irqEv")
	return h, nil
}

func (h *Serial) status(c models.Cpu, addr models.Addr) (models.Result, error) {
	return models.Return(serialBufferSize), nil
}

func (h *Serial) writeStatus(c models.Cpu, addr models.Addr) (models.Result, error) {
	return models.Return(serialBufferSize - 1 + h.bufferHead), nil
}

func (h *Serial) write(c models.Cpu, addr models.Addr) (models.Result, error) {
	lo, err := c.ReadRegister("r24")
	if err != nil {
		return models.Result{}, err
	}
	hi, err := c.ReadRegister("r29")
	if err != nil {
		return models.Result{}, err
	}
	sram := h.env.Profile.DataBase + sramOffset + (lo | hi<<8)
	b, err := models.ReadUint(c, sram+txByte, 1)
	if err != nil {
		return models.Result{}, err
	}
	h.log.Debugf("write %#02x", b)
	if err := h.model.Write([]byte{byte(b)}); err != nil {
		return models.Result{}, err
	}
	h.bufferHead++
	return models.Return(1), nil
}

func (h *Serial) flush(c models.Cpu, addr models.Addr) (models.Result, error) {
	h.bufferHead = 0
	return models.Return(1), nil
}

func (h *Serial) other(c models.Cpu, addr models.Addr) (models.Result, error) {
	return models.Return(0), nil
}

// IVT logs the reset vector and lets it run.
type IVT struct {
	intercept.Table
}

func NewIVT(env *intercept.Env, args models.Args) (intercept.Handler, error) {
	h := &IVT{}
	h.Bind("reset", func(c models.Cpu, addr models.Addr) (models.Result, error) {
		log.WithField("handler", "avr8.IVT").Info("reset vector executed")
		return models.Passthrough(), nil
	}, "__RESET")
	return h, nil
}
