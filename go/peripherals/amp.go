package peripherals

import (
	"context"

	"github.com/apex/log"

	"github.com/halcorn/halcorn/go/bus"
)

const AMPName = "AMP"

// AMP keeps the most recent data vector sent by the dashboard. Entries may
// be nil for bytes the sender leaves alone.
type AMP struct {
	box *bus.Mailbox[[]interface{}]
	log log.Interface
}

func NewAMP() *AMP {
	return &AMP{box: bus.NewMailbox[[]interface{}](), log: log.WithField("model", AMPName)}
}

func (a *AMP) Name() string { return AMPName }
func (a *AMP) Tx() []string { return nil }
func (a *AMP) Rx() map[string]bus.RxFunc {
	return map[string]bus.RxFunc{"rx_data": a.rxData}
}

func (a *AMP) rxData(p bus.Payload) error {
	data, err := p.List("data")
	if err != nil {
		return err
	}
	a.log.Debugf("rx %v", data)
	a.box.Put(data)
	return nil
}

// Data returns the last vector received, if any.
func (a *AMP) Data() ([]interface{}, bool) {
	return a.box.Get()
}

// Last returns the final non-nil byte of the current vector.
func (a *AMP) Last() (byte, bool) {
	data, ok := a.box.Get()
	if !ok {
		return 0, false
	}
	return lastByte(data)
}

// Wait blocks until a vector newer than seq arrives.
func (a *AMP) Wait(ctx context.Context, seq uint64) ([]interface{}, uint64, error) {
	return a.box.Wait(ctx, seq)
}

func lastByte(data []interface{}) (byte, bool) {
	var val byte
	found := false
	for _, v := range data {
		if v == nil {
			continue
		}
		n, err := bus.Payload{"v": v}.Uint("v")
		if err != nil {
			continue
		}
		val, found = byte(n), true
	}
	return val, found
}
