package peripherals

import (
	"time"

	"github.com/halcorn/halcorn/go/bus"
	"github.com/halcorn/halcorn/go/models"
)

// Set is the collection of models a session exposes to handlers.
type Set struct {
	Serial  *Serial
	CAN     *CanBus
	AMP     *AMP
	LED     *LED
	Timer   *Timer
	Regions []*Region
}

func NewSet(pub bus.Publisher, irq models.Interrupter) *Set {
	return &Set{
		Serial: NewSerial(SerialName, pub),
		CAN:    NewCanBus(pub),
		AMP:    NewAMP(),
		LED:    NewLED(pub),
		Timer:  NewTimer(irq),
	}
}

// Models lists the bus-attached members.
func (s *Set) Models() []bus.Model {
	return []bus.Model{s.Serial, s.CAN, s.AMP, s.LED}
}

func (s *Set) SetReadTimeout(d time.Duration) {
	s.Serial.SetReadTimeout(d)
	s.CAN.SetReadTimeout(d)
}

// Region returns the MMIO region containing addr.
func (s *Set) Region(addr uint64) *Region {
	for _, r := range s.Regions {
		if r.Contains(addr) {
			return r
		}
	}
	return nil
}

// Close stops timers and wakes blocked readers.
func (s *Set) Close() {
	s.Timer.Close()
	s.Serial.Close()
	s.CAN.Close()
}
