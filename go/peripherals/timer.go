package peripherals

import (
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/pkg/errors"

	"github.com/halcorn/halcorn/go/models"
)

type timerIRQ struct {
	irq    int
	period time.Duration
	stop   chan struct{}
}

// Timer raises periodic interrupts on behalf of firmware timers. Timers are
// keyed by name (usually the peripheral base address).
type Timer struct {
	irq models.Interrupter
	log log.Interface

	mu     sync.Mutex
	timers map[string]*timerIRQ
	wg     sync.WaitGroup
}

func NewTimer(irq models.Interrupter) *Timer {
	return &Timer{irq: irq, log: log.WithField("model", "Timer"), timers: make(map[string]*timerIRQ)}
}

// Start (re)starts the named timer, raising irq every period.
func (t *Timer) Start(name string, irq int, period time.Duration) error {
	if t.irq == nil {
		return errors.Errorf("timer %s: target cannot raise interrupts", name)
	}
	if period <= 0 {
		return errors.Errorf("timer %s: invalid period %s", name, period)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.timers[name]; ok {
		close(old.stop)
	}
	ti := &timerIRQ{irq: irq, period: period, stop: make(chan struct{})}
	t.timers[name] = ti
	t.wg.Add(1)
	go t.run(name, ti)
	t.log.WithFields(log.Fields{"timer": name, "irq": irq}).Infof("started, period %s", period)
	return nil
}

func (t *Timer) run(name string, ti *timerIRQ) {
	defer t.wg.Done()
	ticker := time.NewTicker(ti.period)
	defer ticker.Stop()
	for {
		select {
		case <-ti.stop:
			return
		case <-ticker.C:
			if err := t.irq.TriggerInterrupt(ti.irq); err != nil {
				t.log.WithError(err).WithField("timer", name).Warn("raising interrupt")
			}
		}
	}
}

// Stop reports whether the named timer was running.
func (t *Timer) Stop(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	ti, ok := t.timers[name]
	if ok {
		close(ti.stop)
		delete(t.timers, name)
		t.log.WithField("timer", name).Info("stopped")
	}
	return ok
}

func (t *Timer) Running(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.timers[name]
	return ok
}

// Close stops every timer and waits for them to exit.
func (t *Timer) Close() {
	t.mu.Lock()
	for name, ti := range t.timers {
		close(ti.stop)
		delete(t.timers, name)
	}
	t.mu.Unlock()
	t.wg.Wait()
}
