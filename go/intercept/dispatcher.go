package intercept

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/apex/log"
	"github.com/pkg/errors"

	"github.com/halcorn/halcorn/go/bus"
	"github.com/halcorn/halcorn/go/models"
	"github.com/halcorn/halcorn/go/stats"
)

// Dispatcher turns breakpoint stops into handler calls.
type Dispatcher struct {
	Registry *Registry
	Profile  *models.Profile
	Stats    *stats.Stats

	log log.Interface
}

func NewDispatcher(r *Registry, p *models.Profile, s *stats.Stats) *Dispatcher {
	return &Dispatcher{
		Registry: r,
		Profile:  p,
		Stats:    s,
		log:      log.WithField("component", "dispatch"),
	}
}

// Handle services one stop. It resumes the CPU unless the handler failed or
// requested a fault, in which case the error is returned and the CPU is left
// stopped. A handler whose blocking read was woken by shutdown returns
// bus.ErrAborted unwrapped.
func (d *Dispatcher) Handle(c models.Cpu, stop *models.Stop) error {
	if d.Registry.Len() == 0 {
		return c.Continue()
	}
	b, err := d.resolve(stop)
	if err != nil {
		d.log.WithFields(log.Fields{
			"bp":   stop.Breakpoint,
			"addr": stop.Addr,
		}).Warn("no intercept bound, continuing")
		return c.Continue()
	}
	desc := b.Descriptor
	if d.Stats != nil {
		d.Stats.Hit(b.ID)
		if err := d.Stats.WriteOnUpdate(stats.UsedIntercepts, desc.Function); err != nil {
			d.log.WithError(err).Warn("writing stats")
		}
	}
	ctx := d.log.WithFields(log.Fields{
		"bp":       b.ID,
		"function": desc.Function,
		"addr":     b.Addr,
		"method":   desc.Class + "." + b.MethodName,
	})
	res, err := d.invoke(c, b)
	if errors.Cause(err) == bus.ErrAborted {
		ctx.Debug("read aborted by shutdown")
		return bus.ErrAborted
	}
	if err != nil {
		herr := &HandlerError{
			Class:    desc.Class,
			Method:   b.MethodName,
			Function: desc.Function,
			Addr:     b.Addr,
			Err:      err,
		}
		ctx.WithError(err).Error("handler failed")
		return herr
	}
	ctx.Debugf("handled: %s", res)
	if res.Intercept {
		if err := d.Profile.ApplyReturn(c, res.Value, res.HasValue, res.Explode); err != nil {
			if models.IsFault(err) {
				ctx.Warn("fault injected")
			}
			return err
		}
	}
	return c.Continue()
}

func (d *Dispatcher) resolve(stop *models.Stop) (*Binding, error) {
	if stop.Breakpoint == models.NoBreakpoint {
		return d.Registry.ResolveAddr(d.Profile.Canonical(stop.Addr))
	}
	return d.Registry.Resolve(stop.Breakpoint)
}

func (d *Dispatcher) invoke(c models.Cpu, b *Binding) (res models.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Debugf("handler panic stack:\n%s", debug.Stack())
			if e, ok := r.(error); ok {
				err = errors.Wrap(e, "panic")
			} else {
				err = errors.New(fmt.Sprintf("panic: %v", r))
			}
		}
	}()
	return b.Method(c, b.Addr)
}

// Run services stops from t until ctx is cancelled or a handler fails.
func (d *Dispatcher) Run(ctx context.Context, t models.Target) error {
	for {
		stop, err := t.Wait(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "wait for stop")
		}
		if err := d.Handle(t, stop); err != nil {
			if err == bus.ErrAborted && ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}
