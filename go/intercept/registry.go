// Package intercept binds firmware functions to handler methods through
// breakpoints and dispatches breakpoint hits to them.
package intercept

import (
	"sort"
	"sync"

	"github.com/apex/log"
	"github.com/pkg/errors"

	"github.com/halcorn/halcorn/go/models"
	"github.com/halcorn/halcorn/go/stats"
)

// Descriptor is one intercept entry from configuration.
type Descriptor struct {
	Function         string         `yaml:"function"`
	Addr             models.RawAddr `yaml:"addr"`
	Class            string         `yaml:"class"`
	Method           string         `yaml:"method,omitempty"`
	RegistrationArgs models.Args    `yaml:"registration_args,omitempty"`
	ClassArgs        models.Args    `yaml:"class_args,omitempty"`
}

// Binding ties a breakpoint id to its handler. Created once per Descriptor.
type Binding struct {
	ID         int
	Addr       models.Addr
	Descriptor Descriptor
	Handler    Handler
	Method     Method
	MethodName string
}

type Registry struct {
	env *Env
	cpu models.Cpu
	log log.Interface

	mu        sync.RWMutex
	instances map[string]Handler
	byID      map[int]*Binding
	byAddr    map[models.Addr]int
}

func NewRegistry(env *Env, c models.Cpu) *Registry {
	return &Registry{
		env:       env,
		cpu:       c,
		log:       log.WithField("component", "intercept"),
		instances: make(map[string]Handler),
		byID:      make(map[int]*Binding),
		byAddr:    make(map[models.Addr]int),
	}
}

// instance returns the class singleton, constructing it with args on first
// use. Later class_args for the same class are ignored.
func (r *Registry) instance(class string, args models.Args) (Handler, error) {
	if h, ok := r.instances[class]; ok {
		return h, nil
	}
	f, ok := lookupClass(class)
	if !ok {
		return nil, errors.Errorf("unknown handler class %q", class)
	}
	h, err := f(r.env, args)
	if err != nil {
		return nil, errors.Wrapf(err, "construct %s", class)
	}
	r.instances[class] = h
	return h, nil
}

// Instance returns a class singleton if it was constructed.
func (r *Registry) Instance(class string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.instances[class]
	return h, ok
}

// Register binds one descriptor. Every failure is a *RegistrationError.
func (r *Registry) Register(desc Descriptor) (*Binding, error) {
	fail := func(err error) (*Binding, error) {
		return nil, &RegistrationError{desc.Function, desc.Class, desc.Addr, err}
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	h, err := r.instance(desc.Class, desc.ClassArgs)
	if err != nil {
		return fail(err)
	}
	addr := r.env.Profile.Normalize(desc.Addr)
	if id, ok := r.byAddr[addr]; ok {
		return fail(errors.Errorf("address %s already bound to breakpoint %d", addr, id))
	}
	method, name, err := h.RegisterHandler(addr, desc.Function, desc.RegistrationArgs)
	// an explicit method overrides the function name lookup
	if desc.Method != "" {
		mt, ok := h.(MethodTable)
		if !ok {
			return fail(errors.Errorf("class %s has no named methods", desc.Class))
		}
		if method, ok = mt.Method(desc.Method); !ok {
			return fail(errors.Errorf("class %s has no method %q", desc.Class, desc.Method))
		}
		name, err = desc.Method, nil
	}
	if err != nil {
		return fail(err)
	}
	if method == nil {
		return fail(errors.Errorf("no method for %s", desc.Function))
	}
	id, err := r.cpu.SetBreakpoint(uint64(addr))
	if err != nil {
		return fail(errors.Wrap(err, "set breakpoint"))
	}
	if _, ok := r.byID[id]; ok {
		return fail(errors.Errorf("breakpoint id %d reused", id))
	}
	b := &Binding{
		ID:         id,
		Addr:       addr,
		Descriptor: desc,
		Handler:    h,
		Method:     method,
		MethodName: name,
	}
	r.byID[id] = b
	r.byAddr[addr] = id
	if r.env.Stats != nil {
		r.env.Stats.AddIntercept(id, stats.Intercept{
			Function: desc.Function,
			Class:    desc.Class,
			Method:   name,
			Addr:     uint64(addr),
		})
	}
	r.log.WithFields(log.Fields{
		"bp":       id,
		"function": desc.Function,
		"addr":     addr,
		"method":   desc.Class + "." + name,
	}).Info("breakpoint set")
	return b, nil
}

// RegisterAll binds every descriptor, logging and skipping failures. It
// returns the number bound.
func (r *Registry) RegisterAll(descs []Descriptor) int {
	n := 0
	for _, d := range descs {
		if _, err := r.Register(d); err != nil {
			r.log.WithError(err).Error("skipping intercept")
			continue
		}
		n++
	}
	return n
}

func (r *Registry) Resolve(id int) (*Binding, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if b, ok := r.byID[id]; ok {
		return b, nil
	}
	return nil, errors.Wrapf(ErrNotFound, "breakpoint %d", id)
}

// ResolveAddr finds the binding at a normalized address.
func (r *Registry) ResolveAddr(addr models.Addr) (*Binding, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id, ok := r.byAddr[addr]; ok {
		return r.byID[id], nil
	}
	return nil, errors.Wrapf(ErrNotFound, "address %s", addr)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Bindings returns every binding ordered by breakpoint id.
func (r *Registry) Bindings() []*Binding {
	r.mu.RLock()
	out := make([]*Binding, 0, len(r.byID))
	for _, b := range r.byID {
		out = append(out, b)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
