package intercept

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/halcorn/halcorn/go/bus"
	"github.com/halcorn/halcorn/go/models"
	"github.com/halcorn/halcorn/go/peripherals"
	"github.com/halcorn/halcorn/go/stats"
)

// Method is one bound intercept handler. addr is the normalized hit address.
type Method func(c models.Cpu, addr models.Addr) (models.Result, error)

// Handler is a handler class instance. RegisterHandler picks the method for
// function and records any per-address registration arguments.
type Handler interface {
	RegisterHandler(addr models.Addr, function string, args models.Args) (Method, string, error)
}

// Env is the session state handler constructors may hold on to.
type Env struct {
	Ctx         context.Context
	Profile     *models.Profile
	Bus         *bus.Bus
	Stats       *stats.Stats
	Interrupter models.Interrupter
	Peripherals *peripherals.Set
	// Callables maps function names to normalized addresses.
	Callables map[string]models.Addr
}

// Callable looks up a function address for PC redirection.
func (e *Env) Callable(name string) (models.Addr, error) {
	if a, ok := e.Callables[name]; ok {
		return a, nil
	}
	return 0, errors.Errorf("no address for callable %q (missing from address file?)", name)
}

// Factory constructs a class instance from its class_args.
type Factory func(env *Env, args models.Args) (Handler, error)

var (
	classMu sync.RWMutex
	classes = make(map[string]Factory)
)

// RegisterClass adds a handler class to the class table. Handler packages
// call it from init().
func RegisterClass(name string, f Factory) {
	classMu.Lock()
	defer classMu.Unlock()
	if _, ok := classes[name]; ok {
		panic("intercept: class registered twice: " + name)
	}
	classes[name] = f
}

func lookupClass(name string) (Factory, bool) {
	classMu.RLock()
	defer classMu.RUnlock()
	f, ok := classes[name]
	return f, ok
}

// Classes lists the class table.
func Classes() []string {
	classMu.RLock()
	defer classMu.RUnlock()
	out := make([]string, 0, len(classes))
	for name := range classes {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Table maps function names to methods. Handler classes embed it and bind
// their methods in the constructor.
type Table struct {
	methods map[string]Method
	funcs   map[string]string
}

// Bind registers fn under name and routes each of functions to it.
func (t *Table) Bind(name string, fn Method, functions ...string) {
	if t.methods == nil {
		t.methods = make(map[string]Method)
		t.funcs = make(map[string]string)
	}
	t.methods[name] = fn
	for _, f := range functions {
		t.funcs[f] = name
	}
}

// Method returns the method bound under name.
func (t *Table) Method(name string) (Method, bool) {
	fn, ok := t.methods[name]
	return fn, ok
}

// Lookup returns the method handling function.
func (t *Table) Lookup(function string) (Method, string, error) {
	name, ok := t.funcs[function]
	if !ok {
		return nil, "", errors.Errorf("no method handles %q", function)
	}
	return t.methods[name], name, nil
}

// RegisterHandler is the default for classes without registration args.
func (t *Table) RegisterHandler(addr models.Addr, function string, args models.Args) (Method, string, error) {
	return t.Lookup(function)
}

// MethodTable is implemented by handlers built on Table, so configuration
// can name a method explicitly.
type MethodTable interface {
	Method(name string) (Method, bool)
}
