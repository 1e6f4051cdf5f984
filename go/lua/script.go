// Package lua implements intercept handlers written in Lua.
//
// A script defines one global function per intercepted firmware function.
// Each is called with the hit address and returns (intercept, value), where
// intercept is a boolean or an {intercept, explode} pair.
package lua

import (
	"sync"

	"github.com/apex/log"
	"github.com/pkg/errors"
	"github.com/shibukawa/configdir"
	"github.com/yuin/gopher-lua"

	"github.com/halcorn/halcorn/go/intercept"
	"github.com/halcorn/halcorn/go/models"
)

const ClassName = "lua.Script"

func init() {
	intercept.RegisterClass(ClassName, New)
}

type Script struct {
	L   *lua.LState
	env *intercept.Env
	log log.Interface

	mu sync.Mutex
	// cpu is only set while a handler runs.
	cpu models.Cpu
}

// New loads a script from class_args "file" or inline "source".
func New(env *intercept.Env, args models.Args) (intercept.Handler, error) {
	s := &Script{
		L:   lua.NewState(),
		env: env,
		log: log.WithField("component", "lua"),
	}
	if err := s.loadBindings(); err != nil {
		s.L.Close()
		return nil, errors.Wrap(err, "failed to load lua bindings")
	}
	configDirs := configdir.New("halcorn", "lua")
	for _, config := range configDirs.QueryFolders(configdir.All) {
		if data, err := config.ReadFile("init.lua"); err == nil {
			if err := s.L.DoString(string(data)); err != nil {
				s.log.WithError(err).Warn("error while reading init.lua")
			}
		}
	}
	var err error
	if file := args.String("file", ""); file != "" {
		err = s.L.DoFile(file)
	} else if src := args.String("source", ""); src != "" {
		err = s.L.DoString(src)
	} else {
		err = errors.New("lua class needs a file or source argument")
	}
	if err != nil {
		s.L.Close()
		return nil, err
	}
	return s, nil
}

// RegisterHandler binds function to the global of the same name, or to the
// one named by the "handler" registration arg.
func (s *Script) RegisterHandler(addr models.Addr, function string, args models.Args) (intercept.Method, string, error) {
	name := args.String("handler", function)
	s.mu.Lock()
	fn, ok := s.L.GetGlobal(name).(*lua.LFunction)
	s.mu.Unlock()
	if !ok {
		return nil, "", errors.Errorf("script has no function %q", name)
	}
	return func(c models.Cpu, addr models.Addr) (models.Result, error) {
		return s.call(fn, c, addr)
	}, name, nil
}

func (s *Script) call(fn *lua.LFunction, c models.Cpu, addr models.Addr) (models.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cpu = c
	defer func() { s.cpu = nil }()

	base := s.L.GetTop()
	err := s.L.CallByParam(lua.P{Fn: fn, NRet: 2, Protect: true}, lua.LNumber(addr))
	if err != nil {
		return models.Result{}, err
	}
	ret, val := s.L.Get(-2), s.L.Get(-1)
	s.L.SetTop(base)

	icept, err := interceptValue(ret)
	if err != nil {
		return models.Result{}, err
	}
	return models.LegacyResult(icept, goValue(val))
}

func (s *Script) Close() {
	s.mu.Lock()
	s.L.Close()
	s.mu.Unlock()
}
