// Package session assembles a rehosting run: target, peripheral bus,
// models, intercepts and the dispatch loop.
package session

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/apex/log"
	"github.com/pkg/errors"

	"github.com/halcorn/halcorn/go/arch"
	"github.com/halcorn/halcorn/go/bus"
	"github.com/halcorn/halcorn/go/config"
	"github.com/halcorn/halcorn/go/intercept"
	"github.com/halcorn/halcorn/go/loader"
	"github.com/halcorn/halcorn/go/models"
	"github.com/halcorn/halcorn/go/models/cpu"
	"github.com/halcorn/halcorn/go/peripherals"
	"github.com/halcorn/halcorn/go/stats"
	"github.com/halcorn/halcorn/go/target/gdb"
	"github.com/halcorn/halcorn/go/target/qmp"
	"github.com/halcorn/halcorn/go/target/unicorn"
)

// Target backends accepted in models.Config.Target.
const (
	TargetGdb     = "gdb"
	TargetUnicorn = "unicorn"
	TargetSim     = "sim"
)

const DefaultGdbAddr = "localhost:1234"

type Option func(s *Session)

// WithTransport replaces the ZeroMQ sockets, mostly for tests.
func WithTransport(t bus.Transport) Option {
	return func(s *Session) { s.transport = t }
}

// WithTarget uses an already connected target instead of building one.
func WithTarget(t models.Target) Option {
	return func(s *Session) { s.Target = t }
}

type Session struct {
	Config  *models.Config
	Project *config.Project
	Profile *models.Profile

	Target      models.Target
	Interrupter models.Interrupter
	Bus         *bus.Bus
	Peripherals *peripherals.Set
	Stats       *stats.Stats
	Registry    *intercept.Registry
	Dispatcher  *intercept.Dispatcher

	transport bus.Transport
	monitor   *qmp.Monitor
	log       log.Interface
	ctx       context.Context
	cancel    context.CancelFunc
}

// noIRQ stands in when neither the target nor a monitor can raise
// interrupts.
type noIRQ struct{}

func (noIRQ) TriggerInterrupt(num int) error {
	return errors.Errorf("no interrupt controller for irq %d (set qmp in the config)", num)
}

// New builds a session. Nothing runs until Run.
func New(ctx context.Context, conf *models.Config, proj *config.Project, opts ...Option) (*Session, error) {
	p, err := arch.Get(proj.Architecture)
	if err != nil {
		return nil, err
	}
	s := &Session{
		Config:  conf,
		Project: proj,
		Profile: p,
		log:     log.WithField("component", "session"),
	}
	for _, o := range opts {
		o(s)
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	if err := s.setup(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Session) statsPath() string {
	if s.Config.StatsFile != "" {
		return s.Config.ResolvePath(s.Config.StatsFile)
	}
	return s.Config.OutputPath("stats.yaml")
}

func (s *Session) setup() error {
	s.Stats = stats.New(s.statsPath())

	if s.transport == nil {
		t, err := bus.ListenZMQ(s.Config.RxPort, s.Config.TxPort)
		if err != nil {
			return err
		}
		s.transport = t
	}
	// the recorder is opened last so Close can always reach it through Bus
	var busOpts []bus.Option
	if s.Config.BusRecord != "" {
		f, err := os.Create(s.Config.BusRecord)
		if err != nil {
			return errors.Wrap(err, "bus record")
		}
		rec, err := bus.NewRecorder(f)
		if err != nil {
			f.Close()
			return err
		}
		busOpts = append(busOpts, bus.WithRecorder(rec))
	}
	s.Bus = bus.New(s.transport, nil, busOpts...)

	if s.Target == nil {
		t, err := s.makeTarget()
		if err != nil {
			return err
		}
		s.Target = t
	}
	irq, err := s.interrupter()
	if err != nil {
		return err
	}
	s.Interrupter = irq

	set := peripherals.NewSet(s.Bus, irq)
	set.SetReadTimeout(s.Config.ReadTimeout)
	s.Peripherals = set
	if err := s.addRegions(); err != nil {
		return err
	}
	for _, m := range set.Models() {
		if err := s.Bus.Registry.Add(m); err != nil {
			return err
		}
	}

	env := &intercept.Env{
		Ctx:         s.ctx,
		Profile:     s.Profile,
		Bus:         s.Bus,
		Stats:       s.Stats,
		Interrupter: irq,
		Peripherals: set,
		Callables:   s.Project.CallableAddrs(s.Profile),
	}
	s.Registry = intercept.NewRegistry(env, s.Target)
	descs := s.Project.Descriptors()
	n := s.Registry.RegisterAll(descs)
	s.log.Infof("registered %d of %d intercepts", n, len(descs))
	s.Dispatcher = intercept.NewDispatcher(s.Registry, s.Profile, s.Stats)
	return nil
}

func (s *Session) makeTarget() (models.Target, error) {
	switch s.Config.Target {
	case "", TargetGdb:
		addr := s.Config.GdbAddr
		if addr == "" {
			addr = s.Project.GdbAddr
		}
		if addr == "" {
			addr = DefaultGdbAddr
		}
		s.log.WithField("addr", addr).Info("connecting to gdbstub")
		return gdb.Dial(s.ctx, addr, s.Profile)
	case TargetUnicorn:
		t, err := unicorn.New(s.Profile)
		if err != nil {
			return nil, err
		}
		if err := s.loadMemory(t.Map); err != nil {
			t.Close()
			return nil, err
		}
		if err := s.reset(t); err != nil {
			t.Close()
			return nil, err
		}
		return t, nil
	case TargetSim:
		t := cpu.NewSim(s.Profile)
		err := s.loadMemory(func(addr, size uint64, prot int, data []byte) error {
			t.Mem.Map(addr, size)
			if len(data) > 0 {
				return t.Mem.Write(addr, data)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		if err := s.reset(t); err != nil {
			return nil, err
		}
		return t, nil
	}
	return nil, errors.Errorf("unknown target %q (gdb, unicorn or sim)", s.Config.Target)
}

type mapFunc func(addr, size uint64, prot int, data []byte) error

func (s *Session) loadMemory(mapFn mapFunc) error {
	for _, name := range s.Project.MemoryNames() {
		m := s.Project.MemoryMap[name]
		data, err := s.Project.ReadMemoryFile(m)
		if err != nil {
			return errors.Wrap(err, name)
		}
		if m.LoadOffset > 0 && len(data) > 0 {
			data = append(make([]byte, m.LoadOffset), data...)
		}
		s.log.WithFields(log.Fields{
			"memory": name,
			"addr":   m.BaseAddr,
			"size":   m.Size,
		}).Debug("map")
		if err := mapFn(m.BaseAddr, m.Size, m.Perms(), data); err != nil {
			return errors.Wrap(err, name)
		}
	}
	return nil
}

// reset points an in-process target at the firmware's reset handler. QEMU
// does this itself.
func (s *Session) reset(c models.Cpu) error {
	path, err := s.Project.InitFile()
	if err != nil {
		s.log.WithError(err).Warn("no reset state")
		return nil
	}
	r, err := loader.ResetStateFile(s.Profile.Arch, path)
	if err != nil {
		return err
	}
	s.log.WithFields(log.Fields{"sp": r.SP, "entry": r.Entry}).Info("reset")
	if err := c.WriteRegister(s.Profile.SP, r.SP); err != nil {
		return err
	}
	return c.WriteRegister(s.Profile.PC, r.Entry)
}

type vectorBaser interface {
	SetVectorTableBase(base uint64) error
}

func (s *Session) interrupter() (models.Interrupter, error) {
	base := uint64(qmp.DefaultVectorBase)
	if s.Project.NvicBase != nil {
		base = *s.Project.NvicBase
	}
	var irq models.Interrupter
	addr := s.Config.QmpAddr
	if addr == "" {
		addr = s.Project.QmpAddr
	}
	if addr != "" {
		m, err := qmp.Dial(s.ctx, addr)
		if err != nil {
			return nil, err
		}
		s.monitor = m
		irq = m
	} else if i, ok := s.Target.(models.Interrupter); ok {
		irq = i
	} else {
		s.log.Warn("target cannot raise interrupts")
		return noIRQ{}, nil
	}
	if vb, ok := irq.(vectorBaser); ok && s.Profile.Arch == models.CortexM {
		if err := vb.SetVectorTableBase(base); err != nil {
			return nil, errors.Wrap(err, "set vector table base")
		}
	}
	return irq, nil
}

func sortedKeys(m map[string]*config.Peripheral) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// mmioTarget is a target that can serve MMIO windows in-process.
type mmioTarget interface {
	AttachMMIO(r *peripherals.Region) error
}

func (s *Session) addRegions() error {
	for _, name := range sortedKeys(s.Project.Peripherals) {
		pc := s.Project.Peripherals[name]
		for _, led := range pc.LEDs {
			s.Peripherals.LED.Add(led, 4, 0)
		}
		r, err := peripherals.NewRegion(name, pc.BaseAddr, pc.Size, pc.Ranges, s.Peripherals.LED, s.Stats)
		if err != nil {
			return err
		}
		for addr, led := range pc.LEDs {
			r.LEDs[addr] = led
		}
		s.Peripherals.Regions = append(s.Peripherals.Regions, r)
		if t, ok := s.Target.(mmioTarget); ok {
			if err := t.AttachMMIO(r); err != nil {
				return errors.Wrap(err, name)
			}
		} else {
			s.log.WithField("mmio", name).Debug("target serves MMIO itself")
		}
	}
	return nil
}

// Run starts the bus and the firmware and services intercepts until ctx is
// cancelled or a handler fails.
func (s *Session) Run() error {
	if err := os.MkdirAll(filepath.Dir(s.statsPath()), 0755); err != nil {
		return errors.WithStack(err)
	}
	if err := s.Bus.Start(s.ctx); err != nil {
		return err
	}
	s.log.Info("starting firmware")
	if err := s.Target.Continue(); err != nil {
		return errors.Wrap(err, "start target")
	}
	return s.Dispatcher.Run(s.ctx, s.Target)
}

// Close cancels the session, wakes blocked handlers, then tears down the
// target and the bus. Stats are written last.
func (s *Session) Close() error {
	s.cancel()
	var err error
	keep := func(e error) {
		if e != nil && err == nil {
			err = e
		}
	}
	if s.Peripherals != nil {
		s.Peripherals.Close()
	}
	if s.Target != nil {
		keep(s.Target.Close())
	}
	if s.monitor != nil {
		keep(s.monitor.Close())
	}
	if s.Bus != nil {
		keep(s.Bus.Close())
	} else if s.transport != nil {
		keep(s.transport.Close())
	}
	if s.Stats != nil {
		keep(s.Stats.Write())
	}
	return err
}
