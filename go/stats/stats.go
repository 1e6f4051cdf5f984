// Package stats keeps the process-wide intercept counters and the named
// address sets that are dumped to stats.yaml while a session runs.
package stats

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/apex/log"
	"github.com/lunixbochs/fvbommel-util/sortorder"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"gopkg.in/yaml.v3"
)

const (
	UsedIntercepts = "used_intercepts"

	MMIOReadAddrs  = "MMIO_read_addresses"
	MMIOWriteAddrs = "MMIO_write_addresses"
	MMIOAddrs      = "MMIO_addresses"
	MMIOAddrPC     = "MMIO_addr_pc"
)

// Intercept is the per-breakpoint record seeded at registration.
type Intercept struct {
	Function string `yaml:"function"`
	Class    string `yaml:"class"`
	Method   string `yaml:"method"`
	Addr     uint64 `yaml:"addr"`
	Count    int64  `yaml:"count"`
}

type entry struct {
	Intercept
	count *atomic.Int64
}

type Stats struct {
	path string

	mu         sync.Mutex
	intercepts map[int]*entry
	sets       map[string]map[string]struct{}
}

// New returns an empty Stats. An empty path disables writing.
func New(path string) *Stats {
	return &Stats{
		path:       path,
		intercepts: make(map[int]*entry),
		sets:       make(map[string]map[string]struct{}),
	}
}

func (s *Stats) Path() string { return s.path }

// AddIntercept seeds the counter for breakpoint id.
func (s *Stats) AddIntercept(id int, i Intercept) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i.Count = 0
	s.intercepts[id] = &entry{Intercept: i, count: atomic.NewInt64(0)}
}

// Hit increments the counter for id and returns the new count.
func (s *Stats) Hit(id int) int64 {
	s.mu.Lock()
	e, ok := s.intercepts[id]
	s.mu.Unlock()
	if !ok {
		return 0
	}
	return e.count.Inc()
}

func (s *Stats) Count(id int) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.intercepts[id]; ok {
		return e.count.Load()
	}
	return 0
}

// WriteOnUpdate adds value to the named set and rewrites the stats file if
// the set changed.
func (s *Stats) WriteOnUpdate(set, value string) error {
	s.mu.Lock()
	m, ok := s.sets[set]
	if !ok {
		m = make(map[string]struct{})
		s.sets[set] = m
	}
	_, seen := m[value]
	m[value] = struct{}{}
	s.mu.Unlock()
	if seen {
		return nil
	}
	return s.Write()
}

// Set returns the members of a named set in natural order.
func (s *Stats) Set(name string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.sets[name]))
	for k := range s.sets[name] {
		out = append(out, k)
	}
	sort.Sort(sortorder.Natural(out))
	return out
}

// Report is the on-disk form of Stats.
type Report struct {
	Intercepts map[int]Intercept   `yaml:"intercepts"`
	Sets       map[string][]string `yaml:"sets"`
}

func (s *Stats) Report() *Report {
	r := &Report{
		Intercepts: make(map[int]Intercept),
		Sets:       make(map[string][]string),
	}
	s.mu.Lock()
	names := make([]string, 0, len(s.sets))
	for id, e := range s.intercepts {
		i := e.Intercept
		i.Count = e.count.Load()
		r.Intercepts[id] = i
	}
	for name := range s.sets {
		names = append(names, name)
	}
	s.mu.Unlock()
	for _, name := range names {
		r.Sets[name] = s.Set(name)
	}
	return r
}

func (s *Stats) Write() error {
	if s.path == "" {
		return nil
	}
	data, err := yaml.Marshal(s.Report())
	if err != nil {
		return errors.Wrap(err, "marshal stats")
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return errors.WithStack(err)
	}
	// write then rename so readers never see a partial file
	tmp := s.path + ".tmp"
	if err := ioutil.WriteFile(tmp, data, 0644); err != nil {
		return errors.WithStack(err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errors.WithStack(err)
	}
	log.WithField("path", s.path).Debug("stats written")
	return nil
}

func Load(path string) (*Report, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	var r Report
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	return &r, nil
}
