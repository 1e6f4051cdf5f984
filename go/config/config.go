// Package config loads rehosting project files.
package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/apex/log"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/halcorn/halcorn/go/intercept"
	"github.com/halcorn/halcorn/go/models"
	"github.com/halcorn/halcorn/go/peripherals"
)

const (
	DefaultRxPort = 5555
	DefaultTxPort = 5556
	// GdbEnv overrides the gdbstub address.
	GdbEnv = "HALCORN_GDB"
)

// Memory is one memory_map entry. A file, when set, is loaded at
// BaseAddr+LoadOffset starting FileOffset bytes into the file.
type Memory struct {
	BaseAddr    uint64 `yaml:"base_addr"`
	Size        uint64 `yaml:"size"`
	Permissions string `yaml:"permissions,omitempty"`
	File        string `yaml:"file,omitempty"`
	FileOffset  uint64 `yaml:"file_offset,omitempty"`
	LoadOffset  uint64 `yaml:"load_offset,omitempty"`
	FileSize    uint64 `yaml:"file_size,omitempty"`
}

// Perms returns the r/w/x bits of the permission string (read, write,
// execute as 1, 2, 4). The default is rwx.
func (m *Memory) Perms() int {
	p := m.Permissions
	if p == "" {
		p = "rwx"
	}
	prot := 0
	for _, c := range p {
		switch c {
		case 'r':
			prot |= 1
		case 'w':
			prot |= 2
		case 'x':
			prot |= 4
		}
	}
	return prot
}

// Peripheral is an emulated MMIO window.
type Peripheral struct {
	Memory `yaml:",inline"`
	Ranges []peripherals.Range `yaml:"hal_ranges,omitempty"`
	LEDs   map[uint64]string   `yaml:"leds,omitempty"`
}

// Intercept is an intercepts entry. Addr is nil when the address is
// expected to come from an address file.
type Intercept struct {
	Function         string          `yaml:"function"`
	Addr             *models.RawAddr `yaml:"addr,omitempty"`
	Class            string          `yaml:"class"`
	Method           string          `yaml:"method,omitempty"`
	RegistrationArgs models.Args     `yaml:"registration_args,omitempty"`
	ClassArgs        models.Args     `yaml:"class_args,omitempty"`
}

func (i *Intercept) Descriptor() intercept.Descriptor {
	d := intercept.Descriptor{
		Function:         i.Function,
		Class:            i.Class,
		Method:           i.Method,
		RegistrationArgs: i.RegistrationArgs,
		ClassArgs:        i.ClassArgs,
	}
	if i.Addr != nil {
		d.Addr = *i.Addr
	}
	return d
}

type IPC struct {
	RxPort int `yaml:"rx_port"`
	TxPort int `yaml:"tx_port"`
}

type Project struct {
	Name         string   `yaml:"projectname"`
	Architecture string   `yaml:"architecture"`
	Include      []string `yaml:"include,omitempty"`
	// InitMemory names the memory_map entry holding the vector table.
	InitMemory string  `yaml:"init_memory"`
	NvicBase   *uint64 `yaml:"nvic_base,omitempty"`
	GdbAddr    string  `yaml:"gdb,omitempty"`
	QmpAddr    string  `yaml:"qmp,omitempty"`

	MemoryMap   map[string]*Memory     `yaml:"memory_map"`
	Peripherals map[string]*Peripheral `yaml:"peripherals,omitempty"`
	Intercepts  []*Intercept           `yaml:"intercepts"`
	IPC         IPC                    `yaml:"ipc"`
	Callables   map[string]uint64      `yaml:"callables,omitempty"`

	// BaseDir is the directory of the root file; relative paths resolve
	// against it.
	BaseDir string `yaml:"-"`
}

// Load reads path and merges its includes. Includes are applied in order
// and the including file wins every conflict.
func Load(path string) (*Project, error) {
	tree, err := loadTree(path, nil)
	if err != nil {
		return nil, err
	}
	// round trip through yaml to get typed fields out of the merged tree
	data, err := yaml.Marshal(tree)
	if err != nil {
		return nil, errors.Wrap(err, "re-encode merged config")
	}
	var p Project
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	p.BaseDir = filepath.Dir(path)
	p.setDefaults()
	return &p, p.Validate()
}

func loadTree(path string, seen []string) (map[string]interface{}, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	for _, s := range seen {
		if s == abs {
			return nil, errors.Errorf("include cycle: %s", strings.Join(append(seen, abs), " -> "))
		}
	}
	seen = append(seen, abs)
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	var root map[string]interface{}
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	if root == nil {
		root = make(map[string]interface{})
	}
	inc, ok := root["include"].([]interface{})
	if !ok || len(inc) == 0 {
		return root, nil
	}
	merged := make(map[string]interface{})
	for _, v := range inc {
		name, ok := v.(string)
		if !ok {
			return nil, errors.Errorf("%s: include entries must be paths, got %T", path, v)
		}
		if !filepath.IsAbs(name) {
			name = filepath.Join(filepath.Dir(path), name)
		}
		log.WithField("file", name).Info("including configuration")
		sub, err := loadTree(name, seen)
		if err != nil {
			return nil, err
		}
		merge(merged, sub)
	}
	merge(merged, root)
	delete(merged, "include")
	return merged, nil
}

// merge copies src into dst, descending into maps present on both sides.
func merge(dst, src map[string]interface{}) {
	for k, v := range src {
		sm, ok := v.(map[string]interface{})
		if dm, ok2 := dst[k].(map[string]interface{}); ok && ok2 {
			merge(dm, sm)
			continue
		}
		dst[k] = v
	}
}

func (p *Project) setDefaults() {
	if p.Name == "" {
		p.Name = "halcorn"
	}
	if p.InitMemory == "" {
		p.InitMemory = "flash"
	}
	if p.IPC.RxPort == 0 {
		p.IPC.RxPort = DefaultRxPort
	}
	if p.IPC.TxPort == 0 {
		p.IPC.TxPort = DefaultTxPort
	}
	if p.Callables == nil {
		p.Callables = make(map[string]uint64)
	}
	if env := os.Getenv(GdbEnv); env != "" {
		p.GdbAddr = env
	}
}

func (p *Project) Validate() error {
	if len(p.MemoryMap) == 0 {
		return errors.New("config: memory_map is required")
	}
	for name, m := range p.MemoryMap {
		if m == nil || m.Size == 0 {
			return errors.Errorf("config: memory %s has no size", name)
		}
	}
	for i, ic := range p.Intercepts {
		if ic == nil || ic.Function == "" || ic.Class == "" {
			return errors.Errorf("config: intercept %d needs function and class", i)
		}
	}
	return nil
}

// ResolvePath makes a file reference relative to the root config file.
func (p *Project) ResolvePath(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(p.BaseDir, path)
}

// Descriptors returns the intercepts ready for registration. Entries still
// lacking an address are skipped.
func (p *Project) Descriptors() []intercept.Descriptor {
	out := make([]intercept.Descriptor, 0, len(p.Intercepts))
	for _, ic := range p.Intercepts {
		if ic.Addr == nil {
			log.WithField("function", ic.Function).Warn("intercept has no address, skipping")
			continue
		}
		out = append(out, ic.Descriptor())
	}
	return out
}

// MemoryNames lists memory_map entries by base address.
func (p *Project) MemoryNames() []string {
	names := make([]string, 0, len(p.MemoryMap))
	for name := range p.MemoryMap {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return p.MemoryMap[names[i]].BaseAddr < p.MemoryMap[names[j]].BaseAddr
	})
	return names
}

// InitFile is the image holding the vector table or reset jump.
func (p *Project) InitFile() (string, error) {
	m, ok := p.MemoryMap[p.InitMemory]
	if !ok {
		return "", errors.Errorf("config: init_memory %q not in memory_map", p.InitMemory)
	}
	if m.File == "" {
		return "", errors.Errorf("config: init_memory %q has no file", p.InitMemory)
	}
	return p.ResolvePath(m.File), nil
}

// ReadMemoryFile returns the bytes a memory entry loads, honoring
// file_offset and file_size.
func (p *Project) ReadMemoryFile(m *Memory) ([]byte, error) {
	if m.File == "" {
		return nil, nil
	}
	data, err := ioutil.ReadFile(p.ResolvePath(m.File))
	if err != nil {
		return nil, errors.Wrap(err, "read memory file")
	}
	if m.FileOffset > uint64(len(data)) {
		return nil, errors.Errorf("%s: file_offset %#x past end of file", m.File, m.FileOffset)
	}
	data = data[m.FileOffset:]
	size := m.FileSize
	if size == 0 {
		size = m.Size - m.LoadOffset
	}
	if uint64(len(data)) > size {
		data = data[:size]
	}
	return data, nil
}
