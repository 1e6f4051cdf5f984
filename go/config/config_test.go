package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/halcorn/halcorn/go/arch/cortexm"
	"github.com/halcorn/halcorn/go/models"
)

const baseYAML = `
architecture: avr
memory_map:
  flash: {base_addr: 0x08000000, size: 0x100000, permissions: r-x, file: fw.bin}
  ram: {base_addr: 0x20000000, size: 0x20000}
ipc: {rx_port: 6000}
intercepts:
  - {function: HAL_Init, class: stm32f4.TIM}
`

const rootYAML = `
include: [base.yaml]
architecture: cortex-m3
memory_map:
  ram: {size: 0x40000}
peripherals:
  leds:
    base_addr: 0x40000000
    size: 0x1000
    hal_ranges:
      - {offset: 0x34, size: 4, action: model}
intercepts:
  - {function: HAL_CAN_Init, addr: 0x08001235, class: stm32f4.CAN, class_args: {delay: 0}}
  - {function: HAL_TIM_Base_Init, class: stm32f4.TIM}
`

const addrYAML = `
architecture: cortex-m3
base_address: 0x08000000
entry_point: 0x08000189
symbols:
  0x08001001: HAL_TIM_Base_Init
  0x08002001: HAL_TIM_PeriodElapsedCallback
`

func writeFiles(t *testing.T, files map[string]string) string {
	dir, err := ioutil.TempDir("", "halcorn-config")
	if err != nil {
		t.Fatal(err)
	}
	for name, body := range files {
		if err := ioutil.WriteFile(filepath.Join(dir, name), []byte(body), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestLoadInclude(t *testing.T) {
	dir := writeFiles(t, map[string]string{"base.yaml": baseYAML, "root.yaml": rootYAML})
	defer os.RemoveAll(dir)
	p, err := Load(filepath.Join(dir, "root.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if p.Architecture != "cortex-m3" {
		t.Fatalf("root file lost architecture: %q", p.Architecture)
	}
	ram := p.MemoryMap["ram"]
	if ram.BaseAddr != 0x20000000 || ram.Size != 0x40000 {
		t.Fatalf("ram not merged: %+v", ram)
	}
	if flash := p.MemoryMap["flash"]; flash == nil || flash.Perms() != 5 {
		t.Fatalf("flash: %+v", flash)
	}
	if p.IPC.RxPort != 6000 || p.IPC.TxPort != DefaultTxPort {
		t.Fatalf("ipc: %+v", p.IPC)
	}
	// lists are replaced, not appended
	if len(p.Intercepts) != 2 || p.Intercepts[0].Function != "HAL_CAN_Init" {
		t.Fatalf("intercepts: %+v", p.Intercepts)
	}
	if *p.Intercepts[0].Addr != 0x08001235 {
		t.Fatalf("addr = %#x", *p.Intercepts[0].Addr)
	}
	if rg := p.Peripherals["leds"].Ranges; len(rg) != 1 || rg[0].Action != "model" {
		t.Fatalf("ranges: %+v", rg)
	}
	if got := p.ResolvePath("fw.bin"); got != filepath.Join(dir, "fw.bin") {
		t.Fatalf("ResolvePath = %s", got)
	}
	if len(p.Descriptors()) != 1 {
		t.Fatal("intercept without address was not skipped")
	}
}

func TestIncludeCycle(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"a.yaml": "include: [b.yaml]\n",
		"b.yaml": "include: [a.yaml]\n",
	})
	defer os.RemoveAll(dir)
	if _, err := Load(filepath.Join(dir, "a.yaml")); err == nil {
		t.Fatal("include cycle accepted")
	}
}

func TestMissingMemoryMap(t *testing.T) {
	dir := writeFiles(t, map[string]string{"c.yaml": "architecture: cortexm\n"})
	defer os.RemoveAll(dir)
	if _, err := Load(filepath.Join(dir, "c.yaml")); err == nil {
		t.Fatal("config without memory_map accepted")
	}
}

func TestGdbEnv(t *testing.T) {
	dir := writeFiles(t, map[string]string{"c.yaml": baseYAML})
	defer os.RemoveAll(dir)
	os.Setenv(GdbEnv, "remote:4444")
	defer os.Unsetenv(GdbEnv)
	p, err := Load(filepath.Join(dir, "c.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if p.GdbAddr != "remote:4444" {
		t.Fatalf("GdbAddr = %q", p.GdbAddr)
	}
}

func TestOverride(t *testing.T) {
	dir := writeFiles(t, map[string]string{"base.yaml": baseYAML, "root.yaml": rootYAML, "addrs.yaml": addrYAML})
	defer os.RemoveAll(dir)
	p, err := Load(filepath.Join(dir, "root.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	a, err := LoadAddressFile(filepath.Join(dir, "addrs.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if a.EntryPoint != 0x08000189 || a.Symbol(0x08002001) != "HAL_TIM_PeriodElapsedCallback" {
		t.Fatalf("address file: %+v", a)
	}
	p.Intercepts = append(p.Intercepts, &Intercept{Function: "HAL_Missing", Class: "x"})
	p.Override(a, models.CortexM)
	if len(p.Intercepts) != 2 {
		t.Fatalf("%d intercepts left", len(p.Intercepts))
	}
	if *p.Intercepts[1].Addr != 0x08001000 {
		t.Fatalf("thumb bit kept: %#x", *p.Intercepts[1].Addr)
	}
	if *p.Intercepts[0].Addr != 0x08001235 {
		t.Fatal("address not in the file was changed")
	}
	calls := p.CallableAddrs(cortexm.Profile)
	if calls["HAL_TIM_PeriodElapsedCallback"] != 0x08002000 {
		t.Fatalf("callables: %v", calls)
	}
}

func TestOverrideAVR(t *testing.T) {
	p := &Project{Intercepts: []*Intercept{{Function: "f", Class: "c"}}}
	a := &AddressFile{Symbols: map[uint64]string{0x101: "f"}}
	p.Override(a, models.AVR8)
	if *p.Intercepts[0].Addr != 0x101 {
		t.Fatalf("addr = %#x", *p.Intercepts[0].Addr)
	}
}

func TestAddressFileSave(t *testing.T) {
	dir := t.TempDir()
	a := &AddressFile{
		Architecture: "cortexm",
		EntryPoint:   0x08000189,
		Symbols:      map[uint64]string{0x08000100: "main", 0x08000200: "HAL_Init"},
	}
	path := filepath.Join(dir, "out_addrs.yaml")
	if err := a.Save(path); err != nil {
		t.Fatal(err)
	}
	b, err := LoadAddressFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if addr, ok := b.Lookup("HAL_Init"); !ok || addr != 0x08000200 {
		t.Fatalf("Lookup(HAL_Init) = %#x, %v", addr, ok)
	}
	if b.EntryPoint != a.EntryPoint || b.Architecture != "cortexm" {
		t.Fatalf("header lost: %+v", b)
	}
}
