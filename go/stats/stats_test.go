package stats

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCounters(t *testing.T) {
	s := New("")
	s.AddIntercept(3, Intercept{Function: "HAL_CAN_Init", Addr: 0x08001234})
	for i := 0; i < 5; i++ {
		s.Hit(3)
	}
	if n := s.Count(3); n != 5 {
		t.Fatalf("Count(3) = %d, expected 5", n)
	}
	if n := s.Hit(99); n != 0 {
		t.Fatal("Hit() on an unknown id should not count")
	}
}

func TestWriteOnUpdate(t *testing.T) {
	dir, err := ioutil.TempDir("", "halstats")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "out", "stats.yaml")

	s := New(path)
	s.AddIntercept(1, Intercept{Function: "HAL_Delay", Class: "stm32f4.TIM"})
	s.Hit(1)
	for _, v := range []string{"HAL_Delay", "HAL_CAN_Init", "HAL_Delay"} {
		if err := s.WriteOnUpdate(UsedIntercepts, v); err != nil {
			t.Fatal(err)
		}
	}
	if set := s.Set(UsedIntercepts); len(set) != 2 || set[0] != "HAL_CAN_Init" {
		t.Fatalf("unexpected set %v", set)
	}
	r, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if r.Intercepts[1].Count != 1 || r.Intercepts[1].Function != "HAL_Delay" {
		t.Fatalf("unexpected report %+v", r.Intercepts)
	}
	if len(r.Sets[UsedIntercepts]) != 2 {
		t.Fatalf("unexpected sets %v", r.Sets)
	}
}

func TestNaturalOrder(t *testing.T) {
	s := New("")
	for _, v := range []string{"0x10", "0x9", "0x100"} {
		s.WriteOnUpdate(MMIOAddrs, v)
	}
	set := s.Set(MMIOAddrs)
	if set[0] != "0x9" || set[2] != "0x100" {
		t.Fatalf("set not in natural order: %v", set)
	}
}

func TestPrint(t *testing.T) {
	r := &Report{
		Intercepts: map[int]Intercept{
			1: {Function: "HAL_Init", Class: "stm32f4.AMP", Method: "return_zero", Addr: 0x08000100, Count: 0},
			2: {Function: "HAL_GetTick", Class: "stm32f4.TIM", Method: "get_tick", Addr: 0x08000200, Count: 5},
		},
		Sets: map[string][]string{UsedIntercepts: {"HAL_GetTick"}},
	}
	var buf bytes.Buffer
	r.Print(&buf, false)
	out := buf.String()
	if strings.Index(out, "HAL_GetTick") > strings.Index(out, "HAL_Init") {
		t.Fatalf("hot intercept not listed first:\n%s", out)
	}
	if !strings.Contains(out, "used_intercepts (1):\n  HAL_GetTick\n") {
		t.Fatalf("set missing:\n%s", out)
	}
}
