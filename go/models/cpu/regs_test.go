package cpu

import (
	"fmt"
	"testing"

	"github.com/pkg/errors"

	"github.com/halcorn/halcorn/go/models"
)

func makeRegs(size int) ([]string, *Regs) {
	names := make([]string, 100)
	regs := make([]models.Reg, len(names))
	for i := range names {
		names[i] = fmt.Sprintf("r%d", 100-i)
		regs[i] = models.Reg{Name: names[i], Num: i, Size: size}
	}
	return names, NewRegs(regs)
}

func BenchmarkRegsRead(b *testing.B) {
	names, regs := makeRegs(8)
	for i := 0; i < b.N; i++ {
		regs.RegRead(names[i%len(names)])
	}
}

func BenchmarkRegsWrite(b *testing.B) {
	names, regs := makeRegs(8)
	for i := 0; i < b.N; i++ {
		regs.RegWrite(names[i%len(names)], uint64(i))
	}
}

func TestRegs(t *testing.T) {
	names, regs := makeRegs(8)

	// save context to check zeroes later
	ctx := regs.ContextSave()

	// set all regs to pos * 2
	for i, n := range names {
		if err := regs.RegWrite(n, uint64(i*2)); err != nil {
			t.Fatal(err, "initial RegWrite() failed")
		}
	}

	// check first set
	for i, n := range names {
		if val, err := regs.RegRead(n); err != nil {
			t.Fatal(err, "initial RegRead() failed")
		} else if val != uint64(i*2) {
			t.Fatalf("RegRead() returned %d, expecting %d", val, i*2)
		}
	}

	// restore context and check
	if err := regs.ContextRestore(ctx); err != nil {
		t.Fatal(err, "ContextRestore() failed")
	}
	for _, n := range names {
		if val, err := regs.RegRead(n); err != nil {
			t.Fatal(err, "RegRead() failed")
		} else if val != 0 {
			t.Fatalf("RegRead() returned %d, expecting 0", val)
		}
	}
}

func TestRegsNarrow(t *testing.T) {
	names, regs := makeRegs(1)
	if err := regs.RegWrite(names[0], 0xffff); err != nil {
		t.Fatal("RegWrite() failed")
	}
	if val, err := regs.RegRead(names[0]); err != nil {
		t.Fatal("RegRead() failed")
	} else if val != 0xffff&0xff {
		t.Fatalf("RegRead() returned %d, expecting 255", val)
	}
}

func TestRegsInvalid(t *testing.T) {
	_, regs := makeRegs(4)
	if _, err := regs.RegRead("xpsr"); errors.Cause(err) != models.ErrInvalidRegister {
		t.Fatalf("expected ErrInvalidRegister, got %v", err)
	}
	if err := regs.RegWrite("xpsr", 1); errors.Cause(err) != models.ErrInvalidRegister {
		t.Fatalf("expected ErrInvalidRegister, got %v", err)
	}
	if err := regs.ContextRestore(map[string]uint64{"xpsr": 1}); errors.Cause(err) != models.ErrInvalidRegister {
		t.Fatalf("expected ErrInvalidRegister, got %v", err)
	}
}
