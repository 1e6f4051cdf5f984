package loader

import (
	"io"

	"github.com/pkg/errors"
)

// the first two vector table entries
type vectorTable struct {
	SP    uint32
	Reset uint32
}

func cortexmReset(r io.ReaderAt) (*Reset, error) {
	var vt vectorTable
	if err := unpackAt(r, &vt, 0); err != nil {
		return nil, err
	}
	return &Reset{SP: uint64(vt.SP), Entry: uint64(vt.Reset)}, nil
}

const (
	avrJmp = 0x940c
	// RAMEND of the ATmega328P; the reset vector does not carry it
	avrInitSP = 0x08ff
)

// AVR images start with "jmp <word address>"
type avrVector struct {
	Op     uint16
	Target uint16
}

var ErrBadEntry = errors.New("reset vector is not a jmp")

func avrReset(r io.ReaderAt) (*Reset, error) {
	var v avrVector
	if err := unpackAt(r, &v, 0); err != nil {
		return nil, err
	}
	if v.Op != avrJmp {
		return nil, errors.Wrapf(ErrBadEntry, "entry bytes are %#x %#x", v.Op, v.Target)
	}
	return &Reset{SP: avrInitSP, Entry: uint64(v.Target) * 2}, nil
}
