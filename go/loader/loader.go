// Package loader reads the reset state out of raw firmware images and the
// function table out of ELF builds.
package loader

import (
	"bytes"
	"encoding/binary"
	"io"
	"io/ioutil"

	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"

	"github.com/halcorn/halcorn/go/models"
)

// Reset is the processor state a firmware image starts from.
type Reset struct {
	SP    uint64
	Entry uint64
}

func unpackAt(r io.ReaderAt, i interface{}, at int64) error {
	size, err := struc.Sizeof(i)
	if err != nil {
		return err
	}
	err = struc.UnpackWithOrder(io.NewSectionReader(r, at, int64(size)), i, binary.LittleEndian)
	return errors.Wrap(err, "short firmware image")
}

// ResetState reads the initial stack pointer and entry point of an image
// loaded at address zero.
func ResetState(arch models.Arch, r io.ReaderAt) (*Reset, error) {
	switch arch {
	case models.CortexM:
		return cortexmReset(r)
	case models.AVR8:
		return avrReset(r)
	}
	return nil, errors.Wrapf(models.ErrUnknownArch, "no firmware reader for %s", arch)
}

func ResetStateFile(arch models.Arch, path string) (*Reset, error) {
	p, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read firmware")
	}
	return ResetState(arch, bytes.NewReader(p))
}
