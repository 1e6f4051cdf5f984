package loader

import (
	"bytes"
	"debug/elf"
	"io"

	"github.com/pkg/errors"

	"github.com/halcorn/halcorn/go/models"
)

var machineMap = map[elf.Machine]models.Arch{
	elf.EM_ARM: models.CortexM,
	elf.EM_AVR: models.AVR8,
}

// addresses in the symbol table carry the Thumb bit on ARM and the data
// space flag on AVR
var addrMask = map[models.Arch]uint64{
	models.CortexM: 0xfffffffe,
	models.AVR8:    0x0000ffff,
}

var elfMagic = []byte{0x7f, 0x45, 0x4c, 0x46}

func MatchElf(r io.ReaderAt) bool {
	return bytes.Equal(getMagic(r), elfMagic)
}

// ElfInfo is the part of an ELF build needed to write an address file.
type ElfInfo struct {
	Arch  models.Arch
	Entry uint64
	// Functions maps masked addresses to function names. The first name
	// seen at an address is kept.
	Functions map[uint64]string
}

func ReadElf(r io.ReaderAt) (*ElfInfo, error) {
	if !MatchElf(r) {
		return nil, errors.New("not an ELF file")
	}
	file, err := elf.NewFile(r)
	if err != nil {
		return nil, errors.Wrap(err, "parse ELF")
	}
	arch, ok := machineMap[file.Machine]
	if !ok {
		return nil, errors.Wrapf(models.ErrUnknownArch, "unsupported machine: %s", file.Machine)
	}
	syms, err := file.Symbols()
	if err != nil {
		return nil, errors.Wrap(err, "read symbol table")
	}
	mask := addrMask[arch]
	info := &ElfInfo{Arch: arch, Entry: file.Entry, Functions: make(map[uint64]string)}
	for _, s := range syms {
		if s.Name == "" || elf.ST_TYPE(s.Info) != elf.STT_FUNC {
			continue
		}
		addr := s.Value & mask
		if _, ok := info.Functions[addr]; !ok {
			info.Functions[addr] = s.Name
		}
	}
	return info, nil
}
