// Package loader reads raw and ELF firmware images into placeable
// segments. It does not touch the bus; callers copy segments into
// backing memory after checking fit.
package loader

import (
	"bytes"
	"debug/elf"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/emucraft/socorn/models"
)

var elfMagic = []byte{0x7f, 0x45, 0x4c, 0x46}

// Segment is a chunk of image data placed at a fixed bus address.
type Segment struct {
	Addr uint32
	Data []byte
}

type Image struct {
	Entry    uint32
	Segments []Segment
}

func MatchElf(p []byte) bool {
	return bytes.HasPrefix(p, elfMagic)
}

// LoadFile reads a firmware image from path. Raw images are placed at
// base verbatim; ELF images must link at base.
func LoadFile(path string, base uint32) (*Image, error) {
	p, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(models.ErrInitializationFailed, "%s: %v", path, err)
	}
	return Load(p, base)
}

func Load(p []byte, base uint32) (*Image, error) {
	if MatchElf(p) {
		return loadElf(p, base)
	}
	data := make([]byte, len(p))
	copy(data, p)
	return &Image{
		Entry:    base,
		Segments: []Segment{{Addr: base, Data: data}},
	}, nil
}

func loadElf(p []byte, base uint32) (*Image, error) {
	file, err := elf.NewFile(bytes.NewReader(p))
	if err != nil {
		return nil, errors.Wrapf(models.ErrInitializationFailed, "bad elf: %v", err)
	}
	if file.Class != elf.ELFCLASS32 || file.Data != elf.ELFDATA2LSB {
		return nil, errors.Wrap(models.ErrInitializationFailed, "elf is not a 32-bit little-endian image")
	}
	if file.Machine != elf.EM_RISCV {
		return nil, errors.Wrapf(models.ErrInitializationFailed, "unsupported elf machine %v", file.Machine)
	}
	img := &Image{Entry: uint32(file.Entry)}
	for _, prog := range file.Progs {
		if prog.Type != elf.PT_LOAD || prog.Memsz == 0 {
			continue
		}
		if prog.Vaddr+prog.Memsz > 1<<32 {
			return nil, errors.Wrapf(models.ErrInitializationFailed,
				"elf segment at 0x%x does not fit in 32 bits", prog.Vaddr)
		}
		if prog.Filesz > prog.Memsz {
			return nil, errors.Wrapf(models.ErrInitializationFailed,
				"elf segment at 0x%x has file size past its memory size", prog.Vaddr)
		}
		data := make([]byte, prog.Memsz)
		if prog.Filesz > 0 {
			if _, err := io.ReadFull(prog.Open(), data[:prog.Filesz]); err != nil {
				return nil, errors.Wrapf(models.ErrInitializationFailed,
					"elf segment at 0x%x: %v", prog.Vaddr, err)
			}
		}
		img.Segments = append(img.Segments, Segment{Addr: uint32(prog.Vaddr), Data: data})
	}
	if len(img.Segments) == 0 {
		return nil, errors.Wrap(models.ErrInitializationFailed, "elf has no loadable segments")
	}
	lo := img.Segments[0].Addr
	for _, s := range img.Segments[1:] {
		if s.Addr < lo {
			lo = s.Addr
		}
	}
	if lo != base {
		return nil, errors.Wrapf(models.ErrInitializationFailed,
			"elf loads at 0x%08x, want 0x%08x", lo, base)
	}
	// some images carry a 0x20 byte app header ahead of the entry point
	if img.Entry != base && img.Entry != base+0x20 {
		return nil, errors.Wrapf(models.ErrInitializationFailed,
			"elf entry 0x%08x is not at the load base 0x%08x", img.Entry, base)
	}
	return img, nil
}
