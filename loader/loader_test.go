package loader

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/emucraft/socorn/models"
)

type elfHeader struct {
	Ident     [16]byte
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint32
	Phoff     uint32
	Shoff     uint32
	Flags     uint32
	Ehsize    uint16
	Phentsize uint16
	Phnum     uint16
	Shentsize uint16
	Shnum     uint16
	Shstrndx  uint16
}

type progHeader struct {
	Type   uint32
	Off    uint32
	Vaddr  uint32
	Paddr  uint32
	Filesz uint32
	Memsz  uint32
	Flags  uint32
	Align  uint32
}

type testSeg struct {
	addr  uint32
	data  []byte
	memsz uint32
}

// buildElf assembles a minimal ELF32 little-endian image for the given
// machine, entry and segments.
func buildElf(t *testing.T, machine uint16, entry uint32, segs []testSeg) []byte {
	t.Helper()
	hdr := elfHeader{
		Ident:     [16]byte{0x7f, 'E', 'L', 'F', 1, 1, 1},
		Type:      2, // ET_EXEC
		Machine:   machine,
		Version:   1,
		Entry:     entry,
		Phoff:     52,
		Ehsize:    52,
		Phentsize: 32,
		Phnum:     uint16(len(segs)),
	}
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, &hdr); err != nil {
		t.Fatal(err)
	}
	off := uint32(52 + 32*len(segs))
	for _, s := range segs {
		memsz := s.memsz
		if memsz == 0 {
			memsz = uint32(len(s.data))
		}
		ph := progHeader{
			Type:   1, // PT_LOAD
			Off:    off,
			Vaddr:  s.addr,
			Paddr:  s.addr,
			Filesz: uint32(len(s.data)),
			Memsz:  memsz,
			Flags:  5,
			Align:  4,
		}
		if err := binary.Write(&buf, binary.LittleEndian, &ph); err != nil {
			t.Fatal(err)
		}
		off += uint32(len(s.data))
	}
	for _, s := range segs {
		buf.Write(s.data)
	}
	return buf.Bytes()
}

const emRiscv = 243

func TestLoadRaw(t *testing.T) {
	img, err := Load([]byte{1, 2, 3, 4}, 0x80000000)
	if err != nil {
		t.Fatal(err)
	}
	if img.Entry != 0x80000000 {
		t.Errorf("entry = 0x%x", img.Entry)
	}
	if len(img.Segments) != 1 {
		t.Fatalf("got %d segments", len(img.Segments))
	}
	s := img.Segments[0]
	if s.Addr != 0x80000000 || !bytes.Equal(s.Data, []byte{1, 2, 3, 4}) {
		t.Errorf("segment = {0x%x, %v}", s.Addr, s.Data)
	}
}

func TestLoadElf(t *testing.T) {
	text := []byte{0x13, 0x00, 0x00, 0x00} // nop
	data := []byte{0xAA, 0xBB}
	p := buildElf(t, emRiscv, 0x80000000, []testSeg{
		{addr: 0x80000000, data: text},
		{addr: 0x80000100, data: data, memsz: 8},
	})
	img, err := Load(p, 0x80000000)
	if err != nil {
		t.Fatal(err)
	}
	if img.Entry != 0x80000000 {
		t.Errorf("entry = 0x%x", img.Entry)
	}
	if len(img.Segments) != 2 {
		t.Fatalf("got %d segments", len(img.Segments))
	}
	if !bytes.Equal(img.Segments[0].Data, text) {
		t.Errorf("text = %v", img.Segments[0].Data)
	}
	// bss padding beyond filesz stays zero
	want := []byte{0xAA, 0xBB, 0, 0, 0, 0, 0, 0}
	if !bytes.Equal(img.Segments[1].Data, want) {
		t.Errorf("data = %v, want %v", img.Segments[1].Data, want)
	}
}

func TestLoadElfHeaderEntry(t *testing.T) {
	p := buildElf(t, emRiscv, 0x80000020, []testSeg{
		{addr: 0x80000000, data: make([]byte, 0x40)},
	})
	img, err := Load(p, 0x80000000)
	if err != nil {
		t.Fatal(err)
	}
	if img.Entry != 0x80000020 {
		t.Errorf("entry = 0x%x", img.Entry)
	}
}

func TestLoadElfRejects(t *testing.T) {
	tests := []struct {
		name string
		p    []byte
	}{
		{"wrong base", buildElf(t, emRiscv, 0x40000000, []testSeg{
			{addr: 0x40000000, data: []byte{1}},
		})},
		{"wrong machine", buildElf(t, 3, 0x80000000, []testSeg{
			{addr: 0x80000000, data: []byte{1}},
		})},
		{"stray entry", buildElf(t, emRiscv, 0x80000044, []testSeg{
			{addr: 0x80000000, data: make([]byte, 0x80)},
		})},
		{"no segments", buildElf(t, emRiscv, 0x80000000, nil)},
	}
	for _, tt := range tests {
		if _, err := Load(tt.p, 0x80000000); !errors.Is(err, models.ErrInitializationFailed) {
			t.Errorf("%s: err = %v", tt.name, err)
		}
	}
}

func TestLoadFileRaw(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fw.bin")
	if err := os.WriteFile(path, []byte{9, 8, 7}, 0o644); err != nil {
		t.Fatal(err)
	}
	img, err := LoadFile(path, 0x40000000)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(img.Segments[0].Data, []byte{9, 8, 7}) {
		t.Errorf("data = %v", img.Segments[0].Data)
	}
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.bin"), 0)
	if !errors.Is(err, models.ErrInitializationFailed) {
		t.Errorf("err = %v", err)
	}
}
