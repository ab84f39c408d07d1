package periph

import (
	"github.com/pkg/errors"

	"github.com/emucraft/socorn/mem"
)

// RAM is flat little-endian memory backing the sram, dccm and test
// regions. With readOnly set it models a rom: loaders fill it through
// Image, bus stores fault.
type RAM struct {
	data     []byte
	readOnly bool
}

var _ mem.Device = (*RAM)(nil)

func NewRAM(size uint32) *RAM {
	return &RAM{data: make([]byte, size)}
}

func NewROM(size uint32) *RAM {
	return &RAM{data: make([]byte, size), readOnly: true}
}

// Image exposes the backing bytes for image loading.
func (r *RAM) Image() []byte {
	return r.data
}

func (r *RAM) Load(off uint32, size int) (uint32, error) {
	if int(off)+size > len(r.data) {
		return 0, errors.Errorf("ram: load past end at 0x%x", off)
	}
	var v uint32
	for i := size - 1; i >= 0; i-- {
		v = v<<8 | uint32(r.data[off+uint32(i)])
	}
	return v, nil
}

func (r *RAM) Store(off uint32, size int, val uint32) error {
	if r.readOnly {
		return errors.Errorf("rom: store at 0x%x", off)
	}
	if int(off)+size > len(r.data) {
		return errors.Errorf("ram: store past end at 0x%x", off)
	}
	for i := 0; i < size; i++ {
		r.data[off+uint32(i)] = byte(val >> (8 * uint(i)))
	}
	return nil
}
