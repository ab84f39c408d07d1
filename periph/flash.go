package periph

import (
	"os"

	"github.com/pkg/errors"

	"github.com/emucraft/socorn/mem"
	"github.com/emucraft/socorn/models"
)

// Flash register offsets and op codes.
const (
	FlashOp     = 0x00
	FlashPage   = 0x04
	FlashStatus = 0x08
	FlashWindow = 0x100

	FlashOpRead    = 1
	FlashOpProgram = 2
	FlashOpErase   = 3

	FlashStatusReady = 1 << 0
	FlashStatusError = 1 << 1

	FlashPageSize = 256
)

// Flash is a page-oriented NOR flash controller. Data moves through a
// page window in the register file; program can only clear bits, erase
// restores a page to 0xFF. Operations complete synchronously.
type Flash struct {
	img    []byte
	path   string
	page   uint32
	window [FlashPageSize]byte
	errbit bool
	dirty  bool
}

var _ mem.Device = (*Flash)(nil)

// NewFlash builds a flash of the given byte capacity, preloaded from
// path when the file exists. Unwritten space reads erased.
func NewFlash(path string, capacity uint32) (*Flash, error) {
	f := &Flash{path: path, img: make([]byte, capacity)}
	for i := range f.img {
		f.img[i] = 0xFF
	}
	if path == "" {
		return f, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return f, nil
	}
	if err != nil {
		return nil, errors.Wrapf(models.ErrInitializationFailed, "flash: %v", err)
	}
	if len(data) > len(f.img) {
		return nil, errors.Wrapf(models.ErrInitializationFailed,
			"flash image %s is %d bytes, capacity %d", path, len(data), len(f.img))
	}
	copy(f.img, data)
	return f, nil
}

// Persist writes the image back to the backing path, if any.
func (f *Flash) Persist() error {
	if f.path == "" || !f.dirty {
		return nil
	}
	if err := os.WriteFile(f.path, f.img, 0644); err != nil {
		return errors.Wrapf(err, "flash: persist %s", f.path)
	}
	f.dirty = false
	return nil
}

func (f *Flash) pageSpan() (uint32, bool) {
	base := f.page * FlashPageSize
	if int(base)+FlashPageSize > len(f.img) {
		return 0, false
	}
	return base, true
}

func (f *Flash) exec(op uint32) {
	base, ok := f.pageSpan()
	if !ok {
		f.errbit = true
		return
	}
	switch op {
	case FlashOpRead:
		copy(f.window[:], f.img[base:base+FlashPageSize])
	case FlashOpProgram:
		for i := range f.window {
			f.img[base+uint32(i)] &= f.window[i]
		}
		f.dirty = true
	case FlashOpErase:
		for i := 0; i < FlashPageSize; i++ {
			f.img[base+uint32(i)] = 0xFF
		}
		f.dirty = true
	default:
		f.errbit = true
	}
}

func (f *Flash) Load(off uint32, size int) (uint32, error) {
	switch off {
	case FlashPage:
		return f.page, nil
	case FlashStatus:
		st := uint32(FlashStatusReady)
		if f.errbit {
			st |= FlashStatusError
		}
		return st, nil
	}
	if off >= FlashWindow && int(off-FlashWindow)+size <= FlashPageSize {
		w := off - FlashWindow
		var v uint32
		for i := size - 1; i >= 0; i-- {
			v = v<<8 | uint32(f.window[w+uint32(i)])
		}
		return v, nil
	}
	return 0, errors.Errorf("flash: no register at 0x%x", off)
}

func (f *Flash) Store(off uint32, size int, val uint32) error {
	switch off {
	case FlashOp:
		f.errbit = false
		f.exec(val)
		return nil
	case FlashPage:
		f.page = val
		return nil
	case FlashStatus:
		return nil
	}
	if off >= FlashWindow && int(off-FlashWindow)+size <= FlashPageSize {
		w := off - FlashWindow
		for i := 0; i < size; i++ {
			f.window[w+uint32(i)] = byte(val >> (8 * uint(i)))
		}
		return nil
	}
	return errors.Errorf("flash: no register at 0x%x", off)
}
