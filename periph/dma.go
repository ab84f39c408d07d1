package periph

import "github.com/emucraft/socorn/mem"

// Dma register offsets and status bits.
const (
	DmaSrc    = 0x00
	DmaDst    = 0x04
	DmaLen    = 0x08
	DmaCtrl   = 0x0C
	DmaStatus = 0x10

	DmaStatusDone  = 1 << 0
	DmaStatusError = 1 << 1
)

// Dma copies byte ranges between bus addresses. Transfers run
// synchronously on the ctrl write; a faulting access stops the copy
// and latches the error bit.
type Dma struct {
	bus *mem.Bus

	src, dst, length uint32
	status           uint32
}

var _ mem.Device = (*Dma)(nil)

func NewDma(b *mem.Bus) *Dma {
	return &Dma{bus: b}
}

func (d *Dma) run() {
	d.status = 0
	for i := uint32(0); i < d.length; i++ {
		v, err := d.bus.Read(d.src+i, 1)
		if err != nil {
			d.status = DmaStatusError
			return
		}
		if err := d.bus.Write(d.dst+i, 1, v); err != nil {
			d.status = DmaStatusError
			return
		}
	}
	d.status = DmaStatusDone
}

func (d *Dma) Load(off uint32, size int) (uint32, error) {
	switch off {
	case DmaSrc:
		return d.src, nil
	case DmaDst:
		return d.dst, nil
	case DmaLen:
		return d.length, nil
	case DmaStatus:
		return d.status, nil
	}
	return 0, nil
}

func (d *Dma) Store(off uint32, size int, val uint32) error {
	switch off {
	case DmaSrc:
		d.src = val
	case DmaDst:
		d.dst = val
	case DmaLen:
		d.length = val
	case DmaCtrl:
		if val != 0 {
			d.run()
		}
	}
	return nil
}
