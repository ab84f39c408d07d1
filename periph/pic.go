package periph

import (
	"math/bits"

	"github.com/emucraft/socorn/mem"
)

// Pic register offsets.
const (
	PicPending = 0x00
	PicEnable  = 0x04
	PicClaim   = 0x08
)

// Pic is a minimal external interrupt controller: a pending word, an
// enable word, and a claim register returning the lowest enabled
// pending source plus one.
type Pic struct {
	pending uint32
	enable  uint32
}

var _ mem.Device = (*Pic)(nil)

func NewPic() *Pic {
	return &Pic{}
}

// Raise marks an interrupt source pending. Device side.
func (p *Pic) Raise(irq int) {
	if irq >= 0 && irq < 32 {
		p.pending |= 1 << uint(irq)
	}
}

func (p *Pic) Load(off uint32, size int) (uint32, error) {
	switch off {
	case PicPending:
		return p.pending, nil
	case PicEnable:
		return p.enable, nil
	case PicClaim:
		ready := p.pending & p.enable
		if ready == 0 {
			return 0, nil
		}
		irq := uint32(bits.TrailingZeros32(ready))
		p.pending &^= 1 << irq
		return irq + 1, nil
	}
	return 0, nil
}

func (p *Pic) Store(off uint32, size int, val uint32) error {
	if off == PicEnable {
		p.enable = val
	}
	return nil
}
