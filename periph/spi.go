package periph

import "github.com/emucraft/socorn/mem"

// Spi register offsets.
const (
	SpiTxRx   = 0x00
	SpiStatus = 0x04

	SpiStatusReady = 1 << 0
)

// Spi is a loopback SPI controller: reads return the last transmitted
// word. Enough for firmware probing the port.
type Spi struct {
	last uint32
}

var _ mem.Device = (*Spi)(nil)

func NewSpi() *Spi {
	return &Spi{}
}

func (s *Spi) Load(off uint32, size int) (uint32, error) {
	switch off {
	case SpiTxRx:
		return s.last, nil
	case SpiStatus:
		return SpiStatusReady, nil
	}
	return 0, nil
}

func (s *Spi) Store(off uint32, size int, val uint32) error {
	if off == SpiTxRx {
		s.last = val
	}
	return nil
}
