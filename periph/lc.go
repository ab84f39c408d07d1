package periph

import "github.com/emucraft/socorn/mem"

// Lc register offsets and states.
const (
	LcState      = 0x00
	LcTransition = 0x04

	LcStateManuf = 2
	LcStateProd  = 5
)

// Lc is the lifecycle controller stub. The boot state comes from the
// manufacturing strap; transitions latch immediately.
type Lc struct {
	state uint32
}

var _ mem.Device = (*Lc)(nil)

func NewLc(manufacturing bool) *Lc {
	if manufacturing {
		return &Lc{state: LcStateManuf}
	}
	return &Lc{state: LcStateProd}
}

func (l *Lc) Load(off uint32, size int) (uint32, error) {
	if off == LcState {
		return l.state, nil
	}
	return 0, nil
}

func (l *Lc) Store(off uint32, size int, val uint32) error {
	if off == LcTransition {
		l.state = val
	}
	return nil
}
