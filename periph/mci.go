package periph

import "github.com/emucraft/socorn/mem"

// Mci register offsets.
const (
	MciResetReason = 0x00
	MciFlowStatus  = 0x04
	MciScratch     = 0x10

	MciResetCold = 0x1
)

// Mci is the management controller stub: a reset reason, a firmware
// flow status register, and scratch. Unknown offsets in its large
// window read as zero.
type Mci struct {
	resetReason uint32
	flow        uint32
	scratch     uint32
}

var _ mem.Device = (*Mci)(nil)

func NewMci() *Mci {
	return &Mci{resetReason: MciResetCold}
}

// FlowStatus reports the last value firmware published.
func (m *Mci) FlowStatus() uint32 {
	return m.flow
}

func (m *Mci) Load(off uint32, size int) (uint32, error) {
	switch off {
	case MciResetReason:
		return m.resetReason, nil
	case MciFlowStatus:
		return m.flow, nil
	case MciScratch:
		return m.scratch, nil
	}
	return 0, nil
}

func (m *Mci) Store(off uint32, size int, val uint32) error {
	switch off {
	case MciFlowStatus:
		m.flow = val
	case MciScratch:
		m.scratch = val
	}
	return nil
}
