package periph

import "github.com/emucraft/socorn/mem"

// Mbox register offsets and status codes.
const (
	MboxLock    = 0x00
	MboxCmd     = 0x04
	MboxDlen    = 0x08
	MboxDataIn  = 0x0C
	MboxDataOut = 0x10
	MboxExecute = 0x14
	MboxStatus  = 0x18

	MboxStatusIdle     = 0
	MboxStatusComplete = 2
)

// Mbox is a single-client mailbox. Reading the lock register acquires
// it; execute with a nonzero value completes the command in place since
// there is no peer, and a zero write releases the lock and clears the
// fifo.
type Mbox struct {
	locked bool
	cmd    uint32
	dlen   uint32
	fifo   []uint32
	status uint32
}

var _ mem.Device = (*Mbox)(nil)

func NewMbox() *Mbox {
	return &Mbox{}
}

func (m *Mbox) Load(off uint32, size int) (uint32, error) {
	switch off {
	case MboxLock:
		if m.locked {
			return 1, nil
		}
		m.locked = true
		return 0, nil
	case MboxCmd:
		return m.cmd, nil
	case MboxDlen:
		return m.dlen, nil
	case MboxDataOut:
		if len(m.fifo) == 0 {
			return 0, nil
		}
		v := m.fifo[0]
		m.fifo = m.fifo[1:]
		return v, nil
	case MboxStatus:
		return m.status, nil
	}
	return 0, nil
}

func (m *Mbox) Store(off uint32, size int, val uint32) error {
	switch off {
	case MboxCmd:
		m.cmd = val
	case MboxDlen:
		m.dlen = val
	case MboxDataIn:
		m.fifo = append(m.fifo, val)
	case MboxExecute:
		if val != 0 {
			m.status = MboxStatusComplete
		} else {
			m.locked = false
			m.cmd = 0
			m.dlen = 0
			m.fifo = nil
			m.status = MboxStatusIdle
		}
	}
	return nil
}
