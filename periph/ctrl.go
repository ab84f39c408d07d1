package periph

import (
	"github.com/pkg/errors"

	"github.com/emucraft/socorn/mem"
)

// Ctrl is the emulator control device. Firmware writes an exit code to
// offset 0 to end the run; zero reports success.
type Ctrl struct {
	done bool
	code uint32
}

var _ mem.Device = (*Ctrl)(nil)

func NewCtrl() *Ctrl {
	return &Ctrl{}
}

// Exited reports the latched exit code once firmware has written one.
func (c *Ctrl) Exited() (uint32, bool) {
	return c.code, c.done
}

func (c *Ctrl) Load(off uint32, size int) (uint32, error) {
	if off != 0 {
		return 0, errors.Errorf("ctrl: no register at 0x%x", off)
	}
	if c.done {
		return 1, nil
	}
	return 0, nil
}

func (c *Ctrl) Store(off uint32, size int, val uint32) error {
	if off != 0 {
		return errors.Errorf("ctrl: no register at 0x%x", off)
	}
	// first write wins
	if !c.done {
		c.done = true
		c.code = val
	}
	return nil
}
