package periph

import (
	"sync"

	"github.com/emucraft/socorn/mem"
)

// I3c register offsets.
const (
	I3cRxStatus = 0x00
	I3cRxLen    = 0x04
	I3cRxData   = 0x08
	I3cTxData   = 0x0C
	I3cTxCtrl   = 0x10
)

// I3c bridges the secondary bus socket into firmware-visible frame
// queues. The socket reader feeds Push from its own goroutine; the
// register side runs on the engine thread.
type I3c struct {
	mu   sync.Mutex
	rx   [][]byte
	cur  []byte
	have bool
	tx   []byte
	sink func([]byte) error
}

var _ mem.Device = (*I3c)(nil)

func NewI3c() *I3c {
	return &I3c{}
}

// Push queues an inbound frame.
func (d *I3c) Push(frame []byte) {
	d.mu.Lock()
	d.rx = append(d.rx, frame)
	d.mu.Unlock()
}

// SetSink installs the outbound frame writer. A nil sink drops
// transmitted frames.
func (d *I3c) SetSink(fn func([]byte) error) {
	d.mu.Lock()
	d.sink = fn
	d.mu.Unlock()
}

// next makes the head frame current. Caller holds the lock.
func (d *I3c) next() {
	if !d.have && len(d.rx) > 0 {
		d.cur = d.rx[0]
		d.rx = d.rx[1:]
		d.have = true
	}
}

func (d *I3c) Load(off uint32, size int) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch off {
	case I3cRxStatus:
		n := len(d.rx)
		if d.have {
			n++
		}
		return uint32(n), nil
	case I3cRxLen:
		d.next()
		return uint32(len(d.cur)), nil
	case I3cRxData:
		d.next()
		if !d.have {
			return 0, nil
		}
		if len(d.cur) == 0 {
			d.have = false
			d.cur = nil
			return 0, nil
		}
		b := d.cur[0]
		d.cur = d.cur[1:]
		if len(d.cur) == 0 {
			d.have = false
			d.cur = nil
		}
		return uint32(b), nil
	}
	return 0, nil
}

func (d *I3c) Store(off uint32, size int, val uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch off {
	case I3cTxData:
		d.tx = append(d.tx, byte(val))
	case I3cTxCtrl:
		if val != 0 {
			if d.sink != nil && len(d.tx) > 0 {
				d.sink(d.tx)
			}
			d.tx = nil
		}
	}
	return nil
}
