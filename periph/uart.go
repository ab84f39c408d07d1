package periph

import (
	"io"
	"sync"

	"github.com/pkg/errors"

	"github.com/emucraft/socorn/mem"
	"github.com/emucraft/socorn/models"
)

// Capture accumulates UART transmit bytes until the host drains them.
type Capture struct {
	mu  sync.Mutex
	buf []byte
}

func (c *Capture) Append(b byte) {
	c.mu.Lock()
	c.buf = append(c.buf, b)
	c.mu.Unlock()
}

func (c *Capture) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buf)
}

// Drain moves up to len(p) bytes into p in arrival order and removes
// them. An empty buffer reports models.ErrNoData, which is distinct
// from a zero-byte read.
func (c *Capture) Drain(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, errors.Wrap(models.ErrInvalidArgument, "zero-length drain buffer")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.buf) == 0 {
		return 0, models.ErrNoData
	}
	n := copy(p, c.buf)
	c.buf = c.buf[:copy(c.buf, c.buf[n:])]
	return n, nil
}

// Uart register offsets.
const (
	UartTx     = 0x00
	UartRx     = 0x04
	UartStatus = 0x08

	UartStatusTxReady = 1 << 0
	UartStatusRxAvail = 1 << 1
)

// Uart is the serial port. Transmit bytes go to the capture buffer and
// the sink when either is configured; receive bytes come from a
// host-fed queue, so stdin can be wired through as a terminal.
type Uart struct {
	capture *Capture
	sink    io.Writer

	mu sync.Mutex
	rx []byte
}

var _ mem.Device = (*Uart)(nil)

func NewUart(capture *Capture, sink io.Writer) *Uart {
	return &Uart{capture: capture, sink: sink}
}

// Feed queues receive bytes. Safe to call from the host side while the
// engine steps.
func (u *Uart) Feed(p []byte) {
	u.mu.Lock()
	u.rx = append(u.rx, p...)
	u.mu.Unlock()
}

func (u *Uart) Load(off uint32, size int) (uint32, error) {
	switch off {
	case UartTx:
		return 0, nil
	case UartRx:
		u.mu.Lock()
		defer u.mu.Unlock()
		if len(u.rx) == 0 {
			return 0, nil
		}
		b := u.rx[0]
		u.rx = u.rx[1:]
		return uint32(b), nil
	case UartStatus:
		st := uint32(UartStatusTxReady)
		u.mu.Lock()
		if len(u.rx) > 0 {
			st |= UartStatusRxAvail
		}
		u.mu.Unlock()
		return st, nil
	}
	return 0, errors.Errorf("uart: no register at 0x%x", off)
}

func (u *Uart) Store(off uint32, size int, val uint32) error {
	switch off {
	case UartTx:
		b := byte(val)
		if u.capture != nil {
			u.capture.Append(b)
		}
		if u.sink != nil {
			u.sink.Write([]byte{b})
		}
		return nil
	case UartRx, UartStatus:
		return nil
	}
	return errors.Errorf("uart: no register at 0x%x", off)
}
