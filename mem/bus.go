package mem

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/emucraft/socorn/models"
)

// Fault reasons carried by Error.
const (
	FaultUnmapped  = "unmapped"
	FaultSize      = "bad size"
	FaultUnaligned = "unaligned"
	FaultDevice    = "device error"
)

// Error is a failed bus access.
type Error struct {
	Addr   uint32
	Size   int
	Write  bool
	Reason string
}

func (e *Error) Error() string {
	op := "read"
	if e.Write {
		op = "write"
	}
	return fmt.Sprintf("bus %s fault at 0x%08x size %d: %s", op, e.Addr, e.Size, e.Reason)
}

// Device is the register-level backend of one region. Offsets are
// region-relative. size is 1, 2 or 4; read values are zero-extended.
type Device interface {
	Load(off uint32, size int) (uint32, error)
	Store(off uint32, size int, val uint32) error
}

// Bus routes physical accesses to the device mapped at each region.
// Accesses that match no region are offered to the external hook once;
// everything else faults.
type Bus struct {
	layout *Layout
	devs   map[string]Device
	extern models.ExternalMemory
}

func NewBus(l *Layout, extern models.ExternalMemory) *Bus {
	return &Bus{
		layout: l,
		devs:   make(map[string]Device),
		extern: extern,
	}
}

func (b *Bus) Layout() *Layout {
	return b.layout
}

// Attach binds a device to a named region.
func (b *Bus) Attach(name string, d Device) error {
	if b.layout.Region(name) == nil {
		return errors.Errorf("no region named %q", name)
	}
	b.devs[name] = d
	return nil
}

// Device returns the device attached to a region, or nil.
func (b *Bus) Device(name string) Device {
	return b.devs[name]
}

func (b *Bus) check(addr uint32, size int, write bool) *Error {
	if size != 1 && size != 2 && size != 4 {
		return &Error{addr, size, write, FaultSize}
	}
	if addr%uint32(size) != 0 {
		return &Error{addr, size, write, FaultUnaligned}
	}
	return nil
}

func (b *Bus) Read(addr uint32, size int) (uint32, error) {
	if e := b.check(addr, size, false); e != nil {
		return 0, e
	}
	if r, ok := b.layout.RegionFor(addr); ok {
		if uint64(addr)+uint64(size) > r.End() {
			return 0, &Error{addr, size, false, FaultUnmapped}
		}
		d := b.devs[r.Name]
		if d == nil {
			return 0, &Error{addr, size, false, FaultUnmapped}
		}
		v, err := d.Load(addr-r.Addr, size)
		if err != nil {
			return 0, &Error{addr, size, false, FaultDevice}
		}
		return v, nil
	}
	if b.extern != nil {
		if v, ok := b.extern.ReadExt(size, addr); ok {
			return v, nil
		}
	}
	return 0, &Error{addr, size, false, FaultUnmapped}
}

func (b *Bus) Write(addr uint32, size int, val uint32) error {
	if e := b.check(addr, size, true); e != nil {
		return e
	}
	if r, ok := b.layout.RegionFor(addr); ok {
		if uint64(addr)+uint64(size) > r.End() {
			return &Error{addr, size, true, FaultUnmapped}
		}
		d := b.devs[r.Name]
		if d == nil {
			return &Error{addr, size, true, FaultUnmapped}
		}
		if err := d.Store(addr-r.Addr, size, val); err != nil {
			return &Error{addr, size, true, FaultDevice}
		}
		return nil
	}
	if b.extern != nil {
		if b.extern.WriteExt(size, addr, val) {
			return nil
		}
	}
	return &Error{addr, size, true, FaultUnmapped}
}

// ReadBytes fills p starting at addr, one byte at a time so debugger
// reads cross region boundaries the same way the core would.
func (b *Bus) ReadBytes(addr uint32, p []byte) error {
	for i := range p {
		v, err := b.Read(addr+uint32(i), 1)
		if err != nil {
			return err
		}
		p[i] = byte(v)
	}
	return nil
}

func (b *Bus) WriteBytes(addr uint32, p []byte) error {
	for i := range p {
		if err := b.Write(addr+uint32(i), 1, uint32(p[i])); err != nil {
			return err
		}
	}
	return nil
}
