package rv32

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/emucraft/socorn/mem"
	"github.com/emucraft/socorn/models"
)

// ABI register names, index-aligned with Reg.
var RegNames = []string{
	"zero", "ra", "sp", "gp", "tp", "t0", "t1", "t2",
	"s0", "s1", "a0", "a1", "a2", "a3", "a4", "a5",
	"a6", "a7", "s2", "s3", "s4", "s5", "s6", "s7",
	"s8", "s9", "s10", "s11", "t3", "t4", "t5", "t6",
}

// Event classifies the outcome of one retired instruction.
type Event int

const (
	EventNone  Event = iota // instruction retired normally
	EventBreak              // ebreak, pc left on the instruction
	EventWatch              // a data access touched a watchpoint
	EventFault              // trap; the error return has details
)

// Trap is a fault raised while executing one instruction. PC is the
// faulting instruction; memory faults carry the bus error.
type Trap struct {
	PC     uint32
	Reason string
	Err    error
}

func (t *Trap) Error() string {
	if t.Err != nil {
		return fmt.Sprintf("trap at 0x%08x: %s: %v", t.PC, t.Reason, t.Err)
	}
	return fmt.Sprintf("trap at 0x%08x: %s", t.PC, t.Reason)
}

func (t *Trap) Unwrap() error { return t.Err }

type watch struct {
	addr, size uint32
	kind       int
}

func (w *watch) hits(addr uint32, size int, write bool) bool {
	if write && w.kind == models.WatchRead {
		return false
	}
	if !write && w.kind == models.WatchWrite {
		return false
	}
	return addr < w.addr+w.size && w.addr < addr+uint32(size)
}

// WatchHit describes the most recent watchpoint stop for debugger
// reporting.
type WatchHit struct {
	Addr uint32
	Kind int
}

const maxWatches = 4

// CPU is a little-endian rv32im interpreter over a bus. It has no
// pipeline and no timing; one Step is one retired instruction.
type CPU struct {
	regs [32]uint32
	pc   uint32
	bus  *mem.Bus
	csrs map[uint32]uint32

	breaks  map[uint32]bool
	watches []watch
	last    *WatchHit

	hook func(pc, instr uint32)
}

func New(b *mem.Bus) *CPU {
	return &CPU{
		bus:    b,
		csrs:   make(map[uint32]uint32),
		breaks: make(map[uint32]bool),
	}
}

// Reset clears the register file and moves the pc to the reset vector.
func (c *CPU) Reset(pc uint32) {
	c.regs = [32]uint32{}
	c.pc = pc
}

func (c *CPU) PC() uint32      { return c.pc }
func (c *CPU) SetPC(pc uint32) { c.pc = pc }
func (c *CPU) NumRegs() int    { return len(c.regs) }

func (c *CPU) Reg(i int) (uint32, error) {
	if i < 0 || i >= len(c.regs) {
		return 0, errors.Errorf("no register %d", i)
	}
	return c.regs[i], nil
}

func (c *CPU) SetReg(i int, v uint32) error {
	if i < 0 || i >= len(c.regs) {
		return errors.Errorf("no register %d", i)
	}
	if i != 0 {
		c.regs[i] = v
	}
	return nil
}

// SetHook installs a per-instruction callback, invoked after a
// successful fetch with the pc and raw instruction word.
func (c *CPU) SetHook(fn func(pc, instr uint32)) {
	c.hook = fn
}

func (c *CPU) AddBreak(addr uint32)     { c.breaks[addr] = true }
func (c *CPU) DelBreak(addr uint32)     { delete(c.breaks, addr) }
func (c *CPU) BreakAt(addr uint32) bool { return c.breaks[addr] }

func (c *CPU) AddWatch(addr, size uint32, kind int) error {
	if kind != models.WatchWrite && kind != models.WatchRead && kind != models.WatchAccess {
		return errors.Errorf("bad watchpoint kind %d", kind)
	}
	if len(c.watches) >= maxWatches {
		return errors.New("no free watchpoint slot")
	}
	c.watches = append(c.watches, watch{addr, size, kind})
	return nil
}

func (c *CPU) DelWatch(addr, size uint32, kind int) error {
	for i, w := range c.watches {
		if w.addr == addr && w.size == size && w.kind == kind {
			c.watches = append(c.watches[:i], c.watches[i+1:]...)
			return nil
		}
	}
	return errors.Errorf("no watchpoint at 0x%08x", addr)
}

// LastWatch returns the most recent watchpoint hit.
func (c *CPU) LastWatch() (WatchHit, bool) {
	if c.last == nil {
		return WatchHit{}, false
	}
	return *c.last, true
}

func (c *CPU) checkWatch(addr uint32, size int, write bool) bool {
	for i := range c.watches {
		if c.watches[i].hits(addr, size, write) {
			kind := c.watches[i].kind
			c.last = &WatchHit{Addr: addr, Kind: kind}
			return true
		}
	}
	return false
}

// Step fetches and executes one instruction. EventFault comes with a
// *Trap error; every other event returns a nil error.
func (c *CPU) Step() (Event, error) {
	c.last = nil
	instr, err := c.bus.Read(c.pc, 4)
	if err != nil {
		return EventFault, &Trap{PC: c.pc, Reason: "fetch fault", Err: err}
	}
	if c.hook != nil {
		c.hook(c.pc, instr)
	}
	return c.exec(instr)
}

func (c *CPU) set(rd uint32, v uint32) {
	if rd != 0 {
		c.regs[rd] = v
	}
}

func (c *CPU) exec(instr uint32) (Event, error) {
	op := instr & 0x7F
	rd := (instr >> 7) & 0x1F
	f3 := (instr >> 12) & 0x7
	rs1 := c.regs[(instr>>15)&0x1F]
	rs2 := c.regs[(instr>>20)&0x1F]
	f7 := instr >> 25

	immI := uint32(int32(instr) >> 20)
	next := c.pc + 4

	switch op {
	case 0x37: // lui
		c.set(rd, instr&0xFFFFF000)
	case 0x17: // auipc
		c.set(rd, c.pc+instr&0xFFFFF000)
	case 0x6F: // jal
		imm := uint32((int32(instr)>>31)<<20 |
			int32((instr>>21)&0x3FF)<<1 |
			int32((instr>>20)&1)<<11 |
			int32((instr>>12)&0xFF)<<12)
		c.set(rd, next)
		next = c.pc + imm
	case 0x67: // jalr
		t := next
		next = (rs1 + immI) &^ 1
		c.set(rd, t)
	case 0x63: // branches
		imm := uint32((int32(instr)>>31)<<12 |
			int32((instr>>25)&0x3F)<<5 |
			int32((instr>>8)&0xF)<<1 |
			int32((instr>>7)&1)<<11)
		var taken bool
		switch f3 {
		case 0:
			taken = rs1 == rs2
		case 1:
			taken = rs1 != rs2
		case 4:
			taken = int32(rs1) < int32(rs2)
		case 5:
			taken = int32(rs1) >= int32(rs2)
		case 6:
			taken = rs1 < rs2
		case 7:
			taken = rs1 >= rs2
		default:
			return EventFault, &Trap{PC: c.pc, Reason: "illegal branch"}
		}
		if taken {
			next = c.pc + imm
		}
	case 0x03: // loads
		addr := rs1 + immI
		var size int
		switch f3 {
		case 0, 4:
			size = 1
		case 1, 5:
			size = 2
		case 2:
			size = 4
		default:
			return EventFault, &Trap{PC: c.pc, Reason: "illegal load"}
		}
		v, err := c.bus.Read(addr, size)
		if err != nil {
			return EventFault, &Trap{PC: c.pc, Reason: "load fault", Err: err}
		}
		switch f3 {
		case 0:
			v = uint32(int32(int8(v)))
		case 1:
			v = uint32(int32(int16(v)))
		}
		c.set(rd, v)
		if c.checkWatch(addr, size, false) {
			c.pc = next
			return EventWatch, nil
		}
	case 0x23: // stores
		imm := uint32((int32(instr)>>25)<<5 | int32((instr>>7)&0x1F))
		addr := rs1 + imm
		var size int
		switch f3 {
		case 0:
			size = 1
		case 1:
			size = 2
		case 2:
			size = 4
		default:
			return EventFault, &Trap{PC: c.pc, Reason: "illegal store"}
		}
		if err := c.bus.Write(addr, size, rs2); err != nil {
			return EventFault, &Trap{PC: c.pc, Reason: "store fault", Err: err}
		}
		if c.checkWatch(addr, size, true) {
			c.pc = next
			return EventWatch, nil
		}
	case 0x13: // alu immediate
		shamt := immI & 0x1F
		switch f3 {
		case 0:
			c.set(rd, rs1+immI)
		case 1:
			c.set(rd, rs1<<shamt)
		case 2:
			c.set(rd, b2u(int32(rs1) < int32(immI)))
		case 3:
			c.set(rd, b2u(rs1 < immI))
		case 4:
			c.set(rd, rs1^immI)
		case 5:
			if instr>>30&1 == 1 {
				c.set(rd, uint32(int32(rs1)>>shamt))
			} else {
				c.set(rd, rs1>>shamt)
			}
		case 6:
			c.set(rd, rs1|immI)
		case 7:
			c.set(rd, rs1&immI)
		}
	case 0x33: // alu register
		switch {
		case f7 == 0x01: // m extension
			c.set(rd, mulDiv(f3, rs1, rs2))
		case f3 == 0 && f7 == 0x20:
			c.set(rd, rs1-rs2)
		case f3 == 0 && f7 == 0:
			c.set(rd, rs1+rs2)
		case f3 == 1:
			c.set(rd, rs1<<(rs2&0x1F))
		case f3 == 2:
			c.set(rd, b2u(int32(rs1) < int32(rs2)))
		case f3 == 3:
			c.set(rd, b2u(rs1 < rs2))
		case f3 == 4:
			c.set(rd, rs1^rs2)
		case f3 == 5 && f7 == 0x20:
			c.set(rd, uint32(int32(rs1)>>(rs2&0x1F)))
		case f3 == 5:
			c.set(rd, rs1>>(rs2&0x1F))
		case f3 == 6:
			c.set(rd, rs1|rs2)
		case f3 == 7:
			c.set(rd, rs1&rs2)
		default:
			return EventFault, &Trap{PC: c.pc, Reason: "illegal alu op"}
		}
	case 0x0F: // fence, fence.i
	case 0x73: // system
		switch {
		case instr == 0x00000073: // ecall; no execution environment here
			return EventFault, &Trap{PC: c.pc, Reason: "environment call"}
		case instr == 0x00100073: // ebreak
			return EventBreak, nil
		case instr == 0x10500073: // wfi
		case f3 != 0 && f3 != 4:
			c.csr(instr, f3, rd, rs1)
		default:
			return EventFault, &Trap{PC: c.pc, Reason: "illegal system op"}
		}
	default:
		return EventFault, &Trap{PC: c.pc, Reason: fmt.Sprintf("illegal instruction 0x%08x", instr)}
	}
	c.pc = next
	return EventNone, nil
}

func (c *CPU) csr(instr, f3, rd, rs1v uint32) {
	addr := instr >> 20
	src := rs1v
	if f3 >= 5 { // immediate forms use the rs1 field as a zimm
		src = (instr >> 15) & 0x1F
	}
	old := c.csrs[addr]
	switch f3 & 3 {
	case 1: // csrrw
		c.csrs[addr] = src
	case 2: // csrrs
		if src != 0 {
			c.csrs[addr] = old | src
		}
	case 3: // csrrc
		if src != 0 {
			c.csrs[addr] = old &^ src
		}
	}
	c.set(rd, old)
}

func mulDiv(f3, a, b uint32) uint32 {
	switch f3 {
	case 0: // mul
		return a * b
	case 1: // mulh
		return uint32((int64(int32(a)) * int64(int32(b))) >> 32)
	case 2: // mulhsu
		return uint32((int64(int32(a)) * int64(b)) >> 32)
	case 3: // mulhu
		return uint32((uint64(a) * uint64(b)) >> 32)
	case 4: // div
		if b == 0 {
			return 0xFFFFFFFF
		}
		if int32(a) == -1<<31 && int32(b) == -1 {
			return a
		}
		return uint32(int32(a) / int32(b))
	case 5: // divu
		if b == 0 {
			return 0xFFFFFFFF
		}
		return a / b
	case 6: // rem
		if b == 0 {
			return a
		}
		if int32(a) == -1<<31 && int32(b) == -1 {
			return 0
		}
		return uint32(int32(a) % int32(b))
	default: // remu
		if b == 0 {
			return a
		}
		return a % b
	}
}

func b2u(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
