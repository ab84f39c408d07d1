package rv32

import (
	"testing"

	"github.com/pkg/errors"

	"github.com/emucraft/socorn/mem"
	"github.com/emucraft/socorn/models"
)

type ram []byte

func (r ram) Load(off uint32, size int) (uint32, error) {
	if int(off)+size > len(r) {
		return 0, errors.New("out of range")
	}
	var v uint32
	for i := size - 1; i >= 0; i-- {
		v = v<<8 | uint32(r[off+uint32(i)])
	}
	return v, nil
}

func (r ram) Store(off uint32, size int, val uint32) error {
	if int(off)+size > len(r) {
		return errors.New("out of range")
	}
	for i := 0; i < size; i++ {
		r[off+uint32(i)] = byte(val >> (8 * uint(i)))
	}
	return nil
}

const romBase = 0x8000_0000

func newTestCPU(t *testing.T, prog []uint32) *CPU {
	t.Helper()
	l, err := mem.Resolve(nil)
	if err != nil {
		t.Fatal(err)
	}
	b := mem.NewBus(l, nil)
	rom := make(ram, l.Region(mem.RegionRom).Size)
	if err := b.Attach(mem.RegionRom, rom); err != nil {
		t.Fatal(err)
	}
	if err := b.Attach(mem.RegionSram, make(ram, l.Region(mem.RegionSram).Size)); err != nil {
		t.Fatal(err)
	}
	for i, w := range prog {
		if err := rom.Store(uint32(i*4), 4, w); err != nil {
			t.Fatal(err)
		}
	}
	c := New(b)
	c.Reset(romBase)
	return c
}

func stepN(t *testing.T, c *CPU, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		ev, err := c.Step()
		if ev != EventNone || err != nil {
			t.Fatalf("step %d: event %v err %v", i, ev, err)
		}
	}
}

func reg(t *testing.T, c *CPU, i int) uint32 {
	t.Helper()
	v, err := c.Reg(i)
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func TestArith(t *testing.T) {
	c := newTestCPU(t, []uint32{
		0x12345537, // lui a0,0x12345
		0x67850513, // addi a0,a0,0x678
		0x00500293, // addi t0,zero,5
		0x005505B3, // add a1,a0,t0
		0x40558633, // sub a2,a1,t0
	})
	stepN(t, c, 5)
	if v := reg(t, c, 10); v != 0x12345678 {
		t.Fatalf("a0 = 0x%08x", v)
	}
	if v := reg(t, c, 11); v != 0x1234567D {
		t.Fatalf("a1 = 0x%08x", v)
	}
	if v := reg(t, c, 12); v != 0x12345678 {
		t.Fatalf("a2 = 0x%08x", v)
	}
	if c.PC() != romBase+20 {
		t.Fatalf("pc = 0x%08x", c.PC())
	}
}

func TestLoadStore(t *testing.T) {
	c := newTestCPU(t, []uint32{
		0x40000537, // lui a0,0x40000
		0xDEADC5B7, // lui a1,0xdeadc
		0xEEF58593, // addi a1,a1,-273  -> 0xdeadbeef
		0x00B52823, // sw a1,16(a0)
		0x01052603, // lw a2,16(a0)
		0x01350683, // lb a3,19(a0)
		0x01255703, // lhu a4,18(a0)
	})
	stepN(t, c, 7)
	if v := reg(t, c, 12); v != 0xDEADBEEF {
		t.Fatalf("lw a2 = 0x%08x", v)
	}
	if v := reg(t, c, 13); v != 0xFFFFFFDE {
		t.Fatalf("lb a3 = 0x%08x, want sign extension", v)
	}
	if v := reg(t, c, 14); v != 0x0000DEAD {
		t.Fatalf("lhu a4 = 0x%08x", v)
	}
}

func TestBranchLoop(t *testing.T) {
	c := newTestCPU(t, []uint32{
		0x00300293, // addi t0,zero,3
		0xFFF28293, // loop: addi t0,t0,-1
		0xFE029EE3, // bne t0,zero,loop
	})
	stepN(t, c, 7)
	if v := reg(t, c, 5); v != 0 {
		t.Fatalf("t0 = %d after loop", v)
	}
	if c.PC() != romBase+12 {
		t.Fatalf("pc = 0x%08x", c.PC())
	}
}

func TestJalJalr(t *testing.T) {
	c := newTestCPU(t, []uint32{
		0x008000EF, // jal ra,+8
		0x00000013, // nop (skipped)
		0x00008067, // ret
	})
	ev, err := c.Step()
	if ev != EventNone || err != nil {
		t.Fatalf("jal: %v %v", ev, err)
	}
	if c.PC() != romBase+8 {
		t.Fatalf("jal pc = 0x%08x", c.PC())
	}
	if v := reg(t, c, 1); v != romBase+4 {
		t.Fatalf("ra = 0x%08x", v)
	}
	if ev, err = c.Step(); ev != EventNone || err != nil {
		t.Fatalf("ret: %v %v", ev, err)
	}
	if c.PC() != romBase+4 {
		t.Fatalf("ret pc = 0x%08x", c.PC())
	}
}

func TestMulDiv(t *testing.T) {
	c := newTestCPU(t, []uint32{
		0x00700513, // addi a0,zero,7
		0xFFD00593, // addi a1,zero,-3
		0x02B50633, // mul a2,a0,a1
		0x02B546B3, // div a3,a0,a1
		0x02B56733, // rem a4,a0,a1
	})
	stepN(t, c, 5)
	if v := reg(t, c, 12); v != 0xFFFFFFEB { // -21
		t.Fatalf("mul = 0x%08x", v)
	}
	if v := reg(t, c, 13); v != 0xFFFFFFFE { // -2
		t.Fatalf("div = 0x%08x", v)
	}
	if v := reg(t, c, 14); v != 1 {
		t.Fatalf("rem = 0x%08x", v)
	}
}

func TestDivByZero(t *testing.T) {
	c := newTestCPU(t, []uint32{
		0x00700513, // addi a0,zero,7
		0x02055633, // divu a2,a0,zero
		0x020576B3, // remu a3,a0,zero
	})
	stepN(t, c, 3)
	if v := reg(t, c, 12); v != 0xFFFFFFFF {
		t.Fatalf("divu by zero = 0x%08x", v)
	}
	if v := reg(t, c, 13); v != 7 {
		t.Fatalf("remu by zero = 0x%08x", v)
	}
}

func TestX0Immutable(t *testing.T) {
	c := newTestCPU(t, []uint32{
		0x00500013, // addi zero,zero,5
	})
	stepN(t, c, 1)
	if v := reg(t, c, 0); v != 0 {
		t.Fatalf("x0 = %d", v)
	}
	if err := c.SetReg(0, 99); err != nil {
		t.Fatal(err)
	}
	if v := reg(t, c, 0); v != 0 {
		t.Fatal("SetReg wrote x0")
	}
}

func TestEbreak(t *testing.T) {
	c := newTestCPU(t, []uint32{
		0x00100073, // ebreak
	})
	ev, err := c.Step()
	if err != nil {
		t.Fatal(err)
	}
	if ev != EventBreak {
		t.Fatalf("event = %v", ev)
	}
	if c.PC() != romBase {
		t.Fatalf("pc moved past ebreak: 0x%08x", c.PC())
	}
}

func TestEcallFaults(t *testing.T) {
	c := newTestCPU(t, []uint32{
		0x00000073, // ecall
	})
	ev, err := c.Step()
	if ev != EventFault || err == nil {
		t.Fatalf("event %v err %v", ev, err)
	}
	var trap *Trap
	if !errors.As(err, &trap) || trap.PC != romBase {
		t.Fatalf("bad trap: %v", err)
	}
}

func TestLoadFault(t *testing.T) {
	c := newTestCPU(t, []uint32{
		0x12340537, // lui a0,0x12340
		0x00052583, // lw a1,0(a0) -> hole in the map
	})
	stepN(t, c, 1)
	ev, err := c.Step()
	if ev != EventFault || err == nil {
		t.Fatalf("event %v err %v", ev, err)
	}
	var trap *Trap
	if !errors.As(err, &trap) {
		t.Fatalf("want *Trap, got %v", err)
	}
	var busErr *mem.Error
	if !errors.As(err, &busErr) || busErr.Reason != mem.FaultUnmapped {
		t.Fatalf("trap should carry the bus fault, got %v", err)
	}
	if c.PC() != romBase+4 {
		t.Fatalf("pc should stay on the faulting instruction: 0x%08x", c.PC())
	}
}

func TestWatchpoint(t *testing.T) {
	c := newTestCPU(t, []uint32{
		0x40000537, // lui a0,0x40000
		0x00B52823, // sw a1,16(a0)
		0x01052603, // lw a2,16(a0)
	})
	if err := c.AddWatch(0x4000_0010, 4, models.WatchWrite); err != nil {
		t.Fatal(err)
	}
	stepN(t, c, 1)
	ev, err := c.Step()
	if err != nil {
		t.Fatal(err)
	}
	if ev != EventWatch {
		t.Fatalf("store event = %v", ev)
	}
	hit, ok := c.LastWatch()
	if !ok || hit.Addr != 0x4000_0010 || hit.Kind != models.WatchWrite {
		t.Fatalf("last watch = %+v %v", hit, ok)
	}
	// write watch must not trigger on a read
	if ev, err = c.Step(); ev != EventNone || err != nil {
		t.Fatalf("load event = %v err %v", ev, err)
	}
	if err := c.DelWatch(0x4000_0010, 4, models.WatchWrite); err != nil {
		t.Fatal(err)
	}
	if err := c.DelWatch(0x4000_0010, 4, models.WatchWrite); err == nil {
		t.Fatal("double delete should fail")
	}
}

func TestWatchSlotsExhaust(t *testing.T) {
	c := newTestCPU(t, nil)
	for i := 0; i < maxWatches; i++ {
		if err := c.AddWatch(uint32(0x4000_0000+i*16), 4, models.WatchAccess); err != nil {
			t.Fatal(err)
		}
	}
	if err := c.AddWatch(0x4000_1000, 4, models.WatchAccess); err == nil {
		t.Fatal("expected slot exhaustion")
	}
}

func TestCsr(t *testing.T) {
	c := newTestCPU(t, []uint32{
		0x12345337, // lui t1,0x12345
		0x340312F3, // csrrw t0,mscratch,t1
		0x340023F3, // csrrs t2,mscratch,zero
	})
	stepN(t, c, 3)
	if v := reg(t, c, 5); v != 0 {
		t.Fatalf("csrrw old value = 0x%08x", v)
	}
	if v := reg(t, c, 7); v != 0x12345000 {
		t.Fatalf("csrrs = 0x%08x", v)
	}
}

func TestHook(t *testing.T) {
	c := newTestCPU(t, []uint32{
		0x00500293, // addi t0,zero,5
		0x00100073, // ebreak
	})
	var pcs []uint32
	c.SetHook(func(pc, instr uint32) {
		pcs = append(pcs, pc)
	})
	c.Step()
	c.Step()
	if len(pcs) != 2 || pcs[0] != romBase || pcs[1] != romBase+4 {
		t.Fatalf("hook pcs = %#x", pcs)
	}
}
