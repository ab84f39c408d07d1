package debug

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/retroenv/retrogolib/log"

	"github.com/emucraft/socorn/models"
)

func testLogger() *log.Logger {
	cfg := log.DefaultConfig()
	cfg.Level = log.ErrorLevel
	return log.NewWithConfig(cfg)
}

// fakeMachine scripts verdicts for the stub to consume.
type fakeMachine struct {
	regs     [32]uint32
	pc       uint32
	mem      map[uint32]byte
	verdicts []models.StepVerdict
	latched  models.StepVerdict
	steps    int
	breaks   map[uint32]bool
	watches  int
	watchHit bool
}

func newFakeMachine() *fakeMachine {
	return &fakeMachine{
		mem:    make(map[uint32]byte),
		breaks: make(map[uint32]bool),
	}
}

func (f *fakeMachine) Step() models.StepVerdict {
	if f.latched.Terminal() {
		return f.latched
	}
	f.steps++
	f.pc += 4
	v := models.VerdictContinue
	if len(f.verdicts) > 0 {
		v = f.verdicts[0]
		f.verdicts = f.verdicts[1:]
	}
	f.latched = v
	return v
}

func (f *fakeMachine) Verdict() models.StepVerdict { return f.latched }
func (f *fakeMachine) PC() uint32                  { return f.pc }
func (f *fakeMachine) SetPC(pc uint32)             { f.pc = pc }
func (f *fakeMachine) NumRegs() int                { return 32 }

func (f *fakeMachine) Reg(i int) (uint32, error) {
	if i < 0 || i >= 32 {
		return 0, fmt.Errorf("bad reg %d", i)
	}
	return f.regs[i], nil
}

func (f *fakeMachine) SetReg(i int, v uint32) error {
	if i < 0 || i >= 32 {
		return fmt.Errorf("bad reg %d", i)
	}
	if i != 0 {
		f.regs[i] = v
	}
	return nil
}

func (f *fakeMachine) ReadMem(addr uint32, p []byte) error {
	for i := range p {
		p[i] = f.mem[addr+uint32(i)]
	}
	return nil
}

func (f *fakeMachine) WriteMem(addr uint32, p []byte) error {
	for i, b := range p {
		f.mem[addr+uint32(i)] = b
	}
	return nil
}

func (f *fakeMachine) AddBreak(addr uint32) { f.breaks[addr] = true }
func (f *fakeMachine) DelBreak(addr uint32) { delete(f.breaks, addr) }

func (f *fakeMachine) AddWatch(addr, size uint32, kind int) error {
	if f.watches >= 4 {
		return fmt.Errorf("no free watchpoint slot")
	}
	f.watches++
	return nil
}

func (f *fakeMachine) DelWatch(addr, size uint32, kind int) error {
	if f.watches == 0 {
		return fmt.Errorf("no watchpoint")
	}
	f.watches--
	return nil
}

func (f *fakeMachine) LastWatch() (uint32, int, bool) {
	if f.watchHit {
		return 0x40000010, models.WatchWrite, true
	}
	return 0, 0, false
}

func (f *fakeMachine) Regions() []models.MemRegion { return nil }

func (f *fakeMachine) DrainUart(p []byte) (int, error) {
	return 0, models.ErrNoData
}

type stubConn struct {
	conn net.Conn
	r    *bufio.Reader
}

func startStub(t *testing.T, m models.Machine) *stubConn {
	t.Helper()
	server, client := net.Pipe()
	stub := NewGdbstub(m, testLogger(), nil)
	go stub.Run(server)
	t.Cleanup(func() { client.Close() })
	return &stubConn{conn: client, r: bufio.NewReader(client)}
}

func (s *stubConn) send(t *testing.T, payload string) {
	t.Helper()
	pkt := "$" + payload + "#" + string(checksum([]byte(payload)))
	s.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if _, err := s.conn.Write([]byte(pkt)); err != nil {
		t.Fatal(err)
	}
}

// recv skips acks and returns the next reply payload.
func (s *stubConn) recv(t *testing.T) string {
	t.Helper()
	s.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		b, err := s.r.ReadByte()
		if err != nil {
			t.Fatal(err)
		}
		if b == '$' {
			break
		}
	}
	data, err := s.r.ReadBytes('#')
	if err != nil {
		t.Fatal(err)
	}
	var chk [2]byte
	if _, err := io.ReadFull(s.r, chk[:]); err != nil {
		t.Fatal(err)
	}
	payload := data[:len(data)-1]
	if !bytes.Equal(checksum(payload), chk[:]) {
		t.Fatalf("bad checksum on %q", payload)
	}
	return string(payload)
}

func TestStubQueries(t *testing.T) {
	m := newFakeMachine()
	m.pc = 0x80000000
	m.regs[10] = 0xDEADBEEF
	s := startStub(t, m)

	s.send(t, "qSupported:multiprocess+")
	if got := s.recv(t); !strings.Contains(got, "PacketSize=") ||
		!strings.Contains(got, "qXfer:features:read+") {
		t.Errorf("qSupported = %q", got)
	}

	s.send(t, "qAttached")
	if got := s.recv(t); got != "1" {
		t.Errorf("qAttached = %q", got)
	}

	// a0 is regnum 10, little-endian hex
	s.send(t, "pa")
	if got := s.recv(t); got != "efbeadde" {
		t.Errorf("p a0 = %q", got)
	}

	// pc is regnum 0x20
	s.send(t, "p20")
	if got := s.recv(t); got != "00000080" {
		t.Errorf("p pc = %q", got)
	}

	s.send(t, "g")
	got := s.recv(t)
	if len(got) != 33*8 {
		t.Fatalf("g reply length = %d", len(got))
	}
	if got[10*8:11*8] != "efbeadde" {
		t.Errorf("g a0 slice = %q", got[10*8:11*8])
	}
	if !strings.HasSuffix(got, "00000080") {
		t.Errorf("g pc slice = %q", got[32*8:])
	}
}

func TestStubTargetXml(t *testing.T) {
	m := newFakeMachine()
	s := startStub(t, m)

	s.send(t, "qXfer:features:read:target.xml:0,ffb")
	got := s.recv(t)
	if !strings.HasPrefix(got, "m") && !strings.HasPrefix(got, "l") {
		t.Fatalf("xfer reply = %q", got)
	}
	if !strings.Contains(got, "riscv:rv32") {
		t.Errorf("target xml missing architecture: %q", got)
	}
	if !strings.Contains(got, `name="a0"`) {
		t.Errorf("target xml missing a0: %q", got)
	}
}

func TestStubMemoryRW(t *testing.T) {
	m := newFakeMachine()
	s := startStub(t, m)

	s.send(t, "M40000000,4:deadbeef")
	if got := s.recv(t); got != "OK" {
		t.Fatalf("M = %q", got)
	}
	if m.mem[0x40000000] != 0xde || m.mem[0x40000003] != 0xef {
		t.Errorf("memory not written: % x", []byte{
			m.mem[0x40000000], m.mem[0x40000001],
			m.mem[0x40000002], m.mem[0x40000003],
		})
	}

	s.send(t, "m40000000,4")
	if got := s.recv(t); got != "deadbeef" {
		t.Errorf("m = %q", got)
	}
}

func TestStubBreakpoints(t *testing.T) {
	m := newFakeMachine()
	s := startStub(t, m)

	s.send(t, "Z0,80000010,4")
	if got := s.recv(t); got != "OK" {
		t.Fatalf("Z0 = %q", got)
	}
	if !m.breaks[0x80000010] {
		t.Error("breakpoint not registered")
	}

	s.send(t, "z0,80000010,4")
	if got := s.recv(t); got != "OK" {
		t.Fatalf("z0 = %q", got)
	}
	if m.breaks[0x80000010] {
		t.Error("breakpoint not removed")
	}

	s.send(t, "Z2,40000010,4")
	if got := s.recv(t); got != "OK" {
		t.Fatalf("Z2 = %q", got)
	}
	if m.watches != 1 {
		t.Errorf("watches = %d", m.watches)
	}

	// exhaust the slots
	for i := 0; i < 3; i++ {
		s.send(t, "Z2,50000000,4")
		s.recv(t)
	}
	s.send(t, "Z2,60000000,4")
	if got := s.recv(t); got != "E01" {
		t.Errorf("Z2 over limit = %q", got)
	}
}

func TestStubContinueToBreak(t *testing.T) {
	m := newFakeMachine()
	m.verdicts = []models.StepVerdict{
		models.VerdictContinue,
		models.VerdictContinue,
		models.VerdictBreak,
	}
	s := startStub(t, m)

	s.send(t, "c")
	got := s.recv(t)
	if !strings.HasPrefix(got, "T05") {
		t.Fatalf("stop reply = %q", got)
	}
	if m.steps != 3 {
		t.Errorf("steps = %d", m.steps)
	}
}

func TestStubContinueToExit(t *testing.T) {
	m := newFakeMachine()
	m.verdicts = []models.StepVerdict{models.VerdictExitSuccess}
	s := startStub(t, m)

	s.send(t, "c")
	if got := s.recv(t); got != "W00" {
		t.Fatalf("stop reply = %q", got)
	}

	// terminal verdicts latch, so resuming reports the same exit
	s.send(t, "c")
	if got := s.recv(t); got != "W00" {
		t.Fatalf("second stop reply = %q", got)
	}

	s.send(t, "?")
	if got := s.recv(t); got != "W00" {
		t.Fatalf("? = %q", got)
	}
}

func TestStubExitFailure(t *testing.T) {
	m := newFakeMachine()
	m.verdicts = []models.StepVerdict{models.VerdictExitFailure}
	s := startStub(t, m)

	s.send(t, "s")
	if got := s.recv(t); got != "W01" {
		t.Fatalf("stop reply = %q", got)
	}
}

func TestStubWatchStop(t *testing.T) {
	m := newFakeMachine()
	m.verdicts = []models.StepVerdict{models.VerdictBreak}
	m.watchHit = true
	s := startStub(t, m)

	s.send(t, "s")
	got := s.recv(t)
	if !strings.Contains(got, "watch:40000010;") {
		t.Fatalf("stop reply = %q", got)
	}
}

func TestStubStepChangesPC(t *testing.T) {
	m := newFakeMachine()
	m.pc = 0x80000000
	s := startStub(t, m)

	s.send(t, "s")
	got := s.recv(t)
	if !strings.HasPrefix(got, "T05") || !strings.Contains(got, "20:04000080;") {
		t.Fatalf("stop reply = %q", got)
	}
}

func TestStubDetach(t *testing.T) {
	m := newFakeMachine()
	s := startStub(t, m)

	s.send(t, "D")
	if got := s.recv(t); got != "OK" {
		t.Fatalf("D = %q", got)
	}
	s.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := s.r.ReadByte(); err == nil {
		t.Error("connection still open after detach")
	}
}
