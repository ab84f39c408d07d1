package models

// MemRegion describes one mapped span for listings and debugger queries.
type MemRegion struct {
	Name string
	Addr uint32
	Size uint32
}

// Watchpoint kinds, matching the GDB Z packet types.
const (
	WatchWrite  = 2
	WatchRead   = 3
	WatchAccess = 4
)

// Machine is the engine view the debug surfaces drive. Stepping here is
// the same entry point the host uses, so debugger-driven execution and
// host-driven execution cannot diverge.
type Machine interface {
	Step() StepVerdict
	Verdict() StepVerdict

	PC() uint32
	SetPC(uint32)
	NumRegs() int
	Reg(i int) (uint32, error)
	SetReg(i int, v uint32) error

	ReadMem(addr uint32, p []byte) error
	WriteMem(addr uint32, p []byte) error

	AddBreak(addr uint32)
	DelBreak(addr uint32)
	AddWatch(addr, size uint32, kind int) error
	DelWatch(addr, size uint32, kind int) error
	// LastWatch reports the watchpoint hit behind the most recent break
	// verdict, if there was one.
	LastWatch() (addr uint32, kind int, ok bool)

	Regions() []MemRegion
	DrainUart(p []byte) (int, error)
}
