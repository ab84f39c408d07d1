// Package socorn emulates a RISC-V security controller SoC: an rv32
// core behind a flat physical bus of ROM, SRAM and register-level
// peripheral models, plus the debug and trace surfaces around it.
package socorn

import (
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/retroenv/retrogolib/log"
	"github.com/shibukawa/configdir"

	"github.com/emucraft/socorn/debug"
	"github.com/emucraft/socorn/loader"
	"github.com/emucraft/socorn/mem"
	"github.com/emucraft/socorn/models"
	"github.com/emucraft/socorn/periph"
	"github.com/emucraft/socorn/rv32"
	"github.com/emucraft/socorn/sbus"
	"github.com/emucraft/socorn/trace"
)

// running is process-wide so a signal handler can stop every free-run
// loop at once. New re-arms it.
var running int32 = 1

func Running() bool { return atomic.LoadInt32(&running) != 0 }

func RequestShutdown() { atomic.StoreInt32(&running, 0) }

const flashCapacity = 0x10000

// sbusChunk is the frame size streaming boot images are pushed in.
const sbusChunk = 256

type Emulator struct {
	cfg    *models.Config
	logger *log.Logger

	layout *mem.Layout
	bus    *mem.Bus
	cpu    *rv32.CPU

	capture *periph.Capture
	uart    *periph.Uart
	ctrl    *periph.Ctrl
	otp     *periph.Otp
	flash   [2]*periph.Flash
	i3c     *periph.I3c

	tw      *trace.TraceWriter
	stub    *debug.Gdbstub
	monitor *debug.Monitor
	gdbLn   net.Listener
	monLn   net.Listener
	sb      *sbus.Server

	romEntry uint32
	verdict  models.StepVerdict
	closed   bool
}

var _ models.Machine = (*Emulator)(nil)

// New builds a fully wired emulator from cfg. On any failure every
// resource opened so far is released and no handle is returned.
func New(cfg *models.Config) (*Emulator, error) {
	if err := cfg.Check(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		lcfg := log.DefaultConfig()
		lcfg.Level = log.ErrorLevel
		logger = log.NewWithConfig(lcfg)
	}

	layout, err := mem.Resolve(&cfg.Mem)
	if err != nil {
		return nil, err
	}

	e := &Emulator{
		cfg:    cfg,
		logger: logger,
		layout: layout,
	}
	ok := false
	defer func() {
		if !ok {
			e.Close()
		}
	}()

	atomic.StoreInt32(&running, 1)

	e.bus = mem.NewBus(layout, cfg.External)
	if err := e.attachDevices(); err != nil {
		return nil, err
	}
	if err := e.loadImages(); err != nil {
		return nil, err
	}
	if err := e.burnFuses(); err != nil {
		return nil, err
	}

	e.cpu = rv32.New(e.bus)

	if cfg.TraceInstr {
		if err := e.openTrace(); err != nil {
			return nil, err
		}
	}
	if cfg.GdbPort > 0 {
		e.gdbLn, err = listen("gdb", cfg.GdbPort)
		if err != nil {
			return nil, err
		}
		e.stub = debug.NewGdbstub(e, logger, stopped)
	}
	if cfg.MonitorPort > 0 {
		e.monLn, err = listen("monitor", cfg.MonitorPort)
		if err != nil {
			return nil, err
		}
		e.monitor = debug.NewMonitor(e, logger, stopped)
		go e.serveMonitor()
	}
	if cfg.SbusPort > 0 {
		e.sb, err = sbus.New(cfg.SbusPort, e.i3c, logger)
		if err != nil {
			return nil, err
		}
	}
	if err := e.streamBoot(); err != nil {
		return nil, err
	}

	e.cpu.Reset(e.romEntry)

	ok = true
	return e, nil
}

func stopped() bool { return !Running() }

func listen(name string, port int) (net.Listener, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf("localhost:%d", port))
	if err != nil {
		return nil, errors.Wrapf(models.ErrInitializationFailed, "%s listen on %d: %v", name, port, err)
	}
	return ln, nil
}

func (e *Emulator) attachDevices() error {
	cfg := e.cfg

	// transmit bytes either accumulate for DrainUart or go straight to
	// stdout, never both
	var sink io.Writer
	if cfg.CaptureUart {
		e.capture = &periph.Capture{}
	} else {
		sink = os.Stdout
	}
	e.uart = periph.NewUart(e.capture, sink)
	e.ctrl = periph.NewCtrl()
	e.i3c = periph.NewI3c()

	var err error
	e.otp, err = periph.NewOtp(e.layout.Region(mem.RegionOtp).Size, cfg.OtpPath)
	if err != nil {
		return err
	}
	e.flash[0], err = periph.NewFlash(cfg.PrimaryFlashPath, flashCapacity)
	if err != nil {
		return err
	}
	e.flash[1], err = periph.NewFlash(cfg.SecondaryFlashPath, flashCapacity)
	if err != nil {
		return err
	}

	devs := map[string]mem.Device{
		mem.RegionRom:     periph.NewROM(e.layout.Region(mem.RegionRom).Size),
		mem.RegionSram:    periph.NewRAM(e.layout.Region(mem.RegionSram).Size),
		mem.RegionDccm:    periph.NewRAM(e.layout.Region(mem.RegionDccm).Size),
		mem.RegionExtSram: periph.NewRAM(e.layout.Region(mem.RegionExtSram).Size),
		mem.RegionUart:    e.uart,
		mem.RegionCtrl:    e.ctrl,
		mem.RegionI3c:     e.i3c,
		mem.RegionOtp:     e.otp,
		mem.RegionFlashA:  e.flash[0],
		mem.RegionFlashB:  e.flash[1],
		mem.RegionPic:     periph.NewPic(),
		mem.RegionMci:     periph.NewMci(),
		mem.RegionMbox:    periph.NewMbox(),
		mem.RegionSoc:     periph.NewSoc(cfg.HwRevision, cfg.ManufacturingMode),
		mem.RegionLc:      periph.NewLc(cfg.ManufacturingMode),
		mem.RegionSpi:     periph.NewSpi(),
		mem.RegionDma:     periph.NewDma(e.bus),
	}
	for name, d := range devs {
		if err := e.bus.Attach(name, d); err != nil {
			return errors.Wrapf(models.ErrInitializationFailed, "attach %s: %v", name, err)
		}
	}
	return nil
}

func (e *Emulator) loadImages() error {
	rom := e.layout.Region(mem.RegionRom)
	img, err := loader.LoadFile(e.cfg.RomPath, rom.Addr)
	if err != nil {
		return err
	}
	if err := e.place(img); err != nil {
		return err
	}
	e.romEntry = img.Entry

	if e.cfg.FirmwarePath != "" {
		sram := e.layout.Region(mem.RegionSram)
		img, err := loader.LoadFile(e.cfg.FirmwarePath, sram.Addr)
		if err != nil {
			return err
		}
		if err := e.place(img); err != nil {
			return err
		}
	}
	if e.cfg.SecondaryFirmwarePath != "" {
		ext := e.layout.Region(mem.RegionExtSram)
		img, err := loader.LoadFile(e.cfg.SecondaryFirmwarePath, ext.Addr)
		if err != nil {
			return err
		}
		if err := e.place(img); err != nil {
			return err
		}
	}
	// the secondary core is not modeled; its rom and the boot manifest
	// only have to exist so a misconfiguration fails early
	for _, path := range []string{e.cfg.SecondaryRomPath, e.cfg.ManifestPath} {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			return errors.Wrapf(models.ErrInitializationFailed, "%s: %v", path, err)
		}
	}
	return nil
}

func (e *Emulator) place(img *loader.Image) error {
	for _, s := range img.Segments {
		r, ok := e.layout.RegionFor(s.Addr)
		if !ok {
			return errors.Wrapf(models.ErrInitializationFailed,
				"segment at 0x%08x is outside the memory map", s.Addr)
		}
		if uint64(s.Addr)+uint64(len(s.Data)) > r.End() {
			return errors.Wrapf(models.ErrInitializationFailed,
				"image overflows %s", r.Name)
		}
		ram, ok := e.bus.Device(r.Name).(*periph.RAM)
		if !ok {
			return errors.Wrapf(models.ErrInitializationFailed,
				"%s is not loadable memory", r.Name)
		}
		copy(ram.Image()[s.Addr-r.Addr:], s.Data)
	}
	return nil
}

func (e *Emulator) burnFuses() error {
	vendor, _ := models.DecodePKHash(e.cfg.VendorPKHash)
	owner, _ := models.DecodePKHash(e.cfg.OwnerPKHash)
	if vendor != nil {
		if err := e.otp.Burn(periph.OtpVendorHashOff, vendor); err != nil {
			return err
		}
	}
	if owner != nil {
		if err := e.otp.Burn(periph.OtpOwnerHashOff, owner); err != nil {
			return err
		}
	}
	if e.cfg.ManufacturingMode {
		fuses := e.otp.Fuses()
		if fuses[periph.OtpLifecycleOff] == 0 {
			if err := e.otp.Burn(periph.OtpLifecycleOff, []byte{periph.LcStateManuf}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Emulator) openTrace() error {
	dir := e.cfg.LogDir
	if dir == "" {
		cache := configdir.New("socorn", "traces").QueryCacheFolder()
		if err := cache.MkdirAll(); err != nil {
			return errors.Wrapf(models.ErrInitializationFailed, "trace dir: %v", err)
		}
		dir = cache.Path
	} else if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(models.ErrInitializationFailed, "trace dir: %v", err)
	}
	path := filepath.Join(dir, "instr.sctr")
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(models.ErrInitializationFailed, "trace file: %v", err)
	}
	tw, err := trace.NewWriter(f, e.cfg.HwRevision)
	if err != nil {
		f.Close()
		return errors.Wrapf(models.ErrInitializationFailed, "trace header: %v", err)
	}
	e.tw = tw
	e.cpu.SetHook(func(pc, instr uint32) {
		e.tw.Step(pc, instr)
	})
	e.logger.Info("tracing instructions", log.String("path", path))
	return nil
}

// streamBoot preloads a recovery image into the secondary bus queue so
// firmware can pull it without an external client.
func (e *Emulator) streamBoot() error {
	if e.cfg.StreamingBootPath == "" {
		return nil
	}
	p, err := os.ReadFile(e.cfg.StreamingBootPath)
	if err != nil {
		return errors.Wrapf(models.ErrInitializationFailed, "streaming boot: %v", err)
	}
	for off := 0; off < len(p); off += sbusChunk {
		end := off + sbusChunk
		if end > len(p) {
			end = len(p)
		}
		e.i3c.Push(p[off:end])
	}
	return nil
}

func (e *Emulator) serveMonitor() {
	for {
		if err := e.monitor.Serve(e.monLn); err != nil {
			return
		}
	}
}

// Step retires one instruction and folds everything that happened into
// a verdict. Terminal verdicts latch: once the run has exited, Step
// keeps reporting the exit without touching the core.
func (e *Emulator) Step() models.StepVerdict {
	if e.verdict.Terminal() {
		return e.verdict
	}
	ev, err := e.cpu.Step()

	// an exit write is the strongest signal regardless of the event
	if code, done := e.ctrl.Exited(); done {
		if code == 0 {
			e.verdict = models.VerdictExitSuccess
		} else {
			e.verdict = models.VerdictExitFailure
		}
		return e.verdict
	}

	switch ev {
	case rv32.EventBreak, rv32.EventWatch:
		e.verdict = models.VerdictBreak
		return e.verdict
	case rv32.EventFault:
		e.logger.Error("cpu fault", err, log.Uint32("pc", e.cpu.PC()))
		e.verdict = models.VerdictExitFailure
		return e.verdict
	}
	if e.cpu.BreakAt(e.cpu.PC()) {
		e.verdict = models.VerdictBreak
		return e.verdict
	}
	e.verdict = models.VerdictContinue
	return e.verdict
}

// Verdict reports the outcome of the most recent Step.
func (e *Emulator) Verdict() models.StepVerdict { return e.verdict }

// DrainUart moves captured UART output into p. See Capture.Drain.
// Without capture enabled there is never anything to report.
func (e *Emulator) DrainUart(p []byte) (int, error) {
	if e.capture == nil {
		return 0, models.ErrNoData
	}
	return e.capture.Drain(p)
}

// FeedUart queues bytes for firmware to read from the UART.
func (e *Emulator) FeedUart(p []byte) { e.uart.Feed(p) }

// RunDebugServer accepts one gdb client and serves it until the
// session ends. It is an error to call without a debug port.
func (e *Emulator) RunDebugServer() error {
	if e.gdbLn == nil {
		return errors.Wrap(models.ErrInvalidArgument, "no debug port configured")
	}
	return e.stub.Serve(e.gdbLn)
}

func (e *Emulator) DebugMode() bool { return e.gdbLn != nil }

// DebugPort reports the bound gdb port, 0 when debugging is off.
func (e *Emulator) DebugPort() int {
	if e.gdbLn == nil {
		return 0
	}
	return e.gdbLn.Addr().(*net.TCPAddr).Port
}

func (e *Emulator) PC() uint32      { return e.cpu.PC() }
func (e *Emulator) SetPC(pc uint32) { e.cpu.SetPC(pc) }
func (e *Emulator) NumRegs() int    { return e.cpu.NumRegs() }

func (e *Emulator) Reg(i int) (uint32, error)    { return e.cpu.Reg(i) }
func (e *Emulator) SetReg(i int, v uint32) error { return e.cpu.SetReg(i, v) }

func (e *Emulator) ReadMem(addr uint32, p []byte) error  { return e.bus.ReadBytes(addr, p) }
func (e *Emulator) WriteMem(addr uint32, p []byte) error { return e.bus.WriteBytes(addr, p) }

func (e *Emulator) AddBreak(addr uint32) { e.cpu.AddBreak(addr) }
func (e *Emulator) DelBreak(addr uint32) { e.cpu.DelBreak(addr) }

func (e *Emulator) AddWatch(addr, size uint32, kind int) error {
	return e.cpu.AddWatch(addr, size, kind)
}

func (e *Emulator) DelWatch(addr, size uint32, kind int) error {
	return e.cpu.DelWatch(addr, size, kind)
}

func (e *Emulator) LastWatch() (uint32, int, bool) {
	hit, ok := e.cpu.LastWatch()
	if !ok {
		return 0, 0, false
	}
	return hit.Addr, hit.Kind, true
}

// Regions lists the resolved memory map.
func (e *Emulator) Regions() []models.MemRegion {
	regions := e.layout.Regions()
	out := make([]models.MemRegion, 0, len(regions))
	for _, r := range regions {
		out = append(out, models.MemRegion{Name: r.Name, Addr: r.Addr, Size: r.Size})
	}
	return out
}

// Close releases everything: listeners, live debug sessions, the trace
// stream, and persistent fuse and flash state. Safe to call twice.
func (e *Emulator) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true

	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}

	if e.gdbLn != nil {
		keep(e.gdbLn.Close())
	}
	if e.stub != nil {
		e.stub.Interrupt()
	}
	if e.monLn != nil {
		keep(e.monLn.Close())
	}
	if e.sb != nil {
		keep(e.sb.Close())
	}
	if e.tw != nil {
		e.tw.Close()
	}
	if e.otp != nil {
		keep(e.otp.Persist())
	}
	for _, f := range e.flash {
		if f != nil {
			keep(f.Persist())
		}
	}
	return first
}
