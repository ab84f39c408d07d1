package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/retroenv/retrogolib/log"
	"github.com/urfave/cli"

	"github.com/emucraft/socorn"
	"github.com/emucraft/socorn/models"
	"github.com/emucraft/socorn/rv32"
	"github.com/emucraft/socorn/trace"
)

func main() {
	app := cli.NewApp()
	app.Name = "socorn"
	app.Usage = "emulate a RISC-V security controller SoC"
	app.ArgsUsage = "[options] <rom>"
	app.Version = "0.1.0"
	app.Flags = runFlags()
	app.Action = runAction
	app.Commands = []cli.Command{
		{
			Name:      "run",
			Usage:     "boot a ROM image and run it to exit",
			ArgsUsage: "<rom>",
			Flags:     runFlags(),
			Action:    runAction,
		},
		{
			Name:      "trace",
			Usage:     "dump an instruction trace file with disassembly",
			ArgsUsage: "<file>",
			Action:    traceAction,
		},
	}
	if err := app.Run(os.Args); err != nil {
		printError(err)
		os.Exit(1)
	}
}

// Flag names for the 33 memory map overrides, in models.Overrides field
// order. Region names match the map command in the monitor.
var overrideNames = []string{
	"rom-offset", "rom-size", "uart-offset", "uart-size",
	"ctrl-offset", "ctrl-size", "spi-offset", "spi-size",
	"sram-offset", "sram-size", "pic-offset",
	"ext-sram-offset", "ext-sram-size", "dccm-offset", "dccm-size",
	"i3c-offset", "i3c-size", "flash0-offset", "flash0-size",
	"flash1-offset", "flash1-size", "mci-offset", "mci-size",
	"dma-offset", "dma-size", "mbox-offset", "mbox-size",
	"soc-offset", "soc-size", "otp-offset", "otp-size",
	"lc-offset", "lc-size",
}

func runFlags() []cli.Flag {
	flags := []cli.Flag{
		cli.StringFlag{Name: "rom", Usage: "ROM image (raw or ELF), also taken as the first argument"},
		cli.StringFlag{Name: "firmware", Usage: "firmware image preloaded into sram"},
		cli.StringFlag{Name: "secondary-rom", Usage: "ROM image for the secondary core (checked, not executed)"},
		cli.StringFlag{Name: "secondary-firmware", Usage: "recovery image preloaded into external sram"},
		cli.StringFlag{Name: "manifest", Usage: "signed boot manifest"},
		cli.StringFlag{Name: "otp", Usage: "OTP fuse backing file"},
		cli.StringFlag{Name: "primary-flash", Usage: "primary flash backing file"},
		cli.StringFlag{Name: "secondary-flash", Usage: "secondary flash backing file"},
		cli.StringFlag{Name: "streaming-boot", Usage: "image queued on the secondary bus at boot"},
		cli.StringFlag{Name: "log-dir", Usage: "directory for trace output (default: user cache dir)"},
		cli.IntFlag{Name: "gdb", Usage: "listen for a gdb connection on localhost:<port>"},
		cli.IntFlag{Name: "monitor", Usage: "listen for a monitor console on localhost:<port>"},
		cli.IntFlag{Name: "sbus", Usage: "listen for a secondary bus client on localhost:<port>"},
		cli.BoolFlag{Name: "trace-instr", Usage: "write an instruction trace"},
		cli.BoolFlag{Name: "stdin-uart", Usage: "feed terminal input to the UART"},
		cli.BoolFlag{Name: "capture-uart", Usage: "buffer UART output and print it at exit"},
		cli.BoolFlag{Name: "manufacturing", Usage: "boot in the manufacturing lifecycle state"},
		cli.StringFlag{Name: "vendor-pk-hash", Usage: "vendor public key digest to burn (96 hex chars)"},
		cli.StringFlag{Name: "owner-pk-hash", Usage: "owner public key digest to burn (96 hex chars)"},
		cli.StringFlag{Name: "hw-rev", Value: "2.0.0", Usage: "hardware revision as major.minor.patch"},
		cli.BoolFlag{Name: "v", Usage: "verbose output"},
	}
	for _, name := range overrideNames {
		flags = append(flags, cli.Int64Flag{
			Name:  name,
			Value: -1,
			Usage: "memory map override (-1 keeps the default)",
		})
	}
	return flags
}

func applyOverrides(c *cli.Context, ov *models.Overrides) {
	get := func(name string) models.Override {
		return models.Override(c.Int64(name))
	}
	ov.RomOffset = get("rom-offset")
	ov.RomSize = get("rom-size")
	ov.UartOffset = get("uart-offset")
	ov.UartSize = get("uart-size")
	ov.CtrlOffset = get("ctrl-offset")
	ov.CtrlSize = get("ctrl-size")
	ov.SpiOffset = get("spi-offset")
	ov.SpiSize = get("spi-size")
	ov.SramOffset = get("sram-offset")
	ov.SramSize = get("sram-size")
	ov.PicOffset = get("pic-offset")
	ov.ExtTestSramOffset = get("ext-sram-offset")
	ov.ExtTestSramSize = get("ext-sram-size")
	ov.DccmOffset = get("dccm-offset")
	ov.DccmSize = get("dccm-size")
	ov.I3cOffset = get("i3c-offset")
	ov.I3cSize = get("i3c-size")
	ov.PrimaryFlashOffset = get("flash0-offset")
	ov.PrimaryFlashSize = get("flash0-size")
	ov.SecondaryFlashOffset = get("flash1-offset")
	ov.SecondaryFlashSize = get("flash1-size")
	ov.MciOffset = get("mci-offset")
	ov.MciSize = get("mci-size")
	ov.DmaOffset = get("dma-offset")
	ov.DmaSize = get("dma-size")
	ov.MboxOffset = get("mbox-offset")
	ov.MboxSize = get("mbox-size")
	ov.SocOffset = get("soc-offset")
	ov.SocSize = get("soc-size")
	ov.OtpOffset = get("otp-offset")
	ov.OtpSize = get("otp-size")
	ov.LcOffset = get("lc-offset")
	ov.LcSize = get("lc-size")
}

func parseRev(s string) (models.HwRevision, error) {
	var rev models.HwRevision
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return rev, errors.Wrapf(models.ErrInvalidArgument, "bad revision %q", s)
	}
	fields := []*uint16{&rev.Major, &rev.Minor, &rev.Patch}
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 10, 16)
		if err != nil {
			return rev, errors.Wrapf(models.ErrInvalidArgument, "bad revision %q: %v", s, err)
		}
		*fields[i] = uint16(v)
	}
	return rev, nil
}

func buildConfig(c *cli.Context) (*models.Config, error) {
	cfg := models.NewConfig()
	cfg.RomPath = c.String("rom")
	if cfg.RomPath == "" && c.NArg() > 0 {
		cfg.RomPath = c.Args().Get(0)
	}
	if cfg.RomPath == "" {
		cli.ShowAppHelp(c)
		return nil, errors.Wrap(models.ErrInvalidArgument, "no rom image given")
	}
	cfg.FirmwarePath = c.String("firmware")
	cfg.SecondaryRomPath = c.String("secondary-rom")
	cfg.SecondaryFirmwarePath = c.String("secondary-firmware")
	cfg.ManifestPath = c.String("manifest")
	cfg.OtpPath = c.String("otp")
	cfg.PrimaryFlashPath = c.String("primary-flash")
	cfg.SecondaryFlashPath = c.String("secondary-flash")
	cfg.StreamingBootPath = c.String("streaming-boot")
	cfg.LogDir = c.String("log-dir")
	cfg.GdbPort = c.Int("gdb")
	cfg.MonitorPort = c.Int("monitor")
	cfg.SbusPort = c.Int("sbus")
	cfg.TraceInstr = c.Bool("trace-instr")
	cfg.StdinUart = c.Bool("stdin-uart")
	cfg.CaptureUart = c.Bool("capture-uart")
	cfg.ManufacturingMode = c.Bool("manufacturing")
	cfg.VendorPKHash = c.String("vendor-pk-hash")
	cfg.OwnerPKHash = c.String("owner-pk-hash")
	rev, err := parseRev(c.String("hw-rev"))
	if err != nil {
		return nil, err
	}
	cfg.HwRevision = rev
	applyOverrides(c, &cfg.Mem)

	lcfg := log.DefaultConfig()
	if c.Bool("v") {
		lcfg.Level = log.DebugLevel
	}
	cfg.Logger = log.NewWithConfig(lcfg)
	return cfg, nil
}

func runAction(c *cli.Context) error {
	cfg, err := buildConfig(c)
	if err != nil {
		return err
	}
	logger := cfg.Logger

	e, err := socorn.New(cfg)
	if err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		socorn.RequestShutdown()
	}()

	if cfg.StdinUart && isatty.IsTerminal(os.Stdin.Fd()) {
		go pumpStdin(e)
	}

	if e.DebugMode() {
		logger.Info("gdb server listening", log.Int("port", e.DebugPort()))
		if err := e.RunDebugServer(); err != nil {
			logger.Debug("gdb session ended", log.Err(err))
		}
	}

	verdict := e.Verdict()
	for socorn.Running() && !verdict.Terminal() {
		verdict = e.Step()
		if verdict == models.VerdictBreak {
			logger.Warn("break with no debugger attached", log.Uint32("pc", e.PC()))
			break
		}
	}

	if cfg.CaptureUart {
		buf := make([]byte, 4096)
		for {
			n, err := e.DrainUart(buf)
			if n > 0 {
				os.Stdout.Write(buf[:n])
			}
			if err != nil {
				break
			}
		}
	}

	code := 0
	if verdict == models.VerdictExitFailure || verdict == models.VerdictBreak {
		code = 1
	}
	e.Close()
	if code != 0 {
		os.Exit(code)
	}
	return nil
}

func pumpStdin(e *socorn.Emulator) {
	buf := make([]byte, 256)
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			e.FeedUart(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

func traceAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return errors.Wrap(models.ErrInvalidArgument, "no trace file given")
	}
	f, err := os.Open(c.Args().Get(0))
	if err != nil {
		return errors.Wrap(err, "failed to open trace")
	}
	tr, err := trace.NewReader(f)
	if err != nil {
		f.Close()
		return err
	}
	defer tr.Close()

	h := tr.Header
	fmt.Printf("# %s trace v%d, hw %d.%d.%d\n", h.Arch, h.Version, h.Major, h.Minor, h.Patch)
	for {
		fr, err := tr.Next()
		if err != nil {
			break
		}
		fmt.Printf("0x%08x: %08x  %s\n", fr.PC, fr.Instr, rv32.Disas(fr.PC, fr.Instr))
	}
	return nil
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// printError prints an error, and a stacktrace if available.
func printError(err error) {
	fmt.Fprintf(os.Stderr, "%s\n", strings.Repeat("-", 40))
	fmt.Fprintf(os.Stderr, "Error: %s\n", err)
	st, ok := err.(stackTracer)
	if !ok {
		return
	}
	// parse full path and method name for each stack frame
	var frames [][]string
	for _, f := range st.StackTrace() {
		fullpath := ""
		fileline := fmt.Sprintf("%s:%d", f, f)
		method := fmt.Sprintf("%n", f)

		frame := fmt.Sprintf("%+s", f)
		tmp := strings.SplitN(frame, "\n", 3)
		if len(tmp) == 2 {
			pathsplit := strings.Split(tmp[0], "/")
			method = pathsplit[len(pathsplit)-1]
			fullpath = strings.TrimSpace(tmp[1])
		}
		frames = append(frames, []string{fullpath, fileline, method})
		if method == "main.main" {
			break
		}
	}
	// calculate column widths
	widths := make([]int, 3)
	for _, f := range frames {
		for i, s := range f {
			if len(s) > widths[i] {
				widths[i] = len(s)
			}
		}
	}
	// print pretty stacktrace
	for _, f := range frames {
		method := f[2]
		for i := 0; i < 2; i++ {
			if widths[i] > 0 {
				pad := strings.Repeat(" ", widths[i]-len(f[i]))
				fmt.Fprintf(os.Stderr, "%s%s | ", f[i], pad)
			}
		}
		fmt.Fprintf(os.Stderr, "%s()\n", method)
	}
}
