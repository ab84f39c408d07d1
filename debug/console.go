package debug

import (
	"fmt"
	"io"
	"net"
	"sort"
	"strconv"

	"github.com/lunixbochs/argjoy"
	"github.com/lunixbochs/fvbommel-util/sortorder"
	"github.com/lunixbochs/readline"
	"github.com/mattn/go-shellwords"
	"github.com/retroenv/retrogolib/log"

	"github.com/emucraft/socorn/models"
	"github.com/emucraft/socorn/rv32"
)

// Monitor is a line console served over TCP for poking at a live
// machine: stepping, registers, memory, uart capture.
type Monitor struct {
	m      models.Machine
	logger *log.Logger
	stop   func() bool
}

func NewMonitor(m models.Machine, logger *log.Logger, stop func() bool) *Monitor {
	if stop == nil {
		stop = func() bool { return false }
	}
	return &Monitor{m: m, logger: logger, stop: stop}
}

type monCtx struct {
	io.ReadWriter
	m    models.Machine
	diff *models.StatusDiff
	stop func() bool
	done bool
}

func (c *monCtx) Printf(format string, a ...interface{}) (n int, err error) {
	return fmt.Fprintf(c, format, a...)
}

type monCommand struct {
	Name string
	Desc string
	Run  interface{}
}

var monCommands = make(map[string]*monCommand)

func mcmd(c *monCommand) *monCommand {
	monCommands[c.Name] = c
	return c
}

var aj = argjoy.NewArgjoy()

func init() {
	aj.Register(argjoy.IntToInt)
	aj.Register(monArgCodec)
}

// monArgCodec turns console words into command arguments.
func monArgCodec(arg interface{}, vals []interface{}) error {
	s, ok := vals[0].(string)
	if !ok {
		return argjoy.NoMatch
	}
	switch v := arg.(type) {
	case *uint32:
		n, err := strconv.ParseUint(s, 0, 32)
		if err != nil {
			return err
		}
		*v = uint32(n)
	case *int:
		n, err := strconv.ParseInt(s, 0, 0)
		if err != nil {
			return err
		}
		*v = int(n)
	case *string:
		*v = s
	default:
		return argjoy.NoMatch
	}
	return nil
}

var HelpCmd = mcmd(&monCommand{
	Name: "help",
	Desc: "List commands.",
	Run: func(c *monCtx) error {
		names := make([]string, 0, len(monCommands))
		for name := range monCommands {
			names = append(names, name)
		}
		sort.Sort(naturally(names))
		for _, name := range names {
			c.Printf("%-9s %s\n", name, monCommands[name].Desc)
		}
		return nil
	},
})

var StepCmd = mcmd(&monCommand{
	Name: "step",
	Desc: "Execute the next instruction(s).",
	Run: func(c *monCtx, args ...string) error {
		n := 1
		if len(args) > 0 {
			var err error
			if n, err = strconv.Atoi(args[0]); err != nil || n < 1 {
				return fmt.Errorf("bad step count %q", args[0])
			}
		}
		v := models.VerdictContinue
		for i := 0; i < n && v == models.VerdictContinue; i++ {
			v = c.m.Step()
		}
		c.Printf("%s", c.diff.Render(true))
		if v != models.VerdictContinue {
			c.Printf("stopped: %s\n", v)
		}
		return nil
	},
})

var ContinueCmd = mcmd(&monCommand{
	Name: "continue",
	Desc: "Run until the core stops.",
	Run: func(c *monCtx) error {
		v := models.VerdictContinue
		for i := 1; v == models.VerdictContinue; i++ {
			v = c.m.Step()
			if i%interruptPoll == 0 && c.stop() {
				break
			}
		}
		c.Printf("%s", c.diff.Render(true))
		c.Printf("stopped: %s\n", v)
		return nil
	},
})

var RegsCmd = mcmd(&monCommand{
	Name: "regs",
	Desc: "Display registers, highlighting changes.",
	Run: func(c *monCtx) error {
		c.Printf("%s", c.diff.Render(true))
		return nil
	},
})

var MemCmd = mcmd(&monCommand{
	Name: "mem",
	Desc: "Dump memory.",
	Run: func(c *monCtx, addr, size uint32) error {
		mem := make([]byte, size)
		if err := c.m.ReadMem(addr, mem); err != nil {
			return err
		}
		for _, line := range models.HexDump(addr, mem) {
			c.Printf("  %s\n", line)
		}
		return nil
	},
})

var SetCmd = mcmd(&monCommand{
	Name: "set",
	Desc: "Write a 32-bit word to memory.",
	Run: func(c *monCtx, addr, val uint32) error {
		var p [4]byte
		p[0] = byte(val)
		p[1] = byte(val >> 8)
		p[2] = byte(val >> 16)
		p[3] = byte(val >> 24)
		return c.m.WriteMem(addr, p[:])
	},
})

var MapCmd = mcmd(&monCommand{
	Name: "map",
	Desc: "Display memory regions.",
	Run: func(c *monCtx) error {
		regions := c.m.Regions()
		sort.Sort(regionList(regions))
		for _, r := range regions {
			c.Printf("  %-10s 0x%08x-0x%08x\n", r.Name, r.Addr, uint64(r.Addr)+uint64(r.Size))
		}
		return nil
	},
})

var UartCmd = mcmd(&monCommand{
	Name: "uart",
	Desc: "Drain captured uart output.",
	Run: func(c *monCtx) error {
		var buf [4096]byte
		n, err := c.m.DrainUart(buf[:])
		if err != nil {
			c.Printf("no uart output pending\n")
			return nil
		}
		c.Printf("%s", buf[:n])
		if n > 0 && buf[n-1] != '\n' {
			c.Printf("\n")
		}
		return nil
	},
})

var BreakCmd = mcmd(&monCommand{
	Name: "break",
	Desc: "Set a breakpoint.",
	Run: func(c *monCtx, addr uint32) error {
		c.m.AddBreak(addr)
		return nil
	},
})

var DelBreakCmd = mcmd(&monCommand{
	Name: "delbreak",
	Desc: "Remove a breakpoint.",
	Run: func(c *monCtx, addr uint32) error {
		c.m.DelBreak(addr)
		return nil
	},
})

var DisCmd = mcmd(&monCommand{
	Name: "dis",
	Desc: "Disassemble from an address.",
	Run: func(c *monCtx, addr, count uint32) error {
		var p [4]byte
		for i := uint32(0); i < count; i++ {
			pc := addr + i*4
			if err := c.m.ReadMem(pc, p[:]); err != nil {
				return err
			}
			instr := uint32(p[0]) | uint32(p[1])<<8 | uint32(p[2])<<16 | uint32(p[3])<<24
			c.Printf("  0x%08x: %s\n", pc, rv32.Disas(pc, instr))
		}
		return nil
	},
})

var QuitCmd = mcmd(&monCommand{
	Name: "quit",
	Desc: "Close the console.",
	Run: func(c *monCtx) error {
		c.done = true
		return nil
	},
})

type regionList []models.MemRegion

func (r regionList) Len() int           { return len(r) }
func (r regionList) Swap(i, j int)      { r[i], r[j] = r[j], r[i] }
func (r regionList) Less(i, j int) bool { return sortorder.NaturalLess(r[i].Name, r[j].Name) }

type naturally []string

func (n naturally) Len() int           { return len(n) }
func (n naturally) Swap(i, j int)      { n[i], n[j] = n[j], n[i] }
func (n naturally) Less(i, j int) bool { return sortorder.NaturalLess(n[i], n[j]) }

func runLine(c *monCtx, line string) error {
	args, err := shellwords.Parse(line)
	if err != nil {
		c.Printf("parse error: %v\n", err)
		return nil
	}
	if len(args) == 0 {
		return nil
	}
	name, args := args[0], args[1:]
	if cmd, ok := monCommands[name]; ok {
		out, err := aj.Call(cmd.Run, c, args)
		if err != nil {
			c.Printf("error: %v\n", err)
		}
		if len(out) > 0 {
			if err, ok := out[0].(error); ok {
				c.Printf("error: %v\n", err)
			}
		}
	} else {
		c.Printf("command not found.\n")
	}
	return nil
}

// Serve accepts one console client on ln and runs it to completion.
func (d *Monitor) Serve(ln net.Listener) error {
	c, err := ln.Accept()
	if err != nil {
		return err
	}
	d.Run(c)
	return nil
}

func (d *Monitor) Run(c net.Conn) {
	d.logger.Info("monitor client connected",
		log.String("addr", c.RemoteAddr().String()))

	stdin, err := c.(*net.TCPConn).File()
	if err != nil {
		d.logger.Error("error opening 'stdin' for monitor", err)
		return
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt: "> ",
		Stderr: c,
		Stdin:  stdin,
		Stdout: c,
	})
	if err != nil {
		d.logger.Error("error opening readline for monitor", err)
		return
	}
	ctx := &monCtx{
		ReadWriter: c,
		m:          d.m,
		diff:       &models.StatusDiff{M: d.m, Names: rv32.RegNames},
		stop:       d.stop,
	}
	for !ctx.done {
		line, err := rl.Readline()
		if err != nil {
			break
		}
		if err := runLine(ctx, line); err != nil {
			break
		}
	}
	stdin.Close()
	c.Close()
}
