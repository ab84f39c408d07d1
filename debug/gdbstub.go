package debug

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/retroenv/retrogolib/log"

	"github.com/emucraft/socorn/models"
	"github.com/emucraft/socorn/rv32"
)

// interruptPoll is how many steps a continue runs between checks for a
// client interrupt or a shutdown request.
const interruptPoll = 0x1000

func escape(p []byte) []byte {
	out := make([]byte, 0, len(p))
	for _, c := range p {
		if c == '#' || c == '$' || c == '}' {
			out = append(out, '}')
			out = append(out, c^0x20)
		} else {
			out = append(out, c)
		}
	}
	return out
}

func unescape(p []byte) []byte {
	out := make([]byte, 0, len(p))
	escaped := false
	for _, c := range p {
		if escaped {
			out = append(out, c^0x20)
			escaped = false
		} else if c == '}' {
			escaped = true
		} else {
			out = append(out, c)
		}
	}
	return out
}

func checksum(p []byte) []byte {
	chk := 0
	for _, c := range p {
		chk = (chk + int(c)) % 256
	}
	return []byte(fmt.Sprintf("%02x", chk))
}

func parseRange(s string) (uint64, uint64) {
	tmp := strings.Split(s, ":")
	if len(tmp) == 0 {
		tmp = []string{s}
	}
	tmp = strings.Split(tmp[0], ",")
	if len(tmp) != 2 {
		return 0, 0
	}
	a, _ := strconv.ParseUint(tmp[0], 16, 0)
	b, _ := strconv.ParseUint(tmp[1], 16, 0)
	return a, b
}

// pcRegnum is the register number gdb uses for the rv32 pc.
const pcRegnum = 32

func targetXml() string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?>` +
		`<target version="1.0">` +
		`<architecture>riscv:rv32</architecture>` +
		`<feature name="org.gnu.gdb.riscv.cpu">`)
	for i, name := range rv32.RegNames {
		fmt.Fprintf(&b, `<reg name=%q bitsize="32" type="int" regnum="%d"/>`, name, i)
	}
	fmt.Fprintf(&b, `<reg name="pc" bitsize="32" type="code_ptr" regnum="%d"/>`, pcRegnum)
	b.WriteString(`</feature></target>`)
	return b.String()
}

// Gdbstub serves gdb remote protocol sessions against a machine. One
// client is served at a time.
type Gdbstub struct {
	m      models.Machine
	logger *log.Logger
	stop   func() bool

	mu   sync.Mutex
	conn net.Conn
}

func NewGdbstub(m models.Machine, logger *log.Logger, stop func() bool) *Gdbstub {
	if stop == nil {
		stop = func() bool { return false }
	}
	return &Gdbstub{m: m, logger: logger, stop: stop}
}

// Serve accepts one client on ln and runs the session to completion.
func (d *Gdbstub) Serve(ln net.Listener) error {
	c, err := ln.Accept()
	if err != nil {
		return errors.Wrap(err, "gdbstub accept failed")
	}
	d.Run(c)
	return nil
}

// Interrupt tears down the live session, if any.
func (d *Gdbstub) Interrupt() {
	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (d *Gdbstub) Run(c net.Conn) {
	d.logger.Info("gdb client connected", log.String("addr", c.RemoteAddr().String()))
	d.mu.Lock()
	d.conn = c
	d.mu.Unlock()
	(&gdbClient{
		Conn:  c,
		m:     d.m,
		stub:  d,
		tdesc: targetXml(),
	}).Run()
	d.mu.Lock()
	d.conn = nil
	d.mu.Unlock()
}

type gdbClient struct {
	net.Conn
	input     *bufio.Reader
	noAck     bool
	noAckTest bool
	stub      *Gdbstub
	m         models.Machine
	tdesc     string
}

func hex32(v uint32) string {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return hex.EncodeToString(tmp[:])
}

func (c *gdbClient) Send(s string) error {
	data := escape([]byte(s))
	data = []byte("$" + string(data) + "#" + string(checksum(data)))
	_, err := c.Write(data)
	return errors.Wrap(err, "gdbstub socket write failed")
}

func (c *gdbClient) reg(i int) uint32 {
	if i == pcRegnum {
		return c.m.PC()
	}
	v, _ := c.m.Reg(i)
	return v
}

func (c *gdbClient) setReg(i int, v uint32) error {
	if i == pcRegnum {
		c.m.SetPC(v)
		return nil
	}
	return c.m.SetReg(i, v)
}

var watchStopNames = map[int]string{
	models.WatchWrite:  "watch",
	models.WatchRead:   "rwatch",
	models.WatchAccess: "awatch",
}

// stopReply tells the client why execution stopped.
func (c *gdbClient) stopReply(v models.StepVerdict) {
	switch v {
	case models.VerdictExitSuccess:
		c.Send("W00")
	case models.VerdictExitFailure:
		c.Send("W01")
	default:
		if addr, kind, ok := c.m.LastWatch(); ok {
			c.Send(fmt.Sprintf("T05thread:1;%s:%x;", watchStopNames[kind], addr))
			return
		}
		c.Send(fmt.Sprintf("T05thread:1;%x:%s;", pcRegnum, hex32(c.m.PC())))
	}
}

// interrupted polls for a 0x03 byte without blocking the continue loop.
func (c *gdbClient) interrupted() bool {
	c.Conn.SetReadDeadline(time.Now().Add(time.Millisecond))
	defer c.Conn.SetReadDeadline(time.Time{})
	b, err := c.input.Peek(1)
	if err != nil || len(b) == 0 {
		return false
	}
	if b[0] == 0x03 {
		c.input.Discard(1)
		return true
	}
	return false
}

// cont drives the machine until something stops it: a verdict, a client
// interrupt, or a shutdown request.
func (c *gdbClient) cont() models.StepVerdict {
	for i := 1; ; i++ {
		v := c.m.Step()
		if v != models.VerdictContinue {
			return v
		}
		if i%interruptPoll == 0 {
			if c.stub.stop() || c.interrupted() {
				return models.VerdictBreak
			}
		}
	}
}

func (c *gdbClient) Handle(cmdb []byte) error {
	if len(cmdb) == 0 {
		return nil
	}
	b, rest := cmdb[0], string(cmdb[1:])
	var cmd, args string
	if strings.Contains(rest, ":") {
		tmp := strings.SplitN(rest, ":", 2)
		cmd, args = tmp[0], tmp[1]
	} else {
		cmd = rest
	}
	switch b {
	case 'q': // query
		switch cmd {
		case "Supported":
			c.Send("PacketSize=4000;qXfer:features:read+;QStartNoAckMode+")
		case "Attached":
			c.Send("1")
		case "Symbol":
			c.Send("OK")
		case "C":
			c.Send("QC1")
		case "fThreadInfo":
			c.Send("m1")
		case "sThreadInfo":
			c.Send("l")
		case "Xfer":
			if strings.HasPrefix(args, "features:read:target.xml:") {
				a, b := parseRange(args[strings.LastIndex(args, ":")+1:])
				if a < uint64(len(c.tdesc)) {
					if a+b > uint64(len(c.tdesc)) {
						b = uint64(len(c.tdesc)) - a
					}
					c.Send("m" + c.tdesc[a:a+b])
				} else {
					c.Send("l")
				}
			} else {
				c.Send("")
			}
		case "TStatus":
			c.Send("T0")
		case "Rcmd":
			c.Send("OK")
		default:
			c.Send("")
		}
	case 'Q': // set query
		switch cmd {
		case "StartNoAckMode":
			c.noAckTest = true
			c.Send("OK")
		default:
			c.Send("")
		}
	case 'v': // resume family, none supported
		c.Send("")
	case 'g': // read regs
		var out strings.Builder
		for i := 0; i <= pcRegnum; i++ {
			out.WriteString(hex32(c.reg(i)))
		}
		c.Send(out.String())
	case 'G': // write regs
		raw, err := hex.DecodeString(rest)
		if err != nil || len(raw) < 4*(pcRegnum+1) {
			c.Send("E01")
			break
		}
		for i := 0; i <= pcRegnum; i++ {
			c.setReg(i, binary.LittleEndian.Uint32(raw[4*i:]))
		}
		c.Send("OK")
	case 'p': // read one reg
		i, err := strconv.ParseUint(cmd, 16, 0)
		if err != nil || int(i) > pcRegnum {
			c.Send("")
			break
		}
		c.Send(hex32(c.reg(int(i))))
	case 'P': // write one reg
		tmp := strings.SplitN(cmd, "=", 2)
		if len(tmp) != 2 {
			c.Send("E01")
			break
		}
		i, err := strconv.ParseUint(tmp[0], 16, 0)
		raw, err2 := hex.DecodeString(tmp[1])
		if err != nil || err2 != nil || len(raw) != 4 || int(i) > pcRegnum {
			c.Send("E01")
			break
		}
		if err := c.setReg(int(i), binary.LittleEndian.Uint32(raw)); err != nil {
			c.Send("E01")
			break
		}
		c.Send("OK")
	case 'm': // read memory
		a, n := parseRange(rest)
		mem := make([]byte, n)
		if err := c.m.ReadMem(uint32(a), mem); err != nil {
			c.Send("E01")
		} else {
			c.Send(hex.EncodeToString(mem))
		}
	case 'M': // write memory
		a, _ := parseRange(rest)
		idx := strings.Index(rest, ":")
		if idx < 0 {
			c.Send("E01")
			break
		}
		data, err := hex.DecodeString(rest[idx+1:])
		if err != nil {
			c.Send("E01")
			break
		}
		if err := c.m.WriteMem(uint32(a), data); err != nil {
			c.Send("E01")
		} else {
			c.Send("OK")
		}
	case 'Z', 'z': // add/remove breakpoint or watchpoint
		args := strings.Split(rest, ",")
		if len(args) != 3 {
			c.Send("")
			break
		}
		kind, _ := strconv.Atoi(args[0])
		addr, _ := strconv.ParseUint(args[1], 16, 0)
		length, _ := strconv.ParseUint(args[2], 16, 0)
		switch kind {
		case 0, 1: // sw and hw breakpoints land in the same table
			if b == 'Z' {
				c.m.AddBreak(uint32(addr))
			} else {
				c.m.DelBreak(uint32(addr))
			}
			c.Send("OK")
		case models.WatchWrite, models.WatchRead, models.WatchAccess:
			var err error
			if b == 'Z' {
				err = c.m.AddWatch(uint32(addr), uint32(length), kind)
			} else {
				err = c.m.DelWatch(uint32(addr), uint32(length), kind)
			}
			if err != nil {
				c.Send("E01")
			} else {
				c.Send("OK")
			}
		default:
			c.Send("")
		}
	case 'c': // continue
		if cmd != "" {
			if a, err := strconv.ParseUint(cmd, 16, 0); err == nil {
				c.m.SetPC(uint32(a))
			}
		}
		c.stopReply(c.cont())
	case 's': // step
		if cmd != "" {
			if a, err := strconv.ParseUint(cmd, 16, 0); err == nil {
				c.m.SetPC(uint32(a))
			}
		}
		c.stopReply(c.m.Step())
	case '?': // last stop reason
		c.stopReply(c.m.Verdict())
	case 'H': // thread op
		c.Send("OK")
	case 'T': // thread alive
		c.Send("OK")
	case 'D': // detach
		c.Send("OK")
		return errors.New("detached")
	case 'k': // kill
		return errors.New("killed")
	default:
		c.Send("")
	}
	return nil
}

func (c *gdbClient) Run() {
	c.input = bufio.NewReader(c.Conn)
	var err error
	for {
		var b, chk []byte
		b, err = c.input.Peek(1)
		if err != nil {
			break
		}
		if b[0] == 0x03 {
			// stray interrupt outside a continue
			c.input.Discard(1)
			continue
		} else if b[0] == '+' || b[0] == '-' {
			// ack
			c.input.Discard(1)
			if c.noAckTest && b[0] == '+' {
				c.noAck = true
				c.noAckTest = false
			}
			continue
		}
		if b, err = c.input.ReadBytes('#'); err != nil {
			break
		}
		if chk, err = c.input.Peek(2); err != nil {
			break
		}
		c.input.Discard(2)

		data := b[1 : len(b)-1]
		if bytes.Equal(checksum(data), chk) {
			c.ack('+')
			if err = c.Handle(unescape(data)); err != nil {
				break
			}
		} else {
			c.ack('-')
		}
		if c.stub.stop() {
			break
		}
	}
	if err != nil {
		c.stub.logger.Debug("gdb session ended", log.Err(err))
	}
	c.Close()
}

func (c *gdbClient) ack(b byte) {
	if !c.noAck {
		c.Write([]byte{b})
	}
}
