package models

import (
	"fmt"
	"strings"

	"github.com/mgutz/ansi"
)

// StatusDiff renders the register file with the digits that changed
// since the previous snapshot highlighted. The monitor console prints
// one after each step.
type StatusDiff struct {
	M     Machine
	Names []string

	old []uint32
}

var chSame = ansi.ColorCode("default:default")
var chNew = ansi.ColorCode("default+bu:default")

const regHexWidth = 8

func colorPad(s, color string, pad int) string {
	length := len(s)
	s = color + s + ansi.Reset
	if length < pad {
		s = strings.Repeat(" ", pad-length) + s
	}
	return s
}

type Change struct {
	Name     string
	Old, New uint32
}

func (c *Change) Changed() bool {
	return c.Old != c.New
}

type changeMask struct {
	oldHex, newHex string
	changed        bool
}

// mask splits the hex rendering into runs of matching and differing
// digits so only the digits that moved get highlighted.
func (c *Change) mask() []changeMask {
	s1 := fmt.Sprintf("%08x", c.New)
	s2 := fmt.Sprintf("%08x", c.Old)
	pos := 0
	matching := true
	masks := make([]changeMask, 0, len(s1))
	for i := range s1 {
		if (s1[i] == s2[i]) != matching {
			if i > pos {
				masks = append(masks, changeMask{
					newHex:  s1[pos:i],
					oldHex:  s2[pos:i],
					changed: !matching,
				})
				pos = i
			}
			matching = !matching
		}
	}
	if pos < len(s1) {
		masks = append(masks, changeMask{
			newHex:  s1[pos:],
			oldHex:  s2[pos:],
			changed: !matching,
		})
	}
	return masks
}

func (c *Change) String(color bool) string {
	var out []string
	lineStart := fmt.Sprintf("%4s 0x", c.Name)
	if c.Changed() {
		if color {
			out = append(out, fmt.Sprintf("%s 0x", colorPad(c.Name, chNew, 4)))
			for _, m := range c.mask() {
				col := chSame
				if m.changed {
					col = chNew
				}
				out = append(out, col+m.newHex)
			}
			out = append(out, ansi.Reset)
		} else {
			out = append(out, fmt.Sprintf(lineStart+"%08x*", c.New))
		}
	} else {
		out = append(out, fmt.Sprintf(lineStart+"%08x ", c.New))
	}
	return strings.Join(out, "")
}

// Render returns the register file plus pc, four columns, column-major
// like a hardware debugger listing. The first render against an empty
// snapshot marks every nonzero register as changed.
func (s *StatusDiff) Render(color bool) string {
	n := s.M.NumRegs()
	changes := make([]*Change, 0, n+1)
	cur := make([]uint32, n+1)
	for i := 0; i < n; i++ {
		v, err := s.M.Reg(i)
		if err != nil {
			continue
		}
		cur[i] = v
		name := fmt.Sprintf("x%d", i)
		if i < len(s.Names) {
			name = s.Names[i]
		}
		var old uint32
		if s.old != nil {
			old = s.old[i]
		}
		changes = append(changes, &Change{Name: name, Old: old, New: v})
	}
	pc := s.M.PC()
	cur[n] = pc
	var oldPC uint32
	if s.old != nil {
		oldPC = s.old[n]
	}
	changes = append(changes, &Change{Name: "pc", Old: oldPC, New: pc})
	s.old = cur

	var out []string
	printRow := func(row []*Change) {
		for _, c := range row {
			out = append(out, c.String(color), " ")
		}
		if len(row) > 0 {
			out = append(out, "\n")
		}
	}
	cols := 4
	rows := len(changes) / cols
	row := make([]*Change, 0, cols)
	for i := 0; i < rows; i++ {
		row = row[:0]
		for j := 0; j < cols; j++ {
			row = append(row, changes[j*rows+i])
		}
		printRow(row)
	}
	printRow(changes[rows*cols:])
	return strings.Join(out, "")
}
