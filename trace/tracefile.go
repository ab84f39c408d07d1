// Package trace reads and writes instruction trace files: a packed
// header followed by a snappy stream of per-step frames.
package trace

import (
	"io"
	"strings"

	"github.com/golang/snappy"
	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"

	"github.com/emucraft/socorn/models"
)

var TRACE_MAGIC = "SCTR"

const TraceArch = "rv32im"

type TraceHeader struct {
	// MAGIC ("SCTR")
	Magic string `struc:"[4]byte"`
	// file format version
	Version uint32

	// Emulated core. Right-null-padded.
	Arch string `struc:"[8]byte"`

	// Hardware revision the emulator was configured with.
	Major uint16
	Minor uint16
	Patch uint16
}

// Frame records one retired instruction.
type Frame struct {
	PC    uint32
	Instr uint32
}

type TraceWriter struct {
	w, zw io.WriteCloser
}

func NewWriter(w io.WriteCloser, rev models.HwRevision) (*TraceWriter, error) {
	header := &TraceHeader{
		Magic:   TRACE_MAGIC,
		Version: 1,
		Arch:    TraceArch,
		Major:   rev.Major,
		Minor:   rev.Minor,
		Patch:   rev.Patch,
	}
	if err := struc.Pack(w, header); err != nil {
		return nil, errors.Wrap(err, "failed to pack header")
	}
	zw := snappy.NewBufferedWriter(w)
	return &TraceWriter{w: w, zw: zw}, nil
}

// write a frame at a time
func (t *TraceWriter) Step(pc, instr uint32) error {
	return struc.Pack(t.zw, &Frame{PC: pc, Instr: instr})
}

func (t *TraceWriter) Close() {
	t.zw.Close()
	t.w.Close()
}

type TraceReader struct {
	r      io.ReadCloser
	zr     *snappy.Reader
	Header TraceHeader
}

func NewReader(r io.ReadCloser) (*TraceReader, error) {
	t := &TraceReader{r: r}
	if err := struc.Unpack(r, &t.Header); err != nil {
		return nil, errors.Wrap(err, "failed to unpack header")
	}
	if t.Header.Magic != TRACE_MAGIC {
		return nil, errors.New("invalid trace file magic")
	}
	t.Header.Arch = strings.TrimRight(t.Header.Arch, "\x00")
	t.zr = snappy.NewReader(r)
	return t, nil
}

func (t *TraceReader) Next() (Frame, error) {
	var f Frame
	err := struc.Unpack(t.zr, &f)
	return f, err
}

func (t *TraceReader) Close() {
	t.zr.Reset(nil)
	t.r.Close()
}
