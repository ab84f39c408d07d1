package trace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/emucraft/socorn/models"
)

func TestTraceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.trace")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	w, err := NewWriter(f, models.HwRevision{Major: 2, Minor: 1, Patch: 0})
	if err != nil {
		t.Fatal(err)
	}
	frames := []Frame{
		{PC: 0x80000000, Instr: 0x12345537},
		{PC: 0x80000004, Instr: 0x00500293},
		{PC: 0x80000008, Instr: 0x0000006f},
	}
	for _, fr := range frames {
		if err := w.Step(fr.PC, fr.Instr); err != nil {
			t.Fatal(err)
		}
	}
	w.Close()

	rf, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	r, err := NewReader(rf)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if r.Header.Arch != TraceArch {
		t.Errorf("arch = %q", r.Header.Arch)
	}
	if r.Header.Major != 2 || r.Header.Minor != 1 || r.Header.Patch != 0 {
		t.Errorf("rev = %d.%d.%d", r.Header.Major, r.Header.Minor, r.Header.Patch)
	}
	for i, want := range frames {
		got, err := r.Next()
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if got != want {
			t.Errorf("frame %d = %+v, want %+v", i, got, want)
		}
	}
	if _, err := r.Next(); err == nil {
		t.Fatal("expected end of stream")
	}
}

func TestTraceBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.trace")
	if err := os.WriteFile(path, []byte("NOPExxxxxxxxxxxxxxxxxxxx"), 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := NewReader(f); err == nil {
		t.Fatal("expected magic error")
	}
}
