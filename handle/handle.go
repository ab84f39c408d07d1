// Package handle exposes the emulator through caller-provided opaque
// storage, the shape a C embedding expects. The host allocates a block
// of Size() bytes at Align() alignment and passes its address to every
// call; the block itself only carries a magic, a generation count and
// a registry token, so foreign memory never holds Go pointers.
package handle

import (
	"sync"
	"unsafe"

	"github.com/pkg/errors"

	"github.com/emucraft/socorn"
	"github.com/emucraft/socorn/models"
)

type header struct {
	magic uint32
	gen   uint32
	token uint64
}

const (
	magicLive = 0x534F_434F
	magicDead = 0x4445_4144
)

var (
	mu       sync.Mutex
	nextTok  uint64 = 1
	nextGen  uint32
	registry = map[uint64]*socorn.Emulator{}
)

// Size is how many bytes of storage a handle needs.
func Size() uintptr { return unsafe.Sizeof(header{}) }

// Align is the required alignment of that storage.
func Align() uintptr { return unsafe.Alignof(header{}) }

func lookup(mem unsafe.Pointer) (*socorn.Emulator, error) {
	if mem == nil {
		return nil, errors.Wrap(models.ErrInvalidHandle, "nil handle")
	}
	h := (*header)(mem)
	switch h.magic {
	case magicLive:
	case magicDead:
		return nil, errors.Wrap(models.ErrInvalidHandle, "destroyed handle")
	default:
		return nil, errors.Wrap(models.ErrNotInitialized, "uninitialized handle")
	}
	mu.Lock()
	e := registry[h.token]
	mu.Unlock()
	if e == nil {
		return nil, errors.Wrap(models.ErrInvalidHandle, "stale handle")
	}
	return e, nil
}

// Init constructs an emulator in place. On failure the block is left
// untouched and no resources are retained.
func Init(mem unsafe.Pointer, cfg *models.Config) error {
	if mem == nil {
		return errors.Wrap(models.ErrInvalidArgument, "nil handle memory")
	}
	if cfg == nil {
		return errors.Wrap(models.ErrInvalidArgument, "nil config")
	}
	e, err := socorn.New(cfg)
	if err != nil {
		return err
	}
	mu.Lock()
	tok := nextTok
	nextTok++
	nextGen++
	gen := nextGen
	registry[tok] = e
	mu.Unlock()

	h := (*header)(mem)
	h.magic = magicLive
	h.gen = gen
	h.token = tok
	return nil
}

// Step advances the emulator one instruction. A handle that does not
// resolve reports a failed run rather than panicking, so a confused
// host sees a terminal verdict and stops.
func Step(mem unsafe.Pointer) models.StepVerdict {
	e, err := lookup(mem)
	if err != nil {
		return models.VerdictExitFailure
	}
	return e.Step()
}

func DrainUart(mem unsafe.Pointer, p []byte) (int, error) {
	e, err := lookup(mem)
	if err != nil {
		return 0, err
	}
	return e.DrainUart(p)
}

func RunDebugServer(mem unsafe.Pointer) error {
	e, err := lookup(mem)
	if err != nil {
		return err
	}
	return e.RunDebugServer()
}

func DebugMode(mem unsafe.Pointer) bool {
	e, err := lookup(mem)
	if err != nil {
		return false
	}
	return e.DebugMode()
}

func DebugPort(mem unsafe.Pointer) int {
	e, err := lookup(mem)
	if err != nil {
		return 0
	}
	return e.DebugPort()
}

func PC(mem unsafe.Pointer) (uint32, error) {
	e, err := lookup(mem)
	if err != nil {
		return 0, err
	}
	return e.PC(), nil
}

// Destroy releases the emulator behind the handle and poisons the
// block so later calls fail cleanly. nil and already-destroyed blocks
// are tolerated.
func Destroy(mem unsafe.Pointer) {
	if mem == nil {
		return
	}
	h := (*header)(mem)
	if h.magic != magicLive {
		return
	}
	mu.Lock()
	e := registry[h.token]
	delete(registry, h.token)
	mu.Unlock()

	h.magic = magicDead
	h.token = 0
	if e != nil {
		e.Close()
	}
}
